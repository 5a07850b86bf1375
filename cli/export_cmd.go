package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/trailguard/audit-ledger/models"
	"github.com/trailguard/audit-ledger/services/ledger"
)

const exportPageSize = 500

func newExportCmd() *cobra.Command {
	var (
		streamType string
		streamKey  string
		outPath    string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a stream's events as JSON Lines",
		Long:  "Writes every event of one stream in seq order, one JSON object per line. Defaults to stdout.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st := models.StreamType(streamType)
			if !st.IsValid() {
				return fmt.Errorf("invalid stream type %q", streamType)
			}

			cfg, logger, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}

			svc, closeLedger, err := openLedger(cfg, logger)
			if err != nil {
				return err
			}
			defer closeLedger()

			if outPath == "" {
				_, err := exportStream(cmd.Context(), svc, st, streamKey, cmd.OutOrStdout())
				return err
			}

			f, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("create output file: %w", err)
			}

			exported, exportErr := exportStream(cmd.Context(), svc, st, streamKey, f)
			closeErr := f.Close()
			if exportErr != nil {
				return exportErr
			}
			if closeErr != nil {
				return fmt.Errorf("close output file: %w", closeErr)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "exported %d events to %s\n", exported, outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&streamType, "stream-type", "", "Stream type, e.g. RUN or EDIT_SESSION")
	cmd.Flags().StringVar(&streamKey, "stream-key", "", "Stream key within the stream type")
	cmd.Flags().StringVar(&outPath, "out", "", "Output file (defaults to stdout)")
	_ = cmd.MarkFlagRequired("stream-type")
	_ = cmd.MarkFlagRequired("stream-key")

	return cmd
}

func exportStream(ctx context.Context, svc *ledger.Service, streamType models.StreamType, streamKey string, out io.Writer) (int, error) {
	enc := json.NewEncoder(out)
	exported := 0

	for offset := 0; ; offset += exportPageSize {
		events, _, err := svc.ListEvents(ctx, streamType, streamKey, exportPageSize, offset)
		if err != nil {
			return exported, err
		}

		for _, event := range events {
			if err := enc.Encode(event); err != nil {
				return exported, fmt.Errorf("encode event seq %d: %w", event.Seq, err)
			}
			exported++
		}

		if len(events) < exportPageSize {
			break
		}
	}

	return exported, nil
}
