package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/trailguard/audit-ledger/models"
	"github.com/trailguard/audit-ledger/services/ledger"
)

const verifyPageSize = 500

func newVerifyCmd() *cobra.Command {
	var (
		streamType  string
		streamKey   string
		all         bool
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Recompute and check stream hash chains",
		Long: `Recomputes payload and event digests for every event of the addressed
streams and checks each prev_event_hash link. Exits non-zero when any
chain is broken.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !all && (streamType == "" || streamKey == "") {
				return fmt.Errorf("either --all or both --stream-type and --stream-key are required")
			}
			if all && streamKey != "" {
				return fmt.Errorf("--stream-key cannot be combined with --all")
			}
			if concurrency < 1 {
				return fmt.Errorf("--concurrency must be at least 1")
			}

			var filter *models.StreamType
			if streamType != "" {
				st := models.StreamType(streamType)
				if !st.IsValid() {
					return fmt.Errorf("invalid stream type %q", streamType)
				}
				filter = &st
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

			if all {
				return verifyAll(cmd, svc, filter, concurrency)
			}
			return verifyOne(cmd, svc, *filter, streamKey)
		},
	}

	cmd.Flags().StringVar(&streamType, "stream-type", "", "Stream type, e.g. RUN or EDIT_SESSION")
	cmd.Flags().StringVar(&streamKey, "stream-key", "", "Stream key within the stream type")
	cmd.Flags().BoolVar(&all, "all", false, "Verify every stream, optionally filtered by --stream-type")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Streams verified in parallel with --all")

	return cmd
}

func verifyOne(cmd *cobra.Command, svc *ledger.Service, streamType models.StreamType, streamKey string) error {
	report, err := svc.VerifyStream(cmd.Context(), streamType, streamKey)
	if err != nil {
		return err
	}

	printReport(cmd, fmt.Sprintf("%s/%s", streamType, streamKey), report)
	if !report.OK {
		return fmt.Errorf("chain verification failed")
	}
	return nil
}

type verifyResult struct {
	stream *models.AuditStream
	report *ledger.VerifyReport
	err    error
}

func verifyAll(cmd *cobra.Command, svc *ledger.Service, filter *models.StreamType, concurrency int) error {
	ctx := cmd.Context()
	var total, broken, errored int

	for offset := 0; ; offset += verifyPageSize {
		streams, err := svc.ListStreams(ctx, filter, verifyPageSize, offset)
		if err != nil {
			return err
		}
		if len(streams) == 0 {
			break
		}

		// Verify the page in parallel, then print in listing order.
		results := make([]verifyResult, len(streams))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(concurrency)
		for i, stream := range streams {
			i, stream := i, stream
			g.Go(func() error {
				report, err := svc.VerifyStreamByID(gctx, stream.ID)
				results[i] = verifyResult{stream: stream, report: report, err: err}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		for _, res := range results {
			total++
			label := fmt.Sprintf("%s/%s", res.stream.StreamType, res.stream.StreamKey)
			if res.err != nil {
				errored++
				fmt.Fprintf(cmd.OutOrStdout(), "%s: error: %v\n", label, res.err)
				continue
			}
			printReport(cmd, label, res.report)
			if !res.report.OK {
				broken++
			}
		}

		if len(streams) < verifyPageSize {
			break
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "verified %d streams\n", total)
	if broken > 0 || errored > 0 {
		return fmt.Errorf("%d broken, %d errored of %d streams", broken, errored, total)
	}
	return nil
}

func printReport(cmd *cobra.Command, label string, report *ledger.VerifyReport) {
	out := cmd.OutOrStdout()
	if report.OK {
		fmt.Fprintf(out, "%s: ok (%d events)\n", label, report.Checked)
		return
	}

	fmt.Fprintf(out, "%s: FAILED (%d events, %d failures)\n", label, report.Checked, len(report.Failures))
	for _, f := range report.Failures {
		fmt.Fprintf(out, "  seq %d: %s\n", f.Seq, f.Reason)
	}
}
