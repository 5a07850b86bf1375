package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/trailguard/audit-ledger/config"
	"github.com/trailguard/audit-ledger/models"
	"github.com/trailguard/audit-ledger/repositories"
	"github.com/trailguard/audit-ledger/services/ledger"
	"go.uber.org/zap"
)

// memStore backs the repository fakes with plain maps. Rows are copied on
// every read and write, and transactions snapshot the container maps on
// Begin and restore them on Rollback, so tests observe the same
// all-or-nothing behavior the real database gives the service.
type memStore struct {
	mu       sync.Mutex
	streams  map[string]*models.AuditStream
	events   map[uuid.UUID][]*models.AuditEvent
	sessions map[uuid.UUID]*models.EditSession

	insertEventErr   error
	updateSessionErr error
}

func newMemStore() *memStore {
	return &memStore{
		streams:  make(map[string]*models.AuditStream),
		events:   make(map[uuid.UUID][]*models.AuditEvent),
		sessions: make(map[uuid.UUID]*models.EditSession),
	}
}

type memSnapshot struct {
	streams  map[string]*models.AuditStream
	events   map[uuid.UUID][]*models.AuditEvent
	sessions map[uuid.UUID]*models.EditSession
}

func (st *memStore) snapshot() memSnapshot {
	st.mu.Lock()
	defer st.mu.Unlock()

	snap := memSnapshot{
		streams:  make(map[string]*models.AuditStream, len(st.streams)),
		events:   make(map[uuid.UUID][]*models.AuditEvent, len(st.events)),
		sessions: make(map[uuid.UUID]*models.EditSession, len(st.sessions)),
	}
	for k, v := range st.streams {
		snap.streams[k] = v
	}
	for k, v := range st.events {
		snap.events[k] = v[:len(v):len(v)]
	}
	for k, v := range st.sessions {
		snap.sessions[k] = v
	}
	return snap
}

func (st *memStore) restore(snap memSnapshot) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.streams = snap.streams
	st.events = snap.events
	st.sessions = snap.sessions
}

func streamKeyOf(streamType models.StreamType, streamKey string) string {
	return string(streamType) + "|" + streamKey
}

type memTxManager struct {
	store *memStore
}

func (m *memTxManager) Begin(ctx context.Context) (repositories.Transaction, error) {
	return &memTx{ctx: ctx, store: m.store, snap: m.store.snapshot()}, nil
}

func (m *memTxManager) InTransaction(ctx context.Context, fn func(ctx context.Context, tx repositories.Transaction) error) error {
	tx, err := m.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx.Context(), tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type memTx struct {
	ctx   context.Context
	store *memStore
	snap  memSnapshot
}

func (t *memTx) Commit() error            { return nil }
func (t *memTx) Rollback() error          { t.store.restore(t.snap); return nil }
func (t *memTx) Context() context.Context { return t.ctx }

type memStreamRepo struct {
	store *memStore
}

func (r *memStreamRepo) Resolve(_ context.Context, streamType models.StreamType, streamKey string) (*models.AuditStream, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	key := streamKeyOf(streamType, streamKey)
	if s, ok := r.store.streams[key]; ok {
		cp := *s
		return &cp, nil
	}
	s := models.NewAuditStream(streamType, streamKey)
	r.store.streams[key] = s
	cp := *s
	return &cp, nil
}

func (r *memStreamRepo) Lookup(_ context.Context, streamType models.StreamType, streamKey string) (*models.AuditStream, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if s, ok := r.store.streams[streamKeyOf(streamType, streamKey)]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, fmt.Errorf("stream %s/%s: %w", streamType, streamKey, repositories.ErrNotFound)
}

func (r *memStreamRepo) GetByID(_ context.Context, id uuid.UUID) (*models.AuditStream, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, s := range r.store.streams {
		if s.ID == id {
			cp := *s
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("stream %s: %w", id, repositories.ErrNotFound)
}

func (r *memStreamRepo) List(_ context.Context, streamType *models.StreamType, limit, offset int) ([]*models.AuditStream, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	out := make([]*models.AuditStream, 0, len(r.store.streams))
	for _, s := range r.store.streams {
		if streamType != nil && s.StreamType != *streamType {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	return pageSlice(out, limit, offset), nil
}

func (r *memStreamRepo) ListActiveSince(_ context.Context, _ time.Time, limit int) ([]*models.AuditStream, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	out := make([]*models.AuditStream, 0, len(r.store.streams))
	for _, s := range r.store.streams {
		if len(r.store.events[s.ID]) == 0 {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	return pageSlice(out, limit, 0), nil
}

func (r *memStreamRepo) WithTx(repositories.Transaction) repositories.StreamRepository { return r }

type memEventRepo struct {
	store *memStore
}

func (r *memEventRepo) Insert(_ context.Context, event *models.AuditEvent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if r.store.insertEventErr != nil {
		return r.store.insertEventErr
	}
	for _, existing := range r.store.events[event.StreamID] {
		if existing.Seq == event.Seq {
			return fmt.Errorf("seq %d on stream %s: %w", event.Seq, event.StreamID, repositories.ErrDuplicate)
		}
		if event.DedupeKey != nil && existing.DedupeKey != nil && *existing.DedupeKey == *event.DedupeKey {
			return fmt.Errorf("dedupe key %q on stream %s: %w", *event.DedupeKey, event.StreamID, repositories.ErrDuplicate)
		}
	}
	cp := *event
	r.store.events[event.StreamID] = append(r.store.events[event.StreamID], &cp)
	return nil
}

func (r *memEventRepo) GetLastForStream(_ context.Context, streamID uuid.UUID) (*models.AuditEvent, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	chain := r.store.events[streamID]
	if len(chain) == 0 {
		return nil, nil
	}
	cp := *chain[len(chain)-1]
	return &cp, nil
}

func (r *memEventRepo) GetByDedupeKey(_ context.Context, streamID uuid.UUID, dedupeKey string) (*models.AuditEvent, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, event := range r.store.events[streamID] {
		if event.DedupeKey != nil && *event.DedupeKey == dedupeKey {
			cp := *event
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memEventRepo) GetByID(_ context.Context, id uuid.UUID) (*models.AuditEvent, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	for _, chain := range r.store.events {
		for _, event := range chain {
			if event.ID == id {
				cp := *event
				return &cp, nil
			}
		}
	}
	return nil, fmt.Errorf("event %s: %w", id, repositories.ErrNotFound)
}

func (r *memEventRepo) ListByStream(_ context.Context, streamID uuid.UUID, limit, offset int) ([]*models.AuditEvent, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	chain := r.store.events[streamID]
	out := make([]*models.AuditEvent, 0, len(chain))
	for _, event := range chain {
		cp := *event
		out = append(out, &cp)
	}
	return pageSlice(out, limit, offset), nil
}

func (r *memEventRepo) CountByStream(_ context.Context, streamID uuid.UUID) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return int64(len(r.store.events[streamID])), nil
}

func (r *memEventRepo) WithTx(repositories.Transaction) repositories.EventRepository { return r }

type memSessionRepo struct {
	store *memStore
}

func (r *memSessionRepo) Insert(_ context.Context, session *models.EditSession) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if _, ok := r.store.sessions[session.ID]; ok {
		return fmt.Errorf("session %s: %w", session.ID, repositories.ErrDuplicate)
	}
	cp := *session
	r.store.sessions[session.ID] = &cp
	return nil
}

func (r *memSessionRepo) GetByID(_ context.Context, id uuid.UUID) (*models.EditSession, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	session, ok := r.store.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, repositories.ErrNotFound)
	}
	cp := *session
	return &cp, nil
}

func (r *memSessionRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.EditSession, error) {
	return r.GetByID(ctx, id)
}

func (r *memSessionRepo) Update(_ context.Context, session *models.EditSession) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if r.store.updateSessionErr != nil {
		return r.store.updateSessionErr
	}
	if _, ok := r.store.sessions[session.ID]; !ok {
		return fmt.Errorf("session %s: %w", session.ID, repositories.ErrNotFound)
	}
	cp := *session
	r.store.sessions[session.ID] = &cp
	return nil
}

func (r *memSessionRepo) ListBySubject(_ context.Context, subjectID string, limit, offset int) ([]*models.EditSession, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	out := make([]*models.EditSession, 0, len(r.store.sessions))
	for _, session := range r.store.sessions {
		if session.SubjectID != subjectID {
			continue
		}
		cp := *session
		out = append(out, &cp)
	}
	return pageSlice(out, limit, offset), nil
}

func (r *memSessionRepo) WithTx(repositories.Transaction) repositories.SessionRepository { return r }

func pageSlice[T any](in []T, limit, offset int) []T {
	if offset >= len(in) {
		return []T{}
	}
	in = in[offset:]
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}

// harness wires a workflow Service and a real ledger Service over the same
// memStore, so scenario tests exercise genuine chain hashing and sanitizer
// behavior end to end.
type harness struct {
	store    *memStore
	svc      *Service
	ledger   *ledger.Service
	sessions *memSessionRepo
}

func newHarness() *harness {
	store := newMemStore()
	txMgr := &memTxManager{store: store}
	streams := &memStreamRepo{store: store}
	events := &memEventRepo{store: store}
	sessions := &memSessionRepo{store: store}

	sanitizer := ledger.NewSanitizer(config.RedactionModeSafe, nil)
	ledgerSvc := ledger.NewService(streams, events, txMgr, sanitizer, nil, zap.NewNop())
	svc := NewService(sessions, ledgerSvc, txMgr, "workbench", zap.NewNop())

	return &harness{store: store, svc: svc, ledger: ledgerSvc, sessions: sessions}
}

// sessionEvents returns the committed audit events of a session's stream in
// insertion order.
func (h *harness) sessionEvents(sessionID uuid.UUID) []*models.AuditEvent {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()

	for _, stream := range h.store.streams {
		if stream.StreamType == models.StreamTypeEditSession && stream.StreamKey == sessionID.String() {
			return h.store.events[stream.ID]
		}
	}
	return nil
}

// storedSession returns the committed row for a session.
func (h *harness) storedSession(sessionID uuid.UUID) *models.EditSession {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	return h.store.sessions[sessionID]
}
