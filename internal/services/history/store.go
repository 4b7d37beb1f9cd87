package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"Heimdall/internal/domain/models"
	domrepo "Heimdall/internal/domain/repository"
	"Heimdall/internal/services/stats"
	applogger "Heimdall/pkg/logger"
)

const (
	DefaultCapacity       = 1000
	DefaultSnapshotSize   = 100
	DefaultPersistTimeout = 2 * time.Second
)

// Store owns the bounded transaction window and the statistics derived from it.
// It is not safe for concurrent use; callers serialise access.
type Store struct {
	window []models.Transaction
	stats  models.WindowStatistics

	capacity       int
	snapshotSize   int
	persistTimeout time.Duration

	snapshots domrepo.SnapshotStore
	metrics   domrepo.Metrics
	l         *applogger.Logger
}

type Option func(*Store)

// WithCapacity sets the maximum window length.
func WithCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithSnapshotSize sets how many of the newest transactions are persisted.
func WithSnapshotSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.snapshotSize = n
		}
	}
}

// WithPersistTimeout bounds a single snapshot write.
func WithPersistTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.persistTimeout = d
		}
	}
}

// WithMetrics records persistence failures and window size.
func WithMetrics(m domrepo.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// NewStore creates an empty store. snapshots may be nil, in which case nothing is persisted.
func NewStore(snapshots domrepo.SnapshotStore, l *applogger.Logger, opts ...Option) *Store {
	s := &Store{
		capacity:       DefaultCapacity,
		snapshotSize:   DefaultSnapshotSize,
		persistTimeout: DefaultPersistTimeout,
		snapshots:      snapshots,
		l:              l,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.l == nil {
		s.l = applogger.Nop()
	}
	s.window = make([]models.Transaction, 0, s.capacity)
	return s
}

// Initialize replaces the window with seed (newest entries kept when seed exceeds capacity).
func (s *Store) Initialize(seed []models.Transaction) {
	if len(seed) > s.capacity {
		seed = seed[len(seed)-s.capacity:]
	}
	s.window = append(s.window[:0], seed...)
	s.recompute()
}

// Append adds txn, evicts the oldest entries beyond capacity and recomputes statistics.
func (s *Store) Append(txn models.Transaction) {
	s.window = append(s.window, txn)
	if excess := len(s.window) - s.capacity; excess > 0 {
		n := copy(s.window, s.window[excess:])
		s.window = s.window[:n]
	}
	s.recompute()
}

// Persist overwrites the snapshot with the newest transactions, most recent last.
func (s *Store) Persist(ctx context.Context) error {
	return s.SaveSnapshot(ctx, s.Snapshot())
}

// SaveSnapshot writes snap as the persisted snapshot. It touches no window state,
// so it may run outside the caller's lock on a copy taken from Snapshot.
func (s *Store) SaveSnapshot(ctx context.Context, snap []models.Transaction) error {
	if s.snapshots == nil {
		return nil
	}
	b, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.persistTimeout)
	defer cancel()
	if err := s.snapshots.Save(ctx, b); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Update appends txn and persists the snapshot. Persistence is best effort.
func (s *Store) Update(ctx context.Context, txn models.Transaction) {
	s.Append(txn)
	if err := s.Persist(ctx); err != nil {
		s.l.Warn("history snapshot not saved", applogger.Error(err))
		if s.metrics != nil {
			s.metrics.RecordError("persist")
		}
	}
}

// LoadFromStorage restores the window from the persisted snapshot, if any.
// Missing or unreadable snapshots leave the store untouched.
func (s *Store) LoadFromStorage(ctx context.Context) {
	if s.snapshots == nil {
		return
	}
	b, err := s.snapshots.Load(ctx)
	if err != nil {
		s.l.Warn("history snapshot not loaded", applogger.Error(err))
		if s.metrics != nil {
			s.metrics.RecordError("load")
		}
		return
	}
	if len(b) == 0 {
		return
	}
	var txns []models.Transaction
	if err := json.Unmarshal(b, &txns); err != nil {
		s.l.Warn("history snapshot corrupt", applogger.Error(err))
		return
	}
	valid := txns[:0]
	for i := range txns {
		if err := txns[i].Validate(); err != nil {
			s.l.Warn("history snapshot entry skipped",
				applogger.String("id", txns[i].ID),
				applogger.Error(err),
			)
			continue
		}
		valid = append(valid, txns[i])
	}
	s.Initialize(valid)
	s.l.Info("history loaded", applogger.Int("transactions", len(valid)))
}

// Stats returns the display summary of the window.
func (s *Store) Stats() models.HistoryStats {
	return models.HistoryStats{
		TransactionsCount: len(s.window),
		AvgAmount:         s.stats.Amount.Mean,
		StdAmount:         s.stats.Amount.Std,
		MinAmount:         s.stats.Amount.Min,
		MaxAmount:         s.stats.Amount.Max,
	}
}

// Statistics returns a copy of the full window statistics.
func (s *Store) Statistics() models.WindowStatistics { return s.stats }

// Window returns a copy of the window in arrival order.
func (s *Store) Window() []models.Transaction {
	out := make([]models.Transaction, len(s.window))
	copy(out, s.window)
	return out
}

// Snapshot returns a copy of the newest snapshotSize transactions.
func (s *Store) Snapshot() []models.Transaction {
	w := s.window
	if len(w) > s.snapshotSize {
		w = w[len(w)-s.snapshotSize:]
	}
	out := make([]models.Transaction, len(w))
	copy(out, w)
	return out
}

// Len is the current window size.
func (s *Store) Len() int { return len(s.window) }

// Capacity is the maximum window size.
func (s *Store) Capacity() int { return s.capacity }

// Phase reports whether the window is empty, warming up or active for minHistory.
func (s *Store) Phase(minHistory int) models.HistoryPhase {
	switch n := len(s.window); {
	case n == 0:
		return models.PhaseEmpty
	case n < minHistory:
		return models.PhaseWarming
	default:
		return models.PhaseActive
	}
}

// Reset empties the window and zeroes statistics. The persisted snapshot is left alone.
func (s *Store) Reset() {
	s.window = s.window[:0]
	s.stats = models.WindowStatistics{}
}

func (s *Store) recompute() {
	s.stats = stats.Compute(s.window)
	if s.metrics != nil {
		s.metrics.RecordHistorySize(len(s.window))
	}
}
