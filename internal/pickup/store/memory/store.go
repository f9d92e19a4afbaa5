// Package memory is the in-process pickup ledger used by the memory driver and tests.
//
// RunInTx holds one write lock for the whole callback and stages writes until
// the callback returns nil, so a failed or cancelled transaction leaves no trace.
// Other in-process stores join through txhook: their writes are applied right
// after the ledger commit and dropped on rollback.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"shepherd/internal/pickup/models"
	"shepherd/internal/pickup/ports"
	id "shepherd/pkg/domain"
	dErrors "shepherd/pkg/domain-errors"
	"shepherd/pkg/platform/sentinel"
	"shepherd/pkg/platform/txhook"
)

const defaultTxTimeout = 5 * time.Second

type Store struct {
	mu         sync.RWMutex
	attendance map[id.AttendanceID]models.AttendanceRecord
	roster     map[id.ChildID][]models.AuthorizedPickupPerson
	entries    []models.PickupLogEntry
	byKey      map[string]int
	timeout    time.Duration
}

func New() *Store {
	return &Store{
		attendance: make(map[id.AttendanceID]models.AttendanceRecord),
		roster:     make(map[id.ChildID][]models.AuthorizedPickupPerson),
		byKey:      make(map[string]int),
		timeout:    defaultTxTimeout,
	}
}

// PutAttendance inserts or replaces an attendance record.
func (s *Store) PutAttendance(_ context.Context, record models.AttendanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attendance[record.ID] = record
	return nil
}

// AddRosterEntry appends to a child's roster.
func (s *Store) AddRosterEntry(_ context.Context, p models.AuthorizedPickupPerson) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roster[p.ChildID] = append(s.roster[p.ChildID], p)
	return nil
}

func (s *Store) GetAttendance(_ context.Context, attendanceID id.AttendanceID) (*models.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.attendance[attendanceID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &record, nil
}

func (s *Store) ListRoster(_ context.Context, childID id.ChildID) ([]models.AuthorizedPickupPerson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.roster[childID]), nil
}

func (s *Store) ListByChild(_ context.Context, childID id.ChildID, from, to *time.Time) ([]models.PickupLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.PickupLogEntry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if e.ChildID != childID {
			continue
		}
		if from != nil && e.RecordedAt.Before(*from) {
			continue
		}
		if to != nil && e.RecordedAt.After(*to) {
			continue
		}
		out = append(out, e)
	}
	// Append order is the tiebreak; the reverse walk above already put later
	// appends first, so a stable sort keeps it.
	slices.SortStableFunc(out, func(a, b models.PickupLogEntry) int {
		return b.RecordedAt.Compare(a.RecordedAt)
	})
	return out, nil
}

func (s *Store) ListByAttendance(_ context.Context, attendanceID id.AttendanceID) ([]models.PickupLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.PickupLogEntry
	for _, e := range s.entries {
		if e.AttendanceID == attendanceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx ports.LedgerTx) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	txCtx, joined := txhook.Open(ctx)
	tx := &memTx{store: s, checkouts: make(map[id.AttendanceID]time.Time)}
	if err := fn(txCtx, tx); err != nil {
		return err
	}
	// Nothing is applied if the caller gave up while fn ran.
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	tx.commit()
	joined.Run()
	return nil
}

// memTx stages writes on top of the locked store.
type memTx struct {
	store     *Store
	appended  []models.PickupLogEntry
	checkouts map[id.AttendanceID]time.Time
}

func (t *memTx) LockAttendance(_ context.Context, attendanceID id.AttendanceID) (*models.AttendanceRecord, error) {
	record, ok := t.store.attendance[attendanceID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if at, ok := t.checkouts[attendanceID]; ok {
		record.Status = models.StatusCheckedOut
		record.CheckedOutAt = &at
	}
	return &record, nil
}

func (t *memTx) FindByIdempotencyKey(_ context.Context, key string) (*models.PickupLogEntry, error) {
	if i, ok := t.store.byKey[key]; ok {
		e := t.store.entries[i]
		return &e, nil
	}
	for _, e := range t.appended {
		if e.IdempotencyKey == key {
			return &e, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (t *memTx) ListRoster(_ context.Context, childID id.ChildID) ([]models.AuthorizedPickupPerson, error) {
	return slices.Clone(t.store.roster[childID]), nil
}

func (t *memTx) LastEntry(_ context.Context, attendanceID id.AttendanceID) (*models.PickupLogEntry, error) {
	for i := len(t.appended) - 1; i >= 0; i-- {
		if t.appended[i].AttendanceID == attendanceID {
			e := t.appended[i]
			return &e, nil
		}
	}
	for i := len(t.store.entries) - 1; i >= 0; i-- {
		if t.store.entries[i].AttendanceID == attendanceID {
			e := t.store.entries[i]
			return &e, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (t *memTx) AppendEntry(ctx context.Context, entry *models.PickupLogEntry) error {
	if _, err := t.FindByIdempotencyKey(ctx, entry.IdempotencyKey); err == nil {
		return sentinel.ErrConflict
	}
	t.appended = append(t.appended, *entry)
	return nil
}

func (t *memTx) MarkCheckedOut(ctx context.Context, attendanceID id.AttendanceID, at time.Time) error {
	record, err := t.LockAttendance(ctx, attendanceID)
	if err != nil {
		return err
	}
	if !record.IsCheckedIn() {
		return sentinel.ErrConflict
	}
	t.checkouts[attendanceID] = at
	return nil
}

func (t *memTx) commit() {
	s := t.store
	for _, e := range t.appended {
		s.byKey[e.IdempotencyKey] = len(s.entries)
		s.entries = append(s.entries, e)
	}
	for attendanceID, at := range t.checkouts {
		record := s.attendance[attendanceID]
		record.Status = models.StatusCheckedOut
		record.CheckedOutAt = &at
		s.attendance[attendanceID] = record
	}
}
