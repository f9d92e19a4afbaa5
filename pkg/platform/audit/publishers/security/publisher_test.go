package security

import (
	"context"
	"errors"
	"testing"
	"time"

	audit "shepherd/pkg/platform/audit"
	"shepherd/pkg/platform/audit/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingStore struct{ memory.InMemoryStore }

func (f *failingStore) Append(context.Context, audit.Event) error {
	return errors.New("store down")
}

func TestPublisher_FlushPersistsInOrder(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := New(store)

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := range 3 {
		pub.Emit(context.Background(), audit.SecurityEvent{
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Subject:   "limiter",
			Action:    audit.EventRateLimiterUnavailable,
		})
	}
	require.Equal(t, 3, pub.Pending())

	pub.Flush(context.Background())

	assert.Zero(t, pub.Pending())
	events, err := store.ListBySubject(context.Background(), "limiter")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, base.Add(2*time.Second), events[0].Timestamp)
	assert.Equal(t, audit.CategorySecurity, events[0].Category)
	assert.Equal(t, string(audit.SeverityWarning), events[0].Decision)
}

func TestPublisher_OverflowDropsOldest(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := New(store, WithCapacity(2))

	for _, subject := range []string{"a", "b", "c"} {
		pub.Emit(context.Background(), audit.SecurityEvent{Subject: subject, Action: audit.EventPickupAccessDenied})
	}

	assert.Equal(t, int64(1), pub.Dropped())
	pub.Flush(context.Background())

	recent, err := store.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	subjects := make([]string, 0, len(recent))
	for _, e := range recent {
		subjects = append(subjects, e.Subject)
	}
	assert.ElementsMatch(t, []string{"b", "c"}, subjects)
}

func TestPublisher_StoreFailureDoesNotBlock(t *testing.T) {
	pub := New(&failingStore{})
	pub.Emit(context.Background(), audit.SecurityEvent{Subject: "x", Action: audit.EventLedgerChainBroken})

	pub.Flush(context.Background())
	assert.Zero(t, pub.Pending())
}

func TestPublisher_RunDrainsOnCancel(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := New(store, WithFlushInterval(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = pub.Run(ctx)
		close(done)
	}()

	pub.Emit(context.Background(), audit.SecurityEvent{Subject: "late", Action: audit.EventPickupAccessDenied})
	cancel()
	<-done

	events, err := store.ListBySubject(context.Background(), "late")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
