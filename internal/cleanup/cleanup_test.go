package cleanup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePurger struct {
	remaining int
	calls     int
	cutoffs   []time.Time
	err       error
}

func (f *fakePurger) PurgeResolved(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	f.calls++
	f.cutoffs = append(f.cutoffs, cutoff)
	if f.err != nil {
		return 0, f.err
	}
	n := min(limit, f.remaining)
	f.remaining -= n
	return n, nil
}

func jakarta(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Jakarta")
	if err != nil {
		return time.FixedZone("WIB", 7*3600)
	}
	return loc
}

func TestNextRun(t *testing.T) {
	loc := jakarta(t)
	s := NewService(&fakePurger{}, loc)

	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before 2 AM", time.Date(2024, 3, 10, 1, 30, 0, 0, loc), time.Date(2024, 3, 10, 2, 0, 0, 0, loc)},
		{"exactly 2 AM", time.Date(2024, 3, 10, 2, 0, 0, 0, loc), time.Date(2024, 3, 11, 2, 0, 0, 0, loc)},
		{"afternoon", time.Date(2024, 3, 10, 15, 0, 0, 0, loc), time.Date(2024, 3, 11, 2, 0, 0, 0, loc)},
		{"UTC input", time.Date(2024, 3, 9, 20, 0, 0, 0, time.UTC), time.Date(2024, 3, 11, 2, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.want.Equal(s.NextRun(tt.now)), "got %v", s.NextRun(tt.now))
		})
	}
}

func TestRunOnceDrainsInBatches(t *testing.T) {
	store := &fakePurger{remaining: 60}
	s := NewService(store, time.UTC)
	now := time.Date(2024, 3, 10, 2, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	n, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 60, n)
	assert.Equal(t, 3, store.calls)
	assert.True(t, store.cutoffs[0].Equal(now.Add(-30*24*time.Hour)))
}

func TestRunOnceStopsAtBatchCap(t *testing.T) {
	store := &fakePurger{remaining: 10000}
	s := NewService(store, time.UTC)

	n, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, maxBatchesPerRun*maxDeletionPerRun, n)
	assert.Equal(t, maxBatchesPerRun, store.calls)
}

func TestRunOnceReportsStoreError(t *testing.T) {
	store := &fakePurger{err: errors.New("database is locked")}
	s := NewService(store, time.UTC)

	_, err := s.RunOnce(context.Background())
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	s := NewService(&fakePurger{}, time.UTC)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
