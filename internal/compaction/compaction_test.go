package compaction

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/manpreetbhatti/trellis/internal/crdt"
	"github.com/manpreetbhatti/trellis/internal/store"
)

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "trellis.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func fragment(payload string) []byte {
	return crdt.AppendFrame(nil, []byte(payload))
}

// stateFrom loads a room the way the registry would and returns the
// resulting merged state.
func stateFrom(t *testing.T, s *store.Store, roomID string) *crdt.State {
	t.Helper()
	snapshot, updates, err := s.LoadRoom(roomID)
	require.NoError(t, err)

	state := crdt.NewState()
	if len(snapshot) > 0 {
		require.NoError(t, state.Apply(snapshot))
	}
	for _, u := range updates {
		require.NoError(t, state.Apply(u))
	}
	return state
}

func TestCompactRoomPreservesState(t *testing.T) {
	s := setupStore(t)
	for _, p := range []string{"u1", "u2", "u3", "u4", "u5"} {
		require.NoError(t, s.AppendUpdate("foo", fragment(p)))
	}
	before := stateFrom(t, s, "foo").Encode()

	svc := New(s, Config{UpdateThreshold: 3, KeepRecentUpdates: 2}, zaptest.NewLogger(t))
	require.NoError(t, svc.CompactRoom("foo"))

	// log shrank, state did not change
	count, err := s.UpdateCount("foo")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, before, stateFrom(t, s, "foo").Encode())
}

func TestCompactTwiceIsStable(t *testing.T) {
	s := setupStore(t)
	for _, p := range []string{"u1", "u2", "u3"} {
		require.NoError(t, s.AppendUpdate("foo", fragment(p)))
	}

	svc := New(s, Config{UpdateThreshold: 1, KeepRecentUpdates: 1}, zaptest.NewLogger(t))
	require.NoError(t, svc.CompactRoom("foo"))
	after1 := stateFrom(t, s, "foo").Encode()

	require.NoError(t, svc.CompactRoom("foo"))
	assert.Equal(t, after1, stateFrom(t, s, "foo").Encode())
}

func TestCompactSkipsCorruptRows(t *testing.T) {
	s := setupStore(t)
	require.NoError(t, s.AppendUpdate("foo", fragment("good")))
	require.NoError(t, s.AppendUpdate("foo", []byte{0, 0, 0, 99})) // truncated
	require.NoError(t, s.AppendUpdate("foo", fragment("also-good")))

	svc := New(s, Config{UpdateThreshold: 1, KeepRecentUpdates: 0}, zaptest.NewLogger(t))
	require.NoError(t, svc.CompactRoom("foo"))

	state := stateFrom(t, s, "foo")
	assert.Equal(t, 2, state.Len())
}

func TestRunCompactsOnTicks(t *testing.T) {
	s := setupStore(t)
	for i := 0; i < 4; i++ {
		require.NoError(t, s.AppendUpdate("foo", fragment(string(rune('a'+i)))))
	}

	mock := clock.NewMock()
	svc := newWithClock(s, Config{
		Interval:          time.Minute,
		UpdateThreshold:   3,
		KeepRecentUpdates: 1,
	}, mock, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	// initial pass runs without a tick
	require.Eventually(t, func() bool {
		count, err := s.UpdateCount("foo")
		return err == nil && count == 1
	}, 2*time.Second, 10*time.Millisecond)

	// grow past the threshold again, advance the clock
	for i := 0; i < 3; i++ {
		require.NoError(t, s.AppendUpdate("foo", fragment(string(rune('x'+i)))))
	}
	mock.Add(time.Minute)

	require.Eventually(t, func() bool {
		count, err := s.UpdateCount("foo")
		return err == nil && count == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	<-done
}
