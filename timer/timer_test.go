package timer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAfterFiresCallback(t *testing.T) {
	s := New()
	var fired int32
	s.After(10*time.Millisecond, func() { atomic.StoreInt32(&fired, 1) })

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&fired) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, 0, s.Len())
}

func TestCancelPreventsFiring(t *testing.T) {
	s := New()
	var fired int32
	tok := s.After(30*time.Millisecond, func() { atomic.StoreInt32(&fired, 1) })
	s.Cancel(tok)

	time.Sleep(60 * time.Millisecond)
	require.Equal(t, int32(0), atomic.LoadInt32(&fired))
	require.Equal(t, 0, s.Len())
}

func TestCancelIsIdempotent(t *testing.T) {
	s := New()
	tok := s.After(10*time.Millisecond, func() {})
	s.Cancel(tok)
	require.NotPanics(t, func() { s.Cancel(tok) })
}

func TestCancelAllStopsEveryTimer(t *testing.T) {
	s := New()
	var fired int32
	for i := 0; i < 5; i++ {
		s.After(20*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	}
	require.Equal(t, 5, s.Len())
	s.CancelAll()
	require.Equal(t, 0, s.Len())

	time.Sleep(40 * time.Millisecond)
	require.Equal(t, int32(0), atomic.LoadInt32(&fired))
}

func TestLenTracksPendingDeadlines(t *testing.T) {
	s := New()
	require.Equal(t, 0, s.Len())
	tok := s.After(time.Minute, func() {})
	require.Equal(t, 1, s.Len())
	s.Cancel(tok)
	require.Equal(t, 0, s.Len())
}
