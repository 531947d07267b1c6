package mailbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSendReceiveFIFO(t *testing.T) {
	m := New(4, 4)
	require.NoError(t, m.Send("a"))
	require.NoError(t, m.Send("b"))

	got, err := m.Receive()
	require.NoError(t, err)
	require.Equal(t, "a", got)

	got, err = m.Receive()
	require.NoError(t, err)
	require.Equal(t, "b", got)
}

func TestPriorityLaneJumpsAheadOfNormalLane(t *testing.T) {
	m := New(4, 4)
	require.NoError(t, m.Send("normal-1"))
	require.NoError(t, m.SendPriority("priority-1"))

	got, err := m.Receive()
	require.NoError(t, err)
	require.Equal(t, "priority-1", got)

	got, err = m.Receive()
	require.NoError(t, err)
	require.Equal(t, "normal-1", got)
}

func TestTrySendReturnsErrFullWhenSaturated(t *testing.T) {
	m := New(1, 0)
	require.NoError(t, m.TrySend("fills it"))
	require.ErrorIs(t, m.TrySend("overflow"), ErrFull)
}

func TestSendBlocksUntilCapacityFrees(t *testing.T) {
	m := New(0, 0)
	done := make(chan error, 1)
	go func() { done <- m.Send("blocked") }()

	select {
	case <-done:
		t.Fatal("Send on an unbuffered mailbox must block until Receive")
	case <-time.After(20 * time.Millisecond):
	}

	got, err := m.Receive()
	require.NoError(t, err)
	require.Equal(t, "blocked", got)
	require.NoError(t, <-done)
}

func TestCloseDrainsBufferedThenReturnsErrClosed(t *testing.T) {
	m := New(2, 0)
	require.NoError(t, m.Send("x"))
	m.Close()

	got, err := m.Receive()
	require.NoError(t, err)
	require.Equal(t, "x", got)

	_, err = m.Receive()
	require.ErrorIs(t, err, ErrClosed)

	require.ErrorIs(t, m.Send("y"), ErrClosed)
}

func TestLenCountsBothLanes(t *testing.T) {
	m := New(4, 4)
	require.Equal(t, 0, m.Len())
	require.NoError(t, m.Send("n"))
	require.NoError(t, m.SendPriority("p"))
	require.Equal(t, 2, m.Len())
}
