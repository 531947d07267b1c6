package peerconn

import (
	"net"
	"testing"
	"time"

	"github.com/lvbealr/torrentd/ids"
	"github.com/stretchr/testify/require"
)

func pipeSessions(t *testing.T, numPieces int) (*Session, *Session) {
	t.Helper()
	a, b := net.Pipe()
	peerA, err := ids.Random()
	require.NoError(t, err)
	peerB, err := ids.Random()
	require.NoError(t, err)
	ih, err := ids.Random()
	require.NoError(t, err)

	sa := New(a, ids.PeerID(peerA), ids.InfoHash(ih), numPieces, 8, nil)
	sb := New(b, ids.PeerID(peerB), ids.InfoHash(ih), numPieces, 8, nil)
	t.Cleanup(func() {
		sa.Close()
		sb.Close()
	})
	return sa, sb
}

func TestSendDeliversMessageAsEvent(t *testing.T) {
	sa, sb := pipeSessions(t, 10)

	require.NoError(t, sa.Send(EncodeHave(3)))

	select {
	case ev := <-sb.Events:
		require.Equal(t, EventMessage, ev.Kind)
		require.Equal(t, Have, ev.Message.ID)
		index, err := ev.Message.DecodeHave()
		require.NoError(t, err)
		require.Equal(t, uint32(3), index)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
}

func TestChokeUnchokeUpdatesLocalState(t *testing.T) {
	sa, _ := pipeSessions(t, 10)

	require.True(t, sa.State().WeChoked)
	require.NoError(t, sa.Send(Simple(Unchoke)))
	require.False(t, sa.State().WeChoked)
}

func TestReceivingUnchokeUpdatesTheyChokedState(t *testing.T) {
	sa, sb := pipeSessions(t, 10)

	require.NoError(t, sa.Send(Simple(Unchoke)))
	select {
	case ev := <-sb.Events:
		require.Equal(t, Unchoke, ev.Message.ID)
	case <-time.After(time.Second):
		t.Fatal("no event received")
	}
	require.False(t, sb.State().TheyChoked)
}

func TestHaveWithOutOfRangeIndexDisconnects(t *testing.T) {
	sa, sb := pipeSessions(t, 4)

	require.NoError(t, sa.Send(EncodeHave(99)))

	select {
	case ev := <-sb.Events:
		require.Equal(t, EventDisconnected, ev.Kind)
		require.Error(t, ev.Err)
	case <-time.After(time.Second):
		t.Fatal("expected disconnect event")
	}
}

func TestBitFieldAfterHaveIsProtocolViolation(t *testing.T) {
	sa, sb := pipeSessions(t, 10)

	require.NoError(t, sa.Send(EncodeHave(1)))
	<-sb.Events // consume the Have event

	require.NoError(t, sa.Send(EncodeBitField([]byte{0xFF})))

	select {
	case ev := <-sb.Events:
		require.Equal(t, EventDisconnected, ev.Kind)
		pcErr, ok := ev.Err.(*Error)
		require.True(t, ok)
		require.Equal(t, ErrBitFieldAfterHave, pcErr.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected protocol violation disconnect")
	}
}
