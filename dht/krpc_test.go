package dht

import (
	"testing"

	"github.com/lvbealr/torrentd/ids"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeQueryRoundTrip(t *testing.T) {
	var local ids.NodeID
	local[0] = 0xAB
	payload := EncodeQuery([]byte{0x00, 0x01}, "ping", PingArg(local))

	msg, err := Decode(payload)
	require.NoError(t, err)
	q, ok := msg.(*Query)
	require.True(t, ok)
	require.Equal(t, "ping", q.Method)
	idStr, _ := q.Args.GetString("id")
	require.Equal(t, local[:], []byte(idStr))
}

func TestEncodeDecodeResponseRoundTrip(t *testing.T) {
	ret := PingArg(ids.NodeID{0x01})
	payload := EncodeResponse([]byte{0x00, 0x02}, ret)

	msg, err := Decode(payload)
	require.NoError(t, err)
	r, ok := msg.(*Response)
	require.True(t, ok)
	require.Equal(t, []byte{0x00, 0x02}, r.TxID)
}

func TestEncodeDecodeErrorRoundTrip(t *testing.T) {
	payload := EncodeError([]byte{0x00, 0x03}, ErrProtocol, "bad token")

	msg, err := Decode(payload)
	require.NoError(t, err)
	e, ok := msg.(*ErrorMsg)
	require.True(t, ok)
	require.Equal(t, int64(ErrProtocol), e.Code)
	require.Equal(t, "bad token", e.Message)
}

func TestDecodeRejectsMissingTransactionID(t *testing.T) {
	_, err := Decode([]byte("d1:yi1ee"))
	require.Error(t, err)
}

func TestTxIDRoundTrip(t *testing.T) {
	id, ok := txIDFromBytes(txIDToBytes(0xdeadbeef))
	require.True(t, ok)
	require.Equal(t, uint32(0xdeadbeef), uint32(id))
}
