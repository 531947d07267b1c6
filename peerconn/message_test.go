package peerconn

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRequestRoundTrip(t *testing.T) {
	msg := EncodeRequest(1, 2, 3)
	req, err := msg.DecodeRequest()
	require.NoError(t, err)
	require.Equal(t, RequestPayload{Index: 1, Offset: 2, Length: 3}, req)
}

func TestEncodeDecodeHaveRoundTrip(t *testing.T) {
	msg := EncodeHave(42)
	index, err := msg.DecodeHave()
	require.NoError(t, err)
	require.Equal(t, uint32(42), index)
}

func TestEncodeDecodePieceRoundTrip(t *testing.T) {
	msg := EncodePiece(5, 16384, []byte("blockdata"))
	p, err := msg.DecodePiece()
	require.NoError(t, err)
	require.Equal(t, uint32(5), p.Index)
	require.Equal(t, uint32(16384), p.Offset)
	require.Equal(t, []byte("blockdata"), p.Data)
}

func TestEncodeDecodeExtendedRoundTrip(t *testing.T) {
	msg := EncodeExtended(3, []byte("d1:ae"))
	subID, payload, err := msg.DecodeExtended()
	require.NoError(t, err)
	require.Equal(t, uint8(3), subID)
	require.Equal(t, []byte("d1:ae"), payload)
}

func TestKeepAliveEncodesToFourZeroBytes(t *testing.T) {
	require.Equal(t, []byte{0, 0, 0, 0}, KeepAlive.encode())
}

func TestReadMessageParsesKeepAlive(t *testing.T) {
	buf := bytes.NewReader([]byte{0, 0, 0, 0})
	msg, err := readMessage(buf)
	require.NoError(t, err)
	require.True(t, msg.IsKeepAlive)
}

func TestReadMessageRoundTripsEncodedMessage(t *testing.T) {
	original := EncodeHave(7)
	buf := bytes.NewReader(original.encode())
	msg, err := readMessage(buf)
	require.NoError(t, err)
	require.Equal(t, Have, msg.ID)
	index, err := msg.DecodeHave()
	require.NoError(t, err)
	require.Equal(t, uint32(7), index)
}

func TestReadMessageRejectsOversizedLength(t *testing.T) {
	var lenBuf [4]byte
	lenBuf[0] = 0xFF
	buf := bytes.NewReader(lenBuf[:])
	_, err := readMessage(buf)
	require.Error(t, err)
	pcErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, ErrOversizedMessage, pcErr.Kind)
}

func TestDecodeRequestRejectsWrongLength(t *testing.T) {
	msg := Message{ID: Request, Payload: []byte{1, 2, 3}}
	_, err := msg.DecodeRequest()
	require.Error(t, err)
}
