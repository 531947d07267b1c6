package bencode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeGeneral(t *testing.T) {
	input := []byte("d0:12:zero_len_key8:location17:udp://test.com:806:numberi500500ee")
	v, err := DecodeFull(input)
	require.NoError(t, err)

	zero, ok := v.GetString("")
	require.True(t, ok)
	require.Equal(t, "zero_len_key", zero)

	loc, ok := v.GetString("location")
	require.True(t, ok)
	require.Equal(t, "udp://test.com:80", loc)

	num, ok := v.GetInt("number")
	require.True(t, ok)
	require.Equal(t, int64(500500), num)
}

func TestDecodeLeadingZeroInt(t *testing.T) {
	_, err := DecodeFull([]byte("i0500e"))
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, InvalidIntZeroPadding, pe.Kind)
}

func TestDecodeNegativeZero(t *testing.T) {
	_, err := DecodeFull([]byte("i-0e"))
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, InvalidIntNegativeZero, pe.Kind)
}

func TestDecodeUnsortedKeysRejected(t *testing.T) {
	_, err := DecodeFull([]byte("d1:bi1e1:ai2ee"))
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, InvalidKey, pe.Kind)
}

func TestDecodeDuplicateKeysRejected(t *testing.T) {
	_, err := DecodeFull([]byte("d1:ai1e1:ai2ee"))
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, InvalidKey, pe.Kind)
}

func TestRoundTrip(t *testing.T) {
	inputs := []string{
		"d3:bar4:spam3:fooi42ee",
		"l4:spam4:eggse",
		"i-42e",
		"5:hello",
		"de",
		"le",
	}
	for _, in := range inputs {
		v, n, err := Decode([]byte(in))
		require.NoError(t, err)
		require.Equal(t, len(in), n)
		require.Equal(t, in, string(Encode(v)))
	}
}

func TestDecodeEmptyIsError(t *testing.T) {
	_, _, err := Decode(nil)
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, BytesEmpty, pe.Kind)
}
