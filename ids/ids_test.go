package ids

import "testing"

import "github.com/stretchr/testify/require"

func TestXorCommutesAndZero(t *testing.T) {
	a, err := Random()
	require.NoError(t, err)
	b, err := Random()
	require.NoError(t, err)

	require.Equal(t, XorNode(a, b), XorNode(b, a))
	require.Equal(t, NodeID{}, XorNode(a, a))
}

func TestLeadingZeroBitsBounds(t *testing.T) {
	a, err := Random()
	require.NoError(t, err)
	b, err := Random()
	require.NoError(t, err)

	lz := LeadingZeroBits(XorNode(a, b))
	require.GreaterOrEqual(t, lz, 0)
	require.LessOrEqual(t, lz, 159)
}

func TestLeadingZeroBitsAllZero(t *testing.T) {
	require.Equal(t, Size*8, LeadingZeroBits(NodeID{}))
}

func TestBitMatchesLeadingZeroBits(t *testing.T) {
	var id NodeID
	id[0] = 0b00100000 // third bit set (index 2)
	require.Equal(t, 2, LeadingZeroBits(id))
	require.Equal(t, 0, Bit(id, 0))
	require.Equal(t, 0, Bit(id, 1))
	require.Equal(t, 1, Bit(id, 2))
}

func TestLessOrdersByDistance(t *testing.T) {
	var target, near, far NodeID
	near[0] = 0x01
	far[0] = 0xF0
	require.True(t, Less(target, near, far))
	require.False(t, Less(target, far, near))
}
