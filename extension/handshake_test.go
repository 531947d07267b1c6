package extension

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandshakeEncodeDecodeRoundTrip(t *testing.T) {
	h := NewHandshake()
	h.SubIDs[UtMetadata] = 1
	h.MetadataSize = 4096

	decoded, err := DecodeHandshake(h.Encode())
	require.NoError(t, err)
	require.Equal(t, uint8(1), decoded.SubIDs[UtMetadata])
	require.Equal(t, int64(4096), decoded.MetadataSize)
}

func TestMergeTheirsUpdatesRatherThanReplaces(t *testing.T) {
	p := NewPeerInfo(NewHandshake())

	first := NewHandshake()
	first.SubIDs[UtMetadata] = 1
	p.MergeTheirs(first)

	second := NewHandshake()
	second.SubIDs[UtPex] = 2
	p.MergeTheirs(second)

	id, ok := p.TheirSubID(UtMetadata)
	require.True(t, ok)
	require.Equal(t, uint8(1), id)

	id, ok = p.TheirSubID(UtPex)
	require.True(t, ok)
	require.Equal(t, uint8(2), id)
}

func TestSupportsUtMetadataRequiresBothSidesAndKnownSize(t *testing.T) {
	ours := NewHandshake()
	ours.SubIDs[UtMetadata] = 1
	p := NewPeerInfo(ours)
	require.False(t, p.SupportsUtMetadata())

	theirs := NewHandshake()
	theirs.SubIDs[UtMetadata] = 3
	p.MergeTheirs(theirs)
	require.False(t, p.SupportsUtMetadata(), "metadata size still unknown")

	theirsWithSize := NewHandshake()
	theirsWithSize.MetadataSize = 1024
	p.MergeTheirs(theirsWithSize)
	require.True(t, p.SupportsUtMetadata())
}
