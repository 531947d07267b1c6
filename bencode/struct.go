package bencode

import (
	"bytes"
	"io"

	bencodego "github.com/jackpal/bencode-go"
)

// UnmarshalStruct decodes bencoded data directly into a tagged struct,
// the way the teacher's torrent.go/parse.go use bencode-go. Reserved
// for shapes (metainfo, HTTP tracker responses) where struct tags are
// more convenient than walking the Value tree by hand.
func UnmarshalStruct(r io.Reader, v interface{}) error {
	return bencodego.Unmarshal(r, v)
}

// MarshalStruct encodes v (struct, map, or compatible type) to bencode.
func MarshalStruct(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := bencodego.Marshal(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
