package bencode

import (
	"bytes"
	"strconv"
)

// Encode serializes a Value tree to canonical bencode. For any valid
// decoded input b, Encode(Decode(b)) reproduces b bytewise (spec.md
// §8's round-trip property), since Decode already enforces sorted,
// unique dictionary keys and Encode relies on that invariant rather
// than re-sorting (re-sorting a tree built by hand via NewDict has
// already happened in NewDict).
func Encode(v Value) []byte {
	var buf bytes.Buffer
	encodeInto(&buf, v)
	return buf.Bytes()
}

func encodeInto(buf *bytes.Buffer, v Value) {
	switch v.Kind {
	case KindInt:
		buf.WriteByte('i')
		buf.WriteString(strconv.FormatInt(v.Int, 10))
		buf.WriteByte('e')
	case KindBytes:
		buf.WriteString(strconv.Itoa(len(v.Bytes)))
		buf.WriteByte(':')
		buf.Write(v.Bytes)
	case KindList:
		buf.WriteByte('l')
		for _, item := range v.List {
			encodeInto(buf, item)
		}
		buf.WriteByte('e')
	case KindDict:
		buf.WriteByte('d')
		for _, e := range v.Dict {
			encodeInto(buf, NewBytes(e.Key))
			encodeInto(buf, e.Value)
		}
		buf.WriteByte('e')
	}
}
