// Package bencode implements the bencode value tree described in
// spec.md §6: a recursive sum type over Int/Bytes/List/Dict with typed
// accessors, plus a decoder that enforces canonical bencode (sorted,
// unique dictionary keys; no leading-zero or negative-zero integers;
// no leading-zero length prefixes) per spec.md §9's resolved Open
// Question. Struct-shaped values (metainfo, HTTP tracker responses) are
// still unmarshaled through github.com/jackpal/bencode-go (see
// struct.go), the same library the teacher depends on; this package
// supplies the stricter value-tree layer bencode-go does not provide,
// and KRPC messages are built and parsed with that value tree.
package bencode

import "sort"

// Kind discriminates the four bencode value shapes.
type Kind int

const (
	KindInt Kind = iota
	KindBytes
	KindList
	KindDict
)

// DictEntry is one key/value pair of a Dict, kept in sorted order.
type DictEntry struct {
	Key   []byte
	Value Value
}

// Value is a single node of the bencode value tree. Only the field
// matching Kind is meaningful.
type Value struct {
	Kind  Kind
	Int   int64
	Bytes []byte
	List  []Value
	Dict  []DictEntry
}

// NewInt wraps an integer as a Value.
func NewInt(i int64) Value { return Value{Kind: KindInt, Int: i} }

// NewBytes wraps a byte string as a Value.
func NewBytes(b []byte) Value { return Value{Kind: KindBytes, Bytes: b} }

// NewList wraps a list as a Value.
func NewList(l []Value) Value { return Value{Kind: KindList, List: l} }

// NewDict builds a Dict value, sorting entries by key as canonical
// bencode requires. Duplicate keys are rejected by Decode, not here;
// callers constructing a tree programmatically are trusted not to
// duplicate keys.
func NewDict(entries []DictEntry) Value {
	sort.Slice(entries, func(i, j int) bool {
		return string(entries[i].Key) < string(entries[j].Key)
	})
	return Value{Kind: KindDict, Dict: entries}
}

// AsInt returns the Int value, if this is an Int node.
func (v Value) AsInt() (int64, bool) {
	if v.Kind != KindInt {
		return 0, false
	}
	return v.Int, true
}

// AsBytes returns the Bytes value, if this is a Bytes node.
func (v Value) AsBytes() ([]byte, bool) {
	if v.Kind != KindBytes {
		return nil, false
	}
	return v.Bytes, true
}

// AsList returns the List value, if this is a List node.
func (v Value) AsList() ([]Value, bool) {
	if v.Kind != KindList {
		return nil, false
	}
	return v.List, true
}

// AsDict returns the Dict entries, if this is a Dict node.
func (v Value) AsDict() ([]DictEntry, bool) {
	if v.Kind != KindDict {
		return nil, false
	}
	return v.Dict, true
}

// Get looks up a key in a Dict node. Returns ok=false if v is not a
// Dict or the key is absent.
func (v Value) Get(key string) (Value, bool) {
	if v.Kind != KindDict {
		return Value{}, false
	}
	k := []byte(key)
	// Dict entries are sorted; binary search would do, but dictionaries
	// here are small (KRPC args, extended-handshake maps) so a linear
	// scan keeps this readable.
	for _, e := range v.Dict {
		if string(e.Key) == string(k) {
			return e.Value, true
		}
	}
	return Value{}, false
}

// GetString is a convenience accessor chaining Get and AsBytes.
func (v Value) GetString(key string) (string, bool) {
	val, ok := v.Get(key)
	if !ok {
		return "", false
	}
	b, ok := val.AsBytes()
	return string(b), ok
}

// GetInt is a convenience accessor chaining Get and AsInt.
func (v Value) GetInt(key string) (int64, bool) {
	val, ok := v.Get(key)
	if !ok {
		return 0, false
	}
	return val.AsInt()
}
