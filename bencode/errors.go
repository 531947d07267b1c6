package bencode

import "fmt"

// ErrorKind enumerates the precise parse-error taxonomy spec.md §7
// requires: every decode failure pinpoints both a kind and a byte
// position, mirroring original_source's bip_bencode/src/decode.rs and
// src/bencode/parse.rs.
type ErrorKind int

const (
	BytesEmpty ErrorKind = iota
	InvalidByte
	InvalidIntParse
	InvalidIntZeroPadding
	InvalidIntNegativeZero
	InvalidIntNoDelimiter
	InvalidLengthNegative
	InvalidLengthOverflow
	InvalidUnmatchedStart
	InvalidUnmatchedEnd
	InvalidKey
	InvalidBytesExpected
	InvalidValueExpected
)

func (k ErrorKind) String() string {
	switch k {
	case BytesEmpty:
		return "BytesEmpty"
	case InvalidByte:
		return "InvalidByte"
	case InvalidIntParse:
		return "InvalidIntParse"
	case InvalidIntZeroPadding:
		return "InvalidIntZeroPadding"
	case InvalidIntNegativeZero:
		return "InvalidIntNegativeZero"
	case InvalidIntNoDelimiter:
		return "InvalidIntNoDelimiter"
	case InvalidLengthNegative:
		return "InvalidLengthNegative"
	case InvalidLengthOverflow:
		return "InvalidLengthOverflow"
	case InvalidUnmatchedStart:
		return "InvalidUnmatchedStart"
	case InvalidUnmatchedEnd:
		return "InvalidUnmatchedEnd"
	case InvalidKey:
		return "InvalidKey"
	case InvalidBytesExpected:
		return "InvalidBytesExpected"
	case InvalidValueExpected:
		return "InvalidValueExpected"
	default:
		return "Unknown"
	}
}

// ParseError is returned by Decode; it never panics on untrusted input.
type ParseError struct {
	Kind ErrorKind
	Pos  int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("bencode: %s at byte %d", e.Kind, e.Pos)
}

func newErr(kind ErrorKind, pos int) error {
	return &ParseError{Kind: kind, Pos: pos}
}
