package bencode

// Decode parses a single bencoded value from the start of data and
// returns it along with the number of bytes consumed. It implements
// canonical bencode: integers forbid leading zeros and "-0"; length
// prefixes forbid leading zeros and negative values; dictionary keys
// must be sorted ascending and unique. Every failure returns a
// *ParseError carrying the byte position of the first violated rule —
// Decode never panics on malformed input.
func Decode(data []byte) (Value, int, error) {
	if len(data) == 0 {
		return Value{}, 0, newErr(BytesEmpty, 0)
	}
	return decodeAt(data, 0)
}

func decodeAt(data []byte, pos int) (Value, int, error) {
	if pos >= len(data) {
		return Value{}, pos, newErr(InvalidValueExpected, pos)
	}
	switch data[pos] {
	case 'i':
		return decodeInt(data, pos)
	case 'l':
		return decodeList(data, pos)
	case 'd':
		return decodeDict(data, pos)
	default:
		if data[pos] >= '0' && data[pos] <= '9' {
			return decodeBytes(data, pos)
		}
		return Value{}, pos, newErr(InvalidByte, pos)
	}
}

// decodeInt parses "i<digits>e" starting at data[pos] == 'i'.
func decodeInt(data []byte, pos int) (Value, int, error) {
	start := pos
	i := pos + 1
	negative := false
	if i < len(data) && data[i] == '-' {
		negative = true
		i++
	}
	digitsStart := i
	for i < len(data) && data[i] >= '0' && data[i] <= '9' {
		i++
	}
	if i >= len(data) || data[i] != 'e' {
		return Value{}, start, newErr(InvalidIntNoDelimiter, start)
	}
	digits := data[digitsStart:i]
	if len(digits) == 0 {
		return Value{}, start, newErr(InvalidIntParse, start)
	}
	if len(digits) > 1 && digits[0] == '0' {
		return Value{}, start, newErr(InvalidIntZeroPadding, start)
	}
	if negative && digits[0] == '0' {
		return Value{}, start, newErr(InvalidIntNegativeZero, start)
	}
	var n int64
	for _, d := range digits {
		n = n*10 + int64(d-'0')
	}
	if negative {
		n = -n
	}
	return NewInt(n), i + 1, nil
}

// decodeBytes parses "<len>:<bytes>" starting at data[pos] being a digit.
func decodeBytes(data []byte, pos int) (Value, int, error) {
	start := pos
	i := pos
	for i < len(data) && data[i] >= '0' && data[i] <= '9' {
		i++
	}
	lenDigits := data[start:i]
	if len(lenDigits) > 1 && lenDigits[0] == '0' {
		return Value{}, start, newErr(InvalidLengthNegative, start)
	}
	if i >= len(data) || data[i] != ':' {
		return Value{}, start, newErr(InvalidBytesExpected, start)
	}
	var length int64
	for _, d := range lenDigits {
		length = length*10 + int64(d-'0')
		if length < 0 {
			return Value{}, start, newErr(InvalidLengthOverflow, start)
		}
	}
	i++ // skip ':'
	end := i + int(length)
	if length < 0 || end < i || end > len(data) {
		return Value{}, start, newErr(InvalidLengthOverflow, start)
	}
	return NewBytes(data[i:end]), end, nil
}

func decodeList(data []byte, pos int) (Value, int, error) {
	start := pos
	i := pos + 1
	var items []Value
	for {
		if i >= len(data) {
			return Value{}, start, newErr(InvalidUnmatchedStart, start)
		}
		if data[i] == 'e' {
			return Value{Kind: KindList, List: items}, i + 1, nil
		}
		v, next, err := decodeAt(data, i)
		if err != nil {
			return Value{}, i, err
		}
		items = append(items, v)
		i = next
	}
}

func decodeDict(data []byte, pos int) (Value, int, error) {
	start := pos
	i := pos + 1
	var entries []DictEntry
	var prevKey []byte
	for {
		if i >= len(data) {
			return Value{}, start, newErr(InvalidUnmatchedStart, start)
		}
		if data[i] == 'e' {
			return Value{Kind: KindDict, Dict: entries}, i + 1, nil
		}
		if data[i] < '0' || data[i] > '9' {
			return Value{}, i, newErr(InvalidKey, i)
		}
		keyVal, next, err := decodeBytes(data, i)
		if err != nil {
			return Value{}, i, err
		}
		key := keyVal.Bytes
		if prevKey != nil {
			cmp := compareBytes(prevKey, key)
			if cmp == 0 {
				return Value{}, i, newErr(InvalidKey, i)
			}
			if cmp > 0 {
				return Value{}, i, newErr(InvalidKey, i)
			}
		}
		prevKey = key
		i = next
		val, next2, err := decodeAt(data, i)
		if err != nil {
			return Value{}, i, err
		}
		entries = append(entries, DictEntry{Key: key, Value: val})
		i = next2
	}
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

// DecodeFull parses exactly one value and requires that it consumes the
// entire input; trailing bytes are an error (InvalidUnmatchedEnd at the
// first trailing byte).
func DecodeFull(data []byte) (Value, error) {
	v, n, err := Decode(data)
	if err != nil {
		return Value{}, err
	}
	if n != len(data) {
		return Value{}, newErr(InvalidUnmatchedEnd, n)
	}
	return v, nil
}
