package dht

import (
	"fmt"

	"github.com/lvbealr/torrentd/bencode"
	"github.com/lvbealr/torrentd/ids"
)

// Error codes for KRPC error messages, per spec.md §6.
const (
	ErrGeneric       = 201
	ErrServer        = 202
	ErrProtocol      = 203
	ErrMethodUnknown = 204
)

// Query is a decoded KRPC query message ("y": "q").
type Query struct {
	TxID   []byte
	Method string
	Args   bencode.Value
}

// Response is a decoded KRPC response message ("y": "r").
type Response struct {
	TxID []byte
	Ret  bencode.Value
}

// ErrorMsg is a decoded KRPC error message ("y": "e").
type ErrorMsg struct {
	TxID    []byte
	Code    int64
	Message string
}

// EncodeQuery serializes a KRPC query.
func EncodeQuery(txID []byte, method string, args bencode.Value) []byte {
	root := bencode.NewDict([]bencode.DictEntry{
		{Key: []byte("t"), Value: bencode.NewBytes(txID)},
		{Key: []byte("y"), Value: bencode.NewBytes([]byte("q"))},
		{Key: []byte("q"), Value: bencode.NewBytes([]byte(method))},
		{Key: []byte("a"), Value: args},
	})
	return bencode.Encode(root)
}

// EncodeResponse serializes a KRPC response.
func EncodeResponse(txID []byte, ret bencode.Value) []byte {
	root := bencode.NewDict([]bencode.DictEntry{
		{Key: []byte("t"), Value: bencode.NewBytes(txID)},
		{Key: []byte("y"), Value: bencode.NewBytes([]byte("r"))},
		{Key: []byte("r"), Value: ret},
	})
	return bencode.Encode(root)
}

// EncodeError serializes a KRPC error message.
func EncodeError(txID []byte, code int64, message string) []byte {
	errList := bencode.NewList([]bencode.Value{
		bencode.NewInt(code),
		bencode.NewBytes([]byte(message)),
	})
	root := bencode.NewDict([]bencode.DictEntry{
		{Key: []byte("t"), Value: bencode.NewBytes(txID)},
		{Key: []byte("y"), Value: bencode.NewBytes([]byte("e"))},
		{Key: []byte("e"), Value: errList},
	})
	return bencode.Encode(root)
}

// Decode parses a raw KRPC datagram, returning exactly one of *Query,
// *Response, or *ErrorMsg.
func Decode(data []byte) (interface{}, error) {
	v, err := bencode.DecodeFull(data)
	if err != nil {
		return nil, fmt.Errorf("dht: krpc decode: %w", err)
	}
	tv, ok := v.Get("t")
	if !ok {
		return nil, fmt.Errorf("dht: krpc message missing \"t\"")
	}
	txID, _ := tv.AsBytes()

	yv, ok := v.Get("y")
	if !ok {
		return nil, fmt.Errorf("dht: krpc message missing \"y\"")
	}
	yBytes, _ := yv.AsBytes()
	switch string(yBytes) {
	case "q":
		qv, _ := v.Get("q")
		av, _ := v.Get("a")
		qBytes, _ := qv.AsBytes()
		return &Query{TxID: txID, Method: string(qBytes), Args: av}, nil
	case "r":
		rv, _ := v.Get("r")
		return &Response{TxID: txID, Ret: rv}, nil
	case "e":
		ev, ok := v.Get("e")
		if !ok || len(ev.List) < 2 {
			return nil, fmt.Errorf("dht: malformed krpc error message")
		}
		code, _ := ev.List[0].AsInt()
		msg, _ := ev.List[1].AsBytes()
		return &ErrorMsg{TxID: txID, Code: code, Message: string(msg)}, nil
	default:
		return nil, fmt.Errorf("dht: unknown krpc message type %q", yBytes)
	}
}

// NodesArg builds the "a" dict for a find_node query.
func NodesArg(id ids.NodeID, target ids.NodeID) bencode.Value {
	return bencode.NewDict([]bencode.DictEntry{
		{Key: []byte("id"), Value: bencode.NewBytes(id[:])},
		{Key: []byte("target"), Value: bencode.NewBytes(target[:])},
	})
}

// GetPeersArg builds the "a" dict for a get_peers query.
func GetPeersArg(id ids.NodeID, infoHash ids.InfoHash) bencode.Value {
	return bencode.NewDict([]bencode.DictEntry{
		{Key: []byte("id"), Value: bencode.NewBytes(id[:])},
		{Key: []byte("info_hash"), Value: bencode.NewBytes(infoHash[:])},
	})
}

// PingArg builds the "a" dict for a ping query.
func PingArg(id ids.NodeID) bencode.Value {
	return bencode.NewDict([]bencode.DictEntry{
		{Key: []byte("id"), Value: bencode.NewBytes(id[:])},
	})
}
