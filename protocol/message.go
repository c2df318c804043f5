// Package protocol is the wire format shared by consumers and providers.
//
// Every frame starts with a fixed 22 byte header (big-endian):
//
//	magic(4) | version(1) | headerLength(2) | totalLength(4) |
//	kind/code(1) | serializeCode(1) | compressCode(1) | requestId(8)
//
// followed by totalLength - headerLength payload bytes.
package protocol

import (
	"fmt"

	"github.com/PwzXxm/nrpc-lite/rpcerr"
)

// RequestKind representing the type of a request frame
type RequestKind byte

const (
	KindCall      RequestKind = 1
	KindHeartbeat RequestKind = 2
)

func (k RequestKind) String() string {
	switch k {
	case KindCall:
		return "CALL"
	case KindHeartbeat:
		return "HEARTBEAT"
	}
	return fmt.Sprintf("KIND(%d)", byte(k))
}

// ResponseCode representing the outcome carried in a response frame
type ResponseCode byte

const (
	CodeSuccess          ResponseCode = 1
	CodeFail             ResponseCode = 2
	CodeSuccessHeartbeat ResponseCode = 3
	CodeRateLimited      ResponseCode = 4
	CodeNotFound         ResponseCode = 5
	CodeClosing          ResponseCode = 6
)

var codeNames = map[ResponseCode]string{
	CodeSuccess:          "SUCCESS",
	CodeFail:             "FAIL",
	CodeSuccessHeartbeat: "SUCCESS_HEARTBEAT",
	CodeRateLimited:      "RATE_LIMITED",
	CodeNotFound:         "NOT_FOUND",
	CodeClosing:          "CLOSING",
}

func (c ResponseCode) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("CODE(%d)", byte(c))
}

// Successful reports codes that resolve a call normally
func (c ResponseCode) Successful() bool {
	return c == CodeSuccess || c == CodeSuccessHeartbeat
}

// Err converts a non-successful code into a typed error, nil otherwise
func (c ResponseCode) Err() error {
	var kind rpcerr.Kind
	switch c {
	case CodeSuccess, CodeSuccessHeartbeat:
		return nil
	case CodeRateLimited, CodeClosing:
		kind = rpcerr.KindRejected
	case CodeNotFound:
		kind = rpcerr.KindNotFound
	case CodeFail:
		kind = rpcerr.KindRemote
	default:
		kind = rpcerr.KindProtocol
	}
	return rpcerr.New(kind, "provider answered %v", c).WithCode(byte(c))
}

// RequestPayload identifies the remote method and carries its arguments.
// Each element of ParamValues is serialized on its own with the request's
// serializer.
type RequestPayload struct {
	InterfaceName string
	MethodName    string
	ParamTypes    []string
	ParamValues   [][]byte
	ReturnType    string
}

// Request is immutable once built. Payload is nil for heartbeats.
// Timestamp is local bookkeeping and does not travel on the wire.
type Request struct {
	ID            uint64
	Kind          RequestKind
	SerializeCode byte
	CompressCode  byte
	Timestamp     int64
	Payload       *RequestPayload
}

// Response answers the request whose ID equals RequestID. Body is the
// return value serialized with SerializeCode, nil when there is none.
type Response struct {
	RequestID     uint64
	Code          ResponseCode
	SerializeCode byte
	CompressCode  byte
	Body          []byte
}

// Reply builds a response for req that echoes its codec codes
func Reply(req *Request, code ResponseCode, body []byte) *Response {
	return &Response{
		RequestID:     req.ID,
		Code:          code,
		SerializeCode: req.SerializeCode,
		CompressCode:  req.CompressCode,
		Body:          body,
	}
}
