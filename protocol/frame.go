package protocol

import (
	"encoding/binary"
	"io"

	"github.com/PwzXxm/nrpc-lite/rpcerr"
	"github.com/pkg/errors"
)

const (
	Magic          = "nrpc"
	Version        = 1
	HeaderLength   = 22
	MaxFrameLength = 1 << 20

	offVersion   = 4
	offHeaderLen = 5
	offTotalLen  = 7
	offKind      = 11
	offSerialize = 12
	offCompress  = 13
	offRequestID = 14

	// magic + version + header length + total length
	prefixLength = 11
)

// header is the decoded fixed part of a frame
type header struct {
	kindOrCode    byte
	serializeCode byte
	compressCode  byte
	requestID     uint64
	payload       []byte
}

func writeFrame(kindOrCode, serializeCode, compressCode byte, id uint64, payload []byte) ([]byte, error) {
	total := HeaderLength + len(payload)
	if total > MaxFrameLength {
		return nil, rpcerr.New(rpcerr.KindProtocol,
			"frame of %d bytes exceeds the %d bytes limit", total, MaxFrameLength)
	}
	buf := make([]byte, total)
	copy(buf, Magic)
	buf[offVersion] = Version
	binary.BigEndian.PutUint16(buf[offHeaderLen:], HeaderLength)
	binary.BigEndian.PutUint32(buf[offTotalLen:], uint32(total))
	buf[offKind] = kindOrCode
	buf[offSerialize] = serializeCode
	buf[offCompress] = compressCode
	binary.BigEndian.PutUint64(buf[offRequestID:], id)
	copy(buf[HeaderLength:], payload)
	return buf, nil
}

// checkPrefix validates magic, version and both lengths. It returns the
// header length and the total length.
func checkPrefix(prefix []byte) (int, int, error) {
	if string(prefix[:offVersion]) != Magic {
		return 0, 0, rpcerr.New(rpcerr.KindProtocol, "bad magic %q", prefix[:offVersion])
	}
	if prefix[offVersion] != Version {
		return 0, 0, rpcerr.New(rpcerr.KindProtocol,
			"unsupported version %d", prefix[offVersion])
	}
	headerLen := int(binary.BigEndian.Uint16(prefix[offHeaderLen:]))
	total := int(binary.BigEndian.Uint32(prefix[offTotalLen:]))
	if headerLen < HeaderLength {
		return 0, 0, rpcerr.New(rpcerr.KindProtocol, "header length %d too short", headerLen)
	}
	if total < headerLen || total > MaxFrameLength {
		return 0, 0, rpcerr.New(rpcerr.KindProtocol,
			"bad total length %d (header %d, max %d)", total, headerLen, MaxFrameLength)
	}
	return headerLen, total, nil
}

// ReadFrame reads exactly one frame from r. Errors other than io.EOF on
// a frame boundary mean the stream can't be trusted any more.
func ReadFrame(r io.Reader) ([]byte, error) {
	prefix := make([]byte, prefixLength)
	if _, err := io.ReadFull(r, prefix); err != nil {
		if err == io.EOF {
			return nil, err
		}
		return nil, errors.WithStack(err)
	}
	_, total, err := checkPrefix(prefix)
	if err != nil {
		return nil, err
	}
	frame := make([]byte, total)
	copy(frame, prefix)
	if _, err := io.ReadFull(r, frame[prefixLength:]); err != nil {
		return nil, errors.WithStack(err)
	}
	return frame, nil
}

func parseFrame(frame []byte) (*header, error) {
	if len(frame) < HeaderLength {
		return nil, rpcerr.New(rpcerr.KindProtocol, "frame of %d bytes is too short", len(frame))
	}
	headerLen, total, err := checkPrefix(frame[:prefixLength])
	if err != nil {
		return nil, err
	}
	if total != len(frame) {
		return nil, rpcerr.New(rpcerr.KindProtocol,
			"total length %d does not match frame size %d", total, len(frame))
	}
	return &header{
		kindOrCode:    frame[offKind],
		serializeCode: frame[offSerialize],
		compressCode:  frame[offCompress],
		requestID:     binary.BigEndian.Uint64(frame[offRequestID:]),
		payload:       frame[headerLen:],
	}, nil
}
