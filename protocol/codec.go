package protocol

import (
	"github.com/PwzXxm/nrpc-lite/compress"
	"github.com/PwzXxm/nrpc-lite/rpcerr"
	"github.com/PwzXxm/nrpc-lite/serialize"
)

// Codec encodes and decodes frames. It holds no per-frame state and is
// safe for concurrent use.
type Codec struct {
	serializers *serialize.Registry
	compressors *compress.Registry
}

// NewCodec uses the default registries when nil is passed
func NewCodec(serializers *serialize.Registry, compressors *compress.Registry) *Codec {
	if serializers == nil {
		serializers = serialize.Default()
	}
	if compressors == nil {
		compressors = compress.Default()
	}
	return &Codec{serializers: serializers, compressors: compressors}
}

func (c *Codec) Serializers() *serialize.Registry { return c.serializers }
func (c *Codec) Compressors() *compress.Registry  { return c.compressors }

func (c *Codec) EncodeRequest(req *Request) ([]byte, error) {
	var payload []byte
	if req.Kind != KindHeartbeat && req.Payload != nil {
		s, err := c.serializers.ByCode(req.SerializeCode)
		if err != nil {
			return nil, err
		}
		data, err := s.Serialize(req.Payload)
		if err != nil {
			return nil, rpcerr.Wrap(err, rpcerr.KindSerialization,
				"serialize request %v", req.ID)
		}
		payload, err = c.compress(req.CompressCode, data)
		if err != nil {
			return nil, err
		}
	}
	return writeFrame(byte(req.Kind), req.SerializeCode, req.CompressCode, req.ID, payload)
}

// DecodeRequest parses a request frame. On a serialization error the
// returned request still carries the header fields so the caller can
// answer FAIL to the right id; on a protocol error it is nil.
func (c *Codec) DecodeRequest(frame []byte) (*Request, error) {
	h, err := parseFrame(frame)
	if err != nil {
		return nil, err
	}
	req := &Request{
		ID:            h.requestID,
		Kind:          RequestKind(h.kindOrCode),
		SerializeCode: h.serializeCode,
		CompressCode:  h.compressCode,
	}
	if req.Kind != KindCall && req.Kind != KindHeartbeat {
		return nil, rpcerr.New(rpcerr.KindProtocol, "unknown request kind %d", h.kindOrCode)
	}
	if len(h.payload) == 0 {
		return req, nil
	}
	s, err := c.serializers.ByCode(req.SerializeCode)
	if err != nil {
		return req, err
	}
	data, err := c.decompress(req.CompressCode, h.payload)
	if err != nil {
		return req, err
	}
	var payload RequestPayload
	if err := s.Deserialize(data, &payload); err != nil {
		return req, rpcerr.Wrap(err, rpcerr.KindSerialization,
			"deserialize request %v", req.ID)
	}
	req.Payload = &payload
	return req, nil
}

func (c *Codec) EncodeResponse(res *Response) ([]byte, error) {
	var payload []byte
	if len(res.Body) > 0 {
		// the body is serialized with this code by the dispatcher, make
		// sure the peer will be able to decode it
		if _, err := c.serializers.ByCode(res.SerializeCode); err != nil {
			return nil, err
		}
		var err error
		payload, err = c.compress(res.CompressCode, res.Body)
		if err != nil {
			return nil, err
		}
	}
	return writeFrame(byte(res.Code), res.SerializeCode, res.CompressCode, res.RequestID, payload)
}

// DecodeResponse parses a response frame. As with DecodeRequest, a
// serialization error still returns the header fields.
func (c *Codec) DecodeResponse(frame []byte) (*Response, error) {
	h, err := parseFrame(frame)
	if err != nil {
		return nil, err
	}
	res := &Response{
		RequestID:     h.requestID,
		Code:          ResponseCode(h.kindOrCode),
		SerializeCode: h.serializeCode,
		CompressCode:  h.compressCode,
	}
	if len(h.payload) == 0 {
		return res, nil
	}
	if _, err := c.serializers.ByCode(res.SerializeCode); err != nil {
		return res, err
	}
	body, err := c.decompress(res.CompressCode, h.payload)
	if err != nil {
		return res, err
	}
	res.Body = body
	return res, nil
}

// DecodeBody deserializes a response body into out with the serializer
// named by the response header
func (c *Codec) DecodeBody(res *Response, out interface{}) error {
	if out == nil || len(res.Body) == 0 {
		return nil
	}
	s, err := c.serializers.ByCode(res.SerializeCode)
	if err != nil {
		return err
	}
	if err := s.Deserialize(res.Body, out); err != nil {
		return rpcerr.Wrap(err, rpcerr.KindSerialization,
			"deserialize response %v", res.RequestID)
	}
	return nil
}

func (c *Codec) compress(code byte, data []byte) ([]byte, error) {
	comp, err := c.compressors.ByCode(code)
	if err != nil {
		return nil, err
	}
	out, err := comp.Compress(data)
	if err != nil {
		return nil, rpcerr.Wrap(err, rpcerr.KindSerialization, "compress")
	}
	return out, nil
}

func (c *Codec) decompress(code byte, data []byte) ([]byte, error) {
	comp, err := c.compressors.ByCode(code)
	if err != nil {
		return nil, err
	}
	out, err := comp.Decompress(data)
	if err != nil {
		return nil, rpcerr.Wrap(err, rpcerr.KindSerialization, "decompress")
	}
	return out, nil
}
