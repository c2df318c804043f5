package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/PwzXxm/nrpc-lite/compress"
	"github.com/PwzXxm/nrpc-lite/rpcerr"
	"github.com/PwzXxm/nrpc-lite/serialize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePayload() *RequestPayload {
	return &RequestPayload{
		InterfaceName: "org.example.HelloNrpc",
		MethodName:    "sayHello",
		ParamTypes:    []string{"string", "int"},
		ParamValues:   [][]byte{[]byte("hi"), {0x01, 0x02}},
		ReturnType:    "string",
	}
}

func TestRequestRoundTrip(t *testing.T) {
	c := NewCodec(nil, nil)
	for _, sc := range []byte{serialize.CodeGob, serialize.CodeJSON} {
		for _, cc := range []byte{compress.CodeNone, compress.CodeGzip, compress.CodeZlib} {
			req := &Request{ID: 42, Kind: KindCall, SerializeCode: sc,
				CompressCode: cc, Payload: samplePayload()}
			frame, err := c.EncodeRequest(req)
			require.NoError(t, err)
			got, err := c.DecodeRequest(frame)
			require.NoError(t, err)
			assert.Equal(t, req, got, "serialize %d compress %d", sc, cc)
		}
	}
}

func TestHeartbeatHasNoPayload(t *testing.T) {
	c := NewCodec(nil, nil)
	// unknown codes must not matter: the codec is never consulted
	req := &Request{ID: 7, Kind: KindHeartbeat, SerializeCode: 99, CompressCode: 99}
	frame, err := c.EncodeRequest(req)
	require.NoError(t, err)
	assert.Len(t, frame, HeaderLength)
	assert.Equal(t, uint32(HeaderLength), binary.BigEndian.Uint32(frame[offTotalLen:]))

	got, err := c.DecodeRequest(frame)
	require.NoError(t, err)
	assert.Equal(t, req, got)
	assert.Nil(t, got.Payload)
}

func TestHeaderLayout(t *testing.T) {
	c := NewCodec(nil, nil)
	frame, err := c.EncodeRequest(&Request{ID: 0x0102030405060708, Kind: KindHeartbeat,
		SerializeCode: 1, CompressCode: 2})
	require.NoError(t, err)
	want := []byte{'n', 'r', 'p', 'c', 1, 0, 22, 0, 0, 0, 22, 2, 1, 2,
		1, 2, 3, 4, 5, 6, 7, 8}
	assert.Equal(t, want, frame)
}

func TestResponseRoundTrip(t *testing.T) {
	c := NewCodec(nil, nil)
	body, err := serialize.Gob{}.Serialize("hi consumer: hi")
	require.NoError(t, err)
	cases := []*Response{
		{RequestID: 1, Code: CodeSuccess, SerializeCode: serialize.CodeGob,
			CompressCode: compress.CodeGzip, Body: body},
		{RequestID: 2, Code: CodeSuccessHeartbeat, SerializeCode: serialize.CodeGob,
			CompressCode: compress.CodeGzip},
		{RequestID: 3, Code: CodeRateLimited, SerializeCode: serialize.CodeJSON,
			CompressCode: compress.CodeNone},
		{RequestID: 4, Code: CodeClosing, SerializeCode: 77, CompressCode: 77},
	}
	for _, res := range cases {
		frame, err := c.EncodeResponse(res)
		require.NoError(t, err)
		got, err := c.DecodeResponse(frame)
		require.NoError(t, err)
		assert.Equal(t, res, got)
	}

	var s string
	got, _ := c.DecodeResponse(mustEncodeResponse(t, c, cases[0]))
	require.NoError(t, c.DecodeBody(got, &s))
	assert.Equal(t, "hi consumer: hi", s)
}

func mustEncodeResponse(t *testing.T, c *Codec, res *Response) []byte {
	frame, err := c.EncodeResponse(res)
	require.NoError(t, err)
	return frame
}

func TestDecodeRejectsBadMagicAndVersion(t *testing.T) {
	c := NewCodec(nil, nil)
	frame, err := c.EncodeRequest(&Request{ID: 1, Kind: KindHeartbeat})
	require.NoError(t, err)

	bad := append([]byte(nil), frame...)
	bad[0] = 'x'
	_, err = c.DecodeRequest(bad)
	assert.True(t, rpcerr.Is(err, rpcerr.KindProtocol))

	bad = append([]byte(nil), frame...)
	bad[offVersion] = 2
	_, err = c.DecodeRequest(bad)
	assert.True(t, rpcerr.Is(err, rpcerr.KindProtocol))

	_, err = ReadFrame(bytes.NewReader(bad))
	assert.True(t, rpcerr.Is(err, rpcerr.KindProtocol))
}

func TestUnknownCodesKeepHeader(t *testing.T) {
	sender := NewCodec(nil, nil)
	frame, err := sender.EncodeRequest(&Request{ID: 9, Kind: KindCall,
		SerializeCode: serialize.CodeJSON, CompressCode: compress.CodeNone,
		Payload: samplePayload()})
	require.NoError(t, err)

	// receiver only knows gob
	sr := serialize.NewRegistry()
	require.NoError(t, sr.Register(serialize.CodeGob, "gob", serialize.Gob{}))
	receiver := NewCodec(sr, nil)
	req, err := receiver.DecodeRequest(frame)
	require.Error(t, err)
	assert.True(t, rpcerr.Is(err, rpcerr.KindSerialization))
	require.NotNil(t, req)
	assert.Equal(t, uint64(9), req.ID)
	assert.Nil(t, req.Payload)

	// unknown compressor on encode is a local error
	_, err = sender.EncodeRequest(&Request{ID: 10, Kind: KindCall,
		SerializeCode: serialize.CodeGob, CompressCode: 200, Payload: samplePayload()})
	assert.True(t, rpcerr.Is(err, rpcerr.KindSerialization))
}

func TestReadFrameSplitsStream(t *testing.T) {
	c := NewCodec(nil, nil)
	var stream bytes.Buffer
	for i := uint64(1); i <= 3; i++ {
		frame, err := c.EncodeRequest(&Request{ID: i, Kind: KindCall,
			SerializeCode: serialize.CodeGob, CompressCode: compress.CodeGzip,
			Payload: samplePayload()})
		require.NoError(t, err)
		stream.Write(frame)
		hb, err := c.EncodeRequest(&Request{ID: 100 + i, Kind: KindHeartbeat})
		require.NoError(t, err)
		stream.Write(hb)
	}

	var ids []uint64
	for {
		frame, err := ReadFrame(&stream)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		req, err := c.DecodeRequest(frame)
		require.NoError(t, err)
		ids = append(ids, req.ID)
	}
	assert.Equal(t, []uint64{1, 101, 2, 102, 3, 103}, ids)
}

func TestReadFrameRejectsOversize(t *testing.T) {
	prefix := []byte{'n', 'r', 'p', 'c', 1, 0, 22, 0, 0, 0, 0}
	binary.BigEndian.PutUint32(prefix[offTotalLen:], MaxFrameLength+1)
	_, err := ReadFrame(bytes.NewReader(prefix))
	assert.True(t, rpcerr.Is(err, rpcerr.KindProtocol))
}

func TestResponseCodeErr(t *testing.T) {
	assert.NoError(t, CodeSuccess.Err())
	assert.NoError(t, CodeSuccessHeartbeat.Err())
	assert.True(t, rpcerr.Is(CodeRateLimited.Err(), rpcerr.KindRejected))
	assert.True(t, rpcerr.Is(CodeClosing.Err(), rpcerr.KindRejected))
	assert.True(t, rpcerr.Is(CodeNotFound.Err(), rpcerr.KindNotFound))
	assert.True(t, rpcerr.Is(CodeFail.Err(), rpcerr.KindRemote))
}
