package compress

import (
	"bytes"
	"io/ioutil"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
)

// None passes payloads through untouched
type None struct{}

func (None) Compress(in []byte) ([]byte, error)   { return in, nil }
func (None) Decompress(in []byte) ([]byte, error) { return in, nil }

// Gzip writers are created per call; a frame is compressed as one unit
type Gzip struct{}

func (Gzip) Compress(in []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(in); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := w.Close(); err != nil {
		return nil, errors.WithStack(err)
	}
	return buf.Bytes(), nil
}

func (Gzip) Decompress(in []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(in))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer r.Close()
	out, err := ioutil.ReadAll(r)
	return out, errors.WithStack(err)
}

type Zlib struct{}

func (Zlib) Compress(in []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(in); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := w.Close(); err != nil {
		return nil, errors.WithStack(err)
	}
	return buf.Bytes(), nil
}

func (Zlib) Decompress(in []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(in))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer r.Close()
	out, err := ioutil.ReadAll(r)
	return out, errors.WithStack(err)
}
