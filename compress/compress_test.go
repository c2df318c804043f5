package compress

import (
	"bytes"
	"testing"

	"github.com/PwzXxm/nrpc-lite/rpcerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinsRoundTrip(t *testing.T) {
	r := Default()
	in := bytes.Repeat([]byte("nrpc-lite payload "), 64)
	for _, name := range []string{"none", "gzip", "zlib"} {
		_, c, err := r.ByName(name)
		require.NoError(t, err)
		packed, err := c.Compress(in)
		require.NoError(t, err, name)
		if name != "none" {
			assert.Less(t, len(packed), len(in), name)
		}
		out, err := c.Decompress(packed)
		require.NoError(t, err, name)
		assert.Equal(t, in, out, name)
	}
}

func TestUnknownCode(t *testing.T) {
	_, err := Default().ByCode(7)
	assert.True(t, rpcerr.Is(err, rpcerr.KindSerialization))
}

func TestDecompressGarbage(t *testing.T) {
	_, err := Gzip{}.Decompress([]byte("not gzip"))
	assert.Error(t, err)
	_, err = Zlib{}.Decompress([]byte("not zlib"))
	assert.Error(t, err)
}
