package serialize

import (
	"testing"

	"github.com/PwzXxm/nrpc-lite/rpcerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string
	Count int
	Tags  []string
}

func TestBuiltins(t *testing.T) {
	r := Default()
	assert.Equal(t, []string{"gob", "json"}, r.Names())
	for _, name := range r.Names() {
		_, s, err := r.ByName(name)
		require.NoError(t, err)
		in := sample{Name: "a", Count: 3, Tags: []string{"x", "y"}}
		data, err := s.Serialize(in)
		require.NoError(t, err, name)
		var out sample
		require.NoError(t, s.Deserialize(data, &out), name)
		assert.Equal(t, in, out, name)
	}
}

func TestUnknownLookups(t *testing.T) {
	r := Default()
	_, err := r.ByCode(3)
	assert.True(t, rpcerr.Is(err, rpcerr.KindSerialization))
	_, _, err = r.ByName("hessian")
	assert.True(t, rpcerr.Is(err, rpcerr.KindSerialization))
}

func TestRegisterConflicts(t *testing.T) {
	r := Default()
	assert.Error(t, r.Register(CodeGob, "other", JSON{}))
	assert.Error(t, r.Register(9, "json", JSON{}))
	require.NoError(t, r.Register(9, "json2", JSON{}))
	code, _, err := r.ByName("json2")
	require.NoError(t, err)
	assert.Equal(t, byte(9), code)
}

func TestDeserializeGarbage(t *testing.T) {
	var out sample
	assert.Error(t, Gob{}.Deserialize([]byte{1, 2, 3}, &out))
	assert.Error(t, JSON{}.Deserialize([]byte("{"), &out))
}
