package rpcerr

import (
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestKindOfWalksCauses(t *testing.T) {
	base := New(KindTimeout, "call %d", 7)
	assert.Equal(t, KindTimeout, KindOf(base))
	assert.Equal(t, KindTimeout, KindOf(errors.Wrap(base, "outer")))
	assert.Equal(t, KindUnknown, KindOf(io.EOF))
	assert.Equal(t, KindUnknown, KindOf(nil))

	// the outermost typed error wins
	outer := Wrap(base, KindNetwork, "retries exhausted")
	assert.Equal(t, KindNetwork, KindOf(outer))
	assert.True(t, errors.Is(outer, base), "unwrapping should reach the inner error")
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "[not-found] no method x", New(KindNotFound, "no method %v", "x").Error())
	e := Wrap(io.EOF, KindNetwork, "read")
	assert.Equal(t, "[network] read: EOF", e.Error())
}

func TestWithCodeCopies(t *testing.T) {
	e := New(KindRejected, "limited")
	c := e.WithCode(4)
	assert.Equal(t, byte(0), e.Code)
	assert.Equal(t, byte(4), c.Code)
	assert.True(t, Rejected(c))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(New(KindTimeout, "t")))
	assert.True(t, Retryable(New(KindRemote, "r")))
	assert.True(t, Retryable(io.EOF))
	assert.False(t, Retryable(New(KindDiscovery, "d")))
	assert.False(t, Retryable(New(KindSerialization, "s")))
	assert.False(t, Retryable(nil))
}
