package direct

import (
	"testing"

	"github.com/jross/cumin-go/internal/backend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestS1DirectSimple(t *testing.T) {
	b, err := New(backend.Config{})
	require.NoError(t, err)
	result, err := b.Execute("host1 or host2")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"host1", "host2"}, result.Slice())
}

func TestS2NestedDirect(t *testing.T) {
	b, _ := New(backend.Config{})
	result, err := b.Execute("(host[1-5]) and not host2")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"host1", "host3", "host4", "host5"}, result.Slice())
}

func TestDirectInvalidQuery(t *testing.T) {
	b, _ := New(backend.Config{})
	_, err := b.Execute("host1 and")
	assert.Error(t, err)
}

func TestRegisterClaimsPrefixD(t *testing.T) {
	reg := backend.NewRegistry()
	require.NoError(t, Register(reg))
	assert.True(t, reg.Has(Prefix))
	err := Register(reg)
	assert.Error(t, err)
}
