package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jross/cumin-go/internal/hostset"
)

func stubCtor(_ Config) (Backend, error) {
	return stubBackend{}, nil
}

type stubBackend struct{}

func (stubBackend) Execute(query string) (*hostset.HostSet, error) {
	return hostset.New(query), nil
}

func TestRegisterAndConstruct(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register('D', "direct", stubCtor))

	assert.True(t, r.Has('D'))
	name, ok := r.Name('D')
	assert.True(t, ok)
	assert.Equal(t, "direct", name)

	b, err := r.Construct('D', Config{})
	require.NoError(t, err)
	hosts, err := b.Execute("host1")
	require.NoError(t, err)
	assert.Equal(t, []string{"host1"}, hosts.Slice())
}

func TestRegisterRejectsAliasPrefix(t *testing.T) {
	r := NewRegistry()
	err := r.Register(ReservedAliasPrefix, "aliases", stubCtor)
	assert.Error(t, err)
}

func TestRegisterRejectsNilConstructor(t *testing.T) {
	r := NewRegistry()
	err := r.Register('D', "direct", nil)
	assert.Error(t, err)
}

func TestRegisterRejectsDuplicatePrefix(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register('D', "direct", stubCtor))
	err := r.Register('D', "other", stubCtor)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already claimed")
}

func TestConstructUnknownPrefix(t *testing.T) {
	r := NewRegistry()
	_, err := r.Construct('Z', Config{})
	assert.Error(t, err)
}

func TestPrefixesSortedStable(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register('K', "knownhosts", stubCtor))
	require.NoError(t, r.Register('D', "direct", stubCtor))
	require.NoError(t, r.Register('F', "puppetdb", stubCtor))

	assert.Equal(t, []byte{'D', 'F', 'K'}, r.Prefixes())
}
