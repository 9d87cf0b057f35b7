package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jross/cumin-go/internal/backend"
	"github.com/jross/cumin-go/internal/backend/direct"
)

func newDirectBackends(t *testing.T) map[byte]backend.Backend {
	t.Helper()
	reg := backend.NewRegistry()
	require.NoError(t, direct.Register(reg))
	b, err := reg.Construct(direct.Prefix, backend.Config{})
	require.NoError(t, err)
	return map[byte]backend.Backend{direct.Prefix: b}
}

// S1 — Direct simple: "host1 or host2" resolves to {host1, host2}.
func TestResolveDirectSimpleUnion(t *testing.T) {
	engine := NewEngine(newDirectBackends(t), 0, nil)
	hs, err := engine.Resolve(`D{host1 or host2}`)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"host1", "host2"}, hs.Slice())
}

// S2 — Nested Direct: "(host[1-5]) and not host2" resolves to
// {host1, host3, host4, host5}.
func TestResolveDirectNestedRangeAndNot(t *testing.T) {
	engine := NewEngine(newDirectBackends(t), 0, nil)
	hs, err := engine.Resolve(`D{(host[1-5]) and not host2}`)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"host1", "host3", "host4", "host5"}, hs.Slice())
}

// S3 — Alias composition: aliases compose through the top-level grammar.
func TestResolveAliasComposition(t *testing.T) {
	aliases := map[string]string{
		"g1":  `D{host1 or host2}`,
		"g2":  `D{host3 or host4}`,
		"all": `A:g1 or A:g2`,
	}
	engine := NewEngine(newDirectBackends(t), 0, aliases)
	hs, err := engine.Resolve("A:all")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"host1", "host2", "host3", "host4"}, hs.Slice())
}

func TestResolveAliasCycleIsRejected(t *testing.T) {
	aliases := map[string]string{
		"a": "A:b",
		"b": "A:a",
	}
	engine := NewEngine(newDirectBackends(t), 0, aliases)
	_, err := engine.Resolve("A:a")
	require.Error(t, err)
}

func TestResolveDefaultBackendTriedBeforeGrammarFallback(t *testing.T) {
	engine := NewEngine(newDirectBackends(t), direct.Prefix, nil)
	hs, err := engine.Resolve("host1 or host2")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"host1", "host2"}, hs.Slice())
}

func TestResolveInvalidQueryReportsBothErrors(t *testing.T) {
	engine := NewEngine(newDirectBackends(t), direct.Prefix, nil)
	_, err := engine.Resolve("B{host[}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default backend")
	assert.Contains(t, err.Error(), "grammar")
}
