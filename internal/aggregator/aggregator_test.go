package aggregator

import (
	"testing"

	"github.com/jross/cumin-go/internal/hostset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leaf(token string) (*hostset.HostSet, error) {
	hosts, err := hostset.Expand(token)
	if err != nil {
		return nil, err
	}
	return hostset.New(hosts...), nil
}

func TestParseBoolExprSimpleOr(t *testing.T) {
	tree, err := ParseBoolExpr("test", "host1 or host2", leaf)
	require.NoError(t, err)
	result, err := tree.Evaluate()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"host1", "host2"}, result.Slice())
}

func TestParseBoolExprNestedAndNot(t *testing.T) {
	tree, err := ParseBoolExpr("test", "(host[1-5]) and not host2", leaf)
	require.NoError(t, err)
	result, err := tree.Evaluate()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"host1", "host3", "host4", "host5"}, result.Slice())
}

func TestParseBoolExprLeftToRightNoPrecedence(t *testing.T) {
	// or binds strictly left-to-right with and: (h1 or h2) and h2 == {h2}
	tree, err := ParseBoolExpr("test", "host1 or host2 and host2", leaf)
	require.NoError(t, err)
	result, err := tree.Evaluate()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"host2"}, result.Slice())
}

func TestParseBoolExprUnbalancedParens(t *testing.T) {
	_, err := ParseBoolExpr("test", "(host1 or host2", leaf)
	assert.Error(t, err)
}

func TestParseBoolExprXor(t *testing.T) {
	tree, err := ParseBoolExpr("test", "host[1-3] xor host[2-4]", leaf)
	require.NoError(t, err)
	result, err := tree.Evaluate()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"host1", "host4"}, result.Slice())
}
