package command

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewDefaultsOkCodesToZero(t *testing.T) {
	c := New("echo hi", 0, nil)
	assert.True(t, c.IsOK(0))
	assert.False(t, c.IsOK(1))
	assert.False(t, c.IgnoresExitCodes())
}

func TestNewExplicitOkCodes(t *testing.T) {
	c := New("echo hi", time.Second, []int{0, 1, 2})
	assert.True(t, c.IsOK(1))
	assert.False(t, c.IsOK(3))
}

func TestIgnoreExitCodesAcceptsAnything(t *testing.T) {
	c := IgnoreExitCodes("echo hi", 0)
	assert.True(t, c.IsOK(0))
	assert.True(t, c.IsOK(137))
	assert.True(t, c.IgnoresExitCodes())
}

func TestEqualityByTextOnly(t *testing.T) {
	a := New("echo hi", time.Second, []int{0})
	b := New("echo hi", 2*time.Second, []int{0, 1})
	c := New("echo bye", 0, nil)

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}
