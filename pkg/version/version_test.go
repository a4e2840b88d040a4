package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString_ContainsAllFields(t *testing.T) {
	s := String()
	assert.Contains(t, s, "locus")
	assert.Contains(t, s, Version)
	assert.Contains(t, s, Commit)
}

func TestShort(t *testing.T) {
	assert.Equal(t, Version, Short())
}
