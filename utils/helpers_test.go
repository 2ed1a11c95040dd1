package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeSuffix(t *testing.T) {
	assert.Equal(t, "[EMPTY]", SafeSuffix(""))
	assert.Equal(t, "...abc", SafeSuffix("abc"))
	assert.Equal(t, "...wxyz", SafeSuffix("sk-abcdefghijklmnopqrstuvwxyz"))
}

func TestDerefString(t *testing.T) {
	s := "value"
	assert.Equal(t, "value", DerefString(&s, "def"))
	assert.Equal(t, "def", DerefString(nil, "def"))
}

func TestDerefInt(t *testing.T) {
	n := 7
	assert.Equal(t, 7, DerefInt(&n, 0))
	assert.Equal(t, 3, DerefInt(nil, 3))
}
