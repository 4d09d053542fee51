package otp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerator_Generate(t *testing.T) {
	for _, length := range []int{4, 6, 10} {
		g := NewGenerator(length)
		for i := 0; i < 50; i++ {
			code, err := g.Generate()
			require.NoError(t, err)
			assert.Len(t, code, length)
			assert.True(t, g.Validate(code))
		}
	}
}

func TestNewGenerator_ClampsLength(t *testing.T) {
	assert.Equal(t, 4, NewGenerator(1).Length())
	assert.Equal(t, 10, NewGenerator(20).Length())
}

func TestGenerator_Validate(t *testing.T) {
	g := NewGenerator(6)
	assert.True(t, g.Validate("012345"))
	assert.False(t, g.Validate("12345"))
	assert.False(t, g.Validate("1234567"))
	assert.False(t, g.Validate("12a456"))
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "123456", NormalizeCode(" 123 456 "))
	assert.Equal(t, "123456", NormalizeCode("123-456"))
}
