package palette

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestColorForIsDeterministic(t *testing.T) {
	c1 := ColorFor("user-123")
	c2 := ColorFor("user-123")
	assert.Equal(t, c1, c2)
}

func TestColorForVariesByUser(t *testing.T) {
	assert.NotEqual(t, ColorFor("user-a"), ColorFor("user-b"))
}

func TestColorForReturnsHex(t *testing.T) {
	c := ColorFor("any-user")
	assert.Len(t, c, 7)
	assert.Equal(t, byte('#'), c[0])
}
