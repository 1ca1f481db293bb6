package platform

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidContainerName(t *testing.T) {
	assert.True(t, ValidContainerName("my_container_01"))
	assert.True(t, ValidContainerName("A"))

	assert.False(t, ValidContainerName(""))
	assert.False(t, ValidContainerName("has-hyphen"))
	assert.False(t, ValidContainerName("has space"))
	assert.False(t, ValidContainerName("semi;colon"))
	assert.False(t, ValidContainerName(strings.Repeat("a", MaxContainerNameLen+1)))
	assert.True(t, ValidContainerName(strings.Repeat("a", MaxContainerNameLen)))
}

func TestValidUsername(t *testing.T) {
	assert.True(t, ValidUsername("alice"))
	assert.True(t, ValidUsername("alice-2_b"))

	assert.False(t, ValidUsername(""))
	assert.False(t, ValidUsername("alice;rm"))
	assert.False(t, ValidUsername("alice$(id)"))
	assert.False(t, ValidUsername("a b"))
	assert.False(t, ValidUsername("a|b"))
}

func TestValidImage(t *testing.T) {
	assert.True(t, ValidImage("ubuntu:latest"))
	assert.True(t, ValidImage("registry.example.com/org/image:1.2-rc"))
	assert.True(t, ValidImage("nginx"))

	assert.False(t, ValidImage(""))
	assert.False(t, ValidImage("bad image"))
	assert.False(t, ValidImage("img;rm"))
	assert.False(t, ValidImage(strings.Repeat("a", MaxImageLen+1)))
}

func TestValidPublicKey(t *testing.T) {
	assert.True(t, ValidPublicKey(""))
	assert.True(t, ValidPublicKey(strings.Repeat("k", MaxPublicKeyLen)))
	assert.False(t, ValidPublicKey(strings.Repeat("k", MaxPublicKeyLen+1)))
}

func TestNewID(t *testing.T) {
	a := NewID()
	b := NewID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
}

func TestNewToken(t *testing.T) {
	a := NewToken()
	assert.Len(t, a, 64)
	assert.NotEqual(t, a, NewToken())
}
