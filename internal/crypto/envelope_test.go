package crypto

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// loopbackContext builds a context where the "node" key is the controller's
// own public key, so Seal output can be Opened locally.
func loopbackContext(t *testing.T) *Context {
	t.Helper()
	key, err := GenerateKeyPair()
	require.NoError(t, err)
	return NewContext(key, &key.PublicKey)
}

func TestSealOpen_RoundTrip(t *testing.T) {
	ctx := loopbackContext(t)

	for _, payload := range []string{
		`{"config":{"container_name":"c1"}}`,
		"",
		strings.Repeat("x", 1000), // forces multiple OAEP blocks
	} {
		env, err := ctx.Seal([]byte(payload))
		require.NoError(t, err)
		require.NotEmpty(t, env.Ciphertext)
		require.NotEmpty(t, env.Signature)

		got, err := ctx.Open(env)
		require.NoError(t, err)
		assert.Equal(t, []byte(payload), got)
	}
}

func TestSeal_IndependentArtifacts(t *testing.T) {
	ctx := loopbackContext(t)

	env1, err := ctx.Seal([]byte("payload"))
	require.NoError(t, err)
	env2, err := ctx.Seal([]byte("payload"))
	require.NoError(t, err)

	// OAEP and PSS are both randomized; two seals of the same plaintext
	// must not produce identical artifacts.
	assert.False(t, bytes.Equal(env1.Ciphertext, env2.Ciphertext))
	assert.False(t, bytes.Equal(env1.Signature, env2.Signature))
}

func TestOpen_CorruptedCiphertext(t *testing.T) {
	ctx := loopbackContext(t)

	env, err := ctx.Seal([]byte(`{"config":{}}`))
	require.NoError(t, err)

	env.Ciphertext[10] ^= 0x01

	_, err = ctx.Open(env)
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestOpen_CorruptedSignature(t *testing.T) {
	ctx := loopbackContext(t)

	env, err := ctx.Seal([]byte(`{"config":{}}`))
	require.NoError(t, err)

	env.Signature[0] ^= 0x01

	_, err = ctx.Open(env)
	require.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestOpen_TruncatedCiphertext(t *testing.T) {
	ctx := loopbackContext(t)

	env, err := ctx.Seal([]byte("hello"))
	require.NoError(t, err)

	env.Ciphertext = env.Ciphertext[:len(env.Ciphertext)-1]

	_, err = ctx.Open(env)
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestOpen_WrongKey(t *testing.T) {
	sender := loopbackContext(t)
	otherKey, err := GenerateKeyPair()
	require.NoError(t, err)
	receiver := NewContext(otherKey, &otherKey.PublicKey)

	env, err := sender.Seal([]byte("secret"))
	require.NoError(t, err)

	_, err = receiver.Open(env)
	require.Error(t, err)
}

func TestLoadContext_FromFiles(t *testing.T) {
	dir := t.TempDir()
	privPath := filepath.Join(dir, "controller.pem")
	pubPath := filepath.Join(dir, "controller.pub.pem")
	nodePath := filepath.Join(dir, "node.pub.pem")

	key, err := GenerateKeyPair()
	require.NoError(t, err)
	nodeKey, err := GenerateKeyPair()
	require.NoError(t, err)

	require.NoError(t, WritePrivateKey(privPath, key))
	require.NoError(t, WritePublicKey(pubPath, &key.PublicKey))
	require.NoError(t, WritePublicKey(nodePath, &nodeKey.PublicKey))

	ctx, err := LoadContext(privPath, pubPath, nodePath)
	require.NoError(t, err)
	require.NotNil(t, ctx)

	env, err := ctx.Seal([]byte("over the wire"))
	require.NoError(t, err)
	assert.NotEmpty(t, env.Ciphertext)
}

func TestLoadContext_MissingFile(t *testing.T) {
	_, err := LoadContext("/nonexistent/key.pem", "", "/nonexistent/node.pem")
	require.Error(t, err)
}

func TestLoadContext_MismatchedPublicKey(t *testing.T) {
	dir := t.TempDir()
	privPath := filepath.Join(dir, "controller.pem")
	pubPath := filepath.Join(dir, "other.pub.pem")
	nodePath := filepath.Join(dir, "node.pub.pem")

	key, err := GenerateKeyPair()
	require.NoError(t, err)
	other, err := GenerateKeyPair()
	require.NoError(t, err)

	require.NoError(t, WritePrivateKey(privPath, key))
	require.NoError(t, WritePublicKey(pubPath, &other.PublicKey))
	require.NoError(t, WritePublicKey(nodePath, &other.PublicKey))

	_, err = LoadContext(privPath, pubPath, nodePath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
}
