package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"fmt"
)

var (
	// ErrDecryptionFailed is returned when the ciphertext cannot be
	// recovered with the controller's private key.
	ErrDecryptionFailed = errors.New("envelope decryption failed")
	// ErrSignatureInvalid is returned when the signature does not verify
	// against the recovered plaintext.
	ErrSignatureInvalid = errors.New("envelope signature invalid")
)

// Envelope is the wire unit exchanged with node agents: the payload
// encrypted for the receiver plus a signature over the plaintext. Both are
// independent artifacts over the same bytes.
type Envelope struct {
	Ciphertext []byte
	Signature  []byte
}

// Context holds the process-wide key material: the controller's own keypair
// and the node fleet's public key. Constructed once at startup and read-only
// afterwards.
type Context struct {
	controllerKey *rsa.PrivateKey
	nodePub       *rsa.PublicKey
}

// LoadContext reads key material from the configured PEM files. Any missing
// or corrupt file is a startup failure.
func LoadContext(privateKeyPath, publicKeyPath, nodePublicKeyPath string) (*Context, error) {
	priv, err := LoadPrivateKey(privateKeyPath)
	if err != nil {
		return nil, err
	}
	// The controller's public key file is only checked for consistency; the
	// node side holds the authoritative copy for verifying our signatures.
	if publicKeyPath != "" {
		pub, err := LoadPublicKey(publicKeyPath)
		if err != nil {
			return nil, err
		}
		if pub.N.Cmp(priv.PublicKey.N) != 0 {
			return nil, fmt.Errorf("controller public key %s does not match private key", publicKeyPath)
		}
	}
	nodePub, err := LoadPublicKey(nodePublicKeyPath)
	if err != nil {
		return nil, err
	}
	return NewContext(priv, nodePub), nil
}

// NewContext builds a Context from in-memory keys.
func NewContext(controllerKey *rsa.PrivateKey, nodePub *rsa.PublicKey) *Context {
	return &Context{controllerKey: controllerKey, nodePub: nodePub}
}

// Seal encrypts the plaintext under the node's public key (OAEP-SHA256) and
// signs the same plaintext under the controller's private key (PSS-SHA256).
func (c *Context) Seal(plaintext []byte) (Envelope, error) {
	ciphertext, err := encryptOAEP(c.nodePub, plaintext)
	if err != nil {
		return Envelope{}, fmt.Errorf("seal: %w", err)
	}

	digest := sha256.Sum256(plaintext)
	sig, err := rsa.SignPSS(rand.Reader, c.controllerKey, crypto.SHA256, digest[:], nil)
	if err != nil {
		return Envelope{}, fmt.Errorf("seal: sign: %w", err)
	}

	return Envelope{Ciphertext: ciphertext, Signature: sig}, nil
}

// Open decrypts an inbound envelope with the controller's private key and
// verifies the signature against the sender's public key. Either failure is
// a hard error; corrupted input never yields plaintext.
func (c *Context) Open(env Envelope) ([]byte, error) {
	plaintext, err := decryptOAEP(c.controllerKey, env.Ciphertext)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	digest := sha256.Sum256(plaintext)
	if err := rsa.VerifyPSS(c.nodePub, crypto.SHA256, digest[:], env.Signature, nil); err != nil {
		return nil, ErrSignatureInvalid
	}

	return plaintext, nil
}

// OAEP can only carry keySize-2*hashLen-2 bytes per operation, so payloads
// are split into fixed-size blocks and the ciphertext blocks concatenated.
// The receiver splits on the key size to reverse it.
func encryptOAEP(pub *rsa.PublicKey, plaintext []byte) ([]byte, error) {
	hash := sha256.New()
	step := pub.Size() - 2*hash.Size() - 2
	if step <= 0 {
		return nil, fmt.Errorf("key too small for OAEP")
	}

	var out []byte
	for start := 0; ; start += step {
		end := start + step
		if end > len(plaintext) {
			end = len(plaintext)
		}
		block, err := rsa.EncryptOAEP(hash, rand.Reader, pub, plaintext[start:end], nil)
		if err != nil {
			return nil, fmt.Errorf("encrypt: %w", err)
		}
		out = append(out, block...)
		if end == len(plaintext) {
			break
		}
	}
	return out, nil
}

func decryptOAEP(key *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	hash := sha256.New()
	step := key.Size()
	if len(ciphertext) == 0 || len(ciphertext)%step != 0 {
		return nil, fmt.Errorf("ciphertext length %d not a multiple of key size", len(ciphertext))
	}

	var out []byte
	for start := 0; start < len(ciphertext); start += step {
		block, err := rsa.DecryptOAEP(hash, nil, key, ciphertext[start:start+step], nil)
		if err != nil {
			return nil, fmt.Errorf("decrypt: %w", err)
		}
		out = append(out, block...)
	}
	return out, nil
}
