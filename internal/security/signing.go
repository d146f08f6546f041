// Package security manages the ed25519 key pair that signs ledger blocks.
package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	PublicKeyFile  = "server.pub"
	PrivateKeyFile = "server.priv"
)

var ErrInvalidKey = errors.New("invalid key size")

// KeyPair is a loaded signing identity.
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair creates a fresh ed25519 key pair.
func GenerateKeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// Save writes both keys hex encoded into dir.
func (kp KeyPair) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, PublicKeyFile), []byte(hex.EncodeToString(kp.Public)), 0o600); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, PrivateKeyFile), []byte(hex.EncodeToString(kp.Private)), 0o600)
}

// LoadKeyPair reads the pair written by Save.
func LoadKeyPair(dir string) (KeyPair, error) {
	pub, err := LoadPublicKey(filepath.Join(dir, PublicKeyFile))
	if err != nil {
		return KeyPair{}, err
	}
	priv, err := LoadPrivateKey(filepath.Join(dir, PrivateKeyFile))
	if err != nil {
		return KeyPair{}, err
	}
	if !pub.Equal(priv.Public()) {
		return KeyPair{}, fmt.Errorf("public key in %s does not match the private key", dir)
	}
	return KeyPair{Public: pub, Private: priv}, nil
}

// EnsureKeyPair loads the pair in dir, generating one on first use. The bool
// reports whether a new pair was created.
func EnsureKeyPair(dir string) (KeyPair, bool, error) {
	if _, err := os.Stat(filepath.Join(dir, PublicKeyFile)); os.IsNotExist(err) {
		kp, err := GenerateKeyPair()
		if err != nil {
			return KeyPair{}, false, err
		}
		if err := kp.Save(dir); err != nil {
			return KeyPair{}, false, err
		}
		return kp, true, nil
	}
	kp, err := LoadKeyPair(dir)
	return kp, false, err
}

// LoadPrivateKey loads a hex encoded ed25519 private key.
func LoadPrivateKey(path string) (ed25519.PrivateKey, error) {
	b, err := readHex(path)
	if err != nil {
		return nil, err
	}
	if len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%s: %w", path, ErrInvalidKey)
	}
	return ed25519.PrivateKey(b), nil
}

// LoadPublicKey loads a hex encoded ed25519 public key.
func LoadPublicKey(path string) (ed25519.PublicKey, error) {
	b, err := readHex(path)
	if err != nil {
		return nil, err
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%s: %w", path, ErrInvalidKey)
	}
	return ed25519.PublicKey(b), nil
}

func readHex(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return hex.DecodeString(strings.TrimSpace(string(data)))
}

// SignData signs data and returns the hex signature.
func SignData(priv ed25519.PrivateKey, data []byte) string {
	return hex.EncodeToString(ed25519.Sign(priv, data))
}

// VerifySignatureFromHex checks a hex signature against a hex public key.
func VerifySignatureFromHex(pubHex string, data []byte, sigHex string) (bool, error) {
	pub, err := hex.DecodeString(pubHex)
	if err != nil {
		return false, err
	}
	if len(pub) != ed25519.PublicKeySize {
		return false, ErrInvalidKey
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, err
	}
	return ed25519.Verify(ed25519.PublicKey(pub), data, sig), nil
}
