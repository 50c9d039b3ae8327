// Package security provides cryptographic identity and state signing.
// Every node has an Ed25519 keypair; its hex public key doubles as the
// node's address on the marketplace. Channel states are authoritative
// only when both participants have signed the canonical state digest.
package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/taskmesh-network/taskmesh/internal/domain"
)

// Keypair holds the node's Ed25519 identity.
type Keypair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeypair creates a new Ed25519 keypair.
func GenerateKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 keypair: %w", err)
	}
	return &Keypair{Public: pub, Private: priv}, nil
}

// LoadOrCreateKeypair loads an existing keypair from disk, or generates
// a new one on first run. Keys are stored in home/keys/.
func LoadOrCreateKeypair(home string) (*Keypair, error) {
	keyDir := filepath.Join(home, "keys")
	pubPath := filepath.Join(keyDir, "node.pub")
	privPath := filepath.Join(keyDir, "node.key")

	pubBytes, pubErr := os.ReadFile(pubPath)
	privBytes, privErr := os.ReadFile(privPath)

	if pubErr == nil && privErr == nil {
		pub, err := hex.DecodeString(string(pubBytes))
		if err != nil {
			return nil, fmt.Errorf("decode public key: %w", err)
		}
		priv, err := hex.DecodeString(string(privBytes))
		if err != nil {
			return nil, fmt.Errorf("decode private key: %w", err)
		}
		return &Keypair{
			Public:  ed25519.PublicKey(pub),
			Private: ed25519.PrivateKey(priv),
		}, nil
	}

	kp, err := GenerateKeypair()
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(pubPath, []byte(hex.EncodeToString(kp.Public)), 0644); err != nil {
		return nil, fmt.Errorf("write public key: %w", err)
	}
	if err := os.WriteFile(privPath, []byte(hex.EncodeToString(kp.Private)), 0600); err != nil {
		return nil, fmt.Errorf("write private key: %w", err)
	}

	return kp, nil
}

// Address returns the hex public key used as this node's marketplace
// address.
func (kp *Keypair) Address() string {
	return hex.EncodeToString(kp.Public)
}

// Sign signs a message with the node's private key.
func (kp *Keypair) Sign(message []byte) []byte {
	return ed25519.Sign(kp.Private, message)
}

// SignState signs the canonical digest of a channel state.
func (kp *Keypair) SignState(s *domain.SignedState) []byte {
	return ed25519.Sign(kp.Private, s.Digest())
}

// Verify checks a signature against a public key.
func Verify(message, signature []byte, publicKey ed25519.PublicKey) bool {
	return ed25519.Verify(publicKey, message, signature)
}

// VerifyStateSig checks one participant's signature over a channel
// state, where address is the signer's hex public key.
func VerifyStateSig(s *domain.SignedState, address string, sig []byte) bool {
	pub, err := hex.DecodeString(address)
	if err != nil || len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), s.Digest(), sig)
}
