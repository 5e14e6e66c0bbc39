// Package session wraps the nacl box primitives the bridge protocol relies
// on for end-to-end encryption: an authenticated box keyed by a peer's
// public key for ordinary traffic, and an anonymous-sealed box for the
// relay's request_source metadata. This mirrors the relay's own server-side
// sealing, reused here for opening rather than sealing.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

const (
	keyLength   = 32
	nonceLength = 24
)

// Session is one peer's local key pair. SessionID is its hex-encoded public
// key, the identifier the relay and the remote peer know it by.
type Session struct {
	public  [keyLength]byte
	private [keyLength]byte
}

// New generates a fresh key pair.
func New() (*Session, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("session: generate key: %w", err)
	}
	return &Session{public: *pub, private: *priv}, nil
}

// FromPrivateKey reconstructs a Session from a previously-persisted private
// key, for a host restoring a session across restarts (persistence itself
// is the host's responsibility; this is the seam it uses).
func FromPrivateKey(private [keyLength]byte) *Session {
	pub := derivePublic(private)
	return &Session{public: pub, private: private}
}

func derivePublic(private [keyLength]byte) [keyLength]byte {
	var pub [keyLength]byte
	curve25519.ScalarBaseMult(&pub, &private)
	return pub
}

// SessionID returns the hex-encoded public key, the bridge's client_id.
func (s *Session) SessionID() string {
	return hex.EncodeToString(s.public[:])
}

// PublicKey returns the raw 32-byte public key.
func (s *Session) PublicKey() [keyLength]byte {
	return s.public
}

// Encrypt authenticated-box-seals plaintext for the peer identified by
// peerPublicKeyHex, prefixing a fresh random nonce to the ciphertext.
func (s *Session) Encrypt(plaintext []byte, peerPublicKeyHex string) ([]byte, error) {
	peerPub, err := decodePublicKey(peerPublicKeyHex)
	if err != nil {
		return nil, err
	}
	var nonce [nonceLength]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("session: nonce: %w", err)
	}
	sealed := box.Seal(nonce[:], plaintext, &nonce, &peerPub, &s.private)
	return sealed, nil
}

// Decrypt opens a ciphertext produced by Encrypt, keyed by the sender's
// public key. The first nonceLength bytes are the nonce Encrypt prefixed.
func (s *Session) Decrypt(ciphertext []byte, peerPublicKeyHex string) ([]byte, error) {
	peerPub, err := decodePublicKey(peerPublicKeyHex)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < nonceLength {
		return nil, fmt.Errorf("session: ciphertext shorter than nonce")
	}
	var nonce [nonceLength]byte
	copy(nonce[:], ciphertext[:nonceLength])
	plaintext, ok := box.Open(nil, ciphertext[nonceLength:], &nonce, &peerPub, &s.private)
	if !ok {
		return nil, fmt.Errorf("session: decrypt: authentication failed")
	}
	return plaintext, nil
}

// OpenAnonymous opens a box.SealAnonymous envelope addressed to this
// session's key pair: request_source is sealed this way so the relay never
// learns who is asking to read it.
func (s *Session) OpenAnonymous(sealed []byte) ([]byte, error) {
	plaintext, ok := box.OpenAnonymous(nil, sealed, &s.public, &s.private)
	if !ok {
		return nil, fmt.Errorf("session: open anonymous: authentication failed")
	}
	return plaintext, nil
}

// SealAnonymous seals plaintext for recipientPublicKeyHex using an ephemeral
// key pair. Exposed for tests and for a caller standing in for the relay's
// request_source sealing.
func SealAnonymous(plaintext []byte, recipientPublicKeyHex string) ([]byte, error) {
	recipientPub, err := decodePublicKey(recipientPublicKeyHex)
	if err != nil {
		return nil, err
	}
	sealed, err := box.SealAnonymous(nil, plaintext, &recipientPub, rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("session: seal anonymous: %w", err)
	}
	return sealed, nil
}

func decodePublicKey(hexKey string) ([keyLength]byte, error) {
	var out [keyLength]byte
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return out, fmt.Errorf("session: decode public key: %w", err)
	}
	if len(raw) != keyLength {
		return out, fmt.Errorf("session: public key must be %d bytes, got %d", keyLength, len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
