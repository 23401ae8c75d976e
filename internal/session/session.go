// Package session implements the SessionIssuer: it mints a fresh VAPID
// keypair and opaque session identifier for each new browser client and
// records it in the Store.
package session

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"

	"github.com/adindex/adindex/internal/store"
)

// Issued is what CreateSession hands back to the caller: the capability
// the browser must present on every subsequent request, and its VAPID
// public key (for the browser's own PushManager.subscribe call).
type Issued struct {
	SessionID string
	VAPIDPub  string // base64url, unpadded
}

// Issuer mints sessions against a Store, bounding table growth by
// expiring stale sessions before every insert.
type Issuer struct {
	store             *store.Store
	sessionExpiration int64
}

// New returns an Issuer that expires sessions idle longer than
// sessionExpiration seconds.
func New(s *store.Store, sessionExpiration int64) *Issuer {
	return &Issuer{store: s, sessionExpiration: sessionExpiration}
}

// CreateSession generates a fresh P-256 VAPID keypair, derives a session
// id from it, prunes expired sessions, and writes the new client row.
func (iss *Issuer) CreateSession(ctx context.Context) (*Issued, error) {
	pub, priv, err := GenerateVAPIDKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate VAPID keypair: %w", err)
	}

	sessionID := deriveSessionID(pub, priv)

	if err := iss.store.CleanupSessions(ctx, iss.store.Clock()-iss.sessionExpiration); err != nil {
		return nil, fmt.Errorf("cleanup sessions: %w", err)
	}

	if err := iss.store.CreateSession(ctx, pub, priv, sessionID); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	return &Issued{
		SessionID: sessionID,
		VAPIDPub:  base64.RawURLEncoding.EncodeToString(pub),
	}, nil
}

// GenerateVAPIDKeyPair creates a fresh P-256 keypair and returns the
// public key as an uncompressed SEC1 point and the private key as a PEM
// block, matching the wire forms the Store persists.
func GenerateVAPIDKeyPair() (pub, priv []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	pub = elliptic.Marshal(elliptic.P256(), key.X, key.Y)

	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal EC private key: %w", err)
	}
	priv = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})

	return pub, priv, nil
}

// deriveSessionID is hex(SHA-256(vapid_pub || vapid_priv)): a
// deterministic, high-entropy identifier tied to this client's own
// keypair, so no separate source of randomness is needed. The 32-byte
// digest renders as exactly 64 hex characters, matching the wire
// contract.
func deriveSessionID(pub, priv []byte) string {
	h := sha256.New()
	h.Write(pub)
	h.Write(priv)
	return hex.EncodeToString(h.Sum(nil))
}
