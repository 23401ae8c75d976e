package webpush

import (
	"crypto/elliptic"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
)

// decodeVAPIDKeyPair parses a PEM-encoded EC private key (as produced by
// session.GenerateVAPIDKeyPair) and returns the base64url-without-padding
// raw private scalar and raw uncompressed public point webpush-go's
// Options.VAPIDPrivateKey/VAPIDPublicKey fields expect.
func decodeVAPIDKeyPair(pemBytes []byte) (privB64, pubB64 string, err error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return "", "", fmt.Errorf("decode PEM block")
	}

	key, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return "", "", fmt.Errorf("parse EC private key: %w", err)
	}

	curve := elliptic.P256()
	size := (curve.Params().BitSize + 7) / 8

	privBytes := key.D.FillBytes(make([]byte, size))
	pubBytes := elliptic.Marshal(curve, key.X, key.Y)

	return base64.RawURLEncoding.EncodeToString(privBytes),
		base64.RawURLEncoding.EncodeToString(pubBytes), nil
}
