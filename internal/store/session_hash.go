package store

import (
	"crypto/sha256"
	"encoding/hex"
)

// sessionHash returns the indexed lookup key for a session_id. Only this
// hash is ever stored or queried; the session_id itself is the caller-held
// capability and never touches the database.
func sessionHash(sessionID string) string {
	sum := sha256.Sum256([]byte(sessionID))
	return hex.EncodeToString(sum[:])
}
