package firestore

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// guardDocument reserves a natural key. Creating it inside the same transaction as the
// guarded entity makes the store reject a second entity with the same key.
type guardDocument struct {
	OwnerID   string    `firestore:"ownerId"`
	Key       string    `firestore:"key"`
	EntityID  string    `firestore:"entityId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// guardID hashes the key parts into a fixed-length document id. Parts are NUL separated so
// ("ab","c") and ("a","bc") differ.
func guardID(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}
