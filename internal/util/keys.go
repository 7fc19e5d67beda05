package util

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ItemKey namespaces an item id for a shared byte store: "<prefix>:<ns>:<id>".
func ItemKey(prefix, ns, id string) string {
	var b strings.Builder
	b.Grow(len(prefix) + len(ns) + len(id) + 2)
	b.WriteString(prefix)
	b.WriteByte(':')
	b.WriteString(ns)
	b.WriteByte(':')
	b.WriteString(id)
	return b.String()
}

// ShortHash returns the first 16 hex chars of sha256(s). Used to redact ids in logs.
func ShortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
