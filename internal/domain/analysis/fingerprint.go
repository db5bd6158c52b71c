package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint hashes version|category|identity|payload with sha256.
// Text submissions pass the trimmed text as payload.
func Fingerprint(version string, c Category, id Identity, payload string) string {
	h := sha256.New()
	_, _ = h.Write([]byte(version))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(c))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(id))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// FingerprintText trims the text before hashing.
func FingerprintText(version string, c Category, id Identity, text string) string {
	return Fingerprint(version, c, id, strings.TrimSpace(text))
}

// FingerprintBytes keys raw bytes by their sha256 so files are recognised
// before any extraction runs.
func FingerprintBytes(version string, c Category, id Identity, data []byte) string {
	sum := sha256.Sum256(data)
	return Fingerprint(version, c, id, hex.EncodeToString(sum[:]))
}
