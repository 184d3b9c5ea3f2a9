package heartbeat

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// sensitiveMarkers exclude credentials from the config digest.
var sensitiveMarkers = []string{"password", "secret", "token", "credential"}

// ConfigHash digests a property map so configuration drift is detectable from
// the fleet projection. The digest is SHA-256 over "key=value\n" pairs in
// lexicographic key order, UTF-8, hex-lowercase. Keys whose lowercased form
// contains a sensitive marker are excluded. Returns "NA" when the digest
// cannot be computed.
func ConfigHash(properties map[string]string) string {
	if properties == nil {
		return "NA"
	}

	keys := make([]string, 0, len(properties))
	for key := range properties {
		if isSensitiveKey(key) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, key := range keys {
		if _, err := h.Write([]byte(key + "=" + properties[key] + "\n")); err != nil {
			return "NA"
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, marker := range sensitiveMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
