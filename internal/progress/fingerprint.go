package progress

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// DomainDocument separates document fingerprints from any other hash use.
const DomainDocument = "treesync/progress/v1"

// Fingerprint returns a content hash of doc, including UpdatedAt.
// encoding/json emits map keys in sorted order, so equal documents hash
// equally regardless of map iteration order.
func Fingerprint(doc Document) string {
	data, err := json.Marshal(doc)
	if err != nil {
		return ""
	}
	return hashWithDomain(DomainDocument, data)
}

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
