package utils

import (
	"strings"

	"github.com/google/uuid"
)

// GeneratePeerID returns a fresh opaque peer id. Rejoining guests always get
// a new one.
func GeneratePeerID() string {
	return "peer-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// GenerateDocumentID returns an autogenerated store document id.
func GenerateDocumentID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
