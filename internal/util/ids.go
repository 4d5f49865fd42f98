package util

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const reportHashTextLimit = 256

// NewPublicID returns a random url-safe identifier for API-facing resources.
func NewPublicID() string {
	id, err := gonanoid.New()
	if err != nil {
		// gonanoid only fails when the system RNG is broken
		panic(err)
	}
	return id
}

// StudyID returns the identifier for a newly registered study.
func StudyID() string {
	return "IMG_" + NewPublicID()
}

// ReportID derives a stable identifier for a report so that re-ingesting the
// same report for the same image is an idempotent upsert. Only the first 256
// characters of the text participate in the digest.
func ReportID(imageID, text, model string) string {
	trimmed := text
	if len(trimmed) > reportHashTextLimit {
		trimmed = trimmed[:reportHashTextLimit]
	}
	sum := sha1.Sum([]byte(imageID + "|" + trimmed + "|" + model))
	return "R_" + hex.EncodeToString(sum[:])[:12]
}

// FindingID derives a stable identifier for a finding from its semantic
// attributes. Two findings with the same type, location and size on the same
// image collapse to one node regardless of how often they are extracted.
func FindingID(imageID, findingType, location string, size float64) string {
	sizePart := "na"
	if size > 0 {
		sizePart = fmt.Sprintf("%.1f", size)
	}
	seed := strings.Join([]string{
		strings.ToLower(strings.TrimSpace(imageID)),
		strings.ToLower(strings.TrimSpace(findingType)),
		strings.ToLower(strings.TrimSpace(location)),
		sizePart,
	}, "|")
	sum := sha1.Sum([]byte(seed))
	return "f_" + hex.EncodeToString(sum[:])[:12]
}

// InferenceID returns the identifier for a persisted consensus inference.
func InferenceID() string {
	return "INF_" + NewPublicID()
}

// InferenceIDFromKey derives a stable inference identifier from a caller
// supplied idempotency key. Repeating a request with the same key overwrites
// the same inference instead of growing the history.
func InferenceIDFromKey(key string) string {
	sum := sha1.Sum([]byte(key))
	return "INF_" + hex.EncodeToString(sum[:])[:12]
}

// FallbackPathID names the n-th synthesized evidence path. Synthesized paths
// are distinguishable from graph paths by this prefix alone.
func FallbackPathID(n int) string {
	return fmt.Sprintf("FALLBACK_%d", n)
}

// IsFallbackPathID reports whether id names a synthesized path.
func IsFallbackPathID(id string) bool {
	return strings.HasPrefix(id, "FALLBACK_")
}
