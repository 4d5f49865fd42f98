package ai

import (
	"context"
	"fmt"
	"strings"

	gUtil "github.com/triad-med/triad/internal/util"
	"github.com/triad-med/triad/pkg/common"
)

const DedupeBatchSize = 300

// DuplicateGroup represents a group of finding terms that denote the same
// clinical concept, with a canonical name.
type DuplicateGroup struct {
	Name  string   `json:"canonicalName" jsonschema_description:"The canonical finding term for the group."`
	Terms []string `json:"terms" jsonschema_description:"Finding terms that denote the same clinical concept."`
}

// DuplicatesResponse is the response from the AI dedupe call
type DuplicatesResponse struct {
	Duplicates []DuplicateGroup `json:"duplicates" jsonschema_description:"Groups of duplicate finding terms."`
}

// CallDedupeAI calls the AI to identify finding terms that refer to the
// same clinical concept. Findings are presented as term/location rows; the
// response groups duplicate terms under a canonical name.
func CallDedupeAI(
	ctx context.Context,
	findings []common.Finding,
	aiClient GraphAIClient,
	maxRetries int,
) (*DuplicatesResponse, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if aiClient == nil {
		return nil, fmt.Errorf("ai client is nil")
	}
	if len(findings) < 2 {
		return &DuplicatesResponse{Duplicates: []DuplicateGroup{}}, nil
	}

	type row struct {
		term     string
		location string
	}
	seen := map[row]bool{}
	cleaned := make([]row, 0, len(findings))
	for _, f := range findings {
		r := row{
			term:     NormalizeDedupeValue(f.Type),
			location: NormalizeDedupeValue(f.Location),
		}
		if r.term == "" || seen[r] {
			continue
		}
		seen[r] = true
		cleaned = append(cleaned, r)
	}
	if len(cleaned) < 2 {
		return &DuplicatesResponse{Duplicates: []DuplicateGroup{}}, nil
	}
	if len(cleaned) > DedupeBatchSize {
		return nil, fmt.Errorf("dedupe batch size exceeded: %d > %d", len(cleaned), DedupeBatchSize)
	}

	var findingData strings.Builder
	findingData.WriteString("Finding terms:\n")
	for _, r := range cleaned {
		location := r.location
		if location == "" {
			location = "unspecified"
		}
		fmt.Fprintf(&findingData, "- Term: %s, Location: %s\n", r.term, location)
	}
	prompt := fmt.Sprintf(DedupePrompt, findingData.String())

	var res DuplicatesResponse
	err := gUtil.RetryErrWithContext(ctx, maxRetries, func(ctx context.Context) error {
		return aiClient.GenerateCompletionWithFormat(
			ctx, "dedupe_findings", "Deduplicate finding terms that denote the same concept.", prompt, &res,
		)
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// NormalizeDedupeValue standardizes terms for dedupe comparisons.
func NormalizeDedupeValue(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.ToLower(strings.Join(strings.Fields(value), " "))
	return value
}

// GetDedupeBatchSize returns the batch size for deduplication
func GetDedupeBatchSize() int {
	return DedupeBatchSize
}
