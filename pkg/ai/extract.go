package ai

import (
	"context"
	"fmt"

	gUtil "github.com/triad-med/triad/internal/util"
)

// ExtractedFinding is one structured finding parsed from a report.
type ExtractedFinding struct {
	Type       string  `json:"type" jsonschema_description:"Short lowercase finding term, e.g. mass, nodule, effusion."`
	Location   string  `json:"location" jsonschema_description:"Anatomical location as stated in the report, lowercase."`
	Size       float64 `json:"size" jsonschema_description:"Size in centimeters, 0 when the report states none."`
	Confidence float64 `json:"confidence" jsonschema_description:"How firmly the report asserts the finding, between 0 and 1."`
}

// FindingsResponse is the response from the findings extraction call.
type FindingsResponse struct {
	Findings []ExtractedFinding `json:"findings" jsonschema_description:"All distinct findings stated in the report."`
}

// CallFindingsExtract extracts structured findings from report text. Only
// the findings and impression sections are sent when the report has them.
func CallFindingsExtract(
	ctx context.Context,
	reportText string,
	aiClient GraphAIClient,
	maxRetries int,
) (*FindingsResponse, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if aiClient == nil {
		return nil, fmt.Errorf("ai client is nil")
	}

	body := FindingsText(reportText)
	if body == "" {
		return &FindingsResponse{Findings: []ExtractedFinding{}}, nil
	}
	prompt := fmt.Sprintf(ExtractFindingsPrompt, body)

	var res FindingsResponse
	err := gUtil.RetryErrWithContext(ctx, maxRetries, func(ctx context.Context) error {
		return aiClient.GenerateCompletionWithFormat(
			ctx, "extract_findings", "Extract structured findings from the report.", prompt, &res,
		)
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}
