package ai

import (
	"context"
	"fmt"

	gUtil "github.com/triad-med/triad/internal/util"
)

// StudyMetadata is the AI classification of a study from its report text.
type StudyMetadata struct {
	Modality   string  `json:"modality" jsonschema_description:"Imaging modality short code (CT, MR, US, XR, PET, MG, NM), empty when the report never names one."`
	BodyPart   string  `json:"bodyPart" jsonschema_description:"Primary examined body part as a short lowercase phrase, empty when unknown."`
	Confidence float64 `json:"confidence" jsonschema_description:"Certainty of the classification between 0 and 1."`
}

// ExtractStudyMetadata classifies the modality and body part of a study
// from its report. The prompt sees the technique section plus a report
// excerpt, which is where dictated reports state both.
func ExtractStudyMetadata(
	ctx context.Context,
	aiClient GraphAIClient,
	reportText string,
	maxRetries int,
) (*StudyMetadata, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if aiClient == nil {
		return nil, fmt.Errorf("ai client is nil")
	}

	sections := SplitReportSections(reportText)
	excerpt := ExtractFirstNWords(reportText, 300)
	body := excerpt
	if sections.Technique != "" {
		body = "TECHNIQUE: " + sections.Technique + "\n\n" + excerpt
	}
	prompt := fmt.Sprintf(MetadataPrompt, body)

	var res StudyMetadata
	err := gUtil.RetryErrWithContext(ctx, maxRetries, func(ctx context.Context) error {
		return aiClient.GenerateCompletionWithFormat(
			ctx, "study_metadata", "Classify the study modality and body part.", prompt, &res,
		)
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}
