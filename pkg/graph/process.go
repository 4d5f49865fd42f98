package graph

import (
	"context"
	"fmt"

	"github.com/triad-med/triad/pkg/ai"
	"github.com/triad-med/triad/pkg/common"

	"golang.org/x/sync/errgroup"
)

type processReportResult struct {
	findings []common.Finding
	units    int
}

func extractFromUnit(
	ctx context.Context,
	unit reportUnit,
	client ai.GraphAIClient,
	maxRetries int,
) ([]common.Finding, error) {
	res, err := ai.CallFindingsExtract(ctx, unit.text, client, maxRetries)
	if err != nil {
		return nil, err
	}

	findings := make([]common.Finding, 0, len(res.Findings))
	for _, f := range res.Findings {
		findings = append(findings, common.Finding{
			Type:       f.Type,
			Location:   f.Location,
			Size:       f.Size,
			Confidence: f.Confidence,
		})
	}
	return findings, nil
}

func processReportText(
	ctx context.Context,
	reportText string,
	reportID string,
	encoder string,
	maxTokens int,
	client ai.GraphAIClient,
	parallelMax int,
	maxRetries int,
) (*processReportResult, error) {
	units, err := unitsFromReport(reportText, reportID, encoder, maxTokens)
	if err != nil {
		return nil, fmt.Errorf("Failed to split report into units:\n%w", err)
	}
	if len(units) == 0 {
		return &processReportResult{}, nil
	}

	perUnit := make([][]common.Finding, len(units))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(parallelMax)
	for i, unit := range units {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return nil
			default:
				extracted, err := extractFromUnit(gCtx, unit, client, maxRetries)
				if err != nil {
					return fmt.Errorf("Failed to extract findings from report unit:\n%w", err)
				}
				perUnit[i] = extracted
				return nil
			}
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Merge in unit order so repeated ingestion of the same report resolves
	// signature collisions the same way every run.
	findings := make([]common.Finding, 0)
	for _, extracted := range perUnit {
		findings = MergeFindings(findings, extracted)
	}

	return &processReportResult{findings: findings, units: len(units)}, nil
}
