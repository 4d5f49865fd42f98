package memory

import (
	"context"
	"errors"
	"time"

	"github.com/triad-med/triad/internal/util"
	"github.com/triad-med/triad/pkg/common"
)

// ErrGraphUnavailable is the forced failure attached to the broken demo
// image.
var ErrGraphUnavailable = errors.New("graph neighborhood unavailable")

// Demo image ids. IMG201 carries a full neighborhood, IMG202 is its
// similar neighbor, IMG_BROKEN always fails retrieval.
const (
	DemoImage        = "IMG201"
	DemoSimilarImage = "IMG202"
	DemoBrokenImage  = "IMG_BROKEN"
)

// SeedDemo loads the canonical demo graph into the store: one CT study
// with two findings, an attached report and a linked similar image, plus a
// broken image for exercising the fallback paths.
func SeedDemo(s *Store) {
	ctx := context.Background()
	base := time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)

	_ = s.SaveStudy(ctx, common.Study{
		ID:        DemoImage,
		Modality:  "CT",
		BodyPart:  "abdomen",
		ObjectKey: "studies/IMG201.png",
		Status:    common.StudyStatusReady,
		CreatedAt: base,
	})
	_ = s.SaveStudy(ctx, common.Study{
		ID:        DemoSimilarImage,
		Modality:  "CT",
		BodyPart:  "abdomen",
		ObjectKey: "studies/IMG202.png",
		Status:    common.StudyStatusReady,
		CreatedAt: base.Add(time.Minute),
	})
	_ = s.SaveStudy(ctx, common.Study{
		ID:        DemoBrokenImage,
		Modality:  "CT",
		ObjectKey: "studies/IMG_BROKEN.png",
		Status:    common.StudyStatusReady,
		CreatedAt: base.Add(2 * time.Minute),
	})

	reportText := "Hepatic mass measuring 2.1 cm. Small nodule in the right lower lobe."
	report := common.Report{
		ID:         util.ReportID(DemoImage, reportText, "referring"),
		ImageID:    DemoImage,
		Text:       reportText,
		Model:      "referring",
		Confidence: 0.9,
		CreatedAt:  base,
	}
	_ = s.SaveReport(ctx, report)

	_, _ = s.SaveFindings(ctx, DemoImage, []common.Finding{
		{Type: "mass", Location: "liver", Size: 2.1, Confidence: 0.88},
		{Type: "nodule", Location: "right lower lobe", Size: 1.4, Confidence: 0.82},
	})

	_ = s.LinkSimilar(ctx, DemoImage, []common.SimilarImage{
		{ID: DemoSimilarImage, Modality: "CT", Score: 0.82, Basis: "modality+finding_type+location"},
	})
	s.SetSemanticNeighbors(DemoImage, []common.SimilarImage{
		{ID: DemoSimilarImage, Modality: "CT", Score: 0.7},
	})

	s.FailRetrieval(DemoBrokenImage, ErrGraphUnavailable)
}
