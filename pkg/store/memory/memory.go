package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/triad-med/triad/pkg/common"
	"github.com/triad-med/triad/pkg/store"
)

// Store is a map-backed GraphStorage. It backs tests and MOCK_MODE runs
// where no PostgreSQL instance is available. All methods are safe for
// concurrent use.
type Store struct {
	mu         sync.RWMutex
	studies    map[string]common.Study
	findings   map[string][]common.Finding
	reports    map[string][]common.Report
	similar    map[string][]common.SimilarImage
	semantic   map[string][]common.SimilarImage
	inferences map[string][]common.Inference
	failures   map[string]error
	findingSeq int
}

var _ store.GraphStorage = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		studies:    make(map[string]common.Study),
		findings:   make(map[string][]common.Finding),
		reports:    make(map[string][]common.Report),
		similar:    make(map[string][]common.SimilarImage),
		semantic:   make(map[string][]common.SimilarImage),
		inferences: make(map[string][]common.Inference),
		failures:   make(map[string]error),
	}
}

// FailRetrieval forces neighborhood retrieval for imageID to return err.
// Used by tests and the demo dataset to simulate a broken graph
// neighborhood. A nil err clears the failure.
func (s *Store) FailRetrieval(imageID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, imageID)
		return
	}
	s.failures[imageID] = err
}

// SetSemanticNeighbors seeds embedding-space candidates for an image.
// The pgx store derives these from pgvector; here they are declared.
func (s *Store) SetSemanticNeighbors(imageID string, neighbors []common.SimilarImage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.semantic[imageID] = append([]common.SimilarImage(nil), neighbors...)
}

func (s *Store) Neighborhood(ctx context.Context, imageID string) (store.Neighborhood, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err, ok := s.failures[imageID]; ok {
		return store.Neighborhood{}, err
	}

	reports := append([]common.Report(nil), s.reports[imageID]...)
	sort.SliceStable(reports, func(i, j int) bool {
		if reports[i].Confidence != reports[j].Confidence {
			return reports[i].Confidence > reports[j].Confidence
		}
		return reports[i].ID < reports[j].ID
	})

	bestRepConf := 0.0
	if len(reports) > 0 {
		bestRepConf = reports[0].Confidence
	}
	findings := make([]common.Finding, 0, len(s.findings[imageID]))
	for _, f := range s.findings[imageID] {
		f.ReportConf = bestRepConf
		findings = append(findings, f)
	}
	sort.SliceStable(findings, func(i, j int) bool {
		if findings[i].Confidence != findings[j].Confidence {
			return findings[i].Confidence > findings[j].Confidence
		}
		return findings[i].ID < findings[j].ID
	})

	similar := append([]common.SimilarImage(nil), s.similar[imageID]...)
	sort.SliceStable(similar, func(i, j int) bool {
		if similar[i].Score != similar[j].Score {
			return similar[i].Score > similar[j].Score
		}
		return similar[i].ID < similar[j].ID
	})

	return store.Neighborhood{
		ImageID:        imageID,
		Findings:       findings,
		Reports:        reports,
		Similar:        similar,
		InferenceCount: len(s.inferences[imageID]),
	}, nil
}

func (s *Store) SemanticNeighbors(ctx context.Context, imageID string, topK int) ([]common.SimilarImage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err, ok := s.failures[imageID]; ok {
		return nil, err
	}
	neighbors := append([]common.SimilarImage(nil), s.semantic[imageID]...)
	sortSimilar(neighbors)
	return capSimilar(neighbors, topK), nil
}

func (s *Store) SimilarImages(ctx context.Context, imageID string, topK int) ([]common.SimilarImage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err, ok := s.failures[imageID]; ok {
		return nil, err
	}
	neighbors := append([]common.SimilarImage(nil), s.similar[imageID]...)
	sortSimilar(neighbors)
	return capSimilar(neighbors, topK), nil
}

func (s *Store) LinkSimilar(ctx context.Context, imageID string, neighbors []common.SimilarImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.similar[imageID]
	for _, n := range neighbors {
		replaced := false
		for i := range existing {
			if existing[i].ID == n.ID {
				existing[i] = n
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, n)
		}
	}
	s.similar[imageID] = existing
	return nil
}

func (s *Store) SaveStudy(ctx context.Context, study common.Study) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if study.Status == "" {
		study.Status = common.StudyStatusQueued
	}
	if study.CreatedAt.IsZero() {
		study.CreatedAt = time.Now().UTC()
	}
	s.studies[study.ID] = study
	return nil
}

func (s *Store) GetStudy(ctx context.Context, id string) (common.Study, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	study, ok := s.studies[id]
	if !ok {
		return common.Study{}, fmt.Errorf("%w: %s", store.ErrStudyNotFound, id)
	}
	return study, nil
}

func (s *Store) ListStudies(ctx context.Context, limit, offset int) ([]common.Study, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	studies := make([]common.Study, 0, len(s.studies))
	for _, st := range s.studies {
		studies = append(studies, st)
	}
	sort.SliceStable(studies, func(i, j int) bool {
		if !studies[i].CreatedAt.Equal(studies[j].CreatedAt) {
			return studies[i].CreatedAt.After(studies[j].CreatedAt)
		}
		return studies[i].ID < studies[j].ID
	})
	if offset >= len(studies) {
		return nil, nil
	}
	studies = studies[offset:]
	if limit > 0 && len(studies) > limit {
		studies = studies[:limit]
	}
	return studies, nil
}

func (s *Store) SetStudyStatus(ctx context.Context, id string, status common.StudyStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	study, ok := s.studies[id]
	if !ok {
		return fmt.Errorf("%w: %s", store.ErrStudyNotFound, id)
	}
	study.Status = status
	s.studies[id] = study
	return nil
}

func (s *Store) DeleteStudy(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.studies, id)
	delete(s.findings, id)
	delete(s.reports, id)
	delete(s.similar, id)
	delete(s.semantic, id)
	delete(s.inferences, id)
	for other, neighbors := range s.similar {
		kept := neighbors[:0]
		for _, n := range neighbors {
			if n.ID != id {
				kept = append(kept, n)
			}
		}
		s.similar[other] = kept
	}
	return nil
}

func (s *Store) SaveReport(ctx context.Context, report common.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if report.CreatedAt.IsZero() {
		report.CreatedAt = time.Now().UTC()
	}
	existing := s.reports[report.ImageID]
	for i := range existing {
		if existing[i].ID == report.ID {
			existing[i] = report
			return nil
		}
	}
	s.reports[report.ImageID] = append(existing, report)
	return nil
}

func (s *Store) SaveFindings(ctx context.Context, imageID string, findings []common.Finding) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(findings))
	existing := s.findings[imageID]
	for _, f := range findings {
		key := store.FindingKey(f)
		matched := false
		for i := range existing {
			if store.FindingKey(existing[i]) == key {
				if f.Confidence > existing[i].Confidence {
					existing[i].Confidence = f.Confidence
				}
				ids = append(ids, existing[i].ID)
				matched = true
				break
			}
		}
		if matched {
			continue
		}
		s.findingSeq++
		f.ID = fmt.Sprintf("F%d", s.findingSeq)
		existing = append(existing, f)
		ids = append(ids, f.ID)
	}
	s.findings[imageID] = existing
	return ids, nil
}

func (s *Store) SaveInference(ctx context.Context, inf common.Inference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inf.CreatedAt.IsZero() {
		inf.CreatedAt = time.Now().UTC()
	}
	list := s.inferences[inf.ImageID]
	for i := range list {
		if list[i].ID == inf.ID {
			list[i] = inf
			s.inferences[inf.ImageID] = list
			return nil
		}
	}
	s.inferences[inf.ImageID] = append(list, inf)
	return nil
}

func (s *Store) ListInferences(ctx context.Context, imageID string, limit int) ([]common.Inference, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infs := append([]common.Inference(nil), s.inferences[imageID]...)
	sort.SliceStable(infs, func(i, j int) bool {
		return infs[i].CreatedAt.After(infs[j].CreatedAt)
	})
	if limit > 0 && len(infs) > limit {
		infs = infs[:limit]
	}
	return infs, nil
}

func sortSimilar(neighbors []common.SimilarImage) {
	sort.SliceStable(neighbors, func(i, j int) bool {
		if neighbors[i].Score != neighbors[j].Score {
			return neighbors[i].Score > neighbors[j].Score
		}
		return neighbors[i].ID < neighbors[j].ID
	})
}

func capSimilar(neighbors []common.SimilarImage, topK int) []common.SimilarImage {
	if topK > 0 && len(neighbors) > topK {
		return neighbors[:topK]
	}
	return neighbors
}
