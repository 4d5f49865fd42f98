package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/triad-med/triad/internal/server/middleware"
	"github.com/triad-med/triad/pkg/ai"
	"github.com/triad-med/triad/pkg/analyze"
	"github.com/triad-med/triad/pkg/common"
	memloader "github.com/triad-med/triad/pkg/loader/memory"
	"github.com/triad-med/triad/pkg/store"
	"github.com/triad-med/triad/pkg/store/memory"
)

type testValidator struct {
	validator *validator.Validate
}

func (v *testValidator) Validate(i any) error {
	return v.validator.Struct(i)
}

// newMockApp builds the app the way mock mode boots it: seeded memory
// store, deterministic AI client, placeholder image loader, no queue.
func newMockApp() (*middleware.App, *memory.Store) {
	s := memory.NewStore()
	memory.SeedDemo(s)
	app := &middleware.App{
		AiClient:    ai.NewMockClient(),
		Store:       s,
		ImageLoader: memloader.NewMemoryGraphFileLoader(),
		MockMode:    true,
	}
	return app, s
}

// perform runs one handler against a synthetic request and returns the
// recorded response. Handlers answer through the response writer, a
// returned error is a test failure.
func perform(
	t *testing.T,
	app *middleware.App,
	handler echo.HandlerFunc,
	req *http.Request,
	params map[string]string,
) *httptest.ResponseRecorder {
	t.Helper()

	e := echo.New()
	e.Validator = &testValidator{validator: validator.New()}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	names := make([]string, 0, len(params))
	values := make([]string, 0, len(params))
	for name, value := range params {
		names = append(names, name)
		values = append(values, value)
	}
	c.SetParamNames(names...)
	c.SetParamValues(values...)

	cc := &middleware.AppContext{Context: c, App: app, User: &middleware.AppUser{UserID: "tester"}}
	if err := handler(cc); err != nil {
		t.Fatalf("expected the handler to answer via the response, got %v", err)
	}
	return rec
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

func formRequest(target, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("expected a decodable body, got %v: %s", err, rec.Body.String())
	}
}

func TestGetHealth_MockMode(t *testing.T) {
	app, _ := newMockApp()

	rec := perform(t, app, GetHealthHandler, httptest.NewRequest(http.MethodGet, "/health", nil), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Status   string            `json:"status"`
		Services map[string]string `json:"services"`
	}
	decodeBody(t, rec, &body)
	if body.Status != "ok" {
		t.Fatalf("expected ok, got %q", body.Status)
	}
	for _, svc := range []string{"db", "queue", "ai"} {
		if body.Services[svc] != "mock" {
			t.Fatalf("expected %s reported as mock, got %q", svc, body.Services[svc])
		}
	}
}

func TestGetStudies_LimitNewestFirst(t *testing.T) {
	app, _ := newMockApp()

	rec := perform(t, app, GetStudiesHandler, httptest.NewRequest(http.MethodGet, "/studies?limit=2", nil), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Studies []common.Study `json:"studies"`
		Limit   int            `json:"limit"`
		Offset  int            `json:"offset"`
	}
	decodeBody(t, rec, &body)
	if body.Limit != 2 || body.Offset != 0 {
		t.Fatalf("expected the paging echoed back, got limit %d offset %d", body.Limit, body.Offset)
	}
	if len(body.Studies) != 2 {
		t.Fatalf("expected 2 studies, got %d", len(body.Studies))
	}
	if body.Studies[0].ID != memory.DemoBrokenImage {
		t.Fatalf("expected the newest study first, got %s", body.Studies[0].ID)
	}
}

func TestGetStudy(t *testing.T) {
	app, _ := newMockApp()

	rec := perform(t, app, GetStudyHandler, httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"id": memory.DemoImage})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Study common.Study `json:"study"`
	}
	decodeBody(t, rec, &body)
	if body.Study.ID != memory.DemoImage || body.Study.Modality != "CT" {
		t.Fatalf("expected the seeded CT study, got %+v", body.Study)
	}
	if body.Study.Status != common.StudyStatusReady {
		t.Fatalf("expected ready status, got %q", body.Study.Status)
	}
}

func TestGetStudy_NotFound(t *testing.T) {
	app, _ := newMockApp()

	rec := perform(t, app, GetStudyHandler, httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"id": "IMG999"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	var body map[string]string
	decodeBody(t, rec, &body)
	if body["message"] != "Study not found" {
		t.Fatalf("expected the not found message, got %q", body["message"])
	}
}

func TestCreateStudy_MockDefaults(t *testing.T) {
	app, s := newMockApp()

	rec := perform(t, app, CreateStudyHandler, formRequest("/studies", "modality=ct&body_part=Chest&patient_ref=P42"), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Message string       `json:"message"`
		Study   common.Study `json:"study"`
	}
	decodeBody(t, rec, &body)
	if body.Message != "Study registered" {
		t.Fatalf("expected registration message, got %q", body.Message)
	}
	if !strings.HasPrefix(body.Study.ID, "IMG_") {
		t.Fatalf("expected a generated image id, got %q", body.Study.ID)
	}
	if body.Study.Modality != "CT" || body.Study.BodyPart != "chest" {
		t.Fatalf("expected normalized modality and body part, got %q %q", body.Study.Modality, body.Study.BodyPart)
	}
	if body.Study.PatientRef != "P42" {
		t.Fatalf("expected the patient ref kept, got %q", body.Study.PatientRef)
	}
	if body.Study.Status != common.StudyStatusQueued {
		t.Fatalf("expected queued status, got %q", body.Study.Status)
	}
	if body.Study.ObjectKey != "studies/"+body.Study.ID+".png" {
		t.Fatalf("expected the mock object key convention, got %q", body.Study.ObjectKey)
	}

	if _, err := s.GetStudy(context.Background(), body.Study.ID); err != nil {
		t.Fatalf("expected the study persisted, got %v", err)
	}
}

func TestAddStudyReport_RequiresExactlyOneSource(t *testing.T) {
	app, _ := newMockApp()

	cases := []struct {
		name string
		body string
	}{
		{"both", `{"text":"Hepatic mass.","object_key":"reports/r1.docx"}`},
		{"neither", `{}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := perform(t, app, AddStudyReportHandler, jsonRequest(http.MethodPost, "/", tc.body), map[string]string{"id": memory.DemoImage})
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			var body map[string]string
			decodeBody(t, rec, &body)
			if body["message"] != "Provide either text or object_key" {
				t.Fatalf("expected the source rule message, got %q", body["message"])
			}
		})
	}
}

func TestAddStudyReport_NotFound(t *testing.T) {
	app, _ := newMockApp()

	rec := perform(t, app, AddStudyReportHandler, jsonRequest(http.MethodPost, "/", `{"text":"Hepatic mass."}`), map[string]string{"id": "IMG999"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAddStudyReport_ObjectKeyNeedsObjectStore(t *testing.T) {
	app, _ := newMockApp()

	rec := perform(t, app, AddStudyReportHandler, jsonRequest(http.MethodPost, "/", `{"object_key":"reports/r1.docx"}`), map[string]string{"id": memory.DemoImage})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	var body map[string]string
	decodeBody(t, rec, &body)
	if body["message"] != "Document import requires object storage" {
		t.Fatalf("expected the object storage message, got %q", body["message"])
	}
}

func TestAddStudyReport_InlineIngest(t *testing.T) {
	app, s := newMockApp()
	ctx := context.Background()

	rec := perform(t, app, AddStudyReportHandler,
		jsonRequest(http.MethodPost, "/", `{"text":"Hepatic mass measuring 2.1 cm."}`),
		map[string]string{"id": memory.DemoSimilarImage})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for inline ingest, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Message string `json:"message"`
		ImageID string `json:"image_id"`
		Status  string `json:"status"`
	}
	decodeBody(t, rec, &body)
	if body.ImageID != memory.DemoSimilarImage || body.Status != "ready" {
		t.Fatalf("expected the study ready after inline ingest, got %+v", body)
	}

	study, err := s.GetStudy(ctx, memory.DemoSimilarImage)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if study.Status != common.StudyStatusReady {
		t.Fatalf("expected ready status persisted, got %q", study.Status)
	}
	n, err := s.Neighborhood(ctx, memory.DemoSimilarImage)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(n.Reports) == 0 {
		t.Fatal("expected the ingested report attached to the study")
	}
}

func TestAnalyze_SingleMode(t *testing.T) {
	app, _ := newMockApp()

	rec := perform(t, app, AnalyzeHandler, jsonRequest(http.MethodPost, "/analyze", `{"image_id":"IMG201","modes":["V"]}`), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body analyze.AnalyzeResponse
	decodeBody(t, rec, &body)
	if !body.OK || body.ImageID != memory.DemoImage {
		t.Fatalf("expected an ok response for %s, got %+v", memory.DemoImage, body)
	}
	if len(body.Results) != 1 || body.Results[0].Mode != common.ModeV {
		t.Fatalf("expected one V output, got %+v", body.Results)
	}
	if body.Results[0].Text != "no acute findings" {
		t.Fatalf("expected the canned V answer, got %q", body.Results[0].Text)
	}
	if body.Consensus.Status != common.StatusLowConfidence {
		t.Fatalf("expected low confidence for a single mode, got %q", body.Consensus.Status)
	}
	if body.Consensus.Text != "no acute findings" {
		t.Fatalf("expected the surviving mode text, got %q", body.Consensus.Text)
	}
	if body.InferenceID == "" {
		t.Fatal("expected a persisted inference id")
	}
}

func TestAnalyze_DefaultModes(t *testing.T) {
	app, s := newMockApp()

	rec := perform(t, app, AnalyzeHandler, jsonRequest(http.MethodPost, "/analyze", `{"image_id":"IMG201"}`), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var body analyze.AnalyzeResponse
	decodeBody(t, rec, &body)
	if len(body.Results) != 3 {
		t.Fatalf("expected all three modes, got %d", len(body.Results))
	}
	if body.GraphContext.FallbackUsed {
		t.Fatal("expected real graph evidence from the seeded neighborhood")
	}
	if !strings.Contains(body.ContextText, "[EDGE SUMMARY]") {
		t.Fatalf("expected the rendered bundle text, got %q", body.ContextText)
	}
	for _, key := range []string{"llm_v_ms", "llm_vl_ms", "llm_vgl_ms", "consensus_ms"} {
		if _, ok := body.Timings[key]; !ok {
			t.Fatalf("expected timing key %s, got %v", key, body.Timings)
		}
	}
	if body.Consensus.Text == "" {
		t.Fatal("expected a consensus verdict")
	}

	infs, err := s.ListInferences(context.Background(), memory.DemoImage, 10)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(infs) != 1 || infs[0].ID != body.InferenceID {
		t.Fatalf("expected the inference persisted as %s, got %v", body.InferenceID, infs)
	}
}

func TestAnalyze_ErrorMapping(t *testing.T) {
	app, _ := newMockApp()

	cases := []struct {
		name    string
		body    string
		code    int
		message string
	}{
		{"unknown study", `{"image_id":"IMG999"}`, http.StatusNotFound, "Study not found"},
		{"unknown mode", `{"image_id":"IMG201","modes":["X"]}`, http.StatusBadRequest, "Unknown mode requested"},
		{"missing image id", `{"modes":["V"]}`, http.StatusBadRequest, "Invalid request body"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := perform(t, app, AnalyzeHandler, jsonRequest(http.MethodPost, "/analyze", tc.body), nil)
			if rec.Code != tc.code {
				t.Fatalf("expected %d, got %d: %s", tc.code, rec.Code, rec.Body.String())
			}
			var body map[string]string
			decodeBody(t, rec, &body)
			if body["message"] != tc.message {
				t.Fatalf("expected %q, got %q", tc.message, body["message"])
			}
		})
	}
}

func TestGetStudyContext(t *testing.T) {
	app, _ := newMockApp()

	rec := perform(t, app, GetStudyContextHandler, httptest.NewRequest(http.MethodGet, "/?k=2", nil), map[string]string{"id": memory.DemoImage})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		ImageID     string                `json:"image_id"`
		Context     common.EvidenceBundle `json:"context"`
		ContextText string                `json:"context_text"`
	}
	decodeBody(t, rec, &body)
	if body.ImageID != memory.DemoImage {
		t.Fatalf("expected %s, got %s", memory.DemoImage, body.ImageID)
	}
	if body.Context.FallbackUsed {
		t.Fatal("expected a real bundle for the seeded study")
	}
	if len(body.Context.Paths) == 0 {
		t.Fatal("expected evidence paths in the bundle")
	}
	for _, header := range []string{"[EDGE SUMMARY]", "[FACTS JSON]"} {
		if !strings.Contains(body.ContextText, header) {
			t.Fatalf("expected %s in the rendered text, got %q", header, body.ContextText)
		}
	}
}

func TestGetStudyContext_BrokenFallsBack(t *testing.T) {
	app, _ := newMockApp()

	rec := perform(t, app, GetStudyContextHandler, httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"id": memory.DemoBrokenImage})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with the fallback bundle, got %d", rec.Code)
	}

	var body struct {
		Context common.EvidenceBundle `json:"context"`
	}
	decodeBody(t, rec, &body)
	if !body.Context.FallbackUsed {
		t.Fatal("expected the fallback bundle when retrieval fails")
	}
	if body.Context.FallbackReason != common.FallbackReasonRetrievalFailed {
		t.Fatalf("expected retrieval_failed, got %q", body.Context.FallbackReason)
	}
}

func TestGetStudyPaths(t *testing.T) {
	app, _ := newMockApp()

	rec := perform(t, app, GetStudyPathsHandler, httptest.NewRequest(http.MethodGet, "/?k=2", nil), map[string]string{"id": memory.DemoImage})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		ImageID   string                           `json:"image_id"`
		K         int                              `json:"k"`
		Paths     map[string][]common.EvidencePath `json:"paths"`
		Available map[string]int                   `json:"available"`
	}
	decodeBody(t, rec, &body)
	if body.K != 2 {
		t.Fatalf("expected k echoed back, got %d", body.K)
	}
	if len(body.Paths["findings"]) == 0 {
		t.Fatal("expected finding paths for the seeded study")
	}
	if body.Available["findings"] < len(body.Paths["findings"]) {
		t.Fatalf("expected available counts to cover the returned paths, got %v", body.Available)
	}
}

func TestGetStudyPaths_InvalidK(t *testing.T) {
	app, _ := newMockApp()

	rec := perform(t, app, GetStudyPathsHandler, httptest.NewRequest(http.MethodGet, "/?k=99", nil), map[string]string{"id": memory.DemoImage})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetStudyPaths_BrokenSurfacesError(t *testing.T) {
	app, _ := newMockApp()

	rec := perform(t, app, GetStudyPathsHandler, httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"id": memory.DemoBrokenImage})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}

	var body map[string]string
	decodeBody(t, rec, &body)
	if body["message"] != "Graph retrieval failed" {
		t.Fatalf("expected the retrieval failure message, got %q", body["message"])
	}
}

func TestGetStudySimilar(t *testing.T) {
	app, _ := newMockApp()

	rec := perform(t, app, GetStudySimilarHandler, httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"id": memory.DemoImage})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		ImageID string                `json:"image_id"`
		Similar []common.SimilarImage `json:"similar"`
	}
	decodeBody(t, rec, &body)
	if len(body.Similar) != 1 || body.Similar[0].ID != memory.DemoSimilarImage {
		t.Fatalf("expected the seeded similar neighbor, got %v", body.Similar)
	}
	if body.Similar[0].Score != 0.82 {
		t.Fatalf("expected the seeded score, got %v", body.Similar[0].Score)
	}
}

func TestGetStudyAnalyses(t *testing.T) {
	app, s := newMockApp()
	ctx := context.Background()

	err := s.SaveInference(ctx, common.Inference{
		ID:      "INF_1",
		ImageID: memory.DemoImage,
		Result:  common.ConsensusResult{Text: "mass in liver", Status: common.StatusAgree},
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	rec := perform(t, app, GetStudyAnalysesHandler, httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"id": memory.DemoImage})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body struct {
		ImageID  string             `json:"image_id"`
		Analyses []common.Inference `json:"analyses"`
	}
	decodeBody(t, rec, &body)
	if len(body.Analyses) != 1 || body.Analyses[0].ID != "INF_1" {
		t.Fatalf("expected the saved inference, got %v", body.Analyses)
	}
	if body.Analyses[0].Result.Text != "mass in liver" {
		t.Fatalf("expected the verdict carried along, got %+v", body.Analyses[0].Result)
	}
}

func TestGetStudyAnalyses_EmptyIsNotNull(t *testing.T) {
	app, _ := newMockApp()

	rec := perform(t, app, GetStudyAnalysesHandler, httptest.NewRequest(http.MethodGet, "/", nil), map[string]string{"id": memory.DemoSimilarImage})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"analyses":[]`) {
		t.Fatalf("expected an empty array, got %s", rec.Body.String())
	}
}

func TestDeleteStudy_InlineMockMode(t *testing.T) {
	app, s := newMockApp()
	ctx := context.Background()

	rec := perform(t, app, DeleteStudyHandler, httptest.NewRequest(http.MethodDelete, "/", nil), map[string]string{"id": memory.DemoSimilarImage})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for inline deletion, got %d: %s", rec.Code, rec.Body.String())
	}

	var body struct {
		Message string `json:"message"`
		ImageID string `json:"image_id"`
	}
	decodeBody(t, rec, &body)
	if body.Message != "Study deleted" || body.ImageID != memory.DemoSimilarImage {
		t.Fatalf("expected the deletion confirmed, got %+v", body)
	}

	if _, err := s.GetStudy(ctx, memory.DemoSimilarImage); !errors.Is(err, store.ErrStudyNotFound) {
		t.Fatalf("expected the study gone, got %v", err)
	}
	similar, err := s.SimilarImages(ctx, memory.DemoImage, 10)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(similar) != 0 {
		t.Fatalf("expected the similarity edge removed with the study, got %v", similar)
	}
}

func TestDeleteStudy_NotFound(t *testing.T) {
	app, _ := newMockApp()

	rec := perform(t, app, DeleteStudyHandler, httptest.NewRequest(http.MethodDelete, "/", nil), map[string]string{"id": "IMG999"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
