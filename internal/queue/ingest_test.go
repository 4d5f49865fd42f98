package queue

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/triad-med/triad/pkg/ai"
)

func TestLoadReportText_URLSource(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "Hepatic mass measuring 2.1 cm.")
	}))
	defer server.Close()

	text, err := loadReportText(context.Background(), nil, ai.NewMockClient(), "IMG201", server.URL+"/report.txt")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if text != "Hepatic mass measuring 2.1 cm." {
		t.Fatalf("expected the fetched report text, got %q", text)
	}
}
