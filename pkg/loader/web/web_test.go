package web

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/triad-med/triad/pkg/loader"
)

const reportHTML = `<!DOCTYPE html>
<html>
<head><title>Radiology Report IMG201</title></head>
<body>
<article>
<h1>Radiology Report</h1>
<p>Contrast-enhanced CT of the abdomen demonstrates a hepatic mass measuring 2.1 cm in segment four with peripheral enhancement and central hypodensity, suspicious for a primary lesion.</p>
<p>There is a small nodule in the right lower lobe measuring 1.4 cm with smooth margins, most consistent with a benign granuloma, stable compared to outside imaging.</p>
<p>No free fluid, no lymphadenopathy, and no osseous lesions. The remaining visualized organs are unremarkable in appearance.</p>
</article>
</body>
</html>`

func TestGetFileText_ExtractsReadableText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, reportHTML)
	}))
	defer server.Close()

	l := NewWebGraphLoader()
	text, err := l.GetFileText(context.Background(), loader.GraphFile{ID: "IMG201", FilePath: server.URL + "/report.html"})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	got := string(text)
	if !strings.Contains(got, "hepatic mass") {
		t.Fatalf("expected the report body extracted, got %q", got)
	}
	if strings.Contains(got, "<p>") {
		t.Fatalf("expected markup stripped, got %q", got)
	}
}

func TestGetFileText_NonHTMLReadRaw(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "Hepatic mass measuring 2.1 cm.")
	}))
	defer server.Close()

	l := NewWebGraphLoader()
	text, err := l.GetFileText(context.Background(), loader.GraphFile{ID: "IMG201", FilePath: server.URL + "/report.txt"})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if string(text) != "Hepatic mass measuring 2.1 cm." {
		t.Fatalf("expected the body read as is, got %q", text)
	}
}

func TestGetFileText_CachesPerFile(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "Hepatic mass measuring 2.1 cm.")
	}))
	defer server.Close()

	l := NewWebGraphLoader()
	file := loader.GraphFile{ID: "IMG201", FilePath: server.URL + "/report.txt"}

	first, err := l.GetFileText(context.Background(), file)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	second, err := l.GetFileText(context.Background(), file)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if string(first) != string(second) {
		t.Fatalf("expected identical cached content, got %q then %q", first, second)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected a single fetch for repeated reads, got %d", hits.Load())
	}
}

func TestGetBase64_EncodesResponse(t *testing.T) {
	payload := []byte{0x89, 'P', 'N', 'G'}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	l := NewWebGraphLoader()
	b64, err := l.GetBase64(context.Background(), loader.GraphFile{ID: "IMG201", FilePath: server.URL + "/scan.png"})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if b64.FileType != "data:image/png;base64," {
		t.Fatalf("expected the content type prefix, got %q", b64.FileType)
	}
	decoded, err := base64.StdEncoding.DecodeString(b64.Base64)
	if err != nil {
		t.Fatalf("expected valid base64, got %v", err)
	}
	if string(decoded) != string(payload) {
		t.Fatalf("expected the payload encoded verbatim, got %v", decoded)
	}
}
