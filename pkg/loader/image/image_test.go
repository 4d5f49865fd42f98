package image

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/triad-med/triad/pkg/ai"
	"github.com/triad-med/triad/pkg/loader"
	ioloader "github.com/triad-med/triad/pkg/loader/io"
)

// pngHeader is enough of a PNG to exercise the loader chain, the mock
// vision client never inspects the pixels.
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func writeTempImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "IMG201.png")
	if err := os.WriteFile(path, pngHeader, 0o644); err != nil {
		t.Fatalf("expected the fixture written, got %v", err)
	}
	return path
}

func TestGetFileText_TranscribesImage(t *testing.T) {
	path := writeTempImage(t)
	l := NewImageGraphLoader(NewImageGraphLoaderParams{
		AIClient: ai.NewMockClient(),
		Loader:   ioloader.NewIOGraphFileLoader(),
	})

	text, err := l.GetFileText(context.Background(), loader.GraphFile{ID: "IMG201", FilePath: path})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !strings.Contains(string(text), "mass in the liver") {
		t.Fatalf("expected the vision transcription, got %q", text)
	}
}

func TestGetBase64_DelegatesToInnerLoader(t *testing.T) {
	path := writeTempImage(t)
	l := NewImageGraphLoader(NewImageGraphLoaderParams{
		AIClient: ai.NewMockClient(),
		Loader:   ioloader.NewIOGraphFileLoader(),
	})

	b64, err := l.GetBase64(context.Background(), loader.GraphFile{ID: "IMG201", FilePath: path})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if b64.FileType != "data:image/png;base64," {
		t.Fatalf("expected the png prefix from the file loader, got %q", b64.FileType)
	}
	if b64.Base64 == "" {
		t.Fatal("expected encoded content")
	}
}

func TestGetFileTextFromIO(t *testing.T) {
	text, err := GetFileTextFromIO(context.Background(), ai.NewMockClient(), bytes.NewReader(pngHeader))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if len(text) == 0 {
		t.Fatal("expected a transcription from the reader variant")
	}
}
