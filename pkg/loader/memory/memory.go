package memory

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"strings"
	"sync"

	"github.com/triad-med/triad/pkg/loader"
)

func getBase64Prefix(filePath string) string {
	nameSplit := strings.Split(filePath, ".")
	if len(nameSplit) < 2 {
		return "data:application/octet-stream;base64,"
	}
	ext := nameSplit[len(nameSplit)-1]
	mimeType := mime.TypeByExtension("." + ext)
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return fmt.Sprintf("data:%s;base64,", mimeType)
}

// placeholderPNG is a 1x1 transparent PNG, served for paths that were never
// stored. Mock-mode studies carry object keys with no object behind them, so
// the loader has to produce a syntactically valid image payload anyway.
var placeholderPNG, _ = base64.StdEncoding.DecodeString(
	"iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg==",
)

// MemoryGraphFileLoader serves file contents from an in-memory map. It is
// the loader behind mock mode and tests, where no object store is attached.
type MemoryGraphFileLoader struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMemoryGraphFileLoader creates an empty in-memory file loader.
func NewMemoryGraphFileLoader() *MemoryGraphFileLoader {
	return &MemoryGraphFileLoader{
		files: make(map[string][]byte),
	}
}

// Put stores content under the given path, replacing any previous content.
func (l *MemoryGraphFileLoader) Put(path string, content []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.files[path] = append([]byte(nil), content...)
}

// GetFileText returns the content stored under the file's path, falling back
// to the placeholder image when nothing was stored.
func (l *MemoryGraphFileLoader) GetFileText(ctx context.Context, file loader.GraphFile) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if content, ok := l.files[file.FilePath]; ok {
		return content, nil
	}
	return placeholderPNG, nil
}

// GetBase64 returns the stored content encoded as base64 with the MIME type
// prefix derived from the path extension.
func (l *MemoryGraphFileLoader) GetBase64(ctx context.Context, file loader.GraphFile) (loader.GraphBase64, error) {
	content, err := l.GetFileText(ctx, file)
	if err != nil {
		return loader.GraphBase64{}, err
	}

	result := base64.StdEncoding.EncodeToString(content)
	fileTypePrefix := getBase64Prefix(file.FilePath)
	return loader.GraphBase64{
		Base64:   result,
		FileType: fileTypePrefix,
	}, nil
}
