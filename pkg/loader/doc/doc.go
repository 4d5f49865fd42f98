package doc

import (
	"context"
	"encoding/base64"
	"io"
	"sync"

	"github.com/triad-med/triad/pkg/loader"

	"golang.org/x/sync/singleflight"
)

const docXMLMax = 50 << 20

// DocGraphLoader loads Word documents (.docx) and extracts their text
// content. Radiology reports frequently arrive as Word attachments, so this
// loader sits in front of report ingestion.
type DocGraphLoader struct {
	loader loader.GraphFileLoader

	cache   map[string][]byte
	cacheMu sync.RWMutex
	group   singleflight.Group
}

// NewDocGraphLoader creates a document loader that extracts text directly from docx XML.
func NewDocGraphLoader(loader loader.GraphFileLoader) *DocGraphLoader {
	return &DocGraphLoader{
		loader: loader,
		cache:  make(map[string][]byte),
	}
}

// GetFileText extracts text content from a Word document. Results are cached.
func (l *DocGraphLoader) GetFileText(ctx context.Context, file loader.GraphFile) ([]byte, error) {
	key := loader.CacheKey(file)

	l.cacheMu.RLock()
	if cached, ok := l.cache[key]; ok {
		l.cacheMu.RUnlock()
		return cached, nil
	}
	l.cacheMu.RUnlock()

	result, err, _ := l.group.Do(key, func() (any, error) {
		l.cacheMu.RLock()
		if cached, ok := l.cache[key]; ok {
			l.cacheMu.RUnlock()
			return cached, nil
		}
		l.cacheMu.RUnlock()

		content, err := l.loader.GetFileText(ctx, file)
		if err != nil {
			return nil, err
		}

		parsed, err := parseDocx(content)
		if err != nil {
			return nil, err
		}

		l.cacheMu.Lock()
		l.cache[key] = parsed
		l.cacheMu.Unlock()

		return parsed, nil
	})
	if err != nil {
		return nil, err
	}

	return result.([]byte), nil
}

// GetFileTextFromIO extracts text content from a Word document provided as an io.Reader.
func GetFileTextFromIO(ctx context.Context, input io.Reader) ([]byte, error) {
	content, err := io.ReadAll(input)
	if err != nil {
		return nil, err
	}

	return parseDocx(content)
}

// GetBase64 returns the raw document encoded as base64.
func (l *DocGraphLoader) GetBase64(ctx context.Context, file loader.GraphFile) (loader.GraphBase64, error) {
	content, err := l.loader.GetFileText(ctx, file)
	if err != nil {
		return loader.GraphBase64{}, err
	}

	enc := base64.StdEncoding.EncodeToString(content)

	return loader.GraphBase64{
		Base64:   enc,
		FileType: "data:application/vnd.openxmlformats-officedocument.wordprocessingml.document;base64,",
	}, nil
}
