package loader

import (
	"context"
)

type GraphFileType string

const (
	GraphFileTypeImage    GraphFileType = "image"
	GraphFileTypeDocument GraphFileType = "document"
	GraphFileTypeFile     GraphFileType = "file"
)

type GraphBase64 struct {
	Base64   string `json:"base64"`
	FileType string `json:"file_type"`
}

// GraphFile represents a study source that can be resolved into text or
// image payloads for graph construction. Study images are transcribed by a
// vision model, report documents are parsed into plain text.
//
// The actual content is retrieved via the associated GraphFileLoader.
type GraphFile struct {
	ID          string
	FilePath    string
	FileType    GraphFileType
	MaxTokens   int
	SeedTerms   []string
	Loader      GraphFileLoader
	Description string
}

// NewGraphFileParams defines the input parameters for creating a new GraphFile
// instance. It is used by the constructor functions to initialize GraphFile
// values with consistent metadata and loader configuration.
type NewGraphFileParams struct {
	ID        string
	FilePath  string
	MaxTokens int
	SeedTerms []string
	Loader    GraphFileLoader
}

// NewGraphImageFile creates a new GraphFile of type GraphFileTypeImage
// using the provided parameters. This is used for study images that are
// transcribed into text by a vision model.
func NewGraphImageFile(
	params NewGraphFileParams,
) GraphFile {
	return GraphFile{
		ID:        params.ID,
		FilePath:  params.FilePath,
		FileType:  GraphFileTypeImage,
		MaxTokens: params.MaxTokens,
		Loader:    params.Loader,
		SeedTerms: params.SeedTerms,
	}
}

// NewGraphDocumentFile creates a new GraphFile of type GraphFileTypeDocument
// using the provided parameters. This is used for report documents such as
// Word files, web pages, or plain text files.
func NewGraphDocumentFile(
	params NewGraphFileParams,
) GraphFile {
	return GraphFile{
		ID:        params.ID,
		FilePath:  params.FilePath,
		FileType:  GraphFileTypeDocument,
		MaxTokens: params.MaxTokens,
		Loader:    params.Loader,
		SeedTerms: params.SeedTerms,
	}
}

// NewGraphGenericFile creates a new GraphFile of type GraphFileTypeFile
// with an inline description. The description itself is used as the text
// content, so no loader round trip is needed. This is how report text that
// arrives directly in an API request is fed into ingestion.
func NewGraphGenericFile(
	params NewGraphFileParams,
	description string,
) GraphFile {
	return GraphFile{
		ID:          params.ID,
		FilePath:    params.FilePath,
		FileType:    GraphFileTypeFile,
		MaxTokens:   params.MaxTokens,
		Loader:      params.Loader,
		SeedTerms:   params.SeedTerms,
		Description: description,
	}
}

// GetText retrieves the raw text content of the file using its Loader.
//
// Example:
//
//	text, err := file.GetText(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(string(text))
func (f *GraphFile) GetText(ctx context.Context) ([]byte, error) {
	if f.FileType == GraphFileTypeFile {
		return []byte(f.Description), nil
	}
	return f.Loader.GetFileText(ctx, *f)
}

// GetBase64 retrieves the base64-encoded content of the file using its Loader.
// This is useful for transmitting binary file contents in a text-safe format.
func (f *GraphFile) GetBase64(ctx context.Context) (GraphBase64, error) {
	return f.Loader.GetBase64(ctx, *f)
}

// GraphFileLoader defines the interface for loading the contents of a GraphFile.
// Implementations may load files from disk, cloud storage, or other sources.
type GraphFileLoader interface {
	GetFileText(ctx context.Context, file GraphFile) ([]byte, error)
	GetBase64(ctx context.Context, file GraphFile) (GraphBase64, error)
}

// CacheKey generates a unique cache key for a GraphFile based on its ID and path.
func CacheKey(file GraphFile) string {
	return file.ID + ":" + file.FilePath
}
