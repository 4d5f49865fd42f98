package doc

import (
	"archive/zip"
	"bytes"
	"strings"
	"testing"
)

func makeDocx(t *testing.T, documentXML string) []byte {
	t.Helper()

	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if _, err := w.Write([]byte(documentXML)); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}

	return buf.Bytes()
}

const docxHeader = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`

const docxFooter = `</w:body></w:document>`

func TestParseDocx_Paragraphs(t *testing.T) {
	content := makeDocx(t, docxHeader+
		`<w:p><w:r><w:t>FINDINGS:</w:t></w:r></w:p>`+
		`<w:p><w:r><w:t>Hypoechoic mass in the liver.</w:t></w:r></w:p>`+
		docxFooter)

	out, err := parseDocx(content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	text := string(out)
	if !strings.Contains(text, "FINDINGS:\n") {
		t.Errorf("expected paragraph break after header, got %q", text)
	}
	if !strings.Contains(text, "Hypoechoic mass in the liver.") {
		t.Errorf("expected findings text, got %q", text)
	}
}

func TestParseDocx_SkipsTrackedDeletions(t *testing.T) {
	content := makeDocx(t, docxHeader+
		`<w:p><w:del><w:r><w:t>no acute findings</w:t></w:r></w:del>`+
		`<w:r><w:t>small pleural effusion</w:t></w:r></w:p>`+
		docxFooter)

	out, err := parseDocx(content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	text := string(out)
	if strings.Contains(text, "no acute findings") {
		t.Errorf("expected deleted text to be skipped, got %q", text)
	}
	if !strings.Contains(text, "small pleural effusion") {
		t.Errorf("expected kept text, got %q", text)
	}
}

func TestParseDocx_FlattensTables(t *testing.T) {
	content := makeDocx(t, docxHeader+
		`<w:tbl><w:tr>`+
		`<w:tc><w:p><w:r><w:t>Modality</w:t></w:r></w:p></w:tc>`+
		`<w:tc><w:p><w:r><w:t>US</w:t></w:r></w:p></w:tc>`+
		`</w:tr></w:tbl>`+
		docxFooter)

	out, err := parseDocx(content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	text := string(out)
	if !strings.Contains(text, "Modality\tUS") {
		t.Errorf("expected tab-separated cells, got %q", text)
	}
}

func TestParseDocx_MissingDocumentXML(t *testing.T) {
	buf := new(bytes.Buffer)
	zw := zip.NewWriter(buf)
	w, err := zw.Create("word/styles.xml")
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if _, err := w.Write([]byte("<styles/>")); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}

	if _, err := parseDocx(buf.Bytes()); err == nil {
		t.Fatal("expected error for archive without document.xml")
	}
}
