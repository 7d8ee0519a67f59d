package dmarc

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// some xmls contain invalid XML by adding an unclosed xs tag
const xsTag = `<xs:schema xmlns:xs="http://www.w3.org/2001/XMLSchema" targetNamespace="http://dmarc.org/dmarc-xml/0.1">`

// https://en.wikipedia.org/wiki/List_of_file_signatures
var magicTable = [][]byte{
	{0x1f, 0x8b},             // .gz
	{0x50, 0x4b, 0x03, 0x04}, // .zip
	{0x50, 0x4b, 0x05, 0x06}, // .zip
	{0x50, 0x4b, 0x07, 0x08}, // .zip
}

// IsArchive reports whether the content starts with a zip or gzip magic
// number. Used to recover report archives that are attached inline.
func IsArchive(content []byte) bool {
	for _, magic := range magicTable {
		if bytes.HasPrefix(content, magic) {
			return true
		}
	}
	return false
}

// Extract returns the XML documents contained in an attachment. Dispatch is
// purely on the filename suffix: a zip archive may contain more than one
// report, a gzip stream exactly one, a bare xml file passes through.
// Attachments with a missing or unknown extension yield nothing. A corrupt
// container yields an *ExtractionError so the caller can log it and keep
// going with the remaining attachments.
func Extract(filename string, content []byte) ([][]byte, error) {
	var buffers [][]byte
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".zip":
		b, err := extractZIP(content)
		if err != nil {
			return nil, &ExtractionError{Filename: filename, Err: err}
		}
		buffers = b
	case ".gz":
		b, err := extractGZ(content)
		if err != nil {
			return nil, &ExtractionError{Filename: filename, Err: err}
		}
		buffers = [][]byte{b}
	case ".xml":
		buffers = [][]byte{content}
	default:
		// not a report container
		return nil, nil
	}

	for i := range buffers {
		buffers[i] = bytes.ReplaceAll(buffers[i], []byte(xsTag), []byte(""))
	}
	return buffers, nil
}

func extractGZ(content []byte) ([]byte, error) {
	gz, err := gzip.NewReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("could not open gzip stream: %w", err)
	}
	defer gz.Close()

	xmlContent, err := io.ReadAll(gz)
	if err != nil {
		return nil, fmt.Errorf("could not read gzip stream: %w", err)
	}
	return xmlContent, nil
}

func extractZIP(content []byte) ([][]byte, error) {
	r, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("could not open zip: %w", err)
	}

	var buffers [][]byte
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if !strings.HasSuffix(strings.ToLower(f.Name), ".xml") {
			continue
		}
		x, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("could not open file %s inside zip: %w", f.Name, err)
		}
		xmlContent, err := io.ReadAll(x)
		x.Close()
		if err != nil {
			return nil, fmt.Errorf("could not read file %s inside zip: %w", f.Name, err)
		}
		buffers = append(buffers, xmlContent)
	}
	return buffers, nil
}
