// Package pdftext extracts plain text from PDF documents so exam plans
// can be generated from them and their content can be searched.
package pdftext

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"rsc.io/pdf"
)

// maxDocumentBytes caps how much of a remote document is read.
const maxDocumentBytes = 32 << 20

var httpClient = &http.Client{Timeout: 30 * time.Second}

// Extract loads a document by URL or local path and returns its
// normalized text.
func Extract(location string) (string, error) {
	data, err := load(location)
	if err != nil {
		return "", err
	}
	return ExtractBytes(data)
}

// ExtractBytes parses PDF bytes and returns the concatenated text of
// all pages with whitespace normalized.
func ExtractBytes(data []byte) (string, error) {
	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var parts []string
	for n := 1; n <= doc.NumPage(); n++ {
		page := doc.Page(n)
		if page.V.IsNull() {
			continue
		}
		for _, text := range page.Content().Text {
			if strings.TrimSpace(text.S) == "" {
				continue
			}
			parts = append(parts, text.S)
		}
	}
	return Normalize(strings.Join(parts, " ")), nil
}

// Normalize collapses runs of whitespace to single spaces and trims the
// result.
func Normalize(input string) string {
	return strings.Join(strings.Fields(input), " ")
}

func load(location string) ([]byte, error) {
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		resp, err := httpClient.Get(location)
		if err != nil {
			return nil, fmt.Errorf("fetch document: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetch document: status %d", resp.StatusCode)
		}
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
		if err != nil {
			return nil, fmt.Errorf("read document: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(location)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	return data, nil
}
