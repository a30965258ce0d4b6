// Package export renders text documents as PDF.
package export

import (
	"bytes"
	"errors"
	"html/template"
)

// Result contains the export output.
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// ErrPDFDependencyMissing indicates the headless-chromium runtime dependency
// is unavailable.
var ErrPDFDependencyMissing = errors.New("export pdf dependency missing")

// Document is the slice of a text document the renderer needs.
type Document struct {
	Title string
	Body  string
}

type Service struct{}

func NewService() *Service {
	return &Service{}
}

// ExportPDF renders the document to a PDF. Any failure yields an error, never
// partial binary output.
//
// The body is the HTML the rich-text editor produced and is rendered as-is;
// the title is treated as plain text.
func (s *Service) ExportPDF(doc Document) (*Result, error) {
	html, err := renderDocumentHTML(doc)
	if err != nil {
		return nil, err
	}
	return exportPDF(html, doc.Title)
}

type templateData struct {
	Title string
	Body  template.HTML
}

// The print layout is a centered title over the body, matching what the
// editor frontend shows.
var documentTemplate = template.Must(template.New("document").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Georgia, 'Times New Roman', serif; line-height: 1.5; color: #222; }
        h1 { text-align: center; }
    </style>
</head>
<body>
    <h1>{{.Title}}</h1>
    <div>{{.Body}}</div>
</body>
</html>`))

func renderDocumentHTML(doc Document) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, templateData{Title: doc.Title, Body: template.HTML(doc.Body)}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// sanitizeFilename creates a safe filename from a title.
func sanitizeFilename(title string) string {
	result := ""
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			result += string(r)
		case r == ' ':
			result += "-"
		case r == '-', r == '_':
			result += string(r)
		}
	}
	if len(result) > 50 {
		result = result[:50]
	}
	if result == "" {
		result = "document"
	}
	return result
}
