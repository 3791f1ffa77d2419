package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"interviewsim/internal/model"
	"interviewsim/internal/pkg/docxextract"
	"interviewsim/internal/pkg/pdfextract"
	"interviewsim/internal/pkg/textsanitize"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrExtraction   = errors.New("document extraction failed")
)

// DocumentStore persists extracted documents.
type DocumentStore interface {
	Create(doc *model.Document) error
	GetByID(id uint) (*model.Document, error)
}

// DocumentService lifts text out of uploaded files and persists it as an
// immutable Document. Extraction is never retried: malformed input will not
// become valid on a second attempt.
type DocumentService struct {
	documentRepo DocumentStore
}

func NewDocumentService(documentRepo DocumentStore) *DocumentService {
	return &DocumentService{documentRepo: documentRepo}
}

type IngestInput struct {
	Type     string
	Filename string
	Reader   io.Reader
	Size     int64
}

var documentTypes = map[string]struct{}{
	model.DocumentTypeJD:        {},
	model.DocumentTypeCV:        {},
	model.DocumentTypeQuestions: {},
}

// Ingest extracts, sanitizes, and persists exactly one Document. On failure
// nothing is persisted and the cause is wrapped in ErrExtraction with its
// message sanitized, so binary garbage from parser errors never reaches the
// caller's JSON responses.
func (s *DocumentService) Ingest(ctx context.Context, input IngestInput) (*model.Document, error) {
	if _, ok := documentTypes[input.Type]; !ok {
		return nil, fmt.Errorf("%w: unknown document type %q", ErrInvalidInput, input.Type)
	}
	if input.Reader == nil || strings.TrimSpace(input.Filename) == "" {
		return nil, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := io.ReadAll(input.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: read upload: %s", ErrExtraction, textsanitize.Sanitize(err.Error()))
	}

	text, err := extractText(input.Filename, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrExtraction, textsanitize.Sanitize(err.Error()))
	}

	doc := &model.Document{
		Type:    input.Type,
		Name:    filepath.Base(input.Filename),
		Content: textsanitize.Sanitize(text),
	}
	if err := s.documentRepo.Create(doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// GetByID loads a previously ingested document.
func (s *DocumentService) GetByID(id uint) (*model.Document, error) {
	if id == 0 {
		return nil, ErrInvalidInput
	}
	return s.documentRepo.GetByID(id)
}

func extractText(filename string, raw []byte) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return pdfextract.ExtractText(bytes.NewReader(raw))
	case ".docx", ".doc":
		return docxextract.ExtractText(bytes.NewReader(raw), int64(len(raw)))
	default:
		// Anything else is treated as plain text.
		return string(raw), nil
	}
}
