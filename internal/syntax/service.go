package syntax

import (
	"context"
	"errors"
	"fmt"

	"github.com/pdejuan/gcnl-lite/internal/pipeline"
)

var (
	ErrBadRequest       = errors.New("bad request")
	ErrLanguageMismatch = errors.New("language mismatch")
)

type BadRequestError struct {
	Reason string
}

func (e *BadRequestError) Error() string {
	return e.Reason
}

func (e *BadRequestError) Unwrap() error {
	return ErrBadRequest
}

// LanguageMismatchError's message is part of the public contract.
type LanguageMismatchError struct {
	Language string
}

func (e *LanguageMismatchError) Error() string {
	return fmt.Sprintf("The language %s is not supported for syntax analysis.", e.Language)
}

func (e *LanguageMismatchError) Unwrap() error {
	return ErrLanguageMismatch
}

// Validate checks the request shape.
func (r *AnalysisRequest) Validate() error {
	if r.Document == nil {
		return &BadRequestError{Reason: "document is required"}
	}
	if r.Document.Content == nil || *r.Document.Content == "" {
		return &BadRequestError{Reason: "document.content is required"}
	}
	if r.Document.Language == "" {
		return &BadRequestError{Reason: "document.language is required"}
	}
	return nil
}

// Service answers syntax analysis requests for a single language. It is
// immutable and safe for concurrent use; serialisation of model calls is
// the annotator's concern.
type Service struct {
	language  string
	annotator pipeline.Annotator
}

func NewService(language string, annotator pipeline.Annotator) *Service {
	return &Service{language: language, annotator: annotator}
}

func (s *Service) Language() string {
	return s.language
}

func (s *Service) Analyze(ctx context.Context, req *AnalysisRequest) (*AnalysisResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if req.Document.Language != s.language {
		return nil, &LanguageMismatchError{Language: req.Document.Language}
	}

	content := *req.Document.Content

	tokens, _, err := s.annotator.Annotate(ctx, content)
	if err != nil {
		return nil, fmt.Errorf("annotate: %w", err)
	}

	resp, err := Assemble(content, s.language, tokens)
	if err != nil {
		return nil, fmt.Errorf("assemble: %w", err)
	}
	return resp, nil
}
