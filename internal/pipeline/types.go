package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Token is one word of an annotated sentence as produced by the parser
// stage. Offsets and head are -1 when unknown; a negative head marks a root.
type Token struct {
	Word  string `json:"word"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Tag   string `json:"tag"`
	Head  int    `json:"head"`
	Label string `json:"label"`
}

// UnmarshalJSON applies the proto defaults (-1) to absent numeric fields.
func (t *Token) UnmarshalJSON(data []byte) error {
	type plain Token
	tok := plain{Start: -1, End: -1, Head: -1}
	if err := json.Unmarshal(data, &tok); err != nil {
		return err
	}
	*t = Token(tok)
	return nil
}

// Sentence is the wire form of a sentence exchanged with the workers.
type Sentence struct {
	Text   string  `json:"text"`
	Tokens []Token `json:"token"`
}

// Trace is the parser's diagnostic output, kept opaque.
type Trace json.RawMessage

// MarshalJSON keeps the raw trace unchanged.
func (t Trace) MarshalJSON() ([]byte, error) {
	if t == nil {
		return []byte("null"), nil
	}
	return t, nil
}

type Annotator interface {
	Annotate(ctx context.Context, text string) ([]Token, Trace, error)
}

var (
	ErrContractViolation = errors.New("pipeline contract violation")
	ErrTimeout           = errors.New("pipeline timeout")
	ErrClosed            = errors.New("pipeline closed")
	ErrNotReady          = errors.New("pipeline not initialized")
)

// ContractViolationError reports a stage that did not return exactly one
// result for the single sentence it was given.
type ContractViolationError struct {
	Stage string
	Field string
	Got   int
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("%s stage returned %d %s, expected 1", e.Stage, e.Got, e.Field)
}

func (e *ContractViolationError) Unwrap() error {
	return ErrContractViolation
}

// WorkerError carries a failure reported by the Python side.
type WorkerError struct {
	Stage   string
	Message string
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("%s stage failed: %s", e.Stage, e.Message)
}
