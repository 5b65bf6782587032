package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/pdejuan/gcnl-lite/internal/pipeline"
	"github.com/pdejuan/gcnl-lite/internal/syntax"
	"github.com/pdejuan/gcnl-lite/internal/utils"
	"github.com/pdejuan/gcnl-lite/internal/utils/httputils"
)

type fakeAnnotator struct {
	tokens   []pipeline.Token
	err      error
	readyErr error
	calls    atomic.Int32
}

func (f *fakeAnnotator) Annotate(ctx context.Context, text string) ([]pipeline.Token, pipeline.Trace, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.tokens, nil, nil
}

func (f *fakeAnnotator) Ready() error {
	return f.readyErr
}

func (f *fakeAnnotator) HealthCheck(ctx context.Context) error {
	_, _, err := f.Annotate(ctx, "health check")
	return err
}

var conchaTokens = []pipeline.Token{
	{Word: "Concha", Start: 0, End: 5, Head: 1, Label: "nsubj",
		Tag: `attribute { name: "Gender" value: "Fem" } attribute { name: "fPOS" value: "PROPN++NP" } `},
	{Word: "dice", Start: 7, End: 10, Head: -1, Label: "root",
		Tag: `attribute { name: "Mood" value: "Ind" } attribute { name: "fPOS" value: "VERB++VM" } `},
	{Word: "la", Start: 12, End: 13, Head: 3, Label: "det",
		Tag: `attribute { name: "Definite" value: "Def" } attribute { name: "fPOS" value: "DET++DA" } `},
	{Word: "verdad", Start: 15, End: 20, Head: 1, Label: "obj",
		Tag: `attribute { name: "Number" value: "Sing" } attribute { name: "fPOS" value: "NOUN++NC" } `},
}

const testMaxBodyBytes = 4096

func newTestRouter(ann *fakeAnnotator) http.Handler {
	logger := utils.NewDiscardLogger()
	handler := NewHandler(logger, syntax.NewService("es", ann), ann, testMaxBodyBytes)
	return NewRouter(logger, handler)
}

func post(t *testing.T, router http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/documents:analyzeSyntax", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) httputils.ErrorDetail {
	t.Helper()
	var body httputils.ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body is not JSON: %v (%s)", err, rec.Body.String())
	}
	if body.Error.Code != rec.Code {
		t.Errorf("error code %d does not match HTTP status %d", body.Error.Code, rec.Code)
	}
	return body.Error
}

const conchaRequest = `{"document":{"type":"PLAIN_TEXT","language":"es","content":"Concha dice la verdad"},"encodingType":"UTF8"}`

func TestHandleAnalyzeSyntax(t *testing.T) {
	router := newTestRouter(&fakeAnnotator{tokens: conchaTokens})

	rec := post(t, router, conchaRequest)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Errorf("unexpected content type %q", ct)
	}

	var resp syntax.AnalysisResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}

	if len(resp.Sentences) != 1 || resp.Sentences[0].Text.Content != "Concha dice la verdad" {
		t.Errorf("unexpected sentences: %+v", resp.Sentences)
	}
	if resp.Sentences[0].Sentiment != (syntax.Sentiment{}) {
		t.Errorf("sentiment must be zero, got %+v", resp.Sentences[0].Sentiment)
	}
	if resp.Language != "es" {
		t.Errorf("expected language es, got %s", resp.Language)
	}
	if len(resp.Tokens) != len(conchaTokens) {
		t.Fatalf("expected %d tokens, got %d", len(conchaTokens), len(resp.Tokens))
	}

	roots := 0
	for i, tok := range resp.Tokens {
		if tok.Lemma != "" {
			t.Errorf("token %d: lemma must be empty", i)
		}
		if tok.DependencyEdge.HeadTokenIndex == i {
			roots++
			if tok.DependencyEdge.Label != "root" {
				t.Errorf("token %d points at itself but is labelled %q", i, tok.DependencyEdge.Label)
			}
		}
	}
	if roots != 1 {
		t.Errorf("expected 1 root, got %d", roots)
	}

	if !strings.Contains(rec.Body.String(), `"partOfSpeech":{"Gender":"Fem","fPOS":"PROPN++NP"}`) {
		t.Errorf("partOfSpeech order not preserved: %s", rec.Body.String())
	}
}

func TestHandleAnalyzeSyntax_Idempotent(t *testing.T) {
	router := newTestRouter(&fakeAnnotator{tokens: conchaTokens})

	first := post(t, router, conchaRequest)
	second := post(t, router, conchaRequest)
	if first.Body.String() != second.Body.String() {
		t.Errorf("responses differ:\n%s\n%s", first.Body.String(), second.Body.String())
	}
}

func TestHandleAnalyzeSyntax_Errors(t *testing.T) {
	tests := []struct {
		name        string
		annotator   *fakeAnnotator
		body        string
		contentType string
		wantCode    int
		wantStatus  string
		wantMessage string
		wantCalls   int32
	}{
		{
			name:        "language mismatch",
			annotator:   &fakeAnnotator{tokens: conchaTokens},
			body:        `{"document":{"type":"PLAIN_TEXT","language":"ja","content":"こんにちは"}}`,
			wantCode:    http.StatusBadRequest,
			wantStatus:  httputils.StatusInvalidArgument,
			wantMessage: "The language ja is not supported for syntax analysis.",
		},
		{
			name:       "malformed json",
			annotator:  &fakeAnnotator{tokens: conchaTokens},
			body:       `{"document":`,
			wantCode:   http.StatusBadRequest,
			wantStatus: httputils.StatusInvalidArgument,
		},
		{
			name:        "missing content",
			annotator:   &fakeAnnotator{tokens: conchaTokens},
			body:        `{"document":{"type":"PLAIN_TEXT","language":"es"}}`,
			wantCode:    http.StatusBadRequest,
			wantStatus:  httputils.StatusInvalidArgument,
			wantMessage: "document.content is required",
		},
		{
			name:        "missing document",
			annotator:   &fakeAnnotator{tokens: conchaTokens},
			body:        `{"encodingType":"UTF8"}`,
			wantCode:    http.StatusBadRequest,
			wantStatus:  httputils.StatusInvalidArgument,
			wantMessage: "document is required",
		},
		{
			name:        "wrong content type",
			annotator:   &fakeAnnotator{tokens: conchaTokens},
			body:        conchaRequest,
			contentType: "text/plain",
			wantCode:    http.StatusUnsupportedMediaType,
			wantStatus:  httputils.StatusInvalidArgument,
		},
		{
			name:        "contract violation",
			annotator:   &fakeAnnotator{err: &pipeline.ContractViolationError{Stage: "parse", Field: "annotations", Got: 2}},
			body:        conchaRequest,
			wantCode:    http.StatusInternalServerError,
			wantStatus:  httputils.StatusInternal,
			wantMessage: "Internal error encountered.",
			wantCalls:   1,
		},
		{
			name:        "worker error",
			annotator:   &fakeAnnotator{err: &pipeline.WorkerError{Stage: "segment", Message: "boom"}},
			body:        conchaRequest,
			wantCode:    http.StatusInternalServerError,
			wantStatus:  httputils.StatusInternal,
			wantMessage: "Internal error encountered.",
			wantCalls:   1,
		},
		{
			name:       "malformed attributes",
			annotator:  &fakeAnnotator{tokens: []pipeline.Token{{Word: "x", Head: -1, Tag: `attribute { name: x } `}}},
			body:       conchaRequest,
			wantCode:   http.StatusInternalServerError,
			wantStatus: httputils.StatusInternal,
			wantCalls:  1,
		},
		{
			name:       "timeout",
			annotator:  &fakeAnnotator{err: fmt.Errorf("%w: %w", pipeline.ErrTimeout, context.DeadlineExceeded)},
			body:       conchaRequest,
			wantCode:   http.StatusGatewayTimeout,
			wantStatus: httputils.StatusDeadlineExceeded,
			wantCalls:  1,
		},
		{
			name:       "client cancelled",
			annotator:  &fakeAnnotator{err: context.Canceled},
			body:       conchaRequest,
			wantCode:   httputils.StatusClientClosedRequest,
			wantStatus: httputils.StatusCancelled,
			wantCalls:  1,
		},
		{
			name:       "body too large",
			annotator:  &fakeAnnotator{tokens: conchaTokens},
			body:       `{"document":{"language":"es","content":"` + strings.Repeat("a", testMaxBodyBytes) + `"}}`,
			wantCode:   http.StatusRequestEntityTooLarge,
			wantStatus: httputils.StatusInvalidArgument,
		},
		{
			name:       "pool closed",
			annotator:  &fakeAnnotator{err: pipeline.ErrClosed},
			body:       conchaRequest,
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: httputils.StatusUnavailable,
			wantCalls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(tt.annotator)

			req := httptest.NewRequest(http.MethodPost, "/v1/documents:analyzeSyntax", strings.NewReader(tt.body))
			ct := tt.contentType
			if ct == "" {
				ct = "application/json; charset=utf-8"
			}
			req.Header.Set("Content-Type", ct)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d: %s", tt.wantCode, rec.Code, rec.Body.String())
			}

			detail := decodeError(t, rec)
			if detail.Status != tt.wantStatus {
				t.Errorf("expected status %s, got %s", tt.wantStatus, detail.Status)
			}
			if tt.wantMessage != "" && detail.Message != tt.wantMessage {
				t.Errorf("expected message %q, got %q", tt.wantMessage, detail.Message)
			}
			if got := tt.annotator.calls.Load(); got != tt.wantCalls {
				t.Errorf("expected %d annotator calls, got %d", tt.wantCalls, got)
			}
		})
	}
}

func TestHandleAnalyzeSyntax_MissingContentTypeIsJSON(t *testing.T) {
	router := newTestRouter(&fakeAnnotator{tokens: conchaTokens})

	req := httptest.NewRequest(http.MethodPost, "/v1/documents:analyzeSyntax", strings.NewReader(conchaRequest))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestUnknownRoutes(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		wantCode   int
		wantStatus string
		wantAllow  string
	}{
		{"wrong method on analyze", http.MethodGet, "/v1/documents:analyzeSyntax", http.StatusMethodNotAllowed, httputils.StatusUnimplemented, "POST"},
		{"wrong method on health", http.MethodPost, "/health", http.StatusMethodNotAllowed, httputils.StatusUnimplemented, "GET, HEAD"},
		{"unknown method", http.MethodPost, "/v1/documents:analyzeEntities", http.StatusNotFound, httputils.StatusNotFound, ""},
		{"root", http.MethodGet, "/", http.StatusNotFound, httputils.StatusNotFound, ""},
	}

	router := newTestRouter(&fakeAnnotator{tokens: conchaTokens})

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			if detail := decodeError(t, rec); detail.Status != tt.wantStatus {
				t.Errorf("expected status %s, got %s", tt.wantStatus, detail.Status)
			}
			if got := rec.Header().Get("Allow"); got != tt.wantAllow {
				t.Errorf("expected Allow %q, got %q", tt.wantAllow, got)
			}
		})
	}
}

func TestRequestID(t *testing.T) {
	router := newTestRouter(&fakeAnnotator{tokens: conchaTokens})

	rec := post(t, router, conchaRequest)
	generated := rec.Header().Get(RequestIDHeader)
	if len(generated) != 36 {
		t.Errorf("expected a generated UUID, got %q", generated)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/documents:analyzeSyntax", strings.NewReader(conchaRequest))
	req.Header.Set(RequestIDHeader, "client-supplied")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "client-supplied" {
		t.Errorf("expected client request id to be echoed, got %q", got)
	}
}

func TestHandleHealth(t *testing.T) {
	ann := &fakeAnnotator{tokens: conchaTokens}
	router := newTestRouter(ann)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("health body is not JSON: %v", err)
	}
	if body.Status != "ok" || body.Language != "es" || body.Check != "ready" {
		t.Errorf("unexpected health body: %+v", body)
	}
	if got := ann.calls.Load(); got != 0 {
		t.Errorf("readiness check must not annotate, got %d calls", got)
	}
}

func TestHandleHealth_Deep(t *testing.T) {
	ann := &fakeAnnotator{tokens: conchaTokens}
	router := newTestRouter(ann)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health?deep=true", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("health body is not JSON: %v", err)
	}
	if body.Check != "annotation" {
		t.Errorf("expected annotation check, got %q", body.Check)
	}
	if got := ann.calls.Load(); got != 1 {
		t.Errorf("expected 1 annotation, got %d", got)
	}
}

func TestHandleHealth_Unavailable(t *testing.T) {
	tests := []struct {
		name string
		ann  *fakeAnnotator
		path string
	}{
		{"not ready", &fakeAnnotator{readyErr: pipeline.ErrNotReady}, "/health"},
		{"closed", &fakeAnnotator{readyErr: pipeline.ErrClosed}, "/health?deep=true"},
		{"annotation fails", &fakeAnnotator{err: errors.New("worker exited")}, "/health?deep=true"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(tt.ann)

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != http.StatusServiceUnavailable {
				t.Fatalf("expected 503, got %d", rec.Code)
			}
			if detail := decodeError(t, rec); detail.Status != httputils.StatusUnavailable {
				t.Errorf("expected UNAVAILABLE, got %s", detail.Status)
			}
		})
	}
}
