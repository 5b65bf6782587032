package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/pdejuan/gcnl-lite/internal/pipeline"
	"github.com/pdejuan/gcnl-lite/internal/syntax"
	"github.com/pdejuan/gcnl-lite/internal/utils"
	"github.com/pdejuan/gcnl-lite/internal/utils/httputils"
)

const internalErrorMessage = "Internal error encountered."

// HealthChecker reports whether the annotation pipeline can serve requests.
// Ready is cheap; HealthCheck runs a real annotation.
type HealthChecker interface {
	Ready() error
	HealthCheck(ctx context.Context) error
}

type Handler struct {
	logger       *utils.Logger
	service      *syntax.Service
	health       HealthChecker
	maxBodyBytes int64
}

func NewHandler(logger *utils.Logger, service *syntax.Service, health HealthChecker, maxBodyBytes int64) *Handler {
	return &Handler{
		logger:       logger,
		service:      service,
		health:       health,
		maxBodyBytes: maxBodyBytes,
	}
}

func (h *Handler) HandleAnalyzeSyntax(w http.ResponseWriter, r *http.Request) {
	reqID := RequestID(r.Context())

	if _, err := httputils.LogRequestBody(w, r, h.logger, reqID, h.maxBodyBytes); err != nil {
		h.logger.Info(&reqID, "Failed to read request body: %v", err)
		httputils.HandleError(w, err)
		return
	}

	var req syntax.AnalysisRequest
	if err := httputils.DecodeJSON(r, &req); err != nil {
		h.logger.Info(&reqID, "JSON decode error: %v", err)
		httputils.HandleError(w, err)
		return
	}

	if req.Document != nil && req.Document.Content != nil {
		h.logger.Debug(&reqID, "Document content preview: %s", utils.Preview(*req.Document.Content, 200))
	}

	resp, err := h.service.Analyze(r.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			h.logger.Info(&reqID, "Client closed request: %v", err)
		case errors.Is(err, syntax.ErrBadRequest), errors.Is(err, syntax.ErrLanguageMismatch):
			h.logger.Info(&reqID, "Rejected request: %v", err)
		default:
			h.logger.Error(&reqID, "Syntax analysis failed: %v", err)
		}
		httputils.HandleError(w, toHTTPError(err))
		return
	}

	h.logger.Info(&reqID, "Analyzed %d bytes into %d tokens", len(*req.Document.Content), len(resp.Tokens))

	if err := httputils.JSONResponse(w, http.StatusOK, resp); err != nil {
		h.logger.Error(&reqID, "Error sending response: %v", err)
	}
}

type healthResponse struct {
	Status   string `json:"status"`
	Language string `json:"language"`
	Check    string `json:"check"`
}

// HandleHealth checks readiness only. With ?deep=true it also runs a
// short annotation, which waits for a free worker like any request.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestID(r.Context())

	check := "ready"
	err := h.health.Ready()
	if err == nil && r.URL.Query().Get("deep") == "true" {
		check = "annotation"
		err = h.health.HealthCheck(r.Context())
	}
	if err != nil {
		h.logger.Error(&reqID, "Health check (%s) failed: %v", check, err)
		httputils.JSONError(w, http.StatusServiceUnavailable, httputils.StatusUnavailable, "Annotation pipeline unavailable")
		return
	}

	if err := httputils.JSONResponse(w, http.StatusOK, healthResponse{
		Status:   "ok",
		Language: h.service.Language(),
		Check:    check,
	}); err != nil {
		h.logger.Error(&reqID, "Error sending response: %v", err)
	}
}

func (h *Handler) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	httputils.JSONError(w, http.StatusNotFound, httputils.StatusNotFound,
		fmt.Sprintf("The requested URL %s was not found on this server.", r.URL.Path))
}

// methodNotAllowed answers a known path called with the wrong method.
func methodNotAllowed(allow string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", allow)
		httputils.JSONError(w, http.StatusMethodNotAllowed, httputils.StatusUnimplemented,
			fmt.Sprintf("Method %s is not supported for %s.", r.Method, r.URL.Path))
	}
}

// toHTTPError maps service and pipeline errors onto the Google error
// envelope. Internal details never reach the client.
func toHTTPError(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return &httputils.HTTPError{
			Code:    httputils.StatusClientClosedRequest,
			Status:  httputils.StatusCancelled,
			Message: "The request was cancelled by the client.",
		}
	case errors.Is(err, syntax.ErrBadRequest), errors.Is(err, syntax.ErrLanguageMismatch):
		return &httputils.HTTPError{
			Code:    http.StatusBadRequest,
			Status:  httputils.StatusInvalidArgument,
			Message: errorMessage(err),
		}
	case errors.Is(err, pipeline.ErrTimeout):
		return &httputils.HTTPError{
			Code:    http.StatusGatewayTimeout,
			Status:  httputils.StatusDeadlineExceeded,
			Message: "Deadline exceeded while annotating the document.",
		}
	case errors.Is(err, pipeline.ErrClosed):
		return &httputils.HTTPError{
			Code:    http.StatusServiceUnavailable,
			Status:  httputils.StatusUnavailable,
			Message: "The service is shutting down.",
		}
	default:
		return &httputils.HTTPError{
			Code:    http.StatusInternalServerError,
			Status:  httputils.StatusInternal,
			Message: internalErrorMessage,
		}
	}
}

// errorMessage returns the message of the client-facing error in err's
// chain, without the wrapping added on the way up.
func errorMessage(err error) string {
	var mismatch *syntax.LanguageMismatchError
	if errors.As(err, &mismatch) {
		return mismatch.Error()
	}
	var bad *syntax.BadRequestError
	if errors.As(err, &bad) {
		return bad.Error()
	}
	return err.Error()
}
