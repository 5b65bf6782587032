package httputils

import (
	"errors"
	"net/http"
)

// Canonical status strings of the Google API error envelope.
const (
	StatusInvalidArgument  = "INVALID_ARGUMENT"
	StatusInternal         = "INTERNAL"
	StatusDeadlineExceeded = "DEADLINE_EXCEEDED"
	StatusUnavailable      = "UNAVAILABLE"
	StatusNotFound         = "NOT_FOUND"
	StatusUnimplemented    = "UNIMPLEMENTED"
	StatusCancelled        = "CANCELLED"
)

// StatusClientClosedRequest is the non-standard code for a client that
// hung up before the response was ready.
const StatusClientClosedRequest = 499

type HTTPError struct {
	Code    int
	Status  string
	Message string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// ErrorBody is the Google-style error envelope.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func HandleError(w http.ResponseWriter, err error) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		JSONError(w, httpErr.Code, httpErr.Status, httpErr.Message)
	} else {
		JSONError(w, http.StatusInternalServerError, StatusInternal, "Internal error encountered.")
	}
}
