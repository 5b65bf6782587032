package httputils

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/pdejuan/gcnl-lite/internal/utils"
)

// DecodeJSON decodes the request body into v. A missing Content-Type is
// accepted as JSON; any other media type is rejected.
func DecodeJSON(r *http.Request, v any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || mediaType != "application/json" {
			return &HTTPError{
				Code:    http.StatusUnsupportedMediaType,
				Status:  StatusInvalidArgument,
				Message: "Content-Type must be application/json",
			}
		}
	}

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &HTTPError{
			Code:    http.StatusBadRequest,
			Status:  StatusInvalidArgument,
			Message: "Invalid JSON payload: " + err.Error(),
		}
	}
	return nil
}

// LogRequestBody reads the body, at most maxBytes of it when maxBytes > 0,
// and puts it back on r for decoding.
func LogRequestBody(w http.ResponseWriter, r *http.Request, logger *utils.Logger, reqID string, maxBytes int64) ([]byte, error) {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}

	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, &HTTPError{
				Code:    http.StatusRequestEntityTooLarge,
				Status:  StatusInvalidArgument,
				Message: fmt.Sprintf("Request payload exceeds %d bytes", tooLarge.Limit),
			}
		}
		return nil, &HTTPError{
			Code:    http.StatusBadRequest,
			Status:  StatusInvalidArgument,
			Message: "Unable to read request body",
		}
	}

	r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

	if logger.RawBodyLog {
		logger.Debug(&reqID, "Raw request body: %s", string(bodyBytes))
	}

	return bodyBytes, nil
}
