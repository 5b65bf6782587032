package httputils

import (
	"encoding/json"
	"net/http"
)

func JSONResponse(w http.ResponseWriter, status int, data any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(data)
}

func JSONError(w http.ResponseWriter, code int, status string, message string) error {
	return JSONResponse(w, code, ErrorBody{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Status:  status,
		},
	})
}
