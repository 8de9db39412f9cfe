package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/MrEthical07/authcore"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// WriteError renders err with the status and code of the engine error taxonomy.
// Server-side failures get a generic message.
func WriteError(w http.ResponseWriter, err error) {
	status := authcore.HTTPStatus(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	if d, ok := authcore.RetryAfter(err); ok {
		w.Header().Set("Retry-After", authcore.RetryAfterHeader(d))
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorBody{Error: msg, Code: authcore.PublicCode(err)})
}
