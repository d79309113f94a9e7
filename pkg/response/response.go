package response

import (
	"encoding/json"
	"net/http"
)

type Resp struct {
	ErrorCode int    `json:"error_code"`
	Message   string `json:"message"`
	Data      any    `json:"data,omitempty"`
	Errors    any    `json:"errors,omitempty"`
}

func OK(w http.ResponseWriter, statusCode int, data any) {
	write(w, statusCode, Resp{
		Message: "Success",
		Data:    data,
	})
}

// Error writes err as a Resp. Anything that is not a *errors.HTTPError
// becomes a 500 with a generic message.
func Error(w http.ResponseWriter, err error) {
	statusCode, resp := parseHttpError(err)
	write(w, statusCode, resp)
}

// ValidationError writes a 400 carrying per-field messages.
func ValidationError(w http.ResponseWriter, code int, fields map[string]string) {
	write(w, http.StatusBadRequest, Resp{
		ErrorCode: code,
		Message:   "Validation failed",
		Errors:    fields,
	})
}

func write(w http.ResponseWriter, statusCode int, resp Resp) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(resp)
}
