package middleware

import (
	"encoding/json"
	"net/http"
)

// writeError emits the same {message, code} body the API handlers use.
func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": msg, "code": code})
}
