package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/folio-chat/folio/internal/log"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Error is the payload of every error envelope. Code is a stable
// machine-readable identifier; Message is safe to show to users.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// envelope is the wire shape of every JSON response. Exactly one of
// Data and Error is set.
type envelope struct {
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// WriteJSON writes a success envelope with the given status code.
// The body is encoded into a buffer first so headers are only sent
// after a successful encode and a real 500 can still go out when
// encoding fails.
func WriteJSON(w http.ResponseWriter, status int, data any, logger log.Logger) {
	writeEnvelope(w, status, envelope{Data: data}, logger)
}

// WriteError writes an error envelope.
func WriteError(w http.ResponseWriter, status int, code, message string, logger log.Logger) {
	writeEnvelope(w, status, envelope{Error: &Error{Code: code, Message: message, Status: status}}, logger)
}

func writeEnvelope(w http.ResponseWriter, status int, env envelope, logger log.Logger) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(env); err != nil {
		logger.Error("encoding response", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		// Client disconnects are common and expected.
		logger.Debug("writing response body", "error", err)
	}
}

// decodeJSON reads a JSON request body into dst, capped at
// maxBodyBytes.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}
