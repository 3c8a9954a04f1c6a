package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/devrelay/devrelay/lib/util/logger"
)

// maxBodyBytes bounds request bodies on the REST routes.
const maxBodyBytes = 1 << 20

type errorBody struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithFields(logger.Fields{
			"at":     "api.writeJSON",
			"reason": err.Error(),
		}).Debug("response_encode_failed")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Message: message})
}

// internalError logs err and answers 500 without leaking it.
func internalError(w http.ResponseWriter, at string, err error) {
	log.WithFields(logger.Fields{
		"at":     at,
		"reason": err.Error(),
	}).Warn("request_failed")
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

// decodeJSON reads a single JSON value from the request body.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	return dec.Decode(v)
}

func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.WithFields(logger.Fields{
					"at":     "api.recoverer",
					"path":   r.URL.Path,
					"reason": rec,
				}).Warn("handler_panic")
				writeError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
