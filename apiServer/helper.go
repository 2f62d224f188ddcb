package apiServer

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	entitystore "github.com/preservio/entitystore"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Default().Error("failed to encode response", "error", err)
	}
}

// pathVersion reads the optional {version} path segment. Absent means
// latest.
func pathVersion(r *http.Request) (int, error) {
	raw := r.PathValue("version")
	if raw == "" {
		return entitystore.VersionLatest, nil
	}
	version, err := strconv.Atoi(raw)
	if err != nil || version < 1 {
		return 0, errors.New("version must be a positive integer")
	}
	return version, nil
}

// writeError maps repository errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, entitystore.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, entitystore.ErrAlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, entitystore.ErrNotStarted), errors.Is(err, entitystore.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
	}
	http.Error(w, http.StatusText(status), status)
}
