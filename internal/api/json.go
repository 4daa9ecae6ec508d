package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"collectroute/internal/model"
)

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// writeError maps engine errors onto problem responses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", err.Error(), r.URL.Path)
	case errors.Is(err, model.ErrInvalidInput):
		writeProblem(w, http.StatusBadRequest, "Invalid Input", err.Error(), r.URL.Path)
	case errors.Is(err, model.ErrConflict):
		writeProblem(w, http.StatusConflict, "Conflict", err.Error(), r.URL.Path)
	case errors.Is(err, model.ErrPermissionUnavailable):
		writeProblem(w, http.StatusForbidden, "Permission Unavailable", err.Error(), r.URL.Path)
	default:
		logrus.WithError(err).WithField("path", r.URL.Path).Error("request failed")
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "", r.URL.Path)
	}
}

const maxBody = 1 << 20

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON: %s", model.ErrInvalidInput, err.Error())
	}
	return nil
}
