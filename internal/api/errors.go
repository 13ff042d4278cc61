package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	apperrors "github.com/edison-alpha/backendmome/internal/errors"
	"github.com/edison-alpha/backendmome/internal/logging"
	"github.com/edison-alpha/backendmome/internal/service"
	"github.com/edison-alpha/backendmome/internal/types"
)

// Envelope wraps every API response
type Envelope struct {
	Success bool                `json:"success"`
	Data    interface{}         `json:"data,omitempty"`
	Error   *types.ServiceError `json:"error,omitempty"`
	Cached  *bool               `json:"cached,omitempty"`
	Source  types.CacheSource   `json:"source,omitempty"`
}

// respondError sends an error envelope.
func respondError(w http.ResponseWriter, statusCode int, code, message string, details map[string]interface{}) {
	respondJSON(w, statusCode, Envelope{
		Error: &types.ServiceError{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	respondServiceError(w, r, apperrors.NewNotFoundError("route", r.URL.Path))
}

func handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusMethodNotAllowed, apperrors.CodeMethodNotAllowed,
		fmt.Sprintf("method %s not allowed on %s", r.Method, r.URL.Path), nil)
}

// respondServiceError maps err to its HTTP status. Internal details stay in
// the log.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.GetHTTPStatusCode(err)
	catErr := apperrors.Categorize(err)
	if !apperrors.IsUserError(err) {
		logging.FromContext(r.Context()).WithError(err).WithField("path", r.URL.Path).Error("request failed")
		respondError(w, status, catErr.Code, http.StatusText(status), nil)
		return
	}
	svcErr := catErr.ToServiceError()
	respondError(w, status, svcErr.Code, svcErr.Message, svcErr.Details)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// respondData sends a successful envelope without cache tagging
func respondData(w http.ResponseWriter, data interface{}) {
	respondJSON(w, http.StatusOK, Envelope{Success: true, Data: data})
}

// respondResult sends a read result with its cache tagging
func respondResult[T any](w http.ResponseWriter, r *http.Request, result *service.Result[T], err error) {
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	cached := result.Cached
	respondJSON(w, http.StatusOK, Envelope{
		Success: true,
		Data:    result.Data,
		Cached:  &cached,
		Source:  result.Source,
	})
}
