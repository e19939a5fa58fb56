package web

import (
	"errors"
	"net/http"

	"github.com/John-MustangGT/sentinel/internal/database"
	"github.com/John-MustangGT/sentinel/internal/monitoring"
	"github.com/John-MustangGT/sentinel/internal/peering"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// respondError maps domain errors onto HTTP statuses. Anything unrecognised
// is a store failure and is logged.
func respondError(c *gin.Context, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		logrus.WithError(err).WithField("path", c.FullPath()).Error("Request failed")
		c.JSON(status, gin.H{"error": "Internal server error"})
		return
	}
	body := gin.H{"error": err.Error()}
	if code != "" {
		body["code"] = code
	}
	c.JSON(status, body)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, monitoring.ErrSelfDependency):
		return http.StatusBadRequest, "self_dependency"
	case errors.Is(err, monitoring.ErrDependencyCycle):
		return http.StatusBadRequest, "dependency_cycle"
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, monitoring.ErrWrongMonitorType),
		errors.Is(err, monitoring.ErrMissingValue),
		errors.Is(err, database.ErrInvalid):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, database.ErrConflict),
		errors.Is(err, monitoring.ErrAlreadyAcknowledged):
		return http.StatusConflict, "conflict"
	case errors.Is(err, peering.ErrInvalidSecret):
		return http.StatusUnauthorized, "invalid_secret"
	case errors.Is(err, peering.ErrTokenExpired):
		return http.StatusBadRequest, "token_expired"
	case errors.Is(err, peering.ErrMalformedToken):
		return http.StatusBadRequest, "malformed_token"
	default:
		return http.StatusInternalServerError, ""
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "invalid_request"})
}
