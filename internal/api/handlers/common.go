package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/nbrembilla/scorte/internal/domain"
)

// respondError maps domain error kinds onto HTTP statuses.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrNotAnOrderDay),
		errors.Is(err, domain.ErrNoDeliveryWindow):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrIntegrityViolation):
		status = http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientLotStock):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrBackendBusy):
		status = http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrCancelled):
		status = 499
	}
	log.Error().Err(err).Int("status", status).Msg("request failed")
	c.JSON(status, gin.H{"error": err.Error()})
}

// parseDate reads an ISO day from a query parameter, defaulting to today.
func parseDate(c *gin.Context, key string) (time.Time, bool) {
	raw := c.Query(key)
	if raw == "" {
		return domain.Day(time.Now()), true
	}
	d, err := time.Parse(domain.DateLayout, raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date: " + raw})
		return time.Time{}, false
	}
	return d, true
}
