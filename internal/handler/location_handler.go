package handler

import (
	"errors"
	"net/http"
	"strconv"

	"farmai/internal/domain"
	"farmai/internal/middleware"
	"farmai/internal/service"
	"farmai/internal/ws"

	"github.com/gin-gonic/gin"
)

type LocationHandler struct {
	svc *service.LocationService
}

func NewLocationHandler(svc *service.LocationService) *LocationHandler {
	return &LocationHandler{svc: svc}
}

type UpdateLocationRequest struct {
	Latitude  *float64 `json:"latitude" binding:"required"`
	Longitude *float64 `json:"longitude" binding:"required"`
	Accuracy  float64  `json:"accuracy"`
	Altitude  *float64 `json:"altitude"`
	Heading   *float64 `json:"heading"`
	Speed     *float64 `json:"speed"`
	Timestamp int64    `json:"timestamp"`
}

func (h *LocationHandler) UpdateLocation(c *gin.Context) {
	var req UpdateLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	loc, err := h.svc.Update(middleware.GetUserID(c), ws.Fix{
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
		Accuracy:  req.Accuracy,
		Altitude:  req.Altitude,
		Heading:   req.Heading,
		Speed:     req.Speed,
		Timestamp: req.Timestamp,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidFix) {
			fail(c, http.StatusBadRequest, domain.CodeValidation, err.Error())
			return
		}
		fail(c, http.StatusInternalServerError, domain.CodeInternal, "Location update failed")
		return
	}
	respond(c, http.StatusOK, loc, "Location updated")
}

func (h *LocationHandler) GetMyLocation(c *gin.Context) {
	loc, err := h.svc.Get(middleware.GetUserID(c))
	if errors.Is(err, service.ErrNoLocation) {
		respond(c, http.StatusOK, nil, "No location recorded yet")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, domain.CodeInternal, "Failed to load location")
		return
	}
	respond(c, http.StatusOK, loc, "")
}

// GetDistance returns the distance from the caller's last known position to ?lat=&lng=.
func (h *LocationHandler) GetDistance(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		fail(c, http.StatusBadRequest, domain.CodeValidation, "lat and lng query parameters are required")
		return
	}
	d, err := h.svc.DistanceTo(middleware.GetUserID(c), lat, lng)
	switch {
	case errors.Is(err, service.ErrInvalidFix):
		fail(c, http.StatusBadRequest, domain.CodeValidation, err.Error())
	case errors.Is(err, service.ErrNoLocation):
		respond(c, http.StatusOK, gin.H{"distanceMeters": nil, "distanceKm": nil}, "Update your location to see distance")
	case err != nil:
		fail(c, http.StatusInternalServerError, domain.CodeInternal, "Failed to compute distance")
	default:
		respond(c, http.StatusOK, d, "")
	}
}
