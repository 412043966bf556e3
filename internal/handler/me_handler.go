package handler

import (
	"net/http"

	"farmai/internal/domain"
	"farmai/internal/middleware"
	"farmai/internal/models"
	"farmai/internal/repository"
	"farmai/internal/service"

	"github.com/gin-gonic/gin"
)

type MeHandler struct {
	svc          *service.AuthService
	presenceRepo *repository.PresenceRepository
}

func NewMeHandler(svc *service.AuthService, presenceRepo *repository.PresenceRepository) *MeHandler {
	return &MeHandler{svc: svc, presenceRepo: presenceRepo}
}

type profileView struct {
	*models.User
	Presence *models.UserPresence `json:"presence,omitempty"`
}

// Profile returns the signed-in user with their presence.
func (h *MeHandler) Profile(c *gin.Context) {
	u, err := h.svc.Profile(middleware.GetUserID(c))
	if err != nil {
		if err == service.ErrUserNotFound {
			fail(c, http.StatusNotFound, domain.CodeUserNotFound, "User not found")
			return
		}
		fail(c, http.StatusInternalServerError, domain.CodeInternal, "Failed to load profile")
		return
	}
	presence, _ := h.presenceRepo.GetByUserID(u.ID)
	respond(c, http.StatusOK, profileView{User: u, Presence: presence}, "")
}

func (h *MeHandler) SetPresence(c *gin.Context) {
	userID := middleware.GetUserID(c)
	var req struct {
		Status string `json:"status" binding:"required,oneof=ONLINE OFFLINE TRACKING"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.presenceRepo.Set(userID, req.Status, req.Status != domain.PresenceOffline); err != nil {
		fail(c, http.StatusInternalServerError, domain.CodeInternal, "Presence update failed")
		return
	}
	presence, err := h.presenceRepo.GetByUserID(userID)
	if err != nil {
		fail(c, http.StatusInternalServerError, domain.CodeInternal, "Presence update failed")
		return
	}
	respond(c, http.StatusOK, presence, "")
}
