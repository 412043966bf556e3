package handler

import (
	"errors"
	"log"
	"net/http"

	"farmai/internal/auth"
	"farmai/internal/domain"
	"farmai/internal/middleware"
	"farmai/internal/repository"
	"farmai/internal/service"

	"github.com/gin-gonic/gin"
)

type AuthHandler struct {
	svc          *service.AuthService
	presenceRepo *repository.PresenceRepository
}

func NewAuthHandler(svc *service.AuthService, presenceRepo *repository.PresenceRepository) *AuthHandler {
	return &AuthHandler{svc: svc, presenceRepo: presenceRepo}
}

type RegisterRequest struct {
	Username string `json:"username" binding:"required,min=3,max=64"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

type LoginRequest struct {
	UsernameOrEmail string `json:"usernameOrEmail" binding:"required"`
	Password        string `json:"password" binding:"required"`
}

type VerifyOTPRequest struct {
	Email string `json:"email" binding:"required,email"`
	OTP   string `json:"otp" binding:"required,len=6,numeric"`
}

type ResendOTPRequest struct {
	Email string `json:"email" binding:"required,email"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

func (h *AuthHandler) otpInfo() gin.H {
	return gin.H{"expiresIn": h.svc.OTPExpiresIn(), "type": domain.OTPTypeRegistration}
}

func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	u, err := h.svc.Register(c.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		switch err {
		case service.ErrEmailExists:
			fail(c, http.StatusConflict, domain.CodeEmailExists, "Email is already registered")
		case service.ErrUsernameExists:
			fail(c, http.StatusConflict, domain.CodeUsernameExists, "Username is already taken")
		default:
			log.Printf("[auth] register failed: email=%s err=%v", req.Email, err)
			fail(c, http.StatusInternalServerError, domain.CodeInternal, "Registration failed")
		}
		return
	}
	msg := "Registration successful. Please check your email for the OTP."
	respond(c, http.StatusCreated, gin.H{
		"message": msg,
		"user":    u,
		"otpInfo": h.otpInfo(),
	}, msg)
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	u, tokens, err := h.svc.Login(req.UsernameOrEmail, req.Password)
	if errors.Is(err, service.ErrInactive) {
		respond(c, http.StatusOK, gin.H{
			"accessToken":          nil,
			"refreshToken":         nil,
			"user":                 u,
			"requiresVerification": true,
		}, "Please verify your email to continue")
		return
	}
	if err != nil {
		if err == service.ErrInvalidCreds {
			fail(c, http.StatusUnauthorized, domain.CodeInvalidCreds, "Invalid credentials")
			return
		}
		log.Printf("[auth] login failed: err=%v", err)
		fail(c, http.StatusInternalServerError, domain.CodeInternal, "Login failed")
		return
	}
	h.setPresence(u.ID, domain.PresenceOnline, true)
	respond(c, http.StatusOK, gin.H{
		"accessToken":          tokens.Access,
		"refreshToken":         tokens.Refresh,
		"user":                 u,
		"requiresVerification": false,
	}, "Login successful")
}

func (h *AuthHandler) VerifyRegistrationOTP(c *gin.Context) {
	var req VerifyOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	u, tokens, err := h.svc.VerifyRegistration(c.Request.Context(), req.Email, req.OTP)
	if err != nil {
		h.otpError(c, err)
		return
	}
	h.setPresence(u.ID, domain.PresenceOnline, true)
	msg := "Account verified successfully"
	respond(c, http.StatusOK, gin.H{
		"message":       msg,
		"email":         u.Email,
		"otpVerifiedAt": u.OtpVerifiedAt,
		"user":          u,
		"accessToken":   tokens.Access,
		"refreshToken":  tokens.Refresh,
	}, msg)
}

func (h *AuthHandler) ResendRegistrationOTP(c *gin.Context) {
	var req ResendOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	u, err := h.svc.ResendRegistrationOTP(c.Request.Context(), req.Email)
	if err != nil {
		h.otpError(c, err)
		return
	}
	msg := "A new OTP has been sent to your email"
	respond(c, http.StatusOK, gin.H{
		"message":  msg,
		"email":    u.Email,
		"username": u.Username,
		"otpInfo":  h.otpInfo(),
	}, msg)
}

func (h *AuthHandler) otpError(c *gin.Context, err error) {
	switch err {
	case service.ErrUserNotFound:
		fail(c, http.StatusNotFound, domain.CodeUserNotFound, "No account found for this email")
	case service.ErrAlreadyVerified:
		fail(c, http.StatusConflict, domain.CodeAlreadyActive, "Account is already verified")
	case service.ErrInvalidOTP:
		fail(c, http.StatusBadRequest, domain.CodeInvalidOTP, "Invalid or expired OTP")
	default:
		log.Printf("[auth] otp failed: err=%v", err)
		fail(c, http.StatusInternalServerError, domain.CodeInternal, "OTP request failed")
	}
}

func (h *AuthHandler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	tokens, err := h.svc.Refresh(req.RefreshToken)
	if err != nil {
		if err == auth.ErrInvalidToken {
			fail(c, http.StatusUnauthorized, domain.CodeTokenInvalid, "Invalid refresh token")
			return
		}
		log.Printf("[auth] refresh failed: err=%v", err)
		fail(c, http.StatusInternalServerError, domain.CodeInternal, "Token refresh failed")
		return
	}
	respond(c, http.StatusOK, gin.H{
		"accessToken":  tokens.Access,
		"refreshToken": tokens.Refresh,
	}, "Token refreshed")
}

func (h *AuthHandler) Logout(c *gin.Context) {
	userID := middleware.GetUserID(c)
	if err := h.svc.Logout(userID); err != nil {
		log.Printf("[auth] logout failed: user=%d err=%v", userID, err)
		fail(c, http.StatusInternalServerError, domain.CodeInternal, "Logout failed")
		return
	}
	h.setPresence(userID, domain.PresenceOffline, false)
	respond(c, http.StatusOK, nil, "Logged out")
}

func (h *AuthHandler) setPresence(userID uint, status string, online bool) {
	if h.presenceRepo == nil {
		return
	}
	if err := h.presenceRepo.Set(userID, status, online); err != nil {
		log.Printf("[auth] presence update failed: user=%d err=%v", userID, err)
	}
}
