package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"farmai/config"
	"farmai/internal/auth"
	"farmai/internal/models"
	"farmai/internal/otp"
	"farmai/internal/repository"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrEmailExists     = errors.New("email already registered")
	ErrUsernameExists  = errors.New("username already taken")
	ErrInvalidCreds    = errors.New("invalid username/email or password")
	ErrInvalidOTP      = errors.New("invalid or expired OTP")
	ErrAlreadyVerified = errors.New("account already verified")
	ErrUserNotFound    = errors.New("user not found")
	ErrInactive        = errors.New("account not verified")
)

// Tokens is an issued access/refresh pair.
type Tokens struct {
	Access  string
	Refresh string
}

type AuthService struct {
	cfg      *config.Config
	userRepo *repository.UserRepository
	codes    otp.Store
	sender   otp.Sender
	log      *slog.Logger
}

func NewAuthService(cfg *config.Config, userRepo *repository.UserRepository, codes otp.Store, sender otp.Sender, log *slog.Logger) *AuthService {
	if log == nil {
		log = slog.Default()
	}
	return &AuthService{cfg: cfg, userRepo: userRepo, codes: codes, sender: sender, log: log.With("component", "auth")}
}

// OTPExpiresIn is the code lifetime as shown to clients, e.g. "10 minutes".
func (s *AuthService) OTPExpiresIn() string {
	m := int(s.cfg.OTP.TTL / time.Minute)
	if m == 1 {
		return "1 minute"
	}
	if m < 1 {
		return fmt.Sprintf("%d seconds", int(s.cfg.OTP.TTL/time.Second))
	}
	return fmt.Sprintf("%d minutes", m)
}

// Register creates an inactive account and sends its activation code.
func (s *AuthService) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	username = strings.TrimSpace(username)

	_, err := s.userRepo.GetByEmail(email)
	if err == nil {
		return nil, ErrEmailExists
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	_, err = s.userRepo.GetByUsername(username)
	if err == nil {
		return nil, ErrUsernameExists
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := &models.User{
		Email:        email,
		Username:     username,
		PasswordHash: string(hash),
	}
	if err := s.userRepo.Create(u); err != nil {
		return nil, err
	}
	if err := s.issueOTP(ctx, u); err != nil {
		return u, fmt.Errorf("issue otp: %w", err)
	}
	return u, nil
}

// Login checks credentials. An unverified account gets no tokens and ErrInactive alongside
// the user so the caller can route it to verification.
func (s *AuthService) Login(usernameOrEmail, password string) (*models.User, *Tokens, error) {
	login := strings.TrimSpace(usernameOrEmail)
	if strings.Contains(login, "@") {
		login = strings.ToLower(login)
	}
	u, err := s.userRepo.GetByLogin(login)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, ErrInvalidCreds
		}
		return nil, nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, nil, ErrInvalidCreds
	}
	if !u.IsActive {
		return u, nil, ErrInactive
	}
	tokens, err := s.issueTokens(u)
	if err != nil {
		return nil, nil, err
	}
	return u, tokens, nil
}

// VerifyRegistration activates the account owning email and signs it in.
func (s *AuthService) VerifyRegistration(ctx context.Context, email, code string) (*models.User, *Tokens, error) {
	u, err := s.userByEmail(email)
	if err != nil {
		return nil, nil, err
	}
	if u.IsActive {
		return nil, nil, ErrAlreadyVerified
	}
	ok, err := s.codes.Verify(ctx, u.Email, code)
	if err != nil {
		return nil, nil, fmt.Errorf("check otp: %w", err)
	}
	if !ok {
		return nil, nil, ErrInvalidOTP
	}
	now := time.Now()
	u.IsActive = true
	u.OtpVerifiedAt = &now
	if err := s.userRepo.Update(u); err != nil {
		return nil, nil, err
	}
	tokens, err := s.issueTokens(u)
	if err != nil {
		return nil, nil, err
	}
	return u, tokens, nil
}

// ResendRegistrationOTP replaces the live code for an unverified account.
func (s *AuthService) ResendRegistrationOTP(ctx context.Context, email string) (*models.User, error) {
	u, err := s.userByEmail(email)
	if err != nil {
		return nil, err
	}
	if u.IsActive {
		return nil, ErrAlreadyVerified
	}
	if err := s.issueOTP(ctx, u); err != nil {
		return nil, fmt.Errorf("issue otp: %w", err)
	}
	return u, nil
}

// Refresh exchanges a refresh token for a new pair. Tokens issued before the user's last
// logout are rejected.
func (s *AuthService) Refresh(refreshToken string) (*Tokens, error) {
	claims, err := auth.ParseRefreshToken(&s.cfg.JWT, refreshToken)
	if err != nil {
		return nil, err
	}
	id, err := claims.UserID()
	if err != nil {
		return nil, err
	}
	u, err := s.userRepo.GetByID(id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, auth.ErrInvalidToken
		}
		return nil, err
	}
	if claims.Version != u.TokenVersion || !u.IsActive {
		return nil, auth.ErrInvalidToken
	}
	return s.issueTokens(u)
}

// Logout revokes every refresh token of the user.
func (s *AuthService) Logout(userID uint) error {
	return s.userRepo.BumpTokenVersion(userID)
}

func (s *AuthService) Profile(userID uint) (*models.User, error) {
	u, err := s.userRepo.GetByID(userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

func (s *AuthService) userByEmail(email string) (*models.User, error) {
	u, err := s.userRepo.GetByEmail(strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	return u, err
}

func (s *AuthService) issueOTP(ctx context.Context, u *models.User) error {
	code, err := otp.Generate(s.cfg.OTP.Length)
	if err != nil {
		return err
	}
	if err := s.codes.Save(ctx, u.Email, code, s.cfg.OTP.TTL); err != nil {
		return err
	}
	if err := s.sender.Send(ctx, u.Email, u.Username, code); err != nil {
		return err
	}
	s.log.Debug("otp issued", "user", u.UUID)
	return nil
}

func (s *AuthService) issueTokens(u *models.User) (*Tokens, error) {
	access, err := auth.GenerateAccessToken(&s.cfg.JWT, u.ID, u.UUID, u.Email)
	if err != nil {
		return nil, err
	}
	refresh, err := auth.GenerateRefreshToken(&s.cfg.JWT, u.ID, u.TokenVersion)
	if err != nil {
		return nil, err
	}
	return &Tokens{Access: access, Refresh: refresh}, nil
}
