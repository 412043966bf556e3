// Package session runs the auth lifecycle: startup restore, login, registration, OTP
// verification and logout. Each operation moves the session state through pending and
// then fulfilled or rejected.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"farmai/internal/apiclient"
	"farmai/internal/notify"
	"farmai/internal/storage"

	"github.com/go-playground/validator/v10"
)

// API paths, relative to the client's base URL.
const (
	PathLogin     = "/auth/login"
	PathRegister  = "/auth/register"
	PathVerifyOTP = "/auth/verify-registration-otp"
	PathResendOTP = "/auth/resend-registration-otp"
	PathLogout    = "/auth/logout"
	PathProfile   = "/me/profile"
)

var ErrResendCooldown = errors.New("otp resend cooldown active")

// CooldownError reports how long until a new OTP may be requested.
type CooldownError struct {
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("Please wait %d seconds before requesting a new OTP", int(math.Ceil(e.Remaining.Seconds())))
}

func (e *CooldownError) Unwrap() error { return ErrResendCooldown }

type Manager struct {
	api      *apiclient.Client
	vault    *storage.Vault
	bus      *notify.Bus
	validate *validator.Validate
	log      *slog.Logger
	cooldown time.Duration
	now      func() time.Time

	mu       sync.Mutex
	state    State
	subs     map[int]func(State)
	nextSub  int
	resentAt map[string]time.Time
}

type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

func WithBus(b *notify.Bus) Option {
	return func(m *Manager) { m.bus = b }
}

// WithResendCooldown sets the minimum interval between OTP resends for one email.
func WithResendCooldown(d time.Duration) Option {
	return func(m *Manager) { m.cooldown = d }
}

func New(api *apiclient.Client, vault *storage.Vault, opts ...Option) *Manager {
	m := &Manager{
		api:      api,
		vault:    vault,
		bus:      notify.Default(),
		validate: validator.New(),
		log:      slog.Default(),
		cooldown: 120 * time.Second,
		now:      time.Now,
		subs:     map[int]func(State){},
		resentAt: map[string]time.Time{},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With("component", "session")
	return m
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Subscribe registers fn for every state change and returns the function that removes it.
func (m *Manager) Subscribe(fn func(State)) (unsubscribe func()) {
	m.mu.Lock()
	m.nextSub++
	id := m.nextSub
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

func (m *Manager) update(mutate func(*State)) {
	m.mu.Lock()
	mutate(&m.state)
	snap := m.state
	subs := make([]func(State), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}

func (m *Manager) pending() {
	m.update(func(s *State) {
		s.Loading = true
		s.Error = ""
	})
}

// reject records err and announces it. User and phase are left alone.
func (m *Manager) reject(title string, err error, fallback string) error {
	var msg string
	var verr *ValidationError
	if errors.As(err, &verr) {
		msg = verr.Message
	} else {
		msg = apiclient.Display(err, fallback)
	}
	m.update(func(s *State) {
		s.Loading = false
		s.Error = msg
	})
	m.bus.Error(title, msg)
	return err
}

func (m *Manager) ClearError() {
	m.update(func(s *State) { s.Error = "" })
}

// Initialize restores the persisted session. It always completes initialization: an
// unreadable store leaves the session anonymous.
func (m *Manager) Initialize(ctx context.Context) {
	m.update(func(s *State) {
		s.Phase = PhaseInitializing
		s.Loading = true
	})

	var user User
	found, err := m.vault.UserData(ctx, &user)
	if err != nil {
		m.log.Warn("failed to restore user data", "err", err)
		found = false
	}
	hasToken := false
	if found && user.IsActive {
		tok, err := m.vault.Token(ctx)
		if err != nil {
			m.log.Warn("failed to read access token", "err", err)
		}
		hasToken = tok != nil
	}

	m.update(func(s *State) {
		s.Loading = false
		switch {
		case !found:
			s.Phase = PhaseAnonymous
			s.User = nil
		case !user.IsActive:
			s.Phase = PhaseVerificationPending
			s.User = &user
		case hasToken:
			s.Phase = PhaseAuthenticated
			s.User = &user
		default:
			s.Phase = PhaseAnonymous
			s.User = nil
		}
	})
	m.log.Debug("session restored", "phase", m.State().Phase)
}

// Login authenticates with a username or email. A user who still needs OTP verification
// ends up VerificationPending even when the server also returned a token.
func (m *Manager) Login(ctx context.Context, usernameOrEmail, password string) (*LoginResult, error) {
	m.pending()
	if err := check(m.validate, loginInput{UsernameOrEmail: usernameOrEmail, Password: password}); err != nil {
		return nil, m.reject("Login failed", err, "Login failed")
	}

	env, err := apiclient.Post[LoginResult](ctx, m.api, PathLogin, map[string]string{
		"usernameOrEmail": usernameOrEmail,
		"password":        password,
	})
	if err != nil {
		return nil, m.reject("Login failed", err, "Login failed")
	}
	res := env.Data

	if res.AccessToken != "" {
		if err := m.vault.SetTokens(ctx, res.AccessToken, res.RefreshToken); err != nil {
			return nil, m.reject("Login failed", fmt.Errorf("persist tokens: %w", err), "Login failed")
		}
		if res.User != nil {
			if err := m.vault.SetUserData(ctx, res.User); err != nil {
				m.log.Warn("failed to persist user data", "err", err)
			}
		}
	}

	needsOTP := res.RequiresVerification || (res.User != nil && !res.User.IsActive)
	res.RequiresVerification = needsOTP
	m.update(func(s *State) {
		s.Loading = false
		s.Error = ""
		s.User = res.User
		switch {
		case needsOTP:
			s.Phase = PhaseVerificationPending
		case res.AccessToken != "":
			s.Phase = PhaseAuthenticated
		default:
			s.Phase = PhaseAnonymous
		}
	})

	if needsOTP {
		m.bus.Info("Verification required", "Check your email for OTP.")
	} else if res.AccessToken != "" {
		m.bus.Success("Welcome back!", "")
	}
	return &res, nil
}

// Register creates an account. Input is validated locally before any request; a
// registration never yields an authenticated session.
func (m *Manager) Register(ctx context.Context, username, email, password string) (*RegisterResult, error) {
	m.pending()
	if err := check(m.validate, registerInput{Username: username, Email: email, Password: password}); err != nil {
		return nil, m.reject("Registration failed", err, "Registration failed")
	}

	env, err := apiclient.Post[RegisterResult](ctx, m.api, PathRegister, map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, m.reject("Registration failed", err, "Registration failed")
	}
	res := env.Data
	if err := m.vault.SetUserData(ctx, res.User); err != nil {
		m.log.Warn("failed to persist user data", "err", err)
	}

	user := res.User
	m.update(func(s *State) {
		s.Loading = false
		s.Error = ""
		s.User = &user
		s.Phase = PhaseVerificationPending
	})
	m.bus.Success("Registration successful!", res.Message)
	return &res, nil
}

// VerifyOTP confirms the registration code. The session is authenticated when the server
// issues an access token with the verification.
func (m *Manager) VerifyOTP(ctx context.Context, email, otp string) (*VerifyResult, error) {
	m.pending()
	if err := check(m.validate, verifyInput{Email: email, OTP: otp}); err != nil {
		return nil, m.reject("Verification failed", err, "OTP verification failed")
	}

	env, err := apiclient.Post[VerifyResult](ctx, m.api, PathVerifyOTP, map[string]string{
		"email": email,
		"otp":   otp,
	})
	if err != nil {
		return nil, m.reject("Verification failed", err, "OTP verification failed")
	}
	res := env.Data

	if res.AccessToken != "" {
		if err := m.vault.SetTokens(ctx, res.AccessToken, res.RefreshToken); err != nil {
			return nil, m.reject("Verification failed", fmt.Errorf("persist tokens: %w", err), "OTP verification failed")
		}
	}
	if err := m.vault.SetUserData(ctx, res.User); err != nil {
		m.log.Warn("failed to persist user data", "err", err)
	}

	user := res.User
	m.update(func(s *State) {
		s.Loading = false
		s.Error = ""
		s.User = &user
		if res.AccessToken != "" {
			s.Phase = PhaseAuthenticated
		} else {
			s.Phase = PhaseAnonymous
		}
	})
	m.bus.Success("Account verified successfully!", "")
	return &res, nil
}

// ResendOTP asks for a new registration code. Requests for the same email closer together
// than the cooldown fail with a *CooldownError and send nothing.
func (m *Manager) ResendOTP(ctx context.Context, email string) (*ResendResult, error) {
	if err := check(m.validate, resendInput{Email: email}); err != nil {
		m.pending()
		return nil, m.reject("Resend failed", err, "Failed to resend OTP")
	}
	m.mu.Lock()
	last, ok := m.resentAt[email]
	m.mu.Unlock()
	if ok {
		if wait := m.cooldown - m.now().Sub(last); wait > 0 {
			cerr := &CooldownError{Remaining: wait}
			m.bus.Info("Wait", cerr.Error())
			return nil, cerr
		}
	}

	m.pending()
	env, err := apiclient.Post[ResendResult](ctx, m.api, PathResendOTP, map[string]string{"email": email})
	if err != nil {
		return nil, m.reject("Resend failed", err, "Failed to resend OTP")
	}

	m.mu.Lock()
	m.resentAt[email] = m.now()
	m.mu.Unlock()
	m.update(func(s *State) {
		s.Loading = false
		s.Error = ""
	})
	m.bus.Success("New OTP sent to your email", "")
	res := env.Data
	return &res, nil
}

// Logout ends the session. The server call is best-effort; local credentials are cleared
// and the session becomes anonymous whatever it returns.
func (m *Manager) Logout(ctx context.Context) error {
	m.update(func(s *State) { s.Loading = true })

	var serverErr error
	if tok, err := m.vault.Token(ctx); err == nil && tok != nil {
		_, serverErr = apiclient.Post[struct{}](ctx, m.api, PathLogout, nil)
		if serverErr != nil {
			m.log.Warn("server logout failed", "err", serverErr)
		}
	}
	if err := m.vault.Clear(ctx); err != nil {
		m.log.Error("failed to clear auth data", "err", err)
	}

	m.update(func(s *State) {
		s.Loading = false
		s.User = nil
		s.Phase = PhaseAnonymous
		s.Error = ""
		if serverErr != nil {
			s.Error = apiclient.Display(serverErr, "Logout failed")
		}
	})
	if serverErr != nil {
		m.bus.Error("Logout failed", apiclient.Display(serverErr, "Logout failed"))
	}
	return serverErr
}

// Profile fetches the signed-in user and refreshes the persisted snapshot. A rejection the
// client could not recover by refreshing ends an authenticated session.
func (m *Manager) Profile(ctx context.Context) (*User, error) {
	env, err := apiclient.Get[User](ctx, m.api, PathProfile)
	if err != nil {
		if apiclient.IsAuthError(err) && m.State().Authenticated() {
			apiErr, _ := apiclient.AsError(err)
			msg := apiErr.UserMessage()
			m.update(func(s *State) {
				s.Phase = PhaseAnonymous
				s.User = nil
				s.Error = msg
			})
			m.bus.Error("Session expired", msg)
		}
		return nil, err
	}
	user := env.Data
	if err := m.vault.SetUserData(ctx, user); err != nil {
		m.log.Warn("failed to persist user data", "err", err)
	}
	m.update(func(s *State) {
		if s.Phase == PhaseAuthenticated {
			s.User = &user
		}
	})
	return &user, nil
}
