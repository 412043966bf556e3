package session

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"farmai/internal/apiclient"
	"farmai/internal/notify"
	"farmai/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	t     *testing.T
	mux   *http.ServeMux
	srv   *httptest.Server
	calls sync.Map // path -> *atomic.Int32
}

func newFakeAPI(t *testing.T) *fakeAPI {
	f := &fakeAPI{t: t, mux: http.NewServeMux()}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, _ := f.calls.LoadOrStore(r.URL.Path, new(atomic.Int32))
		c.(*atomic.Int32).Add(1)
		f.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAPI) handle(path string, status int, data any, message string) {
	f.mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status >= 300 {
			_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "message": message})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data, "message": message})
	})
}

func (f *fakeAPI) count(path string) int {
	c, ok := f.calls.Load(path)
	if !ok {
		return 0
	}
	return int(c.(*atomic.Int32).Load())
}

type harness struct {
	api   *fakeAPI
	vault *storage.Vault
	bus   *notify.Bus
	m     *Manager

	mu       sync.Mutex
	messages []notify.Message
}

func newHarness(t *testing.T) *harness {
	h := &harness{api: newFakeAPI(t), vault: storage.NewVault(storage.NewMemoryStore()), bus: notify.NewBus(nil)}
	h.bus.Register(func(m notify.Message) {
		h.mu.Lock()
		h.messages = append(h.messages, m)
		h.mu.Unlock()
	})
	client := apiclient.New(h.api.srv.URL, h.vault)
	h.m = New(client, h.vault, WithBus(h.bus))
	return h
}

func (h *harness) errorsPublished() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, m := range h.messages {
		if m.Level == notify.LevelError {
			out = append(out, m.Body)
		}
	}
	return out
}

func sampleUser(active bool) User {
	ts := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	return User{UUID: "6f1c", Username: "amina", Email: "amina@farm.ke", IsActive: active, CreatedAt: ts, UpdatedAt: ts}
}

func TestInitialize(t *testing.T) {
	ctx := context.Background()

	t.Run("nothing persisted", func(t *testing.T) {
		h := newHarness(t)
		assert.Equal(t, RouteLoading, h.m.State().Route())
		h.m.Initialize(ctx)
		st := h.m.State()
		assert.True(t, st.Initialized())
		assert.Equal(t, PhaseAnonymous, st.Phase)
		assert.Equal(t, RouteLogin, st.Route())
		assert.False(t, st.Loading)
	})

	t.Run("active user with token", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.vault.SetUserData(ctx, sampleUser(true)))
		require.NoError(t, h.vault.SetTokens(ctx, "acc", ""))
		h.m.Initialize(ctx)
		st := h.m.State()
		assert.True(t, st.Authenticated())
		assert.Equal(t, "amina", st.User.Username)
		assert.Equal(t, RouteHome, st.Route())
	})

	t.Run("active user without token", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.vault.SetUserData(ctx, sampleUser(true)))
		h.m.Initialize(ctx)
		assert.Equal(t, PhaseAnonymous, h.m.State().Phase)
		assert.Nil(t, h.m.State().User)
	})

	t.Run("unverified user", func(t *testing.T) {
		h := newHarness(t)
		require.NoError(t, h.vault.SetUserData(ctx, sampleUser(false)))
		h.m.Initialize(ctx)
		st := h.m.State()
		assert.True(t, st.RequiresVerification())
		assert.False(t, st.Authenticated())
		assert.Equal(t, RouteVerifyOTP, st.Route())
	})
}

func TestLogin_InactiveUserNeedsVerification(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.api.handle(PathLogin, http.StatusOK, LoginResult{AccessToken: "acc", User: ptr(sampleUser(false)), RequiresVerification: false}, "Login successful")
	h.m.Initialize(ctx)

	res, err := h.m.Login(ctx, "amina", "secret1")
	require.NoError(t, err)
	assert.True(t, res.RequiresVerification)

	st := h.m.State()
	assert.False(t, st.Authenticated())
	assert.True(t, st.RequiresVerification())
	assert.Empty(t, st.Error)
	assert.Equal(t, RouteVerifyOTP, st.Route())
}

func TestLogin_Success(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.api.handle(PathLogin, http.StatusOK, LoginResult{AccessToken: "acc", RefreshToken: "ref", User: ptr(sampleUser(true))}, "Login successful")
	h.m.Initialize(ctx)

	_, err := h.m.Login(ctx, "amina@farm.ke", "secret1")
	require.NoError(t, err)
	assert.True(t, h.m.State().Authenticated())

	tok, err := h.vault.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "acc", tok.AccessToken)
	assert.Equal(t, "ref", tok.RefreshToken)
	var stored User
	found, err := h.vault.UserData(ctx, &stored)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "6f1c", stored.UUID)
}

func TestLogin_FailureKeepsSession(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.api.handle(PathLogin, http.StatusUnauthorized, nil, "Invalid credentials")
	h.m.Initialize(ctx)

	_, err := h.m.Login(ctx, "amina", "wrong-pass")
	require.Error(t, err)
	st := h.m.State()
	assert.Equal(t, "Invalid credentials", st.Error)
	assert.Equal(t, PhaseAnonymous, st.Phase)
	assert.False(t, st.Loading)
	assert.Equal(t, []string{"Invalid credentials"}, h.errorsPublished())

	// the next attempt clears the error
	h.api.mux = http.NewServeMux()
	h.api.handle(PathLogin, http.StatusOK, LoginResult{AccessToken: "acc", User: ptr(sampleUser(true))}, "")
	_, err = h.m.Login(ctx, "amina", "right-pass")
	require.NoError(t, err)
	assert.Empty(t, h.m.State().Error)
}

func TestLogin_EmptyFields(t *testing.T) {
	h := newHarness(t)
	_, err := h.m.Login(context.Background(), "", "")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Please fill in all fields", h.m.State().Error)
	assert.Zero(t, h.api.count(PathLogin))
}

func TestRegister_ValidatesLocally(t *testing.T) {
	cases := []struct {
		username, email, password, want string
	}{
		{"ab", "ab@farm.ke", "secret1", "Username must be at least 3 characters long"},
		{"amina", "not-an-email", "secret1", "Please enter a valid email address"},
		{"amina", "amina@farm.ke", "12345", "Password must be at least 6 characters long"},
		{"", "amina@farm.ke", "secret1", "Please fill in all fields"},
	}
	for _, tc := range cases {
		h := newHarness(t)
		_, err := h.m.Register(context.Background(), tc.username, tc.email, tc.password)
		require.Error(t, err)
		assert.Equal(t, tc.want, err.Error())
		assert.Equal(t, tc.want, h.m.State().Error)
		assert.Zero(t, h.api.count(PathRegister))
	}
}

func TestRegister_Success(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.api.handle(PathRegister, http.StatusCreated, RegisterResult{
		Message: "Registration successful. Please verify your email.",
		User:    sampleUser(false),
		OTPInfo: OTPInfo{ExpiresIn: "10 minutes", Type: "registration"},
	}, "")
	h.m.Initialize(ctx)

	res, err := h.m.Register(ctx, "amina", "amina@farm.ke", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "registration", res.OTPInfo.Type)

	st := h.m.State()
	assert.Equal(t, PhaseVerificationPending, st.Phase)
	assert.False(t, st.Authenticated())
	var stored User
	found, err := h.vault.UserData(ctx, &stored)
	require.NoError(t, err)
	assert.True(t, found)
	assert.False(t, stored.IsActive)
}

func TestVerifyOTP(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.m.VerifyOTP(ctx, "amina@farm.ke", "12a456")
	require.Error(t, err)
	assert.Equal(t, "Please enter a valid 6-digit OTP", h.m.State().Error)
	assert.Zero(t, h.api.count(PathVerifyOTP))

	verified := time.Now().UTC()
	u := sampleUser(true)
	u.OtpVerifiedAt = &verified
	h.api.handle(PathVerifyOTP, http.StatusOK, VerifyResult{Message: "Email verified", Email: u.Email, OtpVerifiedAt: &verified, User: u, AccessToken: "acc", RefreshToken: "ref"}, "")

	res, err := h.m.VerifyOTP(ctx, "amina@farm.ke", "123456")
	require.NoError(t, err)
	assert.Equal(t, "acc", res.AccessToken)
	st := h.m.State()
	assert.True(t, st.Authenticated())
	assert.False(t, st.RequiresVerification())
	assert.Empty(t, st.Error)

	tok, err := h.vault.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ref", tok.RefreshToken)
}

func TestResendOTP_Cooldown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.api.handle(PathResendOTP, http.StatusOK, ResendResult{Message: "OTP resent", Email: "amina@farm.ke", Username: "amina"}, "")
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	h.m.now = func() time.Time { return now }
	h.m.Initialize(ctx)
	before := h.m.State()

	_, err := h.m.ResendOTP(ctx, "amina@farm.ke")
	require.NoError(t, err)

	now = now.Add(30 * time.Second)
	_, err = h.m.ResendOTP(ctx, "amina@farm.ke")
	assert.True(t, errors.Is(err, ErrResendCooldown))
	assert.Equal(t, "Please wait 90 seconds before requesting a new OTP", err.Error())
	assert.Equal(t, 1, h.api.count(PathResendOTP))

	now = now.Add(91 * time.Second)
	_, err = h.m.ResendOTP(ctx, "amina@farm.ke")
	require.NoError(t, err)
	assert.Equal(t, 2, h.api.count(PathResendOTP))

	after := h.m.State()
	assert.Equal(t, before.Phase, after.Phase)
	assert.Equal(t, before.User, after.User)
}

func TestLogout_ServerFailureStillClears(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.api.handle(PathLogin, http.StatusOK, LoginResult{AccessToken: "acc", User: ptr(sampleUser(true))}, "")
	h.api.handle(PathLogout, http.StatusInternalServerError, nil, "database unavailable")
	h.m.Initialize(ctx)
	_, err := h.m.Login(ctx, "amina", "secret1")
	require.NoError(t, err)

	err = h.m.Logout(ctx)
	require.Error(t, err)
	st := h.m.State()
	assert.Equal(t, PhaseAnonymous, st.Phase)
	assert.Nil(t, st.User)
	assert.Equal(t, "database unavailable", st.Error)

	tok, err := h.vault.Token(ctx)
	require.NoError(t, err)
	assert.Nil(t, tok)

	h.m.ClearError()
	assert.Empty(t, h.m.State().Error)
}

func TestLogout_WithoutTokenSkipsServer(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Logout(context.Background()))
	assert.Zero(t, h.api.count(PathLogout))
	assert.Equal(t, PhaseAnonymous, h.m.State().Phase)
}

func TestSubscribeSeesPendingThenFulfilled(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.api.handle(PathLogin, http.StatusOK, LoginResult{AccessToken: "acc", User: ptr(sampleUser(true))}, "")
	h.m.Initialize(ctx)

	var seen []State
	unsubscribe := h.m.Subscribe(func(s State) { seen = append(seen, s) })
	defer unsubscribe()
	_, err := h.m.Login(ctx, "amina", "secret1")
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(seen), 2)
	assert.True(t, seen[0].Loading)
	last := seen[len(seen)-1]
	assert.False(t, last.Loading)
	assert.True(t, last.Authenticated())
}

func TestLogin_NetworkFailureShowsFriendlyMessage(t *testing.T) {
	h := newHarness(t)
	h.m.Initialize(context.Background())
	h.api.srv.Close()

	_, err := h.m.Login(context.Background(), "amina", "secret1")
	require.Error(t, err)
	assert.Equal(t, "Network error. Please check your internet connection.", h.m.State().Error)
	assert.Equal(t, PhaseAnonymous, h.m.State().Phase)
}

func TestProfile_RejectedSessionBecomesAnonymous(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.api.handle(PathLogin, http.StatusOK, LoginResult{AccessToken: "acc", User: ptr(sampleUser(true))}, "")
	h.api.handle(PathProfile, http.StatusUnauthorized, nil, "Invalid or expired token")
	h.m.Initialize(ctx)
	_, err := h.m.Login(ctx, "amina", "secret1")
	require.NoError(t, err)

	_, err = h.m.Profile(ctx)
	require.Error(t, err)
	st := h.m.State()
	assert.Equal(t, PhaseAnonymous, st.Phase)
	assert.Nil(t, st.User)
	assert.Equal(t, "Session expired. Please login again.", st.Error)
	assert.Equal(t, RouteLogin, st.Route())

	tok, err := h.vault.Token(ctx)
	require.NoError(t, err)
	assert.Nil(t, tok)
}

func ptr[T any](v T) *T { return &v }
