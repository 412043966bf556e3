package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"farmai/config"
	"farmai/internal/database"
	"farmai/internal/otp"
	"farmai/internal/ws"
	"farmai/pkg/location"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testAPI struct {
	t      *testing.T
	engine *gin.Engine
	outbox *otp.Outbox
	cfg    *config.Config
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	cfg := config.Default()
	cfg.Database.DSN = "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	cfg.Server.AuthRateLimit = 1000
	db, err := database.NewDB(&cfg.Database)
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	out := otp.NewOutbox()
	engine := Setup(cfg, Deps{DB: db, Codes: otp.NewMemoryStore(), Sender: out})
	return &testAPI{t: t, engine: engine, outbox: out, cfg: cfg}
}

type response struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data"`
	Message string         `json:"message"`
	Code    string         `json:"code"`
}

func (a *testAPI) do(method, path, token string, body any) (int, response) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, "/api/v1"+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	var res response
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	return w.Code, res
}

// signUp registers and verifies an account and returns its token pair.
func (a *testAPI) signUp(username, email string) (access, refresh string) {
	a.t.Helper()
	status, _ := a.do(http.MethodPost, "/auth/register", "", gin.H{"username": username, "email": email, "password": "secret123"})
	require.Equal(a.t, http.StatusCreated, status)
	code, ok := a.outbox.Last(email)
	require.True(a.t, ok)
	status, res := a.do(http.MethodPost, "/auth/verify-registration-otp", "", gin.H{"email": email, "otp": code})
	require.Equal(a.t, http.StatusOK, status, res.Message)
	return res.Data["accessToken"].(string), res.Data["refreshToken"].(string)
}

func TestRegisterVerifyLogin(t *testing.T) {
	a := newTestAPI(t)

	status, res := a.do(http.MethodPost, "/auth/register", "", gin.H{"username": "wanjiru", "email": "Wanjiru@Farm.co", "password": "secret123"})
	require.Equal(t, http.StatusCreated, status)
	assert.True(t, res.Success)
	user := res.Data["user"].(map[string]any)
	assert.Equal(t, "wanjiru@farm.co", user["email"])
	assert.Equal(t, false, user["isActive"])
	assert.NotEmpty(t, user["uuid"])
	assert.NotContains(t, user, "passwordHash")
	info := res.Data["otpInfo"].(map[string]any)
	assert.Equal(t, "10 minutes", info["expiresIn"])
	assert.Equal(t, "registration", info["type"])

	status, res = a.do(http.MethodPost, "/auth/login", "", gin.H{"usernameOrEmail": "wanjiru", "password": "secret123"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, true, res.Data["requiresVerification"])
	assert.Nil(t, res.Data["accessToken"])

	status, res = a.do(http.MethodPost, "/auth/verify-registration-otp", "", gin.H{"email": "wanjiru@farm.co", "otp": "000000"})
	if code, _ := a.outbox.Last("wanjiru@farm.co"); code != "000000" {
		assert.Equal(t, http.StatusBadRequest, status)
		assert.Equal(t, "INVALID_OTP", res.Code)
	}

	code, ok := a.outbox.Last("wanjiru@farm.co")
	require.True(t, ok)
	status, res = a.do(http.MethodPost, "/auth/verify-registration-otp", "", gin.H{"email": "wanjiru@farm.co", "otp": code})
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, res.Data["accessToken"])
	assert.NotEmpty(t, res.Data["refreshToken"])
	assert.NotEmpty(t, res.Data["otpVerifiedAt"])
	assert.Equal(t, true, res.Data["user"].(map[string]any)["isActive"])

	status, res = a.do(http.MethodPost, "/auth/verify-registration-otp", "", gin.H{"email": "wanjiru@farm.co", "otp": code})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "ALREADY_VERIFIED", res.Code)

	status, res = a.do(http.MethodPost, "/auth/login", "", gin.H{"usernameOrEmail": "WANJIRU@farm.co", "password": "secret123"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, false, res.Data["requiresVerification"])
	access := res.Data["accessToken"].(string)

	status, res = a.do(http.MethodGet, "/me/profile", access, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "wanjiru", res.Data["username"])
	assert.Equal(t, "ONLINE", res.Data["presence"].(map[string]any)["status"])
}

func TestRegister_Rejections(t *testing.T) {
	a := newTestAPI(t)
	a.signUp("otieno", "otieno@farm.co")

	status, res := a.do(http.MethodPost, "/auth/register", "", gin.H{"username": "other", "email": "otieno@farm.co", "password": "secret123"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "EMAIL_EXISTS", res.Code)
	assert.False(t, res.Success)

	status, res = a.do(http.MethodPost, "/auth/register", "", gin.H{"username": "otieno", "email": "new@farm.co", "password": "secret123"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "USERNAME_EXISTS", res.Code)

	status, res = a.do(http.MethodPost, "/auth/register", "", gin.H{"username": "ab", "email": "ab@farm.co", "password": "secret123"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_ERROR", res.Code)
	assert.Equal(t, "username is invalid", res.Message)

	status, res = a.do(http.MethodPost, "/auth/login", "", gin.H{"usernameOrEmail": "otieno", "password": "wrong-pass"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "Invalid credentials", res.Message)
}

func TestResendOTP(t *testing.T) {
	a := newTestAPI(t)
	status, _ := a.do(http.MethodPost, "/auth/register", "", gin.H{"username": "kamau", "email": "kamau@farm.co", "password": "secret123"})
	require.Equal(t, http.StatusCreated, status)
	first, _ := a.outbox.Last("kamau@farm.co")

	status, res := a.do(http.MethodPost, "/auth/resend-registration-otp", "", gin.H{"email": "kamau@farm.co"})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "kamau", res.Data["username"])
	assert.Equal(t, 2, a.outbox.Sent())

	second, _ := a.outbox.Last("kamau@farm.co")
	if first != second {
		status, _ = a.do(http.MethodPost, "/auth/verify-registration-otp", "", gin.H{"email": "kamau@farm.co", "otp": first})
		assert.Equal(t, http.StatusBadRequest, status, "replaced code must not verify")
	}
	status, _ = a.do(http.MethodPost, "/auth/verify-registration-otp", "", gin.H{"email": "kamau@farm.co", "otp": second})
	assert.Equal(t, http.StatusOK, status)

	status, res = a.do(http.MethodPost, "/auth/resend-registration-otp", "", gin.H{"email": "nobody@farm.co"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "USER_NOT_FOUND", res.Code)
}

func TestRefreshAndLogout(t *testing.T) {
	a := newTestAPI(t)
	access, refresh := a.signUp("njeri", "njeri@farm.co")

	status, res := a.do(http.MethodPost, "/auth/refresh", "", gin.H{"refreshToken": refresh})
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, res.Data["accessToken"])
	assert.NotEmpty(t, res.Data["refreshToken"])

	status, _ = a.do(http.MethodPost, "/auth/refresh", "", gin.H{"refreshToken": access})
	assert.Equal(t, http.StatusUnauthorized, status, "access tokens are not refresh tokens")

	status, _ = a.do(http.MethodPost, "/auth/logout", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = a.do(http.MethodPost, "/auth/logout", access, nil)
	require.Equal(t, http.StatusOK, status)

	status, res = a.do(http.MethodPost, "/auth/refresh", "", gin.H{"refreshToken": refresh})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "TOKEN_INVALID", res.Code)
}

func TestLocationAndDistance(t *testing.T) {
	a := newTestAPI(t)
	access, _ := a.signUp("mutua", "mutua@farm.co")

	status, res := a.do(http.MethodGet, "/me/location", access, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Nil(t, res.Data)

	status, res = a.do(http.MethodGet, "/me/location/distance?lat=-1.28&lng=36.81", access, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Nil(t, res.Data["distanceMeters"])

	status, res = a.do(http.MethodPatch, "/me/location", access, gin.H{"longitude": 36.8219})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "latitude is required", res.Message)

	status, _ = a.do(http.MethodPatch, "/me/location", access, gin.H{"latitude": 91, "longitude": 36.8219})
	assert.Equal(t, http.StatusBadRequest, status)

	status, res = a.do(http.MethodPatch, "/me/location", access, gin.H{"latitude": -1.2921, "longitude": 36.8219, "accuracy": 5, "altitude": 1661})
	require.Equal(t, http.StatusOK, status)
	assert.InDelta(t, -1.2921, res.Data["latitude"], 1e-9)
	assert.InDelta(t, 1661, res.Data["altitude"], 1e-9)

	status, res = a.do(http.MethodGet, "/me/location", access, nil)
	require.Equal(t, http.StatusOK, status)
	assert.InDelta(t, 36.8219, res.Data["longitude"], 1e-9)
	assert.InDelta(t, 5, res.Data["accuracy"], 1e-9)

	status, res = a.do(http.MethodGet, "/me/location/distance?lat=-1.2864&lng=36.8172", access, nil)
	require.Equal(t, http.StatusOK, status)
	want := location.HaversineMeters(-1.2921, 36.8219, -1.2864, 36.8172)
	assert.InDelta(t, want, res.Data["distanceMeters"], 1e-6)
	assert.InDelta(t, want/1000, res.Data["distanceKm"], 1e-9)

	status, _ = a.do(http.MethodGet, "/me/location/distance?lat=abc&lng=1", access, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestLocationUplink(t *testing.T) {
	a := newTestAPI(t)
	access, _ := a.signUp("chebet", "chebet@farm.co")

	srv := httptest.NewServer(a.engine)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/location"

	_, resp, err := websocket.DefaultDialer.Dial(wsURL+"?token=bogus", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+access, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg ws.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, ws.TypeReady, msg.Type)

	status, res := a.do(http.MethodGet, "/me/profile", access, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "TRACKING", res.Data["presence"].(map[string]any)["status"])

	require.NoError(t, conn.WriteJSON(ws.Message{Type: ws.TypeFix, Fix: &ws.Fix{Latitude: 0.5143, Longitude: 35.2698, Accuracy: 8, Timestamp: 1767225600000}}))
	acked := false
	for !acked {
		require.NoError(t, conn.ReadJSON(&msg))
		switch msg.Type {
		case ws.TypeLocation:
			require.NotNil(t, msg.Fix)
			assert.InDelta(t, 0.5143, msg.Fix.Latitude, 1e-9)
		case ws.TypeAck:
			assert.Equal(t, int64(1767225600000), msg.Timestamp)
			acked = true
		default:
			t.Fatalf("unexpected frame %+v", msg)
		}
	}

	require.NoError(t, conn.WriteJSON(ws.Message{Type: ws.TypeFix, Fix: &ws.Fix{Latitude: 120, Longitude: 0}}))
	for {
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == ws.TypeError {
			break
		}
	}
	assert.Contains(t, msg.Message, "latitude")

	status, res = a.do(http.MethodGet, "/me/location", access, nil)
	require.Equal(t, http.StatusOK, status)
	assert.InDelta(t, 35.2698, res.Data["longitude"], 1e-9)

	second, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+access, nil)
	require.NoError(t, err)
	defer second.Close()
	_ = second.SetReadDeadline(time.Now().Add(5 * time.Second))
	var hello, latest ws.Message
	require.NoError(t, second.ReadJSON(&hello))
	assert.Equal(t, ws.TypeReady, hello.Type)
	require.NoError(t, second.ReadJSON(&latest))
	assert.Equal(t, ws.TypeLocation, latest.Type)
	require.NotNil(t, latest.Fix)
	assert.InDelta(t, 0.5143, latest.Fix.Latitude, 1e-9)
	assert.Equal(t, int64(1767225600000), latest.Timestamp)
}
