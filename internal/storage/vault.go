package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// Keys under which auth data is persisted.
const (
	KeyAccessToken  = "access_token"
	KeyRefreshToken = "refresh_token"
	KeyUserData     = "user_data"
)

// Vault stores the session credentials and the user snapshot on top of a KV.
type Vault struct {
	kv KV
}

func NewVault(kv KV) *Vault {
	return &Vault{kv: kv}
}

// Token returns the persisted credentials, or nil when no access token is stored.
// Expiry is read from the access token's exp claim when it is a JWT; the signature is not checked.
func (v *Vault) Token(ctx context.Context) (*oauth2.Token, error) {
	access, ok, err := v.kv.Get(ctx, KeyAccessToken)
	if err != nil {
		return nil, err
	}
	if !ok || access == "" {
		return nil, nil
	}
	refresh, _, err := v.kv.Get(ctx, KeyRefreshToken)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		Expiry:       peekExpiry(access),
	}, nil
}

// RefreshToken returns the persisted refresh token; empty when none was issued.
func (v *Vault) RefreshToken(ctx context.Context) (string, error) {
	refresh, _, err := v.kv.Get(ctx, KeyRefreshToken)
	return refresh, err
}

// SetTokens persists both tokens. An empty refresh token is stored as such.
func (v *Vault) SetTokens(ctx context.Context, access, refresh string) error {
	return v.kv.MultiSet(ctx, map[string]string{
		KeyAccessToken:  access,
		KeyRefreshToken: refresh,
	})
}

// SetAccessToken replaces the access token and keeps the refresh token.
func (v *Vault) SetAccessToken(ctx context.Context, access string) error {
	return v.kv.MultiSet(ctx, map[string]string{KeyAccessToken: access})
}

// SetUserData persists the user snapshot as JSON.
func (v *Vault) SetUserData(ctx context.Context, user any) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("encode user data: %w", err)
	}
	return v.kv.MultiSet(ctx, map[string]string{KeyUserData: string(data)})
}

// UserData decodes the persisted user snapshot into out. It reports false when none is stored.
func (v *Vault) UserData(ctx context.Context, out any) (bool, error) {
	raw, ok, err := v.kv.Get(ctx, KeyUserData)
	if err != nil || !ok || raw == "" {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("decode user data: %w", err)
	}
	return true, nil
}

// Clear removes every persisted auth key.
func (v *Vault) Clear(ctx context.Context) error {
	return v.kv.MultiRemove(ctx, KeyAccessToken, KeyRefreshToken, KeyUserData)
}

func peekExpiry(token string) time.Time {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
