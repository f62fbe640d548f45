// Package session keeps the operator's credentials encrypted at rest and
// wraps authority calls so an expired access token is refreshed once.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"

	"github.com/SrTcot/face-nomad/internal/clock"
	"github.com/SrTcot/face-nomad/internal/crypto"
	apperrors "github.com/SrTcot/face-nomad/internal/errors"
	"github.com/SrTcot/face-nomad/internal/logging"
	"github.com/SrTcot/face-nomad/internal/models"
	"github.com/SrTcot/face-nomad/internal/remote"
	"github.com/SrTcot/face-nomad/internal/storage"
	"github.com/SrTcot/face-nomad/internal/telemetry"
)

// Authority is the subset of the remote client the session needs.
type Authority interface {
	Login(ctx context.Context, username, password string) (*remote.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (string, error)
	Logout(ctx context.Context, token string) error
}

// Call is an authority operation made with a bearer token.
type Call func(ctx context.Context, token string) error

// Manager owns the tokens and user blobs.
type Manager struct {
	authority Authority
	vault     *crypto.Vault
	store     storage.Store
	clock     clock.Clock

	refreshes singleflight.Group
}

// NewManager wires a Manager.
func NewManager(authority Authority, vault *crypto.Vault, store storage.Store, clk clock.Clock) *Manager {
	return &Manager{authority: authority, vault: vault, store: store, clock: clk}
}

// Login authenticates against the authority and persists the token pair and
// user profile as two encrypted blobs.
func (m *Manager) Login(ctx context.Context, username, password string) (*models.User, error) {
	if username == "" || password == "" {
		return nil, apperrors.New(apperrors.ErrValidation, "username and password are required")
	}

	res, err := m.authority.Login(ctx, username, password)
	if err != nil {
		logging.Warn("login rejected", map[string]interface{}{"username": username, "code": apperrors.CodeOf(err)})
		return nil, err
	}

	tokens := models.TokenSet{Access: res.AccessToken, Refresh: res.RefreshToken, IssuedAt: m.clock.Now()}
	if err := m.save(ctx, storage.KeyTokens, tokens); err != nil {
		return nil, err
	}
	if err := m.save(ctx, storage.KeyUser, res.User); err != nil {
		return nil, err
	}

	logging.Info("session started", map[string]interface{}{"username": username, "role": res.User.RoleName()})
	return res.User, nil
}

// AccessToken returns the stored access token or "" when there is none.
func (m *Manager) AccessToken(ctx context.Context) string {
	tokens, ok := m.tokens(ctx)
	if !ok {
		return ""
	}
	return tokens.Access
}

// RefreshToken returns the stored refresh token or "" when there is none.
func (m *Manager) RefreshToken(ctx context.Context) string {
	tokens, ok := m.tokens(ctx)
	if !ok {
		return ""
	}
	return tokens.Refresh
}

// RefreshAccessToken exchanges the refresh token for a new access token and
// stores it next to the unchanged refresh token. Concurrent callers share
// one authority call. Any failure is reported as a session expiry.
func (m *Manager) RefreshAccessToken(ctx context.Context) (string, error) {
	v, err, shared := m.refreshes.Do("refresh", func() (interface{}, error) {
		tokens, ok := m.tokens(ctx)
		if !ok || tokens.Refresh == "" {
			return "", apperrors.New(apperrors.ErrSessionExpired, "no refresh token available")
		}

		access, err := m.authority.Refresh(ctx, tokens.Refresh)
		if err != nil {
			return "", apperrors.Wrap(apperrors.ErrSessionExpired, "token refresh failed", err)
		}

		tokens.Access = access
		tokens.IssuedAt = m.clock.Now()
		if err := m.save(ctx, storage.KeyTokens, tokens); err != nil {
			return "", apperrors.Wrap(apperrors.ErrSessionExpired, "could not store refreshed token", err)
		}
		return access, nil
	})
	if err != nil {
		return "", err
	}
	if !shared {
		telemetry.TrackEvent(telemetry.SessionRefreshes)
	}
	logging.Debug("access token refreshed", map[string]interface{}{"shared": shared})
	return v.(string), nil
}

// Logout invalidates the session on the authority when possible, then
// deletes both blobs and destroys the vault key. The remote step is best
// effort; local cleanup always runs.
func (m *Manager) Logout(ctx context.Context) error {
	if token := m.AccessToken(ctx); token != "" {
		if err := m.authority.Logout(ctx, token); err != nil {
			logging.Warn("remote logout failed", map[string]interface{}{"error": err.Error()})
		}
	}
	return m.clear(ctx)
}

func (m *Manager) clear(ctx context.Context) error {
	var errs []error
	for _, key := range []string{storage.KeyTokens, storage.KeyUser} {
		if err := m.store.Delete(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.vault.DestroyKey(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "could not clear session", err)
	}
	logging.Info("session cleared")
	return nil
}

// IsAuthenticated reports whether an access token is stored.
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	return m.AccessToken(ctx) != ""
}

// CurrentUser returns the stored profile or nil.
func (m *Manager) CurrentUser(ctx context.Context) *models.User {
	var user models.User
	if !m.load(ctx, storage.KeyUser, &user) {
		return nil
	}
	return &user
}

// Role returns the current user's role name or "".
func (m *Manager) Role(ctx context.Context) string {
	return m.CurrentUser(ctx).RoleName()
}

// IsElevated reports whether the current user holds an elevated role.
func (m *Manager) IsElevated(ctx context.Context) bool {
	u := m.CurrentUser(ctx)
	return u != nil && u.Role.IsElevated()
}

// HasPermission reports whether the current user's role grants name. It is
// false when nobody is logged in or the permission is not listed.
func (m *Manager) HasPermission(ctx context.Context, name string) bool {
	u := m.CurrentUser(ctx)
	if u == nil || u.Role == nil {
		return false
	}
	return u.Role.Permissions[name]
}

// TokenExpiry returns the exp claim of the stored access token, or nil when
// there is no token or it is not a JWT carrying exp.
func (m *Manager) TokenExpiry(ctx context.Context) *time.Time {
	return expiry(m.AccessToken(ctx))
}

// Authorized runs call with the access token. An unauthorized answer
// triggers one refresh and one retry. When the refresh fails or the retry is
// unauthorized again the session is cleared and ErrSessionExpired returned.
// A token whose exp has already passed is refreshed before the first
// attempt, which then counts as the retry.
func (m *Manager) Authorized(ctx context.Context, call Call) error {
	token := m.AccessToken(ctx)
	if token == "" {
		return apperrors.New(apperrors.ErrSessionExpired, "not logged in")
	}

	if exp := expiry(token); exp != nil && !m.clock.Now().Before(*exp) {
		return m.refreshAndRetry(ctx, call)
	}

	err := call(ctx, token)
	if !apperrors.Is(err, apperrors.ErrUnauthorized) {
		return err
	}
	return m.refreshAndRetry(ctx, call)
}

func (m *Manager) refreshAndRetry(ctx context.Context, call Call) error {
	token, err := m.RefreshAccessToken(ctx)
	if err != nil {
		m.expire(ctx, err)
		return err
	}

	err = call(ctx, token)
	if apperrors.Is(err, apperrors.ErrUnauthorized) {
		m.expire(ctx, err)
		return apperrors.Wrap(apperrors.ErrSessionExpired, "session rejected after refresh", err)
	}
	return err
}

func (m *Manager) expire(ctx context.Context, cause error) {
	telemetry.TrackEvent(telemetry.SessionExpired)
	logging.Warn("session expired", map[string]interface{}{"cause": cause.Error()})
	if err := m.clear(ctx); err != nil {
		logging.Error("could not clear expired session", err)
	}
}

func (m *Manager) tokens(ctx context.Context) (models.TokenSet, bool) {
	var tokens models.TokenSet
	ok := m.load(ctx, storage.KeyTokens, &tokens)
	return tokens, ok
}

func (m *Manager) save(ctx context.Context, key string, payload any) error {
	blob, err := m.vault.Encrypt(ctx, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(blob)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "could not encode blob", err)
	}
	if err := m.store.Set(ctx, key, data); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "could not persist "+key, err)
	}
	return nil
}

// load decrypts key into out. Absent, unreadable and tampered blobs all
// read as nothing stored.
func (m *Manager) load(ctx context.Context, key string, out any) bool {
	data, err := m.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			logging.Error("credential read failed", err, map[string]interface{}{"key": key})
		}
		return false
	}
	var blob models.CredentialBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return false
	}
	return m.vault.Decrypt(ctx, &blob, out)
}

// expiry reads exp from token without verifying the signature; the device
// does not hold the authority's key.
func expiry(token string) *time.Time {
	if token == "" {
		return nil
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil || claims.ExpiresAt == nil {
		return nil
	}
	exp := claims.ExpiresAt.Time
	return &exp
}
