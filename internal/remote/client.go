package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	apperrors "github.com/SrTcot/face-nomad/internal/errors"
	"github.com/SrTcot/face-nomad/internal/models"
)

// LoginResult is the authority's answer to a successful login.
type LoginResult struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	User         *models.User `json:"user"`
}

// ApprovalStatusResult is the authority's view of the caller's latest
// approval request.
type ApprovalStatusResult struct {
	Status   models.ApprovalStatus   `json:"status"`
	CanSync  bool                    `json:"can_sync"`
	Approval *models.ApprovalRequest `json:"approval,omitempty"`
}

// Recognition is the outcome of a remote face match.
type Recognition struct {
	Success      bool    `json:"success"`
	Recognized   bool    `json:"recognized"`
	WorkerName   string  `json:"worker_name"`
	Confidence   float64 `json:"confidence"`
	Message      string  `json:"message"`
	FaceDetected bool    `json:"face_detected"`
}

// Health reports whether the authority answers at all.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/health", "", nil, nil, nil)
}

// Login exchanges credentials for a token pair and the user profile.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	var out LoginResult
	in := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", "", nil, in, &out); err != nil {
		return nil, err
	}
	if out.AccessToken == "" || out.RefreshToken == "" {
		return nil, apperrors.New(apperrors.ErrRemote, "login response carried no tokens")
	}
	return &out, nil
}

// Refresh exchanges the refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (string, error) {
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/auth/refresh", refreshToken, nil, nil, &out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", apperrors.New(apperrors.ErrRemote, "refresh response carried no token")
	}
	return out.AccessToken, nil
}

// Logout revokes the access token on the authority.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/api/auth/logout", token, nil, nil, nil)
}

// Me fetches the current user's profile.
func (c *Client) Me(ctx context.Context, token string) (*models.User, error) {
	var out struct {
		User *models.User `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", token, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.User, nil
}

// Recognize submits a base64 image for matching against enrolled workers.
func (c *Client) Recognize(ctx context.Context, token, image string) (*Recognition, error) {
	var out Recognition
	if err := c.do(ctx, http.MethodPost, "/api/recognize", token, nil, map[string]string{"image": image}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Upload sends one batch and returns how many records the authority newly
// stored. Records it already holds are acknowledged but not counted.
func (c *Client) Upload(ctx context.Context, token string, records []models.UploadRecord) (int, error) {
	var out struct {
		SyncedCount int `json:"synced_count"`
	}
	in := map[string]any{"records": records}
	if err := c.do(ctx, http.MethodPost, "/api/sync/upload", token, nil, in, &out); err != nil {
		return 0, err
	}
	return out.SyncedCount, nil
}

// Download fetches records the authority stored since the given instant.
// A nil since fetches everything the authority is willing to return.
func (c *Client) Download(ctx context.Context, token string, since *time.Time) ([]models.RemoteRecord, error) {
	var query url.Values
	if since != nil {
		// The authority compares against naive UTC timestamps.
		query = url.Values{"since": {since.UTC().Format("2006-01-02T15:04:05")}}
	}
	var out struct {
		Records []models.RemoteRecord `json:"records"`
		Count   int                   `json:"count"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/sync/download", token, query, nil, &out); err != nil {
		return nil, err
	}
	return out.Records, nil
}

// RequestApproval asks a supervisor to allow uploading the summarized records.
func (c *Client) RequestApproval(ctx context.Context, token string, summary []models.RecordSummary) (*models.ApprovalRequest, error) {
	var out struct {
		Approval *models.ApprovalRequest `json:"approval"`
	}
	in := map[string]any{"records": summary}
	if err := c.do(ctx, http.MethodPost, "/api/sync/request-approval", token, nil, in, &out); err != nil {
		return nil, err
	}
	return out.Approval, nil
}

// ApprovalStatus returns the state of the caller's latest request.
func (c *Client) ApprovalStatus(ctx context.Context, token string) (*ApprovalStatusResult, error) {
	var out ApprovalStatusResult
	if err := c.do(ctx, http.MethodGet, "/api/sync/approval-status", token, nil, nil, &out); err != nil {
		return nil, err
	}
	if out.Status == "" {
		out.Status = models.ApprovalNone
	}
	return &out, nil
}

// PendingRequests lists requests awaiting a decision. Elevated roles only.
func (c *Client) PendingRequests(ctx context.Context, token string) ([]models.ApprovalRequest, error) {
	var out struct {
		Requests []models.ApprovalRequest `json:"requests"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/sync/pending-requests", token, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Requests, nil
}

// Decide approves or rejects request id. Elevated roles only.
func (c *Client) Decide(ctx context.Context, token string, id int64, decision models.Decision) (*models.ApprovalRequest, error) {
	var out struct {
		Approval *models.ApprovalRequest `json:"approval"`
	}
	in := map[string]string{"action": string(decision)}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/sync/approve/%d", id), token, nil, in, &out); err != nil {
		return nil, err
	}
	return out.Approval, nil
}
