// Package remote is the HTTP client for the attendance authority.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/SrTcot/face-nomad/internal/errors"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// StatusError carries the HTTP status and server message of a failed call.
// It is wrapped inside an apperrors.AppError.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.Message)
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}

// Client talks JSON to the authority. Every method that needs a session
// takes the bearer token explicitly; refreshing it is the caller's job.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for baseURL with a per-request timeout.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// NewWithHTTPClient creates a client using hc, as tests do with httptest.
func NewWithHTTPClient(baseURL string, hc *http.Client) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpClient: hc}
}

// buildURL joins path and query onto the base URL.
func (c *Client) buildURL(path string, query url.Values) string {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// do sends one request. in is encoded as the JSON body when non-nil; a 2xx
// body is decoded into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path, token string, query url.Values, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return apperrors.Wrap(apperrors.ErrInvalid, "could not encode request", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.buildURL(path, query), body)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "could not build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrNetwork, fmt.Sprintf("%s %s failed", method, path), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		serr := &StatusError{Status: resp.StatusCode, Message: serverMessage(resp)}
		if resp.StatusCode == http.StatusUnauthorized {
			return apperrors.Wrap(apperrors.ErrUnauthorized, "authority rejected the session", serr)
		}
		return apperrors.Wrap(apperrors.ErrRemote, serr.Message, serr)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrap(apperrors.ErrRemote, fmt.Sprintf("malformed response from %s", path), err)
	}
	return nil
}

// serverMessage extracts {"message": ...} from an error body, falling back
// to the status text.
func serverMessage(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var envelope struct {
		Message string `json:"message"`
		Msg     string `json:"msg"`
	}
	if json.Unmarshal(data, &envelope) == nil {
		if envelope.Message != "" {
			return envelope.Message
		}
		if envelope.Msg != "" {
			return envelope.Msg
		}
	}
	if text := http.StatusText(resp.StatusCode); text != "" {
		return strings.ToLower(text)
	}
	return fmt.Sprintf("status %d", resp.StatusCode)
}
