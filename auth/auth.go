// Package auth talks to the key validation service that unlocks flashing.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

var ErrInvalidCredential = errors.New("key must be exactly 9 digits")

var credentialPattern = regexp.MustCompile(`^[0-9]{9}$`)

// ValidCredential reports whether key has the 9 digit format the service
// accepts. Malformed keys are rejected without a request.
func ValidCredential(key string) bool {
	return credentialPattern.MatchString(key)
}

// Result is the decision of the service.
type Result struct {
	OK       bool
	Reason   string
	DeviceID string
}

// KeyStatus describes a key without consuming it.
type KeyStatus struct {
	Used      bool
	DeviceID  string
	CreatedAt string
	UsedAt    string
}

type authRequest struct {
	Key      string `json:"key"`
	DeviceID string `json:"deviceId,omitempty"`
}

type authResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	DeviceID  string `json:"deviceId"`
	Used      bool   `json:"used"`
	CreatedAt string `json:"createdAt"`
	UsedAt    string `json:"usedAt"`
}

// HTTPError is a server side failure (5xx or an unreadable answer).
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("auth service: HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("auth service: HTTP %d", e.StatusCode)
}

type Client struct {
	baseURL string
	http    *http.Client
	log     *log.Entry
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

func WithLogger(l *log.Entry) ClientOption {
	return func(cl *Client) {
		if l != nil {
			cl.log = l
		}
	}
}

func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     log.NewEntry(log.StandardLogger()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authorize validates key for deviceID. A rejected key is a Result with
// OK == false, not an error; errors mean the service could not decide.
func (c *Client) Authorize(ctx context.Context, key, deviceID string) (Result, error) {
	if !ValidCredential(key) {
		return Result{Reason: ErrInvalidCredential.Error()}, nil
	}

	body, err := json.Marshal(authRequest{Key: key, DeviceID: deviceID})
	if err != nil {
		return Result{}, err
	}
	resp, err := c.do(ctx, http.MethodPost, c.baseURL+"/auth", body)
	if err != nil {
		return Result{}, err
	}

	res := Result{OK: resp.Success, Reason: resp.Message, DeviceID: resp.DeviceID}
	c.log.WithFields(log.Fields{
		"device": deviceID,
		"ok":     res.OK,
	}).Debug("key validated")
	return res, nil
}

// Status looks a key up without using it.
func (c *Client) Status(ctx context.Context, key string) (KeyStatus, error) {
	if !ValidCredential(key) {
		return KeyStatus{}, ErrInvalidCredential
	}
	resp, err := c.do(ctx, http.MethodGet, c.baseURL+"/auth?key="+url.QueryEscape(key), nil)
	if err != nil {
		return KeyStatus{}, err
	}
	if !resp.Success {
		return KeyStatus{}, fmt.Errorf("key status: %s", resp.Message)
	}
	return KeyStatus{
		Used:      resp.Used,
		DeviceID:  resp.DeviceID,
		CreatedAt: resp.CreatedAt,
		UsedAt:    resp.UsedAt,
	}, nil
}

// do performs the request. 4xx answers carry a decision and are returned as
// a response with Success == false.
func (c *Client) do(ctx context.Context, method, u string, body []byte) (*authResponse, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth service: %w", err)
	}
	defer resp.Body.Close()

	var out authResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&out)

	switch {
	case resp.StatusCode >= 500:
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: out.Message}
	case resp.StatusCode >= 400:
		out.Success = false
		if out.Message == "" {
			out.Message = http.StatusText(resp.StatusCode)
		}
		return &out, nil
	case decodeErr != nil:
		return nil, &HTTPError{StatusCode: resp.StatusCode, Message: decodeErr.Error()}
	}
	return &out, nil
}
