// Package lock controls the door lock through the SwitchBot cloud API.
package lock

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/watchtowerhq/watchtower-go/internal/conf"
	"github.com/watchtowerhq/watchtower-go/internal/errors"
	"github.com/watchtowerhq/watchtower-go/internal/logging"
)

const defaultBaseURL = "https://api.switch-bot.com/v1.1"

// statusOK is the SwitchBot API code for a successful request.
const statusOK = 100

// Package-level logger for lock operations
var (
	lockLogger   *slog.Logger
	lockLevelVar = new(slog.LevelVar)
)

func init() {
	var err error
	lockLevelVar.Set(slog.LevelInfo)
	lockLogger, _, err = logging.NewFileLogger("logs/lock.log", "lock", lockLevelVar)
	if err != nil || lockLogger == nil {
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: lockLevelVar})
		lockLogger = slog.New(fbHandler).With("service", "lock")
	}
}

// Status describes the current state of the lock device.
type Status struct {
	LockState string `json:"lockState"`
	DoorState string `json:"doorState"`
	Battery   int    `json:"battery"`
}

// Controller is the capability the pipeline and the dashboard use to drive
// and inspect the physical lock.
type Controller interface {
	Unlock(ctx context.Context) (bool, error)
	Lock(ctx context.Context) (bool, error)
	Status(ctx context.Context) (*Status, error)
}

// SwitchBotClient implements Controller against the SwitchBot cloud API
// (routed through a Hub). One client is created per process and reused for
// every call; requests are signed per-call statelessly, so reuse is safe.
type SwitchBotClient struct {
	token    string
	secret   string
	deviceID string
	baseURL  string
	client   *http.Client
}

// NewSwitchBotClient creates a client from lock settings.
func NewSwitchBotClient(settings *conf.LockSettings) *SwitchBotClient {
	return &SwitchBotClient{
		token:    settings.Token,
		secret:   settings.Secret,
		deviceID: settings.DeviceID,
		baseURL:  defaultBaseURL,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type apiResponse struct {
	StatusCode int             `json:"statusCode"`
	Message    string          `json:"message"`
	Body       json.RawMessage `json:"body"`
}

// signedHeaders generates authenticated headers with an HMAC-SHA256 signature
// per SwitchBot API v1.1.
func (c *SwitchBotClient) signedHeaders() http.Header {
	nonce := uuid.NewString()
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(c.token + timestamp + nonce))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	headers := http.Header{}
	headers.Set("Authorization", c.token)
	headers.Set("sign", signature)
	headers.Set("nonce", nonce)
	headers.Set("t", timestamp)
	headers.Set("Content-Type", "application/json")
	return headers
}

func (c *SwitchBotClient) do(ctx context.Context, method, url string, payload any) (*apiResponse, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header = c.signedHeaders()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errors.New(err).
			Component("lock").
			Category(errors.CategoryNetwork).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, errors.Newf("decoding SwitchBot response: %v", err).
			Component("lock").
			Category(errors.CategoryLockControl).
			Build()
	}
	return &parsed, nil
}

// command sends a device command and reports whether the cloud accepted it.
func (c *SwitchBotClient) command(ctx context.Context, name string) (bool, error) {
	url := fmt.Sprintf("%s/devices/%s/commands", c.baseURL, c.deviceID)
	payload := map[string]string{
		"command":     name,
		"parameter":   "default",
		"commandType": "command",
	}

	resp, err := c.do(ctx, http.MethodPost, url, payload)
	if err != nil {
		return false, err
	}

	if resp.StatusCode != statusOK {
		lockLogger.Error("Lock command rejected", "command", name, "status_code", resp.StatusCode, "message", resp.Message)
		return false, nil
	}

	lockLogger.Info("Lock command accepted", "command", name)
	return true, nil
}

// Unlock sends the unlock command. The boolean reports confirmed success.
func (c *SwitchBotClient) Unlock(ctx context.Context) (bool, error) {
	return c.command(ctx, "unlock")
}

// Lock sends the lock command. The boolean reports confirmed success.
func (c *SwitchBotClient) Lock(ctx context.Context) (bool, error) {
	return c.command(ctx, "lock")
}

// Status queries the current lock state. Returns nil without error when the
// cloud rejects the query, status is a best-effort dashboard detail.
func (c *SwitchBotClient) Status(ctx context.Context) (*Status, error) {
	url := fmt.Sprintf("%s/devices/%s/status", c.baseURL, c.deviceID)

	resp, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != statusOK {
		lockLogger.Warn("Lock status query rejected", "status_code", resp.StatusCode, "message", resp.Message)
		return nil, nil
	}

	var status Status
	if err := json.Unmarshal(resp.Body, &status); err != nil {
		return nil, errors.Newf("decoding lock status: %v", err).
			Component("lock").
			Category(errors.CategoryLockControl).
			Build()
	}
	return &status, nil
}
