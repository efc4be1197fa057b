package alerter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/watchtowerhq/watchtower-go/internal/conf"
	"github.com/watchtowerhq/watchtower-go/internal/errors"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramProvider sends alerts through the Telegram Bot API. When the alert
// carries a readable thumbnail the photo and caption go out as one sendPhoto
// call, otherwise it falls back to a plain sendMessage.
type TelegramProvider struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
}

// NewTelegramProvider creates a Telegram provider from validated settings.
func NewTelegramProvider(settings *conf.TelegramSettings) *TelegramProvider {
	return &TelegramProvider{
		token:   settings.Token,
		chatID:  settings.ChatID,
		baseURL: telegramAPIBase,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *TelegramProvider) Name() string { return "telegram" }

// Send delivers the alert. A Telegram 429 is retried exactly once after
// waiting the retry_after the API reports, a second failure is returned to
// the caller and the alert is dropped there.
func (p *TelegramProvider) Send(ctx context.Context, alert Alert) error {
	photo, err := p.readThumbnail(alert.ThumbnailPath)
	if err != nil {
		alertLogger.Warn("Thumbnail unreadable, sending text-only alert",
			"path", alert.ThumbnailPath, "error", err)
	}

	retryAfter, err := p.sendOnce(ctx, photo, alert.Caption)
	if err == nil {
		return nil
	}
	if retryAfter <= 0 {
		return err
	}

	alertLogger.Warn("Telegram rate limited, retrying once",
		"retry_after", retryAfter.String())
	select {
	case <-time.After(retryAfter):
	case <-ctx.Done():
		return errors.New(ctx.Err()).
			Component("alerter").
			Category(errors.CategoryCancellation).
			Build()
	}

	_, err = p.sendOnce(ctx, photo, alert.Caption)
	return err
}

func (p *TelegramProvider) readThumbnail(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return data, nil
}

// sendOnce performs a single API call. On HTTP 429 it returns the server's
// retry_after so the caller can schedule the one permitted retry.
func (p *TelegramProvider) sendOnce(ctx context.Context, photo []byte, caption string) (time.Duration, error) {
	var req *http.Request
	var err error
	if len(photo) > 0 {
		req, err = p.photoRequest(ctx, photo, caption)
	} else {
		req, err = p.messageRequest(ctx, caption)
	}
	if err != nil {
		return 0, errors.New(err).
			Component("alerter").
			Category(errors.CategoryNotification).
			Context("provider", "telegram").
			Build()
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, errors.New(err).
			Component("alerter").
			Category(errors.CategoryNetwork).
			Context("provider", "telegram").
			Build()
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusOK {
		return 0, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	apiErr := errors.Newf("telegram API returned status %d: %s", resp.StatusCode, string(body)).
		Component("alerter").
		Category(errors.CategoryNotification).
		Context("provider", "telegram").
		Context("status_code", resp.StatusCode).
		Build()

	if resp.StatusCode == http.StatusTooManyRequests {
		return parseRetryAfter(body), apiErr
	}
	return 0, apiErr
}

func (p *TelegramProvider) photoRequest(ctx context.Context, photo []byte, caption string) (*http.Request, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("chat_id", p.chatID); err != nil {
		return nil, err
	}
	if err := writer.WriteField("caption", caption); err != nil {
		return nil, err
	}
	part, err := writer.CreateFormFile("photo", "snapshot.jpg")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(photo); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendPhoto", p.baseURL, p.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req, nil
}

func (p *TelegramProvider) messageRequest(ctx context.Context, caption string) (*http.Request, error) {
	form := url.Values{}
	form.Set("chat_id", p.chatID)
	form.Set("text", caption)

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", p.baseURL, p.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		bytes.NewBufferString(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

// parseRetryAfter extracts parameters.retry_after from a Telegram error
// response. Returns 0 when the body does not carry one.
func parseRetryAfter(body []byte) time.Duration {
	var payload struct {
		Parameters struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0
	}
	if payload.Parameters.RetryAfter <= 0 {
		return 0
	}
	return time.Duration(payload.Parameters.RetryAfter) * time.Second
}
