// validate.go: validation of loaded settings.
package conf

import (
	"github.com/watchtowerhq/watchtower-go/internal/errors"
)

// ValidateSettings checks the loaded settings for values that would prevent
// the monitor from starting. Optional integrations (lock, alerts) are allowed
// to be absent; partially configured ones are rejected.
func ValidateSettings(s *Settings) error {
	if s.Camera.ID == "" {
		return errors.Newf("camera.id must not be empty").
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}

	if s.Camera.PollInterval <= 0 {
		return errors.Newf("camera.pollinterval must be positive, got %v", s.Camera.PollInterval).
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}

	if s.Detector.ServiceURL == "" {
		return errors.Newf("detector.serviceurl must not be empty").
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}

	if s.Recognizer.Enabled && s.Recognizer.ServiceURL == "" {
		return errors.Newf("recognizer.serviceurl must not be empty when recognition is enabled").
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}

	if s.Detector.ConfidenceThreshold < 0 || s.Detector.ConfidenceThreshold > 1 {
		return errors.Newf("detector.confidencethreshold must be within 0..1, got %v", s.Detector.ConfidenceThreshold).
			Component("conf").
			Category(errors.CategoryValidation).
			Context("threshold", s.Detector.ConfidenceThreshold).
			Build()
	}

	if s.Output.SQLite.Path == "" {
		return errors.Newf("output.sqlite.path must not be empty").
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}

	if s.Output.ThumbnailsDir == "" {
		return errors.Newf("output.thumbnailsdir must not be empty").
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}

	// Lock credentials are optional but must be complete when any is set.
	anyLock := s.Lock.Token != "" || s.Lock.Secret != "" || s.Lock.DeviceID != ""
	if anyLock && !s.LockConfigured() {
		return errors.Newf("lock settings are incomplete: token, secret and deviceid are all required").
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}

	anyTelegram := s.Alerts.Telegram.Token != "" || s.Alerts.Telegram.ChatID != ""
	if anyTelegram && !s.TelegramConfigured() {
		return errors.Newf("telegram settings are incomplete: token and chatid are both required").
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}

	if s.Alerts.CoalesceWindow < 0 {
		return errors.Newf("alerts.coalescewindow must not be negative, got %v", s.Alerts.CoalesceWindow).
			Component("conf").
			Category(errors.CategoryValidation).
			Build()
	}

	return nil
}
