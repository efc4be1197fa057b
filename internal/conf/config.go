// config.go: settings struct and functions to load the WatchTower configuration.
package conf

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// LogSettings contains settings for the rotating main log file.
type LogSettings struct {
	Enabled    bool   // true to enable main log file
	Path       string // path to main log file
	MaxSize    int    // maximum size of a log file in megabytes before rotation
	MaxBackups int    // number of rotated log files to keep
	MaxAge     int    // maximum age of rotated log files in days
}

// MainSettings contains top level application settings.
type MainSettings struct {
	Name string      // name of this node, used as camera fallback identifier
	Log  LogSettings // main log file settings
}

// MQTTSettings contains connection settings for the camera event bridge.
type MQTTSettings struct {
	Broker      string // MQTT broker URL, e.g. tcp://localhost:1883
	Topic       string // topic the camera bridge publishes motion events on
	Username    string // optional broker username
	Password    string // optional broker password
	SnapshotURL string // HTTP URL returning a JPEG frame for an event
}

// CameraSettings contains settings for the upstream motion event source.
type CameraSettings struct {
	ID           string        // camera identifier stored with each event
	PollInterval time.Duration // bounded wait for the next upstream event
	MQTT         MQTTSettings  // event bridge connection
}

// DetectorSettings contains settings for object detection.
type DetectorSettings struct {
	ServiceURL          string  // inference sidecar endpoint accepting a JPEG POST
	ConfidenceThreshold float64 // detections below this confidence are dropped
}

// RecognizerSettings contains settings for face recognition.
type RecognizerSettings struct {
	Enabled    bool    // false disables identity matching entirely
	ServiceURL string  // face recognition sidecar endpoint
	Tolerance  float64 // maximum face distance accepted as a match
}

// LockSettings contains SwitchBot cloud API settings for the door lock.
type LockSettings struct {
	Token    string        // SwitchBot open API token
	Secret   string        // SwitchBot signing secret
	DeviceID string        // lock device id
	Cooldown time.Duration // suppress further unlocks for this long after a success
}

// TelegramSettings contains Telegram bot API settings.
type TelegramSettings struct {
	Token  string // bot token from @BotFather
	ChatID string // chat to deliver alerts to
}

// AlertSettings contains outbound notification settings.
type AlertSettings struct {
	CoalesceWindow time.Duration    // repeated alerts per category collapse within this window
	Telegram       TelegramSettings // primary photo+caption channel
	ShoutrrrURLs   []string         // optional additional text-only channels
}

// SQLiteSettings contains the event database location.
type SQLiteSettings struct {
	Path string // path to SQLite database file
}

// OutputSettings contains durable storage locations.
type OutputSettings struct {
	SQLite        SQLiteSettings // event log database
	ThumbnailsDir string         // directory for event thumbnail JPEGs
}

// WebServerSettings contains settings for the dashboard API server.
type WebServerSettings struct {
	Enabled bool   // true to enable HTTP server
	Port    string // port to listen on
}

// Settings contains all runtime settings for the application.
type Settings struct {
	Debug bool // true to enable debug level logging

	Main       MainSettings
	Camera     CameraSettings
	Detector   DetectorSettings
	Recognizer RecognizerSettings
	Lock       LockSettings
	Alerts     AlertSettings
	Output     OutputSettings
	WebServer  WebServerSettings
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into a Settings
// struct, applies defaults and validates the result.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.config/watchtower")
	viper.AddConfigPath("/etc/watchtower")

	viper.SetEnvPrefix("watchtower")
	viper.AutomaticEnv()

	// Set default values for each configuration parameter
	// function defined in defaults.go
	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// No config file is fine, defaults plus env vars apply
			return nil
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// Setting returns the current settings instance, or nil before Load.
func Setting() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// TelegramConfigured reports whether Telegram alerts can be enabled.
func (s *Settings) TelegramConfigured() bool {
	return s.Alerts.Telegram.Token != "" && s.Alerts.Telegram.ChatID != ""
}

// LockConfigured reports whether the SwitchBot lock client can be enabled.
func (s *Settings) LockConfigured() bool {
	return s.Lock.Token != "" && s.Lock.Secret != "" && s.Lock.DeviceID != ""
}
