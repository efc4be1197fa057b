// defaults.go: default values for all configuration parameters.
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaultConfig sets the default values for all configuration parameters.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	// Main
	viper.SetDefault("main.name", "WatchTower")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/watchtower.log")
	viper.SetDefault("main.log.maxsize", 100)
	viper.SetDefault("main.log.maxbackups", 3)
	viper.SetDefault("main.log.maxage", 28)

	// Camera event source
	viper.SetDefault("camera.id", "front_door")
	viper.SetDefault("camera.pollinterval", 5*time.Second)
	viper.SetDefault("camera.mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("camera.mqtt.topic", "watchtower/camera/events")
	viper.SetDefault("camera.mqtt.username", "")
	viper.SetDefault("camera.mqtt.password", "")
	viper.SetDefault("camera.mqtt.snapshoturl", "")

	// Object detection
	viper.SetDefault("detector.serviceurl", "http://localhost:8500/detect")
	viper.SetDefault("detector.confidencethreshold", 0.4)

	// Face recognition
	viper.SetDefault("recognizer.enabled", true)
	viper.SetDefault("recognizer.serviceurl", "http://localhost:8501/identify")
	viper.SetDefault("recognizer.tolerance", 0.5)

	// Door lock
	viper.SetDefault("lock.token", "")
	viper.SetDefault("lock.secret", "")
	viper.SetDefault("lock.deviceid", "")
	viper.SetDefault("lock.cooldown", 60*time.Second)

	// Alerts
	viper.SetDefault("alerts.coalescewindow", 60*time.Second)
	viper.SetDefault("alerts.telegram.token", "")
	viper.SetDefault("alerts.telegram.chatid", "")
	viper.SetDefault("alerts.shoutrrrurls", []string{})

	// Output
	viper.SetDefault("output.sqlite.path", "watchtower.db")
	viper.SetDefault("output.thumbnailsdir", "thumbnails")

	// Web server
	viper.SetDefault("webserver.enabled", true)
	viper.SetDefault("webserver.port", "8080")
}
