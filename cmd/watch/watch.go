package watch

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/watchtowerhq/watchtower-go/internal/conf"
	"github.com/watchtowerhq/watchtower-go/internal/monitor"
)

// Command creates the watch command which runs the monitor until interrupted.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Monitor the doorbell camera in realtime",
		Long:  "Process motion events from the doorbell camera: detect objects, recognize household members, actuate the door lock and serve the dashboard API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return monitor.New(settings).Run()
		},
	}

	if err := setupFlags(cmd, settings); err != nil {
		fmt.Printf("error setting up flags: %v\n", err)
		os.Exit(1)
	}

	return cmd
}

// setupFlags configures flags specific to the watch command.
func setupFlags(cmd *cobra.Command, settings *conf.Settings) error {
	cmd.Flags().StringVar(&settings.Camera.MQTT.Broker, "broker", viper.GetString("camera.mqtt.broker"), "MQTT broker URL of the camera event bridge")
	cmd.Flags().StringVar(&settings.Camera.MQTT.Topic, "topic", viper.GetString("camera.mqtt.topic"), "MQTT topic carrying motion events")
	cmd.Flags().StringVar(&settings.Output.SQLite.Path, "db", viper.GetString("output.sqlite.path"), "Path to the event log database")
	cmd.Flags().StringVar(&settings.Output.ThumbnailsDir, "thumbnails", viper.GetString("output.thumbnailsdir"), "Directory for event thumbnails")
	cmd.Flags().StringVar(&settings.WebServer.Port, "port", viper.GetString("webserver.port"), "Port of the dashboard API server")

	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}
