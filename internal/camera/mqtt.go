package camera

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/watchtowerhq/watchtower-go/internal/conf"
	"github.com/watchtowerhq/watchtower-go/internal/errors"
)

const (
	connectTimeout   = 30 * time.Second
	subscribeTimeout = 10 * time.Second
	snapshotTimeout  = 10 * time.Second

	// eventBuffer absorbs bursts from the bridge while an earlier event is
	// still being processed. Overflow drops the newest event, the pipeline
	// would coalesce it anyway.
	eventBuffer = 16
)

// MQTTSource receives motion events from an MQTT topic published by the
// camera bridge and fetches frames over its HTTP snapshot endpoint.
type MQTTSource struct {
	settings *conf.MQTTSettings
	clientID string

	mu             sync.Mutex
	internalClient mqtt.Client

	events     chan *MotionEvent
	httpClient *http.Client
	now        func() time.Time
}

// NewMQTTSource creates an event source for the configured broker. Connect
// must be called before WaitForEvent delivers anything.
func NewMQTTSource(settings *conf.MQTTSettings, clientID string) *MQTTSource {
	return &MQTTSource{
		settings:   settings,
		clientID:   clientID,
		events:     make(chan *MotionEvent, eventBuffer),
		httpClient: &http.Client{Timeout: snapshotTimeout},
		now:        time.Now,
	}
}

// Connect establishes the broker session and subscribes to the event topic.
// The paho client keeps the session alive and resubscribes on reconnect.
func (s *MQTTSource) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.settings.Broker)
	opts.SetClientID(s.clientID)
	opts.SetUsername(s.settings.Username)
	opts.SetPassword(s.settings.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(s.onConnect)
	opts.SetConnectionLostHandler(s.onConnectionLost)

	s.internalClient = mqtt.NewClient(opts)

	token := s.internalClient.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return errors.Newf("timeout connecting to MQTT broker %s", s.settings.Broker).
			Component("camera").
			Category(errors.CategoryTimeout).
			Build()
	}
	if err := token.Error(); err != nil {
		return errors.New(err).
			Component("camera").
			Category(errors.CategoryMQTT).
			Context("broker", s.settings.Broker).
			Build()
	}

	_ = ctx
	return nil
}

// onConnect runs on every (re)connect, so the subscription survives broker
// restarts.
func (s *MQTTSource) onConnect(client mqtt.Client) {
	cameraLogger.Info("Connected to MQTT broker", "broker", s.settings.Broker)

	token := client.Subscribe(s.settings.Topic, 1, s.onMessage)
	if !token.WaitTimeout(subscribeTimeout) {
		cameraLogger.Error("Subscribe timeout", "topic", s.settings.Topic)
		return
	}
	if err := token.Error(); err != nil {
		cameraLogger.Error("Subscribe failed", "topic", s.settings.Topic, "error", err)
		return
	}
	cameraLogger.Info("Subscribed to event topic", "topic", s.settings.Topic)
}

func (s *MQTTSource) onConnectionLost(_ mqtt.Client, err error) {
	cameraLogger.Warn("Connection to MQTT broker lost", "broker", s.settings.Broker, "error", err)
}

// onMessage parses one bridge payload into a MotionEvent and queues it.
func (s *MQTTSource) onMessage(_ mqtt.Client, msg mqtt.Message) {
	event, err := parseMotionEvent(msg.Payload(), s.now())
	if err != nil {
		cameraLogger.Warn("Discarding malformed event payload",
			"topic", msg.Topic(), "error", err)
		return
	}

	select {
	case s.events <- event:
	default:
		cameraLogger.Warn("Event buffer full, dropping event",
			"camera", event.CameraID, "type", event.EventType)
	}
}

// WaitForEvent implements Source.
func (s *MQTTSource) WaitForEvent(ctx context.Context, timeout time.Duration) (*MotionEvent, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case event := <-s.events:
		return event, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, errors.New(ctx.Err()).
			Component("camera").
			Category(errors.CategoryCancellation).
			Build()
	}
}

// CaptureFrame implements Source by fetching the bridge's snapshot endpoint.
func (s *MQTTSource) CaptureFrame(ctx context.Context, cameraID string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.settings.SnapshotURL, http.NoBody)
	if err != nil {
		return nil, errors.New(err).
			Component("camera").
			Category(errors.CategoryValidation).
			Context("snapshot_url", s.settings.SnapshotURL).
			Build()
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, errors.New(err).
			Component("camera").
			Category(errors.CategoryNetwork).
			Context("camera", cameraID).
			Build()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("snapshot endpoint returned status %d", resp.StatusCode).
			Component("camera").
			Category(errors.CategoryNetwork).
			Context("camera", cameraID).
			Context("status_code", resp.StatusCode).
			Build()
	}

	frame, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.New(err).
			Component("camera").
			Category(errors.CategoryNetwork).
			Context("camera", cameraID).
			Build()
	}
	if len(frame) == 0 {
		return nil, errors.Newf("snapshot endpoint returned an empty frame").
			Component("camera").
			Category(errors.CategoryImage).
			Context("camera", cameraID).
			Build()
	}
	return frame, nil
}

// Close implements Source.
func (s *MQTTSource) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.internalClient != nil && s.internalClient.IsConnected() {
		s.internalClient.Disconnect(250)
	}
}

// parseMotionEvent decodes a bridge payload. Missing fields fall back to
// sane values rather than rejecting the event, only unparseable JSON or an
// unknown event type discards it.
func parseMotionEvent(payload []byte, receivedAt time.Time) (*MotionEvent, error) {
	var event MotionEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, errors.New(err).
			Component("camera").
			Category(errors.CategoryValidation).
			Build()
	}
	switch event.EventType {
	case "motion", "ding":
	case "":
		event.EventType = "motion"
	default:
		return nil, errors.Newf("unknown event type %q", event.EventType).
			Component("camera").
			Category(errors.CategoryValidation).
			Build()
	}
	if event.RecordedAt.IsZero() {
		event.RecordedAt = receivedAt
	}
	return &event, nil
}
