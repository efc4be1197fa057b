package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchtowerhq/watchtower-go/internal/alerter"
	"github.com/watchtowerhq/watchtower-go/internal/camera"
	"github.com/watchtowerhq/watchtower-go/internal/conf"
	"github.com/watchtowerhq/watchtower-go/internal/datastore"
	"github.com/watchtowerhq/watchtower-go/internal/detector"
	"github.com/watchtowerhq/watchtower-go/internal/dispatch"
	"github.com/watchtowerhq/watchtower-go/internal/errors"
	"github.com/watchtowerhq/watchtower-go/internal/lock"
)

// fakeSource replays a scripted event queue.
type fakeSource struct {
	mu        sync.Mutex
	events    []*camera.MotionEvent
	frame     []byte
	frameErr  error
	waitCalls atomic.Int32
	waitErr   error
}

func (s *fakeSource) WaitForEvent(ctx context.Context, _ time.Duration) (*camera.MotionEvent, error) {
	s.waitCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.waitErr != nil {
		err := s.waitErr
		s.waitErr = nil
		return nil, err
	}
	if len(s.events) == 0 {
		return nil, nil
	}
	event := s.events[0]
	s.events = s.events[1:]
	return event, nil
}

func (s *fakeSource) CaptureFrame(context.Context, string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, s.frameErr
}

func (s *fakeSource) Close() {}

func (s *fakeSource) push(event *camera.MotionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// fakeDetectorClient returns a fixed detection list.
type fakeDetectorClient struct {
	detections []datastore.Detection
	err        error
}

func (c *fakeDetectorClient) Detect(context.Context, []byte) ([]datastore.Detection, error) {
	return c.detections, c.err
}

// fakeMatcher returns a fixed identity.
type fakeMatcher struct {
	name  string
	calls atomic.Int32
}

func (m *fakeMatcher) Identify(context.Context, []byte) (string, error) {
	m.calls.Add(1)
	return m.name, nil
}

// fakeLock scripts the per-call unlock outcome.
type fakeLock struct {
	mu       sync.Mutex
	outcomes []bool
	calls    int
}

func (l *fakeLock) Unlock(context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if len(l.outcomes) == 0 {
		return true, nil
	}
	ok := l.outcomes[0]
	l.outcomes = l.outcomes[1:]
	return ok, nil
}

func (l *fakeLock) Lock(context.Context) (bool, error)           { return true, nil }
func (l *fakeLock) Status(context.Context) (*lock.Status, error) { return nil, nil }

func (l *fakeLock) unlockCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// capturingProvider records dispatched alerts.
type capturingProvider struct {
	mu     sync.Mutex
	alerts []alerter.Alert
}

func (p *capturingProvider) Name() string { return "capturing" }

func (p *capturingProvider) Send(_ context.Context, alert alerter.Alert) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = append(p.alerts, alert)
	return nil
}

func (p *capturingProvider) byCategory(category alerter.Category) []alerter.Alert {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []alerter.Alert
	for _, a := range p.alerts {
		if a.Category == category {
			out = append(out, a)
		}
	}
	return out
}

type testHarness struct {
	processor *Processor
	source    *fakeSource
	matcher   *fakeMatcher
	lock      *fakeLock
	provider  *capturingProvider
	store     datastore.Interface
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 320, 320))
	for y := 0; y < 320; y++ {
		for x := 0; x < 320; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG))
	return buf.Bytes()
}

func personDetection(confidence float64) datastore.Detection {
	return datastore.Detection{
		Label: datastore.LabelPerson, Confidence: confidence,
		BboxX1: 10, BboxY1: 20, BboxX2: 100, BboxY2: 300,
	}
}

func newHarness(t *testing.T, detections []datastore.Detection, matchedName string) *testHarness {
	t.Helper()

	dir := t.TempDir()
	settings := &conf.Settings{}
	settings.Camera.ID = "front_door"
	settings.Camera.PollInterval = 10 * time.Millisecond
	settings.Detector.ConfidenceThreshold = 0.4
	settings.Lock.Cooldown = time.Minute
	settings.Output.SQLite.Path = filepath.Join(dir, "events.db")
	settings.Output.ThumbnailsDir = filepath.Join(dir, "thumbnails")

	store := datastore.New(settings)
	require.NoError(t, store.Open())
	t.Cleanup(func() { _ = store.Close() })

	detectorPool := dispatch.NewPool("detector-test", 1)
	sharedPool := dispatch.NewPool("shared-test", 4)
	t.Cleanup(detectorPool.Close)
	t.Cleanup(sharedPool.Close)

	source := &fakeSource{frame: testJPEG(t)}
	matcher := &fakeMatcher{name: matchedName}
	lockClient := &fakeLock{}
	provider := &capturingProvider{}

	processor := NewProcessor(settings, Deps{
		Source:     source,
		Detector:   detector.NewSerialized(&fakeDetectorClient{detections: detections}, detectorPool, settings.Detector.ConfidenceThreshold),
		Matcher:    matcher,
		Lock:       lockClient,
		Store:      store,
		Alerts:     alerter.New(time.Minute, provider),
		SharedPool: sharedPool,
	})
	processor.errorPause = time.Millisecond

	return &testHarness{
		processor: processor,
		source:    source,
		matcher:   matcher,
		lock:      lockClient,
		provider:  provider,
		store:     store,
	}
}

func motionEvent() *camera.MotionEvent {
	return &camera.MotionEvent{
		EventType:  datastore.EventTypeMotion,
		CameraID:   "front_door",
		RecordedAt: time.Now(),
	}
}

func TestStrangerScenario(t *testing.T) {
	h := newHarness(t, []datastore.Detection{personDetection(0.91)}, "")

	h.source.push(motionEvent())
	require.NoError(t, h.processor.processNext(context.Background()))

	events, err := h.store.GetRecentEvents(10, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	stored := events[0]
	assert.False(t, stored.UnlockGranted)
	assert.Equal(t, datastore.DoorActionNone, stored.DoorAction)
	assert.Nil(t, stored.PersonName)
	require.Len(t, stored.Detections, 1)
	assert.Equal(t, datastore.LabelPerson, stored.Detections[0].Label)
	assert.InDelta(t, 0.91, stored.Detections[0].Confidence, 1e-9)
	require.NotNil(t, stored.ThumbnailPath)

	strangers := h.provider.byCategory(alerter.CategoryStranger)
	require.Len(t, strangers, 1)
	assert.Equal(t, *stored.ThumbnailPath, strangers[0].ThumbnailPath)
	assert.Contains(t, strangers[0].Caption, "front_door")

	// Identical resubmission inside the coalescing window: persisted, no
	// further alert.
	h.source.push(motionEvent())
	require.NoError(t, h.processor.processNext(context.Background()))

	events, err = h.store.GetRecentEvents(10, 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Len(t, h.provider.byCategory(alerter.CategoryStranger), 1)

	assert.Zero(t, h.lock.unlockCalls(), "a stranger never triggers actuation")
}

func TestKnownPersonUnlocksOnceWithinCooldown(t *testing.T) {
	h := newHarness(t, []datastore.Detection{personDetection(0.88)}, "alice")

	h.source.push(motionEvent())
	require.NoError(t, h.processor.processNext(context.Background()))

	h.source.push(motionEvent())
	require.NoError(t, h.processor.processNext(context.Background()))

	assert.Equal(t, 1, h.lock.unlockCalls(), "cooldown suppresses the second actuation")

	events, err := h.store.GetRecentEvents(10, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Newest-first: events[0] is the suppressed one.
	assert.False(t, events[0].UnlockGranted)
	assert.Equal(t, datastore.DoorActionNone, events[0].DoorAction)
	assert.True(t, events[1].UnlockGranted)
	assert.Equal(t, datastore.DoorActionUnlocked, events[1].DoorAction)
	require.NotNil(t, events[1].PersonName)
	assert.Equal(t, "alice", *events[1].PersonName)

	unlocks := h.provider.byCategory(alerter.CategoryUnlock)
	require.Len(t, unlocks, 1)
	assert.Contains(t, unlocks[0].Caption, "alice")
}

func TestRejectedUnlockDoesNotStartCooldown(t *testing.T) {
	h := newHarness(t, []datastore.Detection{personDetection(0.9)}, "alice")
	h.lock.outcomes = []bool{false, true}

	h.source.push(motionEvent())
	require.NoError(t, h.processor.processNext(context.Background()))

	h.source.push(motionEvent())
	require.NoError(t, h.processor.processNext(context.Background()))

	assert.Equal(t, 2, h.lock.unlockCalls(), "a rejected command leaves the cooldown untouched")

	events, err := h.store.GetRecentEvents(10, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.True(t, events[0].UnlockGranted)
	assert.False(t, events[1].UnlockGranted)
}

func TestNonPersonDetectionsTriggerMotionAlertOnly(t *testing.T) {
	h := newHarness(t, []datastore.Detection{
		{Label: datastore.LabelDog, Confidence: 0.8, BboxX1: 5, BboxY1: 5, BboxX2: 60, BboxY2: 60},
	}, "alice")

	h.source.push(motionEvent())
	require.NoError(t, h.processor.processNext(context.Background()))

	assert.Zero(t, h.lock.unlockCalls())
	assert.Zero(t, h.matcher.calls.Load(), "recognition only runs on person detections")
	motions := h.provider.byCategory(alerter.CategoryMotion)
	require.Len(t, motions, 1)
	assert.Contains(t, motions[0].Caption, datastore.LabelDog)
	assert.Empty(t, h.provider.byCategory(alerter.CategoryStranger))
}

func TestNoDetectionsPersistsWithoutAlert(t *testing.T) {
	h := newHarness(t, nil, "")

	h.source.push(motionEvent())
	require.NoError(t, h.processor.processNext(context.Background()))

	events, err := h.store.GetRecentEvents(10, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Empty(t, events[0].Detections)
	assert.False(t, events[0].AlertSent)
	assert.Empty(t, h.provider.alerts)
}

func TestCaptureFailurePersistsBareEvent(t *testing.T) {
	h := newHarness(t, []datastore.Detection{personDetection(0.9)}, "")
	h.source.frameErr = errors.Newf("camera offline").
		Component("camera").
		Category(errors.CategoryNetwork).
		Build()

	h.source.push(motionEvent())
	require.NoError(t, h.processor.processNext(context.Background()))

	events, err := h.store.GetRecentEvents(10, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Nil(t, events[0].ThumbnailPath)
	assert.Empty(t, events[0].Detections, "no frame means nothing to detect")
}

func TestCancellationPropagates(t *testing.T) {
	h := newHarness(t, nil, "")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.source.push(motionEvent())

	err := h.processor.processNext(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestRunSurvivesIterationErrors(t *testing.T) {
	h := newHarness(t, nil, "")
	h.source.waitErr = errors.Newf("bridge hiccup").
		Component("camera").
		Category(errors.CategoryNetwork).
		Build()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	err := h.processor.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Greater(t, h.source.waitCalls.Load(), int32(1), "loop continues after a failed iteration")
}
