package detector

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/watchtowerhq/watchtower-go/internal/datastore"
	"github.com/watchtowerhq/watchtower-go/internal/dispatch"
	"github.com/watchtowerhq/watchtower-go/internal/errors"
)

type fakeClient struct {
	detections []datastore.Detection
	err        error
	calls      atomic.Int32
	inFlight   atomic.Int32
	maxFlight  atomic.Int32
	delay      time.Duration
}

func (f *fakeClient) Detect(_ context.Context, _ []byte) ([]datastore.Detection, error) {
	f.calls.Add(1)
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		prev := f.maxFlight.Load()
		if cur <= prev || f.maxFlight.CompareAndSwap(prev, cur) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.detections, f.err
}

func newTestPool(t *testing.T) *dispatch.Pool {
	t.Helper()
	pool := dispatch.NewPool("detector", 1)
	t.Cleanup(pool.Close)
	return pool
}

func TestDetectFiltersByThresholdAndLabel(t *testing.T) {
	client := &fakeClient{detections: []datastore.Detection{
		{Label: datastore.LabelPerson, Confidence: 0.91},
		{Label: datastore.LabelPerson, Confidence: 0.39}, // below threshold
		{Label: "bird", Confidence: 0.99},                // outside label set
		{Label: datastore.LabelPackage, Confidence: 0.41},
	}}
	serialized := NewSerialized(client, newTestPool(t), 0.4)

	got, err := serialized.Detect(context.Background(), []byte("frame"))
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, datastore.LabelPerson, got[0].Label)
	assert.Equal(t, datastore.LabelPackage, got[1].Label)
}

func TestDetectPropagatesErrorWithoutRetry(t *testing.T) {
	sentinel := errors.Newf("model crashed").Category(errors.CategoryDetection).Build()
	client := &fakeClient{err: sentinel}
	serialized := NewSerialized(client, newTestPool(t), 0.4)

	_, err := serialized.Detect(context.Background(), []byte("frame"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel))
	assert.Equal(t, int32(1), client.calls.Load(), "dispatcher must never retry")
}

func TestDetectSerializesConcurrentCalls(t *testing.T) {
	client := &fakeClient{
		detections: []datastore.Detection{{Label: datastore.LabelPerson, Confidence: 0.9}},
		delay:      5 * time.Millisecond,
	}
	serialized := NewSerialized(client, newTestPool(t), 0.4)

	done := make(chan struct{})
	for range 6 {
		go func() {
			defer func() { done <- struct{}{} }()
			_, _ = serialized.Detect(context.Background(), []byte("frame"))
		}()
	}
	for range 6 {
		<-done
	}

	assert.Equal(t, int32(1), client.maxFlight.Load(), "inference backend must never be entered concurrently")
}

func TestBestPerson(t *testing.T) {
	detections := []datastore.Detection{
		{Label: datastore.LabelDog, Confidence: 0.99},
		{Label: datastore.LabelPerson, Confidence: 0.55},
		{Label: datastore.LabelPerson, Confidence: 0.87},
	}

	best := BestPerson(detections)
	require.NotNil(t, best)
	assert.InDelta(t, 0.87, best.Confidence, 1e-9)

	assert.Nil(t, BestPerson([]datastore.Detection{{Label: datastore.LabelCar, Confidence: 0.9}}))
	assert.Nil(t, BestPerson(nil))
}
