package monitor

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"simfan/internal/config"
	"simfan/internal/outgauge"
	"simfan/internal/web"
)

type fakeRead struct {
	pkt outgauge.Packet
	err error
}

type fakeSource struct {
	ch        chan fakeRead
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan fakeRead, 16), closed: make(chan struct{})}
}

func (f *fakeSource) Read() (outgauge.Packet, error) {
	select {
	case r := <-f.ch:
		return r.pkt, r.err
	case <-f.closed:
		return outgauge.Packet{}, net.ErrClosed
	}
}

func (f *fakeSource) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeSource) sample(speedKMH float64) {
	f.ch <- fakeRead{pkt: outgauge.Packet{Speed: float32(speedKMH / 3.6)}}
}

func (f *fakeSource) timeout() {
	f.ch <- fakeRead{err: outgauge.ErrTimeout}
}

type fakeSink struct {
	mu        sync.Mutex
	vals      []int
	connected bool
	ch        chan int
}

func newFakeSink() *fakeSink {
	return &fakeSink{connected: true, ch: make(chan int, 16)}
}

func (f *fakeSink) Enqueue(pct int) {
	f.mu.Lock()
	f.vals = append(f.vals, pct)
	f.mu.Unlock()
	f.ch <- pct
}

func (f *fakeSink) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeSink) values() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.vals...)
}

func startService(t *testing.T, cfg config.Config) (*Service, *fakeSource, *fakeSink, *web.Status) {
	t.Helper()
	src := newFakeSource()
	sink := newFakeSink()
	status := web.NewStatus()
	svc := New(cfg, src, sink, status)

	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)
	t.Cleanup(func() {
		cancel()
		svc.Close()
	})
	return svc, src, sink, status
}

func waitEnqueued(t *testing.T, sink *fakeSink, want int) {
	t.Helper()
	select {
	case got := <-sink.ch:
		require.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for fan=%d", want)
	}
}

// waitSuppressed waits for the suppressed-command counter, which a processing
// pass bumps only after publishing its snapshot.
func waitSuppressed(t *testing.T, status *web.Status, want uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if status.Snapshot(time.Now()).SuppressedTotal >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d suppressed commands", want)
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Control.CooldownMS = 0
	return cfg
}

func TestService_MapsAndDispatches(t *testing.T) {
	_, src, sink, status := startService(t, testConfig())

	src.sample(150)
	waitEnqueued(t, sink, 50)

	live := status.Live()
	require.Equal(t, 150.0, live.SpeedKMH)
	require.Equal(t, 50, live.FanSpeed)
	require.True(t, live.Enabled)
	require.True(t, live.Connected)
	require.NotEmpty(t, live.LastUpdate)
}

func TestService_CooldownSuppressesBurst(t *testing.T) {
	cfg := testConfig()
	cfg.Control.CooldownMS = 3_600_000 // effectively forever
	_, src, sink, status := startService(t, cfg)

	src.sample(150)
	waitEnqueued(t, sink, 50)

	src.sample(300)
	src.sample(210)
	waitSuppressed(t, status, 2)

	require.Equal(t, []int{50}, sink.values())
	snap := status.Snapshot(time.Now())
	require.Equal(t, uint64(1), snap.CommandsTotal)
	require.Equal(t, uint64(2), snap.SuppressedTotal)
	// The snapshot still tracks the computed value even when suppressed.
	require.Equal(t, 70, status.Live().FanSpeed)
}

func TestService_UnchangedValueNotRedispatched(t *testing.T) {
	_, src, sink, status := startService(t, testConfig())

	src.sample(150)
	waitEnqueued(t, sink, 50)
	src.sample(150)
	src.sample(150)
	waitSuppressed(t, status, 2)

	require.Equal(t, []int{50}, sink.values())
}

func TestService_DisabledForcesZeroThroughLimiter(t *testing.T) {
	svc, src, sink, status := startService(t, testConfig())

	src.sample(150)
	waitEnqueued(t, sink, 50)

	// Disabling drives a 0 through the limiter path right away.
	svc.SetEnabled(false)
	waitEnqueued(t, sink, 0)
	require.False(t, status.Live().Enabled)
	require.Equal(t, 0, status.Live().FanSpeed)

	// While disabled, samples keep flowing but the target stays 0, and an
	// unchanged 0 is never re-dispatched.
	src.sample(280)
	waitSuppressed(t, status, 1)
	require.Equal(t, []int{50, 0}, sink.values())
	require.Equal(t, 280.0, status.Live().SpeedKMH)
}

func TestService_ForceStopDispatchesZero(t *testing.T) {
	svc, src, sink, status := startService(t, testConfig())

	src.sample(200)
	waitEnqueued(t, sink, 67)

	svc.ForceStop()
	waitEnqueued(t, sink, 0)
	require.Equal(t, 0, status.Live().FanSpeed)
	// Force-stop does not disable the system.
	require.True(t, svc.Enabled())
}

func TestService_TimeoutRefreshesSnapshot(t *testing.T) {
	_, src, sink, status := startService(t, testConfig())

	src.sample(150)
	waitEnqueued(t, sink, 50)
	before := status.Live().LastUpdate

	src.timeout()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if status.Live().LastUpdate != before {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	live := status.Live()
	require.NotEqual(t, before, live.LastUpdate, "timeout must refresh the snapshot")
	require.Equal(t, 0.0, live.SpeedKMH)
	// The last dispatched value is still shown while enabled.
	require.Equal(t, 50, live.FanSpeed)
}

func TestService_ApplyConfigRejectsInvalid(t *testing.T) {
	svc, _, _, _ := startService(t, testConfig())

	bad := svc.EffectiveConfig()
	bad.Mapping.MinSpeedKMH = 500
	require.Error(t, svc.ApplyConfig(bad))

	// The previous configuration stays in effect.
	require.Equal(t, 0.0, svc.EffectiveConfig().Mapping.MinSpeedKMH)
}

func TestService_ApplyConfigTakesEffect(t *testing.T) {
	svc, src, sink, _ := startService(t, testConfig())

	src.sample(150)
	waitEnqueued(t, sink, 50)

	cfg := svc.EffectiveConfig()
	cfg.Mapping.MaxSpeedKMH = 150
	require.NoError(t, svc.ApplyConfig(cfg))

	src.sample(150)
	waitEnqueued(t, sink, 100)
}
