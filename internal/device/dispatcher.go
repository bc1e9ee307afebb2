package device

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"simfan/internal/metrics"
)

// Dispatcher decouples the control loop from the device transport: commands
// go into a one-slot queue where a newer value replaces an undelivered older
// one, and a single worker delivers them. A slow or unreachable device can
// therefore never stall sample processing; the last computed value eventually
// wins.
type Dispatcher struct {
	timeout       time.Duration
	maxReconnects int

	pending chan int

	mu        sync.Mutex
	client    Client
	connected bool
	lastError string

	wg       sync.WaitGroup
	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewDispatcher(client Client, timeout time.Duration, maxReconnects int) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if maxReconnects <= 0 {
		maxReconnects = 3
	}
	return &Dispatcher{
		client:        client,
		timeout:       timeout,
		maxReconnects: maxReconnects,
		pending:       make(chan int, 1),
		stopCh:        make(chan struct{}),
	}
}

func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.stopCh:
				return
			case pct := <-d.pending:
				d.deliver(ctx, pct)
			}
		}
	}()
}

// Enqueue hands a fan value to the worker. It never blocks: an undelivered
// older value is dropped in favor of the new one.
func (d *Dispatcher) Enqueue(pct int) {
	for {
		select {
		case d.pending <- pct:
			return
		default:
		}
		select {
		case <-d.pending:
		default:
		}
	}
}

// Connected reports whether the most recent device interaction succeeded.
func (d *Dispatcher) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// LastError returns the most recent transport error, or "" when healthy.
func (d *Dispatcher) LastError() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastError
}

func (d *Dispatcher) Description() string {
	return d.getClient().Description()
}

// Swap replaces the device client, closing the old one. The dispatcher is
// considered disconnected until the next Reconnect or delivery succeeds.
func (d *Dispatcher) Swap(c Client) {
	d.mu.Lock()
	old := d.client
	d.client = c
	d.connected = false
	d.lastError = ""
	d.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
}

func (d *Dispatcher) getClient() Client {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.client
}

// Reconnect re-establishes the device connection on demand (startup and the
// dashboard's reconnect button).
func (d *Dispatcher) Reconnect(ctx context.Context) error {
	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	err := d.getClient().Connect(cctx)
	cancel()
	if err != nil {
		d.setConnected(false, err.Error())
		return err
	}
	d.setConnected(true, "")
	return nil
}

// Close stops the worker and makes a best-effort attempt to leave the fan
// off before releasing the transport.
func (d *Dispatcher) Close() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
	})
	d.wg.Wait()

	client := d.getClient()
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	if err := client.SetFanSpeed(ctx, 0); err != nil {
		log.Printf("device: final fan-off failed: %v", err)
	}
	cancel()
	_ = client.Close()
}

// deliver sends one command. On failure it marks the device disconnected,
// reconnects up to maxReconnects times, and retries the pending command
// exactly once after a successful reconnect. The attempt budget is local to
// the delivery, so any successful connect or command starts the next failure
// from a clean slate.
func (d *Dispatcher) deliver(ctx context.Context, pct int) {
	err := d.send(ctx, pct)
	if err == nil {
		d.setConnected(true, "")
		metrics.CommandsDispatched.Inc()
		return
	}
	metrics.TransportFailures.Inc()
	d.setConnected(false, err.Error())
	log.Printf("device: command fan=%d%% failed: %v", pct, err)

	for attempt := 1; attempt <= d.maxReconnects; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		default:
		}

		cctx, cancel := context.WithTimeout(ctx, d.timeout)
		err := d.getClient().Connect(cctx)
		cancel()
		if err != nil {
			log.Printf("device: reconnect %d/%d failed: %v", attempt, d.maxReconnects, err)
			continue
		}
		metrics.Reconnects.Inc()
		d.setConnected(true, "")

		if err := d.send(ctx, pct); err != nil {
			metrics.TransportFailures.Inc()
			d.setConnected(false, fmt.Sprintf("retry after reconnect: %v", err))
			log.Printf("device: retry after reconnect failed: %v", err)
		} else {
			metrics.CommandsDispatched.Inc()
		}
		// One retry only; a still-failing command waits for the next
		// differing sample.
		return
	}
}

func (d *Dispatcher) send(ctx context.Context, pct int) error {
	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	return d.getClient().SetFanSpeed(cctx, pct)
}

func (d *Dispatcher) setConnected(connected bool, lastError string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = connected
	d.lastError = lastError
}
