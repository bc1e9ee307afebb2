package web

import (
	"sync/atomic"
	"time"
)

// Live is the per-sample view of the control loop. It is published as one
// value so readers never observe a partially updated snapshot.
type Live struct {
	SpeedKMH     float64 `json:"speed_kmh"`
	FanSpeed     int     `json:"fan_speed"`
	Compensation int     `json:"rate_compensation"`
	Enabled      bool    `json:"enabled"`
	Connected    bool    `json:"connected"`
	LastUpdate   string  `json:"last_update_utc,omitempty"`
}

// Status aggregates what the dashboard shows: the live control-loop view plus
// slow-changing process facts and counters.
type Status struct {
	startUnixNano int64
	samples       atomic.Uint64
	commands      atomic.Uint64
	suppressed    atomic.Uint64
	backend       atomic.Value // string
	telemetry     atomic.Value // string
	live          atomic.Value // Live
}

func NewStatus() *Status {
	s := &Status{}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.backend.Store("")
	s.telemetry.Store("")
	s.live.Store(Live{})
	return s
}

// SetStatic records process facts that change at most on config apply.
func (s *Status) SetStatic(backend, telemetryAddr string) {
	if backend != "" {
		s.backend.Store(backend)
	}
	if telemetryAddr != "" {
		s.telemetry.Store(telemetryAddr)
	}
}

// SetLive atomically replaces the live view, stamping it with nowUTC.
func (s *Status) SetLive(nowUTC time.Time, live Live) {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	live.LastUpdate = nowUTC.UTC().Format(time.RFC3339Nano)
	s.live.Store(live)
}

func (s *Status) Live() Live {
	return s.live.Load().(Live)
}

func (s *Status) AddSample()     { s.samples.Add(1) }
func (s *Status) AddCommand()    { s.commands.Add(1) }
func (s *Status) AddSuppressed() { s.suppressed.Add(1) }

type StatusSnapshot struct {
	Service         string `json:"service"`
	NowUTC          string `json:"now_utc"`
	UptimeSec       int64  `json:"uptime_sec"`
	FanBackend      string `json:"fan_backend"`
	TelemetryListen string `json:"telemetry_listen"`
	Live            Live   `json:"live"`
	SamplesTotal    uint64 `json:"samples_total"`
	CommandsTotal   uint64 `json:"commands_total"`
	SuppressedTotal uint64 `json:"suppressed_total"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()

	return StatusSnapshot{
		Service:         "simfan",
		NowUTC:          nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec:       int64(nowUTC.Sub(start).Seconds()),
		FanBackend:      s.backend.Load().(string),
		TelemetryListen: s.telemetry.Load().(string),
		Live:            s.Live(),
		SamplesTotal:    s.samples.Load(),
		CommandsTotal:   s.commands.Load(),
		SuppressedTotal: s.suppressed.Load(),
	}
}
