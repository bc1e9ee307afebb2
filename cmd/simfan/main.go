// Command simfan bridges sim-racing telemetry to a physical fan: it listens
// for LFS-style OutGauge packets over UDP, maps vehicle speed to a fan duty
// and drives the configured device, with a web dashboard for live status and
// settings.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"simfan/internal/config"
	"simfan/internal/device"
	"simfan/internal/monitor"
	"simfan/internal/outgauge"
	"simfan/internal/web"
)

func main() {
	configPath := flag.String("config", "settings.yaml", "path to the settings file")
	flag.Parse()

	logBuf := web.NewLogBuffer(1000)
	log.SetOutput(io.MultiWriter(os.Stderr, logBuf))

	if err := run(*configPath, logBuf); err != nil {
		log.Fatalf("simfan: %v", err)
	}
}

func run(configPath string, logBuf *web.LogBuffer) error {
	cfg, err := config.Load(configPath)
	switch {
	case err == nil:
		log.Printf("config: loaded %s", configPath)
	case errors.Is(err, os.ErrNotExist):
		cfg = config.Default()
		log.Printf("config: %s not found, using defaults", configPath)
	default:
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := device.NewClient(cfg.Fan)
	if err != nil {
		return fmt.Errorf("fan backend: %w", err)
	}
	dispatcher := device.NewDispatcher(client, cfg.Fan.CommandTimeout, cfg.Fan.MaxReconnectAttempts)
	dispatcher.Start(ctx)
	log.Printf("device: using %s", dispatcher.Description())

	// Startup connect is best-effort: an unreachable device must not keep
	// the bridge from serving telemetry and the dashboard.
	if err := dispatcher.Reconnect(ctx); err != nil {
		log.Printf("device: initial connect failed: %v", err)
	}

	listener, err := outgauge.NewListener(cfg.Telemetry.Listen, cfg.Telemetry.ReadTimeout)
	if err != nil {
		dispatcher.Close()
		return fmt.Errorf("telemetry: %w", err)
	}
	log.Printf("telemetry: listening on %s", listener.Addr())

	status := web.NewStatus()
	svc := monitor.New(cfg, listener, dispatcher, status)
	svc.Start(ctx)

	settings := web.SettingsStore{ConfigPath: configPath, Controller: svc}
	rec := &rebuildingReconnector{ctrl: svc, dispatcher: dispatcher, lastFan: cfg.Fan}
	handler := web.Handler(status, settings, logBuf, svc, rec)

	srv := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	httpErr := make(chan error, 1)
	go func() {
		log.Printf("web: dashboard on http://%s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Printf("shutting down")
	case err := <-httpErr:
		log.Printf("web: server failed: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = srv.Shutdown(shutdownCtx)
	cancel()

	svc.Close()
	// Closing the dispatcher last leaves the fan off.
	dispatcher.Close()
	return nil
}

// rebuildingReconnector rebuilds the device client from the configuration in
// effect before reconnecting, so backend or host changes made through the
// settings surface take hold on the dashboard's reconnect button.
type rebuildingReconnector struct {
	ctrl       *monitor.Service
	dispatcher *device.Dispatcher

	mu      sync.Mutex
	lastFan config.FanConfig
}

func (r *rebuildingReconnector) Reconnect(ctx context.Context) error {
	fan := r.ctrl.EffectiveConfig().Fan

	r.mu.Lock()
	defer r.mu.Unlock()

	if fan != r.lastFan {
		client, err := device.NewClient(fan)
		if err != nil {
			return err
		}
		r.dispatcher.Swap(client)
		r.lastFan = fan
		log.Printf("device: switched to %s", client.Description())
	}
	return r.dispatcher.Reconnect(ctx)
}
