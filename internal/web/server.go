package web

import (
	"context"
	"embed"
	"encoding/json"
	"io/fs"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:embed assets/*
var embeddedAssets embed.FS

// LoopController exposes the control-loop actions the dashboard needs beyond
// settings updates. Implementations must be safe to call concurrently with
// the loop.
type LoopController interface {
	Controller
	SetEnabled(enabled bool)
	Enabled() bool
	// ForceStop drives the fan target to 0 through the rate-limited
	// dispatch path.
	ForceStop()
}

// Reconnector triggers a device reconnect attempt on demand.
type Reconnector interface {
	Reconnect(ctx context.Context) error
}

func Handler(status *Status, settings SettingsStore, logs *LogBuffer, ctrl LoopController, rec Reconnector) http.Handler {
	mux := http.NewServeMux()

	assetsFS, err := fs.Sub(embeddedAssets, "assets")
	if err != nil {
		// Should never happen; keep server functional with API only.
		assetsFS = nil
	}

	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, status.Snapshot(time.Now().UTC()))
	})

	mux.Handle("/api/settings", settings.Handler())

	mux.HandleFunc("/api/toggle", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		enabled := !ctrl.Enabled()
		ctrl.SetEnabled(enabled)

		resp := map[string]any{"enabled": enabled, "saved": true}
		if err := settings.Persist(ctrl.EffectiveConfig()); err != nil {
			resp["saved"] = false
			resp["error"] = err.Error()
		}
		writeJSON(w, resp)
	})

	mux.HandleFunc("/api/force-stop", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		ctrl.ForceStop()
		writeJSON(w, map[string]any{"ok": true})
	})

	mux.HandleFunc("/api/reconnect", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if rec == nil {
			http.Error(w, "device unavailable", http.StatusNotFound)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		if err := rec.Reconnect(ctx); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		writeJSON(w, map[string]any{"ok": true})
	})

	mux.Handle("/api/logs", logs.Handler())

	mux.Handle("/metrics", promhttp.Handler())

	if assetsFS != nil {
		mux.Handle("/", http.FileServer(http.FS(assetsFS)))
	}

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		http.Error(w, "marshal failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n"))
}
