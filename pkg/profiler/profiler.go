// Package profiler exposes pprof on a side listener when enabled.
package profiler

import (
	"log/slog"
	"net/http"
	"net/http/pprof"
	"time"
)

// Start serves the pprof handlers on the given address in a background
// goroutine. Intended for diagnostics only; never exposed by default.
func Start(address string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	server := &http.Server{
		Addr:         address,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		logger.Info("profiler listening", "address", address)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("profiler stopped", "error", err)
		}
	}()
}
