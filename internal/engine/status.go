package engine

import (
	"encoding/json"
	"net/http"

	"llm-crypto-trader/internal/portfolio"
	"llm-crypto-trader/internal/types"
)

type status struct {
	Latest    *types.StepReport  `json:"latest"`
	Portfolio portfolio.Snapshot `json:"portfolio"`
}

// StatusHandler serves the latest step report and portfolio as JSON. It is
// read-only.
func (e *Engine) StatusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status{Latest: e.Latest(), Portfolio: e.Snapshot()})
	})
}

// ServeStatus exposes StatusHandler at /status on addr.
func (e *Engine) ServeStatus(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/status", e.StatusHandler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
