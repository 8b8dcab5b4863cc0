// Package healthz serves liveness, readiness and startup-timeline endpoints
// over a completed or in-progress coordination run.
package healthz

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/veggerby/ignition"
	"github.com/veggerby/ignition/timeline"
)

// Handler builds an http.Handler exposing:
//
//	GET /healthz            liveness, always 200 while the process serves
//	GET /readyz             200 once the run is terminal and not unhealthy
//	GET /startupz           JSON summary of the run so far
//	GET /startupz/timeline  versioned timeline export of the completed run
func Handler(coord *ignition.Coordinator) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		health := coord.HealthCheck()
		status := http.StatusServiceUnavailable
		if coord.State().Terminal() && health != ignition.HealthUnhealthy {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"state":  coord.State().String(),
			"health": health.String(),
		})
	})

	r.Get("/startupz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(summarize(coord))
	})

	r.Get("/startupz/timeline", func(w http.ResponseWriter, _ *http.Request) {
		res, err := coord.Result()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		raw, err := timeline.FromResult(res).JSON()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(raw)
	})

	return r
}

type summary struct {
	RunID    string         `json:"runId"`
	State    string         `json:"state"`
	Health   string         `json:"health"`
	InFlight int64          `json:"inFlight"`
	Counts   map[string]int `json:"counts,omitempty"`
}

func summarize(coord *ignition.Coordinator) summary {
	s := summary{
		RunID:    coord.RunID(),
		State:    coord.State().String(),
		Health:   coord.HealthCheck().String(),
		InFlight: coord.InFlight(),
	}
	if res, err := coord.Result(); err == nil {
		s.Counts = make(map[string]int)
		for status, n := range res.CountByStatus() {
			s.Counts[status.String()] = n
		}
	}
	return s
}
