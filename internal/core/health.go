package core

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const healthCheckTimeout = 2 * time.Second

// HealthProbe checks one dependency (result store, raw object store).
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status      string                     `json:"status"`
	Environment string                     `json:"environment"`
	Region      string                     `json:"aws_region"`
	ResultStore string                     `json:"result_store"`
	Version     string                     `json:"version"`
	Components  map[string]componentStatus `json:"components,omitempty"`
}

// HandleHealth runs the probes concurrently under a two second deadline and
// answers 200 when all pass, 503 otherwise. Probes still running at the
// deadline count as failed.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := s.healthInfo()
	results := make(map[string]error, len(s.HealthProbes))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, probe := range s.HealthProbes {
		wg.Add(1)
		go func(p HealthProbe) {
			defer wg.Done()
			err := safeCheck(ctx, p)
			mu.Lock()
			results[p.Name()] = err
			mu.Unlock()
		}(probe)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	healthy := true
	if len(s.HealthProbes) > 0 {
		resp.Components = make(map[string]componentStatus, len(s.HealthProbes))
	}
	for _, probe := range s.HealthProbes {
		name := probe.Name()
		err, finished := results[name]
		switch {
		case !finished:
			healthy = false
			resp.Components[name] = componentStatus{Status: "unhealthy", Message: "health check timed out"}
		case err != nil:
			healthy = false
			resp.Components[name] = componentStatus{Status: "unhealthy", Message: err.Error()}
		default:
			resp.Components[name] = componentStatus{Status: "healthy"}
		}
	}

	if !healthy {
		resp.Status = "unhealthy"
		JSON(w, r, http.StatusServiceUnavailable, resp)
		return
	}
	resp.Status = "ok"
	JSON(w, r, http.StatusOK, resp)
}

func (s *Server) healthInfo() healthResponse {
	resp := healthResponse{ResultStore: "badger"}
	if s.Config == nil {
		return resp
	}
	resp.Environment = s.Config.Environment
	resp.Region = s.Config.AWS.Region
	resp.Version = s.Config.Build.Version
	if s.Config.Database.URL.IsSet() {
		resp.ResultStore = "postgres"
	}
	return resp
}

func safeCheck(ctx context.Context, p HealthProbe) (err error) {
	defer func() {
		if rvr := recover(); rvr != nil {
			err = fmt.Errorf("probe panicked: %v", rvr)
		}
	}()
	return p.Check(ctx)
}
