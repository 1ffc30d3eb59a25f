package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
	// Service is the gRPC health service name the result is published under.
	// Empty means the server-wide status.
	Service string
}

// Probe is one dependency the oracle needs to serve requests.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// StatusSetter receives serving-status transitions. *grpc/health.Server
// satisfies it.
type StatusSetter interface {
	SetServingStatus(service string, status healthpb.HealthCheckResponse_ServingStatus)
}

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(success bool)

// HealthChecker runs periodic dependency probes and publishes NOT_SERVING
// once any probe has failed FailThreshold times in a row.
type HealthChecker struct {
	probes     []Probe
	setter     StatusSetter
	failCounts map[string]int
	serving    bool
	mu         sync.Mutex
	cfg        Config
	onMetrics  MetricsRecordFunc
	logger     *zap.Logger
}

// New creates a new HealthChecker. The initial status is SERVING.
func New(probes []Probe, setter StatusSetter, cfg Config, logger *zap.Logger) *HealthChecker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}

	h := &HealthChecker{
		probes:     probes,
		setter:     setter,
		failCounts: make(map[string]int),
		serving:    true,
		cfg:        cfg,
		logger:     logger,
	}
	h.publish(healthpb.HealthCheckResponse_SERVING)
	return h
}

// SetMetricsRecord configures the metrics recording callback.
func (h *HealthChecker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetrics = fn
}

// Start runs the check loop until ctx is cancelled.
func (h *HealthChecker) Start(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.CheckAll(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// CheckAll runs every probe once and updates the serving status.
func (h *HealthChecker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, p := range h.probes {
		wg.Add(1)
		go func(p Probe) {
			defer wg.Done()

			pctx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
			err := p.Check(pctx)
			cancel()

			if h.onMetrics != nil {
				h.onMetrics(err == nil)
			}

			h.mu.Lock()
			if err == nil {
				h.failCounts[p.Name] = 0
			} else {
				h.failCounts[p.Name]++
			}
			count := h.failCounts[p.Name]
			h.mu.Unlock()

			if err != nil {
				h.logger.Warn("health: probe failed",
					zap.String("probe", p.Name),
					zap.Int("fail_count", count),
					zap.Error(err),
				)
			}
		}(p)
	}
	wg.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()

	healthy := true
	for _, n := range h.failCounts {
		if n >= h.cfg.FailThreshold {
			healthy = false
			break
		}
	}

	switch {
	case healthy && !h.serving:
		h.serving = true
		h.publish(healthpb.HealthCheckResponse_SERVING)
		h.logger.Info("health: recovered")
	case !healthy && h.serving:
		h.serving = false
		h.publish(healthpb.HealthCheckResponse_NOT_SERVING)
		h.logger.Warn("health: degraded", zap.Any("fail_counts", h.failCounts))
	}
}

// Serving reports the last published status.
func (h *HealthChecker) Serving() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.serving
}

func (h *HealthChecker) publish(status healthpb.HealthCheckResponse_ServingStatus) {
	if h.setter != nil {
		h.setter.SetServingStatus(h.cfg.Service, status)
	}
}
