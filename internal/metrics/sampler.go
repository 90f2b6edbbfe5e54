package metrics

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Target identifies one running engine process to sample.
type Target struct {
	Container string
	Engine    string
	PID       int
}

// Sample is a point-in-time resource reading for a container's engine
// process.
type Sample struct {
	PID        int       `json:"pid"`
	Engine     string    `json:"engine"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Taken      time.Time `json:"taken"`
}

// SamplerConfig controls the resource sampling loop.
type SamplerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// Sampler periodically reads CPU and memory usage of running engine
// processes, surfacing them as Prometheus gauges and as snapshots the
// HTTP API serves directly. Only the latest sample per container is
// kept.
type Sampler struct {
	enabled  bool
	interval time.Duration

	mu     sync.RWMutex
	latest map[string]Sample

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpuPercent *prometheus.GaugeVec
	memoryMB   *prometheus.GaugeVec
	numThreads *prometheus.GaugeVec
	numFDs     *prometheus.GaugeVec
}

func NewSampler(cfg SamplerConfig) *Sampler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Sampler{
		enabled:  cfg.Enabled,
		interval: interval,
		latest:   make(map[string]Sample),
		stopCh:   make(chan struct{}),
		cpuPercent: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "spindb",
				Subsystem: "container",
				Name:      "cpu_percent",
				Help:      "CPU usage percentage of the engine process.",
			}, []string{"container", "engine"},
		),
		memoryMB: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "spindb",
				Subsystem: "container",
				Name:      "memory_mb",
				Help:      "Resident memory of the engine process in MB.",
			}, []string{"container", "engine"},
		),
		numThreads: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "spindb",
				Subsystem: "container",
				Name:      "num_threads",
				Help:      "Thread count of the engine process.",
			}, []string{"container", "engine"},
		),
		numFDs: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "spindb",
				Subsystem: "container",
				Name:      "num_fds",
				Help:      "Open file descriptors of the engine process (Unix only).",
			}, []string{"container", "engine"},
		),
	}
}

// RegisterMetrics registers the sampler's gauges with r. Disabled
// samplers register nothing.
func (s *Sampler) RegisterMetrics(r prometheus.Registerer) error {
	if !s.enabled {
		return nil
	}
	cs := []prometheus.Collector{s.cpuPercent, s.memoryMB, s.numThreads}
	if runtime.GOOS != "windows" {
		cs = append(cs, s.numFDs)
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start launches the sampling loop. targets is re-evaluated every tick so
// containers started or stopped mid-flight are picked up.
func (s *Sampler) Start(ctx context.Context, targets func() []Target) {
	if !s.enabled {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.collect(targets())
			}
		}
	}()
}

func (s *Sampler) Stop() {
	if !s.enabled {
		return
	}
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Sampler) collect(targets []Target) {
	now := time.Now()
	seen := make(map[string]bool, len(targets))
	for _, t := range targets {
		if t.PID <= 0 {
			continue
		}
		sample, err := readSample(t, now)
		if err != nil {
			slog.Debug("resource sample failed", "container", t.Container, "pid", t.PID, "error", err)
			continue
		}
		seen[t.Container] = true

		s.cpuPercent.WithLabelValues(t.Container, t.Engine).Set(sample.CPUPercent)
		s.memoryMB.WithLabelValues(t.Container, t.Engine).Set(float64(sample.MemoryRSS) / 1024 / 1024)
		s.numThreads.WithLabelValues(t.Container, t.Engine).Set(float64(sample.NumThreads))
		if runtime.GOOS != "windows" && sample.NumFDs > 0 {
			s.numFDs.WithLabelValues(t.Container, t.Engine).Set(float64(sample.NumFDs))
		}

		s.mu.Lock()
		s.latest[t.Container] = sample
		s.mu.Unlock()
	}

	// Drop gauges and snapshots for containers that stopped.
	s.mu.Lock()
	for name, old := range s.latest {
		if seen[name] {
			continue
		}
		delete(s.latest, name)
		s.cpuPercent.DeleteLabelValues(name, old.Engine)
		s.memoryMB.DeleteLabelValues(name, old.Engine)
		s.numThreads.DeleteLabelValues(name, old.Engine)
		if runtime.GOOS != "windows" {
			s.numFDs.DeleteLabelValues(name, old.Engine)
		}
	}
	s.mu.Unlock()
}

func readSample(t Target, now time.Time) (Sample, error) {
	proc, err := gopsproc.NewProcess(int32(t.PID)) // #nosec G115 -- pids fit in int32 on supported platforms
	if err != nil {
		return Sample{}, err
	}
	sample := Sample{PID: t.PID, Engine: t.Engine, Taken: now}
	if cpu, err := proc.CPUPercent(); err == nil {
		sample.CPUPercent = cpu
	}
	mem, err := proc.MemoryInfo()
	if err != nil {
		return Sample{}, err
	}
	sample.MemoryRSS = mem.RSS
	if threads, err := proc.NumThreads(); err == nil {
		sample.NumThreads = threads
	}
	if runtime.GOOS != "windows" {
		if fds, err := proc.NumFDs(); err == nil {
			sample.NumFDs = fds
		}
	}
	return sample, nil
}

// Latest returns the most recent sample for a container.
func (s *Sampler) Latest(container string) (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sample, ok := s.latest[container]
	return sample, ok
}

// All returns the most recent sample for every sampled container.
func (s *Sampler) All() map[string]Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Sample, len(s.latest))
	for k, v := range s.latest {
		out[k] = v
	}
	return out
}

// Enabled reports whether the sampling loop runs.
func (s *Sampler) Enabled() bool { return s.enabled }
