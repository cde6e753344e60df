// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package hostprobe

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/NaTo1000/infinite-server26/lib/clock"
	"github.com/NaTo1000/infinite-server26/lib/ingest"
	"github.com/NaTo1000/infinite-server26/lib/schema/status"
)

// Metric names carried on host reports.
const (
	MetricCPUPercent    = "cpu_percent"
	MetricMemoryPercent = "memory_percent"
	MetricUptimeSeconds = "uptime_seconds"
)

// ModeMonitoring is the mode host reports carry.
const ModeMonitoring = "MONITORING"

// Sample is one reading of the host.
type Sample struct {
	CPUPercent    float64
	MemoryPercent float64
	UptimeSeconds float64
}

// Sampler reads the host.
type Sampler interface {
	Sample(ctx context.Context) (Sample, error)
}

// SystemSampler reads the local machine through gopsutil.
type SystemSampler struct{}

// Sample returns CPU usage since the previous call (the first call
// measures since boot), virtual memory usage, and uptime.
func (SystemSampler) Sample(ctx context.Context) (Sample, error) {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return Sample{}, fmt.Errorf("reading cpu usage: %w", err)
	}
	if len(percents) == 0 {
		return Sample{}, fmt.Errorf("reading cpu usage: no values")
	}
	memory, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("reading memory usage: %w", err)
	}
	uptime, err := host.UptimeWithContext(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("reading uptime: %w", err)
	}
	return Sample{
		CPUPercent:    percents[0],
		MemoryPercent: memory.UsedPercent,
		UptimeSeconds: float64(uptime),
	}, nil
}

// Submitter accepts reports. *ingest.Ingest implements it.
type Submitter interface {
	Submit(report status.Report) (ingest.Accepted, error)
}

// Config holds the probe's collaborators and thresholds.
type Config struct {
	Submitter Submitter
	Sampler   Sampler
	Clock     clock.Clock
	Logger    *slog.Logger

	// Interval is the time between reports. It should be well under
	// the host's staleness interval.
	Interval time.Duration

	// CPUDegradedPercent and MemoryDegradedPercent are the usage levels
	// above which the host reports itself degraded.
	CPUDegradedPercent    float64
	MemoryDegradedPercent float64
}

// Probe periodically reports host health.
type Probe struct {
	submitter Submitter
	sampler   Sampler
	clock     clock.Clock
	logger    *slog.Logger
	interval  time.Duration
	cpuLimit  float64
	memLimit  float64

	// lastTimestamp is the timestamp of the previous report. Only the
	// Run goroutine touches it.
	lastTimestamp int64
}

// New creates a probe. Sampler defaults to SystemSampler.
func New(config Config) *Probe {
	if config.Submitter == nil {
		panic("hostprobe.New: Submitter is required")
	}
	if config.Clock == nil {
		panic("hostprobe.New: Clock is required")
	}
	if config.Logger == nil {
		panic("hostprobe.New: Logger is required")
	}
	if config.Interval <= 0 {
		panic(fmt.Sprintf("hostprobe.New: Interval must be positive, got %s", config.Interval))
	}
	sampler := config.Sampler
	if sampler == nil {
		sampler = SystemSampler{}
	}
	return &Probe{
		submitter: config.Submitter,
		sampler:   sampler,
		clock:     config.Clock,
		logger:    config.Logger,
		interval:  config.Interval,
		cpuLimit:  config.CPUDegradedPercent,
		memLimit:  config.MemoryDegradedPercent,
	}
}

// Run reports immediately, then once per interval until ctx is
// cancelled.
func (p *Probe) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("host probe started", "interval", p.interval)
	p.Report(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.Report(ctx)
		}
	}
}

// Report samples the host once and submits the result. A sampling
// failure is reported as Degraded so the dashboard shows it.
func (p *Probe) Report(ctx context.Context) (status.Report, error) {
	report := p.build(ctx)
	if _, err := p.submitter.Submit(report); err != nil {
		p.logger.Warn("host report rejected", "error", err)
		return report, err
	}
	return report, nil
}

func (p *Probe) build(ctx context.Context) status.Report {
	report := status.Report{
		Subsystem: status.Host,
		Timestamp: p.nextTimestamp(),
		Status:    status.StatusOnline,
		Mode:      ModeMonitoring,
	}

	sample, err := p.sampler.Sample(ctx)
	if err != nil {
		report.Status = status.StatusDegraded
		report.Message = fmt.Sprintf("sampling failed: %v", err)
		return report
	}

	report.Metrics = map[string]float64{
		MetricCPUPercent:    sample.CPUPercent,
		MetricMemoryPercent: sample.MemoryPercent,
		MetricUptimeSeconds: sample.UptimeSeconds,
	}

	var pressure []string
	if p.cpuLimit > 0 && sample.CPUPercent > p.cpuLimit {
		pressure = append(pressure, fmt.Sprintf("cpu %.1f%% above %.0f%%", sample.CPUPercent, p.cpuLimit))
	}
	if p.memLimit > 0 && sample.MemoryPercent > p.memLimit {
		pressure = append(pressure, fmt.Sprintf("memory %.1f%% above %.0f%%", sample.MemoryPercent, p.memLimit))
	}
	if len(pressure) > 0 {
		report.Status = status.StatusDegraded
		report.Message = strings.Join(pressure, "; ")
	}
	return report
}

// nextTimestamp returns the clock in milliseconds, bumped past the
// previous timestamp when the clock has not moved.
func (p *Probe) nextTimestamp() int64 {
	timestamp := p.clock.Now().UnixMilli()
	if timestamp <= p.lastTimestamp {
		timestamp = p.lastTimestamp + 1
	}
	p.lastTimestamp = timestamp
	return timestamp
}
