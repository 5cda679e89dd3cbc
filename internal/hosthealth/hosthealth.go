// Package hosthealth tracks per-host fetch outcomes and converts sustained
// failure into scheduling pressure. Instead of gating requests the way the
// transport breaker in internal/fetcher does, it hands workers an extra
// backoff penalty for hosts that keep failing, so retries against a sick
// host spread out while other hosts proceed at full speed. The HTTP health
// endpoint reports which hosts are currently degraded or suspended.
package hosthealth

import (
	"sync"
	"time"

	"podcastcrawler/internal/metrics"
)

// Level summarizes a host's current standing.
type Level string

const (
	LevelHealthy   Level = "healthy"
	LevelDegraded  Level = "degraded"
	LevelSuspended Level = "suspended"
)

// Config tunes how quickly failures turn into penalties and how long a
// quiet host takes to be forgiven.
type Config struct {
	// DegradedAfter is the consecutive-failure count at which a host starts
	// accruing penalty time; below it failures are treated as noise.
	DegradedAfter int
	// SuspendedAfter is the consecutive-failure count at which the penalty
	// pins to MaxPenalty.
	SuspendedAfter int
	// PenaltyStep is the extra backoff added per failure past DegradedAfter.
	PenaltyStep time.Duration
	// MaxPenalty caps the extra backoff for any single retry.
	MaxPenalty time.Duration
	// Forgive resets a host's record after this much time without a failure.
	Forgive time.Duration
}

// DefaultConfig keeps a flaky host from monopolizing its worker's retry
// budget without locking it out entirely.
var DefaultConfig = Config{
	DegradedAfter:  3,
	SuspendedAfter: 8,
	PenaltyStep:    2 * time.Second,
	MaxPenalty:     2 * time.Minute,
	Forgive:        5 * time.Minute,
}

type record struct {
	consecutive   int
	totalFailures int
	lastFailure   time.Time
	lastSuccess   time.Time
}

// Tracker owns one record per host, created lazily on first report.
type Tracker struct {
	mu      sync.Mutex
	cfg     Config
	hosts   map[string]*record
	metrics *metrics.Metrics
}

// Status is a point-in-time snapshot for diagnostics and the /health route.
type Status struct {
	Host                string        `json:"host"`
	Level               Level         `json:"level"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	TotalFailures       int           `json:"total_failures"`
	Penalty             time.Duration `json:"penalty_ns"`
	LastFailure         *time.Time    `json:"last_failure,omitempty"`
	LastSuccess         *time.Time    `json:"last_success,omitempty"`
}

// NewTracker creates an empty tracker. m may be nil to disable the
// host_health_state gauge (tests).
func NewTracker(cfg Config, m *metrics.Metrics) *Tracker {
	if cfg.DegradedAfter <= 0 {
		cfg.DegradedAfter = DefaultConfig.DegradedAfter
	}
	if cfg.SuspendedAfter <= cfg.DegradedAfter {
		cfg.SuspendedAfter = cfg.DegradedAfter + DefaultConfig.SuspendedAfter - DefaultConfig.DegradedAfter
	}
	if cfg.PenaltyStep <= 0 {
		cfg.PenaltyStep = DefaultConfig.PenaltyStep
	}
	if cfg.MaxPenalty <= 0 {
		cfg.MaxPenalty = DefaultConfig.MaxPenalty
	}
	if cfg.Forgive <= 0 {
		cfg.Forgive = DefaultConfig.Forgive
	}
	return &Tracker{cfg: cfg, hosts: make(map[string]*record), metrics: m}
}

// ReportSuccess clears the host's consecutive-failure streak.
func (t *Tracker) ReportSuccess(host string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.recordFor(host)
	r.consecutive = 0
	r.lastSuccess = time.Now()
	t.updateGauge(host, r)
}

// ReportFailure extends the host's streak.
func (t *Tracker) ReportFailure(host string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	r := t.recordFor(host)
	t.forgiveIfQuiet(r)
	r.consecutive++
	r.totalFailures++
	r.lastFailure = time.Now()
	t.updateGauge(host, r)
}

// Penalty returns the extra backoff a worker should add before its next
// attempt against host: zero while the host is healthy, one PenaltyStep per
// failure past DegradedAfter, pinned to MaxPenalty once suspended.
func (t *Tracker) Penalty(host string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.hosts[host]
	if !ok {
		return 0
	}
	t.forgiveIfQuiet(r)
	return t.penaltyOf(r)
}

// Level reports the host's current standing.
func (t *Tracker) Level(host string) Level {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.hosts[host]
	if !ok {
		return LevelHealthy
	}
	t.forgiveIfQuiet(r)
	return t.levelOf(r)
}

// Snapshot returns the status of every host the tracker has seen.
func (t *Tracker) Snapshot() map[string]Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]Status, len(t.hosts))
	for host, r := range t.hosts {
		t.forgiveIfQuiet(r)
		s := Status{
			Host:                host,
			Level:               t.levelOf(r),
			ConsecutiveFailures: r.consecutive,
			TotalFailures:       r.totalFailures,
			Penalty:             t.penaltyOf(r),
		}
		if !r.lastFailure.IsZero() {
			lf := r.lastFailure
			s.LastFailure = &lf
		}
		if !r.lastSuccess.IsZero() {
			ls := r.lastSuccess
			s.LastSuccess = &ls
		}
		out[host] = s
	}
	return out
}

func (t *Tracker) recordFor(host string) *record {
	r, ok := t.hosts[host]
	if !ok {
		r = &record{}
		t.hosts[host] = r
	}
	return r
}

// forgiveIfQuiet resets the streak of a host whose last failure is older
// than the Forgive window. Callers must hold t.mu.
func (t *Tracker) forgiveIfQuiet(r *record) {
	if r.consecutive > 0 && time.Since(r.lastFailure) > t.cfg.Forgive {
		r.consecutive = 0
	}
}

func (t *Tracker) penaltyOf(r *record) time.Duration {
	if r.consecutive < t.cfg.DegradedAfter {
		return 0
	}
	if r.consecutive >= t.cfg.SuspendedAfter {
		return t.cfg.MaxPenalty
	}
	p := t.cfg.PenaltyStep * time.Duration(r.consecutive-t.cfg.DegradedAfter+1)
	if p > t.cfg.MaxPenalty {
		return t.cfg.MaxPenalty
	}
	return p
}

func (t *Tracker) levelOf(r *record) Level {
	switch {
	case r.consecutive >= t.cfg.SuspendedAfter:
		return LevelSuspended
	case r.consecutive >= t.cfg.DegradedAfter:
		return LevelDegraded
	default:
		return LevelHealthy
	}
}

func (t *Tracker) updateGauge(host string, r *record) {
	if t.metrics == nil {
		return
	}
	t.metrics.HostHealth.WithLabelValues(host).Set(levelGauge(t.levelOf(r)))
}

func levelGauge(l Level) float64 {
	switch l {
	case LevelSuspended:
		return 2
	case LevelDegraded:
		return 1
	default:
		return 0
	}
}
