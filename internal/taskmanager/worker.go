package taskmanager

import (
	"bytes"
	"context"
	"math/rand"
	"time"

	"podcastcrawler/internal/feed"
	"podcastcrawler/internal/fetcher"
	"podcastcrawler/internal/hosthealth"
	"podcastcrawler/internal/metrics"
)

// workerState is the Worker's position in the Idle/Busy/Draining/Stopped
// state machine.
type workerState int

const (
	workerIdle workerState = iota
	workerBusy
	workerDraining
	workerStopped
)

// WorkerSlot is the bounded inbox a single worker owns exclusively; the
// TaskManager holds only the send end.
type WorkerSlot struct {
	id    int
	inbox chan *Task
}

func newWorkerSlot(id, capacity int) *WorkerSlot {
	return &WorkerSlot{id: id, inbox: make(chan *Task, capacity)}
}

// worker is the long-lived cooperative task bound to one WorkerSlot.
type worker struct {
	slot    *WorkerSlot
	cfg     WorkerConfig
	fetcher *fetcher.Fetcher
	parser  *feed.Parser
	metrics *metrics.Metrics
	hosts   *hosthealth.Tracker
	report  chan<- *TaskResult

	state workerState
}

// WorkerConfig carries the subset of CrawlerConfig a worker needs.
type WorkerConfig struct {
	MaxRetries     uint
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	RequestTimeout time.Duration
}

func newWorker(slot *WorkerSlot, cfg WorkerConfig, f *fetcher.Fetcher, p *feed.Parser, m *metrics.Metrics, hosts *hosthealth.Tracker, report chan<- *TaskResult) *worker {
	return &worker{slot: slot, cfg: cfg, fetcher: f, parser: p, metrics: m, hosts: hosts, report: report, state: workerIdle}
}

// run is the worker's main loop. It exits once ctx is cancelled (shutdown
// signal) and the inbox has been drained, realizing the
// Idle/Busy -> Draining -> Stopped transitions.
func (w *worker) run(ctx context.Context) {
	if w.metrics != nil {
		w.metrics.ActiveWorkers.Inc()
		defer w.metrics.ActiveWorkers.Dec()
	}

	for {
		select {
		case task, ok := <-w.slot.inbox:
			if !ok {
				w.state = workerStopped
				return
			}
			w.state = workerBusy
			w.process(ctx, task)
			w.state = workerIdle

		case <-ctx.Done():
			w.state = workerDraining
			w.drain(ctx)
			w.state = workerStopped
			return
		}
	}
}

// drain processes whatever is already queued without blocking on new
// arrivals, then stops; it is the Draining -> Stopped transition. The
// cancelled ctx makes each queued task's fetch fail immediately, so the
// tasks flow out through the normal report path marked Aborted.
func (w *worker) drain(ctx context.Context) {
	for {
		select {
		case task, ok := <-w.slot.inbox:
			if !ok {
				return
			}
			w.process(ctx, task)
		default:
			return
		}
	}
}

// process runs the fetch -> parse -> report loop for one task, retrying
// retryable network errors with exponential backoff and jitter up to
// cfg.MaxRetries.
func (w *worker) process(ctx context.Context, t *Task) {
	t.mu.Lock()
	t.Status = StatusInProgress
	t.StartedAt = time.Now()
	t.WorkerID = w.slot.id
	t.mu.Unlock()

	if w.metrics != nil {
		w.metrics.TaskStatus.WithLabelValues(string(StatusPending)).Dec()
		w.metrics.TaskStatus.WithLabelValues(string(StatusInProgress)).Inc()
	}

	start := time.Now()
	host := registrableHost(t.URL)
	var (
		body []byte
		err  error
	)

	for {
		t.mu.Lock()
		t.Attempts++
		attempt := t.Attempts
		t.mu.Unlock()

		fetchStart := time.Now()
		body, err = w.fetcher.Fetch(ctx, t.URL)
		if w.metrics != nil {
			w.metrics.StageDuration.WithLabelValues("fetch").Observe(time.Since(fetchStart).Seconds())
		}

		if err == nil {
			if w.hosts != nil {
				w.hosts.ReportSuccess(host)
			}
			break
		}

		// A cancelled run context means shutdown, not a network condition;
		// the task is aborted regardless of how the fetch error is typed,
		// and the host's record is left untouched.
		if ctx.Err() != nil {
			w.finish(t, start, false, nil, ErrAborted, "shutdown during fetch")
			return
		}

		if w.hosts != nil {
			w.hosts.ReportFailure(host)
		}

		fe, ok := err.(*fetcher.Error)
		if !ok || !fe.Retryable || uint(attempt) > w.cfg.MaxRetries {
			w.finish(t, start, false, nil, mapFetchErrorKind(err), err.Error())
			return
		}

		delay := w.backoffFor(fe, attempt)
		if w.hosts != nil {
			// A host on a failure streak stretches every retry against it,
			// spreading load away from it without blocking the worker's
			// other hosts.
			delay += w.hosts.Penalty(host)
		}
		if w.metrics != nil {
			w.metrics.TaskRetries.Inc()
		}

		select {
		case <-time.After(delay):
			// retry
		case <-ctx.Done():
			w.finish(t, start, false, nil, ErrAborted, "shutdown during backoff")
			return
		}
	}

	parseStart := time.Now()
	podcastFeed, perr := w.parser.Parse(bytes.NewReader(body))
	if w.metrics != nil {
		w.metrics.StageDuration.WithLabelValues("parse").Observe(time.Since(parseStart).Seconds())
	}

	if perr != nil {
		w.finish(t, start, false, nil, mapParseErrorKind(perr), perr.Error())
		return
	}

	w.finish(t, start, true, podcastFeed, ErrNone, "")
}

func (w *worker) finish(t *Task, start time.Time, success bool, data *feed.PodcastFeed, kind ErrorKind, message string) {
	now := time.Now()

	t.mu.Lock()
	if t.Status == StatusCompleted || t.Status == StatusFailed {
		// Already force-finalized by Shutdown; terminal states are never
		// mutated again, and the collector has retired the task.
		t.mu.Unlock()
		return
	}
	t.FinishedAt = now
	status := StatusFailed
	if success {
		status = StatusCompleted
	}
	t.Status = status
	t.ErrorKind = kind
	t.ErrorMessage = message
	attempts := t.Attempts
	t.mu.Unlock()

	if w.metrics != nil {
		w.metrics.TaskStatus.WithLabelValues(string(StatusInProgress)).Dec()
		w.metrics.TaskStatus.WithLabelValues(string(status)).Inc()
		w.metrics.ProcessedTasks.Inc()
		if !success {
			w.metrics.FailedTasks.Inc()
		}
	}

	w.report <- &TaskResult{
		TaskID:       t.ID,
		URL:          t.URL,
		Success:      success,
		Duration:     now.Sub(start),
		Attempts:     attempts,
		Data:         data,
		ErrorKind:    kind,
		ErrorMessage: message,
	}
}

// backoffFor computes the sleep before the next attempt: RateLimited uses
// the server-suggested delay (already clamped to [1s, 60s] by the
// fetcher); other retryable errors use base*2^(attempts-1) with cap and
// +-20% jitter.
func (w *worker) backoffFor(fe *fetcher.Error, attempt uint) time.Duration {
	if fe.Kind == fetcher.KindRateLimited && fe.RetryAfter > 0 {
		return fe.RetryAfter
	}

	base := w.cfg.BackoffBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	backoffCap := w.cfg.BackoffCap
	if backoffCap <= 0 {
		backoffCap = 30 * time.Second
	}

	d := base * time.Duration(1<<(attempt-1))
	if d > backoffCap || d <= 0 {
		d = backoffCap
	}

	jitter := time.Duration((rand.Float64()*0.4 - 0.2) * float64(d))
	d += jitter
	if d < 0 {
		d = 0
	}
	return d
}

func mapFetchErrorKind(err error) ErrorKind {
	fe, ok := err.(*fetcher.Error)
	if !ok {
		return ErrConnectionFailed
	}
	switch fe.Kind {
	case fetcher.KindConnectionFailed:
		return ErrConnectionFailed
	case fetcher.KindTimeout:
		return ErrTimeout
	case fetcher.KindRateLimited:
		return ErrRateLimited
	case fetcher.KindInvalidResponse:
		return ErrInvalidResponse
	case fetcher.KindTooManyRedirects:
		return ErrTooManyRedirects
	default:
		return ErrConnectionFailed
	}
}

func mapParseErrorKind(err error) ErrorKind {
	pe, ok := err.(*feed.ParseError)
	if !ok {
		return ErrInvalidFormat
	}
	switch pe.Kind {
	case feed.InvalidXML:
		return ErrInvalidXML
	case feed.InvalidRSS:
		return ErrInvalidRSS
	case feed.InvalidAtom:
		return ErrInvalidAtom
	case feed.MissingField:
		return ErrMissingField
	case feed.InvalidFormat:
		return ErrInvalidFormat
	default:
		return ErrInvalidFormat
	}
}
