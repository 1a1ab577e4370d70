package gen

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrean/genstudio/internal/metrics"
	"github.com/fyrean/genstudio/types"
)

// PollConfig tunes the polling state machine.
type PollConfig struct {
	// InitialDelay is the wait before the first status check, giving the
	// provider time to queue the job.
	InitialDelay time.Duration `yaml:"initial_delay"`

	// Interval is the fixed delay between status checks.
	Interval time.Duration `yaml:"interval"`

	// MaxWait bounds total polling time per job; on expiry the job becomes
	// timed_out. Zero keeps the original behavior of polling until a
	// terminal signal arrives.
	MaxWait time.Duration `yaml:"max_wait"`
}

// DefaultPollConfig returns the delays the original pipeline used.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		InitialDelay: 5 * time.Second,
		Interval:     2 * time.Second,
	}
}

// Runner owns one polling goroutine per asynchronous job. Each loop is fully
// independent: no shared rate limits, no cancellation cascades. It transitions
// a job at most once into a terminal state; if the job is deleted while a poll
// is in flight, the write is discarded by the store and the loop exits.
type Runner struct {
	cfg     PollConfig
	store   JobStore
	metrics *metrics.Collector
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewRunner creates a poll runner. metrics may be nil.
func NewRunner(cfg PollConfig, store JobStore, m *metrics.Collector, logger *zap.Logger) *Runner {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = DefaultPollConfig().InitialDelay
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollConfig().Interval
	}
	return &Runner{cfg: cfg, store: store, metrics: m, logger: logger}
}

// Watch starts a polling loop for the job token. It returns immediately.
func (r *Runner) Watch(ctx context.Context, p Poller, apiKey, jobID, token string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.poll(ctx, p, apiKey, jobID, token)
	}()
}

// Wait blocks until every active polling loop has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) poll(ctx context.Context, p Poller, apiKey, jobID, token string) {
	provider := p.Capabilities().Name
	start := time.Now()

	alive := r.store.UpdateJob(jobID, func(j *types.GenerationJob) {
		j.StatusDetail = "Initializing generation..."
	})
	if !alive {
		return
	}

	if !r.sleep(ctx, r.cfg.InitialDelay, jobID) {
		return
	}

	var deadline time.Time
	if r.cfg.MaxWait > 0 {
		deadline = start.Add(r.cfg.MaxWait)
	}

	for {
		if !deadline.IsZero() && time.Now().After(deadline) {
			r.terminal(jobID, provider, types.StatusTimedOut, "polling exceeded the configured deadline")
			return
		}

		progress, err := p.CheckProgress(ctx, apiKey, token)
		if err != nil {
			// Transport-level failure is terminal: no infinite retry.
			r.terminal(jobID, provider, types.StatusFailed, err.Error())
			return
		}

		switch {
		case progress.Faulted:
			msg := progress.FaultMessage
			if msg == "" {
				msg = "generation faulted"
			}
			r.terminal(jobID, provider, types.StatusFailed, msg)
			return

		case progress.Done:
			result, err := p.FetchResult(ctx, apiKey, token)
			if err != nil {
				r.terminal(jobID, provider, types.StatusFailed, err.Error())
				return
			}
			if result == nil {
				r.terminal(jobID, provider, types.StatusFailed, "no generations returned")
				return
			}
			applyResult(r.store, jobID, result)
			if r.metrics != nil {
				r.metrics.JobCompleted(provider)
				r.metrics.ObservePollDuration(provider, time.Since(start))
			}
			r.logger.Debug("async job completed",
				zap.String("job_id", jobID),
				zap.Duration("elapsed", time.Since(start)))
			return

		default:
			alive := r.store.UpdateJob(jobID, func(j *types.GenerationJob) {
				j.StatusDetail = progress.RawPayload
				j.WaitTimeSeconds = progress.WaitTimeSeconds
			})
			if !alive {
				// Job or project deleted mid-flight; stop polling.
				return
			}
		}

		if !r.sleep(ctx, r.cfg.Interval, jobID) {
			return
		}
	}
}

// sleep waits d or until ctx is cancelled; cancellation marks the job failed.
func (r *Runner) sleep(ctx context.Context, d time.Duration, jobID string) bool {
	select {
	case <-ctx.Done():
		r.store.UpdateJob(jobID, func(j *types.GenerationJob) {
			j.Status = types.StatusFailed
			j.StatusDetail = ctx.Err().Error()
		})
		return false
	case <-time.After(d):
		return true
	}
}

func (r *Runner) terminal(jobID, provider string, status types.JobStatus, detail string) {
	applied := r.store.UpdateJob(jobID, func(j *types.GenerationJob) {
		j.Status = status
		j.StatusDetail = detail
	})
	if applied && status == types.StatusFailed && r.metrics != nil {
		r.metrics.JobFailed(provider)
	}
	r.logger.Debug("async job reached terminal state",
		zap.String("job_id", jobID),
		zap.String("status", string(status)),
		zap.Bool("applied", applied))
}
