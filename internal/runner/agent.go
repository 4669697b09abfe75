// Package runner is a reference deploy runner: it claims jobs from the
// controller, runs the deploy command and reports the outcome.
package runner

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"
	"unicode/utf8"

	"deployplane/pkg/api"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// AgentConfig holds configuration for the runner agent.
type AgentConfig struct {
	ID                string
	Concurrency       int
	PollInterval      time.Duration
	MaxBackoff        time.Duration // Maximum backoff when nothing is queued (default: 30s)
	Lease             time.Duration // Lease requested on claim and on every heartbeat (default: 30s)
	HeartbeatInterval time.Duration // default: Lease/3
}

const (
	phaseStarting = "STARTING"

	maxErrorMessage = 2000
	reportAttempts  = 3
)

// Agent runs the pull loop for deploy jobs.
type Agent struct {
	controller Controller
	executor   Executor
	config     AgentConfig
	logger     *slog.Logger
	done       chan struct{}

	// retryDelay separates report attempts.
	retryDelay time.Duration
}

// New creates a runner agent.
func New(c Controller, ex Executor, config AgentConfig, logger *slog.Logger) *Agent {
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 1 * time.Second
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}
	if config.MaxBackoff < config.PollInterval {
		config.MaxBackoff = config.PollInterval
	}
	if config.Lease < time.Second {
		config.Lease = 30 * time.Second
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = config.Lease / 3
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Agent{
		controller: c,
		executor:   ex,
		config:     config,
		logger:     logger.With("runner_id", config.ID),
		done:       make(chan struct{}),
		retryDelay: time.Second,
	}
}

// Run starts the pull loop. It blocks until ctx is cancelled, then stops
// claiming and waits for in-flight deploys to finish.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("runner starting", "concurrency", a.config.Concurrency)

	sem := make(chan struct{}, a.config.Concurrency)
	var wg sync.WaitGroup

	// signals that a slot became available
	pollNow := make(chan struct{}, 1)

	// grows while nothing is queued, resets when work is found
	currentBackoff := a.config.PollInterval

	triggerPoll := func() {
		select {
		case pollNow <- struct{}{}:
		default:
		}
	}

	triggerPoll()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("context cancelled, waiting for running deploys to finish")
			wg.Wait()
			close(a.done)
			return ctx.Err()

		case <-time.After(currentBackoff):
			triggerPoll()

		case <-pollNow:
			availableSlots := a.config.Concurrency - len(sem)
			if availableSlots <= 0 {
				continue
			}

			claimed := 0
			for range availableSlots {
				j, err := a.controller.Claim(ctx, a.config.ID, a.config.Lease)
				if err != nil {
					if statusCode(err) == http.StatusTooManyRequests {
						a.logger.Debug("claim rate limited")
					} else if ctx.Err() == nil {
						a.logger.Warn("claim failed", "error", err)
					}
					break
				}
				if j == nil {
					break
				}
				claimed++

				sem <- struct{}{}
				wg.Add(1)
				go func(j *api.JobResponse) {
					defer wg.Done()
					defer func() {
						<-sem
						triggerPoll()
					}()
					a.processJob(ctx, j)
				}(j)
			}

			if claimed == 0 {
				currentBackoff = min(currentBackoff*2, a.config.MaxBackoff)
				continue
			}
			currentBackoff = a.config.PollInterval
			a.logger.Info("claimed jobs", "count", claimed)
		}
	}
}

// Done returns a channel that is closed when the agent has fully stopped.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// progress holds the latest phase reported by a running task.
type progress struct {
	mu      sync.Mutex
	phase   string
	message string
	changed chan struct{}
}

func newProgress() *progress {
	return &progress{phase: phaseStarting, changed: make(chan struct{}, 1)}
}

func (p *progress) set(phase, message string) {
	p.mu.Lock()
	p.phase, p.message = phase, message
	p.mu.Unlock()
	select {
	case p.changed <- struct{}{}:
	default:
	}
}

func (p *progress) get() (string, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase, p.message
}

// processJob runs one claimed job and reports its outcome.
func (a *Agent) processJob(ctx context.Context, j *api.JobResponse) {
	log := a.logger.With("job_id", j.ID)

	tracer := otel.Tracer("deploy-runner")
	attrs := []attribute.KeyValue{
		attribute.String("job.id", j.ID),
		attribute.String("job.type", j.Type),
		attribute.String("runner.id", a.config.ID),
	}
	if j.RuntimeNode != nil {
		attrs = append(attrs, attribute.String("node.name", j.RuntimeNode.Name))
	}
	spanCtx, span := tracer.Start(ctx, "deploy_job",
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	log.Info("processing job", "preview_url", j.PreviewURL)

	// The deploy keeps running after the poll context is cancelled so that
	// shutdown drains in-flight work. Only a lost lease stops it early.
	execCtx, cancelExec := context.WithCancel(context.WithoutCancel(spanCtx))
	defer cancelExec()

	prog := newProgress()
	lost := make(chan struct{})

	hbCtx, stopHeartbeat := context.WithCancel(context.WithoutCancel(spanCtx))
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go func() {
		defer hbWG.Done()
		if a.runHeartbeat(hbCtx, j.ID, prog) {
			close(lost)
			cancelExec()
		}
	}()

	err := a.executor.Execute(execCtx, Task{JobID: j.ID, Env: TaskEnv(j, a.config.ID)}, prog.set)

	stopHeartbeat()
	hbWG.Wait()

	select {
	case <-lost:
		span.SetStatus(codes.Error, "lease lost")
		log.Warn("lease lost, abandoning job", "error", err)
		return
	default:
	}

	report := api.ReportJobRequest{RunnerID: a.config.ID, Status: "SUCCEEDED"}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		report.Status = "FAILED"
		report.ErrorMessage = truncate(err.Error(), maxErrorMessage)
		log.Warn("deploy failed", "error", err)
	} else {
		log.Info("deploy succeeded")
	}

	if err := a.report(spanCtx, j.ID, report); err != nil {
		log.Error("report failed", "status", report.Status, "error", err)
	}
}

// runHeartbeat extends the lease until ctx is done, sending the current
// phase on every tick and whenever it changes. It returns true when the
// controller says the job is no longer ours.
func (a *Agent) runHeartbeat(ctx context.Context, jobID string, prog *progress) bool {
	ticker := time.NewTicker(a.config.HeartbeatInterval)
	defer ticker.Stop()

	extend := int64(a.config.Lease / time.Second)
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		case <-prog.changed:
		}

		phase, msg := prog.get()
		resp, err := a.controller.Heartbeat(ctx, jobID, api.HeartbeatJobRequest{
			RunnerID:      a.config.ID,
			ExtendSeconds: &extend,
			Phase:         phase,
			PhaseMessage:  msg,
		})
		switch {
		case err == nil && resp.Status != "RUNNING":
			a.logger.Warn("job left RUNNING while deploying", "job_id", jobID, "status", resp.Status)
			return true
		case err == nil:
		case statusCode(err) == http.StatusConflict || statusCode(err) == http.StatusNotFound:
			a.logger.Warn("heartbeat rejected", "job_id", jobID, "error", err)
			return true
		case ctx.Err() == nil:
			a.logger.Warn("heartbeat failed", "job_id", jobID, "error", err)
		}
	}
}

// report sends the outcome, retrying transport failures. Rejections by the
// controller are not retried.
func (a *Agent) report(ctx context.Context, jobID string, req api.ReportJobRequest) error {
	ctx = context.WithoutCancel(ctx)
	var err error
	for attempt := 1; attempt <= reportAttempts; attempt++ {
		rctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err = a.controller.Report(rctx, jobID, req)
		cancel()
		if err == nil {
			return nil
		}
		if code := statusCode(err); code >= 400 && code < 500 {
			return err
		}
		if attempt < reportAttempts {
			time.Sleep(a.retryDelay)
		}
	}
	return err
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
