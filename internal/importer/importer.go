package importer

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/rudderlabs/rudder-go-kit/config"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"

	"github.com/rudderlabs/marketo-import-proxy/internal/model"
)

// bulkAPI is the slice of the Marketo client the orchestration drives.
type bulkAPI interface {
	AccessToken(ctx context.Context) (string, error)
	CreateImportJob(ctx context.Context, token, dedupeKey string) (string, error)
	UploadJobData(ctx context.Context, token, batchID, content string) error
	PollImportStatus(ctx context.Context, token, batchID string) (*model.ImportStatus, error)
}

type Opt func(*Importer)

// WithSleepFn replaces the wait between poll attempts, so tests can swap real
// waiting for recorded zero-delay waits.
func WithSleepFn(sleepFn func(context.Context, time.Duration) error) Opt {
	return func(imp *Importer) {
		imp.sleepFn = sleepFn
	}
}

// Importer drives one bulk import to a terminal outcome: acquire a token,
// allocate a batch job, upload the payload, then poll the job with bounded
// exponential backoff. Every instance is safe for concurrent use, each run
// derives its own token and job identity and shares nothing.
type Importer struct {
	logger       logger.Logger
	statsFactory stats.Stats
	api          bulkAPI
	sleepFn      func(context.Context, time.Duration) error

	config struct {
		pollInitialInterval *config.Reloadable[time.Duration]
		pollMultiplier      *config.Reloadable[float64]
		pollMaxInterval     *config.Reloadable[time.Duration]
		pollMaxAttempts     *config.Reloadable[int]
	}

	stats struct {
		runTime      stats.Timer
		pollAttempts stats.Histogram
	}
}

func New(conf *config.Config, log logger.Logger, statsFactory stats.Stats, api bulkAPI, opts ...Opt) *Importer {
	imp := &Importer{
		logger:       log.Child("importer"),
		statsFactory: statsFactory,
		api:          api,
		sleepFn:      sleepCtx,
	}

	imp.config.pollInitialInterval = conf.GetReloadableDurationVar(2, time.Second, "Marketo.Poll.initialIntervalInSeconds")
	imp.config.pollMultiplier = conf.GetReloadableFloat64Var(2.0, "Marketo.Poll.backoffMultiplier")
	imp.config.pollMaxInterval = conf.GetReloadableDurationVar(30, time.Second, "Marketo.Poll.maxIntervalInSeconds")
	imp.config.pollMaxAttempts = conf.GetReloadableIntVar(10, 1, "Marketo.Poll.maxAttempts")

	tags := stats.Tags{"module": "marketo_import"}
	imp.stats.runTime = statsFactory.NewTaggedStat("marketo_import_run_time", stats.TimerType, tags)
	imp.stats.pollAttempts = statsFactory.NewTaggedStat("marketo_import_poll_attempts", stats.HistogramType, tags)

	for _, opt := range opts {
		opt(imp)
	}
	return imp
}

// Run executes one bulk import. Each step is a hard dependency on the
// previous one succeeding: a token failure means no job is created, a failed
// upload means the job is never polled.
func (imp *Importer) Run(ctx context.Context, req model.ImportRequest) (*model.PollOutcome, error) {
	log := imp.logger.Withn(logger.NewStringField("runId", uuid.New().String()))

	defer imp.stats.runTime.RecordDuration()()

	token, err := imp.api.AccessToken(ctx)
	if err != nil {
		imp.countRun("auth_failed")
		return nil, err
	}

	batchID, err := imp.api.CreateImportJob(ctx, token, req.DedupeKey)
	if err != nil {
		imp.countRun("create_failed")
		return nil, err
	}
	log = log.Withn(logger.NewStringField("batchId", batchID))
	log.Infon("created import job")

	if err := imp.api.UploadJobData(ctx, token, batchID, req.Content); err != nil {
		imp.countRun("upload_failed")
		return nil, err
	}
	log.Infon("uploaded import data", logger.NewIntField("bytes", int64(len(req.Content))))

	outcome, err := imp.pollToCompletion(ctx, log, token, batchID)
	if err != nil {
		if _, ok := err.(*model.PollTimeoutError); ok {
			imp.countRun("poll_timeout")
		} else {
			imp.countRun("poll_failed")
		}
		return nil, err
	}

	imp.countRun(outcome.Status)
	log.Infon("import job reached a terminal status",
		logger.NewStringField("status", outcome.Status),
		logger.NewIntField("rowsProcessed", outcome.RowsProcessed),
		logger.NewIntField("rowsFailed", outcome.RowsFailed))
	return outcome, nil
}

// pollToCompletion waits before every attempt, the first one included: the
// job cannot possibly be done synchronously, so an immediate query would only
// waste a round trip. A terminal status is returned as the outcome whether
// the job succeeded or not, judging it is the caller's business.
func (imp *Importer) pollToCompletion(ctx context.Context, log logger.Logger, token, batchID string) (*model.PollOutcome, error) {
	maxAttempts := imp.config.pollMaxAttempts.Load()
	b := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(imp.config.pollInitialInterval.Load()),
		backoff.WithMultiplier(imp.config.pollMultiplier.Load()),
		backoff.WithRandomizationFactor(0),
		backoff.WithMaxInterval(imp.config.pollMaxInterval.Load()),
		backoff.WithMaxElapsedTime(0),
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := imp.sleepFn(ctx, b.NextBackOff()); err != nil {
			return nil, err
		}

		status, err := imp.api.PollImportStatus(ctx, token, batchID)
		if err != nil {
			return nil, err
		}
		log.Debugn("observed import job status",
			logger.NewStringField("status", status.Status),
			logger.NewIntField("attempt", int64(attempt)))

		if model.TerminalStatus(status.Status) {
			imp.stats.pollAttempts.Observe(float64(attempt))
			return &model.PollOutcome{
				BatchID:         batchID,
				Status:          status.Status,
				RowsProcessed:   status.RowsProcessed,
				RowsFailed:      status.RowsFailed,
				RowsWithWarning: status.RowsWithWarning,
				Warnings:        status.Warnings,
			}, nil
		}
	}
	return nil, &model.PollTimeoutError{BatchID: batchID, Attempts: maxAttempts}
}

func (imp *Importer) countRun(status string) {
	imp.statsFactory.NewTaggedStat("marketo_import_count", stats.CountType, stats.Tags{
		"module": "marketo_import",
		"status": status,
	}).Increment()
}

func sleepCtx(ctx context.Context, delay time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}
