package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/hray3182/LifeMoments/internal/dispatch"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type Runner interface {
	Run(ctx context.Context) (*dispatch.Summary, error)
}

type Scheduler struct {
	runner   Runner
	spec     string
	logger   *zap.Logger
	notifyCh chan struct{}
	// startDelay lets migrations and the HTTP listener settle before the first run.
	startDelay time.Duration
}

func New(runner Runner, spec string, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		runner:     runner,
		spec:       spec,
		logger:     logger.Named("scheduler"),
		notifyCh:   make(chan struct{}, 1),
		startDelay: 2 * time.Second,
	}
}

// ValidateSpec checks a cron expression, including descriptors like "@every 5m".
func ValidateSpec(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", spec, err)
	}
	return nil
}

// Notify triggers an extra run. Non-blocking if a run is already pending.
func (s *Scheduler) Notify() {
	select {
	case s.notifyCh <- struct{}{}:
	default:
	}
}

// Start runs the job on the cron schedule and on Notify until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New(
		cron.WithLogger(cronLogger{s.logger.Sugar()}),
		cron.WithChain(cron.Recover(cronLogger{s.logger.Sugar()})),
	)
	if _, err := c.AddFunc(s.spec, s.Notify); err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", s.spec, err)
	}

	c.Start()
	defer func() { <-c.Stop().Done() }()
	s.logger.Info("scheduler started", zap.String("cron", s.spec))

	select {
	case <-ctx.Done():
		return nil
	case <-time.After(s.startDelay):
	}
	s.run(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return nil
		case <-s.notifyCh:
			s.run(ctx)
		}
	}
}

// run invokes the job. Runs are sequential: ticks and notifications that
// arrive meanwhile coalesce into one pending run.
func (s *Scheduler) run(ctx context.Context) {
	summary, err := s.runner.Run(ctx)
	if err != nil {
		fields := []zap.Field{zap.Error(err)}
		if summary != nil {
			fields = append(fields, zap.String("execution_id", summary.ExecutionID))
		}
		s.logger.Error("dispatch run failed", fields...)
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
