// Package cronrunner schedules the periodic sweep and status poll.
package cronrunner

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Runner runs jobs on standard five-field cron specs. A job still running
// when its next tick arrives is skipped, never overlapped.
type Runner struct {
	cron    *cron.Cron
	log     *zap.Logger
	baseCtx context.Context
}

func New(baseCtx context.Context, log *zap.Logger) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	cl := zapLogger{log: log}
	return &Runner{
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		log:     log,
		baseCtx: baseCtx,
	}
}

// Add schedules job under name. An empty spec disables the job.
func (r *Runner) Add(name, spec string, job func(context.Context)) error {
	if spec == "" {
		r.log.Info("cron job disabled", zap.String("job", name))
		return nil
	}
	_, err := r.cron.AddFunc(spec, func() {
		if r.baseCtx.Err() != nil {
			return
		}
		job(r.baseCtx)
	})
	if err != nil {
		return fmt.Errorf("schedule %s %q: %w", name, spec, err)
	}
	r.log.Info("cron job scheduled", zap.String("job", name), zap.String("spec", spec))
	return nil
}

// Start runs the scheduler in its own goroutine.
func (r *Runner) Start() {
	r.cron.Start()
	r.log.Info("cron started")
}

// Stop prevents new runs and waits for running jobs to finish.
func (r *Runner) Stop() {
	<-r.cron.Stop().Done()
	r.log.Info("cron stopped")
}

// zapLogger adapts zap to cron.Logger.
type zapLogger struct{ log *zap.Logger }

func (l zapLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (l zapLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
