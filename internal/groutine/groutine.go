package groutine

import (
	"context"
	"fmt"
	"runtime/debug"
	"runtime/pprof"
	"sync"

	"github.com/sirupsen/logrus"
)

type ctxKey string

const taskNameKey ctxKey = "task_name"

// Go starts a goroutine under a pprof "task" label so long-lived loops are
// identifiable in profiles and stack dumps.
//
// If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("task", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		ctx = context.WithValue(ctx, taskNameKey, name)
		fn(ctx)
	})
}

// GetName retrieves the task name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v := ctx.Value(taskNameKey); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Group runs named tasks that share one cancellable context. The first task
// to fail (or panic) cancels the others; Wait reports that first failure.
type Group struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *logrus.Logger

	wg   sync.WaitGroup
	once sync.Once
	err  error
}

// NewGroup derives the group context from parent.
func NewGroup(parent context.Context, logger *logrus.Logger) *Group {
	if parent == nil {
		parent = context.Background()
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(discard{})
	}
	ctx, cancel := context.WithCancel(parent)
	return &Group{ctx: ctx, cancel: cancel, logger: logger}
}

// Context is cancelled once any task fails or Cancel is called.
func (g *Group) Context() context.Context {
	return g.ctx
}

// Go starts fn as a named task. A nil return or a context error after
// cancellation counts as a clean exit.
func (g *Group) Go(name string, fn func(ctx context.Context) error) {
	g.wg.Add(1)
	Go(g.ctx, name, func(ctx context.Context) {
		defer g.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				g.logger.WithFields(logrus.Fields{
					"task":  name,
					"panic": r,
				}).Errorf("task panicked\n%s", debug.Stack())
				g.fail(fmt.Errorf("task %s panicked: %v", name, r))
			}
		}()

		g.logger.WithField("task", name).Debug("task started")
		err := fn(ctx)
		if err != nil && ctx.Err() == nil {
			g.logger.WithField("task", name).WithError(err).Error("task failed")
			g.fail(fmt.Errorf("task %s: %w", name, err))
			return
		}
		g.logger.WithField("task", name).Debug("task stopped")
	})
}

// Cancel stops every task without recording an error.
func (g *Group) Cancel() {
	g.cancel()
}

// Wait blocks until all tasks return.
func (g *Group) Wait() error {
	g.wg.Wait()
	g.cancel()
	return g.err
}

func (g *Group) fail(err error) {
	g.once.Do(func() {
		g.err = err
		g.cancel()
	})
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
