package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"simplemounts.ai/internal/lifecycle"
)

// signalContext is cancelled by the first SIGINT or SIGTERM. Later signals are forwarded on
// the returned channel.
func signalContext() (context.Context, context.CancelFunc, <-chan os.Signal) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	again := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
		for sig := range ch {
			select {
			case again <- sig:
			default:
			}
		}
	}()
	return ctx, cancel, again
}

type drainer interface {
	Graceful(ctx context.Context) lifecycle.DrainReport
	Emergency(ctx context.Context) lifecycle.DrainReport
}

// drainOnShutdown runs the graceful drain bounded by twice the shutdown timeout. A signal
// on again aborts it and stores what is left through the emergency drain.
func drainOnShutdown(d drainer, timeout time.Duration, again <-chan os.Signal, logger *zap.Logger) lifecycle.DrainReport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*timeout)
	defer cancel()

	done := make(chan lifecycle.DrainReport, 1)
	go func() { done <- d.Graceful(ctx) }()
	select {
	case rep := <-done:
		return rep
	case sig := <-again:
		logger.Warn("signal received during drain, switching to emergency drain", zap.Stringer("signal", sig))
	}
	cancel()
	graceful := <-done

	ectx, ecancel := context.WithTimeout(context.Background(), timeout)
	defer ecancel()
	rep := d.Emergency(ectx)
	rep.Stored += graceful.Stored
	rep.TimedOut = true
	return rep
}
