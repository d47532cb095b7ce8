// Package notify fans worker events out to chat channels. Delivery is best
// effort: a sink failure is logged and never blocks the tick.
package notify

import (
	"context"
	"io"
	"log/slog"
	"time"
)

const sendTimeout = 10 * time.Second

type Kind string

const (
	KindEscrowClosed Kind = "escrow_closed"
	KindEscrowFailed Kind = "escrow_failed"
	KindRegimeShift  Kind = "regime_shift"
	KindPoolListed   Kind = "pool_listed"
	KindRentDigest   Kind = "rent_digest"
)

type Event struct {
	Kind    Kind
	WorldID int64
	Text    string
}

type Sink interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

type Dispatcher struct {
	log   *slog.Logger
	sinks []Sink
}

func NewDispatcher(log *slog.Logger, sinks ...Sink) *Dispatcher {
	return &Dispatcher{log: log, sinks: sinks}
}

// Publish sends ev to every sink. Safe on a nil dispatcher, so callers
// without any channel configured can skip the wiring entirely.
func (d *Dispatcher) Publish(ctx context.Context, ev Event) {
	if d == nil {
		return
	}
	for _, sink := range d.sinks {
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := sink.Send(sendCtx, ev)
		cancel()
		if err != nil {
			d.log.Warn("notify send failed", "sink", sink.Name(), "kind", string(ev.Kind), "err", err)
			continue
		}
		d.log.Debug("notify sent", "sink", sink.Name(), "kind", string(ev.Kind))
	}
}

func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	for _, sink := range d.sinks {
		if c, ok := sink.(io.Closer); ok {
			_ = c.Close()
		}
	}
}
