package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

type fakeSink struct {
	name string
	fail bool
	got  []Event
}

func (f *fakeSink) Name() string { return f.name }

func (f *fakeSink) Send(_ context.Context, ev Event) error {
	if f.fail {
		return errors.New("boom")
	}
	f.got = append(f.got, ev)
	return nil
}

func TestDispatcherFansOutPastFailures(t *testing.T) {
	first := &fakeSink{name: "first"}
	broken := &fakeSink{name: "broken", fail: true}
	last := &fakeSink{name: "last"}

	d := NewDispatcher(slog.New(slog.NewTextHandler(io.Discard, nil)), first, broken, last)
	d.Publish(context.Background(), Event{Kind: KindRegimeShift, WorldID: 1, Text: "market turned hot"})

	if len(first.got) != 1 || len(last.got) != 1 {
		t.Fatalf("expected both healthy sinks to receive the event, got %d and %d", len(first.got), len(last.got))
	}
	if first.got[0].Kind != KindRegimeShift {
		t.Fatalf("unexpected kind %q", first.got[0].Kind)
	}
}

func TestNilDispatcherIsSafe(t *testing.T) {
	var d *Dispatcher
	d.Publish(context.Background(), Event{Kind: KindPoolListed})
	d.Close()
}
