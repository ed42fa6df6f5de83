// Package events publishes the outbound domain events of the record
// lifecycle.
//
// Events are published only after the transaction that produced them has
// committed, so a subscriber never sees a change that was rolled back. The
// durable copy lives in the store's events table; the bus is for live
// listeners: the engine's metrics and the event log `sealgauge serve`
// writes through LogHandler.
package events

import (
	"fmt"
	"log/slog"

	evbus "github.com/asaskevich/EventBus"

	"github.com/roach88/sealgauge/internal/ir"
)

// TopicAll receives every event regardless of type.
const TopicAll = "sealgauge.all"

// Handler receives one published event.
type Handler func(ir.Event)

// Bus is a typed wrapper around an asaskevich/EventBus.
type Bus struct {
	bus evbus.Bus
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{bus: evbus.New()}
}

// Topic returns the bus topic for an event type.
func Topic(t ir.EventType) string {
	return "sealgauge." + string(t)
}

// Publish delivers ev to the subscribers of its type and of TopicAll.
func (b *Bus) Publish(ev ir.Event) {
	b.bus.Publish(Topic(ev.Type), ev)
	b.bus.Publish(TopicAll, ev)
}

// PublishAll publishes events in order.
func (b *Bus) PublishAll(evs []ir.Event) {
	for _, ev := range evs {
		b.Publish(ev)
	}
}

// Subscribe registers fn for events of type t.
func (b *Bus) Subscribe(t ir.EventType, fn Handler) error {
	if err := b.bus.Subscribe(Topic(t), fn); err != nil {
		return fmt.Errorf("subscribe %s: %w", t, err)
	}
	return nil
}

// SubscribeAll registers fn for every event.
func (b *Bus) SubscribeAll(fn Handler) error {
	if err := b.bus.Subscribe(TopicAll, fn); err != nil {
		return fmt.Errorf("subscribe all: %w", err)
	}
	return nil
}

// SubscribeAsync registers fn for every event on its own goroutine. Events
// reach fn in publish order.
func (b *Bus) SubscribeAsync(fn Handler) error {
	if err := b.bus.SubscribeAsync(TopicAll, fn, true); err != nil {
		return fmt.Errorf("subscribe async: %w", err)
	}
	return nil
}

// WaitAsync blocks until async handlers have drained.
func (b *Bus) WaitAsync() {
	b.bus.WaitAsync()
}

// LogHandler writes each event to logger at Info.
func LogHandler(logger *slog.Logger) Handler {
	return func(ev ir.Event) {
		attrs := []any{
			"seq", ev.Seq,
			"type", ev.Type,
			"record_id", ev.RecordID,
		}
		if ev.RequestID != "" {
			attrs = append(attrs, "request_id", ev.RequestID)
		}
		for _, k := range []string{"kind", "code"} {
			if v, ok := ev.Attrs[k]; ok {
				attrs = append(attrs, k, v)
			}
		}
		logger.Info("event committed", attrs...)
	}
}
