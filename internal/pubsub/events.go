// Package pubsub fans out chart lifecycle and log events to observers.
package pubsub

import (
	"context"
	"time"
)

// EventType names what happened.
type EventType string

const (
	WindowCreated EventType = "window.created"
	WindowLoaded  EventType = "window.loaded"
	WindowShown   EventType = "window.shown"
	WindowHidden  EventType = "window.hidden"
	WindowExited  EventType = "window.exited"
	LogEntry      EventType = "log.entry"
)

// Event is a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Lifecycle is the payload of window.* events.
type Lifecycle struct {
	WindowID string
	Index    int
	Title    string
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher publishes events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}

var (
	_ Subscriber[Lifecycle] = (*Broker[Lifecycle])(nil)
	_ Publisher[Lifecycle]  = (*Broker[Lifecycle])(nil)
)
