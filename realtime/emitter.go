package realtime

import "time"

// EventEmitter is the interface the realtime package uses to emit events.
type EventEmitter interface {
	EmitConnectionStateChanged(oldState, newState State, err error)
	EmitReconnectScheduled(attempt int, delay time.Duration)
	EmitMessageReceived(topic string)
	EmitMessageDropped(topic string, err error)
}

type nopEmitter struct{}

func (nopEmitter) EmitConnectionStateChanged(State, State, error) {}
func (nopEmitter) EmitReconnectScheduled(int, time.Duration)       {}
func (nopEmitter) EmitMessageReceived(string)                      {}
func (nopEmitter) EmitMessageDropped(string, error)                {}
