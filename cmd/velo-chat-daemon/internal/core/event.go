package core

// Event is the marker type carried over the internal event bus.
type Event interface{}
