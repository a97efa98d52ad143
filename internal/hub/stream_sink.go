package hub

import "time"

// StreamSink adapts a Hub to runner.StreamSink, broadcasting every
// stdout/stderr chunk as a prompt_stream envelope (spec.md §4.3.4).
type StreamSink struct {
	hub *Hub
}

// NewStreamSink wraps hub for use as a runner.StreamSink.
func NewStreamSink(hub *Hub) StreamSink {
	return StreamSink{hub: hub}
}

func (s StreamSink) Stream(promptID, streamName string, chunk []byte, reset, done bool) {
	s.hub.Broadcast(TypePromptStream, StreamFrame{
		PromptID:  promptID,
		Stream:    streamName,
		Chunk:     string(chunk),
		Reset:     reset,
		Done:      done,
		Timestamp: time.Now().UTC(),
	})
}
