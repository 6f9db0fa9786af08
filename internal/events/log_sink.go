package events

import "log"

// LogSink is the generalized form of the teacher's streaming.LogPublisher:
// a best-effort audit trail that writes every event as a single log line
// until a real message bus (NATS, Kafka, ...) is wired in.
type LogSink struct {
	logger *log.Logger
}

// NewLogSink builds a Sink backed by the standard logger.
func NewLogSink() *LogSink {
	return &LogSink{logger: log.Default()}
}

func (s *LogSink) Publish(e Event) {
	s.logger.Printf("[EVENT] %s source=%s payload=%+v", e.Type, e.Source, e.Payload)
}
