package timeline

import "github.com/swarmlayer/corerun/internal/events"

// EventSink adapts a Store into an events.Sink, so the scheduler and
// coordinator never need to know the timeline exists -- they only ever
// emit to the shared bus.
type EventSink struct {
	store *Store
}

// NewEventSink wraps store as an events.Sink.
func NewEventSink(store *Store) *EventSink {
	return &EventSink{store: store}
}

var stageByEventType = map[events.Type]Stage{
	events.TaskSubmitted: StageSubmitted,
	events.TaskCompleted: StageCompleted,
	events.TaskFailed:    StageFailed,
	events.TaskRetrying:  StageRetried,
	events.TaskStolen:    StageStolen,
	events.TaskCancelled: StageCancelled,
}

// Publish implements events.Sink. Events without a task-lifecycle
// counterpart (agent/consensus/topology events, etc.) are ignored.
func (s *EventSink) Publish(e events.Event) {
	stage, ok := stageByEventType[e.Type]
	if !ok {
		return
	}
	taskID, _ := e.Payload.(string)
	s.store.Record(Entry{TaskID: taskID, Stage: stage, Timestamp: e.Timestamp, AgentID: e.Source})
}
