package scheduler

import "time"

// EventType enumerates the lifecycle events subscribers can receive.
type EventType string

const (
	EventTaskScheduled           EventType = "task_scheduled"
	EventTaskWaitingDependencies EventType = "task_waiting_dependencies"
	EventTaskStarted             EventType = "task_started"
	EventTaskPaused              EventType = "task_paused"
	EventTaskResumed             EventType = "task_resumed"
	EventTaskCancelled           EventType = "task_cancelled"
	EventTaskCompleted           EventType = "task_completed"
	EventTaskFailed              EventType = "task_failed"
	EventTaskRetried             EventType = "task_retried"
	EventTaskStartFailed         EventType = "task_start_failed"
	EventDependenciesSatisfied   EventType = "dependencies_satisfied"
	EventCircuitOpened           EventType = "circuit_opened"
	EventCircuitClosed           EventType = "circuit_closed"
	EventAlertTriggered          EventType = "alert_triggered"
	EventAlertResolved           EventType = "alert_resolved"
)

// Event is the uniform shape subscribers receive.
type Event struct {
	Type          EventType
	Data          map[string]any
	Timestamp     time.Time
	SchedulerName string
}

// emit fans an event out to every current subscriber without
// blocking: a slow subscriber drops events rather than stalling the
// actor loop (subscribers own a bounded channel and are responsible
// for draining it promptly).
func (s *Scheduler) emit(typ EventType, data map[string]any) {
	ev := Event{Type: typ, Data: data, Timestamp: s.now(), SchedulerName: s.name}
	for _, sub := range s.subscribers {
		select {
		case sub <- ev:
		default:
		}
	}
}

// Subscribe registers a new event listener with the given buffer
// size, returning a receive-only channel.
func (s *Scheduler) Subscribe(buffer int) <-chan Event {
	ch := make(chan Event, buffer)
	reply := make(chan struct{})
	s.cmdCh <- func() {
		s.subscribers = append(s.subscribers, ch)
		close(reply)
	}
	<-reply
	return ch
}
