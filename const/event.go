package _const

// EventType 遥测事件类型
type EventType string

const (
	EventTickEvaluated         EventType = "tick_evaluated"
	EventJobFired              EventType = "job_fired"
	EventJobSkippedOverlap     EventType = "job_skipped_overlap"
	EventJobSkippedNotOwner    EventType = "job_skipped_not_owner"
	EventJobSkippedLimit       EventType = "job_skipped_limit"
	EventInvocationCompleted   EventType = "invocation_completed"
	EventMembershipUnavailable EventType = "membership_unavailable"
)

func (e EventType) String() string {
	return string(e)
}
