package _const

// JobState Job触发循环的状态
type JobState int32

const (
	JobStateIdle       JobState = 0x00000001 // 等待下一次tick
	JobStateEvaluating JobState = 0x00000002 // 正在判断是否需要触发
	JobStateInvoking   JobState = 0x00000003 // 执行中
)

func (s JobState) String() string {
	switch s {
	case JobStateIdle:
		return "Idle"
	case JobStateEvaluating:
		return "Evaluating"
	case JobStateInvoking:
		return "Invoking"
	default:
		return "Unknown"
	}
}
