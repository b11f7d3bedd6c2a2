package cluster_cron

import (
	"time"

	_const "github.com/TimeWtr/cluster_cron/const"
)

// Event 调度过程中产生的离散事件，如何消费由Telemetry的实现决定
type Event struct {
	Type _const.EventType
	// Job 名称和在配置列表中的位置
	Job   string
	Index int
	Node  NodeID
	// Time 事件对应的tick时间
	Time time.Time
	// 以下字段只在 invocation_completed 事件中有值
	Success  bool
	Err      error
	Duration time.Duration
}

// Telemetry 遥测事件的接收方，Emit不能阻塞调度
type Telemetry interface {
	Emit(e Event)
}

type TelemetryFunc func(e Event)

func (f TelemetryFunc) Emit(e Event) {
	f(e)
}

// MultiTelemetry 将事件依次分发给多个接收方
type MultiTelemetry []Telemetry

func (m MultiTelemetry) Emit(e Event) {
	for _, t := range m {
		if t != nil {
			t.Emit(e)
		}
	}
}

type nopTelemetry struct{}

func (nopTelemetry) Emit(Event) {}
