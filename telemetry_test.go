package cluster_cron

import (
	"testing"

	_const "github.com/TimeWtr/cluster_cron/const"
)

func TestMultiTelemetry(t *testing.T) {
	a, b := newRecorder(), newRecorder()
	var seen int
	m := MultiTelemetry{a, nil, b, TelemetryFunc(func(e Event) { seen++ })}

	m.Emit(Event{Type: _const.EventJobFired, Job: "x"})
	m.Emit(Event{Type: _const.EventTickEvaluated, Job: "x"})

	if a.count(_const.EventJobFired) != 1 || b.count(_const.EventJobFired) != 1 {
		t.Fatalf("events not delivered to every sink")
	}
	if seen != 2 {
		t.Fatalf("TelemetryFunc saw %d events, want 2", seen)
	}
}
