package cluster_cron

import (
	"errors"
	"strings"
	"testing"
	"time"

	_const "github.com/TimeWtr/cluster_cron/const"
)

func TestLoadJobConfigs(t *testing.T) {
	raw := `
jobs:
  - name: report
    schedule: "0 0 3 * * *"
    executor: report
    args: ["daily", 7]
    mode: all
    timeout: 5s
  - schedule: "*/10 * * * * *"
    executor: ping
`
	jobs, err := LoadJobConfigs(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("LoadJobConfigs() error = %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("LoadJobConfigs() returned %d jobs, want 2", len(jobs))
	}

	report := jobs[0]
	if report.Name != "report" || report.Executor != "report" || report.Mode != "all" {
		t.Fatalf("jobs[0] = %+v", report)
	}
	if report.Timeout != 5*time.Second {
		t.Fatalf("jobs[0].Timeout = %s, want 5s", report.Timeout)
	}
	if len(report.Args) != 2 || report.Args[0] != "daily" || report.Args[1] != 7 {
		t.Fatalf("jobs[0].Args = %v", report.Args)
	}

	desc, err := NewJobDescriptor(1, len(jobs), jobs[1], _const.DistributionSingle)
	if err != nil {
		t.Fatalf("NewJobDescriptor() error = %v", err)
	}
	if desc.Name != "job-1" {
		t.Fatalf("default name = %q, want job-1", desc.Name)
	}
	if desc.Mode != _const.DistributionSingle || desc.Timeout != 0 {
		t.Fatalf("descriptor = %+v", desc)
	}
}

func TestLoadJobConfigs_Errors(t *testing.T) {
	jobs, err := LoadJobConfigs(strings.NewReader(""))
	if err != nil || jobs != nil {
		t.Fatalf("LoadJobConfigs(empty) = %v, %v, want nil, nil", jobs, err)
	}

	_, err = LoadJobConfigs(strings.NewReader("jobs:\n  - name: x\n    cron: \"* * * * * *\"\n"))
	if err == nil {
		t.Fatalf("LoadJobConfigs() with unknown field error = nil")
	}
}

func TestNewJobDescriptor_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		cfg     JobConfig
		wantErr error
	}{
		{
			name:    "empty schedule",
			cfg:     JobConfig{Executor: "x"},
			wantErr: ErrEmptySchedule,
		},
		{
			name:    "invalid schedule",
			cfg:     JobConfig{Schedule: "61 * * * * *", Executor: "x"},
			wantErr: ErrInvalidCronSpec,
		},
		{
			name:    "unknown mode",
			cfg:     JobConfig{Schedule: "* * * * * *", Executor: "x", Mode: "leader"},
			wantErr: ErrInvalidMode,
		},
		{
			name:    "empty executor",
			cfg:     JobConfig{Schedule: "* * * * * *"},
			wantErr: ErrEmptyExecutorName,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewJobDescriptor(0, 1, tc.cfg, _const.DistributionSingle)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("NewJobDescriptor() error = %v, want %v", err, tc.wantErr)
			}
		})
	}

	_, err := NewJobDescriptor(0, 1, JobConfig{Schedule: "* * * * * *", Executor: "x", Timeout: -time.Second},
		_const.DistributionSingle)
	if err == nil {
		t.Fatalf("NewJobDescriptor() with negative timeout error = nil")
	}
}

func TestParseDistributionMode(t *testing.T) {
	testCases := []struct {
		raw     string
		def     _const.DistributionMode
		want    _const.DistributionMode
		wantErr bool
	}{
		{raw: "", def: _const.DistributionSingle, want: _const.DistributionSingle},
		{raw: "", def: _const.DistributionAll, want: _const.DistributionAll},
		{raw: "ALL", def: _const.DistributionSingle, want: _const.DistributionAll},
		{raw: " Single ", def: _const.DistributionAll, want: _const.DistributionSingle},
		{raw: "leader", def: _const.DistributionSingle, wantErr: true},
	}

	for _, tc := range testCases {
		got, err := _const.ParseDistributionMode(tc.raw, tc.def)
		if (err != nil) != tc.wantErr {
			t.Fatalf("ParseDistributionMode(%q) error = %v, wantErr %v", tc.raw, err, tc.wantErr)
		}
		if !tc.wantErr && got != tc.want {
			t.Fatalf("ParseDistributionMode(%q) = %s, want %s", tc.raw, got, tc.want)
		}
	}
}

func TestDefaultModeOption(t *testing.T) {
	s := NewSchedulerCore("n1", nil, WithDefaultMode(_const.DistributionAll))
	_ = s.Register("noop", nopExecutor)
	desc, err := s.descriptor(0, 1, JobConfig{Schedule: "* * * * * *", Executor: "noop"})
	if err != nil {
		t.Fatalf("descriptor() error = %v", err)
	}
	if desc.Mode != _const.DistributionAll {
		t.Fatalf("descriptor Mode = %s, want all", desc.Mode)
	}
}
