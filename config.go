package cluster_cron

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	_const "github.com/TimeWtr/cluster_cron/const"
	"gopkg.in/yaml.v3"
)

var (
	ErrEmptySchedule = errors.New("schedule required")
	ErrInvalidMode   = errors.New("invalid distribution mode")
)

// JobConfig 调用方提供的单个Job配置
type JobConfig struct {
	// Name Job名称，用于日志和遥测，为空时使用 job-<index>
	Name string `yaml:"name"`
	// Schedule 6字段定时表达式：秒 分 时 周 月 年
	Schedule string `yaml:"schedule"`
	// Executor 注册的执行器名称
	Executor string `yaml:"executor"`
	// Args 传给执行器的参数
	Args []any `yaml:"args"`
	// Mode single 或 all，为空时使用调度器的默认值
	Mode string `yaml:"mode"`
	// Timeout 单次执行的超时时间，0表示不限制
	Timeout time.Duration `yaml:"timeout"`
}

type jobsFile struct {
	Jobs []JobConfig `yaml:"jobs"`
}

// LoadJobConfigs 从YAML读取Job列表，列表顺序即Job的分配顺序
//
//	jobs:
//	  - name: report
//	    schedule: "0 0 3 * * *"
//	    executor: report
//	    mode: single
func LoadJobConfigs(r io.Reader) ([]JobConfig, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f jobsFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode job configs: %w", err)
	}

	return f.Jobs, nil
}

// JobDescriptor 解析完成的Job，启动后不可修改
type JobDescriptor struct {
	// Index Job在配置列表中的位置，Total 配置列表长度，二者决定owner分配
	Index int
	Total int
	Name  string
	Spec  *CronSpec
	Target
	Mode    _const.DistributionMode
	Timeout time.Duration
}

// NewJobDescriptor 校验并解析配置，失败时该Job不能被启动
func NewJobDescriptor(index, total int, cfg JobConfig, defaultMode _const.DistributionMode) (*JobDescriptor, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		name = fmt.Sprintf("job-%d", index)
	}

	if strings.TrimSpace(cfg.Schedule) == "" {
		return nil, fmt.Errorf("job %s: %w", name, ErrEmptySchedule)
	}
	spec, err := ParseCronSpec(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", name, err)
	}

	mode, err := _const.ParseDistributionMode(cfg.Mode, defaultMode)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w: %v", name, ErrInvalidMode, err)
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("job %s: %w: %d", name, ErrInvalidMode, mode)
	}

	executor := strings.TrimSpace(cfg.Executor)
	if executor == "" {
		return nil, fmt.Errorf("job %s: %w", name, ErrEmptyExecutorName)
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("job %s: timeout must be >= 0", name)
	}

	return &JobDescriptor{
		Index: index,
		Total: total,
		Name:  name,
		Spec:  spec,
		Target: Target{
			Executor: executor,
			Args:     append([]any(nil), cfg.Args...),
		},
		Mode:    mode,
		Timeout: cfg.Timeout,
	}, nil
}
