package _const

import (
	"fmt"
	"strings"
)

// DistributionMode Job在集群中的分布策略
type DistributionMode int

const (
	DistributionSingle DistributionMode = 0x00000001 // 整个集群每个tick只有owner节点执行
	DistributionAll    DistributionMode = 0x00000002 // 每个节点都会执行
)

func (m DistributionMode) String() string {
	switch m {
	case DistributionSingle:
		return "single"
	case DistributionAll:
		return "all"
	default:
		return "unknown"
	}
}

// Valid 是否为已知的分布策略
func (m DistributionMode) Valid() bool {
	return m == DistributionSingle || m == DistributionAll
}

// ParseDistributionMode 解析配置中的mode字段，空字符串返回def
func ParseDistributionMode(raw string, def DistributionMode) (DistributionMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return def, nil
	case "single":
		return DistributionSingle, nil
	case "all":
		return DistributionAll, nil
	default:
		return 0, fmt.Errorf("unknown distribution mode %q (want \"single\" or \"all\")", raw)
	}
}
