package cluster_cron

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_const "github.com/TimeWtr/cluster_cron/const"
	"github.com/robfig/cron/v3"
)

var ErrInvalidCronSpec = errors.New("invalid cron spec")

// CronSpec 解析后的6字段定时表达式：秒 分 时 周 月 年
// 解析完成后不可变，可以被多个goroutine并发使用
type CronSpec struct {
	expr  string
	sched *cron.SpecSchedule
	// years 为nil表示年字段为通配符
	years []yearTerm
}

// yearTerm 年字段中逗号分隔的一项
type yearTerm struct {
	start, end, step int
}

func (y yearTerm) match(year int) bool {
	if year < y.start || year > y.end {
		return false
	}
	return (year-y.start)%y.step == 0
}

// ParseCronSpec 解析定时表达式，字段顺序为：秒 分 时 周 月 年
// 例如 "*/5 * * * * *" 表示每5秒，"0 30 9 1 * *" 表示每周一9:30
func ParseCronSpec(expr string) (*CronSpec, error) {
	fields := strings.Fields(expr)
	if len(fields) != _const.CronFields {
		return nil, fmt.Errorf("%w: expected %d fields (second minute hour day-of-week month year), found %d: %q",
			ErrInvalidCronSpec, _const.CronFields, len(fields), expr)
	}

	// 转换为robfig的字段顺序：秒 分 时 日 月 周，日固定为通配
	std := strings.Join([]string{fields[0], fields[1], fields[2], "*", fields[4], fields[3]}, " ")
	schedule, err := _const.Parser.Parse(std)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidCronSpec, expr, err)
	}
	sched, ok := schedule.(*cron.SpecSchedule)
	if !ok {
		return nil, fmt.Errorf("%w: %q: unsupported schedule type %T", ErrInvalidCronSpec, expr, schedule)
	}
	sched.Location = time.UTC

	years, err := parseYearField(fields[5])
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidCronSpec, expr, err)
	}

	return &CronSpec{
		expr:  strings.Join(fields, " "),
		sched: sched,
		years: years,
	}, nil
}

// MustParseCronSpec 解析失败直接panic，只用于常量表达式
func MustParseCronSpec(expr string) *CronSpec {
	spec, err := ParseCronSpec(expr)
	if err != nil {
		panic(err)
	}
	return spec
}

// Matches 判断时间点是否命中表达式，按UTC计算，忽略秒以下的部分
// 六个字段需要同时命中
func (c *CronSpec) Matches(t time.Time) bool {
	t = t.UTC().Truncate(time.Second)
	s := c.sched
	return bitSet(s.Second, t.Second()) &&
		bitSet(s.Minute, t.Minute()) &&
		bitSet(s.Hour, t.Hour()) &&
		bitSet(s.Dow, int(t.Weekday())) &&
		bitSet(s.Month, int(t.Month())) &&
		c.matchYear(t.Year())
}

// String 返回规范化后的表达式，可以再次被ParseCronSpec解析
func (c *CronSpec) String() string {
	return c.expr
}

// NextFireTimes 返回from之后最多n个命中的时间点
// 年字段无法命中时会提前结束
func (c *CronSpec) NextFireTimes(from time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	res := make([]time.Time, 0, n)
	t := from.UTC().Truncate(time.Second)
	for attempts := 0; len(res) < n && attempts < n*64; attempts++ {
		t = c.sched.Next(t)
		if t.IsZero() {
			break
		}
		if c.matchYear(t.Year()) {
			res = append(res, t)
			continue
		}
		if c.yearsExhausted(t.Year()) {
			break
		}
		// 跳到下一年的年初再继续查找
		t = time.Date(t.Year()+1, time.January, 1, 0, 0, 0, 0, time.UTC).Add(-time.Second)
	}

	return res
}

func (c *CronSpec) matchYear(year int) bool {
	if c.years == nil {
		return true
	}
	for _, y := range c.years {
		if y.match(year) {
			return true
		}
	}
	return false
}

func (c *CronSpec) yearsExhausted(year int) bool {
	if c.years == nil {
		return false
	}
	for _, y := range c.years {
		if y.end >= year {
			return false
		}
	}
	return true
}

func bitSet(bits uint64, v int) bool {
	return bits&(1<<uint(v)) != 0
}

const maxYear = 1<<31 - 1

// parseYearField 年字段支持 * 、N、A-B、*/N、A/N、A-B/N 以及逗号分隔的列表
// 年份最小为1，步长以1为基准，即 */4 命中 1、5、...、2021、2025
func parseYearField(field string) ([]yearTerm, error) {
	if field == "*" || field == "?" {
		return nil, nil
	}

	parts := strings.Split(field, ",")
	terms := make([]yearTerm, 0, len(parts))
	for _, part := range parts {
		term, err := parseYearTerm(part)
		if err != nil {
			return nil, err
		}
		terms = append(terms, term)
	}

	return terms, nil
}

func parseYearTerm(expr string) (yearTerm, error) {
	rangeAndStep := strings.Split(expr, "/")
	if len(rangeAndStep) > 2 {
		return yearTerm{}, fmt.Errorf("too many slashes in year field: %s", expr)
	}

	term := yearTerm{step: 1}
	lowAndHigh := strings.Split(rangeAndStep[0], "-")
	switch {
	case rangeAndStep[0] == "*" || rangeAndStep[0] == "?":
		term.start, term.end = 1, maxYear
	case len(lowAndHigh) == 1:
		v, err := parseYear(lowAndHigh[0])
		if err != nil {
			return yearTerm{}, err
		}
		term.start, term.end = v, v
	case len(lowAndHigh) == 2:
		lo, err := parseYear(lowAndHigh[0])
		if err != nil {
			return yearTerm{}, err
		}
		hi, err := parseYear(lowAndHigh[1])
		if err != nil {
			return yearTerm{}, err
		}
		if lo > hi {
			return yearTerm{}, fmt.Errorf("beginning of year range (%d) beyond end of range (%d): %s", lo, hi, expr)
		}
		term.start, term.end = lo, hi
	default:
		return yearTerm{}, fmt.Errorf("too many hyphens in year field: %s", expr)
	}

	if len(rangeAndStep) == 2 {
		step, err := strconv.Atoi(rangeAndStep[1])
		if err != nil {
			return yearTerm{}, fmt.Errorf("failed to parse year step from %q", rangeAndStep[1])
		}
		if step <= 0 {
			return yearTerm{}, fmt.Errorf("step of year range should be a positive number: %s", expr)
		}
		term.step = step
		// "A/N" 表示从A开始直到最大值
		if len(lowAndHigh) == 1 && rangeAndStep[0] != "*" && rangeAndStep[0] != "?" {
			term.end = maxYear
		}
	}

	return term, nil
}

func parseYear(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("failed to parse year from %q", s)
	}
	if v <= 0 {
		return 0, fmt.Errorf("year (%d) must be a positive number", v)
	}
	return v, nil
}
