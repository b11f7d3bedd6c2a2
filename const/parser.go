package _const

import (
	"github.com/robfig/cron/v3"
)

// Parser 定时时间解析器，负责秒、分、时、日、月、周六个字段
// 日字段固定传入"*"，年字段由上层自行解析
var Parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour |
	cron.Dom | cron.Month | cron.Dow)

// CronFields 表达式的字段数量：秒 分 时 周 月 年
const CronFields = 6
