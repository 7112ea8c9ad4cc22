package notice

import (
	"fmt"
	"strings"
)

type Lang string

const (
	LangZH Lang = "zh"
	LangEN Lang = "en"
)

func ParseLang(s string) (Lang, error) {
	switch Lang(strings.ToLower(strings.TrimSpace(s))) {
	case "", LangZH:
		return LangZH, nil
	case LangEN:
		return LangEN, nil
	default:
		return "", fmt.Errorf("unsupported language %q (want zh or en)", s)
	}
}

// Texts is one language's wording. Report lines take a single %s or %d verb.
type Texts struct {
	Welcome []string
	Startup string

	ReportHeader   string
	ReportPlayer   string
	ReportDuration string
	ReportStart    string
	ReportEnd      string
	ReportAnswered string
	ReportFooter   string
	ReportClosing  string

	UnknownPlayer string
	Minutes       string
	Seconds       string
}

var bundled = map[Lang]Texts{
	LangZH: {
		Welcome: []string{
			"欢迎使用排队自动答题系统v4.0",
			"无需排队或优先队列情况下不会启动自动答题",
			"请关闭聊天后缀或BetterChat,防止题目答案被错误拦截",
			"Powered by Queue Quiz",
		},
		Startup:        "已检测到排队环境，排队自动答题系统已启动",
		ReportHeader:   "-------------[排队统计]---------------",
		ReportPlayer:   "玩家名称: %s",
		ReportDuration: "本次排队时长: %s",
		ReportStart:    "开始排队时间: %s",
		ReportEnd:      "排队结束时间: %s",
		ReportAnswered: "自动答题数量: %d",
		ReportFooter:   "-------------------------------------------",
		ReportClosing:  "排队即将结束(或已结束)，排队自动答题系统已关闭，祝您玩的开心",
		UnknownPlayer:  "未知玩家",
		Minutes:        "分",
		Seconds:        "秒",
	},
	LangEN: {
		Welcome: []string{
			"Welcome to the queue auto-answer system v4.0",
			"Auto-answer stays off when there is no queue or you are in the priority queue",
			"Disable chat suffixes and chat filters so answers are not intercepted",
			"Powered by Queue Quiz",
		},
		Startup:        "Queue detected, auto-answer is now running",
		ReportHeader:   "-------------[Queue Summary]---------------",
		ReportPlayer:   "Player: %s",
		ReportDuration: "Time in queue: %s",
		ReportStart:    "Queue started: %s",
		ReportEnd:      "Queue ended: %s",
		ReportAnswered: "Questions answered: %d",
		ReportFooter:   "-------------------------------------------",
		ReportClosing:  "The queue is ending (or has ended); auto-answer is off. Have fun!",
		UnknownPlayer:  "unknown player",
		Minutes:        "m",
		Seconds:        "s",
	},
}

// For returns the texts of l, falling back to zh.
func For(l Lang) Texts {
	if t, ok := bundled[l]; ok {
		return t
	}
	return bundled[LangZH]
}
