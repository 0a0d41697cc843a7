// Package interpret maps a natural-language scheduling request to a city plus
// either a five-field recurrence expression or a one-shot timestamp. The
// interpretation itself is an opaque external service; its output is always
// re-validated by the recurrence normalizer, which is the load-bearing check.
package interpret

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"weatherbot/internal/llm"
	"weatherbot/pkg/logx"
)

// Result is the structured reading of a request. Exactly one of Cron /
// DateTime is set.
type Result struct {
	City      string `json:"city"`
	Cron      string `json:"cron,omitempty"`
	CronLabel string `json:"cron_h,omitempty"`
	DateTime  string `json:"datetime,omitempty"` // "YYYY-MM-DD HH:MM"
}

type Interpreter interface {
	Interpret(ctx context.Context, text string) (Result, error)
}

const systemPrompt = `你是一个订阅请求解析器。用户会用自然语言描述一个天气订阅请求。
请只输出一个 JSON 对象，不要输出其它内容：
- 周期性请求: {"city": "<城市>", "cron": "<分 时 日 月 周 五字段cron表达式>", "cron_h": "<人类可读的周期描述>"}
- 一次性请求: {"city": "<城市>", "datetime": "YYYY-MM-DD HH:MM"}
当前时间是 %s。如果没有提到城市，city 留空字符串。`

// LLM interprets requests through a chat completions call.
type LLM struct {
	client *llm.Client
	loc    *time.Location
	log    logx.Logger
}

func NewLLM(client *llm.Client, loc *time.Location, log logx.Logger) *LLM {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &LLM{client: client, loc: loc, log: log}
}

func (i *LLM) Interpret(ctx context.Context, text string) (Result, error) {
	if !i.client.Enabled() {
		return Result{}, fmt.Errorf("interpretation service not configured")
	}
	now := time.Now().In(i.loc).Format("2006-01-02 15:04")
	raw, err := i.client.Complete(ctx, fmt.Sprintf(systemPrompt, now), text)
	if err != nil {
		return Result{}, fmt.Errorf("interpret %q: %w", text, err)
	}
	res, err := decodeResult(raw)
	if err != nil {
		i.log.Warn("interpreter returned malformed payload", logx.String("raw", raw), logx.Err(err))
		return Result{}, fmt.Errorf("interpret %q: %w", text, err)
	}
	return res, nil
}

// decodeResult parses the model output, tolerating markdown code fences.
func decodeResult(raw string) (Result, error) {
	s := strings.TrimSpace(raw)
	if idx := strings.Index(s, "{"); idx >= 0 {
		if end := strings.LastIndex(s, "}"); end > idx {
			s = s[idx : end+1]
		}
	}
	var res Result
	if err := json.Unmarshal([]byte(s), &res); err != nil {
		return Result{}, err
	}
	if res.Cron == "" && res.DateTime == "" {
		return Result{}, fmt.Errorf("neither cron nor datetime present")
	}
	if res.Cron != "" && res.DateTime != "" {
		return Result{}, fmt.Errorf("both cron and datetime present")
	}
	return res, nil
}
