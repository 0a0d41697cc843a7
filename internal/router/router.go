// Package router dispatches chat commands to the subscription core. All
// outcomes — including user addressing errors — are replied as chat messages;
// nothing here terminates the process.
package router

import (
	"context"
	"errors"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"weatherbot/internal/delivery"
	"weatherbot/internal/history"
	"weatherbot/internal/interpret"
	"weatherbot/internal/subscribe"
	kit "weatherbot/internal/transport"
	"weatherbot/pkg/logx"
)

type Services struct {
	Store     *subscribe.Store
	Scheduler *subscribe.Scheduler
	Interp    interpret.Interpreter
	Delivery  *delivery.Adapter
	History   history.Store // nil when disabled
}

type Router struct {
	adapter     kit.Adapter
	svc         Services
	loc         *time.Location
	defaultCity string
	log         logx.Logger
}

func New(adapter kit.Adapter, svc Services, loc *time.Location, defaultCity string, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Router{adapter: adapter, svc: svc, loc: loc, defaultCity: defaultCity, log: log}
}

// Run consumes updates until ctx is done. Each command runs on its own
// goroutine; a panicking handler is logged, never fatal.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case up, ok := <-updates:
			if !ok {
				return
			}
			if up.Message == nil {
				continue
			}
			msg := *up.Message
			go func() {
				defer func() {
					if rec := recover(); rec != nil {
						r.log.Error("panic in command handler",
							logx.Any("panic", rec), logx.String("stack", string(debug.Stack())))
					}
				}()
				r.handle(ctx, msg)
			}()
		}
	}
}

func (r *Router) handle(ctx context.Context, msg kit.Message) {
	fields := strings.Fields(msg.Text)
	if len(fields) == 0 {
		return
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	// Strip the @BotName suffix Telegram appends in groups.
	if i := strings.Index(cmd, "@"); i >= 0 {
		cmd = cmd[:i]
	}
	if cmd != "weather" && cmd != "tianqi" {
		return
	}

	target := kit.ChatTarget{ChatID: msg.ChatID}
	args := fields[1:]
	if len(args) == 0 {
		r.reply(ctx, target, helpText)
		return
	}

	sub := strings.ToLower(args[0])
	rest := args[1:]
	switch sub {
	case "sub", "subscribe", "订阅":
		r.handleSubscribe(ctx, target, strings.Join(rest, " "))
	case "list", "ls", "列表":
		r.handleList(ctx, target)
	case "del", "rm", "remove", "删除":
		r.handleRemove(ctx, target, rest)
	case "now", "current":
		r.handleNow(ctx, target, rest)
	case "history":
		r.handleHistory(ctx, target)
	case "help":
		r.reply(ctx, target, helpText)
	default:
		r.reply(ctx, target, "未知子命令: "+sub+"\n\n"+helpText)
	}
}

const helpText = `天气订阅命令：
/weather sub <描述>  订阅定时天气推送，例如 "每天早上9点 杭州"
/weather list        查看当前订阅
/weather del <序号>  删除指定序号的订阅
/weather now [城市]  立即查询天气
/weather history     最近推送记录`

func (r *Router) handleSubscribe(ctx context.Context, target kit.ChatTarget, desc string) {
	if strings.TrimSpace(desc) == "" {
		r.reply(ctx, target, "请描述订阅时间和城市，例如: /weather sub 每天早上9点 杭州")
		return
	}

	res, err := r.svc.Interp.Interpret(ctx, desc)
	if err != nil {
		r.log.Warn("interpret failed", logx.String("desc", desc), logx.Err(err))
		r.reply(ctx, target, "无法理解这个订阅请求，请换个说法试试。")
		return
	}

	city := strings.TrimSpace(res.City)
	if city == "" {
		city = r.defaultCity
	}
	sub := subscribe.Subscription{Text: "天气预报", City: city}

	if res.Cron != "" {
		rec, err := subscribe.ParseRecurrence(res.Cron)
		if err != nil {
			r.log.Warn("interpreter produced malformed recurrence",
				logx.String("cron", res.Cron), logx.Err(err))
			r.reply(ctx, target, "订阅的周期表达式无效，请换个说法试试。")
			return
		}
		sub.Cron = rec.String()
		sub.CronLabel = res.CronLabel
	} else {
		at, err := time.ParseInLocation("2006-01-02 15:04", res.DateTime, r.loc)
		if err != nil {
			r.reply(ctx, target, "订阅的时间无效，请换个说法试试。")
			return
		}
		if at.Before(time.Now().In(r.loc)) {
			r.reply(ctx, target, "订阅时间已经过去了: "+res.DateTime)
			return
		}
		sub.FireAt = subscribe.FormatFireAt(at)
	}

	added, err := r.svc.Store.Add(target.GroupKey(), sub)
	if err != nil {
		r.log.Error("subscription persist failed", logx.Err(err))
		r.reply(ctx, target, "订阅保存失败，请稍后再试。")
		return
	}
	if !r.svc.Scheduler.Arm(target.GroupKey(), added) {
		// A persisted entry with no live trigger would never fire; back it out.
		if derr := r.svc.Store.Discard(target.GroupKey(), added.ID); derr != nil {
			r.log.Error("rollback of unarmable subscription failed",
				logx.String("id", added.ID), logx.Err(derr))
		}
		r.reply(ctx, target, "无法安排该订阅，请换个说法试试。")
		return
	}

	r.reply(ctx, target, "已订阅: "+added.Text+" - "+added.ScheduleLabel())
}

func (r *Router) handleList(ctx context.Context, target kit.ChatTarget) {
	upcoming := r.svc.Store.ListUpcoming(target.GroupKey())
	if len(upcoming) == 0 {
		r.reply(ctx, target, "当前没有订阅。")
		return
	}
	var b strings.Builder
	b.WriteString("当前订阅：")
	for i, sub := range upcoming {
		b.WriteString("\n")
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(sub.Text)
		b.WriteString(" - ")
		b.WriteString(sub.ScheduleLabel())
	}
	r.reply(ctx, target, b.String())
}

func (r *Router) handleRemove(ctx context.Context, target kit.ChatTarget, args []string) {
	if len(args) != 1 {
		r.reply(ctx, target, "用法: /weather del <序号>")
		return
	}
	pos, err := strconv.Atoi(args[0])
	if err != nil {
		r.reply(ctx, target, "序号必须是数字: "+args[0])
		return
	}

	removed, err := r.svc.Store.Remove(target.GroupKey(), pos)
	switch {
	case errors.Is(err, subscribe.ErrEmptyStore):
		r.reply(ctx, target, "当前没有可删除的订阅。")
		return
	case errors.Is(err, subscribe.ErrIndexOutOfRange):
		r.reply(ctx, target, "序号超出范围: "+args[0])
		return
	case err != nil:
		r.log.Error("subscription remove failed", logx.Err(err))
		r.reply(ctx, target, "删除失败，请稍后再试。")
		return
	}
	// The store removal already succeeded; a missing live trigger (e.g. a
	// one-shot that already fired) is only logged by Disarm.
	r.svc.Scheduler.Disarm(removed.ID)

	r.reply(ctx, target, "已删除: "+removed.Text)
}

func (r *Router) handleNow(ctx context.Context, target kit.ChatTarget, args []string) {
	city := r.defaultCity
	if len(args) > 0 {
		city = args[0]
	}
	// Reuse the delivery pipeline with a synthetic one-off subscription.
	err := r.svc.Delivery.Deliver(ctx, target.GroupKey(), subscribe.Subscription{
		Text: "天气预报",
		City: city,
	})
	if err != nil {
		r.log.Warn("on-demand delivery failed", logx.String("city", city), logx.Err(err))
		r.reply(ctx, target, "查询 ["+city+"] 的天气失败，请稍后再试。")
	}
}

func (r *Router) handleHistory(ctx context.Context, target kit.ChatTarget) {
	if r.svc.History == nil {
		r.reply(ctx, target, "未启用推送历史记录。")
		return
	}
	entries, err := r.svc.History.Recent(ctx, 10)
	if err != nil {
		r.log.Warn("history query failed", logx.Err(err))
		r.reply(ctx, target, "历史记录查询失败。")
		return
	}
	if len(entries) == 0 {
		r.reply(ctx, target, "暂无推送记录。")
		return
	}
	var b strings.Builder
	b.WriteString("最近推送：")
	for _, e := range entries {
		b.WriteString("\n")
		b.WriteString(e.At.In(r.loc).Format("01-02 15:04"))
		b.WriteString(" ")
		b.WriteString(e.City)
		if e.OK {
			b.WriteString(" ✓")
		} else {
			b.WriteString(" ✗ ")
			b.WriteString(e.Error)
		}
	}
	r.reply(ctx, target, b.String())
}

func (r *Router) reply(ctx context.Context, to kit.ChatTarget, text string) {
	if err := r.adapter.SendText(ctx, to, text, nil); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat", to.ChatID), logx.Err(err))
	}
}
