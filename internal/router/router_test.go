package router

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"weatherbot/internal/delivery"
	"weatherbot/internal/interpret"
	"weatherbot/internal/llm"
	"weatherbot/internal/subscribe"
	kit "weatherbot/internal/transport"
	"weatherbot/internal/weather"
	"weatherbot/pkg/logx"
)

type fakeAdapter struct {
	mu      sync.Mutex
	replies []string
}

func (a *fakeAdapter) Start(ctx context.Context, out chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(ctx context.Context) error                         { return nil }

func (a *fakeAdapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.replies = append(a.replies, text)
	return nil
}

func (a *fakeAdapter) SendPhotoURL(ctx context.Context, to kit.ChatTarget, url, caption string) error {
	return nil
}

func (a *fakeAdapter) waitReply(t *testing.T, n int) string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		a.mu.Lock()
		if len(a.replies) >= n {
			reply := a.replies[n-1]
			a.mu.Unlock()
			return reply
		}
		a.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for reply %d", n)
	return ""
}

type fakeInterp struct {
	res interpret.Result
	err error
}

func (f *fakeInterp) Interpret(ctx context.Context, text string) (interpret.Result, error) {
	return f.res, f.err
}

type fakeProvider struct{}

func (fakeProvider) Forecast(ctx context.Context, city string) ([]weather.Day, error) {
	return nil, errors.New("not used here")
}

func (fakeProvider) StaticMapURL(ctx context.Context, city string) (string, error) {
	return "", errors.New("not used here")
}

type fixture struct {
	adapter *fakeAdapter
	updates chan kit.Update
	store   *subscribe.Store
}

func newFixture(t *testing.T, interp interpret.Interpreter) *fixture {
	t.Helper()
	store, err := subscribe.OpenStore(filepath.Join(t.TempDir(), "subs.json"), time.Local, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	adapter := &fakeAdapter{}
	deliv := delivery.New(fakeProvider{}, llm.New(llm.Config{}, logx.Nop()), adapter, nil,
		delivery.Options{SendMode: "text"}, logx.Nop())
	sched := subscribe.NewScheduler(store, deliv, time.Local, logx.Nop())
	if err := sched.Start(); err != nil {
		t.Fatal(err)
	}

	r := New(adapter, Services{
		Store:     store,
		Scheduler: sched,
		Interp:    interp,
		Delivery:  deliv,
	}, time.Local, "北京", logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan kit.Update, 16)
	go r.Run(ctx, updates)
	t.Cleanup(func() {
		cancel()
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		sched.Shutdown(sctx)
	})
	return &fixture{adapter: adapter, updates: updates, store: store}
}

func (f *fixture) send(text string) {
	f.updates <- kit.Update{Message: &kit.Message{ChatID: 42, FromID: 7, Text: text}}
}

func TestSubscribeListRemoveFlow(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &fakeInterp{res: interpret.Result{
		City: "杭州", Cron: "0 9 * * *", CronLabel: "每天9点",
	}})

	f.send("/weather sub 每天早上9点 杭州")
	if got := f.adapter.waitReply(t, 1); got != "已订阅: 天气预报 - 每天9点(Cron: 0 9 * * *)" {
		t.Fatalf("subscribe reply = %q", got)
	}

	f.send("/weather list")
	if got := f.adapter.waitReply(t, 2); !strings.Contains(got, "1. 天气预报 - 每天9点(Cron: 0 9 * * *)") {
		t.Fatalf("list reply = %q", got)
	}

	f.send("/weather del 1")
	if got := f.adapter.waitReply(t, 3); got != "已删除: 天气预报" {
		t.Fatalf("remove reply = %q", got)
	}

	f.send("/weather list")
	if got := f.adapter.waitReply(t, 4); got != "当前没有订阅。" {
		t.Fatalf("list-after-remove reply = %q", got)
	}
}

func TestRemoveAddressingErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &fakeInterp{res: interpret.Result{City: "杭州", Cron: "0 9 * * *", CronLabel: "每天9点"}})

	f.send("/weather del 1")
	if got := f.adapter.waitReply(t, 1); got != "当前没有可删除的订阅。" {
		t.Fatalf("empty-store reply = %q", got)
	}

	f.send("/weather sub 每天早上9点")
	f.adapter.waitReply(t, 2)

	f.send("/weather del 5")
	if got := f.adapter.waitReply(t, 3); got != "序号超出范围: 5" {
		t.Fatalf("out-of-range reply = %q", got)
	}
	f.send("/weather del abc")
	if got := f.adapter.waitReply(t, 4); got != "序号必须是数字: abc" {
		t.Fatalf("non-numeric reply = %q", got)
	}

	// Failed removals mutate nothing.
	if got := f.store.ListUpcoming("42"); len(got) != 1 {
		t.Fatalf("store mutated by failed removal: %d entries", len(got))
	}
}

func TestSubscribeInterpreterFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &fakeInterp{err: errors.New("service down")})

	f.send("/weather sub 什么时候下雨")
	if got := f.adapter.waitReply(t, 1); got != "无法理解这个订阅请求，请换个说法试试。" {
		t.Fatalf("reply = %q", got)
	}
}

func TestSubscribeMalformedRecurrenceRejected(t *testing.T) {
	t.Parallel()
	// Interpreter output is re-validated by the normalizer.
	f := newFixture(t, &fakeInterp{res: interpret.Result{City: "杭州", Cron: "0 9 * *", CronLabel: "每天9点"}})

	f.send("/weather sub 每天早上9点")
	if got := f.adapter.waitReply(t, 1); got != "订阅的周期表达式无效，请换个说法试试。" {
		t.Fatalf("reply = %q", got)
	}
	if got := f.store.ListUpcoming("42"); len(got) != 0 {
		t.Fatal("rejected subscription reached the store")
	}
}

func TestSubscribeUnarmableRecurrenceRolledBack(t *testing.T) {
	t.Parallel()
	// Five fields pass the normalizer but the scheduling engine rejects the
	// values; the entry must not survive in the store as a never-firing ghost.
	f := newFixture(t, &fakeInterp{res: interpret.Result{City: "杭州", Cron: "99 99 * * *", CronLabel: "乱码"}})

	f.send("/weather sub 乱七八糟的时间")
	if got := f.adapter.waitReply(t, 1); got != "无法安排该订阅，请换个说法试试。" {
		t.Fatalf("reply = %q", got)
	}
	if got := f.store.ListUpcoming("42"); len(got) != 0 {
		t.Fatalf("unarmable subscription left in store: %+v", got)
	}
}

func TestSubscribePastOneShotRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &fakeInterp{res: interpret.Result{City: "杭州", DateTime: "2020-01-01 00:00"}})

	f.send("/weather sub 2020年元旦")
	if got := f.adapter.waitReply(t, 1); !strings.Contains(got, "已经过去了") {
		t.Fatalf("reply = %q", got)
	}
}

func TestUnrelatedCommandsIgnored(t *testing.T) {
	t.Parallel()
	f := newFixture(t, &fakeInterp{})

	f.send("/ping")
	f.send("hello")
	f.send("/weather help")
	if got := f.adapter.waitReply(t, 1); !strings.Contains(got, "/weather sub") {
		t.Fatalf("help reply = %q", got)
	}
	f.adapter.mu.Lock()
	defer f.adapter.mu.Unlock()
	if len(f.adapter.replies) != 1 {
		t.Fatalf("unrelated messages answered: %v", f.adapter.replies)
	}
}
