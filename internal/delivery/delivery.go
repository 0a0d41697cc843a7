// Package delivery turns a due subscription into an outbound message: fetch
// forecast content, format it, optionally enhance it, and dispatch it to the
// messaging sink.
package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"weatherbot/internal/history"
	"weatherbot/internal/subscribe"
	kit "weatherbot/internal/transport"
	"weatherbot/internal/weather"
	"weatherbot/pkg/logx"
)

type Options struct {
	// SendMode: "text" or "image".
	SendMode string
	// Enhance pipes the formatted report through the LLM before sending.
	Enhance bool
	// EnhancePrompt is the instruction given to the enhancer.
	EnhancePrompt string
}

// Enhancer rewrites a formatted report before sending. Enhancement is
// best-effort: on any error the raw report is sent instead.
type Enhancer interface {
	Enabled() bool
	Complete(ctx context.Context, system, user string) (string, error)
}

type Adapter struct {
	provider weather.Provider
	enhancer Enhancer
	sink     kit.Adapter
	hist     history.Store // nil when disabled
	log      logx.Logger

	mu  sync.RWMutex
	opt Options // hot-reloadable
}

func New(provider weather.Provider, enhancer Enhancer, sink kit.Adapter, hist history.Store, opt Options, log logx.Logger) *Adapter {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{
		provider: provider,
		enhancer: enhancer,
		sink:     sink,
		hist:     hist,
		opt:      opt,
		log:      log,
	}
}

// Apply swaps the delivery options at runtime (config hot reload).
func (a *Adapter) Apply(opt Options) {
	a.mu.Lock()
	a.opt = opt
	a.mu.Unlock()
}

func (a *Adapter) options() Options {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.opt
}

// Deliver produces and dispatches content for one due subscription. Any error
// aborts this firing only; the scheduler logs it and moves on.
func (a *Adapter) Deliver(ctx context.Context, groupKey string, sub subscribe.Subscription) error {
	start := time.Now()
	err := a.deliver(ctx, groupKey, sub)
	a.record(groupKey, sub, err, time.Since(start))
	return err
}

func (a *Adapter) deliver(ctx context.Context, groupKey string, sub subscribe.Subscription) error {
	target, err := kit.ParseGroupKey(groupKey)
	if err != nil {
		return err
	}

	days, err := a.provider.Forecast(ctx, sub.City)
	if err != nil {
		return fmt.Errorf("fetch forecast: %w", err)
	}
	text := FormatReport(sub.City, days)

	opt := a.options()
	if opt.Enhance && a.enhancer != nil && a.enhancer.Enabled() {
		enhanced, err := a.enhancer.Complete(ctx, opt.EnhancePrompt, text)
		if err != nil {
			// Fall back to the raw report; enhancement is best-effort.
			a.log.Warn("enhancer failed, sending raw report", logx.String("city", sub.City), logx.Err(err))
		} else {
			text = enhanced
		}
	}

	if opt.SendMode == "image" {
		url, err := a.provider.StaticMapURL(ctx, sub.City)
		if err != nil {
			a.log.Warn("image url unavailable, falling back to text", logx.String("city", sub.City), logx.Err(err))
		} else {
			if err := a.sink.SendPhotoURL(ctx, target, url, text); err != nil {
				return fmt.Errorf("send image: %w", err)
			}
			return nil
		}
	}

	if err := a.sink.SendText(ctx, target, text, nil); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	return nil
}

func (a *Adapter) record(groupKey string, sub subscribe.Subscription, derr error, took time.Duration) {
	if a.hist == nil {
		return
	}
	e := history.Entry{
		At:       time.Now(),
		GroupKey: groupKey,
		SubID:    sub.ID,
		City:     sub.City,
		OK:       derr == nil,
		TookMS:   took.Milliseconds(),
	}
	if derr != nil {
		e.Error = derr.Error()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.hist.Append(ctx, e); err != nil {
		a.log.Warn("history append failed", logx.Err(err))
	}
}
