package router

import (
	"context"
	"log/slog"
	"path"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/contractguard/contract-monitor/internal/channel"
	"github.com/contractguard/contract-monitor/internal/model"
)

// DedupStateRecorder mirrors dedup decisions into durable storage for audit.
// Optional; failures are logged and ignored.
type DedupStateRecorder interface {
	RecordAlerted(ctx context.Context, contractName, violationType string, at time.Time) error
}

// Router decides which configured channels receive a violation, applying
// severity gating, contract glob filtering, deduplication and per-contract
// rate limiting, then dispatches fire-and-forget.
type Router struct {
	cfg      model.AlertConfig
	logger   *slog.Logger
	channels map[string]channel.Channel
	dedup    DedupStore
	recorder DedupStateRecorder

	mu          sync.Mutex
	rateHistory map[string][]time.Time

	limiterMu sync.RWMutex
	limiters  map[string]*rate.Limiter

	now func() time.Time

	// OnRouted is invoked after a routing call that attempted at least one
	// channel, with the per-channel outcome. Optional.
	OnRouted func(event *model.ViolationEvent, outcome map[string]bool)

	// OnSuppressed is invoked when a matching violation is dropped before
	// dispatch. Reason is "dedup" or "rate_limit". Optional.
	OnSuppressed func(event *model.ViolationEvent, reason string)
}

// New creates an alert router over the given channel instances. Channels
// with duplicate names overwrite earlier ones.
func New(cfg model.AlertConfig, channels []channel.Channel, dedup DedupStore, logger *slog.Logger) *Router {
	byName := make(map[string]channel.Channel, len(channels))
	for _, ch := range channels {
		byName[ch.Name()] = ch
	}
	return &Router{
		cfg:         cfg,
		logger:      logger,
		channels:    byName,
		dedup:       dedup,
		rateHistory: make(map[string][]time.Time),
		limiters:    make(map[string]*rate.Limiter),
		now:         time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (r *Router) WithClock(now func() time.Time) *Router {
	r.now = now
	return r
}

// WithRecorder attaches a durable dedup-state recorder.
func (r *Router) WithRecorder(rec DedupStateRecorder) *Router {
	r.recorder = rec
	return r
}

// SetChannelLimit installs a per-channel delivery limiter. A channel whose
// limiter denies a send records a false outcome for that attempt.
func (r *Router) SetChannelLimit(channelName string, perMinute int, burst int) {
	r.limiterMu.Lock()
	defer r.limiterMu.Unlock()
	r.limiters[channelName] = rate.NewLimiter(rate.Limit(perMinute)/60, burst)
}

// Route dispatches a violation to every matching channel. The returned map
// holds the delivery outcome per attempted channel; channels filtered out by
// rules, dedup or rate limiting are absent. Route never returns an error:
// per-channel failures are contained and recorded as false.
func (r *Router) Route(ctx context.Context, event *model.ViolationEvent) map[string]bool {
	outcome := make(map[string]bool)

	matched := r.matchChannels(event)
	if len(matched) == 0 {
		r.logger.Debug("Violation matched no channels",
			"contract", event.ContractName,
			"violation_type", event.ViolationType,
			"severity", event.Severity)
		return outcome
	}

	// The gate checks and the state writes share one critical section, so two
	// concurrent calls for the same key cannot both pass. State is reserved
	// here, before dispatch, and only when at least one channel is about to
	// be attempted.
	dedupKey := event.DedupKey()
	now := r.now()

	r.mu.Lock()
	if r.cfg.DedupWindowMinutes > 0 && r.dedup.Seen(ctx, dedupKey) {
		r.mu.Unlock()
		r.logger.Info("Alert suppressed by dedup window",
			"contract", event.ContractName,
			"violation_type", event.ViolationType)
		if r.OnSuppressed != nil {
			r.OnSuppressed(event, "dedup")
		}
		return outcome
	}
	if !r.allowRateLocked(now, event.ContractName) {
		r.mu.Unlock()
		r.logger.Info("Alert suppressed by per-contract rate limit",
			"contract", event.ContractName,
			"limit", r.cfg.RateLimitPerContract,
			"window_minutes", r.cfg.RateLimitWindowMinutes)
		if r.OnSuppressed != nil {
			r.OnSuppressed(event, "rate_limit")
		}
		return outcome
	}
	if r.cfg.DedupWindowMinutes > 0 {
		r.dedup.MarkSeen(ctx, dedupKey, r.cfg.DedupWindow())
	}
	r.rateHistory[event.ContractName] = append(r.rateHistory[event.ContractName], now)
	r.mu.Unlock()

	// Dispatch happens outside every router lock. Order across channels is
	// unordered; deliveries are independent.
	var wg sync.WaitGroup
	var outcomeMu sync.Mutex
	for _, ch := range matched {
		wg.Add(1)
		go func(ch channel.Channel) {
			defer wg.Done()
			ok := r.dispatch(ctx, ch, event)
			outcomeMu.Lock()
			outcome[ch.Name()] = ok
			outcomeMu.Unlock()
		}(ch)
	}
	wg.Wait()

	if r.recorder != nil {
		if err := r.recorder.RecordAlerted(ctx, event.ContractName, event.ViolationType, now); err != nil {
			r.logger.Error("Failed to persist dedup state", "contract", event.ContractName, "error", err)
		}
	}

	if r.OnRouted != nil {
		r.OnRouted(event, outcome)
	}
	return outcome
}

// matchChannels resolves the union of routing rules whose severity gate and
// optional contract glob both pass. Unknown channel names are ignored.
func (r *Router) matchChannels(event *model.ViolationEvent) []channel.Channel {
	names := make(map[string]struct{})
	for _, rule := range r.cfg.RoutingRules {
		if event.Severity.Rank() < rule.MinSeverity.Rank() {
			continue
		}
		if rule.ContractFilter != "" {
			ok, err := path.Match(rule.ContractFilter, event.ContractName)
			if err != nil {
				r.logger.Warn("Invalid contract filter glob",
					"filter", rule.ContractFilter,
					"channel", rule.ChannelName,
					"error", err)
				continue
			}
			if !ok {
				continue
			}
		}
		names[rule.ChannelName] = struct{}{}
	}

	matched := make([]channel.Channel, 0, len(names))
	for name := range names {
		ch, ok := r.channels[name]
		if !ok {
			continue
		}
		matched = append(matched, ch)
	}
	return matched
}

// allowRateLocked prunes the per-contract history to the window and checks
// the remaining attempt count against the limit. Caller must hold r.mu.
func (r *Router) allowRateLocked(now time.Time, contractName string) bool {
	cutoff := now.Add(-r.cfg.RateLimitWindow())
	history := r.rateHistory[contractName]
	pruned := history[:0]
	for _, ts := range history {
		if ts.After(cutoff) {
			pruned = append(pruned, ts)
		}
	}
	r.rateHistory[contractName] = pruned

	return len(pruned) < r.cfg.RateLimitPerContract
}

// dispatch attempts a single channel delivery. A panic or false return is
// contained here; it never affects other channels or the caller.
func (r *Router) dispatch(ctx context.Context, ch channel.Channel, event *model.ViolationEvent) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("Alert channel panicked",
				"channel", ch.Name(),
				"contract", event.ContractName,
				"panic", rec)
			ok = false
		}
	}()

	if limiter := r.channelLimiter(ch.Name()); limiter != nil && !limiter.Allow() {
		r.logger.Warn("Channel delivery limited",
			"channel", ch.Name(),
			"contract", event.ContractName)
		return false
	}

	ok = ch.SendAlert(ctx, event)
	if !ok {
		r.logger.Error("Alert delivery failed",
			"channel", ch.Name(),
			"contract", event.ContractName,
			"violation_type", event.ViolationType)
	}
	return ok
}

func (r *Router) channelLimiter(name string) *rate.Limiter {
	r.limiterMu.RLock()
	defer r.limiterMu.RUnlock()
	return r.limiters[name]
}
