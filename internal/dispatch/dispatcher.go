// Package dispatch runs the delivery cycle: select eligible schedules, fan
// out bounded sends, and persist each record's transition.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"remind/internal/concurrency"
	"remind/internal/config"
	"remind/internal/domain"
	"remind/internal/observability"
	"remind/internal/store"
	"remind/internal/transport"
	"remind/internal/util"
)

const DefaultTemplate = "⏰ Scheduled reminder:\n\n{body}"

type Options struct {
	Store      store.Store
	Sender     transport.Sender
	Controller *concurrency.Controller
	// Tunables is read once at the start of every cycle.
	Tunables func() config.Tunables
	Template string
	// Clock defaults to time.Now; tests inject a simulated clock.
	Clock        func() time.Time
	StoreTimeout time.Duration
}

type Dispatcher struct {
	store        store.Store
	sender       transport.Sender
	controller   *concurrency.Controller
	tunables     func() config.Tunables
	template     string
	now          func() time.Time
	storeTimeout time.Duration
}

func New(opts Options) (*Dispatcher, error) {
	if opts.Store == nil || opts.Sender == nil || opts.Tunables == nil {
		return nil, errors.New("dispatch: store, sender and tunables are required")
	}
	d := &Dispatcher{
		store:        opts.Store,
		sender:       opts.Sender,
		controller:   opts.Controller,
		tunables:     opts.Tunables,
		template:     opts.Template,
		now:          opts.Clock,
		storeTimeout: opts.StoreTimeout,
	}
	if d.template == "" {
		d.template = DefaultTemplate
	}
	if d.now == nil {
		d.now = time.Now
	}
	if d.storeTimeout <= 0 {
		d.storeTimeout = 5 * time.Second
	}
	if d.controller == nil {
		d.controller = concurrency.NewController(nil, d.tunables().Concurrency)
	}
	return d, nil
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeRetry
	outcomeFailed
	// the record left pending between selection and update
	outcomeConflict
	// a failed attempt could not be recorded
	outcomeStoreError
	// the send succeeded but the store still says pending
	outcomeInconsistent
	// the guard refused the send; the record is left for a later cycle
	outcomeDeferred
)

// Report summarises one cycle.
type Report struct {
	Eligible     int
	Concurrency  int
	Sent         int
	Retrying     int
	Failed       int
	Conflicts    int
	StoreErrors  int
	Inconsistent int
	Deferred     int
	Duration     time.Duration
}

// RunOnce executes a single cycle and blocks until every dispatched send has
// resolved. An error means the eligibility query failed and nothing was sent.
// Cancelling ctx does not abort sends already in flight.
func (d *Dispatcher) RunOnce(ctx context.Context) (Report, error) {
	start := time.Now()
	t := d.tunables()
	now := d.now()

	findCtx, cancel := context.WithTimeout(ctx, d.storeTimeout)
	msgs, err := d.store.Find(findCtx, store.Query{
		Filter: store.EligibleFilter(now, t.RetryDelay, t.MaxAttempts),
		Sort:   store.SortScheduledAsc,
	})
	cancel()
	if err != nil {
		observability.CycleErrors.Inc()
		return Report{}, fmt.Errorf("dispatch: eligibility query: %w", err)
	}

	// the controller samples every tick, idle or not
	n := d.controller.Next(ctx, settingsFrom(t))
	observability.DispatchConcurrency.Set(float64(n))

	rep := Report{Eligible: len(msgs), Concurrency: n}
	if len(msgs) == 0 {
		rep.Duration = time.Since(start)
		observability.CycleDuration.Observe(rep.Duration.Seconds())
		return rep, nil
	}

	// the cycle runs to completion once records are selected
	runCtx := context.WithoutCancel(ctx)
	results := make([]outcome, len(msgs))

	var g errgroup.Group
	g.SetLimit(n)
	for i, m := range msgs {
		g.Go(func() error {
			results[i] = d.dispatchOne(runCtx, m, t, now)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		switch r {
		case outcomeSent:
			rep.Sent++
		case outcomeRetry:
			rep.Retrying++
		case outcomeFailed:
			rep.Failed++
		case outcomeConflict:
			rep.Conflicts++
		case outcomeStoreError:
			rep.StoreErrors++
		case outcomeInconsistent:
			rep.Inconsistent++
		case outcomeDeferred:
			rep.Deferred++
		}
	}
	rep.Duration = time.Since(start)
	observability.CycleDuration.Observe(rep.Duration.Seconds())

	slog.Info("dispatch cycle finished",
		"eligible", rep.Eligible,
		"concurrency", rep.Concurrency,
		"sent", rep.Sent,
		"retrying", rep.Retrying,
		"failed", rep.Failed,
		"conflicts", rep.Conflicts,
		"store_errors", rep.StoreErrors,
		"inconsistent", rep.Inconsistent,
		"deferred", rep.Deferred,
		"duration_ms", rep.Duration.Milliseconds(),
	)
	return rep, nil
}

func (d *Dispatcher) dispatchOne(ctx context.Context, m domain.ScheduledMessage, t config.Tunables, now time.Time) (res outcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("dispatch record panic recovered", "schedule_id", m.ID, "panic", r)
			res = outcomeStoreError
		}
	}()

	text := util.RenderTemplate(d.template, map[string]string{"body": m.Body})
	sendErr := d.sender.Send(ctx, m.Recipient, text)
	if sendErr == nil {
		observability.DispatchAttempts.WithLabelValues("ok").Inc()
		return d.markSent(ctx, m, now)
	}
	if transport.Deferred(sendErr) {
		observability.DispatchAttempts.WithLabelValues("deferred").Inc()
		slog.Debug("send deferred, record left untouched", "schedule_id", m.ID, "err", sendErr)
		return outcomeDeferred
	}
	observability.DispatchAttempts.WithLabelValues("error").Inc()
	return d.recordFailure(ctx, m, t, now, sendErr)
}

func (d *Dispatcher) markSent(ctx context.Context, m domain.ScheduledMessage, now time.Time) outcome {
	status := domain.StatusSent
	err := d.update(ctx, m.ID, store.Fields{
		Status:        &status,
		SentAt:        &now,
		LastAttemptAt: &now,
	})
	switch {
	case err == nil:
		observability.Terminal.WithLabelValues(string(domain.StatusSent), "delivered").Inc()
		return outcomeSent
	case errors.Is(err, domain.ErrNotPending):
		slog.Warn("schedule changed while sending; delivered but not marked sent",
			"schedule_id", m.ID, "recipient", m.Recipient)
		return outcomeConflict
	default:
		observability.StoreInconsistencies.Inc()
		slog.Error("delivered but failed to persist sent state",
			"severity", "critical",
			"schedule_id", m.ID,
			"recipient", m.Recipient,
			"err", err,
		)
		return outcomeInconsistent
	}
}

func (d *Dispatcher) recordFailure(ctx context.Context, m domain.ScheduledMessage, t config.Tunables, now time.Time, sendErr error) outcome {
	f := store.Fields{IncAttempts: 1, LastAttemptAt: &now}

	attempts := m.Attempts + 1
	reason := ""
	switch {
	case m.Expired(now):
		reason = "expired"
	case attempts >= t.MaxAttempts:
		reason = "max_attempts"
	}
	if reason != "" {
		status := domain.StatusFailed
		msg := sendErr.Error()
		f.Status = &status
		f.Error = &msg
	}

	err := d.update(ctx, m.ID, f)
	switch {
	case errors.Is(err, domain.ErrNotPending):
		slog.Warn("schedule changed while sending; attempt not recorded", "schedule_id", m.ID)
		return outcomeConflict
	case err != nil:
		slog.Error("failed to record delivery attempt", "schedule_id", m.ID, "attempts", attempts, "err", err)
		return outcomeStoreError
	}

	if reason == "" {
		slog.Info("delivery failed, will retry",
			"schedule_id", m.ID,
			"attempts", attempts,
			"max_attempts", t.MaxAttempts,
			"err", sendErr,
		)
		return outcomeRetry
	}
	observability.Terminal.WithLabelValues(string(domain.StatusFailed), reason).Inc()
	slog.Warn("delivery failed permanently",
		"schedule_id", m.ID,
		"attempts", attempts,
		"reason", reason,
		"err", sendErr,
	)
	return outcomeFailed
}

func (d *Dispatcher) update(ctx context.Context, id string, f store.Fields) error {
	ctx, cancel := context.WithTimeout(ctx, d.storeTimeout)
	defer cancel()
	return d.store.UpdateFields(ctx, id, f)
}

func settingsFrom(t config.Tunables) concurrency.Settings {
	return concurrency.Settings{
		Enabled:      t.Dynamic.Enabled,
		Static:       t.Concurrency,
		Min:          t.Dynamic.Min,
		Max:          t.Dynamic.Max,
		CPUThreshold: t.Dynamic.CPUThreshold,
		MemThreshold: t.Dynamic.MemThreshold,
	}
}
