package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"remind/internal/observability"
)

type GuardOptions struct {
	Name string
	// RPS <= 0 disables local rate limiting.
	RPS   float64
	Burst int
	// LimiterWait bounds how long a send may queue for a token.
	LimiterWait time.Duration

	TripFailures uint32
	OpenTimeout  time.Duration

	// SendTimeout bounds one send end to end.
	SendTimeout time.Duration
}

// Guard protects a Sender with a per-process rate limit, a circuit breaker
// and a per-send deadline. Sends refused by the limiter or an open breaker
// return KindDeferred. Rejections do not count toward tripping the breaker.
type Guard struct {
	next        Sender
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
	limiterWait time.Duration
	sendTimeout time.Duration
}

func NewGuard(next Sender, opts GuardOptions) *Guard {
	if opts.Name == "" {
		opts.Name = "transport"
	}
	if opts.TripFailures == 0 {
		opts.TripFailures = 10
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 20 * time.Second
	}
	if opts.LimiterWait <= 0 {
		opts.LimiterWait = 2 * time.Second
	}
	g := &Guard{
		next:        next,
		limiterWait: opts.LimiterWait,
		sendTimeout: opts.SendTimeout,
	}
	if opts.RPS > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(opts.RPS), burst)
	}
	trip := opts.TripFailures
	g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 3,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= trip },
		IsSuccessful: func(err error) bool {
			return err == nil || Rejected(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("transport breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return g
}

func (g *Guard) Send(ctx context.Context, recipient, text string) error {
	if g.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.sendTimeout)
		defer cancel()
	}

	if g.limiter != nil {
		waitCtx, cancelWait := context.WithTimeout(ctx, g.limiterWait)
		err := g.limiter.Wait(waitCtx)
		cancelWait()
		if err != nil {
			return &Error{Kind: KindDeferred, Err: fmt.Errorf("rate limiter: %w", err)}
		}
	}

	start := time.Now()
	_, err := g.breaker.Execute(func() (any, error) {
		return nil, g.next.Send(ctx, recipient, text)
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &Error{Kind: KindDeferred, Err: err}
	}
	observability.SendLatency.Observe(time.Since(start).Seconds())

	if errors.Is(err, context.DeadlineExceeded) {
		var te *Error
		if errors.As(err, &te) {
			return err
		}
		return &Error{Kind: KindTimeout, Err: err}
	}
	return err
}

func (g *Guard) State() gobreaker.State { return g.breaker.State() }
