package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Sender delivers a verification code out of band (email, SMS).
type Sender interface {
	Send(ctx context.Context, target, message string) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, target, message string) error

func (f SenderFunc) Send(ctx context.Context, target, message string) error {
	return f(ctx, target, message)
}

const (
	sendWindowPerMinute = 3
	targetBucketTTL     = 24 * time.Hour
)

// SendGuard wraps a Sender with a per-target sliding window and a daily
// cap on successful sends. Rejections surface as ErrRateLimited before the
// inner sender is invoked.
type SendGuard struct {
	inner    Sender
	dailyCap int
	now      func() time.Time

	mu      sync.Mutex
	buckets map[string]*sendBucket
}

type sendBucket struct {
	lim       *rate.Limiter
	sentDay   string
	sentToday int
	touched   time.Time
}

// NewSendGuard builds a guard around inner. dailyCap <= 0 disables the cap.
func NewSendGuard(inner Sender, dailyCap int, now func() time.Time) *SendGuard {
	if now == nil {
		now = time.Now
	}
	return &SendGuard{
		inner:    inner,
		dailyCap: dailyCap,
		now:      now,
		buckets:  make(map[string]*sendBucket),
	}
}

func (g *SendGuard) Send(ctx context.Context, target, message string) error {
	b, err := g.admit(target)
	if err != nil {
		return err
	}
	if err := g.inner.Send(ctx, target, message); err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	g.recordSuccess(b)
	return nil
}

func (g *SendGuard) admit(target string) (*sendBucket, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	g.evictStale(now)

	b, ok := g.buckets[target]
	if !ok {
		b = &sendBucket{lim: rate.NewLimiter(rate.Every(time.Minute/sendWindowPerMinute), sendWindowPerMinute)}
		g.buckets[target] = b
	}
	b.touched = now

	day := now.UTC().Format("2006-01-02")
	if b.sentDay != day {
		b.sentDay = day
		b.sentToday = 0
	}
	if g.dailyCap > 0 && b.sentToday >= g.dailyCap {
		return nil, ErrRateLimited
	}
	if !b.lim.AllowN(now, 1) {
		return nil, ErrRateLimited
	}
	return b, nil
}

func (g *SendGuard) recordSuccess(b *sendBucket) {
	g.mu.Lock()
	defer g.mu.Unlock()
	b.sentToday++
}

func (g *SendGuard) evictStale(now time.Time) {
	for target, b := range g.buckets {
		if now.Sub(b.touched) > targetBucketTTL {
			delete(g.buckets, target)
		}
	}
}
