package service

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/allais-space/chatkit/internal/config"
)

// DelayStrategy paces the typing simulation. Tests swap in a zero-delay
// implementation so the simulation runs without real timers.
type DelayStrategy interface {
	NextDelay() time.Duration
}

type jitteredDelay struct {
	mu     sync.Mutex
	rng    *rand.Rand
	base   time.Duration
	jitter time.Duration
}

func (d *jitteredDelay) NextDelay() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.base + time.Duration(d.rng.Int63n(int64(d.jitter)))
}

// NewTypingDelay returns the production pacing: a small fixed delay plus
// random jitter per emitted character.
func NewTypingDelay() DelayStrategy {
	return &jitteredDelay{
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		base:   config.TypingBaseDelay,
		jitter: config.TypingJitter,
	}
}

// FixedDelay is a deterministic DelayStrategy.
type FixedDelay time.Duration

func (d FixedDelay) NextDelay() time.Duration { return time.Duration(d) }

// simulateTyping emits text character by character through onChunk until done
// or the context is cancelled. Cancellation is checked at every delay tick so
// emission halts within one tick of an abort. A trailing blank line separates
// the placeholder from the real response that replaces it.
func simulateTyping(ctx context.Context, text string, delay DelayStrategy, onChunk func(string)) {
	for _, r := range text {
		if ctx.Err() != nil {
			return
		}
		onChunk(string(r))
		if !sleepCtx(ctx, delay.NextDelay()) {
			return
		}
	}
	if ctx.Err() == nil {
		onChunk("\n\n")
		sleepCtx(ctx, config.TypingPause)
	}
}

// sleepCtx sleeps for d, returning false if ctx was cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
