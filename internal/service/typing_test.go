package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allais-space/chatkit/internal/config"
)

func TestSimulateTypingEmitsEveryCharacter(t *testing.T) {
	var b strings.Builder
	simulateTyping(context.Background(), "thinking...", FixedDelay(0), func(chunk string) {
		b.WriteString(chunk)
	})
	assert.Equal(t, "thinking...\n\n", b.String())
}

func TestSimulateTypingHandlesMultibyteRunes(t *testing.T) {
	var b strings.Builder
	simulateTyping(context.Background(), "جاري المعالجة", FixedDelay(0), func(chunk string) {
		b.WriteString(chunk)
	})
	assert.Equal(t, "جاري المعالجة\n\n", b.String())
}

func TestSimulateTypingStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var emitted int
	simulateTyping(ctx, "a long placeholder text", FixedDelay(time.Millisecond), func(string) {
		emitted++
		if emitted == 3 {
			cancel()
		}
	})

	// The next delay tick after cancellation must halt emission, and the
	// trailing blank line must not be sent.
	require.Equal(t, 3, emitted)
}

func TestSimulateTypingCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	simulateTyping(ctx, "anything", FixedDelay(0), func(string) { called = true })
	assert.False(t, called)
}

func TestJitteredDelayBounds(t *testing.T) {
	d := NewTypingDelay()
	for range 100 {
		got := d.NextDelay()
		assert.GreaterOrEqual(t, got, config.TypingBaseDelay)
		assert.Less(t, got, config.TypingBaseDelay+config.TypingJitter)
	}
}

func TestSleepCtx(t *testing.T) {
	assert.True(t, sleepCtx(context.Background(), 0))
	assert.True(t, sleepCtx(context.Background(), time.Microsecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, sleepCtx(ctx, time.Hour))
	assert.False(t, sleepCtx(ctx, 0))
}

func TestPersistQueueRunsJobsInOrder(t *testing.T) {
	results := make(chan string, 4)
	q := newPersistQueue(4, func(job string, err error) {
		require.NoError(t, err)
		results <- job
	})

	// A single worker executes jobs, so plain appends are safe here.
	var order []string
	for _, name := range []string{"first", "second", "third"} {
		q.Enqueue(name, func(ctx context.Context) error {
			order = append(order, name)
			return nil
		})
	}
	q.Close()

	assert.Equal(t, []string{"first", "second", "third"}, order)
	assert.Len(t, results, 3)
}

func TestPersistQueueReportsFailure(t *testing.T) {
	errs := make(chan error, 1)
	q := newPersistQueue(1, func(job string, err error) {
		if job == "broken" {
			errs <- err
		}
	})
	q.Enqueue("broken", func(ctx context.Context) error {
		return assert.AnError
	})
	q.Close()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, assert.AnError)
	default:
		t.Fatal("failure hook never fired")
	}
}
