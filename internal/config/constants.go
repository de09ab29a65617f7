package config

import "time"

const (
	// Webhook request timeout. Timed-out requests are never retried.
	RequestTimeout = 30 * time.Second

	// Retry policy for webhook calls and conversation fetches
	MaxRetries       = 3
	RetryBackoffBase = 500 * time.Millisecond

	// Conversation history sent with each request
	MaxHistoryMessages = 10

	// Attachments above this size are dropped from the outgoing payload
	MaxFileSize = 5 * 1024 * 1024

	// Concurrent request bookkeeping
	MaxPendingRequests = 2

	// Rate shaping: after RateThreshold requests inside RateWindow,
	// dispatch is delayed by up to MaxRateDelay
	RateThreshold = 5
	RateWindow    = 5 * time.Second
	MaxRateDelay  = 2 * time.Second

	// Typing simulation pacing
	TypingBaseDelay = 20 * time.Millisecond
	TypingJitter    = 30 * time.Millisecond
	TypingPause     = 300 * time.Millisecond

	// Daily user-message quota (advisory, UTC day boundary)
	MaxDailyMessages = 50

	// Assistant messages are persisted this much after their paired user
	// message so user-then-assistant order survives coarse timestamps
	AssistantTimestampOffset = 100 * time.Millisecond

	// Background persistence
	PersistQueueSize = 32
	PersistTimeout   = 10 * time.Second

	// Stable foreign key for unauthenticated callers
	AnonymousUserID = "efcfb65f-cc62-431b-a1ee-2cca90618d39"
)
