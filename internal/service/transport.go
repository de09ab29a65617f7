package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"github.com/allais-space/chatkit/internal/config"
	"github.com/allais-space/chatkit/internal/domain"
)

// SendOptions carries per-call context for a webhook exchange.
type SendOptions struct {
	ConversationID    string
	IsNewConversation bool
	History           []domain.Message
	Files             []domain.FileRef
}

// StreamHandlers receives interim and final results of a streaming exchange.
// OnChunk delivers locally generated typing-placeholder text; OnComplete
// replaces everything streamed so far with the real response. OnError may be
// followed by OnComplete when the non-streaming fallback succeeds.
type StreamHandlers struct {
	OnChunk    func(chunk string)
	OnComplete func(fullText string, tokensUsed int)
	OnError    func(reason string)
}

// TransportClient delivers messages to model-specific webhook endpoints.
// It owns per-request cancellation: starting a new call cancels the one
// currently in flight, and a third concurrent call evicts the oldest of the
// two pending ones. All bookkeeping is instance state with an explicit
// lifecycle, nothing process-wide.
type TransportClient struct {
	httpClient   *http.Client
	models       map[string]domain.AIModel
	placeholders placeholderSet
	delay        DelayStrategy

	mu            sync.Mutex
	current       context.CancelFunc
	currentID     string
	pendingOrder  []string
	pendingCancel map[string]context.CancelFunc
	requestCount  int
	lastRequestAt time.Time
}

type TransportOption func(*TransportClient)

// WithDelayStrategy overrides the typing-simulation pacing.
func WithDelayStrategy(d DelayStrategy) TransportOption {
	return func(c *TransportClient) { c.delay = d }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) TransportOption {
	return func(c *TransportClient) { c.httpClient = hc }
}

func NewTransportClient(models []domain.AIModel, language string, opts ...TransportOption) *TransportClient {
	byID := make(map[string]domain.AIModel, len(models))
	for _, m := range models {
		byID[m.ID] = m
	}
	c := &TransportClient{
		httpClient:    &http.Client{Timeout: config.RequestTimeout},
		models:        byID,
		placeholders:  placeholdersFor(language),
		delay:         NewTypingDelay(),
		pendingCancel: make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model looks up a configured model by id.
func (c *TransportClient) Model(id string) (domain.AIModel, error) {
	m, ok := c.models[id]
	if !ok {
		return domain.AIModel{}, domain.ErrModelNotFound
	}
	return m, nil
}

// CancelRequest aborts the request currently in flight, if any.
func (c *TransportClient) CancelRequest() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != nil {
		c.current()
		c.current = nil
		c.currentID = ""
	}
}

// StreamMessage delivers message to the model's webhook while emitting a
// typing placeholder through h.OnChunk. The placeholder text is interim
// only; OnComplete supersedes it with the real (or synthesized) response.
// Transport failures are retried with exponential backoff; a timeout is
// never retried. After exhaustion the caller's OnError fires, followed by
// one last-resort fallback to the non-streaming path.
func (c *TransportClient) StreamMessage(ctx context.Context, message, modelID, userID string, opts SendOptions, h StreamHandlers) {
	model, ok := c.models[modelID]
	if !ok {
		h.OnError("unknown model: " + modelID)
		return
	}

	requestID := newRequestID()
	reqCtx := c.register(ctx, requestID)
	callCtx, cancel := context.WithTimeout(reqCtx, config.RequestTimeout)
	defer cancel()

	var unregisterOnce sync.Once
	unregister := func() { unregisterOnce.Do(func() { c.unregister(requestID) }) }
	defer unregister()

	// Start masking latency immediately, independent of network state.
	typingDone := make(chan struct{})
	go func() {
		defer close(typingDone)
		simulateTyping(callCtx, randomTypingText(c.placeholders), c.delay, h.OnChunk)
	}()

	if d := c.rateDelay(); d > 0 {
		slog.Debug("rate shaping dispatch", "request_id", requestID, "delay", d)
		sleepCtx(callCtx, d)
	}

	payload, err := json.Marshal(c.buildPayload(message, model.ID, userID, requestID, opts))
	if err != nil {
		h.OnError(fmt.Sprintf("marshal payload: %v", err))
		return
	}

	// Let the placeholder finish so the replacement does not cut it off
	// mid-word.
	<-typingDone

	var lastErr error
	for attempt := 0; attempt < config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := config.RetryBackoffBase << (attempt - 1)
			slog.Debug("retrying webhook request", "request_id", requestID, "attempt", attempt, "backoff", backoff)
			if !sleepCtx(callCtx, backoff) {
				break
			}
		}

		text, tokens, err := c.doAttempt(callCtx, model.WebhookURL, payload, requestID)
		if err == nil {
			c.decayRequestCount()
			h.OnComplete(resolveResponse(message, text, c.placeholders), tokens)
			return
		}
		lastErr = err
		slog.Warn("webhook attempt failed", "request_id", requestID, "attempt", attempt, "error", err)
		if !retryable(err) {
			break
		}
	}

	if errors.Is(lastErr, context.Canceled) || reqCtx.Err() == context.Canceled {
		// Superseded by a newer request or reset; the caller moved on.
		return
	}
	if errors.Is(lastErr, domain.ErrTimeout) {
		h.OnError("request timed out, please try again")
		return
	}

	reason := "unknown error"
	if lastErr != nil {
		reason = lastErr.Error()
	}
	h.OnError(reason)

	// Last resort: one full non-streaming request. Unregister first so it
	// does not cancel-and-replace ourselves.
	unregister()
	slog.Info("streaming failed, falling back to regular request", "request_id", requestID)
	text, tokens, err := c.SendMessage(ctx, message, modelID, userID, opts)
	if err != nil {
		h.OnError("fallback also failed: " + err.Error())
		return
	}
	h.OnComplete(text, tokens)
}

// SendMessage is the non-streaming path: identical request construction and
// retry policy, no typing simulation. Returns the completed text after
// non-substantive-response substitution.
func (c *TransportClient) SendMessage(ctx context.Context, message, modelID, userID string, opts SendOptions) (string, int, error) {
	model, ok := c.models[modelID]
	if !ok {
		return "", 0, domain.ErrModelNotFound
	}

	requestID := newRequestID()
	reqCtx := c.register(ctx, requestID)
	defer c.unregister(requestID)
	callCtx, cancel := context.WithTimeout(reqCtx, config.RequestTimeout)
	defer cancel()

	if d := c.rateDelay(); d > 0 {
		slog.Debug("rate shaping dispatch", "request_id", requestID, "delay", d)
		if !sleepCtx(callCtx, d) {
			return "", 0, fmt.Errorf("send message: %w", callCtx.Err())
		}
	}

	payload, err := json.Marshal(c.buildPayload(message, model.ID, userID, requestID, opts))
	if err != nil {
		return "", 0, fmt.Errorf("marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := config.RetryBackoffBase << (attempt - 1)
			slog.Debug("retrying webhook request", "request_id", requestID, "attempt", attempt, "backoff", backoff)
			if !sleepCtx(callCtx, backoff) {
				break
			}
		}

		text, tokens, err := c.doAttempt(callCtx, model.WebhookURL, payload, requestID)
		if err == nil {
			c.decayRequestCount()
			return resolveResponse(message, text, c.placeholders), tokens, nil
		}
		lastErr = err
		slog.Warn("webhook attempt failed", "request_id", requestID, "attempt", attempt, "error", err)
		if !retryable(err) {
			break
		}
	}

	if lastErr == nil {
		lastErr = callCtx.Err()
	}
	return "", 0, fmt.Errorf("send message: %w", lastErr)
}

// retryable reports whether a failed attempt should be retried. Timeouts
// and cancellations are final; transport errors are not.
func retryable(err error) bool {
	if errors.Is(err, domain.ErrTimeout) || errors.Is(err, context.Canceled) {
		return false
	}
	var te *domain.TransportError
	return errors.As(err, &te)
}

func (c *TransportClient) doAttempt(ctx context.Context, url string, payload []byte, requestID string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", 0, domain.ErrTimeout
		}
		if errors.Is(err, context.Canceled) {
			return "", 0, context.Canceled
		}
		return "", 0, &domain.TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return "", 0, &domain.TransportError{Status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", 0, domain.ErrTimeout
		}
		return "", 0, &domain.TransportError{Err: err}
	}

	text, tokens := parseResponseBody(body, resp.Header.Get("Content-Type"))
	return text, tokens, nil
}

type webhookResponse struct {
	Response   string `json:"response"`
	TokensUsed int    `json:"tokens_used"`
}

// parseResponseBody accepts the three reply shapes webhooks produce: the
// JSON envelope, raw text, and the occasional HTML page reduced to its
// visible text.
func parseResponseBody(body []byte, contentType string) (string, int) {
	if strings.Contains(contentType, "text/html") {
		if text, err := extractHTMLText(bytes.NewReader(body)); err == nil {
			return text, 0
		}
		return string(body), 0
	}

	var wr webhookResponse
	if err := json.Unmarshal(body, &wr); err == nil {
		return wr.Response, wr.TokensUsed
	}
	return string(body), 0
}

func extractHTMLText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style").Remove()
	return strings.TrimSpace(doc.Find("body").Text()), nil
}

type historyEntry struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

type filePayload struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Size   int64  `json:"size"`
	Base64 string `json:"base64"`
}

type webhookRequest struct {
	Message             string         `json:"message"`
	Model               string         `json:"model"`
	Timestamp           string         `json:"timestamp"`
	ConversationID      *string        `json:"conversation_id"`
	IsNewConversation   bool           `json:"is_new_conversation"`
	UserID              string         `json:"user_id"`
	ConversationHistory []historyEntry `json:"conversation_history"`
	RequestID           string         `json:"request_id"`
	HasFiles            bool           `json:"has_files"`
	FileCount           int            `json:"file_count"`
	Files               []filePayload  `json:"files,omitempty"`
}

func (c *TransportClient) buildPayload(message, modelID, userID, requestID string, opts SendOptions) webhookRequest {
	files := encodeFiles(opts.Files)
	var convID *string
	if opts.ConversationID != "" {
		convID = &opts.ConversationID
	}
	return webhookRequest{
		Message:             message,
		Model:               modelID,
		Timestamp:           time.Now().UTC().Format(time.RFC3339Nano),
		ConversationID:      convID,
		IsNewConversation:   opts.IsNewConversation,
		UserID:              userID,
		ConversationHistory: formatHistory(opts.History),
		RequestID:           requestID,
		HasFiles:            len(files) > 0,
		FileCount:           len(files),
		Files:               files,
	}
}

// formatHistory bounds the payload to the most recent MaxHistoryMessages
// entries, excluding system and error-flagged messages, preserving order.
func formatHistory(history []domain.Message) []historyEntry {
	filtered := make([]domain.Message, 0, len(history))
	for _, m := range history {
		if m.Role == domain.RoleSystem || m.Error {
			continue
		}
		filtered = append(filtered, m)
	}
	if len(filtered) > config.MaxHistoryMessages {
		filtered = filtered[len(filtered)-config.MaxHistoryMessages:]
	}

	entries := make([]historyEntry, len(filtered))
	for i, m := range filtered {
		entries[i] = historyEntry{
			Role:      string(m.Role),
			Content:   m.Content,
			Timestamp: m.Timestamp.UTC().Format(time.RFC3339Nano),
		}
	}
	return entries
}

// encodeFiles converts attachments for transport. Oversized attachments are
// dropped and logged, never surfaced as a user-facing error.
func encodeFiles(files []domain.FileRef) []filePayload {
	if len(files) == 0 {
		return nil
	}
	encoded := make([]filePayload, 0, len(files))
	for _, f := range files {
		if f.Size > config.MaxFileSize {
			slog.Warn("attachment exceeds size limit, dropping",
				"name", f.Name, "size", f.Size, "limit", config.MaxFileSize)
			continue
		}
		encoded = append(encoded, filePayload{
			Name:   f.Name,
			Type:   f.Type,
			Size:   f.Size,
			Base64: base64.StdEncoding.EncodeToString(f.Data),
		})
	}
	if len(encoded) == 0 {
		return nil
	}
	return encoded
}

func newRequestID() string {
	return "req-" + uuid.NewString()
}

func randomTypingText(p placeholderSet) string {
	options := p.typing()
	return options[rand.Intn(len(options))]
}

// register binds a new request into the in-flight bookkeeping: the oldest
// pending request is evicted when a third would start, and the current
// request is cancelled and replaced.
func (c *TransportClient) register(parent context.Context, requestID string) context.Context {
	ctx, cancel := context.WithCancel(parent)

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pendingOrder) >= config.MaxPendingRequests {
		oldest := c.pendingOrder[0]
		if cf := c.pendingCancel[oldest]; cf != nil {
			cf()
		}
		delete(c.pendingCancel, oldest)
		c.pendingOrder = c.pendingOrder[1:]
		slog.Warn("too many pending requests, cancelled oldest", "request_id", oldest)
	}

	if c.current != nil {
		c.current()
	}
	c.current = cancel
	c.currentID = requestID
	c.pendingOrder = append(c.pendingOrder, requestID)
	c.pendingCancel[requestID] = cancel
	return ctx
}

func (c *TransportClient) unregister(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.pendingCancel, requestID)
	for i, id := range c.pendingOrder {
		if id == requestID {
			c.pendingOrder = append(c.pendingOrder[:i], c.pendingOrder[i+1:]...)
			break
		}
	}
	if c.currentID == requestID {
		c.current = nil
		c.currentID = ""
	}
}

// rateDelay bumps the request counter and returns the artificial delay to
// apply before dispatch when requests are arriving faster than the shaping
// window allows.
func (c *TransportClient) rateDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestCount++
	since := time.Since(c.lastRequestAt)

	var d time.Duration
	if c.requestCount > config.RateThreshold && since < config.RateWindow {
		d = config.RateWindow - since
		if d > config.MaxRateDelay {
			d = config.MaxRateDelay
		}
	}
	c.lastRequestAt = time.Now()
	return d
}

// decayRequestCount relaxes the shaping counter after successful requests.
func (c *TransportClient) decayRequestCount() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.requestCount > 10 {
		c.requestCount -= 5
	}
}
