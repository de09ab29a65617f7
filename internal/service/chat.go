package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/allais-space/chatkit/internal/config"
	"github.com/allais-space/chatkit/internal/domain"
)

// State is the orchestrator's lifecycle phase. New sends are rejected
// unless the state is idle.
type State int

const (
	StateIdle State = iota
	StateSending
	StateLoading
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateLoading:
		return "loading"
	default:
		return "unknown"
	}
}

type EventType int

const (
	EventStateChanged EventType = iota
	EventMessageAppended
	EventMessageUpdated
	EventHistoryReplaced
)

// Event is pushed to subscribers whenever the conversation changes.
// Message is a copy, valid for the message event types.
type Event struct {
	Type    EventType
	State   State
	Message domain.Message
}

// ConversationStore is the slice of persistence the orchestrator needs.
// *repository.Store implements it.
type ConversationStore interface {
	CreateConversation(ctx context.Context, userID, title string) (string, error)
	TouchConversation(ctx context.Context, conversationID string) error
	InsertMessage(ctx context.Context, conversationID string, msg domain.Message) error
	FetchConversation(ctx context.Context, conversationID, userID string) (*domain.Conversation, error)
	DeleteConversation(ctx context.Context, conversationID, userID string) error
	CountUserMessagesOn(ctx context.Context, userID string, day time.Time) (int, error)
}

// Transport is the outbound surface the orchestrator drives.
// *TransportClient implements it.
type Transport interface {
	StreamMessage(ctx context.Context, message, modelID, userID string, opts SendOptions, h StreamHandlers)
	CancelRequest()
	Model(id string) (domain.AIModel, error)
}

// ChatService is the single source of truth for the active conversation:
// its in-memory message list and the state machine governing send, retry,
// reset and load. The in-memory list is authoritative; the persisted copy
// is an eventually-consistent snapshot written by a background queue.
type ChatService struct {
	transport Transport
	store     ConversationStore
	queue     *persistQueue

	mu             sync.Mutex
	userID         string
	modelID        string
	state          State
	messages       []domain.Message
	conversationID string
	dailyCount     int
	cancelSend     context.CancelFunc
	pendingCreates map[string]*conversationCreate

	listenerMu     sync.Mutex
	listeners      map[int]func(Event)
	nextListenerID int

	persistObserver func(job string, err error)
}

type ChatOption func(*ChatService)

// WithPersistObserver registers a hook invoked after every background
// persistence job, with its error if it failed.
func WithPersistObserver(fn func(job string, err error)) ChatOption {
	return func(c *ChatService) { c.persistObserver = fn }
}

func NewChatService(ctx context.Context, transport Transport, store ConversationStore, userID, modelID string, opts ...ChatOption) *ChatService {
	c := &ChatService{
		transport:      transport,
		store:          store,
		userID:         userID,
		modelID:        modelID,
		pendingCreates: make(map[string]*conversationCreate),
		listeners:      make(map[int]func(Event)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.queue = newPersistQueue(config.PersistQueueSize, func(job string, err error) {
		if c.persistObserver != nil {
			c.persistObserver(job, err)
		}
	})
	c.refreshDailyCount(ctx)
	return c
}

// Close cancels any in-flight request and drains the persistence queue.
func (c *ChatService) Close() {
	c.ResetChat()
	c.queue.Close()
}

// Subscribe registers a listener for conversation events and returns its
// unsubscribe function.
func (c *ChatService) Subscribe(fn func(Event)) func() {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	id := c.nextListenerID
	c.nextListenerID++
	c.listeners[id] = fn
	return func() {
		c.listenerMu.Lock()
		defer c.listenerMu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *ChatService) notify(ev Event) {
	c.listenerMu.Lock()
	fns := make([]func(Event), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.listenerMu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (c *ChatService) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	c.notify(Event{Type: EventStateChanged, State: s})
}

// State returns the current lifecycle phase.
func (c *ChatService) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Messages returns a copy of the in-memory message list.
func (c *ChatService) Messages() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// ConversationID returns the bound conversation id, empty for a fresh chat.
func (c *ChatService) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// SelectedModel returns the model used for new sends.
func (c *ChatService) SelectedModel() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.modelID
}

// SetModel switches the model used for new sends.
func (c *ChatService) SetModel(modelID string) error {
	if _, err := c.transport.Model(modelID); err != nil {
		return err
	}
	c.mu.Lock()
	c.modelID = modelID
	c.mu.Unlock()
	return nil
}

// SetUser rebinds the service to another user: the active conversation is
// reset and the daily quota re-read from the store.
func (c *ChatService) SetUser(ctx context.Context, userID string) {
	c.ResetChat()
	c.mu.Lock()
	c.userID = userID
	c.mu.Unlock()
	c.refreshDailyCount(ctx)
}

// DailyMessageCount is the number of user messages sent today (UTC).
func (c *ChatService) DailyMessageCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dailyCount
}

// HasReachedDailyLimit reports whether the advisory daily ceiling is hit.
// Enforcement is up to the caller; SendMessage does not reject on it.
func (c *ChatService) HasReachedDailyLimit() bool {
	return c.DailyMessageCount() >= config.MaxDailyMessages
}

func (c *ChatService) refreshDailyCount(ctx context.Context) {
	c.mu.Lock()
	userID := resolveUserID(c.userID)
	c.mu.Unlock()

	count, err := c.store.CountUserMessagesOn(ctx, userID, time.Now().UTC())
	if err != nil {
		slog.Warn("load daily message count", "error", err)
		return
	}
	c.mu.Lock()
	c.dailyCount = count
	c.mu.Unlock()
}

// SendMessage appends a user message plus a streaming assistant placeholder,
// drives the transport client, and persists the completed exchange in the
// background. It blocks until the exchange resolves. A send attempted while
// another is unresolved returns ErrActiveRequest and changes nothing.
func (c *ChatService) SendMessage(ctx context.Context, content string, files []domain.FileRef) error {
	if strings.TrimSpace(content) == "" && len(files) == 0 {
		return domain.ErrEmptyMessage
	}

	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return domain.ErrActiveRequest
	}
	c.state = StateSending

	sendCtx, cancel := context.WithCancel(ctx)
	c.cancelSend = cancel

	history := make([]domain.Message, len(c.messages))
	copy(history, c.messages)

	now := time.Now().UTC()
	userMsg := domain.Message{
		ID:        domain.NewMessageID(),
		Content:   content,
		Role:      domain.RoleUser,
		Timestamp: now,
		Model:     c.modelID,
		Files:     files,
	}
	assistant := domain.Message{
		ID:          domain.NewMessageID(),
		Role:        domain.RoleAssistant,
		Timestamp:   now,
		Model:       c.modelID,
		IsStreaming: true,
	}
	c.messages = append(c.messages, userMsg, assistant)

	modelID := c.modelID
	userID := c.userID
	convID := c.conversationID
	c.mu.Unlock()

	c.notify(Event{Type: EventStateChanged, State: StateSending})
	c.notify(Event{Type: EventMessageAppended, State: StateSending, Message: userMsg})
	c.notify(Event{Type: EventMessageAppended, State: StateSending, Message: assistant})

	// The send always returns the machine to idle, whichever exit branch
	// is taken.
	defer func() {
		cancel()
		c.mu.Lock()
		c.cancelSend = nil
		c.mu.Unlock()
		c.setState(StateIdle)
	}()

	isNew := convID == ""
	if isNew {
		id, err := c.createConversation(sendCtx, userID, domain.TitleFromContent(content))
		if err != nil {
			// The in-memory conversation stays usable without a durable copy.
			slog.Error("create conversation", "error", err)
		} else {
			convID = id
			c.mu.Lock()
			c.conversationID = id
			c.mu.Unlock()
		}
	}

	opts := SendOptions{
		ConversationID:    convID,
		IsNewConversation: isNew,
		History:           history,
		Files:             files,
	}

	c.transport.StreamMessage(sendCtx, content, modelID, userID, opts, StreamHandlers{
		OnChunk: func(chunk string) {
			c.updateMessage(assistant.ID, func(m *domain.Message) {
				m.Content += chunk
			})
		},
		OnComplete: func(fullText string, tokens int) {
			c.updateMessage(assistant.ID, func(m *domain.Message) {
				m.Content = fullText
				m.IsStreaming = false
				m.Error = false
				m.TokensUsed = tokens
			})
			c.recordExchange(convID, userMsg, assistant, fullText, tokens)
			c.mu.Lock()
			c.dailyCount++
			c.mu.Unlock()
		},
		OnError: func(reason string) {
			c.updateMessage(assistant.ID, func(m *domain.Message) {
				m.Content = "Error: " + reason
				m.IsStreaming = false
				m.Error = true
			})
		},
	})
	return nil
}

// RetryFailedMessage truncates the list to just before the failed assistant
// message and re-sends the preceding user message. Unknown ids are a no-op.
func (c *ChatService) RetryFailedMessage(ctx context.Context, messageID string) error {
	c.mu.Lock()
	idx := -1
	for i := range c.messages {
		if c.messages[i].ID == messageID {
			idx = i
			break
		}
	}
	if idx <= 0 || c.messages[idx-1].Role != domain.RoleUser {
		c.mu.Unlock()
		return nil
	}
	prev := c.messages[idx-1]
	c.messages = c.messages[:idx]
	c.mu.Unlock()

	c.notify(Event{Type: EventHistoryReplaced, State: c.State()})
	return c.SendMessage(ctx, prev.Content, prev.Files)
}

// ResetChat cancels any in-flight request and clears the conversation.
func (c *ChatService) ResetChat() {
	c.transport.CancelRequest()

	c.mu.Lock()
	if c.cancelSend != nil {
		c.cancelSend()
		c.cancelSend = nil
	}
	c.messages = nil
	c.conversationID = ""
	c.state = StateIdle
	c.mu.Unlock()

	c.notify(Event{Type: EventHistoryReplaced, State: StateIdle})
	c.notify(Event{Type: EventStateChanged, State: StateIdle})
}

// LoadConversation replaces the active conversation with a persisted one.
// The fetch is retried with backoff; messages are re-sorted by timestamp
// then id so the order is stable even when the store returns rows with
// equal timestamps in arbitrary order.
func (c *ChatService) LoadConversation(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	if c.state == StateSending {
		c.mu.Unlock()
		return domain.ErrActiveRequest
	}
	c.state = StateLoading
	c.messages = nil
	c.conversationID = conversationID
	userID := resolveUserID(c.userID)
	c.mu.Unlock()

	c.notify(Event{Type: EventStateChanged, State: StateLoading})
	c.notify(Event{Type: EventHistoryReplaced, State: StateLoading})
	defer c.setState(StateIdle)

	var conv *domain.Conversation
	var err error
	for attempt := 0; attempt < config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := config.RetryBackoffBase << (attempt - 1)
			slog.Debug("retrying conversation fetch", "conversation_id", conversationID, "attempt", attempt, "backoff", backoff)
			if !sleepCtx(ctx, backoff) {
				return fmt.Errorf("load conversation: %w", ctx.Err())
			}
		}
		conv, err = c.store.FetchConversation(ctx, conversationID, userID)
		if err == nil || errors.Is(err, domain.ErrConversationNotFound) {
			break
		}
		slog.Warn("fetch conversation failed", "conversation_id", conversationID, "attempt", attempt, "error", err)
	}
	if err != nil {
		return fmt.Errorf("load conversation: %w", err)
	}

	msgs := conv.Messages
	domain.SortMessages(msgs)

	c.mu.Lock()
	c.messages = msgs
	c.mu.Unlock()
	c.notify(Event{Type: EventHistoryReplaced, State: StateLoading})
	return nil
}

// DeleteConversation removes the persisted conversation and its messages;
// deleting the active one also resets the chat.
func (c *ChatService) DeleteConversation(ctx context.Context, conversationID string) error {
	c.mu.Lock()
	userID := resolveUserID(c.userID)
	current := c.conversationID
	c.mu.Unlock()

	if err := c.store.DeleteConversation(ctx, conversationID, userID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if conversationID == current {
		c.ResetChat()
	}
	return nil
}

func (c *ChatService) updateMessage(id string, fn func(*domain.Message)) {
	c.mu.Lock()
	var updated domain.Message
	found := false
	for i := range c.messages {
		if c.messages[i].ID == id {
			fn(&c.messages[i])
			updated = c.messages[i]
			found = true
			break
		}
	}
	c.mu.Unlock()
	if found {
		c.notify(Event{Type: EventMessageUpdated, State: c.State(), Message: updated})
	}
}

// recordExchange queues the completed user/assistant pair for background
// persistence. The assistant timestamp is offset past the user's so strict
// user-then-assistant order survives coarse store timestamps.
func (c *ChatService) recordExchange(conversationID string, userMsg, assistant domain.Message, responseText string, tokens int) {
	if conversationID == "" {
		slog.Warn("skipping persistence, conversation was never created")
		return
	}

	persisted := assistant
	persisted.Content = responseText
	persisted.IsStreaming = false
	persisted.TokensUsed = tokens
	persisted.Timestamp = userMsg.Timestamp.Add(config.AssistantTimestampOffset)

	if model, err := c.transport.Model(assistant.Model); err == nil && tokens > 0 {
		cost := EstimateCost(tokens, model)
		slog.Info("exchange usage",
			"conversation_id", conversationID,
			"model", model.ID,
			"tokens_used", tokens,
			"estimated_cost", cost.String())
	}

	c.queue.Enqueue("save exchange", func(ctx context.Context) error {
		if err := c.store.TouchConversation(ctx, conversationID); err != nil {
			slog.Warn("touch conversation", "conversation_id", conversationID, "error", err)
		}
		if err := c.store.InsertMessage(ctx, conversationID, userMsg); err != nil {
			return fmt.Errorf("save user message: %w", err)
		}
		if err := c.store.InsertMessage(ctx, conversationID, persisted); err != nil {
			return fmt.Errorf("save assistant message: %w", err)
		}
		return nil
	})
}

type conversationCreate struct {
	done chan struct{}
	id   string
	err  error
}

// createConversation creates the persisted conversation record, deduplicated
// so concurrent calls for the same new conversation share one insert.
func (c *ChatService) createConversation(ctx context.Context, userID, title string) (string, error) {
	key := userID + ":" + title

	c.mu.Lock()
	if pc, ok := c.pendingCreates[key]; ok {
		c.mu.Unlock()
		select {
		case <-pc.done:
			return pc.id, pc.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	pc := &conversationCreate{done: make(chan struct{})}
	c.pendingCreates[key] = pc
	c.mu.Unlock()

	pc.id, pc.err = c.store.CreateConversation(ctx, resolveUserID(userID), title)
	close(pc.done)

	c.mu.Lock()
	delete(c.pendingCreates, key)
	c.mu.Unlock()
	return pc.id, pc.err
}

// resolveUserID substitutes the stable anonymous sentinel so unauthenticated
// usage still has a valid foreign key in the store.
func resolveUserID(userID string) string {
	if userID == "" || userID == "anonymous" {
		return config.AnonymousUserID
	}
	return userID
}
