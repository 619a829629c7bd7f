package client

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gigboard/marketplace/internal/conversation"
	"github.com/gigboard/marketplace/internal/models"
)

var (
	ErrNoActiveContact = errors.New("no conversation selected")
	ErrEmptyMessage    = errors.New("message needs text or at least one attachment")
)

// Scroll retry schedules. The first load of a conversation retries longer to
// absorb image and layout reflow.
var (
	FirstLoadScrollDelays   = []time.Duration{0, 100 * time.Millisecond, 300 * time.Millisecond, 600 * time.Millisecond, time.Second}
	SteadyStateScrollDelays = []time.Duration{0, 100 * time.Millisecond}
)

const (
	DefaultPollInterval      = 5 * time.Second
	DefaultHighlightDuration = 2 * time.Second
)

// Scroller is the view the controller drives
type Scroller interface {
	ScrollToBottom()
	// ScrollToMessage reports false when id is not rendered
	ScrollToMessage(id int64) bool
	SetHighlight(id int64, on bool)
}

// ReplyContext is the message being replied to
type ReplyContext struct {
	ID         int64
	Content    string
	SenderID   int64
	SenderName string
}

type ControllerOptions struct {
	Scroller          Scroller
	PollInterval      time.Duration
	HighlightDuration time.Duration
	AfterFunc         AfterFunc
}

// ConversationController coordinates the visible conversation of one user
type ConversationController struct {
	api   MessagingAPI
	cache *Cache
	self  int64
	opts  ControllerOptions

	mu        sync.Mutex
	active    int64
	messages  []*models.Message
	firstLoad bool
	lastID    int64
	reply     *ReplyContext
	// ids with a mark-read request in flight or already accepted
	reads map[int64]bool

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()

	scrollTimers []Timer
	highlighted  int64
	highlight    Timer
}

func NewConversationController(api MessagingAPI, cache *Cache, self int64, opts ControllerOptions) *ConversationController {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.HighlightDuration <= 0 {
		opts.HighlightDuration = DefaultHighlightDuration
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = realAfterFunc
	}

	c := &ConversationController{api: api, cache: cache, self: self, opts: opts, reads: make(map[int64]bool)}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	cache.Register(KeyMessages, func(ctx context.Context) (any, error) { return api.AllMessages(ctx) })
	cache.Register(KeyContacts, func(ctx context.Context) (any, error) { return api.Contacts(ctx) })
	cache.Register(KeyUnreadCount, func(ctx context.Context) (any, error) { return api.UnreadCount(ctx) })
	c.unsubscribe = cache.Subscribe(c.onRefetch)
	return c
}

// onRefetch keeps the open conversation in step with the cache, whoever
// triggered the refetch (push, poll or another caller).
func (c *ConversationController) onRefetch(key string, _ any) {
	contact := c.Active()
	if contact == 0 || key != ConversationKey(contact) || c.ctx.Err() != nil {
		return
	}
	if !c.apply(contact) {
		return
	}
	if err := c.MarkVisibleRead(c.ctx); err != nil && c.ctx.Err() == nil {
		log.Debug("Marking conversation %d read failed: %v", contact, err)
	}
}

// Active returns the selected contact, 0 when none
func (c *ConversationController) Active() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Messages returns a snapshot of the displayed conversation
func (c *ConversationController) Messages() []*models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*models.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Quote resolves the reply context rendered above msg
func (c *ConversationController) Quote(msg *models.Message) *models.QuotedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return conversation.ResolveReply(c.messages, msg)
}

// Contacts returns the cached contact list
func (c *ConversationController) Contacts(ctx context.Context) ([]models.ContactSummary, error) {
	v, err := c.cache.Get(ctx, KeyContacts)
	if err != nil {
		return nil, err
	}
	contacts, _ := v.([]models.ContactSummary)
	return contacts, nil
}

// UnreadCount returns the cached unread badge
func (c *ConversationController) UnreadCount(ctx context.Context) (int, error) {
	v, err := c.cache.Get(ctx, KeyUnreadCount)
	if err != nil {
		return 0, err
	}
	n, _ := v.(int)
	return n, nil
}

// Select switches the active conversation and loads it
func (c *ConversationController) Select(ctx context.Context, contactID int64) error {
	c.mu.Lock()
	c.active = contactID
	c.messages = nil
	c.firstLoad = true
	c.lastID = 0
	c.reply = nil
	c.reads = make(map[int64]bool)
	c.cancelScrollLocked()
	c.mu.Unlock()

	c.cache.Register(ConversationKey(contactID), func(ctx context.Context) (any, error) {
		return c.api.Conversation(ctx, contactID)
	})
	return c.Refresh(ctx)
}

// Refresh refetches the active conversation and the contact list, then marks
// newly visible messages read
func (c *ConversationController) Refresh(ctx context.Context) error {
	contact := c.Active()
	if contact == 0 {
		return c.cache.Invalidate(ctx, KeyContacts, KeyUnreadCount)
	}

	key := ConversationKey(contact)
	if err := c.cache.Invalidate(ctx, key, KeyContacts); err != nil {
		return err
	}
	if !c.apply(contact) {
		return nil
	}
	return c.MarkVisibleRead(ctx)
}

// apply copies the cached conversation of contact into the view. It returns
// false when the user has moved on to another contact.
func (c *ConversationController) apply(contact int64) bool {
	v, ok := c.cache.Peek(ConversationKey(contact))
	if !ok {
		return false
	}
	msgs, _ := v.([]*models.Message)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != contact {
		log.Debug("Discarding conversation %d, %d is active", contact, c.active)
		return false
	}

	c.messages = msgs
	var newest int64
	if n := len(msgs); n > 0 {
		newest = msgs[n-1].ID
	}
	switch {
	case c.firstLoad:
		c.firstLoad = false
		c.scheduleScrollLocked(FirstLoadScrollDelays)
	case newest != c.lastID:
		c.scheduleScrollLocked(SteadyStateScrollDelays)
	}
	c.lastID = newest
	return true
}

func (c *ConversationController) scheduleScrollLocked(delays []time.Duration) {
	c.cancelScrollLocked()
	if c.opts.Scroller == nil {
		return
	}
	for _, d := range delays {
		c.scrollTimers = append(c.scrollTimers, c.opts.AfterFunc(d, c.opts.Scroller.ScrollToBottom))
	}
}

func (c *ConversationController) cancelScrollLocked() {
	for _, t := range c.scrollTimers {
		t.Stop()
	}
	c.scrollTimers = nil
}

// Reply sets the reply context for the next Send
func (c *ConversationController) Reply(msg *models.Message, senderName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reply = &ReplyContext{ID: msg.ID, Content: msg.Content, SenderID: msg.SenderID, SenderName: senderName}
}

func (c *ConversationController) CancelReply() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reply = nil
}

// ReplyContext returns the pending reply, nil when there is none
func (c *ConversationController) ReplyContext() *ReplyContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reply == nil {
		return nil
	}
	r := *c.reply
	return &r
}

// Send uploads files, creates the message and waits until the message list
// and the conversation have been refetched before scrolling. A failed upload
// aborts before anything is created. The reply context survives a failure so
// the user can retry.
func (c *ConversationController) Send(ctx context.Context, text string, files []File) (*models.Message, error) {
	c.mu.Lock()
	contact := c.active
	reply := c.reply
	c.mu.Unlock()

	if contact == 0 {
		return nil, ErrNoActiveContact
	}
	if strings.TrimSpace(text) == "" && len(files) == 0 {
		return nil, ErrEmptyMessage
	}

	req := &models.SendMessageRequest{ReceiverID: contact, Content: text}
	if len(files) > 0 {
		stored, err := c.api.Upload(ctx, files)
		if err != nil {
			return nil, err
		}
		req.Attachments = stored
	}
	if reply != nil {
		id := reply.ID
		req.ReplyToID = &id
	}

	msg, err := c.api.SendMessage(ctx, req)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.reply == reply {
		c.reply = nil
	}
	c.mu.Unlock()

	if err := c.cache.Invalidate(ctx, KeyMessages, ConversationKey(contact)); err != nil {
		// the message exists, the next poll picks it up
		log.Debug("Refetch after send failed: %v", err)
		return msg, nil
	}
	if c.apply(contact) {
		c.mu.Lock()
		c.scheduleScrollLocked(SteadyStateScrollDelays)
		c.mu.Unlock()
	}
	return msg, nil
}

// MarkVisibleRead marks every displayed message addressed to self as read, in
// parallel. Messages already being marked are skipped. Partial failure is
// fine, the rest is retried on the next refresh.
func (c *ConversationController) MarkVisibleRead(ctx context.Context) error {
	c.mu.Lock()
	unread := conversation.UnreadFor(c.self, c.messages)
	visible := make(map[int64]bool, len(unread))
	var ids []int64
	for _, id := range unread {
		visible[id] = true
		if !c.reads[id] {
			c.reads[id] = true
			ids = append(ids, id)
		}
	}
	for id := range c.reads {
		if !visible[id] {
			delete(c.reads, id)
		}
	}
	c.mu.Unlock()
	if len(ids) == 0 {
		return nil
	}

	var (
		g      errgroup.Group
		marked atomic.Int32
	)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			if err := c.api.MarkRead(ctx, id); err != nil {
				c.mu.Lock()
				delete(c.reads, id)
				c.mu.Unlock()
				return err
			}
			marked.Add(1)
			return nil
		})
	}
	err := g.Wait()

	if marked.Load() > 0 {
		if ierr := c.cache.Invalidate(ctx, KeyUnreadCount, KeyContacts); ierr != nil && err == nil {
			err = ierr
		}
	}
	return err
}

// JumpToQuoted scrolls to the original of a quoted reply and highlights it for
// HighlightDuration. It returns false when the original is not displayed.
func (c *ConversationController) JumpToQuoted(id int64) bool {
	scroller := c.opts.Scroller
	if scroller == nil || !scroller.ScrollToMessage(id) {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.highlight != nil {
		c.highlight.Stop()
		if c.highlighted != id {
			scroller.SetHighlight(c.highlighted, false)
		}
	}
	c.highlighted = id
	scroller.SetHighlight(id, true)
	c.highlight = c.opts.AfterFunc(c.opts.HighlightDuration, func() {
		c.mu.Lock()
		if c.highlighted == id {
			c.highlighted = 0
			c.highlight = nil
		}
		c.mu.Unlock()
		scroller.SetHighlight(id, false)
	})
	return true
}

// StartPolling refreshes on a fixed interval until ctx is done. Polling keeps
// the view correct when the push channel is down. Errors are only logged.
func (c *ConversationController) StartPolling(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.opts.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
					log.Debug("Poll refresh failed: %v", err)
				}
			}
		}
	}()
}

// Close stops following the cache and cancels pending scrolls and highlight
// timers
func (c *ConversationController) Close() {
	c.unsubscribe()
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelScrollLocked()
	if c.highlight != nil {
		c.highlight.Stop()
		c.highlight = nil
	}
}
