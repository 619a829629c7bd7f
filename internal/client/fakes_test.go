package client

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/gigboard/marketplace/internal/models"
	"github.com/gigboard/marketplace/internal/push"
)

type fakeTimer struct {
	clock   *fakeClock
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// fakeClock records scheduled callbacks and runs them only when told to
type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) pending() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

func (c *fakeClock) delays() []time.Duration {
	var out []time.Duration
	for _, t := range c.pending() {
		out = append(out, t.d)
	}
	return out
}

func (c *fakeClock) take() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			t.fired = true
			out = append(out, t)
		}
	}
	return out
}

// fireAll runs every pending callback in schedule order
func (c *fakeClock) fireAll() int {
	pending := c.take()
	for _, t := range pending {
		t.f()
	}
	return len(pending)
}

// fireAsync runs pending callbacks on their own goroutines like time.AfterFunc
func (c *fakeClock) fireAsync() {
	for _, t := range c.take() {
		go t.f()
	}
}

type fakeConn struct {
	in      chan push.Frame
	written chan push.Frame
	closed  chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:      make(chan push.Frame, 16),
		written: make(chan push.Frame, 16),
		closed:  make(chan struct{}),
	}
}

func (c *fakeConn) ReadJSON(v any) error {
	select {
	case f, ok := <-c.in:
		if !ok {
			return io.EOF
		}
		*v.(*push.Frame) = f
		return nil
	case <-c.closed:
		return errors.New("use of closed connection")
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	select {
	case <-c.closed:
		return errors.New("use of closed connection")
	default:
	}
	c.written <- v.(push.Frame)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// fakeDialer hands out queued connections, failing when the queue is empty
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	dials int
}

func (d *fakeDialer) queue(c *fakeConn) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns = append(d.conns, c)
}

func (d *fakeDialer) Dial(context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if len(d.conns) == 0 {
		return nil, errors.New("connection refused")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// fakeAPI is an in-memory messaging backend for controller tests
type fakeAPI struct {
	mu       sync.Mutex
	self     int64
	nextID   int64
	messages []*models.Message
	now      time.Time

	sent       []*models.SendMessageRequest
	marked     []int64
	failMark   map[int64]bool
	uploadErr  error
	calls      map[string]int
	convHold   map[int64]chan struct{}
	uploadSeen [][]File
	order      []string
}

func newFakeAPI(self int64) *fakeAPI {
	return &fakeAPI{
		self:     self,
		now:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		failMark: make(map[int64]bool),
		calls:    make(map[string]int),
		convHold: make(map[int64]chan struct{}),
	}
}

// add stores a message as if another client sent it
func (a *fakeAPI) add(from, to int64, content string, replyTo *int64, atts ...models.Attachment) *models.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	a.now = a.now.Add(time.Second)
	m := &models.Message{ID: a.nextID, SenderID: from, ReceiverID: to, Content: content, ReplyToID: replyTo, CreatedAt: a.now, Attachments: append([]models.Attachment{}, atts...)}
	a.messages = append(a.messages, m)
	return m
}

func (a *fakeAPI) callCount(name string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls[name]
}

func (a *fakeAPI) SendMessage(_ context.Context, req *models.SendMessageRequest) (*models.Message, error) {
	a.mu.Lock()
	a.calls["send"]++
	a.order = append(a.order, "send")
	a.sent = append(a.sent, req)
	a.mu.Unlock()
	m := a.add(a.self, req.ReceiverID, req.Content, req.ReplyToID, req.Attachments...)
	cp := *m
	return &cp, nil
}

func (a *fakeAPI) Conversation(ctx context.Context, contactID int64) ([]*models.Message, error) {
	a.mu.Lock()
	a.calls["conversation"]++
	a.order = append(a.order, "conversation")
	hold := a.convHold[contactID]
	a.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	var out []*models.Message
	for _, m := range a.messages {
		if m.Involves(a.self, contactID) {
			cp := *m
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (a *fakeAPI) AllMessages(context.Context) ([]*models.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls["all"]++
	a.order = append(a.order, "all")
	out := make([]*models.Message, 0, len(a.messages))
	for _, m := range a.messages {
		cp := *m
		out = append(out, &cp)
	}
	return out, nil
}

func (a *fakeAPI) Contacts(context.Context) ([]models.ContactSummary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls["contacts"]++
	return nil, nil
}

func (a *fakeAPI) UnreadCount(context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls["unread"]++
	n := 0
	for _, m := range a.messages {
		if m.ReceiverID == a.self && !m.Read {
			n++
		}
	}
	return n, nil
}

func (a *fakeAPI) MarkRead(_ context.Context, id int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls["mark"]++
	if a.failMark[id] {
		return &APIError{Status: 500, Message: "boom"}
	}
	for _, m := range a.messages {
		if m.ID == id {
			m.Read = true
		}
	}
	a.marked = append(a.marked, id)
	return nil
}

func (a *fakeAPI) Upload(_ context.Context, files []File) ([]models.Attachment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls["upload"]++
	a.order = append(a.order, "upload")
	a.uploadSeen = append(a.uploadSeen, files)
	if a.uploadErr != nil {
		return nil, a.uploadErr
	}
	out := make([]models.Attachment, 0, len(files))
	for _, f := range files {
		out = append(out, models.Attachment{URL: "/uploads/" + f.Name, Type: models.AttachmentFile, Name: f.Name})
	}
	return out, nil
}

type recordingScroller struct {
	mu          sync.Mutex
	bottom      int
	rendered    map[int64]bool
	highlighted map[int64]bool
}

func newRecordingScroller() *recordingScroller {
	return &recordingScroller{rendered: make(map[int64]bool), highlighted: make(map[int64]bool)}
}

func (s *recordingScroller) ScrollToBottom() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bottom++
}

func (s *recordingScroller) ScrollToMessage(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rendered[id]
}

func (s *recordingScroller) SetHighlight(id int64, on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if on {
		s.highlighted[id] = true
	} else {
		delete(s.highlighted, id)
	}
}

func (s *recordingScroller) isHighlighted(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highlighted[id]
}

func (a *fakeAPI) callOrder() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.order...)
}

func (a *fakeAPI) markedIDs() []int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int64(nil), a.marked...)
}

func (a *fakeAPI) hold(contactID int64) chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	ch := make(chan struct{})
	a.convHold[contactID] = ch
	return ch
}
