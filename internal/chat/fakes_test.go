package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/spec-kit/support-chat/internal/domain"
)

// fakeNotifier is an in-memory stand-in for the pub/sub hub. Tests drive
// inbound events through emit* helpers and inspect outbound broadcasts.
type fakeNotifier struct {
	mu            sync.Mutex
	handlers      []*Handlers
	subscribeErrs int
	subscribes    int
	unsubscribes  int
	broadcasts    []fakeBroadcast
	broadcastErr  error
	// loopback redelivers local broadcasts to all subscribers, the way the
	// real channel echoes a publish back.
	loopback bool
	// stateOnUnsubscribe reports a disconnect to handlers as they detach,
	// modeling a receive loop that notices its own teardown before the
	// notifier can silence it.
	stateOnUnsubscribe bool
}

type fakeBroadcast struct {
	ticketID string
	event    string
	payload  []byte
}

func (n *fakeNotifier) Subscribe(ctx context.Context, ticketID string, h Handlers) (func(), error) {
	n.mu.Lock()
	n.subscribes++
	if n.subscribeErrs > 0 {
		n.subscribeErrs--
		n.mu.Unlock()
		return nil, fmt.Errorf("subscribe refused")
	}
	hp := &h
	n.handlers = append(n.handlers, hp)
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		n.unsubscribes++
		for i, cur := range n.handlers {
			if cur == hp {
				n.handlers = append(n.handlers[:i], n.handlers[i+1:]...)
				break
			}
		}
		noisy := n.stateOnUnsubscribe
		n.mu.Unlock()

		if noisy && hp.State != nil {
			hp.State(StateDisconnected)
		}
	}, nil
}

func (n *fakeNotifier) Broadcast(ctx context.Context, ticketID, event string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	n.mu.Lock()
	if n.broadcastErr != nil {
		err := n.broadcastErr
		n.mu.Unlock()
		return err
	}
	n.broadcasts = append(n.broadcasts, fakeBroadcast{ticketID: ticketID, event: event, payload: body})
	loop := n.loopback
	n.mu.Unlock()

	if loop {
		n.emitBroadcast(event, payload)
	}
	return nil
}

func (n *fakeNotifier) emitBroadcast(event string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	for _, h := range n.snapshot() {
		if h.Broadcast != nil {
			h.Broadcast(event, body)
		}
	}
}

func (n *fakeNotifier) emitChange(ch Change) {
	for _, h := range n.snapshot() {
		if h.Change != nil {
			h.Change(ch)
		}
	}
}

func (n *fakeNotifier) emitState(state ConnectionState) {
	for _, h := range n.snapshot() {
		if h.State != nil {
			h.State(state)
		}
	}
}

func (n *fakeNotifier) snapshot() []Handlers {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Handlers, 0, len(n.handlers))
	for _, h := range n.handlers {
		out = append(out, *h)
	}
	return out
}

func (n *fakeNotifier) sentEvents() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	events := make([]string, len(n.broadcasts))
	for i, b := range n.broadcasts {
		events[i] = b.event
	}
	return events
}

func (n *fakeNotifier) activeHandlers() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.handlers)
}

// fakePersistence implements the persistence contract in memory with
// injectable failures.
type fakePersistence struct {
	mu sync.Mutex

	ticket      *domain.Ticket
	messages    []domain.Message
	attachments []domain.Attachment
	names       map[string]string

	nextID int
	now    time.Time

	detailErr  error
	insertErr  error
	updateErr  error
	deleteErr  error
	attachErr  error
	fetchErr   error
	resolveErr error
	signErr    error

	deletedIDs  []string
	updatedIDs  []string
	fetchCalls  int
	detailCalls int
	fetchStamps []string
}

func newFakePersistence() *fakePersistence {
	return &fakePersistence{
		ticket: &domain.Ticket{
			ID:      "t1",
			Subject: "broken page",
			Status:  domain.TicketStatusOpen,
		},
		names: map[string]string{},
		now:   time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (p *fakePersistence) GetTicketDetail(ctx context.Context, ticketID string) (*domain.Ticket, []domain.Message, []domain.Attachment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detailCalls++
	if p.detailErr != nil {
		return nil, nil, nil, p.detailErr
	}
	return p.ticket, append([]domain.Message(nil), p.messages...), append([]domain.Attachment(nil), p.attachments...), nil
}

func (p *fakePersistence) InsertMessage(ctx context.Context, ticketID, authorID string, kind domain.AuthorKind, body string, replyToID *string) (*domain.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.insertErr != nil {
		return nil, p.insertErr
	}
	p.nextID++
	p.now = p.now.Add(time.Second)
	msg := domain.Message{
		ID:         fmt.Sprintf("srv-%d", p.nextID),
		TicketID:   ticketID,
		AuthorID:   authorID,
		AuthorKind: kind,
		Body:       body,
		ReplyToID:  replyToID,
		CreatedAt:  p.now,
	}
	p.messages = append(p.messages, msg)
	return &msg, nil
}

func (p *fakePersistence) UpdateMessage(ctx context.Context, messageID, newBody string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.updateErr != nil {
		return p.updateErr
	}
	p.updatedIDs = append(p.updatedIDs, messageID)
	for i := range p.messages {
		if p.messages[i].ID == messageID {
			p.messages[i].Body = newBody
		}
	}
	return nil
}

func (p *fakePersistence) DeleteMessage(ctx context.Context, messageID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deleteErr != nil {
		return p.deleteErr
	}
	p.deletedIDs = append(p.deletedIDs, messageID)
	for i := range p.messages {
		if p.messages[i].ID == messageID {
			p.messages = append(p.messages[:i], p.messages[i+1:]...)
			break
		}
	}
	return nil
}

func (p *fakePersistence) InsertAttachment(ctx context.Context, ticketID string, messageID *string, creatorID string, blob []byte, fileName, mimeType string) (*domain.Attachment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.attachErr != nil {
		return nil, p.attachErr
	}
	p.nextID++
	att := domain.Attachment{
		ID:         fmt.Sprintf("att-%d", p.nextID),
		TicketID:   ticketID,
		MessageID:  messageID,
		StorageRef: "refs/" + fileName,
		FileName:   fileName,
		MimeType:   mimeType,
		SizeBytes:  int64(len(blob)),
		CreatorID:  creatorID,
		CreatedAt:  p.now,
	}
	p.attachments = append(p.attachments, att)
	return &att, nil
}

func (p *fakePersistence) FetchSince(ctx context.Context, ticketID, afterStamp string) ([]domain.Message, []domain.Attachment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fetchCalls++
	p.fetchStamps = append(p.fetchStamps, afterStamp)
	if p.fetchErr != nil {
		return nil, nil, p.fetchErr
	}
	var msgs []domain.Message
	for _, m := range p.messages {
		if afterStamp == "" || domain.FormatStamp(m.CreatedAt) > afterStamp {
			msgs = append(msgs, m)
		}
	}
	var atts []domain.Attachment
	for _, a := range p.attachments {
		if afterStamp == "" || domain.FormatStamp(a.CreatedAt) > afterStamp {
			atts = append(atts, a)
		}
	}
	return msgs, atts, nil
}

func (p *fakePersistence) ResolveDisplayNames(ctx context.Context, ids []string) (map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resolveErr != nil {
		return nil, p.resolveErr
	}
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if name, ok := p.names[id]; ok {
			out[id] = name
		}
	}
	return out, nil
}

func (p *fakePersistence) SignedURL(storageRef string) (string, error) {
	if p.signErr != nil {
		return "", p.signErr
	}
	return "https://files.test/" + storageRef + "?sig=ok", nil
}

func (p *fakePersistence) deleted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.deletedIDs...)
}
