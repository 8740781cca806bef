package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/support-chat/internal/domain"
	"github.com/spec-kit/support-chat/internal/events"
	"github.com/spec-kit/support-chat/internal/repository"
	"github.com/spec-kit/support-chat/internal/storage"
	apperrors "github.com/spec-kit/support-chat/pkg/util"
)

// In-memory repository fakes.

type memTicketRepo struct {
	mu      sync.Mutex
	tickets map[string]*domain.Ticket
	nextID  int
}

func newMemTicketRepo() *memTicketRepo {
	return &memTicketRepo{tickets: map[string]*domain.Ticket{}}
}

func (r *memTicketRepo) Create(ctx context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	ticket.ID = fmt.Sprintf("ticket-%d", r.nextID)
	ticket.CreatedAt = time.Now()
	ticket.UpdatedAt = ticket.CreatedAt
	cp := *ticket
	r.tickets[ticket.ID] = &cp
	return nil
}

func (r *memTicketRepo) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket, ok := r.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *ticket
	return &cp, nil
}

func (r *memTicketRepo) ListWithFilter(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Ticket
	for _, ticket := range r.tickets {
		if filter.CreatorID != nil && ticket.CreatorID != *filter.CreatorID {
			continue
		}
		if filter.Status != nil && ticket.Status != *filter.Status {
			continue
		}
		out = append(out, *ticket)
	}
	return out, nil
}

func (r *memTicketRepo) UpdateStatus(ctx context.Context, id string, status domain.TicketStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket, ok := r.tickets[id]
	if !ok {
		return pgx.ErrNoRows
	}
	ticket.Status = status
	return nil
}

func (r *memTicketRepo) TouchLastMessage(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ticket, ok := r.tickets[id]; ok {
		ticket.LastMessageAt = &at
	}
	return nil
}

type memMessageRepo struct {
	mu       sync.Mutex
	messages []domain.Message
	nextID   int
	now      time.Time
}

func newMemMessageRepo() *memMessageRepo {
	return &memMessageRepo{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (r *memMessageRepo) Create(ctx context.Context, msg *domain.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.now = r.now.Add(time.Second)
	msg.ID = fmt.Sprintf("msg-%d", r.nextID)
	msg.CreatedAt = r.now
	r.messages = append(r.messages, *msg)
	return nil
}

func (r *memMessageRepo) GetByID(ctx context.Context, id string) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.messages {
		if m.ID == id {
			cp := m
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memMessageRepo) UpdateBody(ctx context.Context, id, body string, editedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.messages {
		if r.messages[i].ID == id {
			r.messages[i].Body = body
			r.messages[i].EditedAt = &editedAt
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (r *memMessageRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.messages {
		if r.messages[i].ID == id {
			r.messages = append(r.messages[:i], r.messages[i+1:]...)
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (r *memMessageRepo) ListByTicket(ctx context.Context, ticketID string) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Message
	for _, m := range r.messages {
		if m.TicketID == ticketID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memMessageRepo) ListSince(ctx context.Context, ticketID string, after time.Time) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Message
	for _, m := range r.messages {
		if m.TicketID == ticketID && m.CreatedAt.After(after) {
			out = append(out, m)
		}
	}
	return out, nil
}

type memAttachmentRepo struct {
	mu          sync.Mutex
	attachments []domain.Attachment
	nextID      int
	createErr   error
}

func (r *memAttachmentRepo) Create(ctx context.Context, attachment *domain.Attachment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.nextID++
	attachment.ID = fmt.Sprintf("att-%d", r.nextID)
	attachment.CreatedAt = time.Now()
	r.attachments = append(r.attachments, *attachment)
	return nil
}

func (r *memAttachmentRepo) GetByID(ctx context.Context, id string) (*domain.Attachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.attachments {
		if a.ID == id {
			cp := a
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memAttachmentRepo) ListByTicket(ctx context.Context, ticketID string) ([]domain.Attachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Attachment
	for _, a := range r.attachments {
		if a.TicketID == ticketID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memAttachmentRepo) ListSince(ctx context.Context, ticketID string, after time.Time) ([]domain.Attachment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Attachment
	for _, a := range r.attachments {
		if a.TicketID == ticketID && a.CreatedAt.After(after) {
			out = append(out, a)
		}
	}
	return out, nil
}

type memProfileRepo struct {
	mu       sync.Mutex
	profiles map[string]*domain.Profile
}

func newMemProfileRepo() *memProfileRepo {
	return &memProfileRepo{profiles: map[string]*domain.Profile{}}
}

func (r *memProfileRepo) Create(ctx context.Context, profile *domain.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if profile.ID == "" {
		profile.ID = fmt.Sprintf("profile-%d", len(r.profiles)+1)
	}
	cp := *profile
	r.profiles[profile.ID] = &cp
	return nil
}

func (r *memProfileRepo) GetByID(ctx context.Context, id string) (*domain.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	profile, ok := r.profiles[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *profile
	return &cp, nil
}

func (r *memProfileRepo) GetByEmail(ctx context.Context, email string) (*domain.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, profile := range r.profiles {
		if profile.Email == email {
			cp := *profile
			return &cp, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memProfileRepo) ResolveNames(ctx context.Context, ids []string) (map[string]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if profile, ok := r.profiles[id]; ok {
			out[id] = profile.DisplayName
		}
	}
	return out, nil
}

// memBlobStore tracks puts and deletes; Put can be forced to fail.
type memBlobStore struct {
	mu      sync.Mutex
	blobs   map[string][]byte
	deletes []string
}

func newMemBlobStore() *memBlobStore {
	return &memBlobStore{blobs: map[string][]byte{}}
}

func (b *memBlobStore) Put(ctx context.Context, ticketID, fileName string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ref := ticketID + "/" + fileName
	b.blobs[ref] = data
	return ref, nil
}

func (b *memBlobStore) Get(ctx context.Context, ref string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[ref]
	if !ok {
		return nil, errors.New("blob not found")
	}
	return data, nil
}

func (b *memBlobStore) Delete(ctx context.Context, ref string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.blobs, ref)
	b.deletes = append(b.deletes, ref)
	return nil
}

type serviceFixture struct {
	service     *TicketService
	tickets     *memTicketRepo
	messages    *memMessageRepo
	attachments *memAttachmentRepo
	profiles    *memProfileRepo
	blobs       *memBlobStore
	published   *[]events.Event
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	tickets := newMemTicketRepo()
	messages := newMemMessageRepo()
	attachments := &memAttachmentRepo{}
	profiles := newMemProfileRepo()
	blobs := newMemBlobStore()

	var published []events.Event
	dispatcher := events.NewInMemoryDispatcher()
	for _, eventType := range []events.EventType{
		events.EventTicketCreated, events.EventTicketStatusChanged,
		events.EventMessageAdded, events.EventMessageEdited,
		events.EventMessageDeleted, events.EventAttachmentAdded,
	} {
		dispatcher.Subscribe(eventType, func(ctx context.Context, event events.Event) error {
			published = append(published, event)
			return nil
		})
	}

	svc := NewTicketService(TicketDependencies{
		TicketRepo:     tickets,
		MessageRepo:    messages,
		AttachmentRepo: attachments,
		ProfileRepo:    profiles,
		Blobs:          blobs,
		Signer:         storage.NewURLSigner("test-secret", "http://files.test/attachments", time.Hour),
		Dispatcher:     dispatcher,
	})
	return &serviceFixture{
		service:     svc,
		tickets:     tickets,
		messages:    messages,
		attachments: attachments,
		profiles:    profiles,
		blobs:       blobs,
		published:   &published,
	}
}

func adminProfile() *domain.Profile {
	return &domain.Profile{ID: "admin-1", DisplayName: "Ada Admin", Role: domain.RoleAdmin}
}

func userProfile(id string) *domain.Profile {
	return &domain.Profile{ID: id, DisplayName: "User " + id, Role: domain.RoleUser}
}

func (f *serviceFixture) createTicket(t *testing.T) *domain.Ticket {
	t.Helper()
	ticket, err := f.service.CreateTicket(context.Background(), "u1", domain.CategoryTechnicalError, "page broken", domain.TicketContext{})
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	return ticket
}

func TestCreateTicketValidation(t *testing.T) {
	f := newServiceFixture(t)

	_, err := f.service.CreateTicket(context.Background(), "u1", "bogus", "subject", domain.TicketContext{})
	if !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Errorf("unknown category: err = %v, want %s", err, apperrors.CodeValidation)
	}
	_, err = f.service.CreateTicket(context.Background(), "u1", domain.CategoryTechnicalError, "  ", domain.TicketContext{})
	if !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Errorf("blank subject: err = %v, want %s", err, apperrors.CodeValidation)
	}
	_, err = f.service.CreateTicket(context.Background(), "", domain.CategoryTechnicalError, "subject", domain.TicketContext{})
	if !apperrors.HasCode(err, apperrors.CodeAuth) {
		t.Errorf("missing creator: err = %v, want %s", err, apperrors.CodeAuth)
	}
}

func TestCreateTicketDefaultsToOpen(t *testing.T) {
	f := newServiceFixture(t)
	ticket := f.createTicket(t)
	if ticket.Status != domain.TicketStatusOpen {
		t.Errorf("Status = %q, want %q", ticket.Status, domain.TicketStatusOpen)
	}
	if len(*f.published) != 1 || (*f.published)[0].Type != events.EventTicketCreated {
		t.Errorf("published = %v, want one ticket_created", *f.published)
	}
}

func TestInsertMessageValidatesReplyTarget(t *testing.T) {
	f := newServiceFixture(t)
	ticketA := f.createTicket(t)
	ticketB := f.createTicket(t)

	inA, err := f.service.InsertMessage(context.Background(), ticketA.ID, "u1", domain.AuthorKindUser, "first", nil)
	if err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}

	// Reply target in a different ticket is rejected.
	_, err = f.service.InsertMessage(context.Background(), ticketB.ID, "u1", domain.AuthorKindUser, "cross", &inA.ID)
	if !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Errorf("cross-ticket reply: err = %v, want %s", err, apperrors.CodeValidation)
	}

	// Reply within the ticket is fine.
	if _, err := f.service.InsertMessage(context.Background(), ticketA.ID, "u1", domain.AuthorKindUser, "reply", &inA.ID); err != nil {
		t.Errorf("same-ticket reply: %v", err)
	}
}

func TestInsertMessageTouchesLastMessageStamp(t *testing.T) {
	f := newServiceFixture(t)
	ticket := f.createTicket(t)

	if _, err := f.service.InsertMessage(context.Background(), ticket.ID, "u1", domain.AuthorKindUser, "hello", nil); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	got, err := f.tickets.GetByID(context.Background(), ticket.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.LastMessageAt == nil {
		t.Error("LastMessageAt not updated")
	}
}

func TestSetStatusRequiresAdmin(t *testing.T) {
	f := newServiceFixture(t)
	ticket := f.createTicket(t)

	_, err := f.service.SetStatus(context.Background(), userProfile("u1"), ticket.ID, domain.TicketStatusTesting)
	if !apperrors.HasCode(err, apperrors.CodeForbidden) {
		t.Errorf("err = %v, want %s", err, apperrors.CodeForbidden)
	}
	_, err = f.service.SetStatus(context.Background(), nil, ticket.ID, domain.TicketStatusTesting)
	if !apperrors.HasCode(err, apperrors.CodeAuth) {
		t.Errorf("nil actor: err = %v, want %s", err, apperrors.CodeAuth)
	}
}

func TestSetStatusTestingAppendsVerificationRequest(t *testing.T) {
	f := newServiceFixture(t)
	ticket := f.createTicket(t)

	updated, err := f.service.SetStatus(context.Background(), adminProfile(), ticket.ID, domain.TicketStatusTesting)
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if updated.Status != domain.TicketStatusTesting {
		t.Errorf("Status = %q, want %q", updated.Status, domain.TicketStatusTesting)
	}

	msgs, _ := f.messages.ListByTicket(context.Background(), ticket.ID)
	if len(msgs) != 1 {
		t.Fatalf("messages = %d, want exactly 1 automated message", len(msgs))
	}
	if msgs[0].AuthorKind != domain.AuthorKindSystem || msgs[0].AuthorID != domain.SystemAuthorID {
		t.Errorf("automated message author = %s/%s", msgs[0].AuthorKind, msgs[0].AuthorID)
	}
	if msgs[0].Body != VerificationRequestBody {
		t.Errorf("Body = %q, want %q", msgs[0].Body, VerificationRequestBody)
	}
}

func TestSetStatusTestingIsOneShot(t *testing.T) {
	f := newServiceFixture(t)
	ticket := f.createTicket(t)
	admin := adminProfile()

	if _, err := f.service.SetStatus(context.Background(), admin, ticket.ID, domain.TicketStatusTesting); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	// Setting the same status again must not re-fire the side effect.
	if _, err := f.service.SetStatus(context.Background(), admin, ticket.ID, domain.TicketStatusTesting); err != nil {
		t.Fatalf("SetStatus repeat: %v", err)
	}
	msgs, _ := f.messages.ListByTicket(context.Background(), ticket.ID)
	if len(msgs) != 1 {
		t.Errorf("messages = %d, want 1 (no duplicate verification request)", len(msgs))
	}

	// Leaving and re-entering testing fires it again.
	if _, err := f.service.SetStatus(context.Background(), admin, ticket.ID, domain.TicketStatusInProgress); err != nil {
		t.Fatalf("SetStatus in-progress: %v", err)
	}
	if _, err := f.service.SetStatus(context.Background(), admin, ticket.ID, domain.TicketStatusTesting); err != nil {
		t.Fatalf("SetStatus testing again: %v", err)
	}
	msgs, _ = f.messages.ListByTicket(context.Background(), ticket.ID)
	if len(msgs) != 2 {
		t.Errorf("messages = %d, want 2 after re-entering testing", len(msgs))
	}
}

func TestInsertAttachmentValidatesBeforeWrite(t *testing.T) {
	f := newServiceFixture(t)
	ticket := f.createTicket(t)

	big := make([]byte, domain.MaxAttachmentBytes+1)
	_, err := f.service.InsertAttachment(context.Background(), ticket.ID, nil, "u1", big, "big.png", "image/png")
	if !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Fatalf("oversized blob: err = %v, want %s", err, apperrors.CodeValidation)
	}
	_, err = f.service.InsertAttachment(context.Background(), ticket.ID, nil, "u1", []byte("data"), "doc.pdf", "application/pdf")
	if !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Fatalf("bad mime: err = %v, want %s", err, apperrors.CodeValidation)
	}
	if len(f.blobs.blobs) != 0 {
		t.Error("rejected upload reached blob storage")
	}
}

func TestInsertAttachmentCleansUpBlobOnRowFailure(t *testing.T) {
	f := newServiceFixture(t)
	ticket := f.createTicket(t)
	f.attachments.createErr = errors.New("insert failed")

	_, err := f.service.InsertAttachment(context.Background(), ticket.ID, nil, "u1", []byte("png"), "shot.png", "image/png")
	if !apperrors.HasCode(err, apperrors.CodePersistence) {
		t.Fatalf("err = %v, want %s", err, apperrors.CodePersistence)
	}
	f.blobs.mu.Lock()
	defer f.blobs.mu.Unlock()
	if len(f.blobs.deletes) != 1 {
		t.Errorf("blob deletes = %v, want the orphaned blob removed", f.blobs.deletes)
	}
}

func TestFetchSinceFiltersByStamp(t *testing.T) {
	f := newServiceFixture(t)
	ticket := f.createTicket(t)

	first, err := f.service.InsertMessage(context.Background(), ticket.ID, "u1", domain.AuthorKindUser, "first", nil)
	if err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}
	second, err := f.service.InsertMessage(context.Background(), ticket.ID, "u1", domain.AuthorKindUser, "second", nil)
	if err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}

	msgs, _, err := f.service.FetchSince(context.Background(), ticket.ID, domain.FormatStamp(first.CreatedAt))
	if err != nil {
		t.Fatalf("FetchSince: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != second.ID {
		t.Errorf("FetchSince = %v, want just the second message", msgs)
	}

	all, _, err := f.service.FetchSince(context.Background(), ticket.ID, "")
	if err != nil {
		t.Fatalf("FetchSince empty stamp: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("FetchSince(\"\") = %d messages, want 2", len(all))
	}

	if _, _, err := f.service.FetchSince(context.Background(), ticket.ID, "garbage"); !apperrors.HasCode(err, apperrors.CodeValidation) {
		t.Errorf("bad stamp: err = %v, want %s", err, apperrors.CodeValidation)
	}
}

func TestResolveDisplayNamesIncludesSystem(t *testing.T) {
	f := newServiceFixture(t)
	_ = f.profiles.Create(context.Background(), &domain.Profile{ID: "u1", DisplayName: "Alice", Email: "a@test"})

	names, err := f.service.ResolveDisplayNames(context.Background(), []string{"u1", domain.SystemAuthorID})
	if err != nil {
		t.Fatalf("ResolveDisplayNames: %v", err)
	}
	if names["u1"] != "Alice" {
		t.Errorf("names[u1] = %q, want Alice", names["u1"])
	}
	if names[domain.SystemAuthorID] != domain.SystemAuthorName {
		t.Errorf("names[system] = %q, want %q", names[domain.SystemAuthorID], domain.SystemAuthorName)
	}
}

func TestMessageAuthorization(t *testing.T) {
	f := newServiceFixture(t)
	ticket := f.createTicket(t)
	msg, err := f.service.InsertMessage(context.Background(), ticket.ID, "u1", domain.AuthorKindUser, "mine", nil)
	if err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}

	if err := f.service.UpdateMessageAs(context.Background(), userProfile("u2"), msg.ID, "hijacked"); !apperrors.HasCode(err, apperrors.CodeForbidden) {
		t.Errorf("other user edit: err = %v, want %s", err, apperrors.CodeForbidden)
	}
	if err := f.service.UpdateMessageAs(context.Background(), userProfile("u1"), msg.ID, "fixed"); err != nil {
		t.Errorf("author edit: %v", err)
	}
	if err := f.service.DeleteMessageAs(context.Background(), adminProfile(), msg.ID); err != nil {
		t.Errorf("admin delete: %v", err)
	}
}

func TestDeleteMissingMessageIsNotFound(t *testing.T) {
	f := newServiceFixture(t)
	err := f.service.DeleteMessage(context.Background(), "ghost")
	if !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Errorf("err = %v, want %s", err, apperrors.CodeNotFound)
	}
}
