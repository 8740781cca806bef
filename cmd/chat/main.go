// Command chat is a terminal client for one ticket's conversation. It wires
// the realtime sync layer directly against Postgres and Redis, which makes it
// useful for exercising the channel plumbing without a browser client.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-chat/internal/chat"
	"github.com/spec-kit/support-chat/internal/config"
	"github.com/spec-kit/support-chat/internal/domain"
	"github.com/spec-kit/support-chat/internal/events"
	"github.com/spec-kit/support-chat/internal/notify"
	"github.com/spec-kit/support-chat/internal/observability"
	"github.com/spec-kit/support-chat/internal/persistence"
	"github.com/spec-kit/support-chat/internal/repository"
	"github.com/spec-kit/support-chat/internal/service"
	"github.com/spec-kit/support-chat/internal/storage"
)

func main() {
	ticketID := flag.String("ticket", "", "ticket id to join")
	profileID := flag.String("profile", "", "profile id to chat as")
	flag.Parse()
	if *ticketID == "" || *profileID == "" {
		log.Fatal("usage: chat -ticket <id> -profile <id>")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()
	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	pool := pg.PoolHandle()
	profileRepo := repository.NewProfileRepository(pool)
	profile, err := profileRepo.GetByID(ctx, *profileID)
	if err != nil {
		logger.Fatal("unknown profile", zap.Error(err))
	}

	blobs, err := storage.NewDiskStore(cfg.Storage.Root)
	if err != nil {
		logger.Fatal("failed to init attachment storage", zap.Error(err))
	}
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:     repository.NewTicketRepository(pool),
		MessageRepo:    repository.NewMessageRepository(pool),
		AttachmentRepo: repository.NewAttachmentRepository(pool),
		ProfileRepo:    profileRepo,
		Blobs:          blobs,
		Signer:         storage.NewURLSigner(cfg.Storage.SignSecret, cfg.Storage.PublicBaseURL, cfg.Storage.SignedURLTTL()),
		Dispatcher:     events.NewInMemoryDispatcher(),
		Logger:         logger,
	})

	metrics := observability.NewMetrics()
	hub := notify.NewHub(redis.Client, pool, logger, metrics)
	hub.Start(ctx)
	defer hub.Close()

	kind := domain.AuthorKindUser
	if profile.Role == domain.RoleAdmin {
		kind = domain.AuthorKindAdmin
	}
	session, err := chat.Open(ctx, chat.SessionConfig{
		TicketID:    *ticketID,
		User:        chat.LocalUser{ID: profile.ID, Name: profile.DisplayName, Kind: kind},
		Persistence: ticketService,
		Notifier:    hub,
		Logger:      logger,
		OnState: func(state chat.ConnectionState) {
			fmt.Printf("-- channel %s\n", state)
		},
	})
	if err != nil {
		logger.Fatal("failed to open session", zap.Error(err))
	}
	defer session.Close()

	ticket := session.Ticket()
	fmt.Printf("== %s [%s] %s\n", ticket.Subject, ticket.Status, ticket.ID)
	go printLoop(ctx, session)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return
		}
		session.SetTyping(false)
		if _, err := session.Send(ctx, line, nil, nil); err != nil {
			fmt.Printf("!! send failed: %v\n", err)
		}
	}
}

// printLoop renders messages that arrived since the previous tick.
func printLoop(ctx context.Context, session *chat.Session) {
	seen := make(map[string]struct{})
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, msg := range session.Messages() {
			if _, ok := seen[msg.ID]; ok {
				continue
			}
			seen[msg.ID] = struct{}{}
			name := msg.AuthorName
			if name == "" {
				name = msg.AuthorID
			}
			fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Local().Format("15:04:05"), name, msg.Body)
		}
		if typing := session.Typing(); len(typing) > 0 {
			fmt.Printf("-- typing: %s\n", strings.Join(typing, ", "))
		}
	}
}
