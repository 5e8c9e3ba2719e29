// Package matrix is Ely's chat front-end on Matrix. It listens for
// "!ely" and "!elyall" commands, hands the prompt to the session
// orchestrator and posts the reply back to the room.
//
// E2EE is not implemented; the bot only sees unencrypted rooms.
package matrix

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/Ely/common/redact"
	"github.com/bdobrica/Ely/common/trace"
	"github.com/bdobrica/Ely/internal/ely/memory"
	"github.com/bdobrica/Ely/internal/ely/observability"
	"github.com/bdobrica/Ely/internal/ely/session"
)

// Handler answers one prompt. *session.Orchestrator implements it.
type Handler interface {
	Handle(ctx context.Context, req session.Request) (string, error)
}

// Config configures a Gateway.
type Config struct {
	Homeserver  string
	UserID      string
	AccessToken string
	// Rooms are joined at startup. When non-empty the bot answers only in
	// these rooms; otherwise it answers in every room it is a member of.
	Rooms []string
	// DB persists the sync token. Nil keeps it in memory, so old commands
	// replay after a restart.
	DB *sql.DB
	// Language selects the reply catalog ("en", "zh-cn").
	Language string
	// MaxConcurrent bounds prompts processed at once. Defaults to 8.
	MaxConcurrent int
	// RateLimit is the number of prompts one sender may submit per minute.
	// Zero disables the limit.
	RateLimit int
	// Secrets are scrubbed from error replies in addition to credential
	// patterns.
	Secrets []string
	Logger  *slog.Logger
}

// roomSender is the slice of the Matrix client the command path uses.
type roomSender interface {
	sendMessage(ctx context.Context, roomID id.RoomID, content *event.MessageEventContent) error
	setTyping(ctx context.Context, roomID id.RoomID, typing bool) error
}

type mautrixSender struct{ cli *mautrix.Client }

func (s mautrixSender) sendMessage(ctx context.Context, roomID id.RoomID, content *event.MessageEventContent) error {
	_, err := s.cli.SendMessageEvent(ctx, roomID, event.EventMessage, content)
	return err
}

func (s mautrixSender) setTyping(ctx context.Context, roomID id.RoomID, typing bool) error {
	_, err := s.cli.UserTyping(ctx, roomID, typing, typingTimeout)
	return err
}

const (
	typingTimeout = 30 * time.Second
	// Events older than this relative to startup are history, not commands.
	startupGrace = 30 * time.Second
	drainTimeout = 30 * time.Second
)

// Gateway routes Matrix messages to a Handler.
type Gateway struct {
	cli     *mautrix.Client
	sender  roomSender
	handler Handler
	userID  id.UserID
	rooms   map[id.RoomID]struct{}
	msgs    Messages
	secrets []string
	logger  *slog.Logger
	sem     chan struct{}
	limiter *senderLimiter

	startedAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc
	stopCh    chan struct{}
	stopOnce  sync.Once
	// mu orders wg.Add in onMessage against Stop; stopped is set under it.
	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

// New creates a Gateway. It does not contact the homeserver until Start.
func New(cfg Config, handler Handler) (*Gateway, error) {
	cli, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("matrix: create client: %w", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DB != nil {
		cli.Store = NewSyncStore(cfg.DB)
	} else {
		logger.Warn("matrix: no database for the sync token; history will replay on restart")
	}

	g := newGateway(cfg, handler, mautrixSender{cli: cli}, logger)
	g.cli = cli
	return g, nil
}

func newGateway(cfg Config, handler Handler, sender roomSender, logger *slog.Logger) *Gateway {
	msgs, ok := MessagesFor(cfg.Language)
	if !ok {
		logger.Warn("matrix: unknown language, using en", "language", cfg.Language)
	}
	n := cfg.MaxConcurrent
	if n <= 0 {
		n = 8
	}
	rooms := make(map[id.RoomID]struct{}, len(cfg.Rooms))
	for _, r := range cfg.Rooms {
		rooms[id.RoomID(r)] = struct{}{}
	}
	secrets := append([]string{cfg.AccessToken}, cfg.Secrets...)
	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		sender:    sender,
		handler:   handler,
		userID:    id.UserID(cfg.UserID),
		rooms:     rooms,
		msgs:      msgs,
		secrets:   secrets,
		logger:    logger,
		sem:       make(chan struct{}, n),
		limiter:   newSenderLimiter(cfg.RateLimit),
		startedAt: time.Now(),
		ctx:       ctx,
		cancel:    cancel,
		stopCh:    make(chan struct{}),
	}
}

// Start joins the configured rooms and runs the sync loop in the
// background, reconnecting with exponential backoff.
func (g *Gateway) Start(ctx context.Context) error {
	g.startedAt = time.Now()
	syncer, ok := g.cli.Syncer.(*mautrix.DefaultSyncer)
	if !ok {
		return errors.New("matrix: unexpected syncer type")
	}
	syncer.OnEventType(event.EventMessage, g.onMessage)

	for roomID := range g.rooms {
		if _, err := g.cli.JoinRoomByID(ctx, roomID); err != nil {
			if errors.Is(err, mautrix.MForbidden) {
				g.logger.Warn("matrix: cannot join room, continuing", "room", roomID, "err", err)
				continue
			}
			return fmt.Errorf("matrix: join %s: %w", roomID, err)
		}
		g.logger.Info("matrix: joined room", "room", roomID)
	}

	go g.syncLoop()
	if g.limiter != nil {
		go g.pruneLoop()
	}
	g.logger.Info("matrix: gateway started", "user", g.userID, "rooms", len(g.rooms))
	return nil
}

func (g *Gateway) syncLoop() {
	const (
		backoffMin = 2 * time.Second
		backoffMax = 5 * time.Minute
	)
	backoff := backoffMin
	for {
		started := time.Now()
		err := g.cli.Sync()
		select {
		case <-g.stopCh:
			return
		default:
		}
		if err == nil {
			return
		}
		if time.Since(started) > backoffMax {
			backoff = backoffMin
		}
		g.logger.Error("matrix: sync stopped, reconnecting", "err", redact.All(err.Error(), g.secrets...), "backoff", backoff)
		select {
		case <-g.stopCh:
			return
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, backoffMax)
	}
}

func (g *Gateway) pruneLoop() {
	ticker := time.NewTicker(limiterWindow)
	defer ticker.Stop()
	for {
		select {
		case <-g.stopCh:
			return
		case <-ticker.C:
			g.limiter.prune()
		}
	}
}

// track registers one in-flight prompt, or reports false once Stop has
// begun.
func (g *Gateway) track() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return false
	}
	g.wg.Add(1)
	return true
}

// Stop ends the sync loop and waits for in-flight prompts to finish, up
// to a bounded drain period, after which they are cancelled.
func (g *Gateway) Stop() {
	g.stopOnce.Do(func() {
		g.mu.Lock()
		g.stopped = true
		close(g.stopCh)
		g.mu.Unlock()
		if g.cli != nil {
			g.cli.StopSync()
		}
		done := make(chan struct{})
		go func() {
			g.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(drainTimeout):
			g.logger.Warn("matrix: in-flight prompts still running at shutdown, cancelling")
		}
		g.cancel()
	})
}

func (g *Gateway) roomAllowed(roomID id.RoomID) bool {
	if len(g.rooms) == 0 {
		return true
	}
	_, ok := g.rooms[roomID]
	return ok
}

// onMessage filters sync events and dispatches commands to their own
// goroutine so a slow provider does not stall the sync loop.
func (g *Gateway) onMessage(_ context.Context, evt *event.Event) {
	if evt.Sender == g.userID {
		return
	}
	if time.UnixMilli(evt.Timestamp).Before(g.startedAt.Add(-startupGrace)) {
		return
	}
	if !g.roomAllowed(evt.RoomID) {
		return
	}
	msg := evt.Content.AsMessage()
	if msg == nil || msg.MsgType != event.MsgText {
		return
	}
	cmd, ok := ParseCommand(msg.Body)
	if !ok {
		return
	}

	if !g.track() {
		return
	}
	go func() {
		defer g.wg.Done()
		select {
		case g.sem <- struct{}{}:
		case <-g.ctx.Done():
			return
		}
		defer func() { <-g.sem }()
		g.handleCommand(g.ctx, evt.RoomID, evt.ID, evt.Sender, cmd)
	}()
}

// handleCommand runs one command to completion and posts the outcome.
func (g *Gateway) handleCommand(ctx context.Context, roomID id.RoomID, eventID id.EventID, sender id.UserID, cmd Command) {
	ctx, _ = trace.Ensure(ctx)
	log := observability.WithTrace(ctx, g.logger).With("room", roomID, "sender", sender, "scope", cmd.Scope)

	if cmd.Prompt == "" {
		g.reply(ctx, log, roomID, eventID, event.MsgNotice, g.msgs.PromptMissing)
		return
	}
	if !g.limiter.allow(sender) {
		log.Warn("matrix: sender over rate limit, dropping prompt")
		g.reply(ctx, log, roomID, eventID, event.MsgNotice, g.msgs.RateLimited)
		return
	}

	convID := sender.String()
	if cmd.Scope == memory.ScopeServer {
		convID = roomID.String()
	}
	log.Info("matrix: command received", "id", convID, "prompt_len", len(cmd.Prompt))

	if err := g.sender.setTyping(ctx, roomID, true); err != nil {
		log.Warn("matrix: typing indicator failed", "err", err)
	}
	defer func() {
		if err := g.sender.setTyping(context.WithoutCancel(ctx), roomID, false); err != nil {
			log.Debug("matrix: clearing typing indicator failed", "err", err)
		}
	}()

	reply, err := g.handler.Handle(ctx, session.Request{Scope: cmd.Scope, ID: convID, Prompt: cmd.Prompt})
	if err != nil {
		safe := redact.All(err.Error(), g.secrets...)
		log.Error("matrix: command failed", "err", safe)
		g.reply(ctx, log, roomID, eventID, event.MsgText, capError(fmt.Sprintf(g.msgs.Hiccup, safe)))
		return
	}

	text, truncated := splitReply(reply)
	g.reply(ctx, log, roomID, eventID, event.MsgText, text)
	if truncated {
		g.reply(ctx, log, roomID, "", event.MsgNotice, g.msgs.Truncated)
	}
}

// reply posts body to roomID, threaded under inReplyTo when it is set.
func (g *Gateway) reply(ctx context.Context, log *slog.Logger, roomID id.RoomID, inReplyTo id.EventID, msgType event.MessageType, body string) {
	content := &event.MessageEventContent{MsgType: msgType, Body: body}
	if inReplyTo != "" {
		content.RelatesTo = &event.RelatesTo{InReplyTo: &event.InReplyTo{EventID: inReplyTo}}
	}
	if err := g.sender.sendMessage(context.WithoutCancel(ctx), roomID, content); err != nil {
		log.Error("matrix: send failed", "err", redact.All(err.Error(), g.secrets...))
	}
}
