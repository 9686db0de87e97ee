package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/exemi-au/exemi/internal/agent"
	"github.com/exemi-au/exemi/internal/apperr"
	"github.com/exemi-au/exemi/internal/background"
	"github.com/exemi-au/exemi/internal/canvas"
	"github.com/exemi-au/exemi/internal/users"
)

// MaxPageSize caps List page length.
const MaxPageSize = 100

// summaryLength is the number of runes of the first message kept as the
// conversation summary.
const summaryLength = 80

// toolCallNotice is streamed and stored when the agent calls a tool.
const toolCallNotice = "I am calling the function: **%s**. Please wait...\n\n"

// UserLookup resolves usernames for admin listings.
type UserLookup interface {
	GetByUsername(ctx context.Context, username string) (*users.User, error)
}

// Options tune a Service.
type Options struct {
	// ToolResultNotice, when non-empty, is streamed before each tool
	// result.
	ToolResultNotice string
}

// Service runs the conversation state machine: a conversation is empty,
// awaiting a response (last message from the user) or settled (last
// message from the assistant). Callers must not request a turn for a
// settled conversation.
type Service struct {
	store     *Store
	users     UserLookup
	agents    agent.Factory
	scheduler background.Scheduler
	opts      Options
	logger    *slog.Logger
	now       func() time.Time
}

// NewService builds a Service.
func NewService(store *Store, lookup UserLookup, agents agent.Factory, sched background.Scheduler, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		users:     lookup,
		agents:    agents,
		scheduler: sched,
		opts:      opts,
		logger:    logger,
		now:       time.Now,
	}
}

// authorized loads a conversation and checks that u may act on it.
func (s *Service) authorized(ctx context.Context, id int64, u *users.User, verb string) (*Conversation, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !u.CanAccess(c.UserID) {
		return nil, apperr.Unauthorized("You are not authorised to %s another user's conversation", verb)
	}
	return c, nil
}

// withMessages loads c's messages into it.
func (s *Service) withMessages(ctx context.Context, c *Conversation) (*Conversation, error) {
	msgs, err := s.store.Messages(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	c.Messages = msgs
	return c, nil
}

func summarize(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= summaryLength {
		return text
	}
	r := []rune(text)
	return string(r[:summaryLength-1]) + "…"
}

func validateText(text string) error {
	if strings.TrimSpace(text) == "" {
		return apperr.Validation("message_text must not be empty")
	}
	return nil
}

// create makes a conversation owned by u holding one user message.
func (s *Service) create(ctx context.Context, u *users.User, text string) (*Conversation, error) {
	c := &Conversation{UserID: u.ID, Summary: summarize(text), CreatedAt: s.now().UTC()}
	if err := s.store.Create(ctx, c); err != nil {
		return nil, err
	}
	if err := s.store.AddMessage(ctx, &Message{ConversationID: c.ID, Role: RoleUser, Content: text, CreatedAt: s.now().UTC()}); err != nil {
		return nil, err
	}
	s.logger.Info("conversation started", "user", u.Username, "conversation_id", c.ID)
	return c, nil
}

// appendUser adds a user message to a conversation u may write to.
func (s *Service) appendUser(ctx context.Context, id int64, u *users.User, text string) error {
	if _, err := s.authorized(ctx, id, u, "add messages to"); err != nil {
		return err
	}
	return s.store.AddMessage(ctx, &Message{ConversationID: id, Role: RoleUser, Content: text, CreatedAt: s.now().UTC()})
}

// Start creates a conversation with text and generates the reply.
func (s *Service) Start(ctx context.Context, u *users.User, cred canvas.Credential, text string) (*Conversation, error) {
	if err := validateText(text); err != nil {
		return nil, err
	}
	c, err := s.create(ctx, u, text)
	if err != nil {
		return nil, err
	}
	return s.GenerateTurn(ctx, c.ID, u, cred)
}

// Continue appends text to a conversation and generates the reply.
func (s *Service) Continue(ctx context.Context, id int64, u *users.User, cred canvas.Credential, text string) (*Conversation, error) {
	if err := validateText(text); err != nil {
		return nil, err
	}
	if err := s.appendUser(ctx, id, u, text); err != nil {
		return nil, err
	}
	return s.GenerateTurn(ctx, id, u, cred)
}

// history checks access and returns the conversation and its messages,
// which must not be empty.
func (s *Service) history(ctx context.Context, id int64, u *users.User) (*Conversation, error) {
	c, err := s.authorized(ctx, id, u, "add messages to")
	if err != nil {
		return nil, err
	}
	if c, err = s.withMessages(ctx, c); err != nil {
		return nil, err
	}
	if len(c.Messages) == 0 {
		return nil, apperr.Validation("A conversation must have messages to call an LLM response!")
	}
	return c, nil
}

// GenerateTurn runs the agent over the conversation and stores exactly
// one assistant message.
func (s *Service) GenerateTurn(ctx context.Context, id int64, u *users.User, cred canvas.Credential) (*Conversation, error) {
	c, err := s.history(ctx, id, u)
	if err != nil {
		return nil, err
	}
	a, err := s.agents.Agent(ctx, u, cred)
	if err != nil {
		return nil, err
	}
	text, err := a.Invoke(ctx, toLLM(c.Messages))
	if err != nil {
		return nil, err
	}
	reply := Message{ConversationID: id, Role: RoleAssistant, Content: text, CreatedAt: s.now().UTC()}
	if err := s.store.AddMessage(ctx, &reply); err != nil {
		return nil, err
	}
	c.Messages = append(c.Messages, reply)
	return c, nil
}

// StartStream creates a conversation with text and streams the reply.
func (s *Service) StartStream(ctx context.Context, u *users.User, cred canvas.Credential, text string) (*Conversation, <-chan string, error) {
	if err := validateText(text); err != nil {
		return nil, nil, err
	}
	c, err := s.create(ctx, u, text)
	if err != nil {
		return nil, nil, err
	}
	ch, err := s.StreamTurn(ctx, c.ID, u, cred)
	if err != nil {
		return nil, nil, err
	}
	return c, ch, nil
}

// ContinueStream appends text to a conversation and streams the reply.
func (s *Service) ContinueStream(ctx context.Context, id int64, u *users.User, cred canvas.Credential, text string) (<-chan string, error) {
	if err := validateText(text); err != nil {
		return nil, err
	}
	if err := s.appendUser(ctx, id, u, text); err != nil {
		return nil, err
	}
	return s.StreamTurn(ctx, id, u, cred)
}

// StreamTurn runs the agent over the conversation and returns its output
// as text chunks. The reply is stored by a background task scheduled
// before the channel closes, so it is not visible to a read that races
// the end of the stream.
func (s *Service) StreamTurn(ctx context.Context, id int64, u *users.User, cred canvas.Credential) (<-chan string, error) {
	c, err := s.history(ctx, id, u)
	if err != nil {
		return nil, err
	}
	a, err := s.agents.Agent(ctx, u, cred)
	if err != nil {
		return nil, err
	}
	events, err := a.Stream(ctx, toLLM(c.Messages))
	if err != nil {
		return nil, err
	}

	out := make(chan string)
	go s.produce(ctx, id, events, out)
	return out, nil
}

// produce forwards agent events to out and schedules persistence of the
// turn when the events end, the agent fails or ctx is cancelled.
func (s *Service) produce(ctx context.Context, id int64, events <-chan agent.Event, out chan<- string) {
	var (
		acc     strings.Builder
		pending []Message
	)
	defer func() {
		s.finalize(ctx, id, pending, acc.String())
		close(out)
	}()

	send := func(chunk string) bool {
		select {
		case out <- chunk:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for ev := range events {
		if ev.Err != nil {
			s.logger.Error("agent stream failed", "conversation_id", id, "error", ev.Err)
			return
		}

		var ok bool
		switch {
		case ev.Kind == agent.KindToolCall:
			// Text sent alongside a tool call is streamed but not kept; the
			// stored reply is the text of the final model call only, as in
			// GenerateTurn.
			acc.Reset()
			notice := fmt.Sprintf(toolCallNotice, ev.ToolLabel)
			pending = append(pending, Message{Role: RoleAssistant, Content: notice})
			ok = send(notice)
		case ev.Stage == agent.StageTools && ev.Kind == agent.KindToolResult:
			pending = append(pending, Message{Role: RoleTool, Content: ev.Text})
			ok = send(s.opts.ToolResultNotice + ev.Text)
		case ev.Stage == agent.StageAgent && ev.Kind == agent.KindText && ev.Text != "":
			acc.WriteString(ev.Text)
			ok = send(ev.Text)
		default:
			continue
		}
		if !ok {
			s.logger.Warn("stream consumer went away", "conversation_id", id, "error", ctx.Err())
			return
		}
	}
}

// finalize schedules one task that stores the pseudo-messages in order,
// then the final assistant text.
func (s *Service) finalize(ctx context.Context, id int64, pending []Message, final string) {
	if final != "" {
		pending = append(pending, Message{Role: RoleAssistant, Content: final})
	}
	if len(pending) == 0 {
		return
	}
	now := s.now().UTC()
	for i := range pending {
		pending[i].CreatedAt = now
	}
	s.scheduler.Schedule(ctx, "persist conversation turn", func(taskCtx context.Context) error {
		if err := s.store.AddMessages(taskCtx, id, pending); err != nil {
			return fmt.Errorf("persist turn for conversation %d: %w", id, err)
		}
		return nil
	})
}

// EditMessage replaces the text of a user message and drops everything
// after it. A reply is generated only if something was dropped.
func (s *Service) EditMessage(ctx context.Context, msgID int64, u *users.User, cred canvas.Credential, text string) (*Conversation, error) {
	if err := validateText(text); err != nil {
		return nil, err
	}
	m, err := s.store.GetMessage(ctx, msgID)
	if err != nil {
		return nil, err
	}
	if m.Role != RoleUser {
		return nil, apperr.Validation("You may not edit LLM messages")
	}
	c, err := s.authorized(ctx, m.ConversationID, u, "edit messages from")
	if err != nil {
		return nil, err
	}

	if err := s.store.UpdateContent(ctx, msgID, text); err != nil {
		return nil, err
	}
	removed, err := s.store.DeleteAfter(ctx, c.ID, msgID)
	if err != nil {
		return nil, err
	}
	if removed > 0 {
		return s.GenerateTurn(ctx, c.ID, u, cred)
	}
	return s.withMessages(ctx, c)
}

// DeleteMessage removes one message. Later messages are kept and no
// reply is generated.
func (s *Service) DeleteMessage(ctx context.Context, msgID int64, u *users.User) (*Conversation, error) {
	m, err := s.store.GetMessage(ctx, msgID)
	if err != nil {
		return nil, err
	}
	c, err := s.authorized(ctx, m.ConversationID, u, "remove messages from")
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteMessage(ctx, msgID); err != nil {
		return nil, err
	}
	return s.withMessages(ctx, c)
}

// Get returns a conversation with its messages.
func (s *Service) Get(ctx context.Context, id int64, u *users.User) (*Conversation, error) {
	c, err := s.authorized(ctx, id, u, "view")
	if err != nil {
		return nil, err
	}
	return s.withMessages(ctx, c)
}

// Delete removes a conversation and its messages.
func (s *Service) Delete(ctx context.Context, id int64, u *users.User) error {
	c, err := s.authorized(ctx, id, u, "delete")
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, c.ID); err != nil {
		return err
	}
	s.logger.Info("conversation deleted", "user", u.Username, "conversation_id", c.ID)
	return nil
}

// List returns conversations of username, or of u when username is
// empty, newest first. Listing another user requires admin.
func (s *Service) List(ctx context.Context, u *users.User, username string, offset, limit int) ([]*Conversation, error) {
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	owner := u
	if username != "" && username != u.Username {
		if !u.Admin {
			return nil, apperr.Unauthorized("You are not authorised to view another user's conversations")
		}
		var err error
		if owner, err = s.users.GetByUsername(ctx, username); err != nil {
			return nil, err
		}
	}
	return s.store.ListByUser(ctx, owner.ID, offset, limit)
}
