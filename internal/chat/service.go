// Package chat orchestrates one request-response cycle against the inference
// daemon: persist the user's message, assemble a bounded-context prompt from
// recent history, call the daemon and persist the reply.
package chat

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/qmuntal/stateless"

	"github.com/lalmba/akinyi-chat/internal/logger"
	"github.com/lalmba/akinyi-chat/internal/prompt"
	"github.com/lalmba/akinyi-chat/internal/store"
)

// historyWindow is the number of recent turns included as prompt context.
const historyWindow = 10

// FSM states for one chat turn. The user's turn is never rolled back once
// persisted; only the assistant-side write depends on reaching Completed.
var (
	stateReceived       = stateless.State("Received")
	statePersistedUser  = stateless.State("PersistedUser")
	statePrompting      = stateless.State("Prompting")
	stateAwaitingDaemon = stateless.State("AwaitingDaemon")
	stateCompleted      = stateless.State("Completed")
	stateDaemonFailed   = stateless.State("DaemonFailed")
)

// FSM triggers.
var (
	triggerUserPersisted       = stateless.Trigger("UserPersisted")
	triggerPromptRequested     = stateless.Trigger("PromptRequested")
	triggerDaemonCalled        = stateless.Trigger("DaemonCalled")
	triggerGenerationSucceeded = stateless.Trigger("GenerationSucceeded")
	triggerGenerationFailed    = stateless.Trigger("GenerationFailed")
)

// Generator is the minimal daemon client surface used by the service; it is
// easy to mock in tests.
type Generator interface {
	Generate(ctx context.Context, prompt, model string) (string, error)
	DefaultModel() string
}

// HistoryStore is the persistence surface the service depends on.
type HistoryStore interface {
	AppendTurn(ctx context.Context, userID int64, sender, message string) (store.Turn, error)
	RecentTurns(ctx context.Context, userID int64, limit int) ([]store.Turn, error)
}

// Request is one inbound chat message.
type Request struct {
	Message string `json:"message"`
	Model   string `json:"model,omitempty"`
}

// Reply is the outcome of a completed chat turn.
type Reply struct {
	Text          string
	Model         string
	UserTurn      store.Turn
	AssistantTurn store.Turn
}

// Service coordinates history, prompt building and the daemon client.
type Service struct {
	store HistoryStore
	gen   Generator
}

// New creates a chat service.
func New(st HistoryStore, gen Generator) *Service {
	return &Service{store: st, gen: gen}
}

type turnContext struct {
	message       string
	model         string
	prompt        string
	replyText     string
	userTurn      store.Turn
	assistantTurn store.Turn
	err           error
}

// Handle runs one chat turn for the given user. Blank messages are rejected
// before any I/O. On daemon failure the user's message stays persisted and a
// *DaemonError with a remediation hint is returned.
func (s *Service) Handle(ctx context.Context, user store.User, req Request) (*Reply, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = s.gen.DefaultModel()
	}

	tc := &turnContext{message: message, model: model}
	fsm := stateless.NewStateMachine(stateReceived)

	fsm.Configure(stateReceived).
		Permit(triggerUserPersisted, statePersistedUser)

	// Persist the user's message first so it survives a daemon failure.
	fsm.Configure(statePersistedUser).
		OnEntry(func(ctx context.Context, _ ...any) error {
			turn, err := s.store.AppendTurn(ctx, user.ID, store.SenderUser, tc.message)
			if err != nil {
				tc.err = fmt.Errorf("persist user turn: %w", err)
				return nil
			}
			tc.userTurn = turn
			return fsm.FireCtx(ctx, triggerPromptRequested)
		}).
		Permit(triggerPromptRequested, statePrompting)

	// The freshly persisted message plus recent history provide the context.
	fsm.Configure(statePrompting).
		OnEntry(func(ctx context.Context, _ ...any) error {
			recent, err := s.store.RecentTurns(ctx, user.ID, historyWindow)
			if err != nil {
				tc.err = fmt.Errorf("load history: %w", err)
				return nil
			}
			slices.Reverse(recent) // oldest first for the transcript
			tc.prompt = prompt.Build(recent, tc.message, user.Username)
			return fsm.FireCtx(ctx, triggerDaemonCalled)
		}).
		Permit(triggerDaemonCalled, stateAwaitingDaemon)

	fsm.Configure(stateAwaitingDaemon).
		OnEntry(func(ctx context.Context, _ ...any) error {
			text, err := s.gen.Generate(ctx, tc.prompt, tc.model)
			if err != nil {
				tc.err = err
				return fsm.FireCtx(ctx, triggerGenerationFailed)
			}
			tc.replyText = text
			return fsm.FireCtx(ctx, triggerGenerationSucceeded)
		}).
		Permit(triggerGenerationSucceeded, stateCompleted).
		Permit(triggerGenerationFailed, stateDaemonFailed)

	fsm.Configure(stateCompleted).
		OnEntry(func(ctx context.Context, _ ...any) error {
			turn, err := s.store.AppendTurn(ctx, user.ID, store.SenderAssistant, tc.replyText)
			if err != nil {
				tc.err = fmt.Errorf("persist assistant turn: %w", err)
				return nil
			}
			tc.assistantTurn = turn
			return nil
		})

	if err := fsm.FireCtx(ctx, triggerUserPersisted); err != nil {
		return nil, err
	}

	if state, _ := fsm.State(ctx); state == stateDaemonFailed {
		logger.L.Error("generation failed", "user_id", user.ID, "model", tc.model, "error", tc.err)
		return nil, &DaemonError{
			Model: tc.model,
			Suggestion: fmt.Sprintf(
				"Open a terminal and run `ollama run %s` to restart the local model, then refresh this page.",
				tc.model),
			Err: tc.err,
		}
	}
	if tc.err != nil {
		return nil, tc.err
	}

	return &Reply{
		Text:          tc.replyText,
		Model:         tc.model,
		UserTurn:      tc.userTurn,
		AssistantTurn: tc.assistantTurn,
	}, nil
}
