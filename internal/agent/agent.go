// Package agent runs the model and its tools for one conversation turn.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/exemi-au/exemi/internal/apperr"
	"github.com/exemi-au/exemi/internal/canvas"
	"github.com/exemi-au/exemi/internal/llm"
	"github.com/exemi-au/exemi/internal/tools"
	"github.com/exemi-au/exemi/internal/usage"
	"github.com/exemi-au/exemi/internal/users"
)

// DefaultMaxIterations bounds model calls per turn.
const DefaultMaxIterations = 8

// Invoker runs a turn to completion.
type Invoker interface {
	// Invoke returns the final assistant text for history.
	Invoke(ctx context.Context, history []llm.Message) (string, error)
}

// Streamer runs a turn incrementally.
type Streamer interface {
	// Stream returns a finite channel of events. Failures are reported as
	// a final Event with Err set.
	Stream(ctx context.Context, history []llm.Message) (<-chan Event, error)
}

// Agent is both an Invoker and a Streamer.
type Agent interface {
	Invoker
	Streamer
}

// Factory builds the agent for a request.
type Factory interface {
	Agent(ctx context.Context, u *users.User, cred canvas.Credential) (Agent, error)
}

// ToolProvider supplies per-user tools and system prompts.
type ToolProvider interface {
	Registry(u *users.User, cred canvas.Credential) *tools.Registry
	SystemPrompt(ctx context.Context, u *users.User) (string, error)
}

// UsageRecorder stores the token counts of model calls.
type UsageRecorder interface {
	Record(ctx context.Context, rec usage.Record) error
}

// Config tunes agents built by a LoopFactory.
type Config struct {
	Model         string
	MaxIterations int
	// Usage, when set, receives one record per model call.
	Usage UsageRecorder
}

// LoopFactory builds Loops. It is created once and shared read-only.
type LoopFactory struct {
	llm      llm.Client
	provider ToolProvider
	cfg      Config
	logger   *slog.Logger
}

// NewFactory returns a LoopFactory.
func NewFactory(client llm.Client, provider ToolProvider, cfg Config, logger *slog.Logger) *LoopFactory {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	return &LoopFactory{llm: client, provider: provider, cfg: cfg, logger: logger}
}

// Agent builds an agent acting as u.
func (f *LoopFactory) Agent(ctx context.Context, u *users.User, cred canvas.Credential) (Agent, error) {
	system, err := f.provider.SystemPrompt(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("build system prompt: %w", err)
	}
	return &Loop{
		llm:           f.llm,
		model:         f.cfg.Model,
		system:        system,
		tools:         f.provider.Registry(u, cred),
		maxIterations: f.cfg.MaxIterations,
		usage:         f.cfg.Usage,
		userID:        u.ID,
		logger:        f.logger.With("user", u.Username),
	}, nil
}

// Loop is the tool-calling loop for one request.
type Loop struct {
	llm           llm.Client
	model         string
	system        string
	tools         *tools.Registry
	maxIterations int
	usage         UsageRecorder
	userID        int64
	logger        *slog.Logger
}

// Invoke runs the loop without streaming.
func (l *Loop) Invoke(ctx context.Context, history []llm.Message) (string, error) {
	text, err := l.run(ctx, history, nil)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", apperr.Internal("Error generating LLM response. Detail: the model returned no final message")
	}
	return text, nil
}

// Stream runs the loop in a goroutine, streaming model tokens and tool
// activity.
func (l *Loop) Stream(ctx context.Context, history []llm.Message) (<-chan Event, error) {
	out := make(chan Event, 16)
	go func() {
		defer close(out)
		emit := func(ev Event) {
			select {
			case out <- ev:
			case <-ctx.Done():
			}
		}
		if _, err := l.run(ctx, history, emit); err != nil {
			// The consumer may be gone; never block on the final event.
			select {
			case out <- Event{Stage: StageAgent, Err: err}:
			case <-ctx.Done():
			}
		}
	}()
	return out, nil
}

// run drives the model until it answers without tool calls. emit is nil
// in blocking mode.
func (l *Loop) run(ctx context.Context, history []llm.Message, emit func(Event)) (string, error) {
	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: l.system})
	messages = append(messages, history...)
	toolDefs := l.tools.List()

	start := time.Now()
	for i := 0; i < l.maxIterations; i++ {
		var (
			resp *llm.ChatResponse
			err  error
		)
		if emit != nil {
			resp, err = l.llm.ChatStream(ctx, l.model, messages, toolDefs, func(token string) {
				emit(Event{Stage: StageAgent, Kind: KindText, Text: token})
			})
		} else {
			resp, err = l.llm.Chat(ctx, l.model, messages, toolDefs)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", apperr.Wrap(apperr.KindInternal, err, "Error generating LLM response. Detail")
		}
		l.recordUsage(ctx, resp, emit != nil)

		if len(resp.Message.ToolCalls) == 0 {
			l.logger.Info("agent turn complete",
				"model", l.model,
				"iterations", i+1,
				"elapsed", time.Since(start).Round(time.Millisecond),
			)
			return resp.Message.Content, nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Message.Content,
			ToolCalls: resp.Message.ToolCalls,
		})
		for _, call := range resp.Message.ToolCalls {
			result, err := l.callTool(ctx, call, emit)
			if err != nil {
				return "", err
			}
			messages = append(messages, llm.Message{Role: llm.RoleTool, Content: result, ToolName: call.Function.Name})
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
	}

	return "", apperr.Internal("Error generating LLM response. Detail: no final answer after %d iterations", l.maxIterations)
}

// recordUsage stores resp's token counts. Failures are logged only.
func (l *Loop) recordUsage(ctx context.Context, resp *llm.ChatResponse, streamed bool) {
	if l.usage == nil {
		return
	}
	mode := usage.ModeBlocking
	if streamed {
		mode = usage.ModeStream
	}
	err := l.usage.Record(ctx, usage.Record{
		UserID:       l.userID,
		Model:        l.model,
		Mode:         mode,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	})
	if err != nil {
		l.logger.Warn("failed to record token usage", "error", err)
	}
}

// callTool executes one call. A call to a tool that was never offered or
// with arguments that do not fit the tool ends the turn with that error.
// Other failures are returned to the model as text so it can recover or
// explain.
func (l *Loop) callTool(ctx context.Context, call llm.ToolCall, emit func(Event)) (string, error) {
	name := call.Function.Name
	label := l.tools.Label(name)
	if emit != nil {
		emit(Event{Stage: StageAgent, Kind: KindToolCall, ToolName: name, ToolLabel: label})
	}

	start := time.Now()
	result, err := l.tools.Execute(ctx, name, call.Function.Arguments)
	if err != nil {
		var (
			unavailable *tools.ErrToolUnavailable
			invalid     *tools.ErrInvalidArguments
		)
		switch {
		case errors.As(err, &unavailable):
			l.logger.Warn("model called unavailable tool", "tool", name)
			return "", err
		case errors.As(err, &invalid):
			l.logger.Warn("model sent invalid tool arguments", "tool", name, "error", err)
			return "", err
		}
		l.logger.Warn("tool failed", "tool", name, "error", err)
		result = "Error: " + err.Error()
	} else {
		l.logger.Debug("tool executed", "tool", name, "elapsed", time.Since(start).Round(time.Millisecond))
	}

	if emit != nil {
		emit(Event{Stage: StageTools, Kind: KindToolResult, Text: result, ToolName: name, ToolLabel: label})
	}
	return result, nil
}
