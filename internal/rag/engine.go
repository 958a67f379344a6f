// Package rag asks questions against a hosted knowledge base and parses the answers.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"foodlabel-analyzer/internal/ai"
	"foodlabel-analyzer/internal/errs"
	"foodlabel-analyzer/internal/knowledge"
)

// State is the lifecycle of one question.
type State string

const (
	StateCreated   State = "CREATED"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
	StateTimedOut  State = "TIMED_OUT"
)

// Conversations is the thread and run surface of the hosted assistants API.
type Conversations interface {
	CreateThread(ctx context.Context, userMessage string) (string, error)
	CreateRun(ctx context.Context, threadID string, req ai.RunRequest) (*ai.Run, error)
	GetRun(ctx context.Context, threadID, runID string) (*ai.Run, error)
	ListRunMessages(ctx context.Context, threadID, runID string) ([]ai.ThreadMessage, error)
}

type PollConfig struct {
	MaxAttempts         int
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

func DefaultPollConfig() PollConfig {
	return PollConfig{
		MaxAttempts:         10,
		InitialInterval:     time.Second,
		MaxInterval:         8 * time.Second,
		Multiplier:          2,
		RandomizationFactor: 0.5,
	}
}

type Engine struct {
	conv          Conversations
	poll          PollConfig
	maxNumResults int
}

var errNotReady = errors.New("answer not ready")

const fileSearchContentInclude = "step_details.tool_calls[*].file_search.results[*].content"

func NewEngine(conv Conversations, poll PollConfig, maxNumResults int) *Engine {
	def := DefaultPollConfig()
	if poll.MaxAttempts <= 0 {
		poll.MaxAttempts = def.MaxAttempts
	}
	if poll.InitialInterval <= 0 {
		poll.InitialInterval = def.InitialInterval
	}
	if poll.MaxInterval <= 0 {
		poll.MaxInterval = def.MaxInterval
	}
	if poll.Multiplier < 1 {
		poll.Multiplier = def.Multiplier
	}
	if maxNumResults <= 0 {
		maxNumResults = 5
	}
	return &Engine{conv: conv, poll: poll, maxNumResults: maxNumResults}
}

// Ask puts one question to the knowledge base behind h and waits for the answer.
func (e *Engine) Ask(ctx context.Context, question string, h knowledge.Handle, shape Shape) (*Answer, error) {
	if h.AssistantID == "" {
		return nil, fmt.Errorf("%w: knowledge base handle has no assistant", errs.ErrInputValidation)
	}

	threadID, err := e.conv.CreateThread(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("create thread failed: %w", err)
	}
	run, err := e.conv.CreateRun(ctx, threadID, ai.RunRequest{
		AssistantID: h.AssistantID,
		Tools: []ai.Tool{{
			Type:       "file_search",
			FileSearch: &ai.FileSearchConfig{MaxNumResults: e.maxNumResults},
		}},
		Include: []string{fileSearchContentInclude},
	})
	if err != nil {
		return nil, fmt.Errorf("create run failed: %w", err)
	}
	log.Printf("rag: run %s on %s %s", run.ID, h.AssistantID, StateCreated)

	msg, state, err := e.await(ctx, threadID, run)
	log.Printf("rag: run %s %s", run.ID, state)
	if err != nil {
		return nil, err
	}

	text, err := messageText(msg)
	if err != nil {
		return nil, err
	}
	answer, err := parse(text, shape)
	if err != nil {
		return nil, err
	}
	answer.State = state
	return answer, nil
}

func (e *Engine) await(ctx context.Context, threadID string, run *ai.Run) (*ai.ThreadMessage, State, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = e.poll.InitialInterval
	exp.MaxInterval = e.poll.MaxInterval
	exp.Multiplier = e.poll.Multiplier
	exp.RandomizationFactor = e.poll.RandomizationFactor
	exp.MaxElapsedTime = 0

	var msg *ai.ThreadMessage
	status := run.Status
	first := true
	op := func() error {
		if !first {
			current, err := e.conv.GetRun(ctx, threadID, run.ID)
			if err != nil {
				return backoff.Permanent(fmt.Errorf("get run failed: %w", err))
			}
			status = current.Status
			if current.LastError != nil && isTerminalFailure(status) {
				return backoff.Permanent(fmt.Errorf("%w: run %s %s: %s", errs.ErrUpstreamService, run.ID, status, current.LastError.Message))
			}
		}
		first = false

		if isTerminalFailure(status) {
			return backoff.Permanent(fmt.Errorf("%w: run %s %s", errs.ErrUpstreamService, run.ID, status))
		}
		if status != ai.RunCompleted {
			return errNotReady
		}

		messages, err := e.conv.ListRunMessages(ctx, threadID, run.ID)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("list messages failed: %w", err))
		}
		if len(messages) == 0 {
			return errNotReady
		}
		msg = &messages[0]
		return nil
	}

	var policy backoff.BackOff = backoff.WithMaxRetries(exp, uint64(e.poll.MaxAttempts-1))
	err := backoff.Retry(op, backoff.WithContext(policy, ctx))
	switch {
	case err == nil:
		return msg, StateCompleted, nil
	case errors.Is(err, errNotReady):
		return nil, StateTimedOut, fmt.Errorf("%w: run %s still %s after %d attempts", errs.ErrPollingTimeout, run.ID, status, e.poll.MaxAttempts)
	case errors.Is(err, errs.ErrUpstreamService):
		return nil, StateFailed, err
	case ctx.Err() != nil:
		return nil, StateTimedOut, fmt.Errorf("%w: %w", errs.ErrPollingTimeout, err)
	default:
		return nil, StateFailed, err
	}
}

func isTerminalFailure(status string) bool {
	switch status {
	case ai.RunFailed, ai.RunCancelled, ai.RunCancelling, ai.RunExpired, ai.RunIncomplete, ai.RunRequiresAction:
		return true
	}
	return false
}

// messageText returns the first text part with inline citation markers removed.
func messageText(msg *ai.ThreadMessage) (string, error) {
	for _, part := range msg.Content {
		if part.Type != "text" || part.Text == nil {
			continue
		}
		return stripAnnotations(part.Text.Value, part.Text.Annotations), nil
	}
	return "", fmt.Errorf("%w: message %s has no text content", errs.ErrResponseFormat, msg.ID)
}
