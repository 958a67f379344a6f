package rag

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodlabel-analyzer/internal/ai"
	"foodlabel-analyzer/internal/errs"
	"foodlabel-analyzer/internal/knowledge"
)

type fakeConversations struct {
	mu        sync.Mutex
	statuses  []string
	messages  []ai.ThreadMessage
	emptyList int
	runReq    ai.RunRequest
	question  string
	getRuns   int
}

func (f *fakeConversations) CreateThread(_ context.Context, msg string) (string, error) {
	f.question = msg
	return "thread_1", nil
}

func (f *fakeConversations) CreateRun(_ context.Context, threadID string, req ai.RunRequest) (*ai.Run, error) {
	f.runReq = req
	return &ai.Run{ID: "run_1", ThreadID: threadID, Status: f.next()}, nil
}

func (f *fakeConversations) GetRun(_ context.Context, threadID, runID string) (*ai.Run, error) {
	f.mu.Lock()
	f.getRuns++
	f.mu.Unlock()
	return &ai.Run{ID: runID, ThreadID: threadID, Status: f.next()}, nil
}

func (f *fakeConversations) ListRunMessages(context.Context, string, string) ([]ai.ThreadMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emptyList > 0 {
		f.emptyList--
		return nil, nil
	}
	return f.messages, nil
}

func (f *fakeConversations) next() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return ai.RunCompleted
	}
	s := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return s
}

func textMessage(value string, annotations ...ai.Annotation) []ai.ThreadMessage {
	return []ai.ThreadMessage{{
		ID:   "msg_1",
		Role: "assistant",
		Content: []ai.MessageContent{{
			Type: "text",
			Text: &ai.MessageText{Value: value, Annotations: annotations},
		}},
	}}
}

func fastPoll(attempts int) PollConfig {
	return PollConfig{
		MaxAttempts:     attempts,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
	}
}

var handle = knowledge.Handle{AssistantID: "asst_1"}

func TestAskIngredientStructured(t *testing.T) {
	conv := &fakeConversations{
		statuses: []string{ai.RunQueued, ai.RunInProgress, ai.RunCompleted},
		messages: textMessage("```json\n{\"Sugar\": {\"analysis\": \"Raises blood glucose.【4:0†source】\", \"found_in_document\": true}}\n```",
			ai.Annotation{Type: "file_citation", Text: "【4:0†source】"}),
	}
	e := NewEngine(conv, fastPoll(10), 5)

	a, err := e.Ask(context.Background(), "Is Sugar safe?", handle, ShapeIngredientJSON)
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, a.State)
	require.Len(t, a.Items, 1)
	assert.Equal(t, Item{Name: "Sugar", Explanation: "Raises blood glucose.", FoundInCorpus: true}, a.Items[0])
	assert.False(t, a.NotFoundInCorpus())
	assert.Equal(t, "Sugar: Raises blood glucose.\n", a.Render())

	assert.Equal(t, "Is Sugar safe?", conv.question)
	assert.Equal(t, "asst_1", conv.runReq.AssistantID)
	assert.Equal(t, 5, conv.runReq.Tools[0].FileSearch.MaxNumResults)
	assert.Equal(t, []string{fileSearchContentInclude}, conv.runReq.Include)
	assert.Equal(t, 2, conv.getRuns)
}

func TestAskIngredientLegacyMarker(t *testing.T) {
	conv := &fakeConversations{
		messages: textMessage(`{"Palm Oil": "(NOT FOUND IN DOCUMENT) Generally high in saturated fat."}`),
	}
	a, err := NewEngine(conv, fastPoll(3), 5).Ask(context.Background(), "q", handle, ShapeIngredientJSON)
	require.NoError(t, err)

	require.Len(t, a.Items, 1)
	assert.False(t, a.Items[0].FoundInCorpus)
	assert.Equal(t, "Generally high in saturated fat.", a.Items[0].Explanation)
	assert.True(t, a.NotFoundInCorpus())
}

func TestAskKeepsKeyOrder(t *testing.T) {
	conv := &fakeConversations{
		messages: textMessage(`{"Zinc": "ok", "Acid": {"analysis": "fine", "found_in_document": false}, "Malt": "ok"}`),
	}
	a, err := NewEngine(conv, fastPoll(3), 5).Ask(context.Background(), "q", handle, ShapeIngredientJSON)
	require.NoError(t, err)

	assert.Equal(t, "Zinc: ok\nAcid: fine\nMalt: ok\n", a.Render())
	assert.False(t, a.Items[1].FoundInCorpus)
}

func TestAskMalformedJSON(t *testing.T) {
	conv := &fakeConversations{messages: textMessage("Sugar is bad for you")}
	_, err := NewEngine(conv, fastPoll(3), 5).Ask(context.Background(), "q", handle, ShapeIngredientJSON)
	assert.ErrorIs(t, err, errs.ErrResponseFormat)
}

func TestAskRunFailed(t *testing.T) {
	conv := &fakeConversations{statuses: []string{ai.RunInProgress, ai.RunFailed}}
	_, err := NewEngine(conv, fastPoll(10), 5).Ask(context.Background(), "q", handle, ShapeIngredientJSON)
	assert.ErrorIs(t, err, errs.ErrUpstreamService)
	assert.Equal(t, 1, conv.getRuns)
}

func TestAskPollingTimeout(t *testing.T) {
	conv := &fakeConversations{statuses: []string{ai.RunInProgress}}
	_, err := NewEngine(conv, fastPoll(4), 5).Ask(context.Background(), "q", handle, ShapeIngredientJSON)
	assert.ErrorIs(t, err, errs.ErrPollingTimeout)
	assert.Equal(t, 3, conv.getRuns)
}

func TestAskWaitsForMessages(t *testing.T) {
	conv := &fakeConversations{
		emptyList: 2,
		messages:  textMessage("Group B. Contains refined sugar."),
	}
	a, err := NewEngine(conv, fastPoll(5), 5).Ask(context.Background(), "q", handle, ShapeCategoryText)
	require.NoError(t, err)
	assert.Equal(t, "Group B. Contains refined sugar.", a.Text)
	assert.Equal(t, "Group B. Contains refined sugar.", a.Render())
}

func TestAskContextCancelled(t *testing.T) {
	conv := &fakeConversations{statuses: []string{ai.RunInProgress}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEngine(conv, PollConfig{MaxAttempts: 10, InitialInterval: time.Second}, 5).Ask(ctx, "q", handle, ShapeCategoryText)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrPollingTimeout) || errors.Is(err, context.Canceled))
}

func TestAskRequiresAssistant(t *testing.T) {
	_, err := NewEngine(&fakeConversations{}, fastPoll(1), 5).Ask(context.Background(), "q", knowledge.Handle{}, ShapeCategoryText)
	assert.ErrorIs(t, err, errs.ErrInputValidation)
}

func TestClaimsShape(t *testing.T) {
	conv := &fakeConversations{
		messages: textMessage("```json\n{\"Low fat\": {\"Verdict\": \"Misleading\", \"Why?\": \"High sugar\"}}\n```"),
	}
	a, err := NewEngine(conv, fastPoll(3), 5).Ask(context.Background(), "q", handle, ShapeClaimsJSON)
	require.NoError(t, err)
	assert.Equal(t, "Low fat: {\"Verdict\":\"Misleading\",\"Why?\":\"High sugar\"}\n", a.Render())
}

func TestClaimsShapeEmpty(t *testing.T) {
	conv := &fakeConversations{messages: textMessage("")}
	a, err := NewEngine(conv, fastPoll(3), 5).Ask(context.Background(), "q", handle, ShapeClaimsJSON)
	require.NoError(t, err)
	assert.Empty(t, a.Render())
}

func TestProcessingLevel(t *testing.T) {
	assert.Equal(t, "Group C", ProcessingLevel("Group C: contains emulsifiers"))
	assert.Equal(t, ProcessingLevelNotFound, ProcessingLevel("NOT FOUND"))
	assert.Equal(t, ProcessingLevelNotFound, ProcessingLevel("Group D"))
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("  {\"a\":1} "))
	assert.Equal(t, `{"a":1}`, stripFences("```{\"a\":1}```"))
}
