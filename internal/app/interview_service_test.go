package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"interviewsim/internal/ai"
	"interviewsim/internal/broadcast"
	"interviewsim/internal/model"
	"interviewsim/internal/prompt"
)

type fakeSessionStore struct {
	mu       sync.Mutex
	nextID   uint
	sessions map[uint]*model.InterviewSession
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{nextID: 1, sessions: make(map[uint]*model.InterviewSession)}
}

func (f *fakeSessionStore) Create(session *model.InterviewSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session.ID = f.nextID
	f.nextID++
	copied := *session
	f.sessions[session.ID] = &copied
	return nil
}

func (f *fakeSessionStore) GetByIDAndUserID(sessionID, userID uint) (*model.InterviewSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok || session.UserID != userID {
		return nil, nil
	}
	copied := *session
	return &copied, nil
}

func (f *fakeSessionStore) ListByUserID(userID uint) ([]model.InterviewSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.InterviewSession
	for _, session := range f.sessions {
		if session.UserID == userID {
			out = append(out, *session)
		}
	}
	return out, nil
}

func (f *fakeSessionStore) UpdateStatus(sessionID uint, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok {
		return fmt.Errorf("no session %d", sessionID)
	}
	session.Status = status
	return nil
}

type fakeMessageStore struct {
	mu       sync.Mutex
	nextID   uint
	messages []model.Message
}

func (f *fakeMessageStore) Create(message *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	message.ID = f.nextID
	f.messages = append(f.messages, *message)
	return nil
}

func (f *fakeMessageStore) ListBySessionID(sessionID uint) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Message
	for _, message := range f.messages {
		if message.SessionID == sessionID {
			out = append(out, message)
		}
	}
	return out, nil
}

type fakeDocumentStore struct {
	docs map[uint]*model.Document
}

func (f *fakeDocumentStore) Create(doc *model.Document) error {
	doc.ID = uint(len(f.docs) + 1)
	f.docs[doc.ID] = doc
	return nil
}

func (f *fakeDocumentStore) GetByID(id uint) (*model.Document, error) {
	return f.docs[id], nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []broadcast.MessageEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event broadcast.MessageEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) all() []broadcast.MessageEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]broadcast.MessageEvent(nil), p.events...)
}

// scriptedChatClient returns canned replies and records every request. When
// block is non-nil each call parks until the channel is closed, for driving
// concurrent-turn tests.
type scriptedChatClient struct {
	mu       sync.Mutex
	replies  []string
	err      error
	block    chan struct{}
	requests [][]ai.ChatMessage
	calls    int
}

func (c *scriptedChatClient) Complete(ctx context.Context, messages []ai.ChatMessage) (string, error) {
	c.mu.Lock()
	c.calls++
	c.requests = append(c.requests, messages)
	block := c.block
	err := c.err
	reply := "done"
	if len(c.replies) > 0 {
		reply = c.replies[0]
		c.replies = c.replies[1:]
	}
	c.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return reply, nil
}

func (c *scriptedChatClient) StreamComplete(ctx context.Context, messages []ai.ChatMessage, onChunk func(string) error) (string, error) {
	reply, err := c.Complete(ctx, messages)
	if err != nil {
		return "", err
	}
	for _, part := range strings.SplitAfter(reply, " ") {
		if cbErr := onChunk(part); cbErr != nil {
			return "", cbErr
		}
	}
	return reply, nil
}

func (c *scriptedChatClient) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type serviceFixture struct {
	service   *InterviewService
	sessions  *fakeSessionStore
	messages  *fakeMessageStore
	docs      *fakeDocumentStore
	publisher *recordingPublisher
	client    *scriptedChatClient
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	docs := &fakeDocumentStore{docs: map[uint]*model.Document{
		1: {Name: "cv.txt", Type: model.DocumentTypeCV, Content: "Jane Doe, Go developer, 5 years."},
		2: {Name: "jd.txt", Type: model.DocumentTypeJD, Content: "Senior backend engineer."},
	}}
	docs.docs[1].ID = 1
	docs.docs[2].ID = 2

	sessions := newFakeSessionStore()
	messages := &fakeMessageStore{}
	publisher := &recordingPublisher{}
	client := &scriptedChatClient{}

	service := NewInterviewService(
		sessions, messages, docs, publisher, nil, client,
		prompt.ComposeSystemPrompt, 2*time.Second,
	)
	return &serviceFixture{
		service:   service,
		sessions:  sessions,
		messages:  messages,
		docs:      docs,
		publisher: publisher,
		client:    client,
	}
}

func (f *serviceFixture) startSession(t *testing.T) *model.InterviewSession {
	t.Helper()
	f.client.mu.Lock()
	f.client.replies = append(f.client.replies, "Welcome. Tell me about yourself.")
	f.client.mu.Unlock()

	result, err := f.service.StartInterview(context.Background(), StartInterviewInput{
		UserID:       7,
		CVDocumentID: 1,
	})
	require.NoError(t, err)
	return result.Session
}

func TestStartInterviewOpensWithAssistantTurn(t *testing.T) {
	f := newServiceFixture(t)
	f.client.replies = []string{"Hello Jane, shall we begin?"}

	jdID := uint(2)
	result, err := f.service.StartInterview(context.Background(), StartInterviewInput{
		UserID:       7,
		CVDocumentID: 1,
		JDDocumentID: &jdID,
		SocketID:     "socket-abc",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Session)
	assert.Equal(t, model.SessionStatusActive, result.Session.Status)
	assert.Equal(t, model.RoleAssistant, result.Opening.Role)
	assert.Equal(t, "Hello Jane, shall we begin?", result.Opening.Content)

	require.Len(t, f.client.requests, 1)
	require.Len(t, f.client.requests[0], 1)
	assert.Equal(t, model.RoleSystem, f.client.requests[0][0].Role)
	assert.Contains(t, f.client.requests[0][0].Content, "Jane Doe")
	assert.Contains(t, f.client.requests[0][0].Content, "Senior backend engineer.")

	events := f.publisher.all()
	require.Len(t, events, 1)
	assert.Equal(t, "socket-abc", events[0].SocketID)
	assert.Equal(t, result.Session.ID, events[0].SessionID)
}

func TestStartInterviewRequiresCV(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.service.StartInterview(context.Background(), StartInterviewInput{UserID: 7})
	assert.ErrorIs(t, err, ErrCVRequired)
	assert.Zero(t, f.client.callCount())
}

func TestStartInterviewModelFailureKeepsSession(t *testing.T) {
	f := newServiceFixture(t)
	f.client.err = fmt.Errorf("upstream 503")

	_, err := f.service.StartInterview(context.Background(), StartInterviewInput{
		UserID:       7,
		CVDocumentID: 1,
	})
	require.ErrorIs(t, err, ErrModelInvocation)

	session, getErr := f.sessions.GetByIDAndUserID(1, 7)
	require.NoError(t, getErr)
	require.NotNil(t, session)
	assert.Equal(t, model.SessionStatusActive, session.Status)

	history, _ := f.messages.ListBySessionID(session.ID)
	assert.Empty(t, history)
}

func TestSubmitUserTurnAppendsBothMessages(t *testing.T) {
	f := newServiceFixture(t)
	session := f.startSession(t)
	f.client.replies = []string{"Interesting. What was your hardest bug?"}

	result, err := f.service.SubmitUserTurn(context.Background(), SendMessageInput{
		UserID:    7,
		SessionID: session.ID,
		Content:   "  I spent five years on payment systems.  ",
		SocketID:  "socket-xyz",
	})
	require.NoError(t, err)
	require.Len(t, result.Messages, 2)
	assert.Equal(t, model.RoleUser, result.Messages[0].Role)
	assert.Equal(t, "I spent five years on payment systems.", result.Messages[0].Content)
	assert.Equal(t, model.RoleAssistant, result.Messages[1].Role)

	// The replayed context is system prompt + opening + the new user turn.
	requests := f.client.requests
	last := requests[len(requests)-1]
	require.Len(t, last, 3)
	assert.Equal(t, model.RoleSystem, last[0].Role)
	assert.Equal(t, model.RoleAssistant, last[1].Role)
	assert.Equal(t, model.RoleUser, last[2].Role)

	events := f.publisher.all()
	require.Len(t, events, 3)
	for _, event := range events[1:] {
		assert.Equal(t, "socket-xyz", event.SocketID)
	}
}

func TestSubmitUserTurnEmptyContentIsNoOp(t *testing.T) {
	f := newServiceFixture(t)
	session := f.startSession(t)
	before := f.client.callCount()

	result, err := f.service.SubmitUserTurn(context.Background(), SendMessageInput{
		UserID:    7,
		SessionID: session.ID,
		Content:   "   \t\n ",
	})
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, before, f.client.callCount())
}

func TestSubmitUserTurnUnknownSession(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.service.SubmitUserTurn(context.Background(), SendMessageInput{
		UserID:    7,
		SessionID: 999,
		Content:   "hello",
	})
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSubmitUserTurnEndedSession(t *testing.T) {
	f := newServiceFixture(t)
	session := f.startSession(t)
	require.NoError(t, f.service.EndInterview(7, session.ID))

	_, err := f.service.SubmitUserTurn(context.Background(), SendMessageInput{
		UserID:    7,
		SessionID: session.ID,
		Content:   "one more question",
	})
	assert.ErrorIs(t, err, ErrSessionEnded)
}

func TestSubmitUserTurnModelFailureKeepsUserMessage(t *testing.T) {
	f := newServiceFixture(t)
	session := f.startSession(t)
	f.client.err = fmt.Errorf("boom")

	_, err := f.service.SubmitUserTurn(context.Background(), SendMessageInput{
		UserID:    7,
		SessionID: session.ID,
		Content:   "My answer that must not be lost",
	})
	require.ErrorIs(t, err, ErrModelInvocation)

	history, _ := f.messages.ListBySessionID(session.ID)
	require.Len(t, history, 2)
	assert.Equal(t, "My answer that must not be lost", history[1].Content)

	// Retrying replays the unanswered turn inside the context.
	f.client.mu.Lock()
	f.client.err = nil
	f.client.replies = []string{"Got it, continuing."}
	f.client.mu.Unlock()

	result, err := f.service.SubmitUserTurn(context.Background(), SendMessageInput{
		UserID:    7,
		SessionID: session.ID,
		Content:   "Are you still there?",
	})
	require.NoError(t, err)
	requests := f.client.requests
	last := requests[len(requests)-1]
	require.Len(t, last, 4)
	assert.Equal(t, "My answer that must not be lost", last[2].Content)
	assert.Equal(t, "Are you still there?", last[3].Content)
	assert.Equal(t, "Got it, continuing.", result.Messages[1].Content)
}

func TestSubmitUserTurnTimeoutMapsToModelTimeout(t *testing.T) {
	f := newServiceFixture(t)
	session := f.startSession(t)

	f.client.mu.Lock()
	f.client.block = make(chan struct{})
	f.client.mu.Unlock()
	f.service.llmTimeout = 50 * time.Millisecond

	_, err := f.service.SubmitUserTurn(context.Background(), SendMessageInput{
		UserID:    7,
		SessionID: session.ID,
		Content:   "slow one",
	})
	assert.ErrorIs(t, err, ErrModelTimeout)
}

func TestSubmitUserTurnRejectsConcurrentTurn(t *testing.T) {
	f := newServiceFixture(t)
	session := f.startSession(t)

	release := make(chan struct{})
	f.client.mu.Lock()
	f.client.block = release
	f.client.replies = []string{"first reply"}
	f.client.mu.Unlock()

	firstDone := make(chan error, 1)
	go func() {
		_, err := f.service.SubmitUserTurn(context.Background(), SendMessageInput{
			UserID:    7,
			SessionID: session.ID,
			Content:   "first",
		})
		firstDone <- err
	}()

	// Wait until the first turn is inside the model call.
	require.Eventually(t, func() bool {
		return f.client.callCount() >= 2
	}, time.Second, 5*time.Millisecond)

	_, err := f.service.SubmitUserTurn(context.Background(), SendMessageInput{
		UserID:    7,
		SessionID: session.ID,
		Content:   "second",
	})
	assert.ErrorIs(t, err, ErrTurnInFlight)

	close(release)
	require.NoError(t, <-firstDone)
}

func TestStreamUserTurnDeliversChunksThenPersists(t *testing.T) {
	f := newServiceFixture(t)
	session := f.startSession(t)
	f.client.mu.Lock()
	f.client.replies = []string{"chunked model reply"}
	f.client.mu.Unlock()

	var received strings.Builder
	message, err := f.service.StreamUserTurn(context.Background(), SendMessageInput{
		UserID:    7,
		SessionID: session.ID,
		Content:   "stream this",
	}, func(chunk string) error {
		received.WriteString(chunk)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "chunked model reply", received.String())
	assert.Equal(t, "chunked model reply", message.Content)
	assert.Equal(t, model.RoleAssistant, message.Role)

	history, _ := f.messages.ListBySessionID(session.ID)
	assert.Equal(t, "chunked model reply", history[len(history)-1].Content)
}

func TestGetHistoryHonorsLimitAndOrder(t *testing.T) {
	f := newServiceFixture(t)
	session := f.startSession(t)
	for i := 0; i < 3; i++ {
		f.client.mu.Lock()
		f.client.replies = []string{fmt.Sprintf("reply %d", i)}
		f.client.mu.Unlock()
		_, err := f.service.SubmitUserTurn(context.Background(), SendMessageInput{
			UserID:    7,
			SessionID: session.ID,
			Content:   fmt.Sprintf("answer %d", i),
		})
		require.NoError(t, err)
	}

	all, err := f.service.GetHistory(7, session.ID, 0)
	require.NoError(t, err)
	require.Len(t, all, 7)
	assert.Equal(t, model.RoleAssistant, all[0].Role)

	tail, err := f.service.GetHistory(7, session.ID, 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, "answer 2", tail[0].Content)
	assert.Equal(t, "reply 2", tail[1].Content)
}

func TestGetHistoryOtherUsersSessionNotFound(t *testing.T) {
	f := newServiceFixture(t)
	session := f.startSession(t)
	_, err := f.service.GetHistory(8, session.ID, 0)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestEndInterviewIsIdempotent(t *testing.T) {
	f := newServiceFixture(t)
	session := f.startSession(t)
	require.NoError(t, f.service.EndInterview(7, session.ID))
	require.NoError(t, f.service.EndInterview(7, session.ID))

	stored, err := f.sessions.GetByIDAndUserID(session.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusEnded, stored.Status)
}
