package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"interviewsim/internal/ai"
	"interviewsim/internal/broadcast"
	"interviewsim/internal/model"
)

var (
	ErrCVRequired       = errors.New("cv document is required")
	ErrDocumentNotFound = errors.New("document not found")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionEnded     = errors.New("session already ended")
	ErrTurnInFlight     = errors.New("a turn is already in progress for this session")
	ErrModelInvocation  = errors.New("model invocation failed")
	ErrModelTimeout     = errors.New("model invocation timed out")
)

// SessionStore persists interview sessions.
type SessionStore interface {
	Create(session *model.InterviewSession) error
	GetByIDAndUserID(sessionID, userID uint) (*model.InterviewSession, error)
	ListByUserID(userID uint) ([]model.InterviewSession, error)
	UpdateStatus(sessionID uint, status string) error
}

// MessageStore persists the append-only conversation history.
type MessageStore interface {
	Create(message *model.Message) error
	ListBySessionID(sessionID uint) ([]model.Message, error)
}

// EventPublisher hands a message event to the broadcast pipeline.
type EventPublisher interface {
	Publish(ctx context.Context, event broadcast.MessageEvent) error
}

// HistoryCache is an optional read-through cache for session histories.
type HistoryCache interface {
	GetHistory(ctx context.Context, sessionID uint) ([]model.Message, bool, error)
	SetHistory(ctx context.Context, sessionID uint, messages []model.Message) error
	DeleteHistory(ctx context.Context, sessionID uint) error
	MarkDirty(ctx context.Context, sessionID uint) error
	IsDirty(ctx context.Context, sessionID uint) (bool, error)
}

// ChatClient is the language-model backend.
type ChatClient interface {
	Complete(ctx context.Context, messages []ai.ChatMessage) (string, error)
	StreamComplete(ctx context.Context, messages []ai.ChatMessage, onChunk func(string) error) (string, error)
}

// PromptComposer renders the system prompt from the session's documents.
type PromptComposer func(cv string, jd, questions *string) string

// InterviewService owns the turn-taking protocol: it appends the candidate's
// message, invokes the model with the full ordered history behind a fresh
// system prompt, appends the reply, and triggers broadcast. At most one model
// call is in flight per session.
type InterviewService struct {
	sessionRepo  SessionStore
	messageRepo  MessageStore
	documentRepo DocumentStore
	publisher    EventPublisher
	historyCache HistoryCache
	llmClient    ChatClient
	composer     PromptComposer
	llmTimeout   time.Duration

	mu       sync.Mutex
	inFlight map[uint]struct{}
	appendMu map[uint]*sync.Mutex
}

func NewInterviewService(
	sessionRepo SessionStore,
	messageRepo MessageStore,
	documentRepo DocumentStore,
	publisher EventPublisher,
	historyCache HistoryCache,
	llmClient ChatClient,
	composer PromptComposer,
	llmTimeout time.Duration,
) *InterviewService {
	if llmTimeout <= 0 {
		llmTimeout = 90 * time.Second
	}
	return &InterviewService{
		sessionRepo:  sessionRepo,
		messageRepo:  messageRepo,
		documentRepo: documentRepo,
		publisher:    publisher,
		historyCache: historyCache,
		llmClient:    llmClient,
		composer:     composer,
		llmTimeout:   llmTimeout,
		inFlight:     make(map[uint]struct{}),
		appendMu:     make(map[uint]*sync.Mutex),
	}
}

type StartInterviewInput struct {
	UserID              uint
	CVDocumentID        uint
	JDDocumentID        *uint
	QuestionsDocumentID *uint
	SocketID            string
}

type StartInterviewResult struct {
	Session *model.InterviewSession `json:"session"`
	Opening *model.Message          `json:"opening"`
}

type SendMessageInput struct {
	UserID    uint
	SessionID uint
	Content   string
	SocketID  string
}

type SendMessageResult struct {
	Messages []model.Message `json:"messages"`
}

// StartInterview creates the session and asks the model for the opening turn.
// If the model call fails the session is kept (active, zero messages) and the
// error surfaces; the candidate's first SubmitUserTurn is the retry path.
func (s *InterviewService) StartInterview(ctx context.Context, input StartInterviewInput) (*StartInterviewResult, error) {
	if input.UserID == 0 {
		return nil, ErrInvalidInput
	}
	if input.CVDocumentID == 0 {
		return nil, ErrCVRequired
	}

	session := &model.InterviewSession{
		UserID:              input.UserID,
		Status:              model.SessionStatusActive,
		CVDocumentID:        input.CVDocumentID,
		JDDocumentID:        input.JDDocumentID,
		QuestionsDocumentID: input.QuestionsDocumentID,
	}

	systemPrompt, err := s.systemPromptFor(session)
	if err != nil {
		return nil, err
	}

	if err := s.sessionRepo.Create(session); err != nil {
		return nil, err
	}

	if !s.beginTurn(session.ID) {
		return nil, ErrTurnInFlight
	}
	defer s.endTurn(session.ID)

	reply, err := s.complete(ctx, []ai.ChatMessage{
		{Role: model.RoleSystem, Content: systemPrompt},
	})
	if err != nil {
		return nil, err
	}

	opening, err := s.appendAndPublish(ctx, session, model.RoleAssistant, reply, input.SocketID)
	if err != nil {
		return nil, err
	}

	return &StartInterviewResult{Session: session, Opening: opening}, nil
}

// SubmitUserTurn persists the candidate's answer, replays the full history to
// the model, and persists the reply. Empty input or an absent session id is a
// silent no-op. On model failure the user message stays persisted and
// broadcast; the next turn replays it against the larger context.
func (s *InterviewService) SubmitUserTurn(ctx context.Context, input SendMessageInput) (*SendMessageResult, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" || input.SessionID == 0 {
		return nil, nil
	}
	if input.UserID == 0 {
		return nil, ErrInvalidInput
	}

	session, err := s.loadActiveSession(input.SessionID, input.UserID)
	if err != nil {
		return nil, err
	}

	if !s.beginTurn(session.ID) {
		return nil, ErrTurnInFlight
	}
	defer s.endTurn(session.ID)

	// The user's turn is committed before anything that can fail downstream,
	// so a prompt-construction or model failure never loses their input.
	userMessage, err := s.appendAndPublish(ctx, session, model.RoleUser, content, input.SocketID)
	if err != nil {
		return nil, err
	}

	chatMessages, err := s.buildChatContext(session)
	if err != nil {
		return nil, err
	}

	reply, err := s.complete(ctx, chatMessages)
	if err != nil {
		return nil, err
	}

	assistantMessage, err := s.appendAndPublish(ctx, session, model.RoleAssistant, reply, input.SocketID)
	if err != nil {
		return nil, err
	}

	return &SendMessageResult{
		Messages: []model.Message{*userMessage, *assistantMessage},
	}, nil
}

// StreamUserTurn behaves like SubmitUserTurn but delivers the assistant reply
// incrementally through onChunk before persisting the full text.
func (s *InterviewService) StreamUserTurn(
	ctx context.Context,
	input SendMessageInput,
	onChunk func(string) error,
) (*model.Message, error) {
	content := strings.TrimSpace(input.Content)
	if content == "" || input.SessionID == 0 {
		return nil, nil
	}
	if input.UserID == 0 {
		return nil, ErrInvalidInput
	}

	session, err := s.loadActiveSession(input.SessionID, input.UserID)
	if err != nil {
		return nil, err
	}

	if !s.beginTurn(session.ID) {
		return nil, ErrTurnInFlight
	}
	defer s.endTurn(session.ID)

	if _, err := s.appendAndPublish(ctx, session, model.RoleUser, content, input.SocketID); err != nil {
		return nil, err
	}

	chatMessages, err := s.buildChatContext(session)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.llmTimeout)
	defer cancel()
	full, err := s.llmClient.StreamComplete(callCtx, chatMessages, onChunk)
	if err != nil {
		return nil, classifyModelError(err)
	}
	full = strings.TrimSpace(full)
	if full == "" {
		full = "The model returned an empty response."
	}

	return s.appendAndPublish(ctx, session, model.RoleAssistant, full, input.SocketID)
}

// EndInterview marks the session ended. The store keeps accepting appends for
// an ended session; the orchestrator just refuses to start new model turns.
func (s *InterviewService) EndInterview(userID, sessionID uint) error {
	if userID == 0 || sessionID == 0 {
		return ErrInvalidInput
	}
	session, err := s.sessionRepo.GetByIDAndUserID(sessionID, userID)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrSessionNotFound
	}
	if session.Status == model.SessionStatusEnded {
		return nil
	}
	return s.sessionRepo.UpdateStatus(sessionID, model.SessionStatusEnded)
}

// GetSession loads one of the caller's sessions regardless of status.
func (s *InterviewService) GetSession(userID, sessionID uint) (*model.InterviewSession, error) {
	if userID == 0 || sessionID == 0 {
		return nil, ErrInvalidInput
	}
	session, err := s.sessionRepo.GetByIDAndUserID(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

func (s *InterviewService) ListSessions(userID uint) ([]model.InterviewSession, error) {
	if userID == 0 {
		return nil, ErrInvalidInput
	}
	return s.sessionRepo.ListByUserID(userID)
}

// GetHistory returns the session's messages in authoritative order, served
// from the cache when it is present and clean.
func (s *InterviewService) GetHistory(userID, sessionID uint, limit int) ([]model.Message, error) {
	if userID == 0 || sessionID == 0 {
		return nil, ErrInvalidInput
	}

	session, err := s.sessionRepo.GetByIDAndUserID(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}

	ctx := context.Background()
	if s.historyCache != nil {
		dirty, err := s.historyCache.IsDirty(ctx, sessionID)
		if err == nil && !dirty {
			if cached, hit, cacheErr := s.historyCache.GetHistory(ctx, sessionID); cacheErr == nil && hit {
				return trimMessages(cached, limit), nil
			}
		}
	}

	messages, err := s.messageRepo.ListBySessionID(sessionID)
	if err != nil {
		return nil, err
	}
	if s.historyCache != nil {
		if dirty, dirtyErr := s.historyCache.IsDirty(ctx, sessionID); dirtyErr == nil && !dirty {
			_ = s.historyCache.SetHistory(ctx, sessionID, messages)
		}
	}
	return trimMessages(messages, limit), nil
}

func (s *InterviewService) loadActiveSession(sessionID, userID uint) (*model.InterviewSession, error) {
	session, err := s.sessionRepo.GetByIDAndUserID(sessionID, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if session.Status == model.SessionStatusEnded {
		return nil, ErrSessionEnded
	}
	return session, nil
}

// systemPromptFor recomputes the system prompt from the referenced documents.
// Documents are immutable, so recomputation is idempotent; it is done per
// call rather than stored so the prompt never appears in the history.
func (s *InterviewService) systemPromptFor(session *model.InterviewSession) (string, error) {
	cv, err := s.documentRepo.GetByID(session.CVDocumentID)
	if err != nil {
		return "", err
	}
	if cv == nil {
		return "", fmt.Errorf("%w: cv document %d", ErrDocumentNotFound, session.CVDocumentID)
	}

	var jd, questions *string
	if session.JDDocumentID != nil {
		doc, err := s.documentRepo.GetByID(*session.JDDocumentID)
		if err != nil {
			return "", err
		}
		if doc == nil {
			return "", fmt.Errorf("%w: jd document %d", ErrDocumentNotFound, *session.JDDocumentID)
		}
		jd = &doc.Content
	}
	if session.QuestionsDocumentID != nil {
		doc, err := s.documentRepo.GetByID(*session.QuestionsDocumentID)
		if err != nil {
			return "", err
		}
		if doc == nil {
			return "", fmt.Errorf("%w: questions document %d", ErrDocumentNotFound, *session.QuestionsDocumentID)
		}
		questions = &doc.Content
	}

	return s.composer(cv.Content, jd, questions), nil
}

// buildChatContext assembles the system prompt plus the entire persisted
// history, oldest first. The full history is sent on every call; trimming to
// a token window is deliberately not done here.
func (s *InterviewService) buildChatContext(session *model.InterviewSession) ([]ai.ChatMessage, error) {
	systemPrompt, err := s.systemPromptFor(session)
	if err != nil {
		return nil, err
	}

	history, err := s.messageRepo.ListBySessionID(session.ID)
	if err != nil {
		return nil, err
	}

	chatMessages := make([]ai.ChatMessage, 0, len(history)+1)
	chatMessages = append(chatMessages, ai.ChatMessage{
		Role:    model.RoleSystem,
		Content: systemPrompt,
	})
	for _, item := range history {
		chatMessages = append(chatMessages, ai.ChatMessage{
			Role:    item.Role,
			Content: item.Content,
		})
	}
	return chatMessages, nil
}

// appendAndPublish serializes the append for the session, persists the
// message, invalidates the cached history, and broadcasts. Broadcast failure
// is logged only: delivery is best-effort and never rolls back persistence.
func (s *InterviewService) appendAndPublish(
	ctx context.Context,
	session *model.InterviewSession,
	role, content, socketID string,
) (*model.Message, error) {
	lock := s.appendLock(session.ID)
	lock.Lock()
	defer lock.Unlock()

	message := &model.Message{
		SessionID: session.ID,
		UserID:    session.UserID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := s.messageRepo.Create(message); err != nil {
		return nil, err
	}

	if s.historyCache != nil {
		_ = s.historyCache.MarkDirty(ctx, session.ID)
		_ = s.historyCache.DeleteHistory(ctx, session.ID)
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, broadcast.NewMessageEvent(message, socketID)); err != nil {
			log.Printf("broadcast message %d failed: %v", message.ID, err)
		}
	}
	return message, nil
}

func (s *InterviewService) complete(ctx context.Context, messages []ai.ChatMessage) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.llmTimeout)
	defer cancel()

	reply, err := s.llmClient.Complete(callCtx, messages)
	if err != nil {
		return "", classifyModelError(err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		reply = "The model returned an empty response."
	}
	return reply, nil
}

func classifyModelError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrModelTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrModelInvocation, err)
}

func (s *InterviewService) beginTurn(sessionID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[sessionID]; busy {
		return false
	}
	s.inFlight[sessionID] = struct{}{}
	return true
}

func (s *InterviewService) endTurn(sessionID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, sessionID)
}

func (s *InterviewService) appendLock(sessionID uint) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.appendMu[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.appendMu[sessionID] = lock
	}
	return lock
}

func trimMessages(messages []model.Message, limit int) []model.Message {
	if limit <= 0 || limit >= len(messages) {
		return messages
	}
	return messages[len(messages)-limit:]
}
