// Package usecase contains application business logic services.
package usecase

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fairyhunter13/skillpath-ai/internal/adapter/ai/tokencount"
	"github.com/fairyhunter13/skillpath-ai/internal/adapter/observability"
	"github.com/fairyhunter13/skillpath-ai/internal/domain"
	"github.com/fairyhunter13/skillpath-ai/internal/service/parser"
	"github.com/fairyhunter13/skillpath-ai/internal/service/quota"
)

const tutorSystemPrompt = "You are a patient, encouraging tutor for an online learning platform. " +
	"Explain concepts step by step with concrete examples. When code helps, include it in a fenced code block."

// promptTokenBudget caps the history included in one upstream request.
// The most recent messages always win; older turns fall off first.
const promptTokenBudget = 6000

// TurnResult is returned to the caller after one tutor turn.
type TurnResult struct {
	ConversationID   string
	AssistantMessage domain.Message
	RemainingQuota   int
}

// TutorService processes tutoring turns: it owns the per-conversation
// turn state machine, gates turns on the daily quota, dispatches the
// upstream call, and appends both sides of the exchange.
type TutorService struct {
	Conversations domain.ConversationRepository
	AI            domain.AIClient
	Quota         *quota.Tracker
	Tokens        *tokencount.Counter
	FreeLimit     int
	MaxTokens     int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTutorService constructs a TutorService with its dependencies.
func NewTutorService(repo domain.ConversationRepository, ai domain.AIClient, q *quota.Tracker, freeLimit, maxTokens int) *TutorService {
	return &TutorService{
		Conversations: repo,
		AI:            ai,
		Quota:         q,
		Tokens:        tokencount.NewCounter(),
		FreeLimit:     freeLimit,
		MaxTokens:     maxTokens,
		locks:         make(map[string]*sync.Mutex),
	}
}

// convLock returns the mutex serializing turns for one conversation.
// A second SubmitTurn while one is outstanding queues behind it, so the
// message sequence always matches submission order.
func (s *TutorService) convLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

// ListConversations returns the user's conversations, newest first.
func (s *TutorService) ListConversations(ctx domain.Context, userID string) ([]domain.Conversation, error) {
	return s.Conversations.ListByUser(ctx, userID)
}

// SubmitTurn processes one tutoring turn. The user message is appended
// optimistically before the quota gate and upstream call, and is retained
// even when the turn ultimately fails; on success exactly one assistant
// message is appended after it.
func (s *TutorService) SubmitTurn(ctx domain.Context, user domain.User, conversationID, text string) (TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return TurnResult{}, fmt.Errorf("%w: message required", domain.ErrInvalidArgument)
	}

	conv, err := s.loadOrCreate(ctx, user.ID, conversationID, text)
	if err != nil {
		return TurnResult{}, err
	}

	lock := s.convLock(conv.ID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock so a queued turn sees the previous turn's
	// appended messages.
	conv, err = s.Conversations.Get(ctx, conv.ID)
	if err != nil {
		return TurnResult{}, err
	}

	userMsg := domain.Message{Role: domain.RoleUser, Content: text, CreatedAt: time.Now().UTC()}
	if err := s.Conversations.AppendMessage(ctx, conv.ID, userMsg); err != nil {
		return TurnResult{}, fmt.Errorf("op=tutor.append_user: %w", err)
	}
	conv.Messages = append(conv.Messages, userMsg)

	limit := user.Tier.DailyLimit(s.FreeLimit)
	remaining, err := s.Quota.CheckAndConsume(ctx, user.ID, domain.EndpointTutor, limit)
	if err != nil {
		observability.QuotaDeniedTotal.WithLabelValues(domain.EndpointTutor).Inc()
		observability.TutorTurnsTotal.WithLabelValues("quota_denied").Inc()
		return TurnResult{ConversationID: conv.ID}, err
	}

	raw, err := s.AI.Complete(ctx, s.buildPrompt(conv), s.MaxTokens)
	if err != nil {
		observability.TutorTurnsTotal.WithLabelValues("upstream_error").Inc()
		slog.Warn("tutor turn failed upstream",
			slog.String("conversation_id", conv.ID),
			slog.Any("error", err))
		return TurnResult{ConversationID: conv.ID}, err
	}

	replyText, code := parser.ExtractCode(parser.ParseReply(raw))
	assistantMsg := domain.Message{
		Role:      domain.RoleAssistant,
		Content:   replyText,
		Code:      code,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.Conversations.AppendMessage(ctx, conv.ID, assistantMsg); err != nil {
		return TurnResult{}, fmt.Errorf("op=tutor.append_assistant: %w", err)
	}

	observability.TutorTurnsTotal.WithLabelValues("ok").Inc()
	return TurnResult{ConversationID: conv.ID, AssistantMessage: assistantMsg, RemainingQuota: remaining}, nil
}

// loadOrCreate resolves the target conversation, creating one on the
// first turn when no id was supplied. Ownership is checked on load; a
// foreign conversation reads as not found.
func (s *TutorService) loadOrCreate(ctx domain.Context, userID, conversationID, firstText string) (domain.Conversation, error) {
	if conversationID == "" {
		now := time.Now().UTC()
		conv := domain.Conversation{
			UserID:    userID,
			Subject:   subjectFrom(firstText),
			CreatedAt: now,
			UpdatedAt: now,
		}
		id, err := s.Conversations.Create(ctx, conv)
		if err != nil {
			return domain.Conversation{}, fmt.Errorf("op=tutor.create_conversation: %w", err)
		}
		conv.ID = id
		return conv, nil
	}
	conv, err := s.Conversations.Get(ctx, conversationID)
	if err != nil {
		return domain.Conversation{}, err
	}
	if conv.UserID != userID {
		return domain.Conversation{}, fmt.Errorf("%w: conversation %s", domain.ErrNotFound, conversationID)
	}
	return conv, nil
}

// buildPrompt assembles system prompt plus as much recent history as fits
// the token budget. The latest user message is always included.
func (s *TutorService) buildPrompt(conv domain.Conversation) []domain.ChatMessage {
	msgs := []domain.ChatMessage{{Role: "system", Content: tutorSystemPrompt}}
	budget := promptTokenBudget - s.Tokens.Count(tutorSystemPrompt)

	var history []domain.ChatMessage
	for i := len(conv.Messages) - 1; i >= 0; i-- {
		m := conv.Messages[i]
		cost := s.Tokens.Count(m.Content)
		if budget-cost < 0 && len(history) > 0 {
			break
		}
		budget -= cost
		history = append(history, domain.ChatMessage{Role: m.Role, Content: m.Content})
	}
	// history was collected newest-first; reverse into chronological order.
	for i := len(history) - 1; i >= 0; i-- {
		msgs = append(msgs, history[i])
	}
	return msgs
}

// subjectFrom derives a short conversation subject from the opening turn.
func subjectFrom(text string) string {
	const maxSubject = 60
	text = strings.TrimSpace(text)
	if len(text) <= maxSubject {
		return text
	}
	cut := strings.LastIndex(text[:maxSubject], " ")
	if cut < 20 {
		cut = maxSubject
	}
	return text[:cut] + "…"
}
