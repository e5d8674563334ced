package domain

import (
	"context"
	"errors"
	"time"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrUpstream          = errors.New("upstream error")
	ErrUpstreamTimeout   = errors.New("upstream timeout")
	ErrUpstreamRateLimit = errors.New("upstream rate limit")
	ErrMalformedResponse = errors.New("malformed response")
	ErrInternal          = errors.New("internal error")
)

// Tier enumerates subscription tiers. Free users are subject to daily
// per-endpoint quotas; paid and elite are unlimited.
type Tier string

const (
	TierFree  Tier = "free"
	TierPaid  Tier = "paid"
	TierElite Tier = "elite"
)

// UnlimitedQuota is the tier limit value meaning "no daily cap".
const UnlimitedQuota = -1

// DailyLimit returns the per-endpoint daily request limit for the tier.
func (t Tier) DailyLimit(freeLimit int) int {
	if t == TierPaid || t == TierElite {
		return UnlimitedQuota
	}
	return freeLimit
}

// User is owned by the external auth collaborator; the core only reads
// identity and tier.
type User struct {
	ID   string
	Tier Tier
}

// Endpoint names used as quota keys.
const (
	EndpointTutor   = "tutor"
	EndpointRoadmap = "roadmap"
)

// Role enumerates message authors within a conversation.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one side of a tutoring exchange. Immutable once appended.
type Message struct {
	ID        string
	Role      string
	Content   string
	Code      string // optional fenced code payload extracted from the reply
	CreatedAt time.Time
}

// Conversation is an ordered exchange of messages owned by one user.
// Message order is meaningful and always reflects turn submission order.
type Conversation struct {
	ID        string
	UserID    string
	Subject   string
	Messages  []Message
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UsageCounter is the per-(user, endpoint, day) request counter backing
// daily quotas. Day is a calendar-day key; absence is equivalent to zero.
type UsageCounter struct {
	UserID   string
	Endpoint string
	Day      string
	Count    int
}

// Roadmap captures a SkillMaster learning roadmap request and its progress.
type Roadmap struct {
	ID          string
	UserID      string
	Skill       string
	Level       string
	Goals       string
	WeeklyHours int
	Progress    int
	Resources   []string
	Exams       []string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RoadmapArtifacts are the AI-derived artifacts of a roadmap. Either field
// may be empty when its generating call degraded.
type RoadmapArtifacts struct {
	Resources []string
	Exams     []string
}

// ChatMessage is one element of an upstream completion request payload.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Repositories (ports)

type ConversationRepository interface {
	Create(ctx Context, c Conversation) (string, error)
	Get(ctx Context, id string) (Conversation, error)
	ListByUser(ctx Context, userID string) ([]Conversation, error)
	AppendMessage(ctx Context, conversationID string, m Message) error
}

type RoadmapRepository interface {
	Create(ctx Context, r Roadmap) (string, error)
	Get(ctx Context, id string) (Roadmap, error)
	ListByUser(ctx Context, userID string) ([]Roadmap, error)
	SaveArtifacts(ctx Context, id string, a RoadmapArtifacts) error
	UpdateProgress(ctx Context, id string, progress int) error
}

// AIClient (port) dispatches upstream completion calls. Complete executes a
// single chat-completion request, retrying transient failures internally,
// and returns the raw assistant text or a terminal error wrapping ErrUpstream.
type AIClient interface {
	Complete(ctx Context, messages []ChatMessage, maxTokens int) (string, error)
}

// AuthProvider (port) resolves a bearer token to a user. Implementations
// live outside this core; failures carry ErrUnauthorized.
type AuthProvider interface {
	Resolve(ctx Context, token string) (User, error)
}

// Context is an alias to keep domain signatures uniform with the rest of
// the codebase; adapters pass context.Context straight through.
type Context = context.Context
