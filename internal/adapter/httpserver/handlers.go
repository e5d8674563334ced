package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fairyhunter13/skillpath-ai/internal/config"
	"github.com/fairyhunter13/skillpath-ai/internal/domain"
	"github.com/fairyhunter13/skillpath-ai/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg        config.Config
	Tutor      *usecase.TutorService
	Roadmaps   *usecase.RoadmapService
	Usage      usecase.UsageService
	Auth       domain.AuthProvider
	DBCheck    func(ctx context.Context) error
	RedisCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
func NewServer(cfg config.Config, tutor *usecase.TutorService, roadmaps *usecase.RoadmapService, usage usecase.UsageService, auth domain.AuthProvider, dbCheck, redisCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Tutor: tutor, Roadmaps: roadmaps, Usage: usage, Auth: auth, DBCheck: dbCheck, RedisCheck: redisCheck}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

func decodeValidated(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, r, fmt.Errorf("%w: invalid json", domain.ErrInvalidArgument), nil)
		return false
	}
	if err := getValidator().Struct(dst); err != nil {
		verrs := map[string]string{}
		if ve, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range ve {
				verrs[strings.ToLower(fe.Field())] = fe.Tag()
			}
		}
		writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), verrs)
		return false
	}
	return true
}

type messageDTO struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	Code      string `json:"code,omitempty"`
	CreatedAt string `json:"created_at"`
}

type conversationDTO struct {
	ID        string       `json:"id"`
	Subject   string       `json:"subject"`
	Messages  []messageDTO `json:"messages"`
	CreatedAt string       `json:"created_at"`
	UpdatedAt string       `json:"updated_at"`
}

func toConversationDTO(c domain.Conversation) conversationDTO {
	out := conversationDTO{
		ID:        c.ID,
		Subject:   c.Subject,
		Messages:  make([]messageDTO, 0, len(c.Messages)),
		CreatedAt: c.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt: c.UpdatedAt.UTC().Format(time.RFC3339),
	}
	for _, m := range c.Messages {
		out.Messages = append(out.Messages, messageDTO{
			ID: m.ID, Role: m.Role, Content: m.Content, Code: m.Code,
			CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return out
}

type roadmapDTO struct {
	ID          string   `json:"id"`
	Skill       string   `json:"skill"`
	Level       string   `json:"level"`
	Goals       string   `json:"goals,omitempty"`
	WeeklyHours int      `json:"weekly_hours"`
	Progress    int      `json:"progress"`
	Resources   []string `json:"resources"`
	Exams       []string `json:"exams"`
	CreatedAt   string   `json:"created_at"`
}

func toRoadmapDTO(m domain.Roadmap) roadmapDTO {
	res := m.Resources
	if res == nil {
		res = []string{}
	}
	exams := m.Exams
	if exams == nil {
		exams = []string{}
	}
	return roadmapDTO{
		ID: m.ID, Skill: m.Skill, Level: m.Level, Goals: m.Goals,
		WeeklyHours: m.WeeklyHours, Progress: m.Progress,
		Resources: res, Exams: exams,
		CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// ListConversationsHandler returns the caller's tutor conversations.
func (s *Server) ListConversationsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFrom(r.Context())
		if !ok {
			writeError(w, r, domain.ErrUnauthorized, nil)
			return
		}
		convs, err := s.Tutor.ListConversations(r.Context(), user.ID)
		if err != nil {
			writeError(w, r, fmt.Errorf("list conversations: %w", err), nil)
			return
		}
		out := make([]conversationDTO, 0, len(convs))
		for _, c := range convs {
			out = append(out, toConversationDTO(c))
		}
		writeJSON(w, http.StatusOK, map[string]any{"conversations": out})
	}
}

// SubmitTurnHandler submits one tutoring turn, creating a conversation on
// the first turn when no id is supplied.
func (s *Server) SubmitTurnHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFrom(r.Context())
		if !ok {
			writeError(w, r, domain.ErrUnauthorized, nil)
			return
		}
		var req struct {
			ConversationID string `json:"conversation_id"`
			Message        string `json:"message" validate:"required,max=4000"`
		}
		if !decodeValidated(w, r, &req) {
			return
		}
		res, err := s.Tutor.SubmitTurn(r.Context(), user, req.ConversationID, req.Message)
		if err != nil {
			writeError(w, r, err, map[string]string{"conversation_id": res.ConversationID})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"conversation_id": res.ConversationID,
			"message": messageDTO{
				ID:        res.AssistantMessage.ID,
				Role:      res.AssistantMessage.Role,
				Content:   res.AssistantMessage.Content,
				Code:      res.AssistantMessage.Code,
				CreatedAt: res.AssistantMessage.CreatedAt.UTC().Format(time.RFC3339),
			},
			"remaining_quota": res.RemainingQuota,
		})
	}
}

// UsageHandler reports per-endpoint daily usage for the caller.
func (s *Server) UsageHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFrom(r.Context())
		if !ok {
			writeError(w, r, domain.ErrUnauthorized, nil)
			return
		}
		usage, err := s.Usage.Snapshot(r.Context(), user)
		if err != nil {
			writeError(w, r, fmt.Errorf("usage snapshot: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"tier": string(user.Tier), "usage": usage})
	}
}

// CreateRoadmapHandler creates a new learning roadmap.
func (s *Server) CreateRoadmapHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFrom(r.Context())
		if !ok {
			writeError(w, r, domain.ErrUnauthorized, nil)
			return
		}
		var req struct {
			Skill       string `json:"skill" validate:"required,max=200"`
			Level       string `json:"level" validate:"required,max=100"`
			Goals       string `json:"goals" validate:"max=2000"`
			WeeklyHours int    `json:"weekly_hours" validate:"gte=0,lte=168"`
		}
		if !decodeValidated(w, r, &req) {
			return
		}
		m, err := s.Roadmaps.CreateRoadmap(r.Context(), user.ID, req.Skill, req.Level, req.Goals, req.WeeklyHours)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusCreated, toRoadmapDTO(m))
	}
}

// ListRoadmapsHandler returns the caller's roadmaps.
func (s *Server) ListRoadmapsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFrom(r.Context())
		if !ok {
			writeError(w, r, domain.ErrUnauthorized, nil)
			return
		}
		maps, err := s.Roadmaps.ListRoadmaps(r.Context(), user.ID)
		if err != nil {
			writeError(w, r, fmt.Errorf("list roadmaps: %w", err), nil)
			return
		}
		out := make([]roadmapDTO, 0, len(maps))
		for _, m := range maps {
			out = append(out, toRoadmapDTO(m))
		}
		writeJSON(w, http.StatusOK, map[string]any{"roadmaps": out})
	}
}

// ArtifactsHandler returns cached artifacts for a roadmap, generating
// them on first request. Either list may be empty when its upstream call
// degraded; the response is still 200.
func (s *Server) ArtifactsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFrom(r.Context())
		if !ok {
			writeError(w, r, domain.ErrUnauthorized, nil)
			return
		}
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, r, fmt.Errorf("%w: id missing", domain.ErrInvalidArgument), nil)
			return
		}
		a, err := s.Roadmaps.GetArtifacts(r.Context(), user, id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		res := a.Resources
		if res == nil {
			res = []string{}
		}
		exams := a.Exams
		if exams == nil {
			exams = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"resources": res, "exams": exams})
	}
}

// UpdateProgressHandler sets a roadmap's completion percentage.
func (s *Server) UpdateProgressHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFrom(r.Context())
		if !ok {
			writeError(w, r, domain.ErrUnauthorized, nil)
			return
		}
		id := chi.URLParam(r, "id")
		if id == "" {
			writeError(w, r, fmt.Errorf("%w: id missing", domain.ErrInvalidArgument), nil)
			return
		}
		var req struct {
			Progress int `json:"progress" validate:"gte=0,lte=100"`
		}
		if !decodeValidated(w, r, &req) {
			return
		}
		if err := s.Roadmaps.UpdateProgress(r.Context(), user.ID, id, req.Progress); err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "progress": req.Progress})
	}
}

// ReadyzHandler returns a readiness handler that probes DB and Redis.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 2)
		if s.DBCheck != nil {
			if err := s.DBCheck(ctx); err != nil {
				checks = append(checks, check{Name: "db", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "db", OK: true})
			}
		}
		if s.RedisCheck != nil {
			if err := s.RedisCheck(ctx); err != nil {
				checks = append(checks, check{Name: "redis", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "redis", OK: true})
			}
		}
		ok := true
		for _, c := range checks {
			if !c.OK {
				ok = false
				break
			}
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}
