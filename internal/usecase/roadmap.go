package usecase

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/fairyhunter13/skillpath-ai/internal/adapter/observability"
	"github.com/fairyhunter13/skillpath-ai/internal/domain"
	"github.com/fairyhunter13/skillpath-ai/internal/service/parser"
	"github.com/fairyhunter13/skillpath-ai/internal/service/quota"
)

// Per-artifact completion caps. Resources are longer-form than exam names.
const (
	resourceMaxTokens = 200
	examMaxTokens     = 100
)

// RoadmapService creates SkillMaster roadmaps and derives their artifacts
// (learning resources and exam suggestions) from two independent upstream
// calls issued concurrently.
type RoadmapService struct {
	Roadmaps  domain.RoadmapRepository
	AI        domain.AIClient
	Quota     *quota.Tracker
	FreeLimit int
}

// NewRoadmapService constructs a RoadmapService with its dependencies.
func NewRoadmapService(repo domain.RoadmapRepository, ai domain.AIClient, q *quota.Tracker, freeLimit int) *RoadmapService {
	return &RoadmapService{Roadmaps: repo, AI: ai, Quota: q, FreeLimit: freeLimit}
}

// CreateRoadmap validates and persists a new roadmap.
func (s *RoadmapService) CreateRoadmap(ctx domain.Context, userID, skill, level, goals string, weeklyHours int) (domain.Roadmap, error) {
	skill = strings.TrimSpace(skill)
	level = strings.TrimSpace(level)
	goals = strings.TrimSpace(goals)
	if skill == "" || level == "" {
		return domain.Roadmap{}, fmt.Errorf("%w: skill and level required", domain.ErrInvalidArgument)
	}
	now := time.Now().UTC()
	r := domain.Roadmap{
		UserID:      userID,
		Skill:       skill,
		Level:       level,
		Goals:       goals,
		WeeklyHours: weeklyHours,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	id, err := s.Roadmaps.Create(ctx, r)
	if err != nil {
		return domain.Roadmap{}, fmt.Errorf("op=roadmap.create: %w", err)
	}
	r.ID = id
	return r, nil
}

// ListRoadmaps returns the user's roadmaps.
func (s *RoadmapService) ListRoadmaps(ctx domain.Context, userID string) ([]domain.Roadmap, error) {
	return s.Roadmaps.ListByUser(ctx, userID)
}

// UpdateProgress sets roadmap completion, clamped to [0,100].
func (s *RoadmapService) UpdateProgress(ctx domain.Context, userID, id string, progress int) error {
	r, err := s.get(ctx, userID, id)
	if err != nil {
		return err
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	return s.Roadmaps.UpdateProgress(ctx, r.ID, progress)
}

// GetArtifacts returns the roadmap's artifacts, generating them on first
// access. Generation issues the resources and exams calls concurrently;
// either call failing degrades its field to an empty list while the
// other's result is preserved, so one upstream failure never fails the
// whole operation. Only a fully successful generation is cached, letting
// a later request fill in a degraded field.
func (s *RoadmapService) GetArtifacts(ctx domain.Context, user domain.User, id string) (domain.RoadmapArtifacts, error) {
	r, err := s.get(ctx, user.ID, id)
	if err != nil {
		return domain.RoadmapArtifacts{}, err
	}
	if len(r.Resources) > 0 || len(r.Exams) > 0 {
		return domain.RoadmapArtifacts{Resources: r.Resources, Exams: r.Exams}, nil
	}

	limit := user.Tier.DailyLimit(s.FreeLimit)
	if _, err := s.Quota.CheckAndConsume(ctx, user.ID, domain.EndpointRoadmap, limit); err != nil {
		observability.QuotaDeniedTotal.WithLabelValues(domain.EndpointRoadmap).Inc()
		return domain.RoadmapArtifacts{}, err
	}

	artifacts, complete := s.generate(ctx, r)
	if complete {
		if err := s.Roadmaps.SaveArtifacts(ctx, r.ID, artifacts); err != nil {
			slog.Warn("failed to cache roadmap artifacts", slog.String("roadmap_id", r.ID), slog.Any("error", err))
		}
		observability.ArtifactGenerationsTotal.WithLabelValues("ok").Inc()
	} else {
		observability.ArtifactGenerationsTotal.WithLabelValues("partial").Inc()
	}
	return artifacts, nil
}

// generate runs both artifact calls concurrently and joins the results.
func (s *RoadmapService) generate(ctx domain.Context, r domain.Roadmap) (domain.RoadmapArtifacts, bool) {
	resourcePrompt := fmt.Sprintf(
		"Suggest 3 high-quality learning resources (e.g., books, online courses, websites) for learning %s at %s level. Return as a JSON array of strings.",
		r.Skill, r.Level)
	examPrompt := fmt.Sprintf(
		"Suggest 1-2 relevant exams or certifications for completing a %s roadmap at %s level. Return as a JSON array of strings.",
		r.Skill, r.Level)

	var (
		wg        sync.WaitGroup
		resources []string
		exams     []string
		resOK     bool
		examOK    bool
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		resources, resOK = s.fetchList(ctx, r.ID, "resources", resourcePrompt, resourceMaxTokens)
	}()
	go func() {
		defer wg.Done()
		exams, examOK = s.fetchList(ctx, r.ID, "exams", examPrompt, examMaxTokens)
	}()
	wg.Wait()

	return domain.RoadmapArtifacts{Resources: resources, Exams: exams}, resOK && examOK
}

// fetchList dispatches one artifact prompt and parses the reply, degrading
// to an empty list on upstream failure or malformed output.
func (s *RoadmapService) fetchList(ctx domain.Context, roadmapID, shape, prompt string, maxTokens int) ([]string, bool) {
	raw, err := s.AI.Complete(ctx, []domain.ChatMessage{{Role: "user", Content: prompt}}, maxTokens)
	if err != nil {
		slog.Warn("artifact call failed, degrading to empty list",
			slog.String("roadmap_id", roadmapID),
			slog.String("shape", shape),
			slog.Any("error", err))
		return []string{}, false
	}
	list, ok := parser.ParseList(raw)
	if !ok {
		observability.ParseFailuresTotal.WithLabelValues(shape).Inc()
	}
	return list, ok
}

func (s *RoadmapService) get(ctx domain.Context, userID, id string) (domain.Roadmap, error) {
	r, err := s.Roadmaps.Get(ctx, id)
	if err != nil {
		return domain.Roadmap{}, err
	}
	if r.UserID != userID {
		return domain.Roadmap{}, fmt.Errorf("%w: roadmap %s", domain.ErrNotFound, id)
	}
	return r, nil
}
