package postgres

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/skillpath-ai/internal/domain"
)

// RoadmapRepo persists and loads roadmaps. Artifacts are stored as text
// arrays on the roadmap row; empty arrays mean "not yet generated".
type RoadmapRepo struct{ Pool PgxPool }

// NewRoadmapRepo constructs a RoadmapRepo with the given pool.
func NewRoadmapRepo(p PgxPool) *RoadmapRepo { return &RoadmapRepo{Pool: p} }

// Create inserts a new roadmap and returns its id.
func (r *RoadmapRepo) Create(ctx domain.Context, m domain.Roadmap) (string, error) {
	tracer := otel.Tracer("repo.roadmaps")
	ctx, span := tracer.Start(ctx, "roadmaps.Create")
	defer span.End()
	id := m.ID
	if id == "" {
		id = uuid.New().String()
	}
	q := `INSERT INTO roadmaps (id, user_id, skill, level, goals, weekly_hours, progress, resources, exams, created_at, updated_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err := r.Pool.Exec(ctx, q, id, m.UserID, m.Skill, m.Level, m.Goals, m.WeeklyHours, m.Progress,
		m.Resources, m.Exams, time.Now().UTC(), time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("op=roadmap.create: %w", err)
	}
	return id, nil
}

// Get loads a roadmap by id.
func (r *RoadmapRepo) Get(ctx domain.Context, id string) (domain.Roadmap, error) {
	tracer := otel.Tracer("repo.roadmaps")
	ctx, span := tracer.Start(ctx, "roadmaps.Get")
	defer span.End()
	q := `SELECT id, user_id, skill, level, COALESCE(goals,''), weekly_hours, progress,
	             COALESCE(resources,'{}'), COALESCE(exams,'{}'), created_at, updated_at
	      FROM roadmaps WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var m domain.Roadmap
	if err := row.Scan(&m.ID, &m.UserID, &m.Skill, &m.Level, &m.Goals, &m.WeeklyHours, &m.Progress,
		&m.Resources, &m.Exams, &m.CreatedAt, &m.UpdatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Roadmap{}, fmt.Errorf("op=roadmap.get: %w", domain.ErrNotFound)
		}
		return domain.Roadmap{}, fmt.Errorf("op=roadmap.get: %w", err)
	}
	return m, nil
}

// ListByUser returns the user's roadmaps, newest first.
func (r *RoadmapRepo) ListByUser(ctx domain.Context, userID string) ([]domain.Roadmap, error) {
	tracer := otel.Tracer("repo.roadmaps")
	ctx, span := tracer.Start(ctx, "roadmaps.ListByUser")
	defer span.End()
	q := `SELECT id, user_id, skill, level, COALESCE(goals,''), weekly_hours, progress,
	             COALESCE(resources,'{}'), COALESCE(exams,'{}'), created_at, updated_at
	      FROM roadmaps WHERE user_id=$1 ORDER BY created_at DESC`
	rows, err := r.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("op=roadmap.list: %w", err)
	}
	defer rows.Close()
	var out []domain.Roadmap
	for rows.Next() {
		var m domain.Roadmap
		if err := rows.Scan(&m.ID, &m.UserID, &m.Skill, &m.Level, &m.Goals, &m.WeeklyHours, &m.Progress,
			&m.Resources, &m.Exams, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("op=roadmap.list: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SaveArtifacts stores generated artifacts on the roadmap row.
func (r *RoadmapRepo) SaveArtifacts(ctx domain.Context, id string, a domain.RoadmapArtifacts) error {
	tracer := otel.Tracer("repo.roadmaps")
	ctx, span := tracer.Start(ctx, "roadmaps.SaveArtifacts")
	defer span.End()
	q := `UPDATE roadmaps SET resources=$2, exams=$3, updated_at=$4 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, a.Resources, a.Exams, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=roadmap.save_artifacts: %w", err)
	}
	return nil
}

// UpdateProgress sets the roadmap's completion percentage.
func (r *RoadmapRepo) UpdateProgress(ctx domain.Context, id string, progress int) error {
	tracer := otel.Tracer("repo.roadmaps")
	ctx, span := tracer.Start(ctx, "roadmaps.UpdateProgress")
	defer span.End()
	q := `UPDATE roadmaps SET progress=$2, updated_at=$3 WHERE id=$1`
	if _, err := r.Pool.Exec(ctx, q, id, progress, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=roadmap.update_progress: %w", err)
	}
	return nil
}
