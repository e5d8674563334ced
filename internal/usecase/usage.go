package usecase

import (
	"github.com/fairyhunter13/skillpath-ai/internal/domain"
	"github.com/fairyhunter13/skillpath-ai/internal/service/quota"
)

// EndpointUsage is the per-endpoint usage snapshot shown to the user.
// Limit and Remaining are -1 for unlimited tiers.
type EndpointUsage struct {
	Endpoint     string `json:"endpoint"`
	RequestCount int    `json:"request_count"`
	Limit        int    `json:"limit"`
	Remaining    int    `json:"remaining"`
}

// UsageService reads daily usage counters for UI display. It never
// consumes quota.
type UsageService struct {
	Quota     *quota.Tracker
	FreeLimit int
}

// NewUsageService constructs a UsageService.
func NewUsageService(q *quota.Tracker, freeLimit int) UsageService {
	return UsageService{Quota: q, FreeLimit: freeLimit}
}

// Snapshot reports today's usage for every quota-gated endpoint.
func (s UsageService) Snapshot(ctx domain.Context, user domain.User) ([]EndpointUsage, error) {
	limit := user.Tier.DailyLimit(s.FreeLimit)
	endpoints := []string{domain.EndpointTutor, domain.EndpointRoadmap}
	out := make([]EndpointUsage, 0, len(endpoints))
	for _, ep := range endpoints {
		used, remaining, err := s.Quota.Remaining(ctx, user.ID, ep, limit)
		if err != nil {
			return nil, err
		}
		out = append(out, EndpointUsage{
			Endpoint:     ep,
			RequestCount: used,
			Limit:        limit,
			Remaining:    remaining,
		})
	}
	return out, nil
}
