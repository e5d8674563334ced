// Package auth provides authentication adapters. The platform's account
// system lives in a separate service; this package only maps bearer
// tokens onto users for this core.
package auth

import (
	"fmt"
	"strings"

	"github.com/fairyhunter13/skillpath-ai/internal/domain"
)

// StaticProvider resolves bearer tokens from a fixed in-memory table.
// It backs local development and tests; production deployments resolve
// tokens against the platform auth service instead.
type StaticProvider struct {
	users map[string]domain.User
}

// NewStaticProvider parses a comma-separated token table of the form
// "token=userID:tier". Unknown tiers default to free.
func NewStaticProvider(table string) (*StaticProvider, error) {
	p := &StaticProvider{users: make(map[string]domain.User)}
	for _, entry := range strings.Split(table, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		token, spec, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("%w: auth token entry %q", domain.ErrInvalidArgument, entry)
		}
		userID, tier, _ := strings.Cut(spec, ":")
		u := domain.User{ID: userID, Tier: domain.TierFree}
		switch domain.Tier(tier) {
		case domain.TierPaid, domain.TierElite:
			u.Tier = domain.Tier(tier)
		}
		p.users[strings.TrimSpace(token)] = u
	}
	return p, nil
}

// Resolve maps a token to its user or fails with ErrUnauthorized.
func (p *StaticProvider) Resolve(_ domain.Context, token string) (domain.User, error) {
	u, ok := p.users[token]
	if !ok {
		return domain.User{}, fmt.Errorf("%w: unknown token", domain.ErrUnauthorized)
	}
	return u, nil
}
