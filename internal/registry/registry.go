package registry

import (
	"sort"
	"sync"

	"github.com/XavierBriggs/Iris/pkg/models"
	"github.com/rotisserie/eris"
)

// LeagueRegistry manages known leagues and their tiers
type LeagueRegistry struct {
	leagues map[string]models.League
	mu      sync.RWMutex
}

// NewLeagueRegistry creates an empty league registry
func NewLeagueRegistry() *LeagueRegistry {
	return &LeagueRegistry{
		leagues: make(map[string]models.League),
	}
}

// Register adds a league to the registry
func (r *LeagueRegistry) Register(league models.League) error {
	if league.Key == "" {
		return eris.New("league key cannot be empty")
	}
	if league.Tier < models.Tier1 || league.Tier > models.Tier3 {
		return eris.Errorf("league %s has invalid tier %d", league.Key, league.Tier)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.leagues[league.Key]; exists {
		return eris.Errorf("league %s is already registered", league.Key)
	}

	r.leagues[league.Key] = league
	return nil
}

// Get retrieves a league by key
func (r *LeagueRegistry) Get(key string) (models.League, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	league, exists := r.leagues[key]
	return league, exists
}

// GetAll returns all registered leagues ordered by tier then key
func (r *LeagueRegistry) GetAll() []models.League {
	r.mu.RLock()
	leagues := make([]models.League, 0, len(r.leagues))
	for _, league := range r.leagues {
		leagues = append(leagues, league)
	}
	r.mu.RUnlock()

	sort.Slice(leagues, func(i, j int) bool {
		if leagues[i].Tier != leagues[j].Tier {
			return leagues[i].Tier < leagues[j].Tier
		}
		return leagues[i].Key < leagues[j].Key
	})
	return leagues
}

// Count returns the number of registered leagues
func (r *LeagueRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.leagues)
}
