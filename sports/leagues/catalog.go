package leagues

import (
	"github.com/XavierBriggs/Iris/internal/registry"
	"github.com/XavierBriggs/Iris/pkg/models"
	"github.com/rotisserie/eris"
)

// Catalog is the built-in league list
var Catalog = []models.League{
	{Key: "basketball_nba", DisplayName: "NBA", Tier: models.Tier1},
	{Key: "americanfootball_nfl", DisplayName: "NFL", Tier: models.Tier1},
	{Key: "soccer_epl", DisplayName: "Premier League", Tier: models.Tier1},
	{Key: "soccer_uefa_champs_league", DisplayName: "Champions League", Tier: models.Tier1},
	{Key: "baseball_mlb", DisplayName: "MLB", Tier: models.Tier2},
	{Key: "icehockey_nhl", DisplayName: "NHL", Tier: models.Tier2},
	{Key: "basketball_ncaab", DisplayName: "NCAA Basketball", Tier: models.Tier2},
	{Key: "americanfootball_ncaaf", DisplayName: "NCAA Football", Tier: models.Tier2},
	{Key: "soccer_spain_la_liga", DisplayName: "La Liga", Tier: models.Tier2},
	{Key: "soccer_germany_bundesliga", DisplayName: "Bundesliga", Tier: models.Tier2},
	{Key: "soccer_usa_mls", DisplayName: "MLS", Tier: models.Tier3},
	{Key: "basketball_wnba", DisplayName: "WNBA", Tier: models.Tier3},
	{Key: "tennis_atp", DisplayName: "ATP Tennis", Tier: models.Tier3},
}

// RegisterCatalog loads the built-in leagues into a registry
func RegisterCatalog(r *registry.LeagueRegistry) error {
	for _, league := range Catalog {
		if err := r.Register(league); err != nil {
			return eris.Wrapf(err, "register %s", league.Key)
		}
	}
	return nil
}
