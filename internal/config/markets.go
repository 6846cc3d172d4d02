package config

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/atmx/betslip-engine/internal/model"
)

// marketsFile is the layout of a market fixtures file.
type marketsFile struct {
	Markets []marketFixture `yaml:"markets"`
}

type marketFixture struct {
	ID               string `yaml:"id"`
	HomeTeam         string `yaml:"home_team"`
	AwayTeam         string `yaml:"away_team"`
	TimeUntilKickoff int64  `yaml:"time_until_kickoff"`
	Round            int    `yaml:"round"`
	Volume           string `yaml:"volume"`
	Odds             struct {
		HomeWin string `yaml:"home_win"`
		Draw    string `yaml:"draw"`
		AwayWin string `yaml:"away_win"`
	} `yaml:"odds"`
}

// LoadMarkets reads market fixtures from a YAML file.
func LoadMarkets(path string) ([]model.Market, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.LoadMarkets: read %q: %w", path, err)
	}
	return ParseMarkets(data)
}

// ParseMarkets decodes market fixtures. Every odds value must be a
// positive decimal and IDs must be unique.
func ParseMarkets(data []byte) ([]model.Market, error) {
	var f marketsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config.ParseMarkets: parse YAML: %w", err)
	}

	seen := make(map[string]bool, len(f.Markets))
	markets := make([]model.Market, 0, len(f.Markets))
	for _, fx := range f.Markets {
		if fx.ID == "" {
			return nil, fmt.Errorf("config.ParseMarkets: market without id")
		}
		if seen[fx.ID] {
			return nil, fmt.Errorf("config.ParseMarkets: duplicate market %s", fx.ID)
		}
		seen[fx.ID] = true

		m := model.Market{
			ID:        fx.ID,
			HomeTeam:  fx.HomeTeam,
			AwayTeam:  fx.AwayTeam,
			KickoffIn: fx.TimeUntilKickoff,
			Round:     fx.Round,
		}
		for _, p := range []struct {
			name string
			raw  string
			dst  *decimal.Decimal
		}{
			{"home_win", fx.Odds.HomeWin, &m.Odds.Home},
			{"draw", fx.Odds.Draw, &m.Odds.Draw},
			{"away_win", fx.Odds.AwayWin, &m.Odds.Away},
		} {
			v, err := decimal.NewFromString(p.raw)
			if err != nil || !v.IsPositive() {
				return nil, fmt.Errorf("config.ParseMarkets: market %s %s odds %q invalid", fx.ID, p.name, p.raw)
			}
			*p.dst = v
		}
		if fx.Volume != "" {
			v, err := decimal.NewFromString(fx.Volume)
			if err != nil || v.IsNegative() {
				return nil, fmt.Errorf("config.ParseMarkets: market %s volume %q invalid", fx.ID, fx.Volume)
			}
			m.Volume = v
		}
		markets = append(markets, m)
	}
	return markets, nil
}
