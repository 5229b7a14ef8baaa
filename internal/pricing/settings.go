package pricing

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"itemprice/internal/models"
)

// Settings holds every tunable of the aggregation pipeline. Values are in days
// unless the field name says otherwise.
type Settings struct {
	// Heightened tightens update cadence and widens the recency ladder during
	// volatile market periods.
	Heightened bool `yaml:"heightened"`

	RecencyWindows   []int `yaml:"recency_windows"`
	RecencyMinSample int   `yaml:"recency_min_sample"`

	MinUpdateDays   int           `yaml:"min_update_days"`
	MaxStaleDays    int           `yaml:"max_stale_days"`
	MaxLookbackDays int           `yaml:"max_lookback_days"`
	MarkerTTL       time.Duration `yaml:"marker_ttl"`

	// selection
	SelectMinCount      int      `yaml:"select_min_count"`
	SelectStaleMinCount int      `yaml:"select_stale_min_count"`
	ExcludedSources     []string `yaml:"excluded_sources"`

	// sampling
	MinGroupSize  int     `yaml:"min_group_size"`
	MaxOwners     int     `yaml:"max_owners"`
	MinSample     int     `yaml:"min_sample"`
	UserShopRatio float64 `yaml:"usershop_ratio"`

	// re-confirmation of an unchanged price
	ReconfirmVariation float64 `yaml:"reconfirm_variation"`
	ReconfirmMinPrice  int64   `yaml:"reconfirm_min_price"`
	ReconfirmDays      int     `yaml:"reconfirm_days"`

	// inflation detection
	InflationFloor         int64   `yaml:"inflation_floor"`
	InflationHighPrice     int64   `yaml:"inflation_high_price"`
	InflationVariation     float64 `yaml:"inflation_variation"`
	InflationHighVariation float64 `yaml:"inflation_high_variation"`
	DeflationDays          int     `yaml:"deflation_days"`
	DeflationVariation     float64 `yaml:"deflation_variation"`

	Workers int `yaml:"workers"`

	Now func() time.Time `yaml:"-"`
}

// DefaultSettings returns the production thresholds for the given mode.
func DefaultSettings(heightened bool) Settings {
	s := Settings{
		Heightened:             heightened,
		RecencyWindows:         []int{7, 15, 30},
		RecencyMinSample:       5,
		MinUpdateDays:          7,
		MaxStaleDays:           15,
		MaxLookbackDays:        60,
		MarkerTTL:              24 * time.Hour,
		SelectMinCount:         10,
		SelectStaleMinCount:    5,
		ExcludedSources:        []string{models.SourceRestock, models.SourceAuction},
		MinGroupSize:           3,
		MaxOwners:              30,
		MinSample:              5,
		UserShopRatio:          0.75,
		ReconfirmVariation:     5,
		ReconfirmMinPrice:      5000,
		ReconfirmDays:          15,
		InflationFloor:         75000,
		InflationHighPrice:     100000,
		InflationVariation:     70,
		InflationHighVariation: 50,
		DeflationDays:          30,
		DeflationVariation:     30,
		Workers:                4,
		Now:                    time.Now,
	}
	if heightened {
		s.RecencyWindows = []int{3, 7, 15, 30}
		s.RecencyMinSample = 7
		s.MinUpdateDays = 2
	}
	return s
}

// LoadSettings starts from DefaultSettings(heightened) and overlays the YAML file
// at path. A heightened key in the file switches the defaults it starts from.
func LoadSettings(path string, heightened bool) (Settings, error) {
	if path == "" {
		return DefaultSettings(heightened), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, eris.Wrapf(err, "read pricing settings %s", path)
	}

	var mode struct {
		Heightened *bool `yaml:"heightened"`
	}
	if err := yaml.Unmarshal(raw, &mode); err != nil {
		return Settings{}, eris.Wrapf(err, "parse pricing settings %s", path)
	}
	if mode.Heightened != nil {
		heightened = *mode.Heightened
	}

	s := DefaultSettings(heightened)
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Settings{}, eris.Wrapf(err, "parse pricing settings %s", path)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate rejects settings the pipeline cannot run with.
func (s Settings) Validate() error {
	if len(s.RecencyWindows) == 0 {
		return eris.New("recency_windows must not be empty")
	}
	for i := 1; i < len(s.RecencyWindows); i++ {
		if s.RecencyWindows[i] <= s.RecencyWindows[i-1] {
			return eris.New("recency_windows must be strictly ascending")
		}
	}
	if s.MaxOwners <= 0 {
		return eris.New("max_owners must be positive")
	}
	if s.UserShopRatio <= 0 || s.UserShopRatio > 1 {
		return eris.New("usershop_ratio must be in (0, 1]")
	}
	if s.MaxLookbackDays <= 0 || s.MaxStaleDays <= 0 {
		return eris.New("max_lookback_days and max_stale_days must be positive")
	}
	return nil
}

func (s Settings) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s Settings) workers() int {
	if s.Workers <= 0 {
		return 1
	}
	return s.Workers
}
