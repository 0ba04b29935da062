// Package catalog holds the reward configuration: trigger prices, daily caps,
// token economics and the learning reward rules. It is loaded and validated once
// at startup and is read-only afterwards.
package catalog

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/culturebridge/learning-engine/internal/models"
)

// allocationTolerance is how far the allocation shares may drift from 1.0
const allocationTolerance = 1e-6

// CommunityRewardsBucket is the allocation bucket funding user rewards
const CommunityRewardsBucket = "community_rewards"

// Reward is the price of one trigger kind
type Reward struct {
	Kind        models.TriggerKind `json:"kind"`
	USDValue    float64            `json:"usd_value"`
	Tokens      models.Amount      `json:"tokens"`
	Description string             `json:"description,omitempty"`
}

// LearningRules parameterise the session completion reward
type LearningRules struct {
	SessionBaseReward      models.Amount `json:"session_base_reward"`
	SpeedBonus             models.Amount `json:"speed_bonus"`
	SpeedBonusUnderSeconds int           `json:"speed_bonus_under_seconds"`
}

// Catalog is the validated reward configuration
type Catalog struct {
	TokenPriceUSD      float64                       `json:"token_price_usd"`
	Rewards            map[models.TriggerKind]Reward `json:"rewards"`
	DailyUserCap       models.Amount                 `json:"daily_user_cap"`
	InflationRate      float64                       `json:"inflation_rate"`
	BurnRate           float64                       `json:"burn_rate"`
	MinStakingDays     int                           `json:"min_staking_days"`
	UtilityPrices      map[string]models.Amount      `json:"utility_prices"`
	Allocation         map[string]float64            `json:"allocation"`
	TotalSupply        int64                         `json:"total_supply"`
	Learning           LearningRules                 `json:"learning"`
	AchievementRewards map[string]models.Amount      `json:"achievement_rewards"`
}

// catalogFile is the YAML layout; all token values are plain decimals
type catalogFile struct {
	TokenPriceUSD  float64                `yaml:"token_price_usd"`
	DailyUserCap   float64                `yaml:"daily_user_cap"`
	InflationRate  float64                `yaml:"inflation_rate"`
	BurnRate       float64                `yaml:"burn_rate"`
	MinStakingDays int                    `yaml:"min_staking_days"`
	TotalSupply    int64                  `yaml:"total_supply"`
	Rewards        map[string]rewardEntry `yaml:"rewards"`
	UtilityPrices  map[string]float64     `yaml:"utility_prices"`
	Allocation     map[string]float64     `yaml:"allocation"`
	Learning       struct {
		SessionBaseReward      float64 `yaml:"session_base_reward"`
		SpeedBonus             float64 `yaml:"speed_bonus"`
		SpeedBonusUnderSeconds int     `yaml:"speed_bonus_under_seconds"`
	} `yaml:"learning"`
	AchievementRewards map[string]float64 `yaml:"achievement_rewards"`
}

type rewardEntry struct {
	USDValue    float64 `yaml:"usd_value"`
	Description string  `yaml:"description"`
}

// rewardOverride is a file entry; absent fields keep the default's value
type rewardOverride struct {
	USDValue    *float64 `yaml:"usd_value"`
	Description *string  `yaml:"description"`
}

func defaultFile() *catalogFile {
	f := &catalogFile{
		TokenPriceUSD:  0.1,
		DailyUserCap:   100,
		InflationRate:  0.02,
		BurnRate:       0.01,
		MinStakingDays: 30,
		TotalSupply:    1_000_000_000,
		Rewards: map[string]rewardEntry{
			string(models.TriggerDailyLogin):            {0.5, "daily login"},
			string(models.TriggerWeeklyActive):          {2.0, "active every day of the week"},
			string(models.TriggerContentCreation):       {1.0, "published a post"},
			string(models.TriggerComment):               {0.2, "commented on a post"},
			string(models.TriggerLikeReceived):          {0.1, "post liked by another user"},
			string(models.TriggerShare):                 {0.3, "shared content"},
			string(models.TriggerCulturalExchange):      {2.5, "created a cultural exchange"},
			string(models.TriggerExchangeParticipation): {1.5, "joined a cultural exchange"},
			string(models.TriggerLanguageExchange):      {1.0, "completed a language exchange"},
			string(models.TriggerLearningReward):        {0.2, "learning milestone"},
			string(models.TriggerVoiceTranslation):      {0.05, "used voice translation"},
			string(models.TriggerReferral):              {5.0, "referred a new member"},
			string(models.TriggerCommunityContribution): {3.0, "community contribution"},
		},
		UtilityPrices: map[string]float64{
			"premium_month":      50,
			"translation_minute": 1,
			"exchange_boost":     20,
			"profile_badge":      10,
		},
		Allocation: map[string]float64{
			CommunityRewardsBucket:  0.40,
			"ecosystem_development": 0.20,
			"team":                  0.15,
			"treasury":              0.15,
			"liquidity":             0.10,
		},
		AchievementRewards: map[string]float64{
			"FIRST_LESSON":      5,
			"WEEK_STREAK":       10,
			"MONTH_STREAK":      50,
			"PERFECT_SCORE":     15,
			"VOCABULARY_MASTER": 100,
			"CULTURAL_EXPLORER": 30,
		},
	}
	f.Learning.SessionBaseReward = 2
	f.Learning.SpeedBonus = 0.5
	f.Learning.SpeedBonusUnderSeconds = 300
	return f
}

// Default returns the built-in catalog
func Default() *Catalog {
	c, err := build(defaultFile())
	if err != nil {
		panic(fmt.Sprintf("default reward catalog is invalid: %v", err))
	}
	return c
}

// LoadFile overlays the YAML file at path onto the defaults and validates the result
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read reward catalog: %w", err)
	}
	return Parse(data)
}

// Parse overlays YAML data onto the defaults and validates the result.
// Scalars and the learning rules override per key, reward entries per field, and
// an allocation table in the file replaces the default table as a whole.
func Parse(data []byte) (*Catalog, error) {
	f := defaultFile()
	defaultRewards, defaultAllocation := f.Rewards, f.Allocation
	f.Rewards, f.Allocation = nil, nil

	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("failed to parse reward catalog: %w", err)
	}
	var overrides struct {
		Rewards map[string]rewardOverride `yaml:"rewards"`
	}
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("failed to parse reward catalog: %w", err)
	}

	if f.Allocation == nil {
		f.Allocation = defaultAllocation
	}
	f.Rewards = mergeRewards(defaultRewards, overrides.Rewards)
	return build(f)
}

func mergeRewards(defaults map[string]rewardEntry, overrides map[string]rewardOverride) map[string]rewardEntry {
	out := make(map[string]rewardEntry, len(defaults)+len(overrides))
	for kind, entry := range defaults {
		out[kind] = entry
	}
	for kind, o := range overrides {
		entry := out[kind]
		if o.USDValue != nil {
			entry.USDValue = *o.USDValue
		}
		if o.Description != nil {
			entry.Description = *o.Description
		}
		out[kind] = entry
	}
	return out
}

func build(f *catalogFile) (*Catalog, error) {
	if f.TokenPriceUSD <= 0 {
		return nil, fmt.Errorf("token_price_usd must be positive, got %v", f.TokenPriceUSD)
	}

	c := &Catalog{
		TokenPriceUSD:      f.TokenPriceUSD,
		Rewards:            make(map[models.TriggerKind]Reward, len(f.Rewards)),
		DailyUserCap:       models.AmountFromFloat(f.DailyUserCap),
		InflationRate:      f.InflationRate,
		BurnRate:           f.BurnRate,
		MinStakingDays:     f.MinStakingDays,
		UtilityPrices:      make(map[string]models.Amount, len(f.UtilityPrices)),
		Allocation:         f.Allocation,
		TotalSupply:        f.TotalSupply,
		AchievementRewards: make(map[string]models.Amount, len(f.AchievementRewards)),
		Learning: LearningRules{
			SessionBaseReward:      models.AmountFromFloat(f.Learning.SessionBaseReward),
			SpeedBonus:             models.AmountFromFloat(f.Learning.SpeedBonus),
			SpeedBonusUnderSeconds: f.Learning.SpeedBonusUnderSeconds,
		},
	}

	for kind, entry := range f.Rewards {
		k := models.TriggerKind(kind)
		c.Rewards[k] = Reward{
			Kind:        k,
			USDValue:    entry.USDValue,
			Tokens:      models.AmountFromFloat(entry.USDValue / f.TokenPriceUSD),
			Description: entry.Description,
		}
	}
	for name, price := range f.UtilityPrices {
		c.UtilityPrices[name] = models.AmountFromFloat(price)
	}
	for id, reward := range f.AchievementRewards {
		c.AchievementRewards[id] = models.AmountFromFloat(reward)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks that every required key is present and the allocation sums to 1
func (c *Catalog) Validate() error {
	if c.TokenPriceUSD <= 0 {
		return fmt.Errorf("token_price_usd must be positive")
	}

	for _, kind := range models.TriggerKinds {
		r, ok := c.Rewards[kind]
		if !ok {
			return fmt.Errorf("reward for trigger kind %s is required", kind)
		}
		if r.Tokens <= 0 {
			return fmt.Errorf("reward for trigger kind %s must be positive", kind)
		}
	}

	if c.DailyUserCap <= 0 {
		return fmt.Errorf("daily_user_cap must be positive")
	}
	if c.InflationRate < 0 || c.InflationRate >= 1 {
		return fmt.Errorf("inflation_rate must be in [0,1), got %v", c.InflationRate)
	}
	if c.BurnRate < 0 || c.BurnRate >= 1 {
		return fmt.Errorf("burn_rate must be in [0,1), got %v", c.BurnRate)
	}
	if c.MinStakingDays < 0 {
		return fmt.Errorf("min_staking_days must not be negative")
	}
	if c.TotalSupply <= 0 {
		return fmt.Errorf("total_supply must be positive")
	}

	for name, price := range c.UtilityPrices {
		if price <= 0 {
			return fmt.Errorf("utility price %s must be positive", name)
		}
	}

	if _, ok := c.Allocation[CommunityRewardsBucket]; !ok {
		return fmt.Errorf("allocation bucket %s is required", CommunityRewardsBucket)
	}
	var sum float64
	for bucket, share := range c.Allocation {
		if share < 0 {
			return fmt.Errorf("allocation share %s must not be negative", bucket)
		}
		sum += share
	}
	if math.Abs(sum-1.0) > allocationTolerance {
		return fmt.Errorf("allocation shares must sum to 1.0, got %v", sum)
	}

	if c.Learning.SessionBaseReward <= 0 {
		return fmt.Errorf("learning.session_base_reward must be positive")
	}
	if c.Learning.SpeedBonus < 0 {
		return fmt.Errorf("learning.speed_bonus must not be negative")
	}
	if c.Learning.SpeedBonusUnderSeconds <= 0 {
		return fmt.Errorf("learning.speed_bonus_under_seconds must be positive")
	}

	for id, reward := range c.AchievementRewards {
		if reward <= 0 {
			return fmt.Errorf("achievement reward %s must be positive", id)
		}
	}

	return nil
}

// Lookup returns the reward priced for kind
func (c *Catalog) Lookup(kind models.TriggerKind) (Reward, bool) {
	r, ok := c.Rewards[kind]
	return r, ok
}

// AchievementReward returns the fixed reward of an achievement
func (c *Catalog) AchievementReward(id string) (models.Amount, bool) {
	r, ok := c.AchievementRewards[id]
	return r, ok
}

// RewardPoolSize is the community rewards share of the total supply
func (c *Catalog) RewardPoolSize() models.Amount {
	share := c.Allocation[CommunityRewardsBucket]
	return models.AmountFromFloat(float64(c.TotalSupply) * share)
}

// SortedRewards returns rewards ordered by kind, for listing
func (c *Catalog) SortedRewards() []Reward {
	out := make([]Reward, 0, len(c.Rewards))
	for _, r := range c.Rewards {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// Load returns the catalog at path, or the defaults when path is empty
func Load(path string) (*Catalog, error) {
	if path == "" {
		slog.Info("using built-in reward catalog")
		return Default(), nil
	}

	c, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	slog.Info("reward catalog loaded",
		"file", path,
		"kinds", len(c.Rewards),
		"daily_cap", c.DailyUserCap.String(),
	)
	return c, nil
}
