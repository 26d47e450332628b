package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// SpendPolicy controls what happens when a spend request exceeds the user's
// live balance.
type SpendPolicy string

const (
	// SpendPolicyAllowOverage deducts what is available, logs the shortfall
	// and lets the request through.
	SpendPolicyAllowOverage SpendPolicy = "allow-overage"
	// SpendPolicyBlock rejects the request before any balance is touched.
	SpendPolicyBlock SpendPolicy = "block-on-insufficient"
)

// PlanConfig describes a subscription plan in the pricing catalog.
type PlanConfig struct {
	ID             string            `mapstructure:"id"`
	Aliases        []string          `mapstructure:"aliases"`
	Pro            bool              `mapstructure:"pro"`
	MonthlyCredits int64             `mapstructure:"monthlyCredits"`
	YearlyCredits  int64             `mapstructure:"yearlyCredits"`
	ProductIDs     map[string]string `mapstructure:"productIds"` // cycle -> provider product id
}

// PackConfig describes a one-time credit pack.
type PackConfig struct {
	ID        string `mapstructure:"id"`
	Credits   int64  `mapstructure:"credits"`
	ProductID string `mapstructure:"productId"`
}

// ModelCostConfig sets the per-image cost for a model at a resolution.
// Resolution "*" matches any resolution for that model.
type ModelCostConfig struct {
	Model      string `mapstructure:"model"`
	Resolution string `mapstructure:"resolution"`
	Credits    int64  `mapstructure:"credits"`
}

// PricingConfig is the full pricing catalog.
type PricingConfig struct {
	Plans               []PlanConfig      `mapstructure:"plans"`
	Packs               []PackConfig      `mapstructure:"packs"`
	ModelCosts          []ModelCostConfig `mapstructure:"modelCosts"`
	DefaultCost         int64             `mapstructure:"defaultCost"`
	StarterCredits      int64             `mapstructure:"starterCredits"`
	LegacyBalanceKeys   []string          `mapstructure:"legacyBalanceKeys"`
	SpendPolicy         SpendPolicy       `mapstructure:"spendPolicy"`
	GenerationModels    []string          `mapstructure:"generationModels"`
	DefaultGenerationMo string            `mapstructure:"defaultModel"`
}

// DefaultPricingConfig returns the catalog used when no pricing.yml is found.
func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		Plans: []PlanConfig{
			{
				ID:             "pro",
				Aliases:        []string{"professional"},
				Pro:            true,
				MonthlyCredits: 800,
				YearlyCredits:  9600,
			},
			{
				ID:             "team",
				Pro:            true,
				MonthlyCredits: 2400,
				YearlyCredits:  28800,
			},
			{
				ID:             "enterprise",
				Pro:            true,
				MonthlyCredits: 8000,
				YearlyCredits:  96000,
			},
		},
		Packs: []PackConfig{
			{ID: "starter-pack", Credits: 100},
			{ID: "creator-pack", Credits: 500},
			{ID: "studio-pack", Credits: 2000},
		},
		ModelCosts: []ModelCostConfig{
			{Model: "flux-schnell", Resolution: "*", Credits: 1},
			{Model: "flux-dev", Resolution: "*", Credits: 2},
			{Model: "flux-pro", Resolution: "1024x1024", Credits: 4},
			{Model: "flux-pro", Resolution: "*", Credits: 5},
		},
		DefaultCost:       2,
		StarterCredits:    10,
		LegacyBalanceKeys: []string{"credits", "credit", "freeCredits"},
		SpendPolicy:       SpendPolicyAllowOverage,
	}
}

// PricingHolder exposes the current catalog and hot-reloads it on file change.
type PricingHolder struct {
	current atomic.Value // holds PricingConfig
}

// NewPricingHolder loads pricing.yml (volume-mounted, system, or cwd) and
// watches it for changes. Missing file falls back to defaults.
func NewPricingHolder() (*PricingHolder, error) {
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/pixelmuse/config")
	v.AddConfigPath("/etc/pixelmuse")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PIXELMUSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := DefaultPricingConfig()
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	} else {
		if err := v.UnmarshalKey("pricing", &cfg); err != nil {
			return nil, err
		}
	}
	cfg = withPricingDefaults(cfg)
	if err := validatePricingConfig(cfg); err != nil {
		return nil, err
	}

	holder := &PricingHolder{}
	holder.current.Store(cfg)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PricingConfig
		if err := v.UnmarshalKey("pricing", &updated); err != nil {
			log.Printf("[pricing-config] reload failed: %v", err)
			return
		}
		updated = withPricingDefaults(updated)
		if err := validatePricingConfig(updated); err != nil {
			log.Printf("[pricing-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[pricing-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

// Get returns the current catalog snapshot.
func (h *PricingHolder) Get() PricingConfig {
	return h.current.Load().(PricingConfig)
}

// Store replaces the current catalog. Used by tests.
func (h *PricingHolder) Store(cfg PricingConfig) {
	h.current.Store(withPricingDefaults(cfg))
}

func withPricingDefaults(cfg PricingConfig) PricingConfig {
	if cfg.DefaultCost <= 0 {
		cfg.DefaultCost = DefaultPricingConfig().DefaultCost
	}
	if cfg.StarterCredits < 0 {
		cfg.StarterCredits = 0
	}
	if len(cfg.LegacyBalanceKeys) == 0 {
		cfg.LegacyBalanceKeys = DefaultPricingConfig().LegacyBalanceKeys
	}
	switch cfg.SpendPolicy {
	case SpendPolicyAllowOverage, SpendPolicyBlock:
	default:
		cfg.SpendPolicy = SpendPolicyAllowOverage
	}
	return cfg
}

func validatePricingConfig(cfg PricingConfig) error {
	if len(cfg.Plans) == 0 {
		return errors.New("pricing.plans cannot be empty")
	}
	seen := map[string]struct{}{}
	for _, plan := range cfg.Plans {
		id := strings.ToLower(strings.TrimSpace(plan.ID))
		if id == "" {
			return errors.New("pricing plan id cannot be empty")
		}
		if _, ok := seen[id]; ok {
			return errors.New("duplicate pricing plan id: " + id)
		}
		seen[id] = struct{}{}
	}
	for _, pack := range cfg.Packs {
		if strings.TrimSpace(pack.ID) == "" {
			return errors.New("pricing pack id cannot be empty")
		}
		if pack.Credits <= 0 {
			return errors.New("pricing pack credits must be positive")
		}
	}
	return nil
}

// PlanByID resolves a plan by id or alias, case-insensitively.
func (c PricingConfig) PlanByID(id string) (PlanConfig, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return PlanConfig{}, false
	}
	for _, plan := range c.Plans {
		if strings.ToLower(plan.ID) == id {
			return plan, true
		}
		for _, alias := range plan.Aliases {
			if strings.ToLower(strings.TrimSpace(alias)) == id {
				return plan, true
			}
		}
	}
	return PlanConfig{}, false
}

// PackByID resolves a pack by id, case-insensitively.
func (c PricingConfig) PackByID(id string) (PackConfig, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return PackConfig{}, false
	}
	for _, pack := range c.Packs {
		if strings.ToLower(pack.ID) == id {
			return pack, true
		}
	}
	return PackConfig{}, false
}

// IsProPlan reports whether the plan id (or alias) belongs to a pro-tier plan.
func (c PricingConfig) IsProPlan(id string) bool {
	plan, ok := c.PlanByID(id)
	return ok && plan.Pro
}

// CreditsForCycle returns the credit amount a plan grants per billing cycle.
func (p PlanConfig) CreditsForCycle(cycle string) int64 {
	switch strings.ToLower(strings.TrimSpace(cycle)) {
	case "yearly":
		return p.YearlyCredits
	default:
		return p.MonthlyCredits
	}
}

// CostFor returns the per-image credit cost for a model at a resolution.
// Exact resolution match wins over the model's "*" entry; unknown models fall
// back to DefaultCost.
func (c PricingConfig) CostFor(model, resolution string) int64 {
	model = strings.ToLower(strings.TrimSpace(model))
	resolution = strings.ToLower(strings.TrimSpace(resolution))

	var wildcard int64
	for _, mc := range c.ModelCosts {
		if strings.ToLower(mc.Model) != model {
			continue
		}
		switch strings.ToLower(mc.Resolution) {
		case resolution:
			return mc.Credits
		case "*":
			wildcard = mc.Credits
		}
	}
	if wildcard > 0 {
		return wildcard
	}
	return c.DefaultCost
}
