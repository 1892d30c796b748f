// Package catalog is the single source of backend pricing and tier heuristics.
package catalog

import (
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"

	"storagetier/internal/models"
)

const bytesPerGB = 1024 * 1024 * 1024

// TierProfile describes the expected behaviour of packages in a tier.
type TierProfile struct {
	Tier           models.DataTier    `yaml:"tier"`
	OptimalBackend models.BackendName `yaml:"optimalBackend"`
	// DownloadRate is the fraction of stored bytes downloaded per month.
	DownloadRate float64 `yaml:"downloadRate"`
}

type Catalog struct {
	backends        map[models.BackendName]models.BackendCostProfile
	tiers           map[models.DataTier]TierProfile
	avgObjectSizeGB float64
	defaultBackend  models.BackendName
}

// FileOverrides is the YAML shape accepted by LoadFile.
type FileOverrides struct {
	AverageObjectSizeMB float64                     `yaml:"averageObjectSizeMB"`
	Backends            []models.BackendCostProfile `yaml:"backends"`
	Tiers               []TierProfile               `yaml:"tiers"`
}

func DefaultProfiles() []models.BackendCostProfile {
	return []models.BackendCostProfile{
		{BackendName: models.BackendS3, StorageCostPerGB: 0.023, BandwidthCostPerGB: 0.09, APICostPer1000: 0.005},
		{BackendName: models.BackendR2, StorageCostPerGB: 0.015, BandwidthCostPerGB: 0, APICostPer1000: 0.0045},
		{BackendName: models.BackendB2, StorageCostPerGB: 0.006, BandwidthCostPerGB: 0.01, APICostPer1000: 0.004},
		{BackendName: models.BackendWasabi, StorageCostPerGB: 0.0059, BandwidthCostPerGB: 0, APICostPer1000: 0, MinRetentionDays: 90},
	}
}

func DefaultTiers() []TierProfile {
	return []TierProfile{
		{Tier: models.TierHot, OptimalBackend: models.BackendR2, DownloadRate: 1.0},
		{Tier: models.TierWarm, OptimalBackend: models.BackendB2, DownloadRate: 0.2},
		{Tier: models.TierCold, OptimalBackend: models.BackendWasabi, DownloadRate: 0.02},
	}
}

func Default() *Catalog {
	c, err := New(DefaultProfiles(), DefaultTiers(), 50)
	if err != nil {
		panic(err)
	}
	return c
}

func New(profiles []models.BackendCostProfile, tiers []TierProfile, avgObjectSizeMB float64) (*Catalog, error) {
	c := &Catalog{
		backends:        map[models.BackendName]models.BackendCostProfile{},
		tiers:           map[models.DataTier]TierProfile{},
		avgObjectSizeGB: avgObjectSizeMB / 1024,
		defaultBackend:  models.BackendS3,
	}
	if avgObjectSizeMB <= 0 {
		return nil, fmt.Errorf("average object size must be positive, got %v MB", avgObjectSizeMB)
	}
	for _, p := range profiles {
		if err := validateProfile(p); err != nil {
			return nil, err
		}
		c.backends[p.BackendName] = p
	}
	for _, tp := range tiers {
		if !tp.Tier.Valid() {
			return nil, fmt.Errorf("unknown tier %q", tp.Tier)
		}
		if tp.DownloadRate < 0 {
			return nil, fmt.Errorf("tier %s: download rate must not be negative", tp.Tier)
		}
		if _, ok := c.backends[tp.OptimalBackend]; !ok {
			return nil, fmt.Errorf("tier %s: optimal backend %q has no cost profile", tp.Tier, tp.OptimalBackend)
		}
		c.tiers[tp.Tier] = tp
	}
	for _, tier := range models.AllTiers {
		if _, ok := c.tiers[tier]; !ok {
			return nil, fmt.Errorf("tier %s has no profile", tier)
		}
	}
	if _, ok := c.backends[c.defaultBackend]; !ok {
		return nil, fmt.Errorf("default backend %q has no cost profile", c.defaultBackend)
	}
	return c, nil
}

// LoadFile merges YAML overrides over the defaults.
func LoadFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	var overrides FileOverrides
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("parse catalog file %s: %w", path, err)
	}

	profiles := map[models.BackendName]models.BackendCostProfile{}
	for _, p := range DefaultProfiles() {
		profiles[p.BackendName] = p
	}
	for _, p := range overrides.Backends {
		if _, err := models.ParseBackendName(string(p.BackendName)); err != nil {
			return nil, err
		}
		profiles[p.BackendName] = p
	}
	tiers := map[models.DataTier]TierProfile{}
	for _, tp := range DefaultTiers() {
		tiers[tp.Tier] = tp
	}
	for _, tp := range overrides.Tiers {
		tiers[tp.Tier] = tp
	}

	avg := overrides.AverageObjectSizeMB
	if avg == 0 {
		avg = 50
	}
	mergedProfiles := make([]models.BackendCostProfile, 0, len(profiles))
	for _, p := range profiles {
		mergedProfiles = append(mergedProfiles, p)
	}
	mergedTiers := make([]TierProfile, 0, len(tiers))
	for _, tp := range tiers {
		mergedTiers = append(mergedTiers, tp)
	}
	return New(mergedProfiles, mergedTiers, avg)
}

func validateProfile(p models.BackendCostProfile) error {
	if p.BackendName == "" {
		return fmt.Errorf("cost profile without backend name")
	}
	if p.StorageCostPerGB <= 0 {
		return fmt.Errorf("backend %s: storage cost per GB must be positive", p.BackendName)
	}
	if p.BandwidthCostPerGB < 0 || p.APICostPer1000 < 0 || p.MinRetentionDays < 0 {
		return fmt.Errorf("backend %s: costs must not be negative", p.BackendName)
	}
	return nil
}

func (c *Catalog) Profile(name models.BackendName) (models.BackendCostProfile, bool) {
	p, ok := c.backends[name]
	return p, ok
}

// Profiles returns every known profile ordered by backend name.
func (c *Catalog) Profiles() []models.BackendCostProfile {
	out := make([]models.BackendCostProfile, 0, len(c.backends))
	for _, p := range c.backends {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BackendName < out[j].BackendName })
	return out
}

func (c *Catalog) Tier(tier models.DataTier) (TierProfile, bool) {
	tp, ok := c.tiers[tier]
	return tp, ok
}

// OptimalBackend maps a tier to its designated backend; unknown tiers get the general-purpose backend.
func (c *Catalog) OptimalBackend(tier models.DataTier) models.BackendName {
	if tp, ok := c.tiers[tier]; ok {
		return tp.OptimalBackend
	}
	return c.defaultBackend
}

func (c *Catalog) DefaultBackend() models.BackendName {
	return c.defaultBackend
}

func (c *Catalog) DownloadRate(tier models.DataTier) float64 {
	return c.tiers[tier].DownloadRate
}

func (c *Catalog) AverageObjectSizeGB() float64 {
	return c.avgObjectSizeGB
}

// Price returns monthly storage, bandwidth and total cost on a backend. Unknown backends cost nothing.
func (c *Catalog) Price(backend models.BackendName, storageGB, downloadGB float64) (storage, bandwidth, total float64) {
	p, ok := c.backends[backend]
	if !ok {
		return 0, 0, 0
	}
	s := decimal.NewFromFloat(storageGB).Mul(decimal.NewFromFloat(p.StorageCostPerGB))
	b := decimal.NewFromFloat(downloadGB).Mul(decimal.NewFromFloat(p.BandwidthCostPerGB))
	storage, _ = s.Float64()
	bandwidth, _ = b.Float64()
	total, _ = s.Add(b).Float64()
	return storage, bandwidth, total
}

// TierMonthlyCost prices sizeGB of data kept on the tier's optimal backend with the tier's download rate.
func (c *Catalog) TierMonthlyCost(tier models.DataTier, sizeGB float64) float64 {
	_, _, total := c.Price(c.OptimalBackend(tier), sizeGB, sizeGB*c.DownloadRate(tier))
	return total
}

// TierStorageCost is the storage-only part of TierMonthlyCost.
func (c *Catalog) TierStorageCost(tier models.DataTier, sizeGB float64) float64 {
	storage, _, _ := c.Price(c.OptimalBackend(tier), sizeGB, 0)
	return storage
}

func BytesToGB(n int64) float64 {
	return float64(n) / bytesPerGB
}
