package pipeline

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/stratalloc/internal/config"
	"github.com/ajitpratap0/stratalloc/pkg/timeseries"
)

// Manifest summarizes a run next to its outputs
type Manifest struct {
	RunID         string         `yaml:"run_id"`
	Version       string         `yaml:"version"`
	Algorithm     string         `yaml:"algorithm"`
	Metric        string         `yaml:"metric"`
	InSampleDays  int            `yaml:"in_sample_days"`
	OutSampleDays int            `yaml:"out_sample_days"`
	Contracts     [2]int         `yaml:"contracts,flow"`
	Realtime      bool           `yaml:"realtime"`
	Windows       int            `yaml:"windows"`
	CachedWindows int            `yaml:"cached_windows"`
	Strategies    []string       `yaml:"strategies"`
	EffectiveDate string         `yaml:"effective_date,omitempty"`
	Profit        ManifestProfit `yaml:"profit"`
	Files         []string       `yaml:"files"`
	StartedAt     time.Time      `yaml:"started_at"`
	Duration      string         `yaml:"duration"`
}

// ManifestProfit is the headline of the profit report
type ManifestProfit struct {
	Total       float64 `yaml:"total"`
	MaxDrawdown float64 `yaml:"max_drawdown"`
	Days        int     `yaml:"days"`
}

// NewManifest builds the manifest of out
func NewManifest(runID uuid.UUID, cfg *config.Config, out *Outcome, started time.Time) Manifest {
	m := Manifest{
		RunID:         runID.String(),
		Version:       config.Version,
		Algorithm:     out.Algorithm,
		Metric:        out.Metric,
		InSampleDays:  cfg.Run.InSampleDays,
		OutSampleDays: cfg.Run.OutSampleDays,
		Contracts:     [2]int{cfg.Run.ContractsMin, cfg.Run.ContractsMax},
		Realtime:      cfg.Run.Realtime,
		Windows:       len(out.Summary.Windows),
		Strategies:    out.Table.Strategies(),
		Profit: ManifestProfit{
			Total:       out.Profit.TotalProfit,
			MaxDrawdown: out.Profit.MaxDrawdown,
			Days:        out.Profit.Days,
		},
		Files:     append([]string(nil), out.Files...),
		StartedAt: started.UTC(),
		Duration:  time.Since(started).Round(time.Millisecond).String(),
	}
	for _, w := range out.Summary.Windows {
		if w.Cached {
			m.CachedWindows++
		}
	}
	if d := out.Table.LatestDate(); !d.IsZero() {
		m.EffectiveDate = d.Format(timeseries.DateLayout)
	}
	return m
}

// Save writes the manifest as YAML
func (m Manifest) Save(path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { // #nosec G306 -- manifest is not sensitive
		return fmt.Errorf("failed to write manifest %s: %w", path, err)
	}
	return nil
}

// LoadManifest reads a manifest written by Save
func LoadManifest(path string) (Manifest, error) {
	var m Manifest
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from operator configuration
	if err != nil {
		return m, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return m, fmt.Errorf("failed to decode manifest %s: %w", path, err)
	}
	return m, nil
}
