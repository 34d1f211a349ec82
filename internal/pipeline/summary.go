package pipeline

import (
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/geodbscan/internal/quality"
)

// SummaryName is the file name of the run summary.
const SummaryName = "run_summary.yaml"

// PhaseStatus is the outcome of a pipeline phase.
type PhaseStatus string

// Phase statuses.
const (
	PhaseComplete PhaseStatus = "complete"
	PhaseFailed   PhaseStatus = "failed"
)

// Phase records one timed step of a run.
type Phase struct {
	Name       string      `yaml:"name"`
	Status     PhaseStatus `yaml:"status"`
	DurationMs int64       `yaml:"duration_ms"`
	Error      string      `yaml:"error,omitempty"`
}

// RunParams echoes the effective clustering parameters.
type RunParams struct {
	LatColumn    string  `yaml:"lat_column"`
	LonColumn    string  `yaml:"lon_column"`
	Epsilon      float64 `yaml:"epsilon"`
	Unit         string  `yaml:"unit"`
	EpsilonAngle float64 `yaml:"epsilon_radians"`
	MinPoints    int     `yaml:"min_points"`
	Workers      int     `yaml:"workers"`
	Format       string  `yaml:"format"`
	KeepNoise    bool    `yaml:"keep_noise"`
}

// Summary describes a completed run.
type Summary struct {
	RunID      string          `yaml:"run_id"`
	StartedAt  time.Time       `yaml:"started_at"`
	FinishedAt time.Time       `yaml:"finished_at"`
	Source     string          `yaml:"source"`
	Params     RunParams       `yaml:"params"`
	Points     int             `yaml:"points"`
	Clusters   int             `yaml:"clusters"`
	Noise      int             `yaml:"noise"`
	Exported   int             `yaml:"exported"`
	Quality    *quality.Report `yaml:"quality,omitempty"`
	Outputs    []string        `yaml:"outputs"`
	Phases     []Phase         `yaml:"phases"`
}

func newSummary(runID string, p Params, r resolved) Summary {
	src := p.Source
	if src == "" {
		src = "<in-memory table>"
	}
	return Summary{
		RunID:     runID,
		StartedAt: time.Now().UTC(),
		Source:    src,
		Params: RunParams{
			LatColumn:    p.LatColumn,
			LonColumn:    p.LonColumn,
			Epsilon:      p.Epsilon,
			Unit:         r.unit,
			EpsilonAngle: r.angle,
			MinPoints:    p.MinPoints,
			Workers:      p.Workers,
			Format:       string(r.format),
			KeepNoise:    p.KeepNoise,
		},
	}
}

// writeSummary writes <dir>/run_summary.yaml and returns its path.
func writeSummary(dir string, s Summary) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "pipeline: create output dir %s", dir)
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return "", eris.Wrap(err, "pipeline: marshal summary")
	}
	path := filepath.Join(dir, SummaryName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", eris.Wrap(err, "pipeline: write summary")
	}
	return path, nil
}

// ReadSummary loads a run summary written by Run.
func ReadSummary(path string) (*Summary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: read summary")
	}
	var s Summary
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, eris.Wrap(err, "pipeline: parse summary")
	}
	return &s, nil
}
