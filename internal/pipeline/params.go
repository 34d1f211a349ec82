package pipeline

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/geodbscan/internal/cluster"
	"github.com/sells-group/geodbscan/internal/db"
	"github.com/sells-group/geodbscan/internal/sink"
	"github.com/sells-group/geodbscan/internal/source"
	"github.com/sells-group/geodbscan/internal/table"
	"github.com/sells-group/geodbscan/internal/units"
)

// Params configures one clustering run. Exactly one of Source and Table
// must be set.
type Params struct {
	Source        string
	Table         *table.Table
	SourceOptions source.Options

	LatColumn string
	LonColumn string
	Epsilon   float64 // in Unit
	Unit      string
	MinPoints int
	Workers   int

	OutputDir string
	Format    string
	Schema    string // postgis only
	KeepNoise bool
	Plot      bool

	Quality          bool
	QualityMaxPoints int
}

// resolved holds validated, derived parameters.
type resolved struct {
	unit   string
	angle  float64
	format sink.Format
}

// validate checks the parameters and resolves the unit and format. It runs
// before any input is read.
func (p Params) validate() (resolved, error) {
	var r resolved
	switch {
	case p.Source == "" && p.Table == nil:
		return r, eris.New("pipeline: a source path or an in-memory table is required")
	case p.Source != "" && p.Table != nil:
		return r, eris.New("pipeline: set either a source path or an in-memory table, not both")
	}
	if p.LatColumn == "" || p.LonColumn == "" {
		return r, eris.New("pipeline: latitude and longitude column names are required")
	}
	if p.OutputDir == "" {
		return r, eris.New("pipeline: output dir is required")
	}

	unit, err := units.Canonical(p.Unit)
	if err != nil {
		return r, err
	}
	angle, err := units.ToAngular(p.Epsilon, unit)
	if err != nil {
		return r, err
	}
	if err := (cluster.Params{Epsilon: angle, MinPoints: p.MinPoints, Workers: p.Workers}).Validate(); err != nil {
		return r, err
	}

	format, err := sink.ParseFormat(p.Format)
	if err != nil {
		return r, err
	}
	return resolved{unit: unit, angle: angle, format: format}, nil
}

// Option customizes Run.
type Option func(*runner)

// WithClusterer replaces the DBSCAN clusterer.
func WithClusterer(c cluster.Clusterer) Option {
	return func(r *runner) { r.clusterer = c }
}

// WithPool sets the connection used by the postgis format.
func WithPool(p db.Pool) Option {
	return func(r *runner) { r.pool = p }
}
