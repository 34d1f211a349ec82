// Package pipeline drives one clustering run end to end: load, cluster,
// aggregate, score, export and summarize.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geodbscan/internal/cluster"
	"github.com/sells-group/geodbscan/internal/db"
	"github.com/sells-group/geodbscan/internal/quality"
	"github.com/sells-group/geodbscan/internal/sink"
	"github.com/sells-group/geodbscan/internal/source"
	"github.com/sells-group/geodbscan/internal/table"
)

// Result is the outcome of a run.
type Result struct {
	RunID    string
	Labels   cluster.Labels // one per input row, noise included
	Clusters []cluster.Aggregate
	Points   *table.Table // exported rows with the cluster_label column
	Quality  *quality.Report
	Outputs  []string
	Summary  Summary
}

type runner struct {
	clusterer cluster.Clusterer
	pool      db.Pool
}

// Run executes a clustering run.
func Run(ctx context.Context, p Params, opts ...Option) (*Result, error) {
	r := &runner{clusterer: cluster.DBSCAN{}}
	for _, o := range opts {
		o(r)
	}

	res, err := p.validate()
	if err != nil {
		return nil, err
	}

	result := &Result{RunID: uuid.NewString()}
	sum := newSummary(result.RunID, p, res)
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("run_id", result.RunID))
	log.Info("pipeline: starting run",
		zap.String("source", sum.Source),
		zap.Float64("epsilon", p.Epsilon),
		zap.String("unit", res.unit),
		zap.Int("min_points", p.MinPoints),
		zap.String("format", string(res.format)),
	)

	track := func(name string, fn func() error) error {
		start := time.Now()
		err := fn()
		phase := Phase{Name: name, DurationMs: time.Since(start).Milliseconds(), Status: PhaseComplete}
		if err != nil {
			phase.Status = PhaseFailed
			phase.Error = err.Error()
			log.Error("pipeline: phase failed", zap.String("phase", name), zap.Int64("duration_ms", phase.DurationMs), zap.Error(err))
		} else {
			log.Info("pipeline: phase complete", zap.String("phase", name), zap.Int64("duration_ms", phase.DurationMs))
		}
		sum.Phases = append(sum.Phases, phase)
		return err
	}

	var (
		tbl        *table.Table
		lats, lons []float64
	)
	if err := track("load", func() error {
		var err error
		tbl, err = load(ctx, p)
		if err != nil {
			return err
		}
		if err := tbl.EnsureCoordinates(p.LatColumn, p.LonColumn); err != nil {
			return eris.Wrap(err, "pipeline: coordinates")
		}
		lats, lons, err = tbl.Coordinates(p.LatColumn, p.LonColumn)
		return err
	}); err != nil {
		return nil, err
	}
	sum.Points = tbl.Len()

	if err := track("cluster", func() error {
		coords, err := cluster.ToRadians(lats, lons)
		if err != nil {
			return err
		}
		result.Labels, err = r.clusterer.Cluster(ctx, coords, cluster.Params{
			Epsilon:   res.angle,
			MinPoints: p.MinPoints,
			Workers:   p.Workers,
		})
		if err != nil {
			return err
		}
		if len(result.Labels) != len(coords) {
			return eris.Errorf("pipeline: clusterer returned %d labels for %d points", len(result.Labels), len(coords))
		}
		result.Clusters, err = cluster.Summarize(result.Labels, lats, lons)
		return err
	}); err != nil {
		return nil, err
	}
	sum.Clusters, sum.Noise = result.Labels.Counts()

	if p.Quality {
		if err := track("quality", func() error {
			rep, err := quality.Evaluate(ctx, lats, lons, result.Labels, quality.Options{
				Workers:   p.Workers,
				MaxPoints: p.QualityMaxPoints,
			})
			if err != nil {
				return err
			}
			result.Quality = &rep
			return nil
		}); err != nil {
			return nil, err
		}
		sum.Quality = result.Quality
	}

	if err := track("export", func() error {
		labeled, err := tbl.WithColumn(sink.LabelColumn, result.Labels.Values())
		if err != nil {
			return err
		}
		result.Points = labeled
		if !p.KeepNoise {
			result.Points = labeled.Filter(func(i int) bool { return result.Labels[i] != cluster.Noise })
		}

		w, err := sink.New(res.format, sink.Options{Dir: p.OutputDir, Pool: r.pool, Schema: p.Schema})
		if err != nil {
			return err
		}
		result.Outputs, err = w.Write(ctx, sink.Dataset{
			Points:    result.Points,
			LatColumn: p.LatColumn,
			LonColumn: p.LonColumn,
			Clusters:  result.Clusters,
		})
		return err
	}); err != nil {
		return nil, err
	}
	sum.Exported = result.Points.Len()

	if p.Plot && len(result.Labels) > 0 {
		if err := track("plot", func() error {
			path, err := sink.Plot(p.OutputDir, lats, lons, result.Labels, result.Clusters)
			if err != nil {
				return err
			}
			result.Outputs = append(result.Outputs, path)
			return nil
		}); err != nil {
			return nil, err
		}
	}

	sum.Outputs = result.Outputs
	sum.FinishedAt = time.Now().UTC()
	path, err := writeSummary(p.OutputDir, sum)
	if err != nil {
		return nil, err
	}
	result.Outputs = append(result.Outputs, path)
	result.Summary = sum

	log.Info("pipeline: run complete",
		zap.Int("points", sum.Points),
		zap.Int("clusters", sum.Clusters),
		zap.Int("noise", sum.Noise),
		zap.Int("exported", sum.Exported),
	)
	return result, nil
}

// load reads the source file, or copies the in-memory table so the caller's
// table is never modified.
func load(ctx context.Context, p Params) (*table.Table, error) {
	if p.Table != nil {
		return p.Table.Filter(func(int) bool { return true }), nil
	}
	return source.Load(ctx, p.Source, p.SourceOptions)
}
