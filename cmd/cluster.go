package main

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sells-group/geodbscan/internal/config"
	"github.com/sells-group/geodbscan/internal/db"
	"github.com/sells-group/geodbscan/internal/pipeline"
	"github.com/sells-group/geodbscan/internal/sink"
	"github.com/sells-group/geodbscan/internal/units"
)

var clusterCmd = &cobra.Command{
	Use:   "cluster",
	Short: "Cluster points from a file and export labels and centroids",
	Example: `  geodbscan cluster --source points.csv --eps 250 --unit meters --min-points 5
  geodbscan cluster --source parcels.zip --format shapefile --out-dir out --plot`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if err := applyClusterFlags(cmd.Flags(), cfg); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		params, err := clusterParams(cmd.Flags(), cfg)
		if err != nil {
			return err
		}

		var opts []pipeline.Option
		if strings.EqualFold(cfg.Output.Format, string(sink.FormatPostGIS)) {
			pool, err := db.Connect(ctx, cfg.Postgres.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()
			opts = append(opts, pipeline.WithPool(pool))
		}

		res, err := pipeline.Run(ctx, params, opts...)
		if err != nil {
			return eris.Wrap(err, "cluster")
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "run %s: %d points, %d clusters, %d noise, %d exported\n",
			res.RunID, res.Summary.Points, res.Summary.Clusters, res.Summary.Noise, res.Summary.Exported)
		if q := res.Quality; q != nil {
			fmt.Fprintf(out, "compression: %.2f%%\n", q.Compression)
			if q.Silhouette != nil {
				fmt.Fprintf(out, "silhouette: %.4f\n", *q.Silhouette)
			}
			if q.CalinskiHarabasz != nil {
				fmt.Fprintf(out, "calinski-harabasz: %.4f\n", *q.CalinskiHarabasz)
			}
			if q.Skipped != "" {
				fmt.Fprintf(out, "quality scores skipped: %s\n", q.Skipped)
			}
		}
		for _, o := range res.Outputs {
			fmt.Fprintln(out, o)
		}
		return nil
	},
}

func init() {
	registerClusterFlags(clusterCmd.Flags())
	_ = clusterCmd.MarkFlagRequired("source")
	rootCmd.AddCommand(clusterCmd)
}

func registerClusterFlags(f *pflag.FlagSet) {
	f.String("source", "", "input file (.csv .tsv .psv .txt .geojson .json .shp .zip .xlsx .sqlite .db .gpkg .parquet) (required)")
	f.String("lat-col", "latitude", "latitude column name")
	f.String("lon-col", "longitude", "longitude column name")
	f.Float64("eps", 100, "neighborhood radius in --unit")
	f.Int("min-points", 10, "minimum points to form a dense region")
	f.String("unit", units.Meters, "distance unit: "+strings.Join(units.Names(), ", "))
	f.Int("workers", 0, "clustering workers (0 = automatic)")
	f.String("out-dir", "output", "output directory")
	f.String("format", string(sink.FormatGeoJSON), "output format: "+formatNames())
	f.Bool("keep-noise", false, "keep noise points (cluster_label -1) in the point output")
	f.Bool("plot", false, "write a cluster scatter plot")
	f.String("delimiter", "", `delimited input separator, e.g. ";" or "\t"`)
	f.String("encoding", "", "delimited input text encoding, e.g. latin1")
	f.String("sheet", "", "spreadsheet sheet name")
	f.String("table", "", "sqlite table name")
	f.Bool("no-quality", false, "skip silhouette and Calinski-Harabasz scores")
}

func formatNames() string {
	var names []string
	for _, f := range sink.Formats() {
		names = append(names, string(f))
	}
	return strings.Join(names, ", ")
}

// applyClusterFlags overrides config values with flags the user set.
func applyClusterFlags(flags *pflag.FlagSet, c *config.Config) error {
	var err error
	set := func(name string, fn func()) {
		if err == nil && flags.Changed(name) {
			fn()
		}
	}
	str := func(name string, dst *string) {
		set(name, func() { *dst, err = flags.GetString(name) })
	}

	str("lat-col", &c.Cluster.LatColumn)
	str("lon-col", &c.Cluster.LonColumn)
	str("unit", &c.Cluster.Unit)
	set("eps", func() { c.Cluster.Epsilon, err = flags.GetFloat64("eps") })
	set("min-points", func() { c.Cluster.MinPoints, err = flags.GetInt("min-points") })
	set("workers", func() { c.Cluster.Workers, err = flags.GetInt("workers") })
	str("out-dir", &c.Output.Dir)
	str("format", &c.Output.Format)
	set("keep-noise", func() { c.Output.KeepNoise, err = flags.GetBool("keep-noise") })
	set("plot", func() { c.Output.Plot, err = flags.GetBool("plot") })
	str("delimiter", &c.Source.Delimiter)
	str("encoding", &c.Source.Encoding)
	str("sheet", &c.Source.Sheet)
	str("table", &c.Source.Table)
	set("no-quality", func() {
		var skip bool
		skip, err = flags.GetBool("no-quality")
		c.Quality.Enabled = !skip
	})
	return eris.Wrap(err, "cluster: read flags")
}

// clusterParams builds pipeline parameters from the merged config.
func clusterParams(flags *pflag.FlagSet, c *config.Config) (pipeline.Params, error) {
	src, err := flags.GetString("source")
	if err != nil {
		return pipeline.Params{}, eris.Wrap(err, "cluster: read flags")
	}
	delim, err := parseDelimiter(c.Source.Delimiter)
	if err != nil {
		return pipeline.Params{}, err
	}

	p := pipeline.Params{
		Source:           src,
		LatColumn:        c.Cluster.LatColumn,
		LonColumn:        c.Cluster.LonColumn,
		Epsilon:          c.Cluster.Epsilon,
		Unit:             c.Cluster.Unit,
		MinPoints:        c.Cluster.MinPoints,
		Workers:          c.Cluster.Workers,
		OutputDir:        c.Output.Dir,
		Format:           c.Output.Format,
		Schema:           c.Postgres.Schema,
		KeepNoise:        c.Output.KeepNoise,
		Plot:             c.Output.Plot,
		Quality:          c.Quality.Enabled,
		QualityMaxPoints: c.Quality.MaxPoints,
	}
	p.SourceOptions.Delimiter = delim
	p.SourceOptions.Encoding = c.Source.Encoding
	p.SourceOptions.Sheet = c.Source.Sheet
	p.SourceOptions.Table = c.Source.Table

	zap.L().Debug("cluster: effective parameters",
		zap.String("source", p.Source),
		zap.Float64("epsilon", p.Epsilon),
		zap.String("unit", p.Unit),
		zap.Int("min_points", p.MinPoints),
		zap.String("format", p.Format),
	)
	return p, nil
}

// parseDelimiter accepts a single character or the escapes `\t` and "tab".
// Empty selects the suffix default.
func parseDelimiter(s string) (rune, error) {
	switch s {
	case "":
		return 0, nil
	case `\t`, "tab":
		return '\t', nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, eris.Errorf("cluster: delimiter must be a single character, got %q", s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	return r, nil
}
