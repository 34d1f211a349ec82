package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/geodbscan/internal/cluster"
	"github.com/sells-group/geodbscan/internal/sink"
	"github.com/sells-group/geodbscan/internal/table"
	"github.com/sells-group/geodbscan/internal/units"
)

// twoGroupTable returns 10 points in two groups of 5 about 11km apart, plus
// any extra rows.
func twoGroupTable(extra ...[]any) *table.Table {
	t := table.New([]string{"id", "latitude", "longitude"})
	n := 0
	for _, base := range []float64{25.77, 25.87} {
		for i := range 5 {
			off := float64(i) * 0.0001
			t.Append([]any{n, base + off, -80.19 - off}, nil)
			n++
		}
	}
	for _, row := range extra {
		t.Append(row, nil)
	}
	return t
}

func baseParams(t *testing.T) Params {
	t.Helper()
	return Params{
		Table:     twoGroupTable(),
		LatColumn: "latitude",
		LonColumn: "longitude",
		Epsilon:   100,
		Unit:      "meters",
		MinPoints: 3,
		OutputDir: t.TempDir(),
		Format:    "csv",
		Quality:   true,
	}
}

type fakeClusterer struct {
	labels cluster.Labels
	err    error
	calls  int
	got    cluster.Params
}

func (f *fakeClusterer) Cluster(_ context.Context, _ [][]float64, p cluster.Params) (cluster.Labels, error) {
	f.calls++
	f.got = p
	return f.labels, f.err
}

func TestRun_TwoGroups(t *testing.T) {
	p := baseParams(t)

	res, err := Run(context.Background(), p)
	require.NoError(t, err)

	assert.Len(t, res.Labels, 10)
	clusters, noise := res.Labels.Counts()
	assert.Equal(t, 2, clusters)
	assert.Equal(t, 0, noise)
	require.Len(t, res.Clusters, 2)
	assert.Equal(t, 5, res.Clusters[0].Count)
	assert.Equal(t, 5, res.Clusters[1].Count)

	assert.Equal(t, []string{
		filepath.Join(p.OutputDir, "cluster_outputs.csv"),
		filepath.Join(p.OutputDir, "cluster_centroids.csv"),
		filepath.Join(p.OutputDir, SummaryName),
	}, res.Outputs)
	for _, o := range res.Outputs {
		assert.FileExists(t, o)
	}

	require.NotNil(t, res.Quality)
	assert.InDelta(t, 80.0, res.Quality.Compression, 1e-9)
	require.NotNil(t, res.Quality.Silhouette)
	assert.Greater(t, *res.Quality.Silhouette, 0.9)
}

func TestRun_SummaryFile(t *testing.T) {
	p := baseParams(t)
	p.Unit = "KM"
	p.Epsilon = 0.1

	res, err := Run(context.Background(), p)
	require.NoError(t, err)

	sum, err := ReadSummary(filepath.Join(p.OutputDir, SummaryName))
	require.NoError(t, err)
	assert.Equal(t, res.RunID, sum.RunID)
	assert.Equal(t, "<in-memory table>", sum.Source)
	assert.Equal(t, units.Kilometers, sum.Params.Unit)
	assert.InDelta(t, 0.1/6372.8, sum.Params.EpsilonAngle, 1e-15)
	assert.Equal(t, 10, sum.Points)
	assert.Equal(t, 2, sum.Clusters)
	assert.Equal(t, 10, sum.Exported)
	require.NotNil(t, sum.Quality)
	assert.False(t, sum.FinishedAt.Before(sum.StartedAt))

	var names []string
	for _, ph := range sum.Phases {
		names = append(names, ph.Name)
		assert.Equal(t, PhaseComplete, ph.Status)
	}
	assert.Equal(t, []string{"load", "cluster", "quality", "export"}, names)
}

func TestRun_NoiseFilteredByDefault(t *testing.T) {
	p := baseParams(t)
	p.Table = twoGroupTable([]any{99, 30.0, -90.0})

	res, err := Run(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Labels.NoiseCount())
	assert.Equal(t, 10, res.Points.Len())
	assert.Equal(t, res.Points.Len()+res.Labels.NoiseCount(), p.Table.Len())
	idx := res.Points.Index(sink.LabelColumn)
	for _, row := range res.Points.Rows {
		assert.NotEqual(t, cluster.Noise, row[idx])
	}
	assert.Equal(t, 10, res.Summary.Exported)
	assert.Equal(t, 1, res.Summary.Noise)
}

func TestRun_GeoParquetRoundTrip(t *testing.T) {
	p := baseParams(t)
	p.Format = "geoparquet"
	p.Quality = false

	res, err := Run(context.Background(), p)
	require.NoError(t, err)
	out := filepath.Join(p.OutputDir, "cluster_outputs.parquet")
	require.Contains(t, res.Outputs, out)

	// the export is itself a valid input
	p2 := baseParams(t)
	p2.Table = nil
	p2.Source = out
	again, err := Run(context.Background(), p2)
	require.NoError(t, err)
	assert.Equal(t, res.Labels, again.Labels)
}

func TestRun_KeepNoise(t *testing.T) {
	p := baseParams(t)
	p.Table = twoGroupTable([]any{99, 30.0, -90.0})
	p.KeepNoise = true

	res, err := Run(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, 11, res.Points.Len())
	assert.Equal(t, cluster.Noise, res.Points.Rows[10][res.Points.Index(sink.LabelColumn)])
}

func TestRun_DoesNotModifyInputTable(t *testing.T) {
	p := baseParams(t)
	in := p.Table

	_, err := Run(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "latitude", "longitude"}, in.Columns)
	assert.Len(t, in.Rows[0], 3)
}

func TestRun_FromFile(t *testing.T) {
	dir := t.TempDir()
	var b strings.Builder
	b.WriteString("name;lat;lon\n")
	for i, row := range twoGroupTable().Rows {
		b.WriteString("p" + table.FormatCell(i) + ";" + table.FormatCell(row[1]) + ";" + table.FormatCell(row[2]) + "\n")
	}
	src := filepath.Join(dir, "points.csv")
	require.NoError(t, os.WriteFile(src, []byte(b.String()), 0o644))

	p := baseParams(t)
	p.Table = nil
	p.Source = src
	p.SourceOptions.Delimiter = ';'
	p.LatColumn = "lat"
	p.LonColumn = "lon"
	p.Format = "geojson"
	p.Plot = true

	res, err := Run(context.Background(), p)
	require.NoError(t, err)
	clusters, _ := res.Labels.Counts()
	assert.Equal(t, 2, clusters)
	assert.Contains(t, res.Outputs, filepath.Join(p.OutputDir, "cluster_outputs.geojson"))
	assert.Contains(t, res.Outputs, filepath.Join(p.OutputDir, sink.PlotName))
	assert.Equal(t, src, res.Summary.Source)
}

func TestRun_InvalidUnitFailsBeforeClustering(t *testing.T) {
	p := baseParams(t)
	p.Unit = "furlongs"
	fc := &fakeClusterer{}

	_, err := Run(context.Background(), p, WithClusterer(fc))
	require.Error(t, err)
	assert.True(t, eris.Is(err, units.ErrInvalidUnit))
	assert.Zero(t, fc.calls)
	_, statErr := os.Stat(filepath.Join(p.OutputDir, SummaryName))
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(p *Params)
		errMsg string
	}{
		{"no input", func(p *Params) { p.Table = nil }, "source path or an in-memory table"},
		{"both inputs", func(p *Params) { p.Source = "x.csv" }, "not both"},
		{"no columns", func(p *Params) { p.LatColumn = "" }, "column names are required"},
		{"no output dir", func(p *Params) { p.OutputDir = "" }, "output dir"},
		{"bad epsilon", func(p *Params) { p.Epsilon = 0 }, "epsilon"},
		{"bad min points", func(p *Params) { p.MinPoints = 0 }, "min points"},
		{"bad format", func(p *Params) { p.Format = "kml" }, "unsupported format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := baseParams(t)
			tt.modify(&p)
			_, err := Run(context.Background(), p)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestRun_MissingCoordinateColumn(t *testing.T) {
	p := baseParams(t)
	p.LatColumn = "lat"

	_, err := Run(context.Background(), p)
	require.Error(t, err)
	assert.True(t, eris.Is(err, table.ErrMissingColumn))
}

func TestRun_UsesInjectedClusterer(t *testing.T) {
	p := baseParams(t)
	p.Workers = 3
	fc := &fakeClusterer{labels: cluster.Labels{0, 0, 0, 0, 0, 0, 0, 0, 0, cluster.Noise}}

	res, err := Run(context.Background(), p, WithClusterer(fc))
	require.NoError(t, err)
	assert.Equal(t, 1, fc.calls)
	assert.Equal(t, 3, fc.got.Workers)
	assert.InDelta(t, 100/6372800.0, fc.got.Epsilon, 1e-15)
	assert.Equal(t, 9, res.Points.Len())
	require.Len(t, res.Clusters, 1)
	assert.Equal(t, 9, res.Clusters[0].Count)
}

func TestRun_ClustererErrors(t *testing.T) {
	p := baseParams(t)
	_, err := Run(context.Background(), p, WithClusterer(&fakeClusterer{err: eris.New("boom")}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	_, err = Run(context.Background(), p, WithClusterer(&fakeClusterer{labels: cluster.Labels{0}}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 labels for 10 points")
}

func TestRun_EmptyTable(t *testing.T) {
	p := baseParams(t)
	p.Table = table.New([]string{"latitude", "longitude"})
	p.Plot = true

	res, err := Run(context.Background(), p)
	require.NoError(t, err)
	assert.Empty(t, res.Labels)
	assert.Empty(t, res.Clusters)
	assert.Equal(t, 0, res.Points.Len())
	assert.NotContains(t, res.Outputs, filepath.Join(p.OutputDir, sink.PlotName))
}

func TestRun_PostGISRequiresPool(t *testing.T) {
	p := baseParams(t)
	p.Format = "postgis"

	_, err := Run(context.Background(), p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database connection")
}

func TestRun_PostGIS(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	tables := []struct {
		name string
		cols []string
	}{
		{sink.PointsName, []string{"id", "latitude", "longitude", "cluster_label", "geom_ewkb"}},
		{sink.CentroidsName, []string{"cluster_label", "latitude", "longitude", "count", "min_lat", "min_lon", "max_lat", "max_lon", "radius_m", "geom_ewkb"}},
	}
	for _, tbl := range tables {
		mock.ExpectBegin()
		mock.ExpectExec("DROP TABLE").WillReturnResult(pgxmock.NewResult("DROP TABLE", 0))
		mock.ExpectExec("CREATE TABLE").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
		mock.ExpectCopyFrom(pgx.Identifier{"public", tbl.name}, tbl.cols).WillReturnResult(1)
		mock.ExpectCommit()
	}

	p := baseParams(t)
	p.Format = "postgis"
	p.Schema = "public"
	p.Quality = false

	res, err := Run(context.Background(), p, WithPool(mock))
	require.NoError(t, err)
	assert.Equal(t, []string{"public.cluster_outputs", "public.cluster_centroids", filepath.Join(p.OutputDir, SummaryName)}, res.Outputs)
	assert.Nil(t, res.Quality)
	assert.NoError(t, mock.ExpectationsWereMet())
}
