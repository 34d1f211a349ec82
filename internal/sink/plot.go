package sink

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/sells-group/geodbscan/internal/cluster"
)

// PlotName is the file name of the scatter plot.
const PlotName = "cluster_plot.png"

var noiseColor = color.Gray{Y: 160}

// Plot renders points colored by cluster, noise in gray and centroids as
// crosses, to <dir>/cluster_plot.png.
func Plot(dir string, lats, lons []float64, labels cluster.Labels, aggs []cluster.Aggregate) (string, error) {
	if len(labels) != len(lats) || len(labels) != len(lons) {
		return "", eris.Errorf("sink: plot: %d labels for %d latitudes and %d longitudes",
			len(labels), len(lats), len(lons))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrapf(err, "sink: create output dir %s", dir)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("DBSCAN clusters (%d)", len(aggs))
	p.X.Label.Text = "Longitude"
	p.Y.Label.Text = "Latitude"

	groups := make(map[int]plotter.XYs)
	for i, l := range labels {
		groups[l] = append(groups[l], plotter.XY{X: lons[i], Y: lats[i]})
	}

	if noise := groups[cluster.Noise]; len(noise) > 0 {
		s, err := plotter.NewScatter(noise)
		if err != nil {
			return "", eris.Wrap(err, "sink: plot noise")
		}
		s.GlyphStyle.Color = noiseColor
		s.GlyphStyle.Radius = vg.Points(1.5)
		p.Add(s)
		p.Legend.Add("noise", s)
	}

	for i, id := range labels.IDs() {
		s, err := plotter.NewScatter(groups[id])
		if err != nil {
			return "", eris.Wrapf(err, "sink: plot cluster %d", id)
		}
		s.GlyphStyle.Color = plotutil.Color(i)
		s.GlyphStyle.Radius = vg.Points(2)
		p.Add(s)
	}

	if len(aggs) > 0 {
		centers := make(plotter.XYs, len(aggs))
		for i, a := range aggs {
			centers[i] = plotter.XY{X: a.Longitude, Y: a.Latitude}
		}
		s, err := plotter.NewScatter(centers)
		if err != nil {
			return "", eris.Wrap(err, "sink: plot centroids")
		}
		s.GlyphStyle.Shape = draw.CrossGlyph{}
		s.GlyphStyle.Color = color.Black
		s.GlyphStyle.Radius = vg.Points(4)
		p.Add(s)
		p.Legend.Add("centroid", s)
	}

	path := filepath.Join(dir, PlotName)
	if err := p.Save(8*vg.Inch, 6*vg.Inch, path); err != nil {
		return "", eris.Wrap(err, "sink: save plot")
	}
	return path, nil
}
