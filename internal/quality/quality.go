// Package quality scores a clustering: how much it compresses the input,
// how well separated its clusters are (silhouette) and how dense they are
// relative to their spread (Calinski-Harabasz).
package quality

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/geodbscan/internal/cluster"
)

// DefaultMaxPoints bounds the quadratic silhouette computation.
const DefaultMaxPoints = 20000

// Options tunes Evaluate.
type Options struct {
	Workers   int // 0 = GOMAXPROCS
	MaxPoints int // 0 = DefaultMaxPoints
}

// Report holds the computed scores. Score pointers are nil when the metric
// is undefined for the labeling (fewer than 2 clusters, or every labeled
// point in its own cluster).
type Report struct {
	Points           int      `json:"points" yaml:"points"`
	Labeled          int      `json:"labeled" yaml:"labeled"`
	Clusters         int      `json:"clusters" yaml:"clusters"`
	Noise            int      `json:"noise" yaml:"noise"`
	Compression      float64  `json:"compression_pct" yaml:"compression_pct"`
	Silhouette       *float64 `json:"silhouette,omitempty" yaml:"silhouette,omitempty"`
	CalinskiHarabasz *float64 `json:"calinski_harabasz,omitempty" yaml:"calinski_harabasz,omitempty"`
	Skipped          string   `json:"skipped,omitempty" yaml:"skipped,omitempty"`
}

// Evaluate scores labels against the degree coordinates they were computed
// from. Noise points count toward Points and Noise but are excluded from the
// silhouette and Calinski-Harabasz scores.
func Evaluate(ctx context.Context, lats, lons []float64, labels cluster.Labels, opts Options) (Report, error) {
	if len(labels) != len(lats) || len(labels) != len(lons) {
		return Report{}, eris.Errorf("quality: %d labels for %d latitudes and %d longitudes",
			len(labels), len(lats), len(lons))
	}
	if opts.MaxPoints <= 0 {
		opts.MaxPoints = DefaultMaxPoints
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}

	clusters, noise := labels.Counts()
	r := Report{
		Points:      len(labels),
		Labeled:     len(labels) - noise,
		Clusters:    clusters,
		Noise:       noise,
		Compression: Compression(clusters, len(labels)),
	}

	if !defined(r.Clusters, r.Labeled) {
		return r, nil
	}
	if r.Labeled > opts.MaxPoints {
		r.Skipped = fmt.Sprintf("%d labeled points exceed max_points %d", r.Labeled, opts.MaxPoints)
		zap.L().Info("quality: skipping scores", zap.Int("labeled", r.Labeled), zap.Int("max_points", opts.MaxPoints))
		return r, nil
	}

	groups := groupLabeled(labels)

	sil, err := Silhouette(ctx, lats, lons, groups, opts.Workers)
	if err != nil {
		return Report{}, err
	}
	r.Silhouette = &sil

	ch := CalinskiHarabasz(lats, lons, groups)
	r.CalinskiHarabasz = &ch
	return r, nil
}

// Compression returns the percentage reduction from points to clusters.
func Compression(clusters, points int) float64 {
	if points == 0 {
		return 0
	}
	return 100 * (1 - float64(clusters)/float64(points))
}

// defined reports whether silhouette and Calinski-Harabasz are defined for
// k clusters over n labeled points.
func defined(k, n int) bool {
	return k >= 2 && k <= n-1
}

// groupLabeled returns point indices per cluster, ordered by cluster id.
func groupLabeled(labels cluster.Labels) [][]int {
	ids := labels.IDs()
	pos := make(map[int]int, len(ids))
	for i, id := range ids {
		pos[id] = i
	}
	groups := make([][]int, len(ids))
	for i, l := range labels {
		if l == cluster.Noise {
			continue
		}
		g := pos[l]
		groups[g] = append(groups[g], i)
	}
	return groups
}

// Silhouette returns the mean silhouette coefficient of the grouped points
// under the great-circle metric. A point alone in its cluster scores 0.
func Silhouette(ctx context.Context, lats, lons []float64, groups [][]int, workers int) (float64, error) {
	coords, err := cluster.ToRadians(lats, lons)
	if err != nil {
		return 0, eris.Wrap(err, "quality: silhouette")
	}
	if len(groups) < 2 {
		return 0, eris.Errorf("quality: silhouette needs at least 2 clusters, got %d", len(groups))
	}
	if workers <= 0 {
		workers = 1
	}

	type member struct{ group, point int }
	var members []member
	for g, idx := range groups {
		for _, i := range idx {
			members = append(members, member{g, i})
		}
	}

	scores := make([]float64, len(members))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	chunk := (len(members) + workers - 1) / workers
	for start := 0; start < len(members); start += chunk {
		end := min(start+chunk, len(members))
		g.Go(func() error {
			for m := start; m < end; m++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				own := members[m].group
				p := coords[members[m].point]
				if len(groups[own]) == 1 {
					continue
				}

				a := math.NaN()
				b := math.Inf(1)
				for gi, idx := range groups {
					var sum float64
					for _, j := range idx {
						sum += cluster.HaversineDistance(p, coords[j])
					}
					if gi == own {
						a = sum / float64(len(idx)-1)
						continue
					}
					b = math.Min(b, sum/float64(len(idx)))
				}
				if d := math.Max(a, b); d > 0 {
					scores[m] = (b - a) / d
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, eris.Wrap(err, "quality: silhouette")
	}
	return stat.Mean(scores, nil), nil
}

// CalinskiHarabasz returns the variance ratio criterion of the grouped
// points in degree space. It is 1 when every cluster has zero spread.
func CalinskiHarabasz(lats, lons []float64, groups [][]int) float64 {
	var n int
	for _, idx := range groups {
		n += len(idx)
	}
	k := len(groups)

	var aLat, aLon []float64
	for _, idx := range groups {
		for _, i := range idx {
			aLat = append(aLat, lats[i])
			aLon = append(aLon, lons[i])
		}
	}
	mean := []float64{stat.Mean(aLat, nil), stat.Mean(aLon, nil)}

	var between, within float64
	for _, idx := range groups {
		cLat := make([]float64, len(idx))
		cLon := make([]float64, len(idx))
		for j, i := range idx {
			cLat[j], cLon[j] = lats[i], lons[i]
		}
		center := []float64{stat.Mean(cLat, nil), stat.Mean(cLon, nil)}

		d := floats.Distance(center, mean, 2)
		between += float64(len(idx)) * d * d
		for j := range idx {
			d := floats.Distance([]float64{cLat[j], cLon[j]}, center, 2)
			within += d * d
		}
	}

	if within == 0 {
		return 1
	}
	return between * float64(n-k) / (within * float64(k-1))
}
