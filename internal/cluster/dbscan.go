// Package cluster runs DBSCAN over geographic points under a great-circle
// metric and aggregates the resulting labels into per-cluster centroids.
package cluster

import (
	"context"
	"math"
	"runtime"

	"github.com/rotisserie/eris"
)

// Noise is the label of points that belong to no cluster.
const Noise = -1

// Params configures a DBSCAN run. Epsilon is an angular distance in radians.
type Params struct {
	Epsilon   float64
	MinPoints int
	Workers   int // neighborhood query goroutines, 0 = GOMAXPROCS
}

// Validate checks parameter ranges.
func (p Params) Validate() error {
	if !(p.Epsilon > 0) || math.IsInf(p.Epsilon, 0) {
		return eris.Errorf("cluster: epsilon must be a positive finite angle, got %v", p.Epsilon)
	}
	if p.MinPoints < 1 {
		return eris.Errorf("cluster: min points must be at least 1, got %d", p.MinPoints)
	}
	if p.Workers < 0 {
		return eris.Errorf("cluster: workers must not be negative, got %d", p.Workers)
	}
	return nil
}

// Clusterer assigns a label to each coordinate. coords holds [lat, lon]
// pairs in radians.
type Clusterer interface {
	Cluster(ctx context.Context, coords [][]float64, p Params) (Labels, error)
}

// DBSCAN is density-based clustering over a quadtree of the input points.
// A point is core when at least MinPoints points, itself included, lie
// within Epsilon of it. Border points join the first cluster that reaches
// them.
type DBSCAN struct{}

// Cluster implements Clusterer.
func (DBSCAN) Cluster(ctx context.Context, coords [][]float64, p Params) (Labels, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(coords) == 0 {
		return Labels{}, nil
	}

	idx, err := newIndex(coords)
	if err != nil {
		return nil, err
	}
	workers := p.Workers
	if workers == 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	neighbors, err := idx.neighborhoods(ctx, p.Epsilon, workers)
	if err != nil {
		return nil, err
	}
	return normalize(expand(neighbors, p.MinPoints)), nil
}

// expand grows clusters from core points over precomputed neighborhoods.
func expand(neighbors [][]int, minPoints int) []int {
	const unvisited = -2

	labels := make([]int, len(neighbors))
	for i := range labels {
		labels[i] = unvisited
	}

	next := 0
	var stack []int
	for i := range neighbors {
		if labels[i] != unvisited {
			continue
		}
		if len(neighbors[i]) < minPoints {
			labels[i] = Noise
			continue
		}

		id := next
		next++
		labels[i] = id
		stack = append(stack[:0], i)
		for len(stack) > 0 {
			q := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if len(neighbors[q]) < minPoints {
				continue
			}
			for _, j := range neighbors[q] {
				switch labels[j] {
				case unvisited:
					labels[j] = id
					stack = append(stack, j)
				case Noise:
					labels[j] = id
				}
			}
		}
	}
	return labels
}

// HaversineDistance returns the central angle in radians between two
// [lat, lon] points given in radians.
func HaversineDistance(a, b []float64) float64 {
	dLat := b[0] - a[0]
	dLon := b[1] - a[1]
	h := math.Pow(math.Sin(dLat/2), 2) +
		math.Cos(a[0])*math.Cos(b[0])*math.Pow(math.Sin(dLon/2), 2)
	return 2 * math.Asin(math.Sqrt(math.Min(1, h)))
}

// ToRadians converts parallel degree slices into [lat, lon] radian pairs.
func ToRadians(lats, lons []float64) ([][]float64, error) {
	if len(lats) != len(lons) {
		return nil, eris.Errorf("cluster: %d latitudes for %d longitudes", len(lats), len(lons))
	}
	coords := make([][]float64, len(lats))
	for i := range lats {
		coords[i] = []float64{lats[i] * math.Pi / 180, lons[i] * math.Pi / 180}
	}
	return coords, nil
}

// normalize renumbers raw labels as dense 0-based ids in order of first
// appearance. Negative labels are noise.
func normalize(guesses []int) Labels {
	ids := make(map[int]int)
	labels := make(Labels, len(guesses))
	for i, g := range guesses {
		if g < 0 {
			labels[i] = Noise
			continue
		}
		id, ok := ids[g]
		if !ok {
			id = len(ids)
			ids[g] = id
		}
		labels[i] = id
	}
	return labels
}
