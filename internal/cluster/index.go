package cluster

import (
	"context"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/quadtree"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
)

// sphere is the index domain: x is longitude, y latitude, both in radians.
var sphere = orb.Bound{
	Min: orb.Point{-math.Pi, -math.Pi / 2},
	Max: orb.Point{math.Pi, math.Pi / 2},
}

// queryChunk is the number of locations one worker task resolves.
const queryChunk = 256

// location is one distinct coordinate and the input points sharing it.
type location struct {
	coord []float64 // [lat, lon] radians
	ids   []int
}

// Point implements orb.Pointer. Coordinates a rounding step outside the
// domain, such as 180 degrees converted to radians, are clamped onto it.
func (l *location) Point() orb.Point {
	return orb.Point{
		math.Max(sphere.Min[0], math.Min(sphere.Max[0], l.coord[1])),
		math.Max(sphere.Min[1], math.Min(sphere.Max[1], l.coord[0])),
	}
}

// index answers great-circle range queries over a quadtree of distinct
// locations. Duplicate coordinates share one tree node.
type index struct {
	tree      *quadtree.Quadtree
	locations []*location
	of        []int // point -> location
}

func newIndex(coords [][]float64) (*index, error) {
	x := &index{
		tree: quadtree.New(sphere),
		of:   make([]int, len(coords)),
	}
	seen := make(map[[2]float64]int, len(coords))
	for i, c := range coords {
		if len(c) != 2 {
			return nil, eris.Errorf("cluster: point %d has %d coordinates, want 2", i+1, len(c))
		}
		if !validRadians(c[0], c[1]) {
			return nil, eris.Errorf("cluster: point %d (%v, %v) is not a valid radian coordinate", i+1, c[0], c[1])
		}

		key := [2]float64{c[0], c[1]}
		li, ok := seen[key]
		if !ok {
			li = len(x.locations)
			seen[key] = li
			loc := &location{coord: c}
			x.locations = append(x.locations, loc)
			if err := x.tree.Add(loc); err != nil {
				return nil, eris.Wrapf(err, "cluster: index point %d", i+1)
			}
		}
		x.locations[li].ids = append(x.locations[li].ids, i)
		x.of[i] = li
	}
	return x, nil
}

func validRadians(lat, lon float64) bool {
	const tol = 1e-9
	return math.Abs(lat) <= math.Pi/2+tol && math.Abs(lon) <= math.Pi+tol
}

// neighborhoods returns, for every input point, the ids of all points within
// eps radians of it, itself included.
func (x *index) neighborhoods(ctx context.Context, eps float64, workers int) ([][]int, error) {
	perLocation := make([][]int, len(x.locations))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for start := 0; start < len(x.locations); start += queryChunk {
		end := min(start+queryChunk, len(x.locations))
		g.Go(func() error {
			var buf []orb.Pointer
			for li := start; li < end; li++ {
				if err := gctx.Err(); err != nil {
					return eris.Wrap(err, "cluster: neighborhood query cancelled")
				}
				perLocation[li], buf = x.within(x.locations[li].coord, eps, buf)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([][]int, len(x.of))
	for i, li := range x.of {
		out[i] = perLocation[li]
	}
	return out, nil
}

// within returns the ids of points no farther than eps from c.
func (x *index) within(c []float64, eps float64, buf []orb.Pointer) ([]int, []orb.Pointer) {
	var ids []int
	for _, b := range searchBounds(c[0], c[1], eps) {
		buf = x.tree.InBound(buf, b)
		for _, p := range buf {
			loc := p.(*location)
			if HaversineDistance(c, loc.coord) <= eps {
				ids = append(ids, loc.ids...)
			}
		}
	}
	return ids, buf
}

// searchBounds returns the lon/lat boxes covering the spherical cap of
// radius eps around (lat, lon). A cap crossing the antimeridian yields two
// boxes; a cap reaching a pole covers every longitude.
func searchBounds(lat, lon, eps float64) []orb.Bound {
	// widen slightly so points exactly eps away survive rounding
	pad := 1e-12 + eps*1e-9
	minLat := lat - eps - pad
	maxLat := lat + eps + pad

	if minLat <= -math.Pi/2 || maxLat >= math.Pi/2 {
		return []orb.Bound{{
			Min: orb.Point{-math.Pi, math.Max(minLat, -math.Pi/2)},
			Max: orb.Point{math.Pi, math.Min(maxLat, math.Pi/2)},
		}}
	}

	dLon := math.Asin(math.Min(1, math.Sin(eps)/math.Cos(lat))) + pad
	minLon, maxLon := lon-dLon, lon+dLon
	bounds := []orb.Bound{{Min: orb.Point{minLon, minLat}, Max: orb.Point{maxLon, maxLat}}}
	if minLon < -math.Pi {
		bounds = append(bounds, orb.Bound{Min: orb.Point{minLon + 2*math.Pi, minLat}, Max: orb.Point{math.Pi, maxLat}})
	}
	if maxLon > math.Pi {
		bounds = append(bounds, orb.Bound{Min: orb.Point{-math.Pi, minLat}, Max: orb.Point{maxLon - 2*math.Pi, maxLat}})
	}
	return bounds
}
