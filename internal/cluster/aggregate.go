package cluster

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/stat"
)

// Aggregate summarizes one cluster. Coordinates are in degrees.
type Aggregate struct {
	ID        int     `json:"cluster_label" yaml:"cluster_label"`
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
	Count     int     `json:"count" yaml:"count"`
	MinLat    float64 `json:"min_lat" yaml:"min_lat"`
	MinLon    float64 `json:"min_lon" yaml:"min_lon"`
	MaxLat    float64 `json:"max_lat" yaml:"max_lat"`
	MaxLon    float64 `json:"max_lon" yaml:"max_lon"`
	RadiusM   float64 `json:"radius_m" yaml:"radius_m"` // farthest member from the centroid, meters
}

// Summarize computes the centroid, member count and extent of every
// non-noise label. Results are sorted by ascending cluster id.
func Summarize(labels Labels, lats, lons []float64) ([]Aggregate, error) {
	if len(labels) != len(lats) || len(labels) != len(lons) {
		return nil, eris.Errorf("cluster: %d labels for %d latitudes and %d longitudes",
			len(labels), len(lats), len(lons))
	}

	members := make(map[int][]int)
	for i, l := range labels {
		if l == Noise {
			continue
		}
		if l < 0 {
			return nil, eris.Errorf("cluster: invalid label %d at point %d", l, i+1)
		}
		members[l] = append(members[l], i)
	}

	ids := labels.IDs()
	out := make([]Aggregate, 0, len(ids))
	for _, id := range ids {
		idx := members[id]
		clat := make([]float64, len(idx))
		clon := make([]float64, len(idx))
		mp := make(orb.MultiPoint, len(idx))
		for j, i := range idx {
			clat[j] = lats[i]
			clon[j] = lons[i]
			mp[j] = orb.Point{lons[i], lats[i]}
		}

		a := Aggregate{
			ID:        id,
			Latitude:  stat.Mean(clat, nil),
			Longitude: stat.Mean(clon, nil),
			Count:     len(idx),
		}

		bound := mp.Bound()
		a.MinLat, a.MinLon = bound.Min.Lat(), bound.Min.Lon()
		a.MaxLat, a.MaxLon = bound.Max.Lat(), bound.Max.Lon()

		centroid := orb.Point{a.Longitude, a.Latitude}
		for _, p := range mp {
			if d := geo.DistanceHaversine(centroid, p); d > a.RadiusM {
				a.RadiusM = d
			}
		}
		out = append(out, a)
	}
	return out, nil
}
