package domain

import (
	"fmt"
	"math"
)

const earthRadiusMeters = 6371000.0

// Immutable geographic coordinates (longitude, latitude).
type Coordinates struct {
	Lon float64 `json:"lon" yaml:"lon"`
	Lat float64 `json:"lat" yaml:"lat"`
}

// Return coordinates as [lon, lat] for external API compatibility.
func (c Coordinates) CoordsToList() []float64 { return []float64{c.Lon, c.Lat} }

// Key is a stable textual form of the coordinates, used as a cache key.
func (c Coordinates) Key() string { return fmt.Sprintf("%.6f,%.6f", c.Lon, c.Lat) }

// DistanceTo returns the great-circle distance in meters.
func (c Coordinates) DistanceTo(o Coordinates) float64 {
	lat1 := c.Lat * math.Pi / 180
	lat2 := o.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (o.Lon - c.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Location is a point referenced by missions and resources.
// MatrixIndex is the row/column of the location in every travel matrix of the instance.
type Location struct {
	ID          string      `json:"id"`
	Coordinates Coordinates `json:"coordinates"`
	MatrixIndex int         `json:"matrix_index"`
}

// Unit is a declared quantity dimension (weight, volume, pallets...).
type Unit struct {
	ID    string `json:"id"`
	Label string `json:"label,omitempty"`
}
