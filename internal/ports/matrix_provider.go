package ports

import (
	"context"
	"route-decomposition-service/internal/domain"
)

// Travel distance and duration between two locations.
type TravelResult struct {
	DistanceMeters  int
	DurationSeconds int
}

// MatrixProvider computes the travel matrix of a set of locations.
// The returned matrix is indexed by the position of each location in the slice.
type MatrixProvider interface {
	ComputeMatrix(ctx context.Context, id string, locations []domain.Location) (domain.Matrix, error)
}

// TravelCache stores travel results keyed by origin and destination keys.
type TravelCache interface {
	GetMany(ctx context.Context, origin string, destinations []string) (map[string]TravelResult, error)
	PutMany(ctx context.Context, origin string, results map[string]TravelResult) error
}
