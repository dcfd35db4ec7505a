package distance

import (
	"context"
	"fmt"
	"route-decomposition-service/internal/domain"
	"route-decomposition-service/internal/ports"
)

type StaticPair struct {
	From, To string
	Meters   int
	Seconds  int
}

// StaticMatrixProvider serves fixed travel values between location ids.
type StaticMatrixProvider struct {
	m map[string]ports.TravelResult
}

func NewStaticMatrixProvider(pairs []StaticPair) *StaticMatrixProvider {
	m := make(map[string]ports.TravelResult, len(pairs))
	for _, p := range pairs {
		m[p.From+"|"+p.To] = ports.TravelResult{DistanceMeters: p.Meters, DurationSeconds: p.Seconds}
	}
	return &StaticMatrixProvider{m: m}
}

func (p *StaticMatrixProvider) ComputeMatrix(ctx context.Context, id string, locations []domain.Location) (domain.Matrix, error) {
	mat := newMatrix(id, len(locations))
	for i, a := range locations {
		for j, b := range locations {
			if a.ID == b.ID {
				continue
			}
			r, ok := p.m[a.ID+"|"+b.ID]
			if !ok {
				return domain.Matrix{}, fmt.Errorf("missing pair %q -> %q", a.ID, b.ID)
			}
			mat.Time[i][j] = float64(r.DurationSeconds)
			mat.Distance[i][j] = float64(r.DistanceMeters)
		}
	}
	return mat, nil
}
