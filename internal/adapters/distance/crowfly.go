package distance

import (
	"context"
	"route-decomposition-service/internal/domain"
)

// CrowFlyMatrixProvider derives travel from great-circle distances and a
// constant speed. It needs no network access.
type CrowFlyMatrixProvider struct {
	SpeedKmh float64
	// Detour stretches straight lines into road distances.
	Detour float64
}

func NewCrowFlyMatrixProvider(speedKmh float64) *CrowFlyMatrixProvider {
	if speedKmh <= 0 {
		speedKmh = 50
	}
	return &CrowFlyMatrixProvider{SpeedKmh: speedKmh, Detour: 1.3}
}

func (p *CrowFlyMatrixProvider) ComputeMatrix(ctx context.Context, id string, locations []domain.Location) (domain.Matrix, error) {
	if err := ctx.Err(); err != nil {
		return domain.Matrix{}, err
	}
	mat := newMatrix(id, len(locations))
	mps := p.SpeedKmh * 1000 / 3600
	detour := max(1, p.Detour)
	for i, a := range locations {
		for j, b := range locations {
			if i == j {
				continue
			}
			d := a.Coordinates.DistanceTo(b.Coordinates) * detour
			mat.Distance[i][j] = d
			mat.Time[i][j] = d / mps
		}
	}
	return mat, nil
}
