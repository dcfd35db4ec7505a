package distance

import (
	"context"
	"fmt"
	"math"
	"route-decomposition-service/internal/domain"
	"route-decomposition-service/internal/ports"
)

// maxSources bounds the origins sent in one matrix request. ORS rejects
// matrices above 3500 cells on the public plan.
const maxSources = 25

type matrixRequest struct {
	Locations    [][]float64 `json:"locations"`
	Sources      []int       `json:"sources"`
	Destinations []int       `json:"destinations,omitempty"`
	Metrics      []string    `json:"metrics"`
}

type matrixResponse struct {
	Distances [][]*float64 `json:"distances"`
	Durations [][]*float64 `json:"durations"`
}

// fetchRows asks ORS for the travel rows of the given source indexes towards
// every point. Rows are keyed by destination key and skip the source itself.
func (o *ORSMatrixProvider) fetchRows(
	ctx context.Context,
	points []domain.Coordinates,
	keys []string,
	sources []int,
) ([]map[string]ports.TravelResult, error) {
	req := matrixRequest{
		Locations: make([][]float64, len(points)),
		Sources:   sources,
		Metrics:   []string{"distance", "duration"},
	}
	for i, p := range points {
		req.Locations[i] = p.CoordsToList()
	}

	var mr matrixResponse
	endpoint := fmt.Sprintf("%s/v2/matrix/%s", o.baseURL, o.profile)
	if err := o.client.PostJSON(ctx, endpoint, req, &mr); err != nil {
		return nil, fmt.Errorf("matrix request: %w", err)
	}
	if len(mr.Distances) != len(sources) || len(mr.Durations) != len(sources) {
		return nil, fmt.Errorf("matrix request: expected %d rows, got distances=%d durations=%d",
			len(sources), len(mr.Distances), len(mr.Durations))
	}

	rows := make([]map[string]ports.TravelResult, len(sources))
	for r, src := range sources {
		dist, dur := mr.Distances[r], mr.Durations[r]
		if len(dist) != len(points) || len(dur) != len(points) {
			return nil, fmt.Errorf("matrix request: row %d has %d/%d cells for %d points", r, len(dist), len(dur), len(points))
		}
		row := make(map[string]ports.TravelResult, len(points)-1)
		for c, k := range keys {
			if c == src {
				continue
			}
			// Unroutable pairs come back as null.
			if dist[c] == nil || dur[c] == nil {
				return nil, fmt.Errorf("matrix request: no route from %s to %s", keys[src], k)
			}
			row[k] = ports.TravelResult{
				DistanceMeters:  int(math.Round(*dist[c])),
				DurationSeconds: int(math.Round(*dur[c])),
			}
		}
		rows[r] = row
	}
	return rows, nil
}
