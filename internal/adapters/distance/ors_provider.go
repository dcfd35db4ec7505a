package distance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"route-decomposition-service/internal/domain"
	"route-decomposition-service/internal/platform/httpx"
	"route-decomposition-service/internal/platform/obs"
	"route-decomposition-service/internal/ports"
	"slices"
	"time"

	"go.uber.org/zap"
)

// ORSMatrixProvider implements MatrixProvider using OpenRouteService.
//
// It coordinates:
//   - Persistent travel caching keyed by coordinates
//   - Batched many->many matrix requests for the rows missing from the cache
//   - External API calls with retry/backoff
//
// The provider is safe for concurrent use.
type ORSMatrixProvider struct {
	client  *httpx.Client
	baseURL string
	profile string
	cache   ports.TravelCache
	logger  *zap.Logger
}

func NewORSMatrixProvider(apiKey, baseURL string, cache ports.TravelCache, logger *zap.Logger) (*ORSMatrixProvider, error) {
	if apiKey == "" {
		return nil, errors.New("ORS api key is empty")
	}
	if baseURL == "" {
		baseURL = "https://api.openrouteservice.org"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ORSMatrixProvider{
		client:  httpx.NewClient(10*time.Second, http.Header{"Authorization": {apiKey}}),
		baseURL: baseURL,
		profile: "driving-car",
		cache:   cache,
		logger:  logger,
	}, nil
}

// ComputeMatrix fills the travel matrix of locations. Locations sharing
// coordinates share a row; rows missing from the cache are fetched in batches
// of maxSources origins.
func (o *ORSMatrixProvider) ComputeMatrix(ctx context.Context, id string, locations []domain.Location) (_ domain.Matrix, err error) {
	defer obs.Time(ctx, o.logger, "ors.ComputeMatrix")(&err)

	var (
		points []domain.Coordinates
		keys   []string
	)
	index := map[string]int{}
	for _, l := range locations {
		k := l.Coordinates.Key()
		if _, ok := index[k]; !ok {
			index[k] = len(keys)
			keys = append(keys, k)
			points = append(points, l.Coordinates)
		}
	}

	rows := make([]map[string]ports.TravelResult, len(keys))
	var missing []int
	for i, k := range keys {
		row, complete, err := o.cached(ctx, k, keys)
		if err != nil {
			return domain.Matrix{}, fmt.Errorf("compute matrix %s: %w", id, err)
		}
		rows[i] = row
		if !complete {
			missing = append(missing, i)
		}
	}

	for batch := range slices.Chunk(missing, maxSources) {
		fetched, err := o.fetchRows(ctx, points, keys, batch)
		if err != nil {
			return domain.Matrix{}, fmt.Errorf("compute matrix %s: %w", id, err)
		}
		for r, src := range batch {
			rows[src] = fetched[r]
			if o.cache == nil {
				continue
			}
			if err := o.cache.PutMany(ctx, keys[src], fetched[r]); err != nil {
				o.logger.Warn("travel cache write failed", zap.String("origin", keys[src]), zap.Error(err))
			}
		}
	}
	o.logger.Debug("ors matrix computed",
		zap.String("matrix", id),
		zap.Int("points", len(points)),
		zap.Int("fetched_rows", len(missing)),
	)

	mat := newMatrix(id, len(locations))
	for i, a := range locations {
		row := rows[index[a.Coordinates.Key()]]
		for j, b := range locations {
			if index[a.Coordinates.Key()] == index[b.Coordinates.Key()] {
				continue
			}
			r := row[b.Coordinates.Key()]
			mat.Time[i][j] = float64(r.DurationSeconds)
			mat.Distance[i][j] = float64(r.DistanceMeters)
		}
	}
	return mat, nil
}

// cached returns the cached row of origin and whether it covers every key.
func (o *ORSMatrixProvider) cached(ctx context.Context, origin string, keys []string) (map[string]ports.TravelResult, bool, error) {
	if o.cache == nil {
		return nil, len(keys) <= 1, nil
	}
	dests := make([]string, 0, len(keys)-1)
	for _, k := range keys {
		if k != origin {
			dests = append(dests, k)
		}
	}
	if len(dests) == 0 {
		return map[string]ports.TravelResult{}, true, nil
	}
	hits, err := o.cache.GetMany(ctx, origin, dests)
	if err != nil {
		return nil, false, fmt.Errorf("get travel cache: %w", err)
	}
	return hits, len(hits) == len(dests), nil
}

func newMatrix(id string, n int) domain.Matrix {
	m := domain.Matrix{ID: id, Time: make([][]float64, n), Distance: make([][]float64, n)}
	for i := range n {
		m.Time[i] = make([]float64, n)
		m.Distance[i] = make([]float64, n)
	}
	return m
}
