package features

import "context"

// Projector serves model-input projections without the full extraction
// dependencies; the risk service reads through it.
type Projector struct {
	store   Store
	cache   *Cache
	version string
}

func NewProjector(store Store, cache *Cache, version string) *Projector {
	if version == "" {
		version = "v1.0"
	}
	return &Projector{store: store, cache: cache, version: version}
}

func (p *Projector) ModelInputFor(ctx context.Context, pseudoID string) (map[string]float64, error) {
	if input, ok := p.cache.Get(ctx, pseudoID, p.version); ok {
		return input, nil
	}
	vector, err := p.store.LatestByPatient(ctx, pseudoID, p.version)
	if err != nil {
		return nil, err
	}
	input := ModelInput(vector)
	p.cache.Put(ctx, pseudoID, p.version, input)
	return input, nil
}
