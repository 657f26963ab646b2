// Package catalog loads the static collection of candidate billboard sites.
package catalog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/biq-mapview/internal/cache/keys"
	"github.com/mohammed-shakir/biq-mapview/internal/core/model"
)

const maxCatalogBytes = 256 << 20

type Loader struct {
	src    Source
	logger *slog.Logger
	memo   *lru.Cache[uint64, []model.CandidateSite]
}

// NewLoader returns a loader for src. memoSize > 0 keeps parsed catalogs in
// memory so repeated view mounts do not refetch the dataset.
func NewLoader(src Source, logger *slog.Logger, memoSize int) (*Loader, error) {
	l := &Loader{src: src, logger: logger}
	if memoSize > 0 {
		c, err := lru.New[uint64, []model.CandidateSite](memoSize)
		if err != nil {
			return nil, fmt.Errorf("catalog memo: %w", err)
		}
		l.memo = c
	}
	return l, nil
}

// Load returns the candidate sites. Each call returns an independent copy.
func (l *Loader) Load(ctx context.Context) ([]model.CandidateSite, error) {
	key := keys.SourceKey(l.src.String())
	if l.memo != nil {
		if sites, ok := l.memo.Get(key); ok {
			return clone(sites), nil
		}
	}

	rc, err := l.src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	b, err := io.ReadAll(io.LimitReader(rc, maxCatalogBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read candidates: %w", err)
	}
	if len(b) > maxCatalogBytes {
		return nil, fmt.Errorf("candidate dataset exceeds %d bytes", maxCatalogBytes)
	}

	sites, skipped, err := Parse(b)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		l.logger.Debug("skipped non-point candidate features", "source", l.src.String(), "skipped", skipped)
	}
	l.logger.Info("candidate catalog loaded", "source", l.src.String(), "sites", len(sites))

	if l.memo != nil {
		l.memo.Add(key, sites)
	}
	return clone(sites), nil
}

// Invalidate drops memoized catalogs.
func (l *Loader) Invalidate() {
	if l.memo != nil {
		l.memo.Purge()
	}
}

// Parse decodes a GeoJSON FeatureCollection of points. Features with other
// geometry types are counted in skipped.
func Parse(b []byte) (sites []model.CandidateSite, skipped int, err error) {
	fc, err := geojson.UnmarshalFeatureCollection(b)
	if err != nil {
		return nil, 0, fmt.Errorf("decode candidate geojson: %w", err)
	}
	sites = make([]model.CandidateSite, 0, len(fc.Features))
	for _, f := range fc.Features {
		pt, ok := f.Geometry.(orb.Point)
		if !ok {
			skipped++
			continue
		}
		var props map[string]any
		if len(f.Properties) > 0 {
			props = maps.Clone(map[string]any(f.Properties))
		}
		sites = append(sites, model.CandidateSite{
			ID:         featureID(f),
			Lat:        pt.Lat(),
			Lng:        pt.Lon(),
			Properties: props,
		})
	}
	return sites, skipped, nil
}

// ToFeatureCollection renders candidates back to GeoJSON for the client.
func ToFeatureCollection(sites []model.CandidateSite) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, s := range sites {
		f := geojson.NewFeature(orb.Point{s.Lng, s.Lat})
		if s.ID != "" {
			f.ID = s.ID
		}
		for k, v := range s.Properties {
			f.Properties[k] = v
		}
		fc.Append(f)
	}
	return fc
}

func featureID(f *geojson.Feature) string {
	if s := anyString(f.ID); s != "" {
		return s
	}
	for _, k := range []string{"id", "ID", "OBJECTID", "objectid"} {
		if s := anyString(f.Properties[k]); s != "" {
			return s
		}
	}
	return ""
}

func anyString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return ""
	}
}

func clone(in []model.CandidateSite) []model.CandidateSite {
	out := make([]model.CandidateSite, len(in))
	for i, s := range in {
		s.Properties = maps.Clone(s.Properties)
		out[i] = s
	}
	return out
}
