// Package model defines core domain types shared across the service.
package model

import (
	"fmt"
	"time"
)

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p LatLng) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}

// Valid reports whether the point is within WGS84 bounds.
func (p LatLng) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Workspace is a per-user basemap configuration. Immutable once loaded.
type Workspace struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	BasemapURL  string `json:"basemap_url"`
	BasemapAttr string `json:"basemap_attr"`
}

// CandidateSite is an eligible, unselected billboard location.
type CandidateSite struct {
	ID         string         `json:"id,omitempty"`
	Lat        float64        `json:"lat"`
	Lng        float64        `json:"lng"`
	Properties map[string]any `json:"properties,omitempty"`
}

// SelectedSite is one site chosen by the optimizer.
type SelectedSite struct {
	ID         string         `json:"id,omitempty"`
	Lat        float64        `json:"lat"`
	Lng        float64        `json:"lng"`
	Properties map[string]any `json:"properties,omitempty"`
}

// SelectionParams mirrors the optimizer request body. Every field is
// required; there are no defaults.
type SelectionParams struct {
	Username       string  `json:"username"`
	Radius         float64 `json:"radius"`
	MaxBBNum       int     `json:"max_bb_num"`
	BBPricingField string  `json:"bb_pricing_field"`
	MaxTotalCost   float64 `json:"max_total_cost"`
	DemandField    string  `json:"demand_field"`
	Method         string  `json:"method"`
}

// OverlayLayer is the decoded result of one completed selection request.
type OverlayLayer struct {
	ID            string          `json:"id"`
	Seq           uint64          `json:"seq"`
	Params        SelectionParams `json:"params"`
	Sites         []SelectedSite  `json:"sites"`
	CoverageCells []string        `json:"coverage_cells,omitempty"`
	Fingerprint   string          `json:"fingerprint"`
	RequestedAt   time.Time       `json:"requested_at"`
	CompletedAt   time.Time       `json:"completed_at"`
}

// SliceStatus tracks one independently loaded slice of view state.
type SliceStatus string

const (
	SlicePending     SliceStatus = "pending"
	SliceLoaded      SliceStatus = "loaded"
	SliceUnavailable SliceStatus = "unavailable"
)

// Phase is the Map View lifecycle state.
type Phase string

const (
	PhaseInitializing Phase = "initializing"
	PhaseReady        Phase = "ready"
	PhaseClosed       Phase = "closed"
)

// PaintKind identifies a layer in the composition.
type PaintKind string

const (
	PaintBasemap   PaintKind = "basemap"
	PaintCandidate PaintKind = "candidates"
	PaintOverlay   PaintKind = "overlay"
)

// PaintLayer is one entry of a composition, bottom first.
type PaintLayer struct {
	Kind        PaintKind     `json:"kind"`
	Z           int           `json:"z"`
	Name        string        `json:"name"`
	URL         string        `json:"url,omitempty"`
	Attribution string        `json:"attribution,omitempty"`
	Count       int           `json:"count,omitempty"`
	Overlay     *OverlayLayer `json:"overlay,omitempty"`
}
