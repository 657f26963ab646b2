package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/mohammed-shakir/biq-mapview/internal/catalog"
	"github.com/mohammed-shakir/biq-mapview/internal/core/model"
	"github.com/mohammed-shakir/biq-mapview/internal/logger"
)

type mountRequest struct {
	UserID string `json:"user_id"`
}

func (a *API) mountView(w http.ResponseWriter, r *http.Request) {
	var req mountRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	v, err := a.views.Mount(req.UserID)
	if err != nil {
		writeError(w, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	ctx := logger.WithViewID(r.Context(), v.ID())
	a.logger.InfoContext(ctx, "view mounted", "user", req.UserID)
	writeJSON(w, http.StatusCreated, v.State())
}

func (a *API) getView(w http.ResponseWriter, r *http.Request) {
	v, ok := a.view(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, v.State())
}

func (a *API) unmountView(w http.ResponseWriter, r *http.Request) {
	if err := a.views.Unmount(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) composition(w http.ResponseWriter, r *http.Request) {
	v, ok := a.view(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"revision": v.Revision(),
		"layers":   v.Composition(),
	})
}

func (a *API) candidates(w http.ResponseWriter, r *http.Request) {
	v, ok := a.view(w, r)
	if !ok {
		return
	}
	sites, status := v.Candidates()
	if status != model.SliceLoaded {
		// unavailable is final for this view; only a pending load is worth retrying
		if status == model.SlicePending {
			w.Header().Set("Retry-After", "1")
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": string(status)})
		return
	}
	writeGeoJSON(w, catalog.ToFeatureCollection(sites))
}

func (a *API) setWorkspace(w http.ResponseWriter, r *http.Request) {
	v, ok := a.view(w, r)
	if !ok {
		return
	}
	var ws model.Workspace
	if err := decodeBody(r, &ws); err != nil {
		writeError(w, err)
		return
	}
	if ws.BasemapURL == "" {
		writeError(w, fmt.Errorf("%w: basemap_url is required", errBadRequest))
		return
	}
	if err := v.SetWorkspace(ws); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v.State())
}

type cameraRequest struct {
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
	Zoom *int    `json:"zoom,omitempty"`
}

func (a *API) setCamera(w http.ResponseWriter, r *http.Request) {
	v, ok := a.view(w, r)
	if !ok {
		return
	}
	var req cameraRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	center := model.LatLng{Lat: req.Lat, Lng: req.Lng}
	var err error
	if req.Zoom == nil {
		err = v.Recenter(center)
	} else {
		err = v.SetCamera(center, *req.Zoom)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v.State())
}

func (a *API) click(w http.ResponseWriter, r *http.Request) {
	v, ok := a.view(w, r)
	if !ok {
		return
	}
	var pt model.LatLng
	if err := decodeBody(r, &pt); err != nil {
		writeError(w, err)
		return
	}
	if err := v.Click(pt); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) toggleOverlays(w http.ResponseWriter, r *http.Request) {
	v, ok := a.view(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"visible": v.ToggleOverlays()})
}

func writeGeoJSON(w http.ResponseWriter, fc *geojson.FeatureCollection) {
	b, err := fc.MarshalJSON()
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}

// layerFeatures flattens overlay layers into one collection; each feature
// carries its layer id and sequence.
func layerFeatures(layers []model.OverlayLayer) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, l := range layers {
		for _, s := range l.Sites {
			f := geojson.NewFeature(orb.Point{s.Lng, s.Lat})
			if s.ID != "" {
				f.ID = s.ID
			}
			for k, v := range s.Properties {
				f.Properties[k] = v
			}
			f.Properties["layer_id"] = l.ID
			f.Properties["layer_seq"] = l.Seq
			fc.Append(f)
		}
	}
	return fc
}
