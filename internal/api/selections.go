package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/mohammed-shakir/biq-mapview/internal/core/model"
	"github.com/mohammed-shakir/biq-mapview/internal/logger"
	"github.com/mohammed-shakir/biq-mapview/internal/selection"
)

func (a *API) requestSelection(w http.ResponseWriter, r *http.Request) {
	v, ok := a.view(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		writeError(w, fmt.Errorf("%w: read body: %w", errBadRequest, err))
		return
	}
	p, err := selection.DecodeParams(body)
	if err != nil {
		writeError(w, err)
		return
	}
	ctx := logger.WithUser(r.Context(), p.Username)
	layer, err := v.RequestSelection(ctx, p)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, layer)
}

func (a *API) layers(w http.ResponseWriter, r *http.Request) {
	v, ok := a.view(w, r)
	if !ok {
		return
	}
	layers := v.Layers()
	if layers == nil {
		layers = []model.OverlayLayer{}
	}
	if r.URL.Query().Get("format") == "geojson" {
		writeGeoJSON(w, layerFeatures(layers))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"layers": layers})
}

func (a *API) clearLayers(w http.ResponseWriter, r *http.Request) {
	v, ok := a.view(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": v.ClearLayers()})
}
