// Package api exposes mounted map views to the browser client over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/biq-mapview/internal/mapview"
	"github.com/mohammed-shakir/biq-mapview/internal/selection"
)

const maxBody = 1 << 20

type API struct {
	logger    *slog.Logger
	views     *mapview.Registry
	heartbeat time.Duration
}

func New(logger *slog.Logger, views *mapview.Registry) *API {
	return &API{logger: logger.With("component", "api"), views: views, heartbeat: 15 * time.Second}
}

// Routes returns the /api/v1 subtree.
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/views", a.mountView)
	r.Route("/views/{id}", func(r chi.Router) {
		r.Get("/", a.getView)
		r.Delete("/", a.unmountView)
		r.Get("/composition", a.composition)
		r.Get("/candidates", a.candidates)
		r.Put("/workspace", a.setWorkspace)
		r.Post("/selections", a.requestSelection)
		r.Get("/layers", a.layers)
		r.Delete("/layers", a.clearLayers)
		r.Put("/camera", a.setCamera)
		r.Post("/click", a.click)
		r.Post("/overlays/toggle", a.toggleOverlays)
		r.Get("/events", a.events)
	})
	return r
}

func (a *API) view(w http.ResponseWriter, r *http.Request) (*mapview.View, bool) {
	v, err := a.views.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return v, true
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, mapview.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, mapview.ErrClosed):
		return http.StatusGone
	case errors.Is(err, mapview.ErrDiscarded):
		return http.StatusConflict
	case errors.Is(err, mapview.ErrBadCamera), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	}
	var re *selection.RequestError
	if errors.As(err, &re) {
		switch re.Kind {
		case selection.KindConfiguration:
			return http.StatusBadRequest
		case selection.KindNetwork:
			if re.Timeout() {
				return http.StatusGatewayTimeout
			}
			return http.StatusBadGateway
		default:
			return http.StatusBadGateway
		}
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody{Error: err.Error(), Kind: string(selection.KindOf(err))})
}

var errBadRequest = errors.New("bad request")

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: decode body: %w", errBadRequest, err)
	}
	return nil
}
