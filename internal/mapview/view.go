// Package mapview implements the map view context object: per-view camera,
// workspace and candidate slices, and the overlay layers produced by
// selection requests.
package mapview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mohammed-shakir/biq-mapview/internal/core/model"
	"github.com/mohammed-shakir/biq-mapview/internal/core/observability"
	"github.com/mohammed-shakir/biq-mapview/internal/coverage"
	"github.com/mohammed-shakir/biq-mapview/internal/logger"
	"github.com/mohammed-shakir/biq-mapview/internal/overlay"
	"github.com/mohammed-shakir/biq-mapview/internal/selection"
	"github.com/mohammed-shakir/biq-mapview/internal/selectionevents"
	"github.com/mohammed-shakir/biq-mapview/internal/workspace"
)

var (
	ErrClosed = errors.New("mapview: view closed")
	// ErrDiscarded is returned when the layers were cleared while the
	// request was in flight.
	ErrDiscarded = errors.New("mapview: result discarded by clear or eviction")
	ErrBadCamera = errors.New("mapview: invalid camera")
)

type CatalogLoader interface {
	Load(ctx context.Context) ([]model.CandidateSite, error)
}

type EventPublisher interface {
	Publish(ev selectionevents.Event)
}

// Deps are the collaborators shared by every view.
type Deps struct {
	Logger     *slog.Logger
	Workspaces workspace.Loader
	Catalog    CatalogLoader
	Selector   selection.Requester
	Coverage   *coverage.Calculator
	Events     EventPublisher
}

type Options struct {
	Center      model.LatLng
	Zoom        int
	MaxZoom     int
	Order       overlay.Order
	MaxLayers   int
	LoadTimeout time.Duration
}

// State is a read-only snapshot of a view.
type State struct {
	ID              string            `json:"id"`
	UserID          string            `json:"user_id"`
	Phase           model.Phase       `json:"phase"`
	WorkspaceStatus model.SliceStatus `json:"workspace_status"`
	CandidateStatus model.SliceStatus `json:"candidates_status"`
	Workspace       *model.Workspace  `json:"workspace,omitempty"`
	Center          model.LatLng      `json:"center"`
	Zoom            int               `json:"zoom"`
	MaxZoom         int               `json:"max_zoom"`
	Candidates      int               `json:"candidates"`
	Layers          int               `json:"layers"`
	OverlaysVisible bool              `json:"overlays_visible"`
	Revision        uint64            `json:"revision"`
	CreatedAt       time.Time         `json:"created_at"`
}

type View struct {
	id     string
	userID string
	deps   Deps
	opts   Options
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	closeOnce sync.Once
	ready     chan struct{}

	layers *overlay.Store

	mu              sync.RWMutex
	phase           model.Phase
	wsStatus        model.SliceStatus
	candStatus      model.SliceStatus
	ws              *model.Workspace
	candidates      []model.CandidateSite
	center          model.LatLng
	zoom            int
	overlaysVisible bool
	revision        uint64
	createdAt       time.Time
	subs            map[int]chan uint64
	nextSub         int
	clickObservers  []func(model.LatLng)
}

// New creates a view in the initializing phase. Call Start to load its
// workspace and candidate slices.
func New(id, userID string, deps Deps, opts Options) *View {
	if opts.MaxZoom <= 0 {
		opts.MaxZoom = 18
	}
	if opts.Zoom > opts.MaxZoom {
		opts.Zoom = opts.MaxZoom
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 30 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	ctx := logger.WithViewID(context.Background(), id)
	ctx = logger.WithUser(ctx, userID)
	ctx, cancel := context.WithCancel(ctx)

	v := &View{
		id:              id,
		userID:          userID,
		deps:            deps,
		opts:            opts,
		log:             deps.Logger.With("component", "mapview"),
		ctx:             ctx,
		cancel:          cancel,
		ready:           make(chan struct{}),
		layers:          overlay.New(opts.Order, opts.MaxLayers),
		phase:           model.PhaseInitializing,
		wsStatus:        model.SlicePending,
		candStatus:      model.SlicePending,
		center:          opts.Center,
		zoom:            opts.Zoom,
		overlaysVisible: true,
		createdAt:       time.Now().UTC(),
		subs:            make(map[int]chan uint64),
	}
	v.clickObservers = append(v.clickObservers, v.logClick)
	return v
}

func (v *View) ID() string     { return v.id }
func (v *View) UserID() string { return v.userID }

// Done is closed when the view is closed.
func (v *View) Done() <-chan struct{} { return v.ctx.Done() }

// Ready is closed once both slices have settled.
func (v *View) Ready() <-chan struct{} { return v.ready }

// Start loads the workspace and candidate slices concurrently. Failures
// leave the slice unavailable; the view still becomes ready.
func (v *View) Start() {
	v.startOnce.Do(func() {
		if v.ctx.Err() != nil {
			return
		}
		v.wg.Add(2)
		go v.loadWorkspace()
		go v.loadCandidates()
	})
}

func (v *View) loadWorkspace() {
	defer v.wg.Done()
	ctx, cancel := context.WithTimeout(v.ctx, v.opts.LoadTimeout)
	defer cancel()

	var (
		ws  model.Workspace
		err error
	)
	if v.deps.Workspaces == nil {
		err = errors.New("no workspace provider configured")
	} else {
		ws, err = v.deps.Workspaces.Load(ctx, v.userID)
	}
	observability.IncSliceLoad("workspace", err == nil)

	v.mu.Lock()
	if v.phase == model.PhaseClosed {
		v.mu.Unlock()
		return
	}
	// a workspace set while loading wins over the fetched one
	if v.wsStatus == model.SlicePending {
		if err != nil {
			v.wsStatus = model.SliceUnavailable
		} else {
			v.ws = &ws
			v.wsStatus = model.SliceLoaded
		}
	}
	v.settleLocked()
	v.mu.Unlock()

	if err != nil {
		v.log.WarnContext(v.ctx, "workspace unavailable", "err", err)
	}
}

func (v *View) loadCandidates() {
	defer v.wg.Done()
	ctx, cancel := context.WithTimeout(v.ctx, v.opts.LoadTimeout)
	defer cancel()

	var (
		sites []model.CandidateSite
		err   error
	)
	if v.deps.Catalog == nil {
		err = errors.New("no candidate catalog configured")
	} else {
		sites, err = v.deps.Catalog.Load(ctx)
	}
	observability.IncSliceLoad("candidates", err == nil)

	v.mu.Lock()
	if v.phase == model.PhaseClosed {
		v.mu.Unlock()
		return
	}
	if err != nil {
		v.candStatus = model.SliceUnavailable
	} else {
		v.candidates = sites
		v.candStatus = model.SliceLoaded
	}
	v.settleLocked()
	v.mu.Unlock()

	if err != nil {
		v.log.WarnContext(v.ctx, "candidates unavailable", "err", err)
	}
}

// settleLocked moves to ready once neither slice is pending.
func (v *View) settleLocked() {
	if v.phase == model.PhaseInitializing &&
		v.wsStatus != model.SlicePending && v.candStatus != model.SlicePending {
		v.phase = model.PhaseReady
		close(v.ready)
		v.log.InfoContext(v.ctx, "view ready",
			"workspace", string(v.wsStatus), "candidates", string(v.candStatus), "candidate_count", len(v.candidates))
	}
	v.bumpLocked()
}

func (v *View) State() State {
	v.mu.RLock()
	defer v.mu.RUnlock()
	st := State{
		ID:              v.id,
		UserID:          v.userID,
		Phase:           v.phase,
		WorkspaceStatus: v.wsStatus,
		CandidateStatus: v.candStatus,
		Center:          v.center,
		Zoom:            v.zoom,
		MaxZoom:         v.opts.MaxZoom,
		Candidates:      len(v.candidates),
		Layers:          v.layers.Len(),
		OverlaysVisible: v.overlaysVisible,
		Revision:        v.revision,
		CreatedAt:       v.createdAt,
	}
	if v.ws != nil {
		ws := *v.ws
		st.Workspace = &ws
	}
	return st
}

func (v *View) Candidates() ([]model.CandidateSite, model.SliceStatus) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.candidates, v.candStatus
}

func (v *View) Layers() []model.OverlayLayer {
	return v.layers.All()
}

// RequestSelection runs one selection against the optimizer and appends the
// resulting layer. The request is cancelled when either ctx or the view is.
// Failures leave the layer list unchanged.
func (v *View) RequestSelection(ctx context.Context, p model.SelectionParams) (model.OverlayLayer, error) {
	if err := v.ctx.Err(); err != nil {
		return model.OverlayLayer{}, ErrClosed
	}
	if v.deps.Selector == nil {
		return model.OverlayLayer{}, &selection.RequestError{
			Kind: selection.KindConfiguration, Op: "request", Err: errors.New("no optimizer configured"),
		}
	}
	if err := selection.Validate(p); err != nil {
		return model.OverlayLayer{}, err
	}

	ticket := v.layers.Reserve()

	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(v.ctx, cancel)
	defer stop()
	rctx = logger.WithViewID(rctx, v.id)

	layer, err := v.deps.Selector.RequestSelection(rctx, p)
	if err != nil {
		if v.ctx.Err() != nil {
			return model.OverlayLayer{}, fmt.Errorf("%w: %w", ErrClosed, err)
		}
		return model.OverlayLayer{}, err
	}

	if v.deps.Coverage != nil && len(layer.Sites) > 0 {
		cells, cerr := v.deps.Coverage.Cells(layer.Sites, p.Radius)
		if cerr != nil {
			v.log.WarnContext(rctx, "coverage skipped", "err", cerr)
		} else {
			layer.CoverageCells = cells
		}
	}

	v.mu.Lock()
	if v.phase == model.PhaseClosed {
		v.mu.Unlock()
		return model.OverlayLayer{}, ErrClosed
	}
	stored, ok := v.layers.Append(ticket, layer)
	if ok {
		v.bumpLocked()
	}
	v.mu.Unlock()
	if !ok {
		return model.OverlayLayer{}, ErrDiscarded
	}

	v.log.InfoContext(rctx, "overlay layer added",
		"layer_id", stored.ID, "sites", len(stored.Sites), "cells", len(stored.CoverageCells))

	if v.deps.Events != nil {
		v.deps.Events.Publish(selectionevents.Event{
			ViewID:      v.id,
			LayerID:     stored.ID,
			Username:    p.Username,
			Method:      p.Method,
			Fingerprint: stored.Fingerprint,
			Sites:       len(stored.Sites),
			Cells:       len(stored.CoverageCells),
			DurationMS:  stored.CompletedAt.Sub(stored.RequestedAt).Milliseconds(),
			TS:          stored.CompletedAt,
		})
	}
	return stored, nil
}

// Composition returns the paint order, bottom first: basemap, candidates,
// then overlay layers in store order. Hidden overlays and unavailable
// slices are left out.
func (v *View) Composition() []model.PaintLayer {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var out []model.PaintLayer
	z := 0
	if v.wsStatus == model.SliceLoaded && v.ws != nil {
		out = append(out, model.PaintLayer{
			Kind:        model.PaintBasemap,
			Z:           z,
			Name:        "basemap",
			URL:         v.ws.BasemapURL,
			Attribution: v.ws.BasemapAttr,
		})
		z++
	}
	if v.candStatus == model.SliceLoaded {
		out = append(out, model.PaintLayer{
			Kind:  model.PaintCandidate,
			Z:     z,
			Name:  "l-candidate",
			Count: len(v.candidates),
		})
		z++
	}
	if v.overlaysVisible {
		for _, l := range v.layers.All() {
			out = append(out, model.PaintLayer{
				Kind:    model.PaintOverlay,
				Z:       z,
				Name:    l.ID,
				Count:   len(l.Sites),
				Overlay: &l,
			})
			z++
		}
	}
	return out
}

// SetCamera moves the view. Zoom is clamped to [0, MaxZoom].
func (v *View) SetCamera(center model.LatLng, zoom int) error {
	if !center.Valid() {
		return fmt.Errorf("%w: center %s out of range", ErrBadCamera, center)
	}
	zoom = max(0, min(zoom, v.opts.MaxZoom))

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.phase == model.PhaseClosed {
		return ErrClosed
	}
	v.center = center
	v.zoom = zoom
	v.bumpLocked()
	return nil
}

// Recenter moves the center and keeps the zoom.
func (v *View) Recenter(center model.LatLng) error {
	v.mu.RLock()
	zoom := v.zoom
	v.mu.RUnlock()
	return v.SetCamera(center, zoom)
}

// OnClick registers an observer for map clicks.
func (v *View) OnClick(fn func(model.LatLng)) {
	v.mu.Lock()
	v.clickObservers = append(v.clickObservers, fn)
	v.mu.Unlock()
}

// Click forwards a map click to observers. It does not change view state.
func (v *View) Click(pt model.LatLng) error {
	if !pt.Valid() {
		return fmt.Errorf("%w: click %s out of range", ErrBadCamera, pt)
	}
	v.mu.RLock()
	obs := append([]func(model.LatLng){}, v.clickObservers...)
	v.mu.RUnlock()
	for _, fn := range obs {
		fn(pt)
	}
	return nil
}

func (v *View) logClick(pt model.LatLng) {
	v.log.InfoContext(v.ctx, "map click", "lat", pt.Lat, "lng", pt.Lng)
}

// ToggleOverlays flips overlay visibility and returns the new value.
func (v *View) ToggleOverlays() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.overlaysVisible = !v.overlaysVisible
	v.bumpLocked()
	return v.overlaysVisible
}

// SetWorkspace replaces the workspace wholesale.
func (v *View) SetWorkspace(ws model.Workspace) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.phase == model.PhaseClosed {
		return ErrClosed
	}
	v.ws = &ws
	v.wsStatus = model.SliceLoaded
	v.settleLocked()
	return nil
}

// ClearLayers removes every overlay layer and returns how many were dropped.
func (v *View) ClearLayers() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := v.layers.Clear()
	v.bumpLocked()
	return n
}

func (v *View) Revision() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.revision
}

// Subscribe returns a channel that receives the latest revision after each
// state change. Slow readers only see the newest value. The channel is
// closed by the returned cancel func or when the view closes.
func (v *View) Subscribe() (<-chan uint64, func()) {
	ch := make(chan uint64, 1)
	v.mu.Lock()
	if v.phase == model.PhaseClosed {
		v.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := v.nextSub
	v.nextSub++
	v.subs[id] = ch
	ch <- v.revision
	v.mu.Unlock()

	return ch, func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if c, ok := v.subs[id]; ok {
			delete(v.subs, id)
			close(c)
		}
	}
}

func (v *View) bumpLocked() {
	v.revision++
	for _, ch := range v.subs {
		select {
		case <-ch:
		default:
		}
		ch <- v.revision
	}
}

// Close cancels in-flight work, drops the layers and waits for background
// loads to return. It is safe to call more than once.
func (v *View) Close() {
	v.closeOnce.Do(func() {
		v.cancel()

		v.mu.Lock()
		v.phase = model.PhaseClosed
		for id, ch := range v.subs {
			delete(v.subs, id)
			close(ch)
		}
		v.mu.Unlock()

		v.wg.Wait()
		v.layers.Clear()
		v.log.InfoContext(v.ctx, "view closed")
	})
}
