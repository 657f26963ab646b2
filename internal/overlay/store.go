// Package overlay holds the ordered, append-only list of selection result
// layers for one map view.
package overlay

import (
	"slices"
	"sync"

	"github.com/mohammed-shakir/biq-mapview/internal/cache/keys"
	"github.com/mohammed-shakir/biq-mapview/internal/core/model"
	"github.com/mohammed-shakir/biq-mapview/internal/core/observability"
)

type Order string

const (
	// OrderRequest keeps layers in the order their requests were issued.
	OrderRequest Order = "request"
	// OrderCompletion keeps layers in the order responses arrived.
	OrderCompletion Order = "completion"
)

func ParseOrder(s string) Order {
	if Order(s) == OrderCompletion {
		return OrderCompletion
	}
	return OrderRequest
}

// Ticket reserves a position for a request that has not completed yet.
type Ticket struct {
	seq uint64
}

func (t Ticket) Seq() uint64 { return t.seq }

type Store struct {
	mu        sync.RWMutex
	order     Order
	maxLayers int
	nextSeq   uint64
	layers    []model.OverlayLayer
	// sequences at or below cleared were reserved before the last Clear
	cleared uint64
}

// New returns an empty store. maxLayers <= 0 means unbounded.
func New(order Order, maxLayers int) *Store {
	if maxLayers < 0 {
		maxLayers = 0
	}
	return &Store{order: order, maxLayers: maxLayers}
}

// Reserve takes the next sequence number. Call it when the request is
// issued so request-order stores can place the result correctly.
func (s *Store) Reserve() Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSeq++
	return Ticket{seq: s.nextSeq}
}

// Append inserts a completed layer and returns it with its id and sequence
// assigned. It never fails. Layers reserved before the last Clear, and
// layers that would be evicted as soon as they land, are dropped and
// reported with ok=false.
func (s *Store) Append(t Ticket, layer model.OverlayLayer) (model.OverlayLayer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.seq == 0 {
		s.nextSeq++
		t.seq = s.nextSeq
	}
	if t.seq <= s.cleared {
		return model.OverlayLayer{}, false
	}

	layer.Seq = t.seq
	layer.ID = keys.LayerID(t.seq, layer.Fingerprint)
	layer.Sites = slices.Clone(layer.Sites)
	layer.CoverageCells = slices.Clone(layer.CoverageCells)

	switch s.order {
	case OrderCompletion:
		s.layers = append(s.layers, layer)
	default:
		i, _ := slices.BinarySearchFunc(s.layers, layer.Seq, func(l model.OverlayLayer, seq uint64) int {
			switch {
			case l.Seq < seq:
				return -1
			case l.Seq > seq:
				return 1
			}
			return 0
		})
		// an early ticket completing late sorts below newer layers; at
		// capacity it would be the first one evicted
		if s.maxLayers > 0 && i < len(s.layers)+1-s.maxLayers {
			return model.OverlayLayer{}, false
		}
		s.layers = slices.Insert(s.layers, i, layer)
	}
	observability.AddOverlayLayers(1)

	if s.maxLayers > 0 && len(s.layers) > s.maxLayers {
		n := len(s.layers) - s.maxLayers
		s.layers = slices.Delete(s.layers, 0, n)
		observability.AddOverlayLayers(-n)
	}
	return layer, true
}

// All returns the layers oldest first. The slice is a copy.
func (s *Store) All() []model.OverlayLayer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.layers)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.layers)
}

// Clear drops every layer. Requests reserved before the call are discarded
// when they complete.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.layers)
	s.layers = nil
	s.cleared = s.nextSeq
	observability.AddOverlayLayers(-n)
	return n
}
