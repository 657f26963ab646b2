// Package refresh consumes upstream data-change events and drops the cached
// workspace and candidate data they make stale.
package refresh

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Kind string

const (
	KindWorkspace Kind = "workspace"
	KindCatalog   Kind = "catalog"
)

// Event announces that upstream data changed. Revision increases per
// subject; replays with an old revision are ignored.
type Event struct {
	Version  int       `json:"version"`
	Kind     Kind      `json:"kind"`
	UserID   string    `json:"user_id,omitempty"`
	Revision uint64    `json:"revision"`
	TS       time.Time `json:"ts"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return errors.New("version must be 1")
	}
	switch e.Kind {
	case KindWorkspace:
		if strings.TrimSpace(e.UserID) == "" {
			return errors.New("user_id is required for workspace events")
		}
	case KindCatalog:
	default:
		return fmt.Errorf("kind %q must be workspace|catalog", e.Kind)
	}
	if e.Revision == 0 {
		return errors.New("revision is required")
	}
	return nil
}

// subject is the dedupe key.
func (e Event) subject() string {
	if e.Kind == KindWorkspace {
		return "ws:" + strings.TrimSpace(e.UserID)
	}
	return "catalog"
}
