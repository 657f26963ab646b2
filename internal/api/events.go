package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type revisionEvent struct {
	Revision uint64 `json:"revision"`
	Phase    string `json:"phase"`
	Layers   int    `json:"layers"`
}

// events streams revision changes as server-sent events so the client knows
// when to re-render.
func (a *API) events(w http.ResponseWriter, r *http.Request) {
	v, ok := a.view(w, r)
	if !ok {
		return
	}
	rc := http.NewResponseController(w)
	// the stream outlives the server write timeout
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch, cancel := v.Subscribe()
	defer cancel()

	tick := time.NewTicker(a.heartbeat)
	defer tick.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case rev, open := <-ch:
			if !open {
				_, _ = fmt.Fprint(w, "event: closed\ndata: {}\n\n")
				_ = rc.Flush()
				return
			}
			st := v.State()
			b, _ := json.Marshal(revisionEvent{Revision: rev, Phase: string(st.Phase), Layers: st.Layers})
			if _, err := fmt.Fprintf(w, "id: %d\nevent: revision\ndata: %s\n\n", rev, b); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case <-tick.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
