package watcher

import (
	"context"
	"fmt"

	"github.com/paulmach/orb/geojson"
	"github.com/ritzau/pugmark/pkg/logging"
	"github.com/ritzau/pugmark/pkg/model"
	"github.com/ritzau/pugmark/pkg/nodeio"
	"github.com/ritzau/pugmark/pkg/parcels"
)

// Target receives reloaded data. *session.Session satisfies it.
type Target interface {
	SetParcels(ctx context.Context, fc *geojson.FeatureCollection) error
	ReplaceNodes(ctx context.Context, nodes []model.Node) error
}

// Reloader applies change events to a Target by re-reading the changed file.
type Reloader struct {
	Target      Target
	ParcelsPath string
	NodesPath   string

	// OnStatus, when set, receives the state of each reload.
	OnStatus func(state, message string)
}

// Handle reloads the file behind event. A file that fails to load leaves
// the target untouched.
func (r *Reloader) Handle(ctx context.Context, event ChangeEvent) error {
	switch event.Type {
	case ChangeTypeParcels:
		fc, warnings, err := parcels.Load(r.ParcelsPath)
		if err != nil {
			return fmt.Errorf("reloading parcels: %w", err)
		}
		if err := r.Target.SetParcels(ctx, fc); err != nil {
			return err
		}
		logging.Info("reloaded parcels", "path", r.ParcelsPath, "parcels", len(fc.Features), "dropped", len(warnings))

	case ChangeTypeNodes:
		nodes, err := nodeio.ReadFile(r.NodesPath)
		if err != nil {
			return fmt.Errorf("reloading nodes: %w", err)
		}
		if err := r.Target.ReplaceNodes(ctx, nodes); err != nil {
			return err
		}
		logging.Info("reloaded nodes", "path", r.NodesPath, "nodes", len(nodes))
	}
	return nil
}

// Run handles debounced events until the channel closes or ctx is done.
// Failures are logged and the previous state is kept.
func (r *Reloader) Run(ctx context.Context, events <-chan ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			r.status("reloading", event.Type.String()+" changed")
			if err := r.Handle(ctx, event); err != nil {
				logging.Error("reload failed", "type", event.Type.String(), "error", err)
				r.status("error", err.Error())
				continue
			}
			r.status("ready", event.Type.String()+" reloaded")
		}
	}
}

func (r *Reloader) status(state, message string) {
	if r.OnStatus != nil {
		r.OnStatus(state, message)
	}
}
