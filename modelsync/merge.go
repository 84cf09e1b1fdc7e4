package modelsync

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"
)

// applies inbound change events to the local object store. an event lands
// cleanly when its prior revision matches the stored revision (or the
// object is absent and the event is a create). on divergence the resolution
// is last writer wins by timestamp, ties broken by originating client
// identity; the losing local edit is discarded, logged, and never queued
// for reapplication.
type MergeResolver struct {
	store *Store
	// local client identity for the conflict tie-break
	clientId Oid
}

func NewMergeResolver(store *Store, clientId Oid) *MergeResolver {
	return &MergeResolver{
		store:    store,
		clientId: clientId,
	}
}

// returns whether the event was applied. redelivered events (NewRev at or
// below the stored revision) are skipped, which makes apply idempotent on
// (object, rev).
func (self *MergeResolver) Apply(ctx context.Context, event *ChangeEvent) (bool, error) {
	localRev, exists, localTime, err := self.localState(ctx, event)
	if err != nil {
		return false, err
	}

	if !exists {
		switch event.Kind {
		case KindCreate:
			return true, self.land(ctx, event)
		case KindDelete:
			// nothing to delete
			return false, nil
		default:
			// an update for an object never seen locally. land it as a
			// create so the replica converges.
			glog.V(1).Infof("[merge]update for absent %s, landing as create\n", event.Object)
			return true, self.land(ctx, event)
		}
	}

	if event.NewRev <= localRev {
		glog.V(2).Infof("[merge]skip %s rev %d <= %d (redelivery)\n", event.Object, event.NewRev, localRev)
		return false, nil
	}

	if event.PriorRev == localRev {
		return true, self.land(ctx, event)
	}

	// diverged, e.g. a pending unacknowledged local edit
	conflict := &VersionConflictError{
		Object:   event.Object,
		PriorRev: event.PriorRev,
		LocalRev: localRev,
	}
	if self.remoteWins(event, localTime) {
		glog.Infof("[merge]%s: remote wins, local edit superseded\n", conflict)
		return true, self.land(ctx, event)
	}
	glog.Infof("[merge]%s: local wins, event discarded\n", conflict)
	return false, nil
}

func (self *MergeResolver) remoteWins(event *ChangeEvent, localTime time.Time) bool {
	if event.Timestamp.After(localTime) {
		return true
	}
	if localTime.After(event.Timestamp) {
		return false
	}
	return 0 < bytes.Compare(event.Origin.Bytes(), self.clientId.Bytes())
}

func (self *MergeResolver) localState(ctx context.Context, event *ChangeEvent) (uint64, bool, time.Time, error) {
	switch event.Class {
	case ClassProduct, ClassParameter:
		product, err := self.store.GetProduct(ctx, event.Object)
		if err != nil {
			return 0, false, time.Time{}, err
		}
		if product == nil {
			return 0, false, time.Time{}, nil
		}
		return product.Rev, true, product.ModifyTime, nil
	case ClassAssemblyEdge:
		rev, exists, err := self.store.EdgeRev(ctx, event.Object)
		return rev, exists, time.Time{}, err
	case ClassRequirement:
		requirement, err := self.store.GetRequirement(ctx, event.Object)
		if err != nil {
			return 0, false, time.Time{}, err
		}
		if requirement == nil {
			return 0, false, time.Time{}, nil
		}
		return requirement.Rev, true, requirement.ModifyTime, nil
	case ClassProject, ClassParameterDef:
		// replaced wholesale, no revision gate
		return 0, false, time.Time{}, nil
	default:
		return 0, false, time.Time{}, fmt.Errorf("unknown object class %q", event.Class)
	}
}

func (self *MergeResolver) land(ctx context.Context, event *ChangeEvent) error {
	switch event.Class {
	case ClassProduct:
		if event.Kind == KindDelete {
			return self.store.DeleteProduct(ctx, event.Object)
		}
		product, err := DecodePayload[Product](event)
		if err != nil {
			return err
		}
		product.Oid = event.Object
		product.Rev = event.NewRev
		product.State = StateSynced
		return self.store.PutProduct(ctx, product)

	case ClassParameter:
		edit, err := DecodePayload[ParameterEdit](event)
		if err != nil {
			return err
		}
		stored, err := self.store.GetParameterValue(ctx, event.Object, edit.Symbol)
		if err != nil {
			return err
		}
		if stored != nil && stored.Computed {
			// computed values are derived locally, never landed from events
			glog.Infof("[merge]reject event targeting computed %s.%s\n", event.Object, edit.Symbol)
			return nil
		}
		if err := self.store.SetParameterValue(ctx, &ParameterValue{
			Object: event.Object,
			Symbol: edit.Symbol,
			Value:  edit.Value,
			Text:   edit.Text,
		}); err != nil {
			return err
		}
		// the owning object's revision advances with the edit
		product, err := self.store.GetProduct(ctx, event.Object)
		if err != nil {
			return err
		}
		if product != nil {
			product.Rev = event.NewRev
			product.ModifyTime = event.Timestamp
			return self.store.PutProduct(ctx, product)
		}
		return nil

	case ClassAssemblyEdge:
		if event.Kind == KindDelete {
			return self.store.DeleteEdge(ctx, event.Object)
		}
		edge, err := DecodePayload[AssemblyEdge](event)
		if err != nil {
			return err
		}
		edge.Oid = event.Object
		edge.Rev = event.NewRev
		return self.store.PutEdge(ctx, edge)

	case ClassRequirement:
		if event.Kind == KindDelete {
			return self.store.DeleteRequirement(ctx, event.Object)
		}
		requirement, err := DecodePayload[Requirement](event)
		if err != nil {
			return err
		}
		requirement.Oid = event.Object
		requirement.Rev = event.NewRev
		return self.store.PutRequirement(ctx, requirement)

	case ClassProject:
		project, err := DecodePayload[Project](event)
		if err != nil {
			return err
		}
		project.Oid = event.Object
		return self.store.PutProject(ctx, project)

	case ClassParameterDef:
		def, err := DecodePayload[ParameterDefinition](event)
		if err != nil {
			return err
		}
		return self.store.PutParameterDefinition(ctx, def)

	default:
		return fmt.Errorf("unknown object class %q", event.Class)
	}
}
