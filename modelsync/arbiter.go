package modelsync

import (
	"context"
	"fmt"

	"github.com/golang/glog"
)

// authorization and deletion-reconciliation logic. the arbiter is the only
// component that decides whether a local write may be pushed and whether a
// locally present object must be purged. all external mutation requests
// route through here before touching the store.
type OwnershipArbiter struct {
	store     *Store
	localUser Oid
}

func NewOwnershipArbiter(store *Store, localUser Oid) *OwnershipArbiter {
	return &OwnershipArbiter{
		store:     store,
		localUser: localUser,
	}
}

func (self *OwnershipArbiter) LocalUser() Oid {
	return self.localUser
}

// a write may be pushed only if the local user is the object's creator or
// holds an editing role on the object's owner scope. a denied write is held
// and surfaced, never retried automatically.
func (self *OwnershipArbiter) MayPushProduct(ctx context.Context, product *Product) error {
	if product.Creator == self.localUser {
		return nil
	}
	return self.scopeGrantsEdit(ctx, product.Oid, product.Owner)
}

func (self *OwnershipArbiter) MayPushRequirement(ctx context.Context, requirement *Requirement) error {
	if requirement.Creator == self.localUser {
		return nil
	}
	return self.scopeGrantsEdit(ctx, requirement.Oid, requirement.Project)
}

// an edge write is authorized against the parent product's owner scope
func (self *OwnershipArbiter) MayPushEdge(ctx context.Context, edge *AssemblyEdge) error {
	if edge.Creator == self.localUser {
		return nil
	}
	parent, err := self.store.GetProduct(ctx, edge.Parent)
	if err != nil {
		return err
	}
	if parent == nil {
		return &AuthorizationError{
			Object: edge.Oid,
			User:   self.localUser,
			Reason: "parent product is not present locally",
		}
	}
	return self.scopeGrantsEdit(ctx, edge.Oid, parent.Owner)
}

func (self *OwnershipArbiter) scopeGrantsEdit(ctx context.Context, object Oid, scope Oid) error {
	project, err := self.store.GetProject(ctx, scope)
	if err != nil {
		return err
	}
	if project != nil {
		if role, ok := project.RoleOf(self.localUser); ok && role.CanEdit() {
			return nil
		}
	}
	return &AuthorizationError{
		Object: object,
		User:   self.localUser,
		Reason: fmt.Sprintf("no editing role on scope %s", scope),
	}
}

type ReconcileResult struct {
	// purged locally: absent from the authoritative set and not created by
	// the local user
	Purged []Oid
	// created by the local user but unknown to the repository: re-pushed
	Repush []Oid
}

// deletion reconciliation over the authoritative set of oids currently
// belonging to the fetched scope. an object absent from the set was deleted
// remotely by its creator or an authorized party; unless the local user
// created it, the local copy is purged. locally created objects unknown to
// the repository are re-pushed instead, except when tombstoned by a pending
// local delete.
func (self *OwnershipArbiter) ReconcileProducts(
	ctx context.Context,
	scope Oid,
	authoritative []Oid,
) (*ReconcileResult, error) {
	authoritativeSet := map[Oid]bool{}
	for _, oid := range authoritative {
		authoritativeSet[oid] = true
	}

	localOids, err := self.store.ProductOidsInScope(ctx, scope)
	if err != nil {
		return nil, err
	}

	result := &ReconcileResult{}
	for _, oid := range localOids {
		if authoritativeSet[oid] {
			continue
		}
		product, err := self.store.GetProduct(ctx, oid)
		if err != nil {
			return nil, err
		}
		if product == nil {
			continue
		}
		if product.Creator != self.localUser {
			glog.Infof("[arb]purge %s (deleted remotely)\n", oid)
			if err := self.store.DeleteProduct(ctx, oid); err != nil {
				return nil, err
			}
			result.Purged = append(result.Purged, oid)
			continue
		}
		tombstoned, err := self.store.IsTombstoned(ctx, oid)
		if err != nil {
			return nil, err
		}
		if tombstoned {
			continue
		}
		result.Repush = append(result.Repush, oid)
	}
	return result, nil
}

func (self *OwnershipArbiter) ReconcileRequirements(
	ctx context.Context,
	project Oid,
	authoritative []Oid,
) (*ReconcileResult, error) {
	authoritativeSet := map[Oid]bool{}
	for _, oid := range authoritative {
		authoritativeSet[oid] = true
	}

	localOids, err := self.store.RequirementOidsInScope(ctx, project)
	if err != nil {
		return nil, err
	}

	result := &ReconcileResult{}
	for _, oid := range localOids {
		if authoritativeSet[oid] {
			continue
		}
		requirement, err := self.store.GetRequirement(ctx, oid)
		if err != nil {
			return nil, err
		}
		if requirement == nil {
			continue
		}
		if requirement.Creator != self.localUser {
			glog.Infof("[arb]purge requirement %s (deleted remotely)\n", oid)
			if err := self.store.DeleteRequirement(ctx, oid); err != nil {
				return nil, err
			}
			result.Purged = append(result.Purged, oid)
			continue
		}
		tombstoned, err := self.store.IsTombstoned(ctx, oid)
		if err != nil {
			return nil, err
		}
		if tombstoned {
			continue
		}
		result.Repush = append(result.Repush, oid)
	}
	return result, nil
}

// a local delete is permitted under the same rule as a push. the object is
// tombstoned until the delete is acknowledged remotely.
func (self *OwnershipArbiter) MayDeleteProduct(ctx context.Context, oid Oid) error {
	product, err := self.store.GetProduct(ctx, oid)
	if err != nil {
		return err
	}
	if product == nil {
		return fmt.Errorf("product %s not found", oid)
	}
	return self.MayPushProduct(ctx, product)
}
