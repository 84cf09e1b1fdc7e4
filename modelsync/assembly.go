package modelsync

import (
	"context"
	"fmt"

	"github.com/golang/glog"
)

// structural model of product composition. every operation validates the
// type constraint and acyclicity before any write lands, so a rejected
// operation leaves the prior structure intact. the roll-up engine assumes
// the non-TBD edge graph is a DAG, which this guard maintains.
type AssemblyGraph struct {
	store *Store
}

func NewAssemblyGraph(store *Store) *AssemblyGraph {
	return &AssemblyGraph{
		store: store,
	}
}

// insert `product` as a component of `parent`. when `position` is a TBD
// edge oid, the product fills that position and must match the position's
// product type constraint. otherwise a new edge is created with the
// product's own type as the constraint.
func (self *AssemblyGraph) InsertComponent(
	ctx context.Context,
	sessionCtx *SessionContext,
	parent Oid,
	product Oid,
	position Oid,
) (*AssemblyEdge, error) {
	parentProduct, err := self.store.GetProduct(ctx, parent)
	if err != nil {
		return nil, err
	}
	if parentProduct == nil {
		return nil, fmt.Errorf("parent %s not found", parent)
	}
	childProduct, err := self.store.GetProduct(ctx, product)
	if err != nil {
		return nil, err
	}
	if childProduct == nil {
		return nil, fmt.Errorf("product %s not found", product)
	}

	if cycle, err := self.wouldCycle(ctx, parent, product); err != nil {
		return nil, err
	} else if cycle {
		return nil, &CycleError{Parent: parent, Child: product}
	}

	if !position.IsNil() {
		edge, err := self.store.GetEdge(ctx, position)
		if err != nil {
			return nil, err
		}
		if edge == nil {
			return nil, fmt.Errorf("position %s not found", position)
		}
		if !edge.IsTbd() {
			return nil, fmt.Errorf("position %s is already occupied", position)
		}
		if edge.ProductType != childProduct.ProductType {
			return nil, &TypeMismatchError{
				Position: position,
				Want:     edge.ProductType,
				Got:      childProduct.ProductType,
			}
		}
		edge.Child = product
		edge.Rev += 1
		if err := self.store.PutEdge(ctx, edge); err != nil {
			return nil, err
		}
		glog.V(1).Infof("[asm]fill %s <- %s at %s\n", parent, product, position)
		return edge, nil
	}

	edge := &AssemblyEdge{
		Oid:         NewOid(),
		Parent:      parent,
		Child:       product,
		ProductType: childProduct.ProductType,
		Quantity:    1,
		Creator:     sessionCtx.User,
		Rev:         1,
	}
	if err := self.store.PutEdge(ctx, edge); err != nil {
		return nil, err
	}
	glog.V(1).Infof("[asm]insert %s <- %s\n", parent, product)
	return edge, nil
}

// remove the product from the position, leaving a TBD edge that keeps the
// removed product's type as its constraint
func (self *AssemblyGraph) RemoveComponent(ctx context.Context, edgeOid Oid) (*AssemblyEdge, error) {
	edge, err := self.store.GetEdge(ctx, edgeOid)
	if err != nil {
		return nil, err
	}
	if edge == nil {
		return nil, fmt.Errorf("edge %s not found", edgeOid)
	}
	if edge.IsTbd() {
		return edge, nil
	}
	removedProduct, err := self.store.GetProduct(ctx, edge.Child)
	if err != nil {
		return nil, err
	}
	if removedProduct != nil {
		edge.ProductType = removedProduct.ProductType
	}
	edge.Child = Oid{}
	edge.Rev += 1
	if err := self.store.PutEdge(ctx, edge); err != nil {
		return nil, err
	}
	glog.V(1).Infof("[asm]remove component at %s, tbd %s\n", edgeOid, edge.ProductType)
	return edge, nil
}

// delete the edge entirely, TBD placeholders included
func (self *AssemblyGraph) RemoveAssemblyPosition(ctx context.Context, edgeOid Oid) error {
	if err := self.store.DeleteEdge(ctx, edgeOid); err != nil {
		return err
	}
	glog.V(1).Infof("[asm]remove position %s\n", edgeOid)
	return nil
}

// a product is white box iff it has at least one non-TBD child edge
func (self *AssemblyGraph) IsWhiteBox(ctx context.Context, oid Oid) (bool, error) {
	edges, err := self.store.ChildrenOf(ctx, oid)
	if err != nil {
		return false, err
	}
	for _, edge := range edges {
		if !edge.IsTbd() {
			return true, nil
		}
	}
	return false, nil
}

// true if linking child under parent would make a directed cycle through
// the non-TBD edges
func (self *AssemblyGraph) wouldCycle(ctx context.Context, parent Oid, child Oid) (bool, error) {
	if parent == child {
		return true, nil
	}
	visited := map[Oid]bool{}
	stack := []Oid{child}
	for 0 < len(stack) {
		oid := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[oid] {
			continue
		}
		visited[oid] = true
		edges, err := self.store.ChildrenOf(ctx, oid)
		if err != nil {
			return false, err
		}
		for _, edge := range edges {
			if edge.IsTbd() {
				continue
			}
			if edge.Child == parent {
				return true, nil
			}
			stack = append(stack, edge.Child)
		}
	}
	return false, nil
}

// transitive parents of oid walking parent links. used by the roll-up
// engine to mark ancestors dirty.
func (self *AssemblyGraph) Ancestors(ctx context.Context, oid Oid) ([]Oid, error) {
	visited := map[Oid]bool{}
	order := []Oid{}
	stack := []Oid{oid}
	for 0 < len(stack) {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		parents, err := self.store.ParentsOf(ctx, current)
		if err != nil {
			return nil, err
		}
		for _, parent := range parents {
			if visited[parent] {
				continue
			}
			visited[parent] = true
			order = append(order, parent)
			stack = append(stack, parent)
		}
	}
	return order, nil
}
