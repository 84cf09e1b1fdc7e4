package modelsync

import (
	"context"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestInsertComponent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	graph := NewAssemblyGraph(store)

	user := NewOid()
	owner := NewOid()
	sessionCtx := &SessionContext{User: user, ClientId: NewOid()}

	spacecraft := putTestProduct(t, store, owner, user, "spacecraft")
	battery := putTestProduct(t, store, owner, user, "battery")

	edge, err := graph.InsertComponent(ctx, sessionCtx, spacecraft, battery, Oid{})
	assert.Equal(t, err, nil)
	assert.Equal(t, edge.Parent, spacecraft)
	assert.Equal(t, edge.Child, battery)
	assert.Equal(t, edge.ProductType, ProductType("battery"))
	assert.Equal(t, edge.Quantity, float64(1))
	assert.Equal(t, edge.IsTbd(), false)

	whiteBox, err := graph.IsWhiteBox(ctx, spacecraft)
	assert.Equal(t, err, nil)
	assert.Equal(t, whiteBox, true)

	whiteBox, err = graph.IsWhiteBox(ctx, battery)
	assert.Equal(t, err, nil)
	assert.Equal(t, whiteBox, false)
}

func TestInsertComponentFillsTbdPosition(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	graph := NewAssemblyGraph(store)

	user := NewOid()
	owner := NewOid()
	sessionCtx := &SessionContext{User: user, ClientId: NewOid()}

	spacecraft := putTestProduct(t, store, owner, user, "spacecraft")
	battery := putTestProduct(t, store, owner, user, "battery")

	position := &AssemblyEdge{
		Oid:         NewOid(),
		Parent:      spacecraft,
		ProductType: "battery",
		Quantity:    2,
		Creator:     user,
		Rev:         1,
	}
	assert.Equal(t, store.PutEdge(ctx, position), nil)

	// a TBD position with a type constraint counts as a placeholder only
	whiteBox, err := graph.IsWhiteBox(ctx, spacecraft)
	assert.Equal(t, err, nil)
	assert.Equal(t, whiteBox, false)

	edge, err := graph.InsertComponent(ctx, sessionCtx, spacecraft, battery, position.Oid)
	assert.Equal(t, err, nil)
	assert.Equal(t, edge.Oid, position.Oid)
	assert.Equal(t, edge.Child, battery)
	assert.Equal(t, edge.Quantity, float64(2))
	assert.Equal(t, edge.Rev, uint64(2))
}

func TestInsertComponentTypeMismatch(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	graph := NewAssemblyGraph(store)

	user := NewOid()
	owner := NewOid()
	sessionCtx := &SessionContext{User: user, ClientId: NewOid()}

	spacecraft := putTestProduct(t, store, owner, user, "spacecraft")
	instrument := putTestProduct(t, store, owner, user, "instrument")

	position := &AssemblyEdge{
		Oid:         NewOid(),
		Parent:      spacecraft,
		ProductType: "battery",
		Quantity:    1,
		Creator:     user,
		Rev:         1,
	}
	assert.Equal(t, store.PutEdge(ctx, position), nil)

	_, err := graph.InsertComponent(ctx, sessionCtx, spacecraft, instrument, position.Oid)
	typeMismatchError, ok := err.(*TypeMismatchError)
	assert.Equal(t, ok, true)
	assert.Equal(t, typeMismatchError.Want, ProductType("battery"))
	assert.Equal(t, typeMismatchError.Got, ProductType("instrument"))

	// the rejected operation left the position untouched
	loaded, err := store.GetEdge(ctx, position.Oid)
	assert.Equal(t, err, nil)
	assert.Equal(t, loaded.IsTbd(), true)
	assert.Equal(t, loaded.Rev, uint64(1))
}

func TestInsertComponentCycleRejected(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	graph := NewAssemblyGraph(store)

	user := NewOid()
	owner := NewOid()
	sessionCtx := &SessionContext{User: user, ClientId: NewOid()}

	a := putTestProduct(t, store, owner, user, "assembly")
	b := putTestProduct(t, store, owner, user, "assembly")
	c := putTestProduct(t, store, owner, user, "assembly")

	_, err := graph.InsertComponent(ctx, sessionCtx, a, b, Oid{})
	assert.Equal(t, err, nil)
	_, err = graph.InsertComponent(ctx, sessionCtx, b, c, Oid{})
	assert.Equal(t, err, nil)

	// c -> a would close the loop a -> b -> c -> a
	_, err = graph.InsertComponent(ctx, sessionCtx, c, a, Oid{})
	_, ok := err.(*CycleError)
	assert.Equal(t, ok, true)

	// self loop
	_, err = graph.InsertComponent(ctx, sessionCtx, a, a, Oid{})
	_, ok = err.(*CycleError)
	assert.Equal(t, ok, true)

	// the graph is unchanged: c still has no children
	edges, err := store.ChildrenOf(ctx, c)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(edges), 0)
}

func TestRemoveComponentLeavesTbd(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	graph := NewAssemblyGraph(store)

	user := NewOid()
	owner := NewOid()
	sessionCtx := &SessionContext{User: user, ClientId: NewOid()}

	spacecraft := putTestProduct(t, store, owner, user, "spacecraft")
	battery := putTestProduct(t, store, owner, user, "battery")

	edge, err := graph.InsertComponent(ctx, sessionCtx, spacecraft, battery, Oid{})
	assert.Equal(t, err, nil)

	removed, err := graph.RemoveComponent(ctx, edge.Oid)
	assert.Equal(t, err, nil)
	assert.Equal(t, removed.IsTbd(), true)
	assert.Equal(t, removed.ProductType, ProductType("battery"))

	// exactly one TBD edge remains
	edges, err := store.ChildrenOf(ctx, spacecraft)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(edges), 1)
	assert.Equal(t, edges[0].IsTbd(), true)

	// the product itself is untouched
	product, err := store.GetProduct(ctx, battery)
	assert.Equal(t, err, nil)
	assert.NotEqual(t, product, nil)
}

func TestRemoveAssemblyPosition(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	graph := NewAssemblyGraph(store)

	user := NewOid()
	owner := NewOid()
	sessionCtx := &SessionContext{User: user, ClientId: NewOid()}

	spacecraft := putTestProduct(t, store, owner, user, "spacecraft")
	battery := putTestProduct(t, store, owner, user, "battery")

	edge, err := graph.InsertComponent(ctx, sessionCtx, spacecraft, battery, Oid{})
	assert.Equal(t, err, nil)

	assert.Equal(t, graph.RemoveAssemblyPosition(ctx, edge.Oid), nil)

	edges, err := store.ChildrenOf(ctx, spacecraft)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(edges), 0)
}

func TestAncestors(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	graph := NewAssemblyGraph(store)

	user := NewOid()
	owner := NewOid()
	sessionCtx := &SessionContext{User: user, ClientId: NewOid()}

	system := putTestProduct(t, store, owner, user, "system")
	subsystem := putTestProduct(t, store, owner, user, "subsystem")
	unit := putTestProduct(t, store, owner, user, "unit")

	_, err := graph.InsertComponent(ctx, sessionCtx, system, subsystem, Oid{})
	assert.Equal(t, err, nil)
	_, err = graph.InsertComponent(ctx, sessionCtx, subsystem, unit, Oid{})
	assert.Equal(t, err, nil)

	ancestors, err := graph.Ancestors(ctx, unit)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(ancestors), 2)

	found := map[Oid]bool{}
	for _, ancestor := range ancestors {
		found[ancestor] = true
	}
	assert.Equal(t, found[subsystem], true)
	assert.Equal(t, found[system], true)
}
