package modelsync

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func newTestClient(t *testing.T) *Client {
	store := newTestStore(t)
	user := NewOid()
	project := &Project{
		Oid:     NewOid(),
		HumanId: "P1",
		Name:    "Project",
	}
	if err := store.PutProject(context.Background(), project); err != nil {
		t.Fatal(err)
	}
	sessionCtx := &SessionContext{
		User:          user,
		ClientId:      NewOid(),
		ActiveProject: project.Oid,
	}
	settings := DefaultClientSettings()
	settings.RollupSettings = &RollupSettings{CoalesceWindow: time.Hour}
	client := NewClient(context.Background(), store, newFakeBus(), sessionCtx, settings)
	t.Cleanup(client.Close)
	return client
}

func TestClientCreateProduct(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	oid, err := client.CreateProduct(ctx, &ProductSpec{
		HumanId:     "SC-001",
		Name:        "Spacecraft",
		ProductType: "spacecraft",
	})
	assert.Equal(t, err, nil)

	product, err := client.GetObject(ctx, oid)
	assert.Equal(t, err, nil)
	assert.Equal(t, product.State, StateDraft)
	assert.Equal(t, product.Rev, uint64(0))
	assert.Equal(t, product.Creator, client.SessionContext().User)
	// owner defaults to the active project
	assert.Equal(t, product.Owner, client.SessionContext().ActiveProject)
}

func TestClientEditParameter(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	store := client.Store()

	creator := NewOid()
	assert.Equal(t, store.PutParameterDefinition(ctx, &ParameterDefinition{
		Symbol: "m", Datatype: DatatypeFloat, Dimension: "mass", Creator: creator,
	}), nil)

	oid, err := client.CreateProduct(ctx, &ProductSpec{
		HumanId: "BAT-001", ProductType: "battery",
	})
	assert.Equal(t, err, nil)

	assert.Equal(t, client.EditParameter(ctx, oid, "m", 10), nil)

	value, err := store.GetParameterValue(ctx, oid, "m")
	assert.Equal(t, err, nil)
	assert.Equal(t, value.Value, float64(10))

	// the revision advanced and the product is a draft again
	product, err := client.GetObject(ctx, oid)
	assert.Equal(t, err, nil)
	assert.Equal(t, product.Rev, uint64(1))
	assert.Equal(t, product.State, StateDraft)
}

func TestClientEditParameterRejectsComputed(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	store := client.Store()

	creator := NewOid()
	assert.Equal(t, store.PutParameterDefinition(ctx, &ParameterDefinition{
		Symbol: "m", Datatype: DatatypeFloat, Dimension: "mass", Creator: creator,
	}), nil)
	assert.Equal(t, store.PutParameterDefinition(ctx, &ParameterDefinition{
		Symbol: "m_mev", Datatype: DatatypeFloat,
		Expression: "m_cbe * (1.0 + m_ctgcy)", Creator: creator,
	}), nil)

	parent, err := client.CreateProduct(ctx, &ProductSpec{
		HumanId: "SC-001", ProductType: "spacecraft",
	})
	assert.Equal(t, err, nil)
	child, err := client.CreateProduct(ctx, &ProductSpec{
		HumanId: "BAT-001", ProductType: "battery",
	})
	assert.Equal(t, err, nil)
	_, err = client.InsertComponent(ctx, parent, child, Oid{})
	assert.Equal(t, err, nil)

	// a relation is never directly editable
	assert.NotEqual(t, client.EditParameter(ctx, child, "m_mev", 1), nil)

	// a float symbol on a white box is derived by roll-up
	assert.NotEqual(t, client.EditParameter(ctx, parent, "m", 1), nil)

	// a stored computed value cannot be overwritten by an edit
	assert.Equal(t, store.SetComputedValue(ctx, child, "m", 5), nil)
	assert.NotEqual(t, client.EditParameter(ctx, child, "m", 1), nil)
}

func TestClientDeleteProductTombstones(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)

	oid, err := client.CreateProduct(ctx, &ProductSpec{
		HumanId: "BAT-001", ProductType: "battery",
	})
	assert.Equal(t, err, nil)

	assert.Equal(t, client.DeleteProduct(ctx, oid), nil)

	product, err := client.GetObject(ctx, oid)
	assert.Equal(t, err, nil)
	assert.Equal(t, product, nil)

	tombstoned, err := client.Store().IsTombstoned(ctx, oid)
	assert.Equal(t, err, nil)
	assert.Equal(t, tombstoned, true)
}

func TestClientCloneObject(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	store := client.Store()

	source, err := client.CreateProduct(ctx, &ProductSpec{
		HumanId: "SC-001", Name: "Spacecraft", ProductType: "spacecraft",
	})
	assert.Equal(t, err, nil)
	battery, err := client.CreateProduct(ctx, &ProductSpec{
		HumanId: "BAT-001", ProductType: "battery",
	})
	assert.Equal(t, err, nil)
	_, err = client.InsertComponent(ctx, source, battery, Oid{})
	assert.Equal(t, err, nil)

	assert.Equal(t, store.SetParameterValue(ctx, &ParameterValue{
		Object: source, Symbol: "P", Value: 100,
	}), nil)
	assert.Equal(t, store.SetComputedValue(ctx, source, "m", 20), nil)

	clone, err := client.CloneObject(ctx, source, &CloneOptions{
		WithParameters: true,
		WithAssembly:   true,
	})
	assert.Equal(t, err, nil)

	cloned, err := client.GetObject(ctx, clone)
	assert.Equal(t, err, nil)
	assert.Equal(t, cloned.HumanId, "SC-001-copy")
	assert.Equal(t, cloned.State, StateDraft)
	assert.Equal(t, cloned.Rev, uint64(0))

	// direct values copied, computed values not
	value, err := store.GetParameterValue(ctx, clone, "P")
	assert.Equal(t, err, nil)
	assert.Equal(t, value.Value, float64(100))
	value, err = store.GetParameterValue(ctx, clone, "m")
	assert.Equal(t, err, nil)
	assert.Equal(t, value, nil)

	// cloned positions share the child products
	edges, err := client.GetAssemblyChildren(ctx, clone)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(edges), 1)
	assert.Equal(t, edges[0].Child, battery)
}

func TestClientGetParameterValueDisplay(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	store := client.Store()

	creator := NewOid()
	assert.Equal(t, store.PutParameterDefinition(ctx, &ParameterDefinition{
		Symbol: "m", Datatype: DatatypeFloat, Dimension: "mass", Creator: creator,
	}), nil)

	oid, err := client.CreateProduct(ctx, &ProductSpec{
		HumanId: "BAT-001", ProductType: "battery",
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, client.EditParameter(ctx, oid, "m", 1.23456), nil)

	// canonical, unrounded
	value, err := client.GetParameterValue(ctx, oid, "m", "", 0)
	assert.Equal(t, err, nil)
	assert.Equal(t, value, 1.23456)

	// preferred unit and significant digits are presentation only
	value, err = client.GetParameterValue(ctx, oid, "m", "g", 3)
	assert.Equal(t, err, nil)
	assert.Equal(t, value, float64(1230))

	stored, err := store.GetParameterValue(ctx, oid, "m")
	assert.Equal(t, err, nil)
	assert.Equal(t, stored.Value, 1.23456)
}
