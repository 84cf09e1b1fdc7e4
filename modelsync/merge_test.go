package modelsync

import (
	"context"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestMergeCreateAndUpdate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	resolver := NewMergeResolver(store, NewOid())

	remote := NewOid()
	product := &Product{
		Oid:         NewOid(),
		HumanId:     "SC-001",
		Name:        "Spacecraft",
		ProductType: "spacecraft",
		Owner:       NewOid(),
		Creator:     remote,
		Modifier:    remote,
		CreateTime:  time.Now().UTC(),
		ModifyTime:  time.Now().UTC(),
	}

	applied, err := resolver.Apply(ctx, RequireChangeEvent(
		product.Oid, KindCreate, ClassProduct, 0, 1, remote, product,
	))
	assert.Equal(t, err, nil)
	assert.Equal(t, applied, true)

	loaded, err := store.GetProduct(ctx, product.Oid)
	assert.Equal(t, err, nil)
	assert.Equal(t, loaded.Rev, uint64(1))
	assert.Equal(t, loaded.State, StateSynced)

	// prior revision matches: lands
	product.Name = "Spacecraft mk2"
	applied, err = resolver.Apply(ctx, RequireChangeEvent(
		product.Oid, KindUpdate, ClassProduct, 1, 2, remote, product,
	))
	assert.Equal(t, err, nil)
	assert.Equal(t, applied, true)

	loaded, err = store.GetProduct(ctx, product.Oid)
	assert.Equal(t, err, nil)
	assert.Equal(t, loaded.Name, "Spacecraft mk2")
	assert.Equal(t, loaded.Rev, uint64(2))
}

func TestMergeRedeliveryIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	resolver := NewMergeResolver(store, NewOid())

	remote := NewOid()
	product := &Product{
		Oid:         NewOid(),
		HumanId:     "SC-001",
		ProductType: "spacecraft",
		Owner:       NewOid(),
		Creator:     remote,
	}
	event := RequireChangeEvent(product.Oid, KindCreate, ClassProduct, 0, 1, remote, product)

	applied, err := resolver.Apply(ctx, event)
	assert.Equal(t, err, nil)
	assert.Equal(t, applied, true)

	// at-least-once redelivery of the same event is a no-op
	applied, err = resolver.Apply(ctx, event)
	assert.Equal(t, err, nil)
	assert.Equal(t, applied, false)

	loaded, err := store.GetProduct(ctx, product.Oid)
	assert.Equal(t, err, nil)
	assert.Equal(t, loaded.Rev, uint64(1))
}

func TestMergeUpdateForAbsentLandsAsCreate(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	resolver := NewMergeResolver(store, NewOid())

	remote := NewOid()
	product := &Product{
		Oid:         NewOid(),
		HumanId:     "INST-001",
		ProductType: "instrument",
		Owner:       NewOid(),
		Creator:     remote,
	}

	applied, err := resolver.Apply(ctx, RequireChangeEvent(
		product.Oid, KindUpdate, ClassProduct, 4, 5, remote, product,
	))
	assert.Equal(t, err, nil)
	assert.Equal(t, applied, true)

	loaded, err := store.GetProduct(ctx, product.Oid)
	assert.Equal(t, err, nil)
	assert.Equal(t, loaded.Rev, uint64(5))
}

func TestMergeDeleteForAbsentIsNoop(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	resolver := NewMergeResolver(store, NewOid())

	applied, err := resolver.Apply(ctx, RequireChangeEvent(
		NewOid(), KindDelete, ClassProduct, 3, 4, NewOid(), nil,
	))
	assert.Equal(t, err, nil)
	assert.Equal(t, applied, false)
}

func TestMergeLastWriterWins(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	localClient := NewOid()
	resolver := NewMergeResolver(store, localClient)

	remote := NewOid()
	base := time.Now().UTC().Add(-time.Minute)

	// rev 5 acknowledged, then a local unacknowledged edit bumped to rev 6
	local := &Product{
		Oid:         NewOid(),
		HumanId:     "SC-001",
		Name:        "local edit",
		ProductType: "spacecraft",
		Owner:       NewOid(),
		Creator:     remote,
		Modifier:    localClient,
		ModifyTime:  base,
		Rev:         6,
		State:       StateDraft,
	}
	assert.Equal(t, store.PutProduct(ctx, local), nil)

	// a concurrent remote edit from rev 5: diverged. the newer timestamp wins.
	newer := RequireChangeEvent(
		local.Oid, KindUpdate, ClassProduct, 5, 7, remote,
		&Product{
			HumanId:     "SC-001",
			Name:        "remote edit",
			ProductType: "spacecraft",
			Owner:       local.Owner,
			Creator:     remote,
			ModifyTime:  base.Add(time.Second),
		},
	)
	newer.Timestamp = base.Add(time.Second)
	applied, err := resolver.Apply(ctx, newer)
	assert.Equal(t, err, nil)
	assert.Equal(t, applied, true)

	loaded, err := store.GetProduct(ctx, local.Oid)
	assert.Equal(t, err, nil)
	assert.Equal(t, loaded.Name, "remote edit")
	assert.Equal(t, loaded.Rev, uint64(7))
}

func TestMergeLocalWinsOlderRemote(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	localClient := NewOid()
	resolver := NewMergeResolver(store, localClient)

	remote := NewOid()
	base := time.Now().UTC()

	local := &Product{
		Oid:         NewOid(),
		HumanId:     "SC-001",
		Name:        "local edit",
		ProductType: "spacecraft",
		Owner:       NewOid(),
		Creator:     remote,
		Modifier:    localClient,
		ModifyTime:  base,
		Rev:         6,
		State:       StateDraft,
	}
	assert.Equal(t, store.PutProduct(ctx, local), nil)

	older := RequireChangeEvent(
		local.Oid, KindUpdate, ClassProduct, 5, 7, remote,
		&Product{Name: "remote edit", ProductType: "spacecraft", Creator: remote},
	)
	older.Timestamp = base.Add(-time.Second)
	applied, err := resolver.Apply(ctx, older)
	assert.Equal(t, err, nil)
	// the losing event is discarded, never queued for reapplication
	assert.Equal(t, applied, false)

	loaded, err := store.GetProduct(ctx, local.Oid)
	assert.Equal(t, err, nil)
	assert.Equal(t, loaded.Name, "local edit")
	assert.Equal(t, loaded.Rev, uint64(6))
}

func TestMergeTimestampTieBreak(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	// a tie on timestamp breaks on client identity bytes, deterministically on
	// both replicas
	lowClient := Oid{0x01}
	highClient := Oid{0xff}
	base := time.Now().UTC()

	makeLocal := func(store *Store) Oid {
		product := &Product{
			Oid:         NewOid(),
			Name:        "local edit",
			ProductType: "spacecraft",
			Owner:       NewOid(),
			Creator:     NewOid(),
			ModifyTime:  base,
			Rev:         6,
		}
		if err := store.PutProduct(ctx, product); err != nil {
			t.Fatal(err)
		}
		return product.Oid
	}

	// remote origin sorts above the local client: remote wins
	oid := makeLocal(store)
	resolver := NewMergeResolver(store, lowClient)
	event := RequireChangeEvent(
		oid, KindUpdate, ClassProduct, 5, 7, highClient,
		&Product{Name: "remote edit", ProductType: "spacecraft"},
	)
	event.Timestamp = base
	applied, err := resolver.Apply(ctx, event)
	assert.Equal(t, err, nil)
	assert.Equal(t, applied, true)

	// remote origin sorts below: local wins
	oid = makeLocal(store)
	resolver = NewMergeResolver(store, highClient)
	event = RequireChangeEvent(
		oid, KindUpdate, ClassProduct, 5, 7, lowClient,
		&Product{Name: "remote edit", ProductType: "spacecraft"},
	)
	event.Timestamp = base
	applied, err = resolver.Apply(ctx, event)
	assert.Equal(t, err, nil)
	assert.Equal(t, applied, false)
}

func TestMergeParameterEdit(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	resolver := NewMergeResolver(store, NewOid())

	remote := NewOid()
	owner := NewOid()
	oid := putTestProduct(t, store, owner, remote, "battery")

	applied, err := resolver.Apply(ctx, RequireChangeEvent(
		oid, KindUpdate, ClassParameter, 1, 2, remote,
		&ParameterEdit{Symbol: "m", Value: 12.5},
	))
	assert.Equal(t, err, nil)
	assert.Equal(t, applied, true)

	value, err := store.GetParameterValue(ctx, oid, "m")
	assert.Equal(t, err, nil)
	assert.Equal(t, value.Value, 12.5)
	assert.Equal(t, value.Computed, false)

	// the owning product's revision advanced with the edit
	loaded, err := store.GetProduct(ctx, oid)
	assert.Equal(t, err, nil)
	assert.Equal(t, loaded.Rev, uint64(2))
}

func TestMergeRejectsEventOnComputedValue(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	resolver := NewMergeResolver(store, NewOid())

	remote := NewOid()
	owner := NewOid()
	oid := putTestProduct(t, store, owner, remote, "spacecraft")
	assert.Equal(t, store.SetComputedValue(ctx, oid, "m", 20), nil)

	applied, err := resolver.Apply(ctx, RequireChangeEvent(
		oid, KindUpdate, ClassParameter, 1, 2, remote,
		&ParameterEdit{Symbol: "m", Value: 999},
	))
	assert.Equal(t, err, nil)
	assert.Equal(t, applied, true)

	// the computed value is untouched
	value, err := store.GetParameterValue(ctx, oid, "m")
	assert.Equal(t, err, nil)
	assert.Equal(t, value.Value, float64(20))
	assert.Equal(t, value.Computed, true)
}

func TestMergeDeleteLands(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	resolver := NewMergeResolver(store, NewOid())

	remote := NewOid()
	owner := NewOid()
	oid := putTestProduct(t, store, owner, remote, "battery")

	applied, err := resolver.Apply(ctx, RequireChangeEvent(
		oid, KindDelete, ClassProduct, 1, 2, remote, nil,
	))
	assert.Equal(t, err, nil)
	assert.Equal(t, applied, true)

	loaded, err := store.GetProduct(ctx, oid)
	assert.Equal(t, err, nil)
	assert.Equal(t, loaded, nil)
}
