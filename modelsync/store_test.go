package modelsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStoreProductRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	owner := NewOid()
	creator := NewOid()
	now := time.Now().UTC().Truncate(time.Millisecond)
	product := &Product{
		Oid:         NewOid(),
		HumanId:     "SC-001",
		Name:        "Spacecraft",
		Version:     "A",
		ProductType: "spacecraft",
		Public:      true,
		Owner:       owner,
		Creator:     creator,
		Modifier:    creator,
		CreateTime:  now,
		ModifyTime:  now,
		Rev:         3,
		State:       StateSynced,
	}
	require.NoError(t, store.PutProduct(ctx, product))

	loaded, err := store.GetProduct(ctx, product.Oid)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, product.HumanId, loaded.HumanId)
	require.Equal(t, product.ProductType, loaded.ProductType)
	require.Equal(t, product.Owner, loaded.Owner)
	require.Equal(t, product.Rev, loaded.Rev)
	require.Equal(t, product.State, loaded.State)
	require.True(t, product.ModifyTime.Equal(loaded.ModifyTime))

	missing, err := store.GetProduct(ctx, NewOid())
	require.NoError(t, err)
	require.Nil(t, missing)

	byProject, err := store.ListByProject(ctx, owner)
	require.NoError(t, err)
	require.Len(t, byProject, 1)

	byType, err := store.ListByType(ctx, "spacecraft")
	require.NoError(t, err)
	require.Len(t, byType, 1)
}

func TestStoreDraftLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	user := NewOid()
	now := time.Now().UTC()
	product := &Product{
		Oid:         NewOid(),
		HumanId:     "INST-001",
		ProductType: "instrument",
		Owner:       NewOid(),
		Creator:     user,
		Modifier:    user,
		CreateTime:  now,
		ModifyTime:  now,
		State:       StateDraft,
	}
	require.NoError(t, store.PutProduct(ctx, product))

	drafts, err := store.ListDraftByUser(ctx, user)
	require.NoError(t, err)
	require.Len(t, drafts, 1)

	require.NoError(t, store.MarkSynced(ctx, product.Oid, 1))

	drafts, err = store.ListDraftByUser(ctx, user)
	require.NoError(t, err)
	require.Empty(t, drafts)

	rev, exists, err := store.ProductRev(ctx, product.Oid)
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, uint64(1), rev)
}

func TestStoreDeleteProductRewritesEdges(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	user := NewOid()
	owner := NewOid()
	parent := putTestProduct(t, store, owner, user, "spacecraft")
	child := putTestProduct(t, store, owner, user, "battery")

	edge := &AssemblyEdge{
		Oid:         NewOid(),
		Parent:      parent,
		Child:       child,
		ProductType: "battery",
		Quantity:    2,
		Creator:     user,
		Rev:         1,
	}
	require.NoError(t, store.PutEdge(ctx, edge))

	mutations := []StoreMutation{}
	unsub := store.AddMutationCallback(func(mutation StoreMutation) {
		mutations = append(mutations, mutation)
	})
	defer unsub()

	require.NoError(t, store.DeleteProduct(ctx, child))

	// the dangling position becomes TBD and keeps its type constraint
	loaded, err := store.GetEdge(ctx, edge.Oid)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.True(t, loaded.IsTbd())
	require.Equal(t, ProductType("battery"), loaded.ProductType)

	// the parent is notified so its roll-ups recompute
	require.Len(t, mutations, 1)
	require.Equal(t, parent, mutations[0].Object)
	require.Equal(t, ClassAssemblyEdge, mutations[0].Class)
}

func TestStoreParameterValues(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	object := NewOid()
	mutations := []StoreMutation{}
	unsub := store.AddMutationCallback(func(mutation StoreMutation) {
		mutations = append(mutations, mutation)
	})
	defer unsub()

	require.NoError(t, store.SetParameterValue(ctx, &ParameterValue{
		Object: object,
		Symbol: "m",
		Value:  10,
	}))
	require.Len(t, mutations, 1)
	require.Equal(t, Symbol("m"), mutations[0].Symbol)

	// computed write-back does not loop into the mutation callbacks
	require.NoError(t, store.SetComputedValue(ctx, object, "m_mev", 13))
	require.Len(t, mutations, 1)

	value, err := store.GetParameterValue(ctx, object, "m_mev")
	require.NoError(t, err)
	require.NotNil(t, value)
	require.True(t, value.Computed)
	require.Equal(t, float64(13), value.Value)

	values, err := store.ListParameterValues(ctx, object)
	require.NoError(t, err)
	require.Len(t, values, 2)
}

func TestStoreCursors(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	position, err := store.Cursor(ctx, LibraryScope)
	require.NoError(t, err)
	require.Equal(t, uint64(0), position)

	require.NoError(t, store.SetCursor(ctx, LibraryScope, 7))
	require.NoError(t, store.SetCursor(ctx, ProjectScope(NewOid()), 3))

	position, err = store.Cursor(ctx, LibraryScope)
	require.NoError(t, err)
	require.Equal(t, uint64(7), position)
}

func TestStoreTombstones(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	oid := NewOid()
	require.NoError(t, store.Tombstone(ctx, ClassProduct, oid))

	tombstoned, err := store.IsTombstoned(ctx, oid)
	require.NoError(t, err)
	require.True(t, tombstoned)

	oids, err := store.ListTombstones(ctx, ClassProduct)
	require.NoError(t, err)
	require.Equal(t, []Oid{oid}, oids)

	require.NoError(t, store.ClearTombstone(ctx, oid))
	tombstoned, err = store.IsTombstoned(ctx, oid)
	require.NoError(t, err)
	require.False(t, tombstoned)
}

func TestStoreParameterDefinitions(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	creator := NewOid()
	require.NoError(t, store.PutParameterDefinition(ctx, &ParameterDefinition{
		Symbol:    "m_cbe",
		Name:      "mass, current best estimate",
		Datatype:  DatatypeFloat,
		Dimension: "mass",
		Creator:   creator,
	}))
	require.NoError(t, store.PutParameterDefinition(ctx, &ParameterDefinition{
		Symbol:     "m_mev",
		Name:       "mass, maximum expected value",
		Datatype:   DatatypeFloat,
		Dimension:  "mass",
		Expression: "m_cbe * (1.0 + m_ctgcy)",
		Creator:    creator,
	}))

	def, err := store.GetParameterDefinition(ctx, "m_mev")
	require.NoError(t, err)
	require.NotNil(t, def)
	require.True(t, def.IsRelation())

	defs, err := store.ListParameterDefinitions(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 2)
}

func putTestProduct(t *testing.T, store *Store, owner Oid, creator Oid, productType ProductType) Oid {
	t.Helper()
	now := time.Now().UTC()
	product := &Product{
		Oid:         NewOid(),
		HumanId:     string(productType) + "-" + NewOid().String()[0:8],
		Name:        string(productType),
		ProductType: productType,
		Owner:       owner,
		Creator:     creator,
		Modifier:    creator,
		CreateTime:  now,
		ModifyTime:  now,
		Rev:         1,
		State:       StateSynced,
	}
	if err := store.PutProduct(context.Background(), product); err != nil {
		t.Fatal(err)
	}
	return product.Oid
}
