package modelsync

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

func TestExportDocumentFormat(t *testing.T) {
	creator := Oid{0x0b}
	document := &ExportDocument{
		Schema:     ExportSchemaVersion,
		Tool:       "modelsync",
		ExportTime: time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC),
		Products: []*Product{
			{
				Oid:         Oid{0x01},
				HumanId:     "SC-001",
				Name:        "Spacecraft",
				ProductType: "spacecraft",
				Owner:       Oid{0x0a},
				Creator:     creator,
				Modifier:    creator,
				CreateTime:  time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
				ModifyTime:  time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
				Rev:         3,
				State:       StateSynced,
			},
		},
		Edges: []*AssemblyEdge{},
		ParameterDefinitions: []*ParameterDefinition{
			{
				Symbol:    "m",
				Name:      "mass",
				Datatype:  DatatypeFloat,
				Dimension: "mass",
				Creator:   creator,
			},
		},
		ParameterValues: []*ParameterValue{
			{
				Object: Oid{0x01},
				Symbol: "m",
				Value:  42.5,
			},
		},
		Requirements: []*Requirement{},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteExport(&buf, document))

	g := goldie.New(t)
	g.Assert(t, "export_document", buf.Bytes())
}

func TestExportReadRejectsFutureSchema(t *testing.T) {
	document := &ExportDocument{
		Schema:     ExportSchemaVersion + 1,
		Tool:       "modelsync",
		ExportTime: time.Now().UTC(),
	}
	var buf bytes.Buffer
	require.NoError(t, WriteExport(&buf, document))

	_, err := ReadExport(&buf)
	var schemaMigrationError *SchemaMigrationError
	require.ErrorAs(t, err, &schemaMigrationError)
	require.Equal(t, ExportSchemaVersion+1, schemaMigrationError.Version)
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	store := client.Store()
	project := client.SessionContext().ActiveProject

	creator := NewOid()
	require.NoError(t, store.PutParameterDefinition(ctx, &ParameterDefinition{
		Symbol: "m", Datatype: DatatypeFloat, Dimension: "mass", Creator: creator,
	}))

	spacecraft, err := client.CreateProduct(ctx, &ProductSpec{
		HumanId: "SC-001", Name: "Spacecraft", ProductType: "spacecraft",
	})
	require.NoError(t, err)
	battery, err := client.CreateProduct(ctx, &ProductSpec{
		HumanId: "BAT-001", Name: "Battery", ProductType: "battery",
	})
	require.NoError(t, err)
	_, err = client.InsertComponent(ctx, spacecraft, battery, Oid{})
	require.NoError(t, err)
	require.NoError(t, client.EditParameter(ctx, battery, "m", 10))
	require.NoError(t, client.Rollup().Settle(ctx))

	document, err := client.ExportProject(ctx, project)
	require.NoError(t, err)
	require.Len(t, document.Products, 2)
	require.Len(t, document.Edges, 1)
	// computed values are excluded, the importer's roll-up rebuilds them
	for _, value := range document.ParameterValues {
		require.False(t, value.Computed)
	}

	var buf bytes.Buffer
	require.NoError(t, WriteExport(&buf, document))
	decoded, err := ReadExport(&buf)
	require.NoError(t, err)

	// import into a fresh replica
	other := newTestClient(t)
	require.NoError(t, other.ImportDocument(ctx, decoded))
	require.NoError(t, other.Rollup().Settle(ctx))

	product, err := other.GetObject(ctx, spacecraft)
	require.NoError(t, err)
	require.NotNil(t, product)
	require.Equal(t, "SC-001", product.HumanId)

	// the derived sum reappears on the importing side
	value, err := store.GetParameterValue(ctx, spacecraft, "m")
	require.NoError(t, err)
	require.NotNil(t, value)
	value, err = other.Store().GetParameterValue(ctx, spacecraft, "m")
	require.NoError(t, err)
	require.NotNil(t, value)
	require.True(t, value.Computed)
	require.Equal(t, float64(10), value.Value)
}
