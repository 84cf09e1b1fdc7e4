package modelsync

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/golang/glog"
)

// self-describing, schema-versioned document sufficient to reconstruct a
// project's full structure offline. importing re-applies objects through
// the same arbiter and resolver paths used for live sync, so deletion
// reconciliation applies identically to imported data on the next login:
// importing another user's objects into a non-administrative account will
// see them purged if they are not already present remotely.
const ExportSchemaVersion = 1

type ExportDocument struct {
	Schema     int       `json:"schema"`
	Tool       string    `json:"tool"`
	ExportTime time.Time `json:"export_time"`

	Project              *Project               `json:"project,omitempty"`
	Products             []*Product             `json:"products"`
	Edges                []*AssemblyEdge        `json:"edges"`
	ParameterDefinitions []*ParameterDefinition `json:"parameter_definitions"`
	ParameterValues      []*ParameterValue      `json:"parameter_values"`
	Requirements         []*Requirement         `json:"requirements"`
}

func (self *Client) ExportProject(ctx context.Context, projectOid Oid) (*ExportDocument, error) {
	project, err := self.store.GetProject(ctx, projectOid)
	if err != nil {
		return nil, err
	}
	products, err := self.store.ListByProject(ctx, projectOid)
	if err != nil {
		return nil, err
	}
	edges, err := self.store.EdgesInScope(ctx, projectOid)
	if err != nil {
		return nil, err
	}
	defs, err := self.store.ListParameterDefinitions(ctx)
	if err != nil {
		return nil, err
	}
	requirements, err := self.store.ListRequirementsByProject(ctx, projectOid)
	if err != nil {
		return nil, err
	}

	document := &ExportDocument{
		Schema:               ExportSchemaVersion,
		Tool:                 "modelsync",
		ExportTime:           time.Now().UTC(),
		Project:              project,
		Products:             products,
		Edges:                edges,
		ParameterDefinitions: defs,
		ParameterValues:      []*ParameterValue{},
		Requirements:         requirements,
	}
	for _, product := range products {
		values, err := self.store.ListParameterValues(ctx, product.Oid)
		if err != nil {
			return nil, err
		}
		// computed values are reproducible and excluded; the importer's
		// roll-up engine rebuilds them
		for _, value := range values {
			if value.Computed {
				continue
			}
			document.ParameterValues = append(document.ParameterValues, value)
		}
	}
	return document, nil
}

func WriteExport(w io.Writer, document *ExportDocument) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(document)
}

func ReadExport(r io.Reader) (*ExportDocument, error) {
	var document ExportDocument
	if err := json.NewDecoder(r).Decode(&document); err != nil {
		return nil, err
	}
	if document.Schema <= 0 || ExportSchemaVersion < document.Schema {
		// aborts this import only
		return nil, &SchemaMigrationError{Version: document.Schema, Max: ExportSchemaVersion}
	}
	return &document, nil
}

// re-apply the document's objects as change events through the merge
// resolver. existing newer local objects win by the usual revision gate.
func (self *Client) ImportDocument(ctx context.Context, document *ExportDocument) error {
	if document.Project != nil {
		event := RequireChangeEvent(
			document.Project.Oid, KindCreate, ClassProject,
			0, 1, self.sessionCtx.ClientId, document.Project,
		)
		if _, err := self.resolver.Apply(ctx, event); err != nil {
			return err
		}
	}
	for _, def := range document.ParameterDefinitions {
		event := RequireChangeEvent(
			PlatformOid, KindCreate, ClassParameterDef,
			0, 1, self.sessionCtx.ClientId, def,
		)
		if _, err := self.resolver.Apply(ctx, event); err != nil {
			return err
		}
	}
	for _, product := range document.Products {
		event := RequireChangeEvent(
			product.Oid, KindCreate, ClassProduct,
			0, max64(product.Rev, 1), self.sessionCtx.ClientId, product,
		)
		if _, err := self.resolver.Apply(ctx, event); err != nil {
			return err
		}
	}
	for _, edge := range document.Edges {
		event := RequireChangeEvent(
			edge.Oid, KindCreate, ClassAssemblyEdge,
			0, max64(edge.Rev, 1), self.sessionCtx.ClientId, edge,
		)
		if _, err := self.resolver.Apply(ctx, event); err != nil {
			return err
		}
	}
	for _, value := range document.ParameterValues {
		if value.Computed {
			continue
		}
		if err := self.store.SetParameterValue(ctx, value); err != nil {
			return err
		}
	}
	for _, requirement := range document.Requirements {
		event := RequireChangeEvent(
			requirement.Oid, KindCreate, ClassRequirement,
			0, max64(requirement.Rev, 1), self.sessionCtx.ClientId, requirement,
		)
		if _, err := self.resolver.Apply(ctx, event); err != nil {
			return err
		}
	}

	if err := self.rollup.InvalidateAll(ctx); err != nil {
		return err
	}
	count := len(document.Products) + len(document.Edges) + len(document.Requirements)
	glog.Infof("[api]imported %d objects (schema %d)\n", count, document.Schema)
	return nil
}

func max64(a uint64, b uint64) uint64 {
	if a < b {
		return b
	}
	return a
}
