package modelsync

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/golang/glog"
)

//go:embed schema.sql
var schemaSql string

// Schema version tracking:
// 1 - Initial schema
const storeSchemaVersion = 1

// reported to the roll-up engine for every store mutation that touches a
// parameter value or an assembly edge
type StoreMutation struct {
	Object Oid
	Class  ObjectClass
	// set for parameter value mutations, empty for structural mutations
	Symbol Symbol
}

type MutationFunction func(mutation StoreMutation)

// the authoritative local cache of the object graph. effectively
// single-writer: all remote mutation lands through the merge resolver and
// all local mutation routes through the ownership arbiter, both of which
// funnel through the session's single apply sequence.
type Store struct {
	db *sql.DB

	mutationCallbacks *CallbackList[MutationFunction]
}

func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}

	// sqlite supports one writer at a time. a single connection avoids
	// SQLITE_BUSY between the apply sequence and snapshot reads.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("store pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSql); err != nil {
		db.Close()
		return nil, fmt.Errorf("store schema: %w", err)
	}

	var userVersion int
	if err := db.QueryRow("PRAGMA user_version").Scan(&userVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("store user_version: %w", err)
	}
	if userVersion < storeSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", storeSchemaVersion)); err != nil {
			db.Close()
			return nil, fmt.Errorf("store user_version: %w", err)
		}
	}

	return &Store{
		db:                db,
		mutationCallbacks: NewCallbackList[MutationFunction](),
	}, nil
}

func (self *Store) Close() error {
	if self.db == nil {
		return nil
	}
	return self.db.Close()
}

func (self *Store) AddMutationCallback(mutationCallback MutationFunction) func() {
	callbackId := self.mutationCallbacks.Add(mutationCallback)
	return func() {
		self.mutationCallbacks.Remove(callbackId)
	}
}

func (self *Store) mutation(mutation StoreMutation) {
	for _, mutationCallback := range self.mutationCallbacks.Get() {
		func() {
			defer recover()
			mutationCallback(mutation)
		}()
	}
}

// projects

func (self *Store) PutProject(ctx context.Context, project *Project) error {
	rolesJson, err := json.Marshal(project.Roles)
	if err != nil {
		return err
	}
	_, err = self.db.ExecContext(ctx, `
		INSERT INTO projects (oid, human_id, name, collaborative, roles)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(oid) DO UPDATE SET
			human_id = excluded.human_id,
			name = excluded.name,
			collaborative = excluded.collaborative,
			roles = excluded.roles`,
		project.Oid.String(), project.HumanId, project.Name,
		boolInt(project.Collaborative), string(rolesJson),
	)
	return err
}

func (self *Store) GetProject(ctx context.Context, oid Oid) (*Project, error) {
	row := self.db.QueryRowContext(ctx, `
		SELECT oid, human_id, name, collaborative, roles
		FROM projects WHERE oid = ?`,
		oid.String(),
	)
	var project Project
	var oidStr string
	var collaborative int
	var rolesJson string
	err := row.Scan(&oidStr, &project.HumanId, &project.Name, &collaborative, &rolesJson)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if project.Oid, err = ParseOid(oidStr); err != nil {
		return nil, err
	}
	project.Collaborative = collaborative != 0
	if err := json.Unmarshal([]byte(rolesJson), &project.Roles); err != nil {
		return nil, err
	}
	return &project, nil
}

func (self *Store) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := self.db.QueryContext(ctx, `
		SELECT oid, human_id, name, collaborative, roles
		FROM projects ORDER BY human_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	projects := []*Project{}
	for rows.Next() {
		var project Project
		var oidStr string
		var collaborative int
		var rolesJson string
		if err := rows.Scan(&oidStr, &project.HumanId, &project.Name, &collaborative, &rolesJson); err != nil {
			return nil, err
		}
		if project.Oid, err = ParseOid(oidStr); err != nil {
			return nil, err
		}
		project.Collaborative = collaborative != 0
		if err := json.Unmarshal([]byte(rolesJson), &project.Roles); err != nil {
			return nil, err
		}
		projects = append(projects, &project)
	}
	return projects, rows.Err()
}

// products

func (self *Store) PutProduct(ctx context.Context, product *Product) error {
	_, err := self.db.ExecContext(ctx, `
		INSERT INTO products (oid, human_id, name, version, product_type, public,
			owner, creator, modifier, create_time, modify_time, rev, state)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(oid) DO UPDATE SET
			human_id = excluded.human_id,
			name = excluded.name,
			version = excluded.version,
			product_type = excluded.product_type,
			public = excluded.public,
			owner = excluded.owner,
			modifier = excluded.modifier,
			modify_time = excluded.modify_time,
			rev = excluded.rev,
			state = excluded.state`,
		product.Oid.String(), product.HumanId, product.Name, product.Version,
		string(product.ProductType), boolInt(product.Public),
		product.Owner.String(), product.Creator.String(), product.Modifier.String(),
		formatTime(product.CreateTime), formatTime(product.ModifyTime),
		product.Rev, string(product.State),
	)
	return err
}

func (self *Store) GetProduct(ctx context.Context, oid Oid) (*Product, error) {
	row := self.db.QueryRowContext(ctx, productSelect+` WHERE oid = ?`, oid.String())
	product, err := scanProduct(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return product, err
}

func (self *Store) DeleteProduct(ctx context.Context, oid Oid) error {
	// capture parents before the edges are rewritten so the roll-up engine
	// can be told whose assemblies changed
	parents, err := self.ParentsOf(ctx, oid)
	if err != nil {
		return err
	}
	if _, err := self.db.ExecContext(ctx,
		`DELETE FROM products WHERE oid = ?`, oid.String()); err != nil {
		return err
	}
	if _, err := self.db.ExecContext(ctx,
		`DELETE FROM parameter_values WHERE object = ?`, oid.String()); err != nil {
		return err
	}
	// dangling child references become TBD positions
	if _, err := self.db.ExecContext(ctx,
		`UPDATE assembly_edges SET child = NULL WHERE child = ?`, oid.String()); err != nil {
		return err
	}
	if _, err := self.db.ExecContext(ctx,
		`DELETE FROM assembly_edges WHERE parent = ?`, oid.String()); err != nil {
		return err
	}
	glog.V(1).Infof("[store]delete product %s\n", oid)
	for _, parent := range parents {
		self.mutation(StoreMutation{Object: parent, Class: ClassAssemblyEdge})
	}
	return nil
}

func (self *Store) ListByProject(ctx context.Context, project Oid) ([]*Product, error) {
	return self.queryProducts(ctx, productSelect+` WHERE owner = ? ORDER BY human_id`, project.String())
}

func (self *Store) ListByType(ctx context.Context, productType ProductType) ([]*Product, error) {
	return self.queryProducts(ctx, productSelect+` WHERE product_type = ? ORDER BY human_id`, string(productType))
}

// products in draft state created or modified by `user`, candidates for push
func (self *Store) ListDraftByUser(ctx context.Context, user Oid) ([]*Product, error) {
	return self.queryProducts(ctx,
		productSelect+` WHERE state = ? AND (creator = ? OR modifier = ?) ORDER BY modify_time`,
		string(StateDraft), user.String(), user.String(),
	)
}

func (self *Store) MarkSynced(ctx context.Context, oid Oid, rev uint64) error {
	_, err := self.db.ExecContext(ctx,
		`UPDATE products SET state = ?, rev = ? WHERE oid = ?`,
		string(StateSynced), rev, oid.String(),
	)
	return err
}

func (self *Store) ProductRev(ctx context.Context, oid Oid) (uint64, bool, error) {
	row := self.db.QueryRowContext(ctx, `SELECT rev FROM products WHERE oid = ?`, oid.String())
	var rev uint64
	err := row.Scan(&rev)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return rev, true, nil
}

// oids of all products owned by the scope. input to deletion reconciliation.
func (self *Store) ProductOidsInScope(ctx context.Context, scope Oid) ([]Oid, error) {
	return self.queryOids(ctx, `SELECT oid FROM products WHERE owner = ?`, scope.String())
}

const productSelect = `
	SELECT oid, human_id, name, version, product_type, public,
		owner, creator, modifier, create_time, modify_time, rev, state
	FROM products`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*Product, error) {
	var product Product
	var oidStr, ownerStr, creatorStr, modifierStr string
	var createTime, modifyTime, productType, state string
	var public int
	err := row.Scan(
		&oidStr, &product.HumanId, &product.Name, &product.Version, &productType,
		&public, &ownerStr, &creatorStr, &modifierStr, &createTime, &modifyTime,
		&product.Rev, &state,
	)
	if err != nil {
		return nil, err
	}
	if product.Oid, err = ParseOid(oidStr); err != nil {
		return nil, err
	}
	if product.Owner, err = ParseOid(ownerStr); err != nil {
		return nil, err
	}
	if product.Creator, err = ParseOid(creatorStr); err != nil {
		return nil, err
	}
	if product.Modifier, err = ParseOid(modifierStr); err != nil {
		return nil, err
	}
	if product.CreateTime, err = parseTime(createTime); err != nil {
		return nil, err
	}
	if product.ModifyTime, err = parseTime(modifyTime); err != nil {
		return nil, err
	}
	product.ProductType = ProductType(productType)
	product.Public = public != 0
	product.State = LifecycleState(state)
	return &product, nil
}

func (self *Store) queryProducts(ctx context.Context, query string, args ...any) ([]*Product, error) {
	rows, err := self.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	products := []*Product{}
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, product)
	}
	return products, rows.Err()
}

func (self *Store) queryOids(ctx context.Context, query string, args ...any) ([]Oid, error) {
	rows, err := self.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	oids := []Oid{}
	for rows.Next() {
		var oidStr string
		if err := rows.Scan(&oidStr); err != nil {
			return nil, err
		}
		oid, err := ParseOid(oidStr)
		if err != nil {
			return nil, err
		}
		oids = append(oids, oid)
	}
	return oids, rows.Err()
}

// assembly edges

func (self *Store) PutEdge(ctx context.Context, edge *AssemblyEdge) error {
	var child any
	if !edge.Child.IsNil() {
		child = edge.Child.String()
	}
	_, err := self.db.ExecContext(ctx, `
		INSERT INTO assembly_edges (oid, parent, child, product_type, quantity, creator, rev)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(oid) DO UPDATE SET
			parent = excluded.parent,
			child = excluded.child,
			product_type = excluded.product_type,
			quantity = excluded.quantity,
			rev = excluded.rev`,
		edge.Oid.String(), edge.Parent.String(), child,
		string(edge.ProductType), edge.Quantity, edge.Creator.String(), edge.Rev,
	)
	if err != nil {
		return err
	}
	self.mutation(StoreMutation{Object: edge.Parent, Class: ClassAssemblyEdge})
	return nil
}

func (self *Store) GetEdge(ctx context.Context, oid Oid) (*AssemblyEdge, error) {
	row := self.db.QueryRowContext(ctx, edgeSelect+` WHERE oid = ?`, oid.String())
	edge, err := scanEdge(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return edge, err
}

func (self *Store) DeleteEdge(ctx context.Context, oid Oid) error {
	edge, err := self.GetEdge(ctx, oid)
	if err != nil {
		return err
	}
	if edge == nil {
		return nil
	}
	if _, err := self.db.ExecContext(ctx,
		`DELETE FROM assembly_edges WHERE oid = ?`, oid.String()); err != nil {
		return err
	}
	self.mutation(StoreMutation{Object: edge.Parent, Class: ClassAssemblyEdge})
	return nil
}

func (self *Store) EdgeRev(ctx context.Context, oid Oid) (uint64, bool, error) {
	row := self.db.QueryRowContext(ctx, `SELECT rev FROM assembly_edges WHERE oid = ?`, oid.String())
	var rev uint64
	err := row.Scan(&rev)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return rev, true, nil
}

func (self *Store) ChildrenOf(ctx context.Context, parent Oid) ([]*AssemblyEdge, error) {
	return self.queryEdges(ctx, edgeSelect+` WHERE parent = ? ORDER BY oid`, parent.String())
}

func (self *Store) ParentsOf(ctx context.Context, child Oid) ([]Oid, error) {
	return self.queryOids(ctx,
		`SELECT DISTINCT parent FROM assembly_edges WHERE child = ?`, child.String())
}

func (self *Store) EdgesInScope(ctx context.Context, scope Oid) ([]*AssemblyEdge, error) {
	return self.queryEdges(ctx, edgeSelect+`
		WHERE parent IN (SELECT oid FROM products WHERE owner = ?) ORDER BY oid`,
		scope.String())
}

const edgeSelect = `
	SELECT oid, parent, child, product_type, quantity, creator, rev
	FROM assembly_edges`

func scanEdge(row rowScanner) (*AssemblyEdge, error) {
	var edge AssemblyEdge
	var oidStr, parentStr, creatorStr, productType string
	var childStr sql.NullString
	err := row.Scan(&oidStr, &parentStr, &childStr, &productType, &edge.Quantity, &creatorStr, &edge.Rev)
	if err != nil {
		return nil, err
	}
	if edge.Oid, err = ParseOid(oidStr); err != nil {
		return nil, err
	}
	if edge.Parent, err = ParseOid(parentStr); err != nil {
		return nil, err
	}
	if childStr.Valid {
		if edge.Child, err = ParseOid(childStr.String); err != nil {
			return nil, err
		}
	}
	if edge.Creator, err = ParseOid(creatorStr); err != nil {
		return nil, err
	}
	edge.ProductType = ProductType(productType)
	return &edge, nil
}

func (self *Store) queryEdges(ctx context.Context, query string, args ...any) ([]*AssemblyEdge, error) {
	rows, err := self.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	edges := []*AssemblyEdge{}
	for rows.Next() {
		edge, err := scanEdge(rows)
		if err != nil {
			return nil, err
		}
		edges = append(edges, edge)
	}
	return edges, rows.Err()
}

// parameter definitions

func (self *Store) PutParameterDefinition(ctx context.Context, def *ParameterDefinition) error {
	_, err := self.db.ExecContext(ctx, `
		INSERT INTO parameter_definitions (symbol, name, datatype, dimension, expression, creator)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			name = excluded.name,
			datatype = excluded.datatype,
			dimension = excluded.dimension,
			expression = excluded.expression`,
		string(def.Symbol), def.Name, string(def.Datatype), def.Dimension,
		def.Expression, def.Creator.String(),
	)
	return err
}

func (self *Store) GetParameterDefinition(ctx context.Context, symbol Symbol) (*ParameterDefinition, error) {
	row := self.db.QueryRowContext(ctx, `
		SELECT symbol, name, datatype, dimension, expression, creator
		FROM parameter_definitions WHERE symbol = ?`, string(symbol))
	def, err := scanParameterDefinition(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return def, err
}

func (self *Store) ListParameterDefinitions(ctx context.Context) ([]*ParameterDefinition, error) {
	rows, err := self.db.QueryContext(ctx, `
		SELECT symbol, name, datatype, dimension, expression, creator
		FROM parameter_definitions ORDER BY symbol`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	defs := []*ParameterDefinition{}
	for rows.Next() {
		def, err := scanParameterDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func scanParameterDefinition(row rowScanner) (*ParameterDefinition, error) {
	var def ParameterDefinition
	var symbol, datatype, creatorStr string
	err := row.Scan(&symbol, &def.Name, &datatype, &def.Dimension, &def.Expression, &creatorStr)
	if err != nil {
		return nil, err
	}
	if def.Creator, err = ParseOid(creatorStr); err != nil {
		return nil, err
	}
	def.Symbol = Symbol(symbol)
	def.Datatype = Datatype(datatype)
	return &def, nil
}

// parameter values

// direct leaf write. computed values are written only via SetComputedValue.
func (self *Store) SetParameterValue(ctx context.Context, value *ParameterValue) error {
	_, err := self.db.ExecContext(ctx, `
		INSERT INTO parameter_values (object, symbol, value, text, computed)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(object, symbol) DO UPDATE SET
			value = excluded.value,
			text = excluded.text,
			computed = excluded.computed`,
		value.Object.String(), string(value.Symbol), value.Value, value.Text,
		boolInt(value.Computed),
	)
	if err != nil {
		return err
	}
	if !value.Computed {
		self.mutation(StoreMutation{Object: value.Object, Class: ClassParameter, Symbol: value.Symbol})
	}
	return nil
}

// roll-up engine write-back. does not re-notify the mutation callbacks,
// which would loop the invalidation back into the engine.
func (self *Store) SetComputedValue(ctx context.Context, object Oid, symbol Symbol, value float64) error {
	_, err := self.db.ExecContext(ctx, `
		INSERT INTO parameter_values (object, symbol, value, text, computed)
		VALUES (?, ?, ?, '', 1)
		ON CONFLICT(object, symbol) DO UPDATE SET
			value = excluded.value,
			computed = 1`,
		object.String(), string(symbol), value,
	)
	return err
}

func (self *Store) GetParameterValue(ctx context.Context, object Oid, symbol Symbol) (*ParameterValue, error) {
	row := self.db.QueryRowContext(ctx, `
		SELECT object, symbol, value, text, computed
		FROM parameter_values WHERE object = ? AND symbol = ?`,
		object.String(), string(symbol))
	value, err := scanParameterValue(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return value, err
}

func (self *Store) ListParameterValues(ctx context.Context, object Oid) ([]*ParameterValue, error) {
	rows, err := self.db.QueryContext(ctx, `
		SELECT object, symbol, value, text, computed
		FROM parameter_values WHERE object = ? ORDER BY symbol`, object.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	values := []*ParameterValue{}
	for rows.Next() {
		value, err := scanParameterValue(rows)
		if err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, rows.Err()
}

func scanParameterValue(row rowScanner) (*ParameterValue, error) {
	var value ParameterValue
	var objectStr, symbol string
	var computed int
	err := row.Scan(&objectStr, &symbol, &value.Value, &value.Text, &computed)
	if err != nil {
		return nil, err
	}
	if value.Object, err = ParseOid(objectStr); err != nil {
		return nil, err
	}
	value.Symbol = Symbol(symbol)
	value.Computed = computed != 0
	return &value, nil
}

// requirements

func (self *Store) PutRequirement(ctx context.Context, requirement *Requirement) error {
	_, err := self.db.ExecContext(ctx, `
		INSERT INTO requirements (oid, project, name, description, creator, modifier,
			create_time, modify_time, rev)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(oid) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			modifier = excluded.modifier,
			modify_time = excluded.modify_time,
			rev = excluded.rev`,
		requirement.Oid.String(), requirement.Project.String(), requirement.Name,
		requirement.Description, requirement.Creator.String(), requirement.Modifier.String(),
		formatTime(requirement.CreateTime), formatTime(requirement.ModifyTime),
		requirement.Rev,
	)
	return err
}

func (self *Store) GetRequirement(ctx context.Context, oid Oid) (*Requirement, error) {
	row := self.db.QueryRowContext(ctx, requirementSelect+` WHERE oid = ?`, oid.String())
	requirement, err := scanRequirement(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return requirement, err
}

func (self *Store) DeleteRequirement(ctx context.Context, oid Oid) error {
	_, err := self.db.ExecContext(ctx, `DELETE FROM requirements WHERE oid = ?`, oid.String())
	return err
}

func (self *Store) RequirementRev(ctx context.Context, oid Oid) (uint64, bool, error) {
	row := self.db.QueryRowContext(ctx, `SELECT rev FROM requirements WHERE oid = ?`, oid.String())
	var rev uint64
	err := row.Scan(&rev)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return rev, true, nil
}

func (self *Store) ListRequirementsByProject(ctx context.Context, project Oid) ([]*Requirement, error) {
	rows, err := self.db.QueryContext(ctx,
		requirementSelect+` WHERE project = ? ORDER BY oid`, project.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	requirements := []*Requirement{}
	for rows.Next() {
		requirement, err := scanRequirement(rows)
		if err != nil {
			return nil, err
		}
		requirements = append(requirements, requirement)
	}
	return requirements, rows.Err()
}

func (self *Store) RequirementOidsInScope(ctx context.Context, project Oid) ([]Oid, error) {
	return self.queryOids(ctx, `SELECT oid FROM requirements WHERE project = ?`, project.String())
}

const requirementSelect = `
	SELECT oid, project, name, description, creator, modifier, create_time, modify_time, rev
	FROM requirements`

func scanRequirement(row rowScanner) (*Requirement, error) {
	var requirement Requirement
	var oidStr, projectStr, creatorStr, modifierStr, createTime, modifyTime string
	err := row.Scan(&oidStr, &projectStr, &requirement.Name, &requirement.Description,
		&creatorStr, &modifierStr, &createTime, &modifyTime, &requirement.Rev)
	if err != nil {
		return nil, err
	}
	if requirement.Oid, err = ParseOid(oidStr); err != nil {
		return nil, err
	}
	if requirement.Project, err = ParseOid(projectStr); err != nil {
		return nil, err
	}
	if requirement.Creator, err = ParseOid(creatorStr); err != nil {
		return nil, err
	}
	if requirement.Modifier, err = ParseOid(modifierStr); err != nil {
		return nil, err
	}
	if requirement.CreateTime, err = parseTime(createTime); err != nil {
		return nil, err
	}
	if requirement.ModifyTime, err = parseTime(modifyTime); err != nil {
		return nil, err
	}
	return &requirement, nil
}

// sync cursors

func (self *Store) Cursor(ctx context.Context, scope string) (uint64, error) {
	row := self.db.QueryRowContext(ctx,
		`SELECT position FROM sync_cursors WHERE scope = ?`, scope)
	var position uint64
	err := row.Scan(&position)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return position, nil
}

func (self *Store) SetCursor(ctx context.Context, scope string, position uint64) error {
	_, err := self.db.ExecContext(ctx, `
		INSERT INTO sync_cursors (scope, position) VALUES (?, ?)
		ON CONFLICT(scope) DO UPDATE SET position = excluded.position`,
		scope, position,
	)
	return err
}

// tombstones

func (self *Store) Tombstone(ctx context.Context, class ObjectClass, oid Oid) error {
	_, err := self.db.ExecContext(ctx, `
		INSERT INTO tombstones (oid, class, delete_time) VALUES (?, ?, ?)
		ON CONFLICT(oid) DO NOTHING`,
		oid.String(), string(class), formatTime(time.Now().UTC()),
	)
	return err
}

func (self *Store) IsTombstoned(ctx context.Context, oid Oid) (bool, error) {
	row := self.db.QueryRowContext(ctx,
		`SELECT 1 FROM tombstones WHERE oid = ?`, oid.String())
	var one int
	err := row.Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (self *Store) ClearTombstone(ctx context.Context, oid Oid) error {
	_, err := self.db.ExecContext(ctx, `DELETE FROM tombstones WHERE oid = ?`, oid.String())
	return err
}

func (self *Store) ListTombstones(ctx context.Context, class ObjectClass) ([]Oid, error) {
	return self.queryOids(ctx, `SELECT oid FROM tombstones WHERE class = ?`, string(class))
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}
