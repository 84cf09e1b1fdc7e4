package modelsync

import (
	"context"
	"fmt"
	"time"

	"github.com/golang/glog"
)

type ClientSettings struct {
	SessionSettings *SessionSettings
	RollupSettings  *RollupSettings
}

func DefaultClientSettings() *ClientSettings {
	return &ClientSettings{
		SessionSettings: DefaultSessionSettings(),
		RollupSettings:  DefaultRollupSettings(),
	}
}

// ties the core together and exposes the query/command surface to external
// callers. the store is never exposed for direct external mutation: every
// mutation request routes through the ownership arbiter first, and remote
// events land through the merge resolver only.
type Client struct {
	ctx    context.Context
	cancel context.CancelFunc

	store    *Store
	graph    *AssemblyGraph
	rollup   *RollupEngine
	arbiter  *OwnershipArbiter
	resolver *MergeResolver
	bus      BusTransport

	sessionCtx *SessionContext
	settings   *ClientSettings

	session *SyncSession
}

func NewClientWithDefaults(
	ctx context.Context,
	store *Store,
	bus BusTransport,
	sessionCtx *SessionContext,
) *Client {
	return NewClient(ctx, store, bus, sessionCtx, DefaultClientSettings())
}

func NewClient(
	ctx context.Context,
	store *Store,
	bus BusTransport,
	sessionCtx *SessionContext,
	settings *ClientSettings,
) *Client {
	cancelCtx, cancel := context.WithCancel(ctx)
	graph := NewAssemblyGraph(store)
	client := &Client{
		ctx:        cancelCtx,
		cancel:     cancel,
		store:      store,
		graph:      graph,
		rollup:     NewRollupEngine(cancelCtx, store, graph, settings.RollupSettings),
		arbiter:    NewOwnershipArbiter(store, sessionCtx.User),
		resolver:   NewMergeResolver(store, sessionCtx.ClientId),
		bus:        bus,
		sessionCtx: sessionCtx,
		settings:   settings,
	}
	return client
}

func (self *Client) Store() *Store {
	return self.store
}

func (self *Client) Graph() *AssemblyGraph {
	return self.graph
}

func (self *Client) Rollup() *RollupEngine {
	return self.rollup
}

func (self *Client) Arbiter() *OwnershipArbiter {
	return self.arbiter
}

func (self *Client) Resolver() *MergeResolver {
	return self.resolver
}

func (self *Client) SessionContext() *SessionContext {
	return self.sessionCtx
}

// start the phased sync session. for purely local use (no collaborative
// projects) the session is unnecessary: the roll-up engine runs the same
// either way.
func (self *Client) Login(auth *SessionAuth) *SyncSession {
	self.session = NewSyncSession(
		self.ctx,
		self.bus,
		self.store,
		self.arbiter,
		self.resolver,
		self.rollup,
		auth,
		self.sessionCtx,
		self.settings.SessionSettings,
	)
	self.session.Start()
	return self.session
}

func (self *Client) Session() *SyncSession {
	return self.session
}

func (self *Client) Close() {
	if self.session != nil {
		self.session.Close()
	}
	self.rollup.Close()
	self.cancel()
}

// queries

func (self *Client) GetObject(ctx context.Context, oid Oid) (*Product, error) {
	return self.store.GetProduct(ctx, oid)
}

func (self *Client) ListByProject(ctx context.Context, project Oid) ([]*Product, error) {
	return self.store.ListByProject(ctx, project)
}

func (self *Client) ListByType(ctx context.Context, productType ProductType) ([]*Product, error) {
	return self.store.ListByType(ctx, productType)
}

func (self *Client) GetAssemblyChildren(ctx context.Context, oid Oid) ([]*AssemblyEdge, error) {
	return self.store.ChildrenOf(ctx, oid)
}

// read a stored canonical value, converted to the preferred unit and
// rounded to `precision` significant digits for display. precision <= 0
// leaves the value unrounded, empty preferredUnits leaves it canonical.
func (self *Client) GetParameterValue(
	ctx context.Context,
	oid Oid,
	symbol Symbol,
	preferredUnits string,
	precision int,
) (float64, error) {
	value, err := self.store.GetParameterValue(ctx, oid, symbol)
	if err != nil {
		return 0, err
	}
	if value == nil {
		return 0, fmt.Errorf("no value for %s.%s", oid, symbol)
	}
	display := value.Value
	if preferredUnits != "" {
		def, err := self.store.GetParameterDefinition(ctx, symbol)
		if err != nil {
			return 0, err
		}
		dimension := ""
		if def != nil {
			dimension = def.Dimension
		}
		display, err = ConvertForDisplay(display, dimension, preferredUnits)
		if err != nil {
			return 0, err
		}
	}
	return RoundSignificant(display, precision), nil
}

// commands

type ProductSpec struct {
	HumanId     string
	Name        string
	Version     string
	ProductType ProductType
	Public      bool
	// owner scope. defaults to the active project.
	Owner Oid
}

func (self *Client) CreateProduct(ctx context.Context, spec *ProductSpec) (Oid, error) {
	owner := spec.Owner
	if owner.IsNil() {
		owner = self.sessionCtx.ActiveProject
	}
	now := time.Now().UTC()
	product := &Product{
		Oid:         NewOid(),
		HumanId:     spec.HumanId,
		Name:        spec.Name,
		Version:     spec.Version,
		ProductType: spec.ProductType,
		Public:      spec.Public,
		Owner:       owner,
		Creator:     self.sessionCtx.User,
		Modifier:    self.sessionCtx.User,
		CreateTime:  now,
		ModifyTime:  now,
		Rev:         0,
		State:       StateDraft,
	}
	if err := self.store.PutProduct(ctx, product); err != nil {
		return Oid{}, err
	}
	glog.V(1).Infof("[api]create product %s (%s)\n", product.Oid, product.HumanId)
	self.publishProduct(ctx, product, KindCreate)
	return product.Oid, nil
}

// rejected when the symbol is computed for the object: relations are always
// computed, and a sum symbol on a white box is derived by roll-up
func (self *Client) EditParameter(ctx context.Context, oid Oid, symbol Symbol, value float64) error {
	product, err := self.store.GetProduct(ctx, oid)
	if err != nil {
		return err
	}
	if product == nil {
		return fmt.Errorf("product %s not found", oid)
	}
	if err := self.arbiter.MayPushProduct(ctx, product); err != nil {
		return err
	}

	def, err := self.store.GetParameterDefinition(ctx, symbol)
	if err != nil {
		return err
	}
	if def != nil && def.IsRelation() {
		return fmt.Errorf("parameter %s is computed and cannot be edited", symbol)
	}
	stored, err := self.store.GetParameterValue(ctx, oid, symbol)
	if err != nil {
		return err
	}
	if stored != nil && stored.Computed {
		return fmt.Errorf("parameter %s.%s is computed and cannot be edited", oid, symbol)
	}
	whiteBox, err := self.graph.IsWhiteBox(ctx, oid)
	if err != nil {
		return err
	}
	if whiteBox && (def == nil || def.Datatype == DatatypeFloat || def.Datatype == DatatypeInt) {
		return fmt.Errorf("parameter %s.%s is derived by roll-up and cannot be edited", oid, symbol)
	}

	if err := self.store.SetParameterValue(ctx, &ParameterValue{
		Object: oid,
		Symbol: symbol,
		Value:  value,
	}); err != nil {
		return err
	}
	product.Rev += 1
	product.Modifier = self.sessionCtx.User
	product.ModifyTime = time.Now().UTC()
	product.State = StateDraft
	if err := self.store.PutProduct(ctx, product); err != nil {
		return err
	}

	self.publishParameter(ctx, product, symbol, value)
	return nil
}

func (self *Client) InsertComponent(ctx context.Context, parent Oid, product Oid, position Oid) (*AssemblyEdge, error) {
	parentProduct, err := self.store.GetProduct(ctx, parent)
	if err != nil {
		return nil, err
	}
	if parentProduct == nil {
		return nil, fmt.Errorf("parent %s not found", parent)
	}
	if err := self.arbiter.MayPushProduct(ctx, parentProduct); err != nil {
		return nil, err
	}
	edge, err := self.graph.InsertComponent(ctx, self.sessionCtx, parent, product, position)
	if err != nil {
		return nil, err
	}
	self.publishEdge(ctx, parentProduct.Owner, edge, KindCreate)
	return edge, nil
}

func (self *Client) RemoveComponent(ctx context.Context, edgeOid Oid) (*AssemblyEdge, error) {
	if err := self.authorizeEdgeEdit(ctx, edgeOid); err != nil {
		return nil, err
	}
	edge, err := self.graph.RemoveComponent(ctx, edgeOid)
	if err != nil {
		return nil, err
	}
	self.publishEdgeByParent(ctx, edge, KindUpdate)
	return edge, nil
}

func (self *Client) RemoveAssemblyPosition(ctx context.Context, edgeOid Oid) error {
	if err := self.authorizeEdgeEdit(ctx, edgeOid); err != nil {
		return err
	}
	edge, err := self.store.GetEdge(ctx, edgeOid)
	if err != nil {
		return err
	}
	if err := self.graph.RemoveAssemblyPosition(ctx, edgeOid); err != nil {
		return err
	}
	if edge != nil {
		self.publishEdgeByParent(ctx, edge, KindDelete)
	}
	return nil
}

func (self *Client) DeleteProduct(ctx context.Context, oid Oid) error {
	if err := self.arbiter.MayDeleteProduct(ctx, oid); err != nil {
		return err
	}
	product, err := self.store.GetProduct(ctx, oid)
	if err != nil {
		return err
	}
	// tombstoned until the delete is acknowledged remotely
	if err := self.store.Tombstone(ctx, ClassProduct, oid); err != nil {
		return err
	}
	if err := self.store.DeleteProduct(ctx, oid); err != nil {
		return err
	}
	if product != nil {
		self.publishProduct(ctx, product, KindDelete)
	}
	return nil
}

type CloneOptions struct {
	WithParameters bool
	WithAssembly   bool
	HumanId        string
	Name           string
}

// clone a product into a new draft owned by the active project. with
// WithAssembly, child positions are cloned as edges referencing the same
// child products (the children themselves are shared, not copied).
func (self *Client) CloneObject(ctx context.Context, oid Oid, options *CloneOptions) (Oid, error) {
	source, err := self.store.GetProduct(ctx, oid)
	if err != nil {
		return Oid{}, err
	}
	if source == nil {
		return Oid{}, fmt.Errorf("product %s not found", oid)
	}
	if options == nil {
		options = &CloneOptions{WithParameters: true}
	}

	now := time.Now().UTC()
	clone := &Product{
		Oid:         NewOid(),
		HumanId:     options.HumanId,
		Name:        options.Name,
		Version:     source.Version,
		ProductType: source.ProductType,
		Public:      false,
		Owner:       self.sessionCtx.ActiveProject,
		Creator:     self.sessionCtx.User,
		Modifier:    self.sessionCtx.User,
		CreateTime:  now,
		ModifyTime:  now,
		Rev:         0,
		State:       StateDraft,
	}
	if clone.HumanId == "" {
		clone.HumanId = source.HumanId + "-copy"
	}
	if clone.Name == "" {
		clone.Name = source.Name + " (copy)"
	}
	if err := self.store.PutProduct(ctx, clone); err != nil {
		return Oid{}, err
	}

	if options.WithParameters {
		values, err := self.store.ListParameterValues(ctx, oid)
		if err != nil {
			return Oid{}, err
		}
		for _, value := range values {
			if value.Computed {
				// recomputed for the clone, not copied
				continue
			}
			if err := self.store.SetParameterValue(ctx, &ParameterValue{
				Object: clone.Oid,
				Symbol: value.Symbol,
				Value:  value.Value,
				Text:   value.Text,
			}); err != nil {
				return Oid{}, err
			}
		}
	}

	if options.WithAssembly {
		edges, err := self.store.ChildrenOf(ctx, oid)
		if err != nil {
			return Oid{}, err
		}
		for _, edge := range edges {
			clonedEdge := &AssemblyEdge{
				Oid:         NewOid(),
				Parent:      clone.Oid,
				Child:       edge.Child,
				ProductType: edge.ProductType,
				Quantity:    edge.Quantity,
				Creator:     self.sessionCtx.User,
				Rev:         1,
			}
			if err := self.store.PutEdge(ctx, clonedEdge); err != nil {
				return Oid{}, err
			}
		}
	}

	glog.V(1).Infof("[api]clone %s -> %s\n", oid, clone.Oid)
	self.publishProduct(ctx, clone, KindCreate)
	return clone.Oid, nil
}

func (self *Client) authorizeEdgeEdit(ctx context.Context, edgeOid Oid) error {
	edge, err := self.store.GetEdge(ctx, edgeOid)
	if err != nil {
		return err
	}
	if edge == nil {
		return fmt.Errorf("edge %s not found", edgeOid)
	}
	parent, err := self.store.GetProduct(ctx, edge.Parent)
	if err != nil {
		return err
	}
	if parent == nil {
		return fmt.Errorf("parent %s not found", edge.Parent)
	}
	return self.arbiter.MayPushProduct(ctx, parent)
}

// local-first publication: events go out only when the session is live and
// the owner scope is collaborative; otherwise the draft state carries the
// change until the next PushingLocalChanges stage

func (self *Client) publishProduct(ctx context.Context, product *Product, kind ChangeKind) {
	if !self.liveCollaborative(ctx, product.Owner) {
		return
	}
	var priorRev, newRev uint64
	switch kind {
	case KindCreate, KindDelete:
		priorRev = product.Rev
		newRev = product.Rev + 1
	default:
		// the local write already advanced the rev
		priorRev = product.Rev - 1
		newRev = product.Rev
	}
	event, err := NewChangeEvent(
		product.Oid, kind, ClassProduct,
		priorRev, newRev,
		self.sessionCtx.ClientId, product,
	)
	if err != nil {
		glog.Infof("[api]publish encode error = %s\n", err)
		return
	}
	if err := self.bus.Publish(ctx, ProjectTopic(product.Owner), event); err != nil {
		glog.Infof("[api]publish %s error = %s\n", product.Oid, err)
	}
}

func (self *Client) publishParameter(ctx context.Context, product *Product, symbol Symbol, value float64) {
	if !self.liveCollaborative(ctx, product.Owner) {
		return
	}
	event, err := NewChangeEvent(
		product.Oid, KindUpdate, ClassParameter,
		product.Rev-1, product.Rev,
		self.sessionCtx.ClientId, &ParameterEdit{Symbol: symbol, Value: value},
	)
	if err != nil {
		glog.Infof("[api]publish encode error = %s\n", err)
		return
	}
	if err := self.bus.Publish(ctx, ProjectTopic(product.Owner), event); err != nil {
		glog.Infof("[api]publish %s.%s error = %s\n", product.Oid, symbol, err)
	}
}

func (self *Client) publishEdge(ctx context.Context, owner Oid, edge *AssemblyEdge, kind ChangeKind) {
	if !self.liveCollaborative(ctx, owner) {
		return
	}
	priorRev := edge.Rev
	if 0 < priorRev {
		priorRev -= 1
	}
	event, err := NewChangeEvent(
		edge.Oid, kind, ClassAssemblyEdge,
		priorRev, edge.Rev,
		self.sessionCtx.ClientId, edge,
	)
	if err != nil {
		glog.Infof("[api]publish encode error = %s\n", err)
		return
	}
	if err := self.bus.Publish(ctx, ProjectTopic(owner), event); err != nil {
		glog.Infof("[api]publish edge %s error = %s\n", edge.Oid, err)
	}
}

func (self *Client) publishEdgeByParent(ctx context.Context, edge *AssemblyEdge, kind ChangeKind) {
	parent, err := self.store.GetProduct(ctx, edge.Parent)
	if err != nil || parent == nil {
		return
	}
	self.publishEdge(ctx, parent.Owner, edge, kind)
}

func (self *Client) liveCollaborative(ctx context.Context, owner Oid) bool {
	if self.session == nil || self.session.State() != SessionLive {
		return false
	}
	project, err := self.store.GetProject(ctx, owner)
	if err != nil || project == nil {
		return false
	}
	return project.Collaborative
}
