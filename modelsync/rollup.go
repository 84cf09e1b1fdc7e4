package modelsync

import (
	"context"
	"sync"
	"time"

	exprlang "github.com/expr-lang/expr"
	exprast "github.com/expr-lang/expr/ast"
	exprparser "github.com/expr-lang/expr/parser"
	exprvm "github.com/expr-lang/expr/vm"

	"github.com/golang/glog"

	"golang.org/x/exp/maps"
)

// marks a dirty entry as "all float symbols of the object"
const allSymbols = Symbol("")

type RollupSettings struct {
	// invalidations arriving within this window coalesce into one pass
	CoalesceWindow time.Duration
}

func DefaultRollupSettings() *RollupSettings {
	return &RollupSettings{
		CoalesceWindow: 50 * time.Millisecond,
	}
}

type ConsistencyErrorFunction func(consistencyError *InternalConsistencyError)

// recomputes derived parameter values bottom-up over the assembly graph.
// a computed value for object O and symbol S is the sum over O's non-TBD
// child edges of (child value for S x edge quantity). leaves carry directly
// set values and are never written. after the sums, expression-defined
// parameters (relations) are evaluated per dirty object.
type RollupEngine struct {
	ctx    context.Context
	cancel context.CancelFunc

	store *Store
	graph *AssemblyGraph

	settings *RollupSettings

	mutex   sync.Mutex
	dirty   map[Oid]map[Symbol]bool
	monitor *Monitor

	passMutex sync.Mutex
	programs  map[Symbol]*relationProgram

	consistencyErrorCallbacks *CallbackList[ConsistencyErrorFunction]

	storeUnsub func()
}

func NewRollupEngineWithDefaults(ctx context.Context, store *Store, graph *AssemblyGraph) *RollupEngine {
	return NewRollupEngine(ctx, store, graph, DefaultRollupSettings())
}

func NewRollupEngine(ctx context.Context, store *Store, graph *AssemblyGraph, settings *RollupSettings) *RollupEngine {
	cancelCtx, cancel := context.WithCancel(ctx)
	engine := &RollupEngine{
		ctx:                       cancelCtx,
		cancel:                    cancel,
		store:                     store,
		graph:                     graph,
		settings:                  settings,
		dirty:                     map[Oid]map[Symbol]bool{},
		monitor:                   NewMonitor(),
		programs:                  map[Symbol]*relationProgram{},
		consistencyErrorCallbacks: NewCallbackList[ConsistencyErrorFunction](),
	}
	engine.storeUnsub = store.AddMutationCallback(engine.storeMutation)
	go HandleError(engine.run)
	return engine
}

func (self *RollupEngine) AddConsistencyErrorCallback(callback ConsistencyErrorFunction) func() {
	callbackId := self.consistencyErrorCallbacks.Add(callback)
	return func() {
		self.consistencyErrorCallbacks.Remove(callbackId)
	}
}

// MutationFunction
func (self *RollupEngine) storeMutation(mutation StoreMutation) {
	switch mutation.Class {
	case ClassParameter:
		self.Invalidate(mutation.Object, mutation.Symbol)
	case ClassAssemblyEdge:
		self.Invalidate(mutation.Object, allSymbols)
	}
}

// mark the object and every ancestor dirty for the symbol and schedule a pass
func (self *RollupEngine) Invalidate(object Oid, symbol Symbol) {
	ancestors, err := self.graph.Ancestors(self.ctx, object)
	if err != nil {
		glog.Infof("[rollup]invalidate %s walk error = %s\n", object, err)
		ancestors = nil
	}

	self.mutex.Lock()
	self.markDirty(object, symbol)
	for _, ancestor := range ancestors {
		self.markDirty(ancestor, symbol)
	}
	self.mutex.Unlock()

	self.monitor.NotifyAll()
}

// mark every product dirty for every symbol. used after import and by
// explicit full recompute requests.
func (self *RollupEngine) InvalidateAll(ctx context.Context) error {
	projects, err := self.store.ListProjects(ctx)
	if err != nil {
		return err
	}
	self.mutex.Lock()
	for _, project := range projects {
		products, err := self.store.ListByProject(ctx, project.Oid)
		if err != nil {
			self.mutex.Unlock()
			return err
		}
		for _, product := range products {
			self.markDirty(product.Oid, allSymbols)
		}
	}
	self.mutex.Unlock()

	self.monitor.NotifyAll()
	return nil
}

func (self *RollupEngine) markDirty(object Oid, symbol Symbol) {
	symbols, ok := self.dirty[object]
	if !ok {
		symbols = map[Symbol]bool{}
		self.dirty[object] = symbols
	}
	symbols[symbol] = true
}

func (self *RollupEngine) run() {
	defer self.storeUnsub()
	for {
		// arm the notify channel before the pass so invalidations landing
		// mid-pass are not lost
		notify := self.monitor.NotifyChannel()

		if err := self.Settle(self.ctx); err != nil {
			glog.Infof("[rollup]pass error = %s\n", err)
		}

		select {
		case <-self.ctx.Done():
			return
		case <-notify:
		}

		// coalesce a burst of invalidations into a single pass
		select {
		case <-self.ctx.Done():
			return
		case <-time.After(self.settings.CoalesceWindow):
		}
	}
}

// run one recomputation pass over the current dirty set, synchronously.
// recomputation is idempotent: a second pass with no intervening input
// change writes identical values.
func (self *RollupEngine) Settle(ctx context.Context) error {
	self.passMutex.Lock()
	defer self.passMutex.Unlock()

	self.mutex.Lock()
	dirty := self.dirty
	self.dirty = map[Oid]map[Symbol]bool{}
	self.mutex.Unlock()

	if len(dirty) == 0 {
		return nil
	}

	defs, err := self.store.ListParameterDefinitions(ctx)
	if err != nil {
		return err
	}
	sumSymbols := []Symbol{}
	relationDefs := []*ParameterDefinition{}
	knownSymbols := map[Symbol]bool{}
	for _, def := range defs {
		knownSymbols[def.Symbol] = true
		if def.Datatype != DatatypeFloat && def.Datatype != DatatypeInt {
			continue
		}
		if def.IsRelation() {
			relationDefs = append(relationDefs, def)
		} else {
			sumSymbols = append(sumSymbols, def.Symbol)
		}
	}

	start := time.Now()
	memo := map[rollupKey]float64{}
	recomputed := 0
	for _, object := range maps.Keys(dirty) {
		symbols := dirty[object]
		expanded := []Symbol{}
		if symbols[allSymbols] {
			expanded = sumSymbols
		} else {
			expanded = maps.Keys(symbols)
		}
		for _, symbol := range expanded {
			if symbol == allSymbols {
				continue
			}
			onPath := map[Oid]bool{}
			if _, err := self.compute(ctx, object, symbol, memo, onPath); err != nil {
				if consistencyError, ok := err.(*InternalConsistencyError); ok {
					// structurally impossible given the graph guard. abort
					// this subtree, report, keep the pass alive.
					self.reportConsistencyError(consistencyError)
					continue
				}
				return err
			}
			recomputed += 1
		}
	}

	// relations evaluate over the object's own symbols, after the sums land
	for _, object := range maps.Keys(dirty) {
		for _, def := range relationDefs {
			if err := self.evaluateRelation(ctx, object, def, knownSymbols); err != nil {
				if consistencyError, ok := err.(*InternalConsistencyError); ok {
					self.reportConsistencyError(consistencyError)
					continue
				}
				return err
			}
		}
	}

	glog.V(2).Infof("[rollup]pass objects=%d recomputed=%d (%.2fms)\n",
		len(dirty), recomputed, float32(time.Since(start))/float32(time.Millisecond))
	return nil
}

type rollupKey struct {
	object Oid
	symbol Symbol
}

// bottom-up value of (object, symbol). leaves return the stored value
// without writing. white boxes sum their children and write the computed
// value back to the store. memoized per pass.
func (self *RollupEngine) compute(
	ctx context.Context,
	object Oid,
	symbol Symbol,
	memo map[rollupKey]float64,
	onPath map[Oid]bool,
) (float64, error) {
	key := rollupKey{object: object, symbol: symbol}
	if value, ok := memo[key]; ok {
		return value, nil
	}
	if onPath[object] {
		return 0, &InternalConsistencyError{
			Object: object,
			Reason: "cycle encountered during recomputation",
		}
	}

	edges, err := self.store.ChildrenOf(ctx, object)
	if err != nil {
		return 0, err
	}
	nonTbd := []*AssemblyEdge{}
	for _, edge := range edges {
		if !edge.IsTbd() {
			nonTbd = append(nonTbd, edge)
		}
	}

	if len(nonTbd) == 0 {
		// black box: the directly set value is the value
		stored, err := self.store.GetParameterValue(ctx, object, symbol)
		if err != nil {
			return 0, err
		}
		var value float64
		if stored != nil {
			value = stored.Value
		}
		memo[key] = value
		return value, nil
	}

	onPath[object] = true
	var sum float64
	for _, edge := range nonTbd {
		childValue, err := self.compute(ctx, edge.Child, symbol, memo, onPath)
		if err != nil {
			return 0, err
		}
		sum += childValue * edge.Quantity
	}
	delete(onPath, object)

	if err := self.store.SetComputedValue(ctx, object, symbol, sum); err != nil {
		return 0, err
	}
	memo[key] = sum
	return sum, nil
}

func (self *RollupEngine) evaluateRelation(ctx context.Context, object Oid, def *ParameterDefinition, knownSymbols map[Symbol]bool) error {
	values, err := self.store.ListParameterValues(ctx, object)
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}
	env := map[string]any{}
	for _, value := range values {
		if value.Symbol == def.Symbol {
			continue
		}
		env[string(value.Symbol)] = value.Value
	}

	compiled, err := self.compileRelation(def)
	if err != nil {
		return &InternalConsistencyError{
			Object: object,
			Reason: "relation " + string(def.Symbol) + " does not compile: " + err.Error(),
		}
	}
	// an object that does not carry every input has no value for the
	// relation. not a fault.
	for _, input := range compiled.inputs {
		if !knownSymbols[input] {
			continue
		}
		if _, ok := env[string(input)]; !ok {
			return nil
		}
	}
	out, err := exprlang.Run(compiled.program, env)
	if err != nil {
		return &InternalConsistencyError{
			Object: object,
			Reason: "relation " + string(def.Symbol) + " failed: " + err.Error(),
		}
	}
	var result float64
	switch v := out.(type) {
	case float64:
		result = v
	case int:
		result = float64(v)
	default:
		return &InternalConsistencyError{
			Object: object,
			Reason: "relation " + string(def.Symbol) + " returned a non-numeric value",
		}
	}
	return self.store.SetComputedValue(ctx, object, def.Symbol, result)
}

// compiled expression with the parameter symbols it reads
type relationProgram struct {
	program *exprvm.Program
	inputs  []Symbol
}

// collects the identifiers an expression references
type relationInputVisitor struct {
	symbols map[Symbol]bool
}

func (self *relationInputVisitor) Visit(node *exprast.Node) {
	if identifier, ok := (*node).(*exprast.IdentifierNode); ok {
		self.symbols[Symbol(identifier.Value)] = true
	}
}

func (self *RollupEngine) compileRelation(def *ParameterDefinition) (*relationProgram, error) {
	self.mutex.Lock()
	compiled, ok := self.programs[def.Symbol]
	self.mutex.Unlock()
	if ok {
		return compiled, nil
	}
	tree, err := exprparser.Parse(def.Expression)
	if err != nil {
		return nil, err
	}
	visitor := &relationInputVisitor{symbols: map[Symbol]bool{}}
	exprast.Walk(&tree.Node, visitor)
	program, err := exprlang.Compile(
		def.Expression,
		exprlang.Env(map[string]any{}),
		exprlang.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, err
	}
	compiled = &relationProgram{
		program: program,
		inputs:  maps.Keys(visitor.symbols),
	}
	self.mutex.Lock()
	self.programs[def.Symbol] = compiled
	self.mutex.Unlock()
	return compiled, nil
}

func (self *RollupEngine) reportConsistencyError(consistencyError *InternalConsistencyError) {
	glog.Warningf("[rollup]%s\n", consistencyError)
	for _, callback := range self.consistencyErrorCallbacks.Get() {
		func() {
			defer recover()
			callback(consistencyError)
		}()
	}
}

func (self *RollupEngine) Close() {
	self.cancel()
}
