package modelsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	"golang.org/x/exp/maps"
)

type SessionState string

const (
	SessionDisconnected                SessionState = "Disconnected"
	SessionAuthenticating              SessionState = "Authenticating"
	SessionFetchingProjectRoles        SessionState = "FetchingProjectRoles"
	SessionSubscribingChannels         SessionState = "SubscribingChannels"
	SessionSyncingParameterDefinitions SessionState = "SyncingParameterDefinitions"
	SessionPushingLocalChanges         SessionState = "PushingLocalChanges"
	SessionPullingLibraryDelta         SessionState = "PullingLibraryDelta"
	SessionSyncingActiveProject        SessionState = "SyncingActiveProject"
	SessionLive                        SessionState = "Live"
)

// repository call methods
const (
	MethodGetProjects   = "repo.get_projects"
	MethodSyncParamDefs = "repo.sync_parameter_definitions"
	MethodSaveParamDefs = "repo.save_parameter_definitions"
	MethodSaveObjects   = "repo.save_objects"
	MethodDeleteObjects = "repo.delete_objects"
	MethodLibraryDelta  = "repo.library_delta"
	MethodSyncProject   = "repo.sync_project"
)

type SessionSettings struct {
	StageTimeout time.Duration
	// attempt ceiling per stage; exhausting it is a terminal SyncError
	StageAttempts    int
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	ReconnectTimeout time.Duration
	EventQueueSize   int
}

func DefaultSessionSettings() *SessionSettings {
	return &SessionSettings{
		StageTimeout:     30 * time.Second,
		StageAttempts:    5,
		BackoffBase:      500 * time.Millisecond,
		BackoffMax:       15 * time.Second,
		ReconnectTimeout: 5 * time.Second,
		EventQueueSize:   1024,
	}
}

type StateFunction func(state SessionState)
type SessionErrorFunction func(syncError *SyncError)
type PermissionFailureFunction func(authorizationError *AuthorizationError)

// repository wire shapes

type projectRolesReply struct {
	Projects []*Project `json:"projects"`
}

type paramDefSyncArgs struct {
	Symbols []Symbol `json:"symbols"`
}

type paramDefSyncReply struct {
	// definitions known remotely but not locally (or newer remotely)
	Definitions []*ParameterDefinition `json:"definitions"`
	// locally known symbols absent remotely, candidates for push
	Missing []Symbol `json:"missing"`
}

type saveObjectsArgs struct {
	Events []*ChangeEvent `json:"events"`
}

type savedRev struct {
	Oid Oid    `json:"oid"`
	Rev uint64 `json:"rev"`
}

type saveObjectsReply struct {
	Saved []savedRev `json:"saved"`
}

type deleteObjectsArgs struct {
	Oids []Oid `json:"oids"`
}

type libraryDeltaArgs struct {
	After uint64 `json:"after"`
}

type libraryDeltaReply struct {
	Events []*BusEvent `json:"events"`
	// authoritative oids currently in the library scope
	Authoritative []Oid  `json:"authoritative"`
	Position      uint64 `json:"position"`
}

type projectSyncArgs struct {
	Project Oid    `json:"project"`
	After   uint64 `json:"after"`
}

type projectSyncReply struct {
	Events            []*BusEvent `json:"events"`
	Authoritative     []Oid       `json:"authoritative"`
	AuthoritativeReqs []Oid       `json:"authoritative_requirements"`
	Position          uint64      `json:"position"`
}

// drives the phased protocol (auth -> subscribe -> reconcile -> live) and
// owns the session state machine. phases never run concurrently for the
// same session; all inbound events funnel through a single ordered queue
// before touching the store.
type SyncSession struct {
	ctx    context.Context
	cancel context.CancelFunc

	bus      BusTransport
	store    *Store
	arbiter  *OwnershipArbiter
	resolver *MergeResolver
	rollup   *RollupEngine

	auth       *SessionAuth
	sessionCtx *SessionContext

	settings *SessionSettings

	mutex            sync.Mutex
	state            SessionState
	activeProject    Oid
	projectCancel    context.CancelFunc
	subscribedTopics map[Topic]bool

	events         chan *BusEvent
	switchRequests chan Oid
	connLost       chan struct{}

	stateCallbacks      *CallbackList[StateFunction]
	errorCallbacks      *CallbackList[SessionErrorFunction]
	permissionCallbacks *CallbackList[PermissionFailureFunction]

	busEventUnsub func()
	busConnUnsub  func()
}

func NewSyncSession(
	ctx context.Context,
	bus BusTransport,
	store *Store,
	arbiter *OwnershipArbiter,
	resolver *MergeResolver,
	rollup *RollupEngine,
	auth *SessionAuth,
	sessionCtx *SessionContext,
	settings *SessionSettings,
) *SyncSession {
	cancelCtx, cancel := context.WithCancel(ctx)
	session := &SyncSession{
		ctx:                 cancelCtx,
		cancel:              cancel,
		bus:                 bus,
		store:               store,
		arbiter:             arbiter,
		resolver:            resolver,
		rollup:              rollup,
		auth:                auth,
		sessionCtx:          sessionCtx,
		settings:            settings,
		state:               SessionDisconnected,
		activeProject:       sessionCtx.ActiveProject,
		subscribedTopics:    map[Topic]bool{},
		events:              make(chan *BusEvent, settings.EventQueueSize),
		switchRequests:      make(chan Oid, 1),
		connLost:            make(chan struct{}, 1),
		stateCallbacks:      NewCallbackList[StateFunction](),
		errorCallbacks:      NewCallbackList[SessionErrorFunction](),
		permissionCallbacks: NewCallbackList[PermissionFailureFunction](),
	}
	session.busEventUnsub = bus.AddEventCallback(session.busEvent)
	session.busConnUnsub = bus.AddConnectivityCallback(session.busConnectivity)
	return session
}

func (self *SyncSession) State() SessionState {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.state
}

func (self *SyncSession) ActiveProject() Oid {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.activeProject
}

func (self *SyncSession) AddStateCallback(stateCallback StateFunction) func() {
	callbackId := self.stateCallbacks.Add(stateCallback)
	return func() {
		self.stateCallbacks.Remove(callbackId)
	}
}

func (self *SyncSession) AddErrorCallback(errorCallback SessionErrorFunction) func() {
	callbackId := self.errorCallbacks.Add(errorCallback)
	return func() {
		self.errorCallbacks.Remove(callbackId)
	}
}

func (self *SyncSession) AddPermissionFailureCallback(permissionCallback PermissionFailureFunction) func() {
	callbackId := self.permissionCallbacks.Add(permissionCallback)
	return func() {
		self.permissionCallbacks.Remove(callbackId)
	}
}

func (self *SyncSession) Start() {
	go HandleError(self.run)
}

// switching the active project while live re-enters only
// SyncingActiveProject for the new project, leaving subscriptions and
// library state untouched. any in-flight project sync for the previous
// project is canceled; already-applied events are not rolled back.
func (self *SyncSession) SwitchProject(project Oid) {
	self.mutex.Lock()
	self.activeProject = project
	self.sessionCtx.ActiveProject = project
	if self.projectCancel != nil {
		self.projectCancel()
	}
	self.mutex.Unlock()

	select {
	case self.switchRequests <- project:
	default:
		// a pending switch is replaced; activeProject already points at the
		// newest request
	}
}

func (self *SyncSession) Close() {
	self.cancel()
	self.busEventUnsub()
	self.busConnUnsub()
	self.bus.Disconnect()
}

// BusEventFunction
func (self *SyncSession) busEvent(busEvent *BusEvent) {
	select {
	case self.events <- busEvent:
	case <-self.ctx.Done():
	default:
		// queue full. dropping creates a position gap, which the live loop
		// detects and repairs with a reconciliation fetch.
		glog.Infof("[sess]event queue full, drop %s@%d\n", busEvent.Topic, busEvent.Position)
	}
}

// ConnectivityFunction
func (self *SyncSession) busConnectivity(connected bool) {
	if !connected {
		select {
		case self.connLost <- struct{}{}:
		default:
		}
	}
}

func (self *SyncSession) run() {
	reconnect := NewReconnect(self.settings.ReconnectTimeout)
	for {
		select {
		case <-self.ctx.Done():
			self.setState(SessionDisconnected)
			return
		default:
		}

		if err := self.bootstrap(); err != nil {
			failedStage := self.State()
			self.setState(SessionDisconnected)
			var syncError *SyncError
			if !errors.As(err, &syncError) {
				syncError = &SyncError{Stage: failedStage, Attempts: 1, Err: err}
			}
			// never silently swallowed
			glog.Infof("[sess]terminal: %s\n", syncError)
			self.reportError(syncError)
			return
		}

		self.setState(SessionLive)
		Trace(fmt.Sprintf("[sess]live %s", self.sessionCtx.ClientId), self.live)

		select {
		case <-self.ctx.Done():
			self.setState(SessionDisconnected)
			return
		default:
			// connection lost. re-subscribe and resume from the stored
			// cursors after the reconnect wait.
			glog.Infof("[sess]connection lost, reconnecting\n")
		}
		select {
		case <-self.ctx.Done():
			self.setState(SessionDisconnected)
			return
		case <-reconnect.After():
		}
	}
}

// strictly sequential stages on login and reconnect
func (self *SyncSession) bootstrap() error {
	if err := self.runStage(SessionAuthenticating, self.authenticate); err != nil {
		return err
	}
	if err := self.runStage(SessionFetchingProjectRoles, self.fetchProjectRoles); err != nil {
		return err
	}
	if err := self.runStage(SessionSubscribingChannels, self.subscribeChannels); err != nil {
		return err
	}
	if err := self.runStage(SessionSyncingParameterDefinitions, self.syncParameterDefinitions); err != nil {
		return err
	}
	if err := self.runStage(SessionPushingLocalChanges, self.pushLocalChanges); err != nil {
		return err
	}
	if err := self.runStage(SessionPullingLibraryDelta, self.pullLibraryDelta); err != nil {
		return err
	}
	for {
		err := self.runStage(SessionSyncingActiveProject, self.syncActiveProjectStage)
		if err == nil {
			return nil
		}
		if errors.Is(err, context.Canceled) && self.ctx.Err() == nil {
			// superseded by a project switch mid-bootstrap. re-run the stage
			// for the new active project and drop the queued request.
			select {
			case <-self.switchRequests:
			default:
			}
			continue
		}
		return err
	}
}

// bounded timeout per attempt, exponential backoff between attempts, fixed
// attempt ceiling. authentication failures are terminal immediately.
func (self *SyncSession) runStage(state SessionState, stage func(ctx context.Context) error) error {
	self.setState(state)
	var lastErr error
	for attempt := 0; attempt < self.settings.StageAttempts; attempt += 1 {
		stageCtx, stageCancel := context.WithTimeout(self.ctx, self.settings.StageTimeout)
		err := stage(stageCtx)
		stageCancel()
		if err == nil {
			return nil
		}

		var authenticationError *AuthenticationError
		if errors.As(err, &authenticationError) {
			return err
		}
		if self.ctx.Err() != nil {
			return self.ctx.Err()
		}
		if errors.Is(err, context.Canceled) {
			// only a project switch cancels a stage sub-context while the
			// session is alive. superseded work is not retried.
			return err
		}

		lastErr = err
		delay := backoffDelay(self.settings.BackoffBase, self.settings.BackoffMax, attempt)
		glog.Infof("[sess]%s attempt %d error = %s, retry in %s\n", state, attempt+1, err, delay)
		select {
		case <-self.ctx.Done():
			return self.ctx.Err()
		case <-time.After(delay):
		}
	}
	return &SyncError{Stage: state, Attempts: self.settings.StageAttempts, Err: lastErr}
}

func (self *SyncSession) authenticate(ctx context.Context) error {
	return self.bus.Connect(ctx, self.auth)
}

func (self *SyncSession) fetchProjectRoles(ctx context.Context) error {
	var reply projectRolesReply
	if err := self.bus.Call(ctx, MethodGetProjects, map[string]string{
		"user": self.sessionCtx.User.String(),
	}, &reply); err != nil {
		return err
	}
	for _, project := range reply.Projects {
		if err := self.store.PutProject(ctx, project); err != nil {
			return err
		}
	}
	glog.V(1).Infof("[sess]projects with roles: %d\n", len(reply.Projects))
	return nil
}

func (self *SyncSession) subscribeChannels(ctx context.Context) error {
	desired := map[Topic]bool{
		ParameterDefTopic: true,
		LibraryTopic:      true,
	}
	projects, err := self.store.ListProjects(ctx)
	if err != nil {
		return err
	}
	for _, project := range projects {
		if project.Collaborative {
			desired[ProjectTopic(project.Oid)] = true
		}
	}

	// a project dropped from the roles reply, or flipped local since the
	// last connection, is let go
	self.mutex.Lock()
	previous := maps.Keys(self.subscribedTopics)
	self.mutex.Unlock()
	for _, topic := range previous {
		if desired[topic] {
			continue
		}
		if err := self.bus.Unsubscribe(ctx, topic); err != nil {
			return err
		}
		self.mutex.Lock()
		delete(self.subscribedTopics, topic)
		self.mutex.Unlock()
	}

	for topic := range desired {
		if err := self.bus.Subscribe(ctx, topic); err != nil {
			return err
		}
		self.mutex.Lock()
		self.subscribedTopics[topic] = true
		self.mutex.Unlock()
	}
	return nil
}

// bidirectional: definitions known remotely but not locally are pulled;
// definitions created locally but absent remotely are proposed for push
func (self *SyncSession) syncParameterDefinitions(ctx context.Context) error {
	localDefs, err := self.store.ListParameterDefinitions(ctx)
	if err != nil {
		return err
	}
	symbols := make([]Symbol, 0, len(localDefs))
	defsBySymbol := map[Symbol]*ParameterDefinition{}
	for _, def := range localDefs {
		symbols = append(symbols, def.Symbol)
		defsBySymbol[def.Symbol] = def
	}

	var reply paramDefSyncReply
	if err := self.bus.Call(ctx, MethodSyncParamDefs, &paramDefSyncArgs{Symbols: symbols}, &reply); err != nil {
		return err
	}
	for _, def := range reply.Definitions {
		if err := self.store.PutParameterDefinition(ctx, def); err != nil {
			return err
		}
	}

	push := []*ParameterDefinition{}
	for _, symbol := range reply.Missing {
		def, ok := defsBySymbol[symbol]
		if !ok {
			continue
		}
		if def.Creator != self.arbiter.LocalUser() {
			// not ours to propose
			continue
		}
		push = append(push, def)
	}
	if 0 < len(push) {
		if err := self.bus.Call(ctx, MethodSaveParamDefs, push, nil); err != nil {
			return err
		}
		glog.V(1).Infof("[sess]proposed %d parameter definitions\n", len(push))
	}
	return nil
}

// push locally created/modified/deleted objects the arbiter confirms are
// permitted. a denied object is surfaced as a permission failure and held,
// never retried automatically.
func (self *SyncSession) pushLocalChanges(ctx context.Context) error {
	drafts, err := self.store.ListDraftByUser(ctx, self.arbiter.LocalUser())
	if err != nil {
		return err
	}
	events := []*ChangeEvent{}
	for _, product := range drafts {
		if err := self.arbiter.MayPushProduct(ctx, product); err != nil {
			var authorizationError *AuthorizationError
			if errors.As(err, &authorizationError) {
				self.reportPermissionFailure(authorizationError)
				continue
			}
			return err
		}
		kind := KindUpdate
		if product.Rev == 0 {
			kind = KindCreate
		}
		event, err := NewChangeEvent(
			product.Oid, kind, ClassProduct,
			product.Rev, product.Rev+1,
			self.sessionCtx.ClientId, product,
		)
		if err != nil {
			return err
		}
		events = append(events, event)
	}

	if 0 < len(events) {
		var reply saveObjectsReply
		if err := self.bus.Call(ctx, MethodSaveObjects, &saveObjectsArgs{Events: events}, &reply); err != nil {
			return err
		}
		for _, saved := range reply.Saved {
			if err := self.store.MarkSynced(ctx, saved.Oid, saved.Rev); err != nil {
				return err
			}
		}
		glog.V(1).Infof("[sess]pushed %d local objects\n", len(reply.Saved))
	}

	// pending local deletes
	tombstones, err := self.store.ListTombstones(ctx, ClassProduct)
	if err != nil {
		return err
	}
	if 0 < len(tombstones) {
		if err := self.bus.Call(ctx, MethodDeleteObjects, &deleteObjectsArgs{Oids: tombstones}, nil); err != nil {
			return err
		}
		for _, oid := range tombstones {
			if err := self.store.ClearTombstone(ctx, oid); err != nil {
				return err
			}
		}
		glog.V(1).Infof("[sess]acknowledged %d local deletes\n", len(tombstones))
	}
	return nil
}

func (self *SyncSession) pullLibraryDelta(ctx context.Context) error {
	after, err := self.store.Cursor(ctx, LibraryScope)
	if err != nil {
		return err
	}
	var reply libraryDeltaReply
	if err := self.bus.Call(ctx, MethodLibraryDelta, &libraryDeltaArgs{After: after}, &reply); err != nil {
		return err
	}
	for _, busEvent := range reply.Events {
		if _, err := self.resolver.Apply(ctx, busEvent.Event); err != nil {
			return err
		}
	}
	result, err := self.arbiter.ReconcileProducts(ctx, PlatformOid, reply.Authoritative)
	if err != nil {
		return err
	}
	if err := self.repushProducts(ctx, result.Repush); err != nil {
		return err
	}
	return self.store.SetCursor(ctx, LibraryScope, reply.Position)
}

func (self *SyncSession) syncActiveProjectStage(ctx context.Context) error {
	self.mutex.Lock()
	project := self.activeProject
	self.mutex.Unlock()
	return self.syncProjectCancelable(ctx, project)
}

// registers the cancel hook SwitchProject fires to abandon an in-flight
// project sync. the hook must be in place before the sync starts so a
// switch arriving at any point lands on a live context.
func (self *SyncSession) syncProjectCancelable(ctx context.Context, project Oid) error {
	projectCtx, projectCancel := context.WithCancel(ctx)
	self.mutex.Lock()
	self.projectCancel = projectCancel
	self.mutex.Unlock()
	defer projectCancel()
	return self.syncProject(projectCtx, project)
}

// replicate the project's current assembly-tree snapshot and any objects
// added to the project since the last cursor. a local (non-collaborative)
// project never issues remote operations.
func (self *SyncSession) syncProject(ctx context.Context, projectOid Oid) error {
	if projectOid.IsNil() {
		return nil
	}
	project, err := self.store.GetProject(ctx, projectOid)
	if err != nil {
		return err
	}
	if project != nil && !project.Collaborative {
		glog.V(1).Infof("[sess]project %s is local, no remote sync\n", projectOid)
		return nil
	}

	scope := ProjectScope(projectOid)
	after, err := self.store.Cursor(ctx, scope)
	if err != nil {
		return err
	}
	var reply projectSyncReply
	if err := self.bus.Call(ctx, MethodSyncProject, &projectSyncArgs{
		Project: projectOid,
		After:   after,
	}, &reply); err != nil {
		return err
	}
	for _, busEvent := range reply.Events {
		if ctx.Err() != nil {
			// canceled by a project switch. already-applied events are
			// individually consistent writes and stay.
			return ctx.Err()
		}
		if _, err := self.resolver.Apply(ctx, busEvent.Event); err != nil {
			return err
		}
	}
	result, err := self.arbiter.ReconcileProducts(ctx, projectOid, reply.Authoritative)
	if err != nil {
		return err
	}
	if err := self.repushProducts(ctx, result.Repush); err != nil {
		return err
	}
	if _, err := self.arbiter.ReconcileRequirements(ctx, projectOid, reply.AuthoritativeReqs); err != nil {
		return err
	}
	return self.store.SetCursor(ctx, scope, reply.Position)
}

func (self *SyncSession) repushProducts(ctx context.Context, oids []Oid) error {
	if len(oids) == 0 {
		return nil
	}
	events := []*ChangeEvent{}
	for _, oid := range oids {
		product, err := self.store.GetProduct(ctx, oid)
		if err != nil {
			return err
		}
		if product == nil {
			continue
		}
		event, err := NewChangeEvent(
			product.Oid, KindCreate, ClassProduct,
			0, 1,
			self.sessionCtx.ClientId, product,
		)
		if err != nil {
			return err
		}
		events = append(events, event)
	}
	if len(events) == 0 {
		return nil
	}
	var reply saveObjectsReply
	if err := self.bus.Call(ctx, MethodSaveObjects, &saveObjectsArgs{Events: events}, &reply); err != nil {
		return err
	}
	for _, saved := range reply.Saved {
		if err := self.store.MarkSynced(ctx, saved.Oid, saved.Rev); err != nil {
			return err
		}
	}
	glog.Infof("[sess]re-pushed %d locally created objects\n", len(reply.Saved))
	return nil
}

// steady state: apply inbound events continuously through the single
// ordered queue. returns when the connection is lost or the session closes.
func (self *SyncSession) live() {
	for {
		select {
		case <-self.ctx.Done():
			return
		case <-self.connLost:
			return
		case project := <-self.switchRequests:
			if err := self.runStage(SessionSyncingActiveProject, func(ctx context.Context) error {
				return self.syncProjectCancelable(ctx, project)
			}); err != nil {
				if errors.Is(err, context.Canceled) {
					// superseded by a newer switch
					self.setState(SessionLive)
					continue
				}
				glog.Infof("[sess]project switch error = %s\n", err)
			}
			self.setState(SessionLive)
		case busEvent := <-self.events:
			if err := self.applyLive(busEvent); err != nil {
				glog.Infof("[sess]apply %s@%d error = %s\n", busEvent.Topic, busEvent.Position, err)
			}
		}
	}
}

func (self *SyncSession) applyLive(busEvent *BusEvent) error {
	ctx := self.ctx
	scope, ok := topicScope(busEvent.Topic)
	if !ok {
		return fmt.Errorf("unknown topic %s", busEvent.Topic)
	}
	cursor, err := self.store.Cursor(ctx, scope)
	if err != nil {
		return err
	}
	if busEvent.Position <= cursor {
		// redelivery
		glog.V(2).Infof("[sess]skip %s@%d (cursor %d)\n", busEvent.Topic, busEvent.Position, cursor)
		return nil
	}
	if cursor+1 < busEvent.Position {
		glog.Infof("[sess]gap on %s: %d -> %d\n", busEvent.Topic, cursor, busEvent.Position)
		return self.repairGap(ctx, busEvent.Topic, scope, cursor)
	}
	if _, err := self.resolver.Apply(ctx, busEvent.Event); err != nil {
		return err
	}
	return self.store.SetCursor(ctx, scope, busEvent.Position)
}

// replay the missed positions from the bus backlog. a truncated backlog
// cannot be trusted for a partial replay, so the scope falls back to a
// full reconciliation fetch.
func (self *SyncSession) repairGap(ctx context.Context, topic Topic, scope string, after uint64) error {
	events, complete, err := self.bus.Backlog(ctx, topic, after)
	if err == nil && complete {
		for _, busEvent := range events {
			if _, err := self.resolver.Apply(ctx, busEvent.Event); err != nil {
				return err
			}
			if err := self.store.SetCursor(ctx, scope, busEvent.Position); err != nil {
				return err
			}
		}
		glog.V(1).Infof("[sess]backlog replayed %d events on %s\n", len(events), topic)
		return nil
	}
	if err != nil {
		glog.Infof("[sess]backlog %s error = %s\n", topic, err)
	}
	return self.reconcileScope(ctx, topic)
}

func (self *SyncSession) reconcileScope(ctx context.Context, topic Topic) error {
	switch topic {
	case LibraryTopic:
		return self.pullLibraryDelta(ctx)
	case ParameterDefTopic:
		return self.syncParameterDefinitions(ctx)
	default:
		project, ok := topicProject(topic)
		if !ok {
			return fmt.Errorf("unknown topic %s", topic)
		}
		return self.syncProject(ctx, project)
	}
}

func (self *SyncSession) setState(state SessionState) {
	self.mutex.Lock()
	if self.state == state {
		self.mutex.Unlock()
		return
	}
	self.state = state
	self.mutex.Unlock()

	glog.V(1).Infof("[sess]state %s\n", state)
	for _, stateCallback := range self.stateCallbacks.Get() {
		func() {
			defer recover()
			stateCallback(state)
		}()
	}
}

func (self *SyncSession) reportError(syncError *SyncError) {
	for _, errorCallback := range self.errorCallbacks.Get() {
		func() {
			defer recover()
			errorCallback(syncError)
		}()
	}
}

func (self *SyncSession) reportPermissionFailure(authorizationError *AuthorizationError) {
	glog.Infof("[sess]permission failure: %s\n", authorizationError)
	for _, permissionCallback := range self.permissionCallbacks.Get() {
		func() {
			defer recover()
			permissionCallback(authorizationError)
		}()
	}
}

func topicScope(topic Topic) (string, bool) {
	switch topic {
	case LibraryTopic:
		return LibraryScope, true
	case ParameterDefTopic:
		return ParameterDefScope, true
	}
	if project, ok := topicProject(topic); ok {
		return ProjectScope(project), true
	}
	return "", false
}

func topicProject(topic Topic) (Oid, bool) {
	s := string(topic)
	if !strings.HasPrefix(s, "project.") || !strings.HasSuffix(s, ".events") {
		return Oid{}, false
	}
	projectStr := strings.TrimSuffix(strings.TrimPrefix(s, "project."), ".events")
	project, err := ParseOid(projectStr)
	if err != nil {
		return Oid{}, false
	}
	return project, true
}
