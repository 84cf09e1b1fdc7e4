package modelsync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/golang/glog"
)

type Topic string

func ProjectTopic(project Oid) Topic {
	return Topic(fmt.Sprintf("project.%s.events", project))
}

const LibraryTopic = Topic("library.events")
const ParameterDefTopic = Topic("parameterDefs.events")

// an event as delivered by the bus: at-least-once, ordered within a topic
// but not across topics, with a per-topic position for cursor tracking
type BusEvent struct {
	Topic    Topic        `json:"topic"`
	Position uint64       `json:"position"`
	Event    *ChangeEvent `json:"event"`
}

type BusEventFunction func(busEvent *BusEvent)
type ConnectivityFunction func(connected bool)

type SessionAuth struct {
	Token string
	// instance of the local replica; one user may run several
	ClientId   Oid
	AppVersion string
}

// the sync session manager is the only caller. Connect blocks until the
// auth handshake completes or fails terminally.
type BusTransport interface {
	Connect(ctx context.Context, auth *SessionAuth) error
	Disconnect()
	Subscribe(ctx context.Context, topic Topic) error
	Unsubscribe(ctx context.Context, topic Topic) error
	Publish(ctx context.Context, topic Topic, event *ChangeEvent) error
	// events with positions strictly after `after`. an empty result with
	// `complete` false means the backlog is gone and the caller must run a
	// full reconciliation fetch for the scope instead.
	Backlog(ctx context.Context, topic Topic, after uint64) (events []*BusEvent, complete bool, err error)
	// request/response to the repository (roles, snapshots, authoritative
	// oid sets, object saves)
	Call(ctx context.Context, method string, args any, reply any) error
	AddEventCallback(eventCallback BusEventFunction) func()
	AddConnectivityCallback(connectivityCallback ConnectivityFunction) func()
}

type WsBusSettings struct {
	WsHandshakeTimeout time.Duration
	AuthTimeout        time.Duration
	ReconnectTimeout   time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
	CallTimeout        time.Duration
	SendBufferSize     int
}

func DefaultWsBusSettings() *WsBusSettings {
	return &WsBusSettings{
		WsHandshakeTimeout: 2 * time.Second,
		AuthTimeout:        5 * time.Second,
		ReconnectTimeout:   5 * time.Second,
		PingTimeout:        1 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        15 * time.Second,
		CallTimeout:        30 * time.Second,
		SendBufferSize:     32,
	}
}

// wire envelope. one frame type per concern keeps the read pump a single
// ordered dispatch loop, which preserves per-topic event order.
type busFrame struct {
	Type     string          `json:"type"`
	Id       uint64          `json:"id,omitempty"`
	Topic    Topic           `json:"topic,omitempty"`
	Position uint64          `json:"position,omitempty"`
	Method   string          `json:"method,omitempty"`
	Args     json.RawMessage `json:"args,omitempty"`
	Result   json.RawMessage `json:"result,omitempty"`
	Error    string          `json:"error,omitempty"`
	Event    *ChangeEvent    `json:"event,omitempty"`
	Events   []*BusEvent     `json:"events,omitempty"`
	Complete bool            `json:"complete,omitempty"`
	Token    string          `json:"token,omitempty"`
	ClientId string          `json:"client_id,omitempty"`
	Version  string          `json:"version,omitempty"`
}

const (
	frameAuth        = "auth"
	frameEvent       = "event"
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	framePublish     = "publish"
	frameBacklog     = "backlog"
	frameCall        = "call"
	frameReply       = "reply"
)

type WsBus struct {
	ctx    context.Context
	cancel context.CancelFunc

	platformUrl string
	settings    *WsBusSettings

	eventCallbacks        *CallbackList[BusEventFunction]
	connectivityCallbacks *CallbackList[ConnectivityFunction]

	mutex     sync.Mutex
	send      chan *busFrame
	pending   map[uint64]chan *busFrame
	nextId    uint64
	connected bool
}

func NewWsBusWithDefaults(ctx context.Context, platformUrl string) *WsBus {
	return NewWsBus(ctx, platformUrl, DefaultWsBusSettings())
}

func NewWsBus(ctx context.Context, platformUrl string, settings *WsBusSettings) *WsBus {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &WsBus{
		ctx:                   cancelCtx,
		cancel:                cancel,
		platformUrl:           platformUrl,
		settings:              settings,
		eventCallbacks:        NewCallbackList[BusEventFunction](),
		connectivityCallbacks: NewCallbackList[ConnectivityFunction](),
		pending:               map[uint64]chan *busFrame{},
	}
}

func (self *WsBus) AddEventCallback(eventCallback BusEventFunction) func() {
	callbackId := self.eventCallbacks.Add(eventCallback)
	return func() {
		self.eventCallbacks.Remove(callbackId)
	}
}

func (self *WsBus) AddConnectivityCallback(connectivityCallback ConnectivityFunction) func() {
	callbackId := self.connectivityCallbacks.Add(connectivityCallback)
	return func() {
		self.connectivityCallbacks.Remove(callbackId)
	}
}

func (self *WsBus) Connect(ctx context.Context, auth *SessionAuth) error {
	dialer := &websocket.Dialer{
		HandshakeTimeout: self.settings.WsHandshakeTimeout,
	}
	ws, err := TraceWithReturnError(fmt.Sprintf("[bus]dial %s", auth.ClientId), func() (*websocket.Conn, error) {
		ws, _, err := dialer.DialContext(ctx, self.platformUrl, nil)
		return ws, err
	})
	if err != nil {
		return &TransportError{Op: "dial", Err: err}
	}

	success := false
	defer func() {
		if !success {
			ws.Close()
		}
	}()

	authFrame := &busFrame{
		Type:     frameAuth,
		Token:    auth.Token,
		ClientId: auth.ClientId.String(),
		Version:  auth.AppVersion,
	}
	authBytes, err := json.Marshal(authFrame)
	if err != nil {
		return err
	}
	ws.SetWriteDeadline(time.Now().Add(self.settings.AuthTimeout))
	if err := ws.WriteMessage(websocket.TextMessage, authBytes); err != nil {
		return &TransportError{Op: "auth write", Err: err}
	}
	ws.SetReadDeadline(time.Now().Add(self.settings.AuthTimeout))
	_, message, err := ws.ReadMessage()
	if err != nil {
		return &TransportError{Op: "auth read", Err: err}
	}
	var reply busFrame
	if err := json.Unmarshal(message, &reply); err != nil {
		return &TransportError{Op: "auth decode", Err: err}
	}
	if reply.Type != frameAuth {
		return &AuthenticationError{Reason: fmt.Sprintf("unexpected %s frame", reply.Type)}
	}
	if reply.Error != "" {
		// terminal, never retried
		return &AuthenticationError{Reason: reply.Error}
	}

	send := make(chan *busFrame, self.settings.SendBufferSize)
	self.mutex.Lock()
	self.send = send
	self.connected = true
	self.mutex.Unlock()
	self.connectivity(true)

	success = true
	go HandleError(func() {
		self.run(ws, send)
	})
	return nil
}

func (self *WsBus) run(ws *websocket.Conn, send chan *busFrame) {
	handleCtx, handleCancel := context.WithCancel(self.ctx)
	defer func() {
		handleCancel()
		ws.Close()

		self.mutex.Lock()
		if self.send == send {
			self.send = nil
			self.connected = false
		}
		pending := self.pending
		self.pending = map[uint64]chan *busFrame{}
		self.mutex.Unlock()

		for _, replyChannel := range pending {
			close(replyChannel)
		}
		self.connectivity(false)
	}()

	// write pump
	go HandleError(func() {
		defer handleCancel()
		for {
			select {
			case <-handleCtx.Done():
				return
			case frame, ok := <-send:
				if !ok {
					return
				}
				message, err := json.Marshal(frame)
				if err != nil {
					glog.Infof("[bus]encode error = %s\n", err)
					continue
				}
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.TextMessage, message); err != nil {
					// a websocket deadline timeout cannot be recovered
					glog.Infof("[bus]-> error = %s\n", err)
					return
				}
				glog.V(2).Infof("[bus]-> %s\n", frame.Type)
			case <-time.After(self.settings.PingTimeout):
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.TextMessage, []byte("{}")); err != nil {
					return
				}
			}
		}
	})

	// read pump. events dispatch in read order, preserving per-topic order.
	for {
		select {
		case <-handleCtx.Done():
			return
		default:
		}

		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		_, message, err := ws.ReadMessage()
		if err != nil {
			glog.Infof("[bus]<- error = %s\n", err)
			return
		}
		var frame busFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			glog.Infof("[bus]<- decode error = %s\n", err)
			continue
		}
		switch frame.Type {
		case "":
			// ping
			glog.V(2).Infof("[bus]ping<-\n")
		case frameEvent:
			busEvent := &BusEvent{
				Topic:    frame.Topic,
				Position: frame.Position,
				Event:    frame.Event,
			}
			glog.V(2).Infof("[bus]<- event %s@%d\n", frame.Topic, frame.Position)
			self.event(busEvent)
		case frameReply:
			self.mutex.Lock()
			replyChannel, ok := self.pending[frame.Id]
			if ok {
				delete(self.pending, frame.Id)
			}
			self.mutex.Unlock()
			if ok {
				replyChannel <- &frame
				close(replyChannel)
			}
		default:
			glog.V(2).Infof("[bus]<- other=%s\n", frame.Type)
		}
	}
}

func (self *WsBus) event(busEvent *BusEvent) {
	for _, eventCallback := range self.eventCallbacks.Get() {
		func() {
			defer recover()
			eventCallback(busEvent)
		}()
	}
}

func (self *WsBus) connectivity(connected bool) {
	for _, connectivityCallback := range self.connectivityCallbacks.Get() {
		func() {
			defer recover()
			connectivityCallback(connected)
		}()
	}
}

// send a request frame and wait for the correlated reply
func (self *WsBus) request(ctx context.Context, frame *busFrame) (*busFrame, error) {
	self.mutex.Lock()
	send := self.send
	if send == nil {
		self.mutex.Unlock()
		return nil, &TransportError{Op: frame.Type, Err: fmt.Errorf("not connected")}
	}
	self.nextId += 1
	frame.Id = self.nextId
	replyChannel := make(chan *busFrame, 1)
	self.pending[frame.Id] = replyChannel
	self.mutex.Unlock()

	select {
	case send <- frame:
	case <-ctx.Done():
		self.dropPending(frame.Id)
		return nil, ctx.Err()
	case <-self.ctx.Done():
		self.dropPending(frame.Id)
		return nil, &TransportError{Op: frame.Type, Err: fmt.Errorf("bus closed")}
	}

	select {
	case reply, ok := <-replyChannel:
		if !ok {
			return nil, &TransportError{Op: frame.Type, Err: fmt.Errorf("connection lost")}
		}
		if reply.Error != "" {
			return nil, &TransportError{Op: frame.Type, Err: fmt.Errorf("%s", reply.Error)}
		}
		return reply, nil
	case <-ctx.Done():
		self.dropPending(frame.Id)
		return nil, ctx.Err()
	case <-time.After(self.settings.CallTimeout):
		self.dropPending(frame.Id)
		return nil, &TransportError{Op: frame.Type, Err: fmt.Errorf("call timeout")}
	}
}

func (self *WsBus) dropPending(id uint64) {
	self.mutex.Lock()
	delete(self.pending, id)
	self.mutex.Unlock()
}

func (self *WsBus) Subscribe(ctx context.Context, topic Topic) error {
	_, err := self.request(ctx, &busFrame{Type: frameSubscribe, Topic: topic})
	return err
}

func (self *WsBus) Unsubscribe(ctx context.Context, topic Topic) error {
	_, err := self.request(ctx, &busFrame{Type: frameUnsubscribe, Topic: topic})
	return err
}

func (self *WsBus) Publish(ctx context.Context, topic Topic, event *ChangeEvent) error {
	_, err := self.request(ctx, &busFrame{Type: framePublish, Topic: topic, Event: event})
	return err
}

func (self *WsBus) Backlog(ctx context.Context, topic Topic, after uint64) ([]*BusEvent, bool, error) {
	reply, err := self.request(ctx, &busFrame{Type: frameBacklog, Topic: topic, Position: after})
	if err != nil {
		return nil, false, err
	}
	return reply.Events, reply.Complete, nil
}

func (self *WsBus) Call(ctx context.Context, method string, args any, reply any) error {
	argsJson, err := json.Marshal(args)
	if err != nil {
		return err
	}
	replyFrame, err := self.request(ctx, &busFrame{
		Type:   frameCall,
		Method: method,
		Args:   argsJson,
	})
	if err != nil {
		return err
	}
	if reply == nil {
		return nil
	}
	if len(replyFrame.Result) == 0 {
		return &TransportError{Op: method, Err: fmt.Errorf("empty result")}
	}
	return json.Unmarshal(replyFrame.Result, reply)
}

func (self *WsBus) Disconnect() {
	self.cancel()
}
