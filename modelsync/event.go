package modelsync

import (
	"encoding/json"
	"fmt"
	"time"
)

type ChangeKind string

const (
	KindCreate ChangeKind = "create"
	KindUpdate ChangeKind = "update"
	KindDelete ChangeKind = "delete"
)

type ObjectClass string

const (
	ClassProject      ObjectClass = "project"
	ClassProduct      ObjectClass = "product"
	ClassAssemblyEdge ObjectClass = "edge"
	ClassParameterDef ObjectClass = "paramdef"
	// a parameter value edit on the owning object. the object rev advances.
	ClassParameter   ObjectClass = "param"
	ClassRequirement ObjectClass = "requirement"
)

// ordered per topic by the bus. consumers are idempotent on (Object, NewRev)
// to tolerate at-least-once redelivery.
type ChangeEvent struct {
	Object    Oid             `json:"object"`
	Kind      ChangeKind      `json:"kind"`
	Class     ObjectClass     `json:"class"`
	PriorRev  uint64          `json:"prior_rev"`
	NewRev    uint64          `json:"new_rev"`
	Origin    Oid             `json:"origin"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func NewChangeEvent(
	object Oid,
	kind ChangeKind,
	class ObjectClass,
	priorRev uint64,
	newRev uint64,
	origin Oid,
	payload any,
) (*ChangeEvent, error) {
	var payloadJson json.RawMessage
	if payload != nil {
		var err error
		payloadJson, err = json.Marshal(payload)
		if err != nil {
			return nil, err
		}
	}
	return &ChangeEvent{
		Object:    object,
		Kind:      kind,
		Class:     class,
		PriorRev:  priorRev,
		NewRev:    newRev,
		Origin:    origin,
		Timestamp: time.Now().UTC(),
		Payload:   payloadJson,
	}, nil
}

func RequireChangeEvent(
	object Oid,
	kind ChangeKind,
	class ObjectClass,
	priorRev uint64,
	newRev uint64,
	origin Oid,
	payload any,
) *ChangeEvent {
	event, err := NewChangeEvent(object, kind, class, priorRev, newRev, origin, payload)
	if err != nil {
		panic(err)
	}
	return event
}

// a parameter value edit carried as an update event on the owning object
type ParameterEdit struct {
	Symbol Symbol  `json:"symbol"`
	Value  float64 `json:"value"`
	Text   string  `json:"text,omitempty"`
}

func DecodePayload[T any](event *ChangeEvent) (*T, error) {
	if len(event.Payload) == 0 {
		return nil, fmt.Errorf("event %s %s/%s has no payload", event.Object, event.Class, event.Kind)
	}
	out := new(T)
	if err := json.Unmarshal(event.Payload, out); err != nil {
		return nil, err
	}
	return out, nil
}

// last applied event position per project/library scope, used to resume
// after reconnect without a full re-fetch when possible
type SyncCursor struct {
	Scope    string `json:"scope"`
	Position uint64 `json:"position"`
}

func ProjectScope(project Oid) string {
	return fmt.Sprintf("project.%s", project)
}

const LibraryScope = "library"
const ParameterDefScope = "parameterDefs"
