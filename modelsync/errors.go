package modelsync

import (
	"fmt"
)

// transient transport fault. retried with backoff, surfaced only
// when the attempt ceiling is exhausted.
type TransportError struct {
	Op  string
	Err error
}

func (self *TransportError) Error() string {
	return fmt.Sprintf("transport: %s: %s", self.Op, self.Err)
}

func (self *TransportError) Unwrap() error {
	return self.Err
}

// terminal for the session. never retried.
type AuthenticationError struct {
	Reason string
}

func (self *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication: %s", self.Reason)
}

// a specific write was denied. surfaced per object, session continues.
type AuthorizationError struct {
	Object Oid
	User   Oid
	Reason string
}

func (self *AuthorizationError) Error() string {
	return fmt.Sprintf("authorization: %s denied for %s: %s", self.Object, self.User, self.Reason)
}

// resolved automatically (last writer wins), logged, never surfaced as failure
type VersionConflictError struct {
	Object   Oid
	PriorRev uint64
	LocalRev uint64
}

func (self *VersionConflictError) Error() string {
	return fmt.Sprintf("version conflict: %s prior=%d local=%d", self.Object, self.PriorRev, self.LocalRev)
}

// structural edit rejected, operation is a no-op
type TypeMismatchError struct {
	Position Oid
	Want     ProductType
	Got      ProductType
}

func (self *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch at %s: want %s, got %s", self.Position, self.Want, self.Got)
}

// structural edit rejected, operation is a no-op
type CycleError struct {
	Parent Oid
	Child  Oid
}

func (self *CycleError) Error() string {
	return fmt.Sprintf("cycle: %s would become its own component via %s", self.Child, self.Parent)
}

// import-time schema version the client cannot read. aborts that import only.
type SchemaMigrationError struct {
	Version int
	Max     int
}

func (self *SchemaMigrationError) Error() string {
	return fmt.Sprintf("schema migration: document version %d exceeds supported %d", self.Version, self.Max)
}

// e.g. a cycle found during recomputation despite the graph guard.
// fatal to that recomputation pass, reported, does not crash the session.
type InternalConsistencyError struct {
	Object Oid
	Reason string
}

func (self *InternalConsistencyError) Error() string {
	return fmt.Sprintf("internal consistency: %s: %s", self.Object, self.Reason)
}

// terminal session failure after a stage exhausted its attempt ceiling
type SyncError struct {
	Stage    SessionState
	Attempts int
	Err      error
}

func (self *SyncError) Error() string {
	return fmt.Sprintf("sync failed in %s after %d attempts: %s", self.Stage, self.Attempts, self.Err)
}

func (self *SyncError) Unwrap() error {
	return self.Err
}
