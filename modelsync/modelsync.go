package modelsync

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// oid for objects owned by the platform itself (parameter definition library, org scopes)
var PlatformOid = Oid{}

// comparable
type Oid [16]byte

func NewOid() Oid {
	return Oid(ulid.Make())
}

func OidFromBytes(oidBytes []byte) (Oid, error) {
	if len(oidBytes) != 16 {
		return Oid{}, errors.New("Oid must be 16 bytes")
	}
	return Oid(oidBytes), nil
}

func RequireOidFromBytes(oidBytes []byte) Oid {
	oid, err := OidFromBytes(oidBytes)
	if err != nil {
		panic(err)
	}
	return oid
}

func ParseOid(oidStr string) (Oid, error) {
	return parseUuid(oidStr)
}

func RequireParseOid(oidStr string) Oid {
	oid, err := ParseOid(oidStr)
	if err != nil {
		panic(err)
	}
	return oid
}

func (self Oid) IsNil() bool {
	return self == Oid{}
}

func (self Oid) Bytes() []byte {
	return self[0:16]
}

func (self Oid) String() string {
	return encodeUuid(self)
}

func (self *Oid) MarshalJSON() ([]byte, error) {
	var buf [16]byte
	copy(buf[0:16], self[0:16])
	var buff bytes.Buffer
	buff.WriteByte('"')
	buff.WriteString(encodeUuid(buf))
	buff.WriteByte('"')
	return buff.Bytes(), nil
}

func (self *Oid) UnmarshalJSON(src []byte) error {
	if len(src) != 38 {
		return fmt.Errorf("invalid length for Oid: %v", len(src))
	}
	buf, err := parseUuid(string(src[1 : len(src)-1]))
	if err != nil {
		return err
	}
	*self = buf
	return nil
}

func parseUuid(src string) (dst [16]byte, err error) {
	switch len(src) {
	case 36:
		src = src[0:8] + src[9:13] + src[14:18] + src[19:23] + src[24:]
	case 32:
		// dashes already stripped, assume valid
	default:
		// assume invalid.
		return dst, fmt.Errorf("cannot parse Oid %v", src)
	}

	buf, err := hex.DecodeString(src)
	if err != nil {
		return dst, err
	}

	copy(dst[:], buf)
	return dst, err
}

func encodeUuid(src [16]byte) string {
	return fmt.Sprintf("%x-%x-%x-%x-%x", src[0:4], src[4:6], src[6:8], src[8:10], src[10:16])
}

// product type tag, e.g. "spacecraft", "instrument", "battery"
type ProductType string

// parameter symbol, e.g. "m" (mass), "P" (power), "R_D" (data rate)
// computed variants use suffixed symbols, e.g. "m_cbe", "m_mev"
type Symbol string

type Datatype string

const (
	DatatypeFloat Datatype = "float"
	DatatypeInt   Datatype = "int"
	DatatypeText  Datatype = "text"
	DatatypeBool  Datatype = "bool"
)

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleEngineer Role = "engineer"
	RoleObserver Role = "observer"
)

func (self Role) CanEdit() bool {
	return self == RoleAdmin || self == RoleEngineer
}

type LifecycleState string

const (
	// created locally, no authoritative revision acknowledged yet
	StateDraft LifecycleState = "draft"
	// an authoritative revision has been acknowledged (or the project is local)
	StateSynced LifecycleState = "synced"
)

type Project struct {
	Oid           Oid             `json:"oid"`
	HumanId       string          `json:"id"`
	Name          string          `json:"name"`
	Collaborative bool            `json:"collaborative"`
	Roles         map[string]Role `json:"roles,omitempty"`
}

func (self *Project) RoleOf(user Oid) (Role, bool) {
	role, ok := self.Roles[user.String()]
	return role, ok
}

type Product struct {
	Oid         Oid         `json:"oid"`
	HumanId     string      `json:"id"`
	Name        string      `json:"name"`
	Version     string      `json:"version,omitempty"`
	ProductType ProductType `json:"product_type"`
	Public      bool        `json:"public"`
	// owner scope: a project oid or an organization oid
	Owner      Oid       `json:"owner"`
	Creator    Oid       `json:"creator"`
	Modifier   Oid       `json:"modifier"`
	CreateTime time.Time `json:"create_time"`
	ModifyTime time.Time `json:"modify_time"`
	// monotonically increasing revision counter, advanced only by accepted writes
	Rev   uint64         `json:"rev"`
	State LifecycleState `json:"state"`
}

// parent product -> child product, or a TBD placeholder (nil child)
// with a required product type constraint
type AssemblyEdge struct {
	Oid    Oid `json:"oid"`
	Parent Oid `json:"parent"`
	// nil oid means TBD
	Child       Oid         `json:"child,omitempty"`
	ProductType ProductType `json:"product_type"`
	Quantity    float64     `json:"quantity"`
	Creator     Oid         `json:"creator"`
	Rev         uint64      `json:"rev"`
}

func (self *AssemblyEdge) IsTbd() bool {
	return self.Child.IsNil()
}

type ParameterDefinition struct {
	Symbol   Symbol   `json:"symbol"`
	Name     string   `json:"name,omitempty"`
	Datatype Datatype `json:"datatype"`
	// unit family, e.g. "mass", "power"; empty means dimensionless
	Dimension string `json:"dimension,omitempty"`
	// optional relation over sibling symbols of the same object,
	// e.g. "m_cbe * (1.0 + m_ctgcy)"; evaluated after sum roll-ups
	Expression string `json:"expression,omitempty"`
	Creator    Oid    `json:"creator"`
}

func (self *ParameterDefinition) IsRelation() bool {
	return self.Expression != ""
}

// stored in canonical units. computed values are written only by the
// roll-up engine and rejected as targets of direct edits.
type ParameterValue struct {
	Object   Oid     `json:"object"`
	Symbol   Symbol  `json:"symbol"`
	Value    float64 `json:"value"`
	Text     string  `json:"text,omitempty"`
	Computed bool    `json:"computed"`
}

type Requirement struct {
	Oid         Oid       `json:"oid"`
	Project     Oid       `json:"project"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Creator     Oid       `json:"creator"`
	Modifier    Oid       `json:"modifier"`
	CreateTime  time.Time `json:"create_time"`
	ModifyTime  time.Time `json:"modify_time"`
	Rev         uint64    `json:"rev"`
}

// explicit session context passed to every external operation,
// replacing any notion of a globally selected project
type SessionContext struct {
	User          Oid
	ClientId      Oid
	ActiveProject Oid
}
