// Package session implements the secure session protocol that transports
// subtask assignments and results between peers: typed messages, a binary
// wire codec, and per-connection gating that keeps unauthenticated or
// plaintext traffic away from task state.
package session

import (
	"github.com/todun/golem/resource"
	"github.com/todun/golem/task"
)

// Type identifies a message on the wire.
type Type uint8

const (
	TypeDisconnect Type = iota
	TypeHello
	TypeRandVal
	TypeWantResource
	TypeDeltaParts
	TypeTaskToCompute
	TypeReportComputedTask
	TypeSubtaskResult
	TypeSubtaskResultRejected
)

func (t Type) String() string {
	switch t {
	case TypeDisconnect:
		return "Disconnect"
	case TypeHello:
		return "Hello"
	case TypeRandVal:
		return "RandVal"
	case TypeWantResource:
		return "WantResource"
	case TypeDeltaParts:
		return "DeltaParts"
	case TypeTaskToCompute:
		return "TaskToCompute"
	case TypeReportComputedTask:
		return "ReportComputedTask"
	case TypeSubtaskResult:
		return "SubtaskResult"
	case TypeSubtaskResultRejected:
		return "SubtaskResultRejected"
	default:
		return "Unknown"
	}
}

// DisconnectReason is carried on a Disconnect message.
type DisconnectReason uint8

const (
	ReasonBadProtocol DisconnectReason = iota
	ReasonUnverified
	ReasonNoMoreMessages
	ReasonTimeout
	ReasonTooManySessions
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonBadProtocol:
		return "BadProtocol"
	case ReasonUnverified:
		return "Unverified"
	case ReasonNoMoreMessages:
		return "NoMoreMessages"
	case ReasonTimeout:
		return "Timeout"
	case ReasonTooManySessions:
		return "TooManySessions"
	default:
		return "Unknown"
	}
}

// Message is a typed, named protocol unit. The encrypted flag is transport
// confidentiality state carried on the message itself, set by the connection
// layer on receive.
type Message interface {
	Type() Type
	Encrypted() bool
	SetEncrypted(bool)

	marshalBody(p *packer)
	unmarshalBody(p *packer)
}

type baseMessage struct {
	encrypted bool
}

func (m *baseMessage) Encrypted() bool     { return m.encrypted }
func (m *baseMessage) SetEncrypted(v bool) { m.encrypted = v }

// Disconnect tells the peer the session is being torn down and why.
type Disconnect struct {
	baseMessage
	Reason DisconnectReason
}

func (*Disconnect) Type() Type { return TypeDisconnect }

// Hello opens the handshake: it travels unverified and unencrypted by
// allowlist.
type Hello struct {
	baseMessage
	NodeName string
	NodeID   string
	KeyID    string
	Port     uint16
	RandVal  uint64
}

func (*Hello) Type() Type { return TypeHello }

// RandVal echoes the challenge from Hello to prove key possession.
type RandVal struct {
	baseMessage
	RandVal uint64
}

func (*RandVal) Type() Type { return TypeRandVal }

// WantResource asks the task owner for resources in a chosen encoding.
type WantResource struct {
	baseMessage
	TaskID string
	Kind   uint8
}

func (*WantResource) Type() Type { return TypeWantResource }

// DeltaParts answers WantResource with the files the worker is missing.
type DeltaParts struct {
	baseMessage
	TaskID string
	Parts  []resource.FileEntry
}

func (*DeltaParts) Type() Type { return TypeDeltaParts }

// TaskToCompute carries a subtask assignment to a worker.
type TaskToCompute struct {
	baseMessage
	Assignment task.Assignment
}

func (*TaskToCompute) Type() Type { return TypeTaskToCompute }

// ReportComputedTask announces that a result transfer is about to begin.
type ReportComputedTask struct {
	baseMessage
	SubtaskID  string
	ResultKind uint8
}

func (*ReportComputedTask) Type() Type { return TypeReportComputedTask }

// SubtaskResult delivers the computed results for a subtask.
type SubtaskResult struct {
	baseMessage
	SubtaskID  string
	ResultKind uint8
	Files      []string
	Blobs      [][]byte
}

func (*SubtaskResult) Type() Type { return TypeSubtaskResult }

// SubtaskResultRejected tells the worker its results were not accepted.
type SubtaskResultRejected struct {
	baseMessage
	SubtaskID string
}

func (*SubtaskResultRejected) Type() Type { return TypeSubtaskResultRejected }
