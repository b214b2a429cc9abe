package session

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// UnverifiedMessageBudget is how many refused sends an unverified peer gets
// before the session is forcibly disconnected.
const UnverifiedMessageBudget = 15

// Conn is the transport a session enhances. A failed send is a session drop,
// never retried at this layer.
type Conn interface {
	SendMessage(msg Message) bool
	Opened() bool
	Close()
	RemoteAddr() string
	RemotePort() uint16

	// Producer is the bulk-transfer resource, if a stream send is active.
	Producer() io.Closer
	SetProducer(io.Closer)
}

// Capabilities is the gating state of one session. There is a single session
// type: verified/encrypted behavior is just gating logic on this struct.
type Capabilities struct {
	Verified         bool
	UnverifiedBudget int
	CanBeUnverified  map[Type]struct{}
	CanBeUnencrypted map[Type]struct{}
}

// DefaultCapabilities allows the handshake messages themselves to travel
// unverified and unencrypted; everything else is strictly gated.
func DefaultCapabilities() *Capabilities {
	handshake := []Type{TypeDisconnect, TypeHello, TypeRandVal}
	unverified := make(map[Type]struct{}, len(handshake))
	unencrypted := make(map[Type]struct{}, len(handshake))
	for _, t := range handshake {
		unverified[t] = struct{}{}
		unencrypted[t] = struct{}{}
	}
	return &Capabilities{
		UnverifiedBudget: UnverifiedMessageBudget,
		CanBeUnverified:  unverified,
		CanBeUnencrypted: unencrypted,
	}
}

// Handler reacts to one inbound message type.
type Handler func(msg Message)

// Session is the stateful object for one live peer connection: it stamps
// activity, enforces the verification and encryption gates, and dispatches
// messages to registered handlers. It knows nothing about subtask semantics.
type Session struct {
	mu   sync.Mutex
	log  *zap.Logger
	conn Conn
	reg  *Registry

	address string
	port    uint16

	lastMessageTime time.Time
	disconnectSent  bool

	caps     *Capabilities
	handlers map[Type]Handler

	// Handshake state, filled in by the handshake collaborator.
	KeyID   string
	RandVal uint64
}

func New(conn Conn, reg *Registry, caps *Capabilities, log *zap.Logger) *Session {
	if caps == nil {
		caps = DefaultCapabilities()
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &Session{
		log:             log.Named("session"),
		conn:            conn,
		reg:             reg,
		address:         conn.RemoteAddr(),
		port:            conn.RemotePort(),
		lastMessageTime: time.Now(),
		caps:            caps,
		handlers:        make(map[Type]Handler),
		RandVal:         randomChallenge(),
	}
	s.handlers[TypeDisconnect] = s.reactToDisconnect
	if reg != nil {
		reg.addPending(s)
	}
	return s
}

func (s *Session) String() string {
	return fmt.Sprintf("Session with %s:%d", s.address, s.port)
}

func (s *Session) Address() string { return s.address }
func (s *Session) Port() uint16   { return s.port }

func (s *Session) LastMessageTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMessageTime
}

func (s *Session) Verified() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.caps.Verified
}

// SetVerified flips the authentication gate after the handshake collaborator
// succeeds, promoting the session to the active registry.
func (s *Session) SetVerified() {
	s.mu.Lock()
	s.caps.Verified = true
	s.mu.Unlock()
	if s.reg != nil {
		s.reg.promote(s)
	}
}

// RegisterHandler installs the reaction for one message type.
func (s *Session) RegisterHandler(t Type, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[t] = h
}

// Interpret reacts to an inbound message. The activity timestamp updates
// unconditionally; messages failing the validity gates disconnect the
// session and are not acted upon.
func (s *Session) Interpret(msg Message) {
	s.mu.Lock()
	s.lastMessageTime = time.Now()
	s.mu.Unlock()

	if !s.checkMsg(msg) {
		return
	}

	s.mu.Lock()
	handler := s.handlers[msg.Type()]
	s.mu.Unlock()

	if handler == nil {
		s.Disconnect(ReasonBadProtocol)
		return
	}
	handler(msg)
}

func (s *Session) checkMsg(msg Message) bool {
	if msg == nil {
		s.Disconnect(ReasonBadProtocol)
		return false
	}
	if !s.Verified() && !allowed(s.caps.CanBeUnverified, msg.Type()) {
		s.Disconnect(ReasonUnverified)
		return false
	}
	if !msg.Encrypted() && !allowed(s.caps.CanBeUnencrypted, msg.Type()) {
		s.Disconnect(ReasonBadProtocol)
		return false
	}
	return true
}

// Send transmits a message if the session has been verified or the message
// type is allowlisted. A refused send consumes one unit of the unverified
// budget; an exhausted budget disconnects the peer.
func (s *Session) Send(msg Message) {
	s.send(msg, false)
}

// SendUnverified transmits even on an unverified session, for the handshake
// collaborator.
func (s *Session) SendUnverified(msg Message) {
	s.send(msg, true)
}

func (s *Session) send(msg Message, allowUnverified bool) {
	if !s.canSend(msg, allowUnverified) {
		s.log.Info("connection not verified, not sending",
			zap.Stringer("type", msg.Type()),
			zap.String("address", s.address),
			zap.Uint16("port", s.port))

		s.mu.Lock()
		s.caps.UnverifiedBudget--
		exhausted := s.caps.UnverifiedBudget <= 0
		s.mu.Unlock()

		if exhausted {
			s.Disconnect(ReasonUnverified)
		}
		return
	}
	s.rawSend(msg)
}

func (s *Session) canSend(msg Message, allowUnverified bool) bool {
	return s.Verified() || allowUnverified || allowed(s.caps.CanBeUnverified, msg.Type())
}

func (s *Session) rawSend(msg Message) {
	if !s.conn.SendMessage(msg) {
		s.Dropped()
	}
}

// Disconnect sends a best-effort disconnect notice while the transport is
// still open, then tears the session down.
func (s *Session) Disconnect(reason DisconnectReason) {
	s.log.Info("sending disconnect message",
		zap.Stringer("reason", reason),
		zap.String("address", s.address),
		zap.Uint16("port", s.port))
	if s.conn.Opened() {
		s.sendDisconnect(reason)
		s.Dropped()
	}
}

// sendDisconnect delivers the notice at most once per session.
func (s *Session) sendDisconnect(reason DisconnectReason) {
	s.mu.Lock()
	alreadySent := s.disconnectSent
	s.disconnectSent = true
	s.mu.Unlock()

	if !alreadySent {
		s.rawSend(&Disconnect{Reason: reason})
	}
}

// Dropped closes the connection and removes the session from every registry.
func (s *Session) Dropped() {
	s.conn.Close()
	if s.reg != nil {
		s.reg.remove(s)
	}
}

// DataSent is the bulk-transfer completion hook: the producer resource is
// released.
func (s *Session) DataSent() {
	if p := s.conn.Producer(); p != nil {
		p.Close()
		s.conn.SetProducer(nil)
	}
}

// ProductionFailed is the bulk-transfer failure hook: the session drops.
func (s *Session) ProductionFailed() {
	s.Dropped()
}

// FullDataReceived is the inbound bulk-transfer completion hook.
func (s *Session) FullDataReceived() {
	s.log.Debug("full data received",
		zap.String("address", s.address),
		zap.Uint16("port", s.port))
}

func (s *Session) reactToDisconnect(msg Message) {
	disconnect, ok := msg.(*Disconnect)
	if !ok {
		s.Dropped()
		return
	}
	s.log.Info("received disconnect message",
		zap.Stringer("reason", disconnect.Reason),
		zap.String("address", s.address),
		zap.Uint16("port", s.port))
	s.Dropped()
}

func allowed(set map[Type]struct{}, t Type) bool {
	_, ok := set[t]
	return ok
}

func randomChallenge() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint64(buf[:])
}
