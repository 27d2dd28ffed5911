// Package adapter defines the polymorphic contract every protocol backend
// implements (Telegram, WhatsApp, the in-memory Dummy used by tests), the
// per-adapter lifecycle state machine, and the feature-flag set the
// cache/UI query to avoid issuing unsupported requests.
package adapter

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nchat-go/nchat/pkg/nchat/message"
	"github.com/nchat-go/nchat/pkg/nchat/status"
)

// Feature is a capability bit an adapter advertises via HasFeature.
type Feature int

const (
	// AutoGetChatsOnLogin means the adapter pushes the initial chat list
	// without being asked.
	AutoGetChatsOnLogin Feature = iota
	// MultipleProfiles means more than one account of this protocol can
	// be loaded concurrently.
	MultipleProfiles
	// EditMessagesCurrentDay means the backend only allows editing
	// messages sent earlier the same calendar day.
	EditMessagesCurrentDay
	// EditMessagesWithinTwoDays means edits are allowed up to 48 hours,
	// counted in whole days.
	EditMessagesWithinTwoDays
	// EditMessagesMax48Hrs means edits are allowed up to exactly 48
	// hours after send.
	EditMessagesMax48Hrs
	// TypingTimeout means the backend auto-expires typing indicators and
	// the core need not send an explicit "stopped typing" event.
	TypingTimeout
)

// State is a node in the per-adapter lifecycle state machine:
//
//	Uninitialized --loadProfile--> Loaded --login--> LoggingIn --(Connect ok)--> Online
//	                                                  |                              |
//	                                                  +--(Connect fail)--> LoginFailed
//	Online --logout--> Loaded --closeProfile--> Uninitialized
//	Online --network drop (transient)--> Reconnecting --resume--> Online
type State int32

const (
	Uninitialized State = iota
	Loaded
	LoggingIn
	Online
	LoginFailed
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case Loaded:
		return "Loaded"
	case LoggingIn:
		return "LoggingIn"
	case Online:
		return "Online"
	case LoginFailed:
		return "LoginFailed"
	case Reconnecting:
		return "Reconnecting"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// MessageHandler is the single callback every notification flows through.
// Per the contract, it is invoked only from the adapter's own worker
// goroutine, never synchronously from the caller of SendRequest.
type MessageHandler func(message.Notification)

// Adapter is the contract every protocol backend implements.
//
// Lifecycle obligations:
//   - the handler set via SetMessageHandler is called only from the
//     adapter's own worker goroutine;
//   - a successful Login eventually delivers exactly one
//     Connect{Success:true}; a failed login delivers
//     Connect{Success:false} without leaving the adapter in LoggingIn;
//   - after Logout returns, no further notifications are emitted;
//   - SendRequest on an unrecognized variant emits a matching failure
//     notification rather than dropping silently.
type Adapter interface {
	// SetupProfile performs interactive one-time registration (QR scan,
	// phone verification, ...) and writes durable state into
	// profilesDir/<profileId>. Returns the assigned ProfileId.
	SetupProfile(profilesDir string) (message.ProfileId, bool)

	// LoadProfile opens an existing profile directory. Idempotent
	// against cold start: calling it again after a crash must succeed.
	LoadProfile(profilesDir string, id message.ProfileId) bool

	// CloseProfile releases all resources held for the loaded profile.
	CloseProfile() bool

	Login() bool
	Logout() bool

	// SendRequest enqueues a request for asynchronous processing. It
	// never blocks.
	SendRequest(message.Request)

	SetMessageHandler(MessageHandler)

	HasFeature(Feature) bool

	GetProfileId() message.ProfileId
	GetProfileDisplayName() string
	GetSelfId() string

	// Status exposes the adapter's status register (Online, Fetching,
	// Sending, ...) for the UI to render presence and activity.
	Status() *status.Register
}

// Base provides the bookkeeping every adapter needs (state, profile
// identity, feature set, handler slot) so concrete adapters only
// implement protocol-specific behavior. Concrete adapters embed Base and
// call its helpers from their own Login/Logout/SendRequest.
type Base struct {
	profileId   message.ProfileId
	displayName string
	selfId      atomic.Value // string

	state atomic.Int32

	features map[Feature]bool
	statusReg *status.Register

	mu      sync.RWMutex
	handler MessageHandler
}

// NewBase constructs a Base advertising the given feature set.
func NewBase(features ...Feature) *Base {
	b := &Base{features: make(map[Feature]bool, len(features)), statusReg: status.New()}
	for _, f := range features {
		b.features[f] = true
	}
	b.state.Store(int32(Uninitialized))
	b.selfId.Store("")
	return b
}

// Status returns the adapter's status register.
func (b *Base) Status() *status.Register { return b.statusReg }

func (b *Base) SetIdentity(id message.ProfileId, displayName string) {
	b.profileId = id
	b.displayName = displayName
}

func (b *Base) SetSelfId(id string) { b.selfId.Store(id) }

func (b *Base) GetProfileId() message.ProfileId  { return b.profileId }
func (b *Base) GetProfileDisplayName() string    { return b.displayName }
func (b *Base) GetSelfId() string                { return b.selfId.Load().(string) }
func (b *Base) HasFeature(f Feature) bool        { return b.features[f] }

func (b *Base) State() State       { return State(b.state.Load()) }
func (b *Base) SetState(s State)   { b.state.Store(int32(s)) }

// CompareAndSetState performs an atomic state transition, returning false
// if the adapter was not in the expected state (a transient race between
// e.g. a network drop and an explicit Logout).
func (b *Base) CompareAndSetState(from, to State) bool {
	return b.state.CompareAndSwap(int32(from), int32(to))
}

func (b *Base) SetMessageHandler(h MessageHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
}

// Emit delivers a notification through the registered handler. Concrete
// adapters must call this only from their own worker goroutine.
func (b *Base) Emit(n message.Notification) {
	b.mu.RLock()
	h := b.handler
	b.mu.RUnlock()
	if h != nil {
		h(n)
	}
}

// UnsupportedRequest builds the generic failure notification emitted for
// a request variant the adapter does not recognize or does not support
// given its current feature set, per the "never drop silently" contract
// obligation.
func UnsupportedRequest(id message.ProfileId) message.Notification {
	return message.NewMessages{ProfileId: id, Success: false}
}
