package knx

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Initiator identifies who caused an adapter to close.
type Initiator int

const (
	// InitiatorUser marks an explicit Close() by the owner of the adapter.
	InitiatorUser Initiator = iota
	// InitiatorExternal marks asynchronous closure of the underlying
	// connection by an external actor.
	InitiatorExternal
)

func (i Initiator) String() string {
	switch i {
	case InitiatorUser:
		return "user"
	case InitiatorExternal:
		return "external"
	default:
		return "unknown"
	}
}

// CloseEvent reports that an adapter transitioned to its terminal closed
// state. Source carries the adapter instance so an observer shared among
// several adapters can disambiguate.
type CloseEvent struct {
	Source    PropertyAdapter
	Initiator Initiator
	Reason    string
}

// CloseListener receives adapter close notifications.
type CloseListener interface {
	AdapterClosed(CloseEvent)
}

type closeListenerFunc struct {
	fn func(CloseEvent)
}

func (l *closeListenerFunc) AdapterClosed(e CloseEvent) { l.fn(e) }

// CloseListenerFunc wraps a plain function as a CloseListener. Each call
// yields a distinct listener identity.
func CloseListenerFunc(fn func(CloseEvent)) CloseListener {
	if fn == nil {
		return nil
	}
	return &closeListenerFunc{fn: fn}
}

// PropertyAdapter is the transport strategy for property access on one
// device: raw get/set/describe plus lifecycle. Implementations are not safe
// for concurrent use from multiple goroutines; callers needing concurrency
// must coordinate externally or use independent adapters.
//
// After Close, or after the underlying connection closed asynchronously,
// every operation fails with ErrClosed.
type PropertyAdapter interface {
	// GetProperty reads count elements of a property starting at the given
	// 1-based element index and returns the raw element data.
	GetProperty(ctx context.Context, objIndex, pid, start, count int) ([]byte, error)

	// SetProperty writes count elements of raw element data starting at the
	// given 1-based element index.
	SetProperty(ctx context.Context, objIndex, pid, start, count int, data []byte) error

	// GetDescription queries the description of the property with the given
	// PID.
	GetDescription(ctx context.Context, objIndex, pid int) (Description, error)

	// GetDescriptionByIndex queries the description of the property at the
	// given position in the object's property list. ErrPropertyNotFound
	// reports that no property exists at that index.
	GetDescriptionByIndex(ctx context.Context, objIndex, propIndex int) (Description, error)

	// Name returns a short identifier of the adapter's endpoint.
	Name() string

	// Close releases the adapter. Closing an already closed adapter has no
	// further effect and never delivers a second close notification.
	Close() error
}

// AuthKey is the 4-byte authorization key used to elevate the access level
// for the duration of a session.
type AuthKey [4]byte

// Authorizer is implemented by adapters supporting the access elevation
// exchange. Devices without the authorization feature let the exchange time
// out; when authorization is optional, callers treat ErrTimeout as non-fatal
// and continue at the default access level.
type Authorizer interface {
	Authorize(ctx context.Context, key AuthKey) (level uint8, err error)
}

// Link is the shared network link the remote adapter operates on. The link is
// owned by its creator: closing an adapter never closes the link, and several
// adapters may use one link concurrently. Request sends a management service
// request to the addressed device and blocks until the matching response
// arrives or the link's response timeout elapses, in which case it returns an
// error satisfying IsTimeout.
type Link interface {
	IsOpen() bool
	Request(ctx context.Context, device IndividualAddress, svc ServiceCode, asdu []byte) ([]byte, error)
	// OnClose registers a callback fired when the link closes; the returned
	// cancel function deregisters it.
	OnClose(fn func(reason string)) (cancel func())
}

// ManagementConn is the dedicated connection of the local adapter to a
// device-management endpoint. Unlike a Link it is owned by the adapter and
// addresses a single fixed endpoint.
type ManagementConn interface {
	Request(ctx context.Context, svc ServiceCode, asdu []byte) ([]byte, error)
	OnClose(fn func(reason string)) (cancel func())
	Close() error
}

// adapterCore holds the lifecycle state shared by both adapter variants:
// the open/closed flag and the single-shot close notification.
type adapterCore struct {
	closed    atomic.Bool
	notifyOne sync.Once

	listeners *EventListeners[CloseListener]
	logger    *slog.Logger
	metrics   *Metrics
	timeout   time.Duration
}

func (c *adapterCore) init(onClose func(CloseEvent), opts *adapterOptions) {
	c.logger = opts.logger
	c.metrics = NewMetrics()
	c.timeout = opts.timeout
	c.listeners = NewEventListeners[CloseListener](c.logger)
	c.listeners.Add(CloseListenerFunc(onClose))
}

func (c *adapterCore) checkOpen() error {
	if c.closed.Load() {
		return ErrClosed
	}
	return nil
}

// shutdown flips the adapter to closed and delivers the close notification
// exactly once across all closure paths. It reports whether this call
// performed the transition.
func (c *adapterCore) shutdown(src PropertyAdapter, initiator Initiator, reason string) bool {
	if c.closed.Swap(true) {
		return false
	}
	c.notifyOne.Do(func() {
		c.logger.Debug("adapter closed",
			slog.String("adapter", src.Name()),
			slog.String("initiator", initiator.String()),
			slog.String("reason", reason),
		)
		c.listeners.Fire(func(l CloseListener) {
			l.AdapterClosed(CloseEvent{Source: src, Initiator: initiator, Reason: reason})
		})
	})
	return true
}

const (
	maxStartIndex   = 0xFFF
	maxElementCount = 0x0F
)

// propertyASDU assembles the 4-byte property access header: object index,
// PID, 4-bit element count and 12-bit start index.
func propertyASDU(objIndex, pid, start, count int, data []byte) ([]byte, error) {
	if objIndex < 0 || objIndex > 0xFF {
		return nil, fmt.Errorf("knx: object index %d out of range", objIndex)
	}
	if pid < 0 || pid > 0xFF {
		return nil, fmt.Errorf("knx: property id %d out of range", pid)
	}
	if start < 0 || start > maxStartIndex {
		return nil, fmt.Errorf("knx: start index %d out of range", start)
	}
	if count < 0 || count > maxElementCount {
		return nil, fmt.Errorf("knx: element count %d out of range", count)
	}
	asdu := make([]byte, 4, 4+len(data))
	asdu[0] = byte(objIndex)
	asdu[1] = byte(pid)
	asdu[2] = byte(count<<4 | start>>8)
	asdu[3] = byte(start & 0xFF)
	return append(asdu, data...), nil
}

// parsePropertyResponse validates the response header against the request and
// returns the element data. A zero element count in the response is the
// device's negative confirmation.
func parsePropertyResponse(objIndex, pid int, asdu []byte) ([]byte, error) {
	if len(asdu) < 4 {
		return nil, fmt.Errorf("%w: property response of %d bytes", ErrInvalidResponse, len(asdu))
	}
	if int(asdu[0]) != objIndex || int(asdu[1]) != pid {
		return nil, fmt.Errorf("%w: response for object index %d pid %d, requested %d/%d",
			ErrInvalidResponse, asdu[0], asdu[1], objIndex, pid)
	}
	if asdu[2]>>4 == 0 {
		return nil, fmt.Errorf("%w: object index %d, pid %d", ErrAccessDenied, objIndex, pid)
	}
	return asdu[4:], nil
}
