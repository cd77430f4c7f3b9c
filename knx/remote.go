package knx

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// RemoteAdapter accesses interface object properties of a remote device by
// exchanging property management services over a shared network link. The
// link stays under the caller's ownership: closing the adapter never closes
// the link, and a fresh adapter can be opened over the same link afterwards.
type RemoteAdapter struct {
	adapterCore

	link   Link
	device IndividualAddress

	cancelSub func()

	// object index -> object type, filled lazily for descriptions
	objectTypes map[int]int
}

var _ PropertyAdapter = (*RemoteAdapter)(nil)
var _ Authorizer = (*RemoteAdapter)(nil)

// NewRemoteAdapter creates a property adapter for the device reachable over
// link. onClose, if non-nil, receives the single close notification fired
// when the adapter closes, whether explicitly or because the link closed.
func NewRemoteAdapter(link Link, device IndividualAddress, onClose func(CloseEvent), opts ...AdapterOption) (*RemoteAdapter, error) {
	if link == nil {
		return nil, fmt.Errorf("knx: remote adapter requires a link")
	}
	if !link.IsOpen() {
		return nil, fmt.Errorf("%w: cannot open remote adapter", ErrLinkClosed)
	}

	options := defaultAdapterOptions()
	for _, opt := range opts {
		opt(options)
	}

	a := &RemoteAdapter{
		link:        link,
		device:      device,
		objectTypes: make(map[int]int),
	}
	a.init(onClose, options)
	a.cancelSub = link.OnClose(func(reason string) {
		a.shutdown(a, InitiatorExternal, reason)
	})

	a.logger.Debug("remote adapter opened", slog.String("device", device.String()))
	return a, nil
}

// Authorize runs the access elevation exchange with the configured key and
// returns the granted access level. Devices without the authorization feature
// do not answer; treat ErrTimeout as non-fatal and continue at the default
// level.
func (a *RemoteAdapter) Authorize(ctx context.Context, key AuthKey) (uint8, error) {
	asdu := append([]byte{0}, key[:]...)
	a.metrics.AuthorizeAttempts.Inc()
	resp, err := a.request(ctx, ServiceAuthorizeRequest, asdu)
	if err != nil {
		return 0, err
	}
	if len(resp) < 1 {
		return 0, fmt.Errorf("%w: empty authorize response", ErrInvalidResponse)
	}
	a.logger.Debug("authorized", slog.String("device", a.device.String()), slog.Int("level", int(resp[0])))
	return resp[0], nil
}

// GetProperty implements PropertyAdapter.
func (a *RemoteAdapter) GetProperty(ctx context.Context, objIndex, pid, start, count int) ([]byte, error) {
	asdu, err := propertyASDU(objIndex, pid, start, count, nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.request(ctx, ServicePropertyValueRead, asdu)
	if err != nil {
		return nil, err
	}
	data, err := parsePropertyResponse(objIndex, pid, resp)
	if err != nil {
		return nil, err
	}
	a.metrics.PropertyReads.Inc()
	return data, nil
}

// SetProperty implements PropertyAdapter.
func (a *RemoteAdapter) SetProperty(ctx context.Context, objIndex, pid, start, count int, data []byte) error {
	asdu, err := propertyASDU(objIndex, pid, start, count, data)
	if err != nil {
		return err
	}
	resp, err := a.request(ctx, ServicePropertyValueWrite, asdu)
	if err != nil {
		return err
	}
	echoed, err := parsePropertyResponse(objIndex, pid, resp)
	if err != nil {
		return err
	}
	if !bytes.Equal(echoed, data) {
		return fmt.Errorf("%w: write confirmation differs from written data", ErrInvalidResponse)
	}
	a.metrics.PropertyWrites.Inc()
	return nil
}

// GetDescription implements PropertyAdapter.
func (a *RemoteAdapter) GetDescription(ctx context.Context, objIndex, pid int) (Description, error) {
	return a.describe(ctx, []byte{byte(objIndex), byte(pid), 0})
}

// GetDescriptionByIndex implements PropertyAdapter.
func (a *RemoteAdapter) GetDescriptionByIndex(ctx context.Context, objIndex, propIndex int) (Description, error) {
	return a.describe(ctx, []byte{byte(objIndex), 0, byte(propIndex)})
}

func (a *RemoteAdapter) describe(ctx context.Context, asdu []byte) (Description, error) {
	objIndex := int(asdu[0])
	resp, err := a.request(ctx, ServicePropertyDescRead, asdu)
	if err != nil {
		return Description{}, err
	}
	ot, err := a.objectType(ctx, objIndex)
	if err != nil {
		return Description{}, err
	}
	d, err := parseDescription(ot, resp)
	if err != nil {
		return Description{}, err
	}
	a.metrics.DescriptionsRead.Inc()
	d.CurrentElements = a.currentElements(ctx, objIndex, d.PID)
	return d, nil
}

// objectType resolves and caches the object type of the instance at objIndex
// by reading its object type property.
func (a *RemoteAdapter) objectType(ctx context.Context, objIndex int) (int, error) {
	if ot, ok := a.objectTypes[objIndex]; ok {
		return ot, nil
	}
	data, err := a.GetProperty(ctx, objIndex, PIDObjectType, 1, 1)
	if err != nil {
		return 0, fmt.Errorf("object type of object index %d: %w", objIndex, err)
	}
	if len(data) < 2 {
		return 0, fmt.Errorf("%w: object type of %d bytes", ErrInvalidResponse, len(data))
	}
	ot := int(binary.BigEndian.Uint16(data))
	a.objectTypes[objIndex] = ot
	return ot, nil
}

// currentElements reads the current element count of a property, best effort:
// a failed read leaves the count at 0.
func (a *RemoteAdapter) currentElements(ctx context.Context, objIndex, pid int) int {
	data, err := a.GetProperty(ctx, objIndex, pid, 0, 1)
	if err != nil || len(data) < 2 {
		a.logger.Debug("current element count unavailable",
			slog.Int("object_index", objIndex), slog.Int("pid", pid))
		return 0
	}
	return int(binary.BigEndian.Uint16(data))
}

// Name implements PropertyAdapter.
func (a *RemoteAdapter) Name() string {
	return fmt.Sprintf("remote property services %s", a.device)
}

// Metrics returns the adapter's request metrics.
func (a *RemoteAdapter) Metrics() *Metrics {
	return a.metrics
}

// Close implements PropertyAdapter. The shared link stays open.
func (a *RemoteAdapter) Close() error {
	if a.shutdown(a, InitiatorUser, "user request") && a.cancelSub != nil {
		a.cancelSub()
	}
	return nil
}

// request runs one blocking service exchange, applying the adapter timeout
// when the caller's context has no deadline of its own.
func (a *RemoteAdapter) request(ctx context.Context, svc ServiceCode, asdu []byte) ([]byte, error) {
	if err := a.checkOpen(); err != nil {
		return nil, err
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	start := time.Now()
	a.metrics.RequestsSent.Inc()
	a.metrics.ActiveRequests.Inc()
	resp, err := a.link.Request(ctx, a.device, svc, asdu)
	a.metrics.ActiveRequests.Dec()
	a.metrics.RequestLatency.Record(time.Since(start))
	a.metrics.RecordActivity()

	// A request racing Close fails rather than delivering on a closed adapter.
	if a.closed.Load() {
		return nil, ErrClosed
	}
	if err != nil {
		if IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
			a.metrics.RequestsTimedOut.Inc()
			return nil, fmt.Errorf("%w: %s to %s", ErrTimeout, svc, a.device)
		}
		a.metrics.RequestsFailed.Inc()
		return nil, err
	}
	a.metrics.RequestsSucceeded.Inc()
	return resp, nil
}
