package knx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// LocalAdapter accesses interface object properties over a dedicated
// management connection to a single endpoint. Unlike the remote adapter it
// owns its connection: closing the adapter closes the connection.
//
// Management endpoints answer description queries in a reduced form that
// carries the object type and the current element count but no property data
// type and no access levels. Descriptions returned by this adapter therefore
// report PDTUnknown and zero access levels.
type LocalAdapter struct {
	adapterCore

	conn      ManagementConn
	endpoint  string
	cancelSub func()
}

var _ PropertyAdapter = (*LocalAdapter)(nil)

// NewLocalAdapter creates a property adapter over an established management
// connection. The adapter takes ownership of conn.
func NewLocalAdapter(conn ManagementConn, onClose func(CloseEvent), opts ...AdapterOption) (*LocalAdapter, error) {
	return newLocalAdapter(conn, "management connection", onClose, opts...)
}

// DialLocal connects to the management endpoint at addr ("host[:port]",
// defaulting to the standard port) and returns an adapter over the new
// connection.
func DialLocal(addr string, onClose func(CloseEvent), opts ...AdapterOption) (*LocalAdapter, error) {
	options := defaultAdapterOptions()
	for _, opt := range opts {
		opt(options)
	}
	conn, err := DialManagement(addr,
		WithLinkLogger(options.logger), WithLinkTimeout(options.timeout))
	if err != nil {
		return nil, err
	}
	return newLocalAdapter(conn, addr, onClose, opts...)
}

func newLocalAdapter(conn ManagementConn, endpoint string, onClose func(CloseEvent), opts ...AdapterOption) (*LocalAdapter, error) {
	if conn == nil {
		return nil, fmt.Errorf("knx: local adapter requires a management connection")
	}

	options := defaultAdapterOptions()
	for _, opt := range opts {
		opt(options)
	}

	a := &LocalAdapter{
		conn:     conn,
		endpoint: endpoint,
	}
	a.init(onClose, options)
	a.cancelSub = conn.OnClose(func(reason string) {
		a.shutdown(a, InitiatorExternal, reason)
	})

	a.logger.Debug("local adapter opened", slog.String("endpoint", endpoint))
	return a, nil
}

// GetProperty implements PropertyAdapter.
func (a *LocalAdapter) GetProperty(ctx context.Context, objIndex, pid, start, count int) ([]byte, error) {
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
func (a *LocalAdapter) SetProperty(ctx context.Context, objIndex, pid, start, count int, data []byte) error {
	asdu, err := propertyASDU(objIndex, pid, start, count, data)
	if err != nil {
		return err
	}
	resp, err := a.request(ctx, ServicePropertyValueWrite, asdu)
	if err != nil {
		return err
	}
	if _, err := parsePropertyResponse(objIndex, pid, resp); err != nil {
		return err
	}
	a.metrics.PropertyWrites.Inc()
	return nil
}

// GetDescription implements PropertyAdapter.
func (a *LocalAdapter) GetDescription(ctx context.Context, objIndex, pid int) (Description, error) {
	d, err := a.describe(ctx, []byte{byte(objIndex), byte(pid), 0})
	if err != nil {
		return Description{}, err
	}
	if d.PID != pid {
		return Description{}, fmt.Errorf("%w: description for pid %d, requested %d",
			ErrInvalidResponse, d.PID, pid)
	}
	return d, nil
}

// GetDescriptionByIndex implements PropertyAdapter.
func (a *LocalAdapter) GetDescriptionByIndex(ctx context.Context, objIndex, propIndex int) (Description, error) {
	d, err := a.describe(ctx, []byte{byte(objIndex), 0, byte(propIndex)})
	if err != nil {
		return Description{}, err
	}
	if d.PropIndex != propIndex {
		return Description{}, fmt.Errorf("%w: description for property index %d, requested %d",
			ErrInvalidResponse, d.PropIndex, propIndex)
	}
	return d, nil
}

func (a *LocalAdapter) describe(ctx context.Context, asdu []byte) (Description, error) {
	resp, err := a.request(ctx, ServicePropertyDescRead, asdu)
	if err != nil {
		return Description{}, err
	}
	d, err := parseLocalDescription(resp)
	if err != nil {
		return Description{}, err
	}
	a.metrics.DescriptionsRead.Inc()
	return d, nil
}

// Name implements PropertyAdapter.
func (a *LocalAdapter) Name() string {
	return fmt.Sprintf("local device management %s", a.endpoint)
}

// Metrics returns the adapter's request metrics.
func (a *LocalAdapter) Metrics() *Metrics {
	return a.metrics
}

// Close implements PropertyAdapter, closing the owned connection.
func (a *LocalAdapter) Close() error {
	if !a.shutdown(a, InitiatorUser, "user request") {
		return nil
	}
	if a.cancelSub != nil {
		a.cancelSub()
	}
	return a.conn.Close()
}

func (a *LocalAdapter) request(ctx context.Context, svc ServiceCode, asdu []byte) ([]byte, error) {
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
	resp, err := a.conn.Request(ctx, svc, asdu)
	a.metrics.ActiveRequests.Dec()
	a.metrics.RequestLatency.Record(time.Since(start))
	a.metrics.RecordActivity()

	if a.closed.Load() {
		return nil, ErrClosed
	}
	if err != nil {
		if IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
			a.metrics.RequestsTimedOut.Inc()
			return nil, fmt.Errorf("%w: %s to %s", ErrTimeout, svc, a.endpoint)
		}
		a.metrics.RequestsFailed.Inc()
		return nil, err
	}
	a.metrics.RequestsSucceeded.Inc()
	return resp, nil
}
