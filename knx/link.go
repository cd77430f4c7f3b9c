// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package knx

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/edgeo/drivers/knx/knx/internal/transport"
)

// Management frame layout: a 6-byte header (header length 0x06, protocol
// version 0x10, 16-bit service code, 16-bit total frame length) followed by
// the body (sequence number, 16-bit device address, ASDU). The dedicated
// management connection addresses a single endpoint and sends device 0.
const (
	frameHeaderLen   = 0x06
	frameVersion     = 0x10
	frameBodyOffset  = 6
	frameMinTotalLen = frameBodyOffset + 3
)

func marshalFrame(svc ServiceCode, seq byte, device IndividualAddress, asdu []byte) []byte {
	total := frameMinTotalLen + len(asdu)
	buf := make([]byte, total)
	buf[0] = frameHeaderLen
	buf[1] = frameVersion
	binary.BigEndian.PutUint16(buf[2:], uint16(svc))
	binary.BigEndian.PutUint16(buf[4:], uint16(total))
	buf[6] = seq
	binary.BigEndian.PutUint16(buf[7:], uint16(device))
	copy(buf[9:], asdu)
	return buf
}

func parseFrame(buf []byte) (svc ServiceCode, seq byte, device IndividualAddress, asdu []byte, err error) {
	if len(buf) < frameMinTotalLen {
		return 0, 0, 0, nil, fmt.Errorf("%w: frame of %d bytes", ErrInvalidResponse, len(buf))
	}
	if buf[0] != frameHeaderLen || buf[1] != frameVersion {
		return 0, 0, 0, nil, fmt.Errorf("%w: bad frame header % X", ErrInvalidResponse, buf[:2])
	}
	if total := int(binary.BigEndian.Uint16(buf[4:])); total != len(buf) {
		return 0, 0, 0, nil, fmt.Errorf("%w: frame length %d, got %d bytes", ErrInvalidResponse, total, len(buf))
	}
	svc = ServiceCode(binary.BigEndian.Uint16(buf[2:]))
	seq = buf[6]
	device = IndividualAddress(binary.BigEndian.Uint16(buf[7:]))
	asdu = buf[9:]
	return svc, seq, device, asdu, nil
}

// linkOptions holds configuration for links and management connections.
type linkOptions struct {
	logger    *slog.Logger
	timeout   time.Duration
	localAddr string
}

func defaultLinkOptions() *linkOptions {
	return &linkOptions{
		logger:  slog.Default(),
		timeout: 3 * time.Second,
	}
}

// LinkOption is a functional option for DialLink and DialManagement.
type LinkOption func(*linkOptions)

// WithLinkLogger sets the logger for the link.
func WithLinkLogger(logger *slog.Logger) LinkOption {
	return func(o *linkOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithLinkTimeout sets the per-exchange response timeout.
func WithLinkTimeout(d time.Duration) LinkOption {
	return func(o *linkOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLocalAddress binds the local UDP socket to addr instead of an
// ephemeral port.
func WithLocalAddress(addr string) LinkOption {
	return func(o *linkOptions) {
		o.localAddr = addr
	}
}

// exchanger runs blocking request/response exchanges over one UDP socket and
// tracks the closed state with its notification subscribers. One exchange is
// in flight at a time; concurrent callers queue on the mutex.
type exchanger struct {
	tp      *transport.UDPTransport
	remote  *net.UDPAddr
	logger  *slog.Logger
	timeout time.Duration

	mu  sync.Mutex
	seq byte

	closed  atomic.Bool
	subMu   sync.Mutex
	subs    map[int]func(reason string)
	nextSub int
}

func dialExchanger(addr string, opts *linkOptions) (*exchanger, error) {
	remote, err := net.ResolveUDPAddr("udp4", ensurePort(addr))
	if err != nil {
		return nil, fmt.Errorf("knx: resolve %q: %w", addr, err)
	}
	tp := transport.NewUDPTransport(opts.localAddr)
	tp.SetReadTimeout(opts.timeout)
	tp.SetWriteTimeout(opts.timeout)
	if err := tp.Open(); err != nil {
		return nil, fmt.Errorf("knx: %w", err)
	}
	return &exchanger{
		tp:      tp,
		remote:  remote,
		logger:  opts.logger,
		timeout: opts.timeout,
		subs:    make(map[int]func(string)),
	}, nil
}

// ensurePort appends the default management port when addr carries none.
func ensurePort(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, strconv.Itoa(DefaultPort))
}

func (e *exchanger) isOpen() bool {
	return !e.closed.Load()
}

func (e *exchanger) exchange(ctx context.Context, device IndividualAddress, svc ServiceCode, asdu []byte) ([]byte, error) {
	if e.closed.Load() {
		return nil, ErrLinkClosed
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	want := responseFor(svc)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.seq++
	seq := e.seq
	frame := marshalFrame(svc, seq, device, asdu)

	e.logger.Debug("send management frame",
		slog.String("service", svc.String()),
		slog.String("device", device.String()),
		slog.Int("seq", int(seq)),
	)
	if err := e.tp.Send(ctx, e.remote, frame); err != nil {
		return nil, e.mapSendErr(err)
	}

	for {
		buf, from, err := e.tp.Receive(ctx)
		if err != nil {
			return nil, e.mapRecvErr(err, svc, device)
		}
		if !from.IP.Equal(e.remote.IP) {
			continue
		}
		gotSvc, gotSeq, gotDev, gotASDU, err := parseFrame(buf)
		if err != nil {
			e.logger.Debug("discarding malformed frame", slog.Any("error", err))
			continue
		}
		// A late response to an earlier timed-out exchange carries a stale
		// sequence number and is dropped here.
		if gotSeq != seq || gotSvc != want || gotDev != device {
			continue
		}
		return gotASDU, nil
	}
}

func (e *exchanger) mapSendErr(err error) error {
	if e.closed.Load() {
		return ErrLinkClosed
	}
	return fmt.Errorf("knx: send: %w", err)
}

func (e *exchanger) mapRecvErr(err error, svc ServiceCode, device IndividualAddress) error {
	if e.closed.Load() {
		return ErrLinkClosed
	}
	var nerr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
		return fmt.Errorf("%w: no %s response from %s", ErrTimeout, svc, device)
	}
	return fmt.Errorf("knx: receive: %w", err)
}

func (e *exchanger) onClose(fn func(reason string)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	e.subMu.Lock()
	defer e.subMu.Unlock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	return func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		delete(e.subs, id)
	}
}

func (e *exchanger) close(reason string) error {
	if e.closed.Swap(true) {
		return nil
	}
	err := e.tp.Close()

	e.subMu.Lock()
	subs := make([]func(string), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	e.subs = make(map[int]func(string))
	e.subMu.Unlock()

	for _, fn := range subs {
		fn(reason)
	}
	return err
}

// UDPLink is a shared network link to a gateway that routes management
// services to individually addressed devices. Several adapters may use one
// link; exchanges are serialized on the underlying socket.
type UDPLink struct {
	ex *exchanger
}

var _ Link = (*UDPLink)(nil)

// DialLink opens a link to the gateway at addr ("host[:port]", defaulting to
// the standard port).
func DialLink(addr string, opts ...LinkOption) (*UDPLink, error) {
	options := defaultLinkOptions()
	for _, opt := range opts {
		opt(options)
	}
	ex, err := dialExchanger(addr, options)
	if err != nil {
		return nil, err
	}
	options.logger.Info("link opened",
		slog.String("gateway", ex.remote.String()),
		slog.String("local", ex.tp.LocalAddr().String()),
	)
	return &UDPLink{ex: ex}, nil
}

// IsOpen implements Link.
func (l *UDPLink) IsOpen() bool { return l.ex.isOpen() }

// Request implements Link.
func (l *UDPLink) Request(ctx context.Context, device IndividualAddress, svc ServiceCode, asdu []byte) ([]byte, error) {
	return l.ex.exchange(ctx, device, svc, asdu)
}

// OnClose implements Link.
func (l *UDPLink) OnClose(fn func(reason string)) (cancel func()) {
	return l.ex.onClose(fn)
}

// Close closes the link. Adapters still attached observe an external closure.
func (l *UDPLink) Close() error {
	return l.ex.close("link closed")
}

// UDPManagementConn is a dedicated management connection to a single
// endpoint, used by the local adapter.
type UDPManagementConn struct {
	ex *exchanger
}

var _ ManagementConn = (*UDPManagementConn)(nil)

// DialManagement opens a management connection to the endpoint at addr.
func DialManagement(addr string, opts ...LinkOption) (*UDPManagementConn, error) {
	options := defaultLinkOptions()
	for _, opt := range opts {
		opt(options)
	}
	ex, err := dialExchanger(addr, options)
	if err != nil {
		return nil, err
	}
	options.logger.Info("management connection opened",
		slog.String("endpoint", ex.remote.String()),
		slog.String("local", ex.tp.LocalAddr().String()),
	)
	return &UDPManagementConn{ex: ex}, nil
}

// Request implements ManagementConn.
func (c *UDPManagementConn) Request(ctx context.Context, svc ServiceCode, asdu []byte) ([]byte, error) {
	return c.ex.exchange(ctx, 0, svc, asdu)
}

// OnClose implements ManagementConn.
func (c *UDPManagementConn) OnClose(fn func(reason string)) (cancel func()) {
	return c.ex.onClose(fn)
}

// Close implements ManagementConn.
func (c *UDPManagementConn) Close() error {
	return c.ex.close("connection closed")
}
