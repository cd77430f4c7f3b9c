package knx

import (
	"context"
	"encoding/binary"
	"fmt"
	"testing"
)

// fakeProp is one property of a fake device, its elements stored individually.
type fakeProp struct {
	pdt          int
	maxElems     int
	readLevel    int
	writeLevel   int
	writeEnabled bool
	elements     [][]byte

	// silent makes every access time out, deny makes it fail with a zero
	// element count.
	silent bool
	deny   bool
}

type fakeObject struct {
	objectType int
	order      []int
	props      map[int]*fakeProp
}

// fakeDevice implements the device side of the property services. With
// reduced set, description responses use the local management form.
type fakeDevice struct {
	objects []*fakeObject
	authKey AuthKey
	reduced bool

	authRequests int
}

func newFakeDevice(objectTypes ...int) *fakeDevice {
	d := &fakeDevice{}
	for _, ot := range objectTypes {
		obj := &fakeObject{objectType: ot, props: map[int]*fakeProp{}}
		d.objects = append(d.objects, obj)
	}
	for i, obj := range d.objects {
		otData := make([]byte, 2)
		binary.BigEndian.PutUint16(otData, uint16(obj.objectType))
		d.addProp(i, PIDObjectType, &fakeProp{
			pdt: pdtUnsignedInt, maxElems: 1, elements: [][]byte{otData},
		})
	}
	// IO list on the device object, one element per interface object
	ioList := &fakeProp{pdt: pdtUnsignedInt, maxElems: 0xFF}
	for _, obj := range d.objects {
		e := make([]byte, 2)
		binary.BigEndian.PutUint16(e, uint16(obj.objectType))
		ioList.elements = append(ioList.elements, e)
	}
	d.addProp(0, PIDIOList, ioList)
	return d
}

func (d *fakeDevice) addProp(objIndex, pid int, p *fakeProp) {
	obj := d.objects[objIndex]
	obj.props[pid] = p
	obj.order = append(obj.order, pid)
}

func (d *fakeDevice) handle(svc ServiceCode, asdu []byte) ([]byte, error) {
	switch svc {
	case ServicePropertyValueRead, ServicePropertyValueWrite:
		return d.handleProperty(svc, asdu)
	case ServicePropertyDescRead:
		return d.handleDescription(asdu)
	case ServiceAuthorizeRequest:
		d.authRequests++
		var key AuthKey
		copy(key[:], asdu[1:])
		if key == d.authKey {
			return []byte{1}, nil
		}
		return []byte{15}, nil
	}
	return nil, fmt.Errorf("unexpected service %s", svc)
}

func (d *fakeDevice) handleProperty(svc ServiceCode, asdu []byte) ([]byte, error) {
	objIndex, pid := int(asdu[0]), int(asdu[1])
	count := int(asdu[2] >> 4)
	start := int(asdu[2]&0x0F)<<8 | int(asdu[3])

	deny := []byte{asdu[0], asdu[1], 0, asdu[3]}
	if objIndex >= len(d.objects) {
		return deny, nil
	}
	prop, ok := d.objects[objIndex].props[pid]
	if !ok {
		return deny, nil
	}
	if prop.silent {
		return nil, fmt.Errorf("%w: device not answering", ErrTimeout)
	}
	if prop.deny {
		return deny, nil
	}

	if svc == ServicePropertyValueRead {
		if start == 0 {
			resp := []byte{asdu[0], asdu[1], 1 << 4, 0, 0, 0}
			binary.BigEndian.PutUint16(resp[4:], uint16(len(prop.elements)))
			return resp, nil
		}
		if start-1+count > len(prop.elements) {
			return deny, nil
		}
		resp := []byte{asdu[0], asdu[1], asdu[2], asdu[3]}
		for _, e := range prop.elements[start-1 : start-1+count] {
			resp = append(resp, e...)
		}
		return resp, nil
	}

	// write
	if !prop.writeEnabled || start == 0 || count == 0 {
		return deny, nil
	}
	data := asdu[4:]
	if len(data)%count != 0 {
		return deny, nil
	}
	size := len(data) / count
	for i := 0; i < count; i++ {
		idx := start - 1 + i
		for len(prop.elements) <= idx {
			prop.elements = append(prop.elements, make([]byte, size))
		}
		prop.elements[idx] = append([]byte(nil), data[i*size:(i+1)*size]...)
	}
	return append([]byte(nil), asdu...), nil
}

func (d *fakeDevice) handleDescription(asdu []byte) ([]byte, error) {
	objIndex, pid, propIndex := int(asdu[0]), int(asdu[1]), int(asdu[2])

	var prop *fakeProp
	if objIndex < len(d.objects) {
		obj := d.objects[objIndex]
		if pid != 0 {
			if p, ok := obj.props[pid]; ok {
				prop = p
				for i, id := range obj.order {
					if id == pid {
						propIndex = i
					}
				}
			}
		} else if propIndex < len(obj.order) {
			pid = obj.order[propIndex]
			prop = obj.props[pid]
		}
	}
	if prop == nil {
		// no such property
		if d.reduced {
			return []byte{0, 0, asdu[0], 0, asdu[2], 0, 0}, nil
		}
		return []byte{asdu[0], 0, asdu[2], 0, 0, 0, 0}, nil
	}
	if prop.silent {
		return nil, fmt.Errorf("%w: device not answering", ErrTimeout)
	}

	if d.reduced {
		resp := []byte{0, 0, byte(objIndex), byte(pid), byte(propIndex), 0, 0}
		binary.BigEndian.PutUint16(resp[0:], uint16(d.objects[objIndex].objectType))
		binary.BigEndian.PutUint16(resp[5:], uint16(len(prop.elements)))
		return resp, nil
	}
	typeOctet := byte(prop.pdt & 0x3F)
	if prop.writeEnabled {
		typeOctet |= 0x80
	}
	return []byte{
		byte(objIndex), byte(pid), byte(propIndex), typeOctet,
		byte(prop.maxElems >> 8), byte(prop.maxElems),
		byte(prop.readLevel<<4 | prop.writeLevel),
	}, nil
}

// fakeLink routes requests to fake devices by individual address.
type fakeLink struct {
	devices map[IndividualAddress]*fakeDevice
	closed  bool
	subs    []func(string)
}

func newFakeLink() *fakeLink {
	return &fakeLink{devices: map[IndividualAddress]*fakeDevice{}}
}

func (l *fakeLink) IsOpen() bool { return !l.closed }

func (l *fakeLink) Request(ctx context.Context, device IndividualAddress, svc ServiceCode, asdu []byte) ([]byte, error) {
	if l.closed {
		return nil, ErrLinkClosed
	}
	d, ok := l.devices[device]
	if !ok {
		return nil, fmt.Errorf("%w: no device at %s", ErrTimeout, device)
	}
	return d.handle(svc, asdu)
}

func (l *fakeLink) OnClose(fn func(string)) func() {
	l.subs = append(l.subs, fn)
	return func() {}
}

func (l *fakeLink) close(reason string) {
	if l.closed {
		return
	}
	l.closed = true
	for _, fn := range l.subs {
		fn(reason)
	}
}

// blockingLink parks every request until release is closed.
type blockingLink struct {
	started chan struct{}
	release chan struct{}
}

func newBlockingLink() *blockingLink {
	return &blockingLink{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
}

func (l *blockingLink) IsOpen() bool { return true }

func (l *blockingLink) Request(ctx context.Context, device IndividualAddress, svc ServiceCode, asdu []byte) ([]byte, error) {
	l.started <- struct{}{}
	<-l.release
	return append([]byte(nil), asdu...), nil
}

func (l *blockingLink) OnClose(fn func(string)) func() { return func() {} }

// fakeConn is a dedicated management connection to one fake device.
type fakeConn struct {
	dev    *fakeDevice
	closed bool
	subs   []func(string)
}

func newFakeConn(dev *fakeDevice) *fakeConn {
	dev.reduced = true
	return &fakeConn{dev: dev}
}

func (c *fakeConn) Request(ctx context.Context, svc ServiceCode, asdu []byte) ([]byte, error) {
	if c.closed {
		return nil, ErrLinkClosed
	}
	return c.dev.handle(svc, asdu)
}

func (c *fakeConn) OnClose(fn func(string)) func() {
	c.subs = append(c.subs, fn)
	return func() {}
}

func (c *fakeConn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	for _, fn := range c.subs {
		fn("connection closed")
	}
	return nil
}

const testDeviceAddr = IndividualAddress(0x1107) // 1.1.7

// programVersion is a 5-byte device object property used throughout the tests.
var programVersion = []byte{1, 2, 3, 4, 5}

func newTestDevice() *fakeDevice {
	dev := newFakeDevice(ObjectTypeDevice, ObjectTypeAddressTable)
	dev.addProp(0, PIDProgramVersion, &fakeProp{
		maxElems: 1, writeEnabled: true, readLevel: 3, writeLevel: 3,
		elements: [][]byte{append([]byte(nil), programVersion...)},
	})
	dev.addProp(0, PIDManufacturerID, &fakeProp{
		pdt: pdtUnsignedInt, maxElems: 1,
		elements: [][]byte{{0x00, 0x53}},
	})
	return dev
}

func newTestRemote(t *testing.T, dev *fakeDevice, onClose func(CloseEvent)) (*fakeLink, *RemoteAdapter) {
	t.Helper()
	link := newFakeLink()
	link.devices[testDeviceAddr] = dev
	a, err := NewRemoteAdapter(link, testDeviceAddr, onClose)
	if err != nil {
		t.Fatalf("NewRemoteAdapter: %v", err)
	}
	return link, a
}

func TestRemoteAdapterReadWrite(t *testing.T) {
	dev := newTestDevice()
	_, a := newTestRemote(t, dev, nil)
	defer a.Close()
	ctx := context.Background()

	got, err := a.GetProperty(ctx, 0, PIDProgramVersion, 1, 1)
	if err != nil {
		t.Fatalf("GetProperty: %v", err)
	}
	if string(got) != string(programVersion) {
		t.Errorf("GetProperty = % X, want % X", got, programVersion)
	}

	next := []byte{9, 8, 7, 6, 5}
	if err := a.SetProperty(ctx, 0, PIDProgramVersion, 1, 1, next); err != nil {
		t.Fatalf("SetProperty: %v", err)
	}
	got, err = a.GetProperty(ctx, 0, PIDProgramVersion, 1, 1)
	if err != nil {
		t.Fatalf("GetProperty after write: %v", err)
	}
	if string(got) != string(next) {
		t.Errorf("GetProperty after write = % X, want % X", got, next)
	}
}

func TestRemoteAdapterAccessDenied(t *testing.T) {
	dev := newTestDevice()
	dev.objects[0].props[PIDProgramVersion].deny = true
	_, a := newTestRemote(t, dev, nil)
	defer a.Close()

	_, err := a.GetProperty(context.Background(), 0, PIDProgramVersion, 1, 1)
	if !IsAccessDenied(err) {
		t.Errorf("GetProperty error = %v, want access denied", err)
	}
}

func TestRemoteAdapterTimeout(t *testing.T) {
	dev := newTestDevice()
	dev.objects[0].props[PIDProgramVersion].silent = true
	_, a := newTestRemote(t, dev, nil)
	defer a.Close()

	_, err := a.GetProperty(context.Background(), 0, PIDProgramVersion, 1, 1)
	if !IsTimeout(err) {
		t.Errorf("GetProperty error = %v, want timeout", err)
	}
}

func TestRemoteAdapterDescription(t *testing.T) {
	dev := newTestDevice()
	_, a := newTestRemote(t, dev, nil)
	defer a.Close()
	ctx := context.Background()

	d, err := a.GetDescription(ctx, 0, PIDProgramVersion)
	if err != nil {
		t.Fatalf("GetDescription: %v", err)
	}
	if d.ObjectType != ObjectTypeDevice {
		t.Errorf("ObjectType = %d, want %d", d.ObjectType, ObjectTypeDevice)
	}
	if d.PID != PIDProgramVersion {
		t.Errorf("PID = %d, want %d", d.PID, PIDProgramVersion)
	}
	if !d.WriteEnabled {
		t.Error("WriteEnabled = false, want true")
	}
	if d.ReadLevel != 3 || d.WriteLevel != 3 {
		t.Errorf("levels = %d/%d, want 3/3", d.ReadLevel, d.WriteLevel)
	}
	if d.CurrentElements != 1 || d.MaxElements != 1 {
		t.Errorf("elements = %d/%d, want 1/1", d.CurrentElements, d.MaxElements)
	}

	// by index resolves to the same property
	byIndex, err := a.GetDescriptionByIndex(ctx, 0, d.PropIndex)
	if err != nil {
		t.Fatalf("GetDescriptionByIndex: %v", err)
	}
	if byIndex.PID != d.PID {
		t.Errorf("by-index PID = %d, want %d", byIndex.PID, d.PID)
	}
}

func TestRemoteAdapterDescriptionNotFound(t *testing.T) {
	dev := newTestDevice()
	_, a := newTestRemote(t, dev, nil)
	defer a.Close()

	_, err := a.GetDescriptionByIndex(context.Background(), 0, 200)
	if !IsPropertyNotFound(err) {
		t.Errorf("GetDescriptionByIndex error = %v, want property not found", err)
	}
}

func TestRemoteAdapterAuthorize(t *testing.T) {
	dev := newTestDevice()
	dev.authKey = AuthKey{0x10, 0x20, 0x30, 0x40}
	_, a := newTestRemote(t, dev, nil)
	defer a.Close()

	level, err := a.Authorize(context.Background(), AuthKey{0x10, 0x20, 0x30, 0x40})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if level != 1 {
		t.Errorf("level = %d, want 1", level)
	}

	level, err = a.Authorize(context.Background(), AuthKey{})
	if err != nil {
		t.Fatalf("Authorize with wrong key: %v", err)
	}
	if level != 15 {
		t.Errorf("level = %d, want 15", level)
	}
}

func TestRemoteAdapterClose(t *testing.T) {
	var events []CloseEvent
	_, a := newTestRemote(t, newTestDevice(), func(e CloseEvent) {
		events = append(events, e)
	})

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if len(events) != 1 {
		t.Fatalf("close events = %d, want 1", len(events))
	}
	if events[0].Initiator != InitiatorUser {
		t.Errorf("Initiator = %v, want user", events[0].Initiator)
	}
	if events[0].Source != a {
		t.Error("Source does not identify the closed adapter")
	}

	if _, err := a.GetProperty(context.Background(), 0, PIDProgramVersion, 1, 1); !IsClosed(err) {
		t.Errorf("GetProperty after close = %v, want closed", err)
	}
}

func TestRemoteAdapterExternalClose(t *testing.T) {
	var events []CloseEvent
	link, a := newTestRemote(t, newTestDevice(), func(e CloseEvent) {
		events = append(events, e)
	})

	link.close("gateway gone")

	if len(events) != 1 {
		t.Fatalf("close events = %d, want 1", len(events))
	}
	if events[0].Initiator != InitiatorExternal {
		t.Errorf("Initiator = %v, want external", events[0].Initiator)
	}
	if events[0].Reason != "gateway gone" {
		t.Errorf("Reason = %q, want %q", events[0].Reason, "gateway gone")
	}

	// explicit close after the external one stays silent
	a.Close()
	if len(events) != 1 {
		t.Errorf("close events after Close = %d, want 1", len(events))
	}
}

func TestRemoteAdapterCloseEventSources(t *testing.T) {
	link := newFakeLink()
	link.devices[testDeviceAddr] = newTestDevice()
	other := NewIndividualAddress(1, 1, 8)
	link.devices[other] = newTestDevice()

	var sources []PropertyAdapter
	onClose := func(e CloseEvent) { sources = append(sources, e.Source) }

	a1, err := NewRemoteAdapter(link, testDeviceAddr, onClose)
	if err != nil {
		t.Fatalf("NewRemoteAdapter: %v", err)
	}
	a2, err := NewRemoteAdapter(link, other, onClose)
	if err != nil {
		t.Fatalf("NewRemoteAdapter: %v", err)
	}

	link.close("link closed")

	if len(sources) != 2 {
		t.Fatalf("close events = %d, want 2", len(sources))
	}
	seen := map[PropertyAdapter]bool{sources[0]: true, sources[1]: true}
	if !seen[a1] || !seen[a2] {
		t.Error("close events do not cover both adapters")
	}
}

func TestRemoteAdapterCloseDuringRequest(t *testing.T) {
	// a request in flight while the adapter closes fails instead of
	// delivering on a closed adapter
	link := newBlockingLink()
	a, err := NewRemoteAdapter(link, testDeviceAddr, nil)
	if err != nil {
		t.Fatalf("NewRemoteAdapter: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := a.GetProperty(context.Background(), 0, PIDProgramVersion, 1, 1)
		errCh <- err
	}()

	<-link.started
	if got := a.Metrics().ActiveRequests.Value(); got != 1 {
		t.Errorf("ActiveRequests mid-flight = %d, want 1", got)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	close(link.release)

	if err := <-errCh; !IsClosed(err) {
		t.Errorf("in-flight GetProperty = %v, want closed", err)
	}
}

func TestRemoteAdapterMetrics(t *testing.T) {
	dev := newTestDevice()
	_, a := newTestRemote(t, dev, nil)
	defer a.Close()

	if _, err := a.GetProperty(context.Background(), 0, PIDProgramVersion, 1, 1); err != nil {
		t.Fatalf("GetProperty: %v", err)
	}

	s := a.Metrics().Snapshot()
	if s.RequestsSent != 1 || s.RequestsSucceeded != 1 {
		t.Errorf("requests sent/succeeded = %d/%d, want 1/1", s.RequestsSent, s.RequestsSucceeded)
	}
	if s.PropertyReads != 1 {
		t.Errorf("PropertyReads = %d, want 1", s.PropertyReads)
	}
	if s.ActiveRequests != 0 {
		t.Errorf("ActiveRequests after completion = %d, want 0", s.ActiveRequests)
	}
	if a.Metrics().lastActivity.Load() == 0 {
		t.Error("no activity recorded")
	}
}

func TestRemoteAdapterReopenOnSharedLink(t *testing.T) {
	// closing the adapter leaves the shared link usable for a fresh adapter
	dev := newTestDevice()
	link, a := newTestRemote(t, dev, nil)
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b, err := NewRemoteAdapter(link, testDeviceAddr, nil)
	if err != nil {
		t.Fatalf("NewRemoteAdapter after close: %v", err)
	}
	defer b.Close()

	got, err := b.GetProperty(context.Background(), 0, PIDProgramVersion, 1, 1)
	if err != nil {
		t.Fatalf("GetProperty on reopened adapter: %v", err)
	}
	if string(got) != string(programVersion) {
		t.Errorf("GetProperty = % X, want % X", got, programVersion)
	}
}

func TestNewRemoteAdapterClosedLink(t *testing.T) {
	link := newFakeLink()
	link.close("down")
	if _, err := NewRemoteAdapter(link, testDeviceAddr, nil); err == nil {
		t.Error("NewRemoteAdapter on closed link succeeded")
	}
}

func TestLocalAdapterReadWrite(t *testing.T) {
	conn := newFakeConn(newTestDevice())
	a, err := NewLocalAdapter(conn, nil)
	if err != nil {
		t.Fatalf("NewLocalAdapter: %v", err)
	}
	defer a.Close()
	ctx := context.Background()

	got, err := a.GetProperty(ctx, 0, PIDProgramVersion, 1, 1)
	if err != nil {
		t.Fatalf("GetProperty: %v", err)
	}
	if string(got) != string(programVersion) {
		t.Errorf("GetProperty = % X, want % X", got, programVersion)
	}

	next := []byte{5, 4, 3, 2, 1}
	if err := a.SetProperty(ctx, 0, PIDProgramVersion, 1, 1, next); err != nil {
		t.Fatalf("SetProperty: %v", err)
	}
	got, err = a.GetProperty(ctx, 0, PIDProgramVersion, 1, 1)
	if err != nil {
		t.Fatalf("GetProperty after write: %v", err)
	}
	if string(got) != string(next) {
		t.Errorf("GetProperty after write = % X, want % X", got, next)
	}
}

func TestLocalAdapterDescription(t *testing.T) {
	conn := newFakeConn(newTestDevice())
	a, err := NewLocalAdapter(conn, nil)
	if err != nil {
		t.Fatalf("NewLocalAdapter: %v", err)
	}
	defer a.Close()

	d, err := a.GetDescription(context.Background(), 0, PIDProgramVersion)
	if err != nil {
		t.Fatalf("GetDescription: %v", err)
	}
	if d.ObjectType != ObjectTypeDevice {
		t.Errorf("ObjectType = %d, want %d", d.ObjectType, ObjectTypeDevice)
	}
	if d.PDT != PDTUnknown {
		t.Errorf("PDT = %d, want unknown", d.PDT)
	}
	if d.ReadLevel != 0 || d.WriteLevel != 0 {
		t.Errorf("levels = %d/%d, want 0/0", d.ReadLevel, d.WriteLevel)
	}
	if d.CurrentElements != 1 {
		t.Errorf("CurrentElements = %d, want 1", d.CurrentElements)
	}

	// the reduced form still identifies the property
	byIndex, err := a.GetDescriptionByIndex(context.Background(), 0, d.PropIndex)
	if err != nil {
		t.Fatalf("GetDescriptionByIndex: %v", err)
	}
	if byIndex.ObjectType != d.ObjectType || byIndex.ObjectIndex != d.ObjectIndex ||
		byIndex.PID != d.PID || byIndex.PropIndex != d.PropIndex {
		t.Errorf("by-index description %+v does not match %+v", byIndex, d)
	}
}

func TestLocalAdapterClose(t *testing.T) {
	conn := newFakeConn(newTestDevice())
	var events []CloseEvent
	a, err := NewLocalAdapter(conn, func(e CloseEvent) {
		events = append(events, e)
	})
	if err != nil {
		t.Fatalf("NewLocalAdapter: %v", err)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !conn.closed {
		t.Error("Close did not close the owned connection")
	}
	if len(events) != 1 || events[0].Initiator != InitiatorUser {
		t.Fatalf("close events = %v, want one user-initiated", events)
	}

	if _, err := a.GetProperty(context.Background(), 0, PIDProgramVersion, 1, 1); !IsClosed(err) {
		t.Errorf("GetProperty after close = %v, want closed", err)
	}
}

func TestLocalAdapterExternalClose(t *testing.T) {
	conn := newFakeConn(newTestDevice())
	var events []CloseEvent
	a, err := NewLocalAdapter(conn, func(e CloseEvent) {
		events = append(events, e)
	})
	if err != nil {
		t.Fatalf("NewLocalAdapter: %v", err)
	}

	conn.Close()
	a.Close()

	if len(events) != 1 {
		t.Fatalf("close events = %d, want 1", len(events))
	}
	if events[0].Initiator != InitiatorExternal {
		t.Errorf("Initiator = %v, want external", events[0].Initiator)
	}
}

func TestPropertyASDURanges(t *testing.T) {
	tests := []struct {
		name                    string
		objIndex, pid, start, n int
		wantErr                 bool
	}{
		{"valid", 0, 1, 1, 1, false},
		{"max start", 0, 1, 0xFFF, 15, false},
		{"start too large", 0, 1, 0x1000, 1, true},
		{"count too large", 0, 1, 1, 16, true},
		{"negative pid", 0, -1, 1, 1, true},
		{"object index too large", 256, 1, 1, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := propertyASDU(tt.objIndex, tt.pid, tt.start, tt.n, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("propertyASDU error = %v, wantErr %t", err, tt.wantErr)
			}
		})
	}
}
