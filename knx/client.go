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
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
)

// TranslatedValue is a property value read through the translation layer: the
// raw wire bytes plus their text form under the resolved datapoint type.
type TranslatedValue struct {
	PID  int
	Name string
	DPT  DPT
	Unit string
	Raw  []byte
	Text string
}

func (v TranslatedValue) String() string {
	if v.Unit != "" {
		return v.Text + " " + v.Unit
	}
	return v.Text
}

// PropertyClient reads and writes interface object properties through a
// PropertyAdapter, resolving datapoint types from its definition table and
// from device-reported property data types. The client inherits the adapter's
// concurrency contract: one goroutine at a time.
type PropertyClient struct {
	adapter PropertyAdapter
	logger  *slog.Logger

	definitions DefinitionMap
	objectCount ObjectCountSource
	authKey     *AuthKey

	// object index -> object type, filled on first use
	objectTypes map[int]int

	closed atomic.Bool
}

// NewPropertyClient creates a client over adapter. The client owns the
// adapter from here on: closing the client closes the adapter. The built-in
// definitions for the device object are preloaded; AddDefinitions overrides
// them entry by entry.
func NewPropertyClient(adapter PropertyAdapter, opts ...ClientOption) (*PropertyClient, error) {
	if adapter == nil {
		return nil, fmt.Errorf("knx: property client requires an adapter")
	}

	options := defaultClientOptions()
	for _, opt := range opts {
		opt(options)
	}

	c := &PropertyClient{
		adapter:     adapter,
		logger:      options.logger,
		definitions: make(DefinitionMap),
		objectCount: options.objectCount,
		authKey:     options.authKey,
		objectTypes: make(map[int]int),
	}
	c.definitions.AddAll(builtinDefinitions)
	return c, nil
}

// AddDefinitions merges property definitions into the client's table.
func (c *PropertyClient) AddDefinitions(defs []Definition) {
	c.definitions.AddAll(defs)
}

// Definitions returns the client's definition table.
func (c *PropertyClient) Definitions() DefinitionMap {
	return c.definitions
}

// Adapter returns the adapter the client operates on.
func (c *PropertyClient) Adapter() PropertyAdapter {
	return c.adapter
}

// Authorize runs the access elevation exchange if the adapter supports it and
// a key was configured. Returns the granted level, or 0 with a nil error when
// nothing was attempted.
func (c *PropertyClient) Authorize(ctx context.Context) (uint8, error) {
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	auth, ok := c.adapter.(Authorizer)
	if !ok || c.authKey == nil {
		return 0, nil
	}
	return auth.Authorize(ctx, *c.authKey)
}

// GetPropertyRaw reads count elements of a property starting at the 1-based
// element index and returns the raw element data.
func (c *PropertyClient) GetPropertyRaw(ctx context.Context, objIndex, pid, start, count int) ([]byte, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	return c.adapter.GetProperty(ctx, objIndex, pid, start, count)
}

// GetProperty reads property elements and translates them to their text form.
// Fails with ErrNoDefinition when neither the definition table nor the
// device-reported property data type yields a datapoint type.
func (c *PropertyClient) GetProperty(ctx context.Context, objIndex, pid, start, count int) (TranslatedValue, error) {
	if err := c.checkOpen(); err != nil {
		return TranslatedValue{}, err
	}
	t, def, err := c.translatorFor(ctx, objIndex, pid)
	if err != nil {
		return TranslatedValue{}, err
	}
	raw, err := c.adapter.GetProperty(ctx, objIndex, pid, start, count)
	if err != nil {
		return TranslatedValue{}, err
	}
	text, err := t.Decode(raw)
	if err != nil {
		return TranslatedValue{}, err
	}
	return TranslatedValue{
		PID:  pid,
		Name: def.Name,
		DPT:  t.DPT(),
		Unit: t.Unit(),
		Raw:  raw,
		Text: text,
	}, nil
}

// SetPropertyRaw writes count elements of raw element data starting at the
// 1-based element index.
func (c *PropertyClient) SetPropertyRaw(ctx context.Context, objIndex, pid, start, count int, data []byte) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.adapter.SetProperty(ctx, objIndex, pid, start, count, data)
}

// SetProperty translates value to its wire form and writes it starting at the
// 1-based element index. Several elements are written by separating their
// text forms with spaces.
func (c *PropertyClient) SetProperty(ctx context.Context, objIndex, pid, start int, value string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	t, _, err := c.translatorFor(ctx, objIndex, pid)
	if err != nil {
		return err
	}
	data, count, err := encodeElements(t, value)
	if err != nil {
		return err
	}
	return c.adapter.SetProperty(ctx, objIndex, pid, start, count, data)
}

// encodeElements converts the text form of a property value into its wire
// elements. A single value may carry the type's unit suffix; several elements
// are separated by spaces.
func encodeElements(t Translator, value string) ([]byte, int, error) {
	if elem, err := t.Encode(value); err == nil {
		return elem, 1, nil
	}
	fields := strings.Fields(value)
	if len(fields) == 0 {
		return nil, 0, &FormatError{DPT: t.DPT(), Value: value, Reason: "empty value"}
	}
	data := make([]byte, 0, len(fields)*t.ElementSize())
	for _, f := range fields {
		elem, err := t.Encode(f)
		if err != nil {
			return nil, 0, err
		}
		data = append(data, elem...)
	}
	return data, len(fields), nil
}

// GetDescription queries the description of the property with the given PID.
func (c *PropertyClient) GetDescription(ctx context.Context, objIndex, pid int) (Description, error) {
	if err := c.checkOpen(); err != nil {
		return Description{}, err
	}
	return c.adapter.GetDescription(ctx, objIndex, pid)
}

// GetDescriptionByIndex queries the description of the property at the given
// position in the object's property list.
func (c *PropertyClient) GetDescriptionByIndex(ctx context.Context, objIndex, propIndex int) (Description, error) {
	if err := c.checkOpen(); err != nil {
		return Description{}, err
	}
	return c.adapter.GetDescriptionByIndex(ctx, objIndex, propIndex)
}

// PropertyName resolves the definition name for a PID within an object type,
// or "" when no definition covers it.
func (c *PropertyClient) PropertyName(objectType, pid int) string {
	if d, ok := c.definitions.Lookup(objectType, pid); ok {
		return d.Name
	}
	return ""
}

// ScanProperties walks every interface object of the device and feeds each
// property description to consumer in object and property index order. The
// number of objects is the current element count of the configured object
// count source. With authorized set, the configured key is presented first;
// a device without the authorization feature is scanned at the default
// access level.
//
// Within one object, a nonexistent property index ends that object's walk; a
// timeout or a denied access skips the index and continues; any other error
// aborts the scan. A panicking consumer is contained and does not abort the
// scan.
func (c *PropertyClient) ScanProperties(ctx context.Context, authorized bool, consumer func(Description)) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := c.scanAuthorize(ctx, authorized); err != nil {
		return err
	}
	objects, err := c.objectInstances(ctx)
	if err != nil {
		return err
	}
	c.logger.Debug("scanning device", slog.Int("objects", objects))
	for objIndex := 0; objIndex < objects; objIndex++ {
		if err := c.scanObject(ctx, objIndex, consumer); err != nil {
			return err
		}
	}
	return nil
}

// ScanObject walks the property list of a single interface object, with the
// same optional authorization step as ScanProperties.
func (c *PropertyClient) ScanObject(ctx context.Context, objIndex int, authorized bool, consumer func(Description)) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := c.scanAuthorize(ctx, authorized); err != nil {
		return err
	}
	return c.scanObject(ctx, objIndex, consumer)
}

// scanAuthorize runs the optional access elevation before a scan. A device
// without the authorization feature does not answer; the scan proceeds at the
// default level.
func (c *PropertyClient) scanAuthorize(ctx context.Context, authorized bool) error {
	if !authorized {
		return nil
	}
	if _, err := c.Authorize(ctx); err != nil && !IsTimeout(err) {
		return err
	}
	return nil
}

// Properties scans the whole device and returns the collected descriptions.
func (c *PropertyClient) Properties(ctx context.Context) ([]Description, error) {
	var descs []Description
	if err := c.ScanProperties(ctx, false, func(d Description) {
		descs = append(descs, d)
	}); err != nil {
		return nil, err
	}
	return descs, nil
}

// Close closes the client and the adapter it owns. Closing twice is a no-op.
func (c *PropertyClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.adapter.Close()
}

func (c *PropertyClient) checkOpen() error {
	if c.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (c *PropertyClient) scanObject(ctx context.Context, objIndex int, consumer func(Description)) error {
	// Index 0 holds the object type of every object; the walk starts at the
	// first object specific property. Property indexes are one octet on the
	// wire.
	for propIndex := 1; propIndex <= 0xFF; propIndex++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		d, err := c.adapter.GetDescriptionByIndex(ctx, objIndex, propIndex)
		switch {
		case err == nil:
			c.consume(consumer, d)
		case IsPropertyNotFound(err):
			return nil
		case IsTimeout(err) || IsAccessDenied(err):
			c.logger.Debug("skipping property index",
				slog.Int("object_index", objIndex),
				slog.Int("property_index", propIndex),
				slog.Any("error", err),
			)
		default:
			return err
		}
	}
	return nil
}

// consume hands one description to the scan consumer. A panic in the consumer
// is logged and contained so the scan keeps running.
func (c *PropertyClient) consume(consumer func(Description), d Description) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("scan consumer panic",
				slog.Int("object_index", d.ObjectIndex),
				slog.Int("pid", d.PID),
				slog.Any("panic", r),
			)
		}
	}()
	consumer(d)
}

// objectInstances reads how many interface objects the device holds.
func (c *PropertyClient) objectInstances(ctx context.Context) (int, error) {
	data, err := c.adapter.GetProperty(ctx, c.objectCount.ObjectIndex, c.objectCount.PID, 0, 1)
	if err != nil {
		return 0, fmt.Errorf("object count: %w", err)
	}
	if len(data) < 2 {
		return 0, fmt.Errorf("%w: object count of %d bytes", ErrInvalidResponse, len(data))
	}
	return int(binary.BigEndian.Uint16(data)), nil
}

// translatorFor resolves the datapoint type of a property and returns its
// translator. Resolution order: the definition's DPT, the mapping of the
// definition's PDT, and finally the PDT the device itself reports.
func (c *PropertyClient) translatorFor(ctx context.Context, objIndex, pid int) (Translator, Definition, error) {
	ot, err := c.objectType(ctx, objIndex)
	if err != nil {
		return nil, Definition{}, err
	}
	def, ok := c.definitions.Lookup(ot, pid)
	if ok && def.DPT != "" {
		t, err := TranslatorFor(def.DPT)
		return t, def, err
	}
	if ok && def.PDT != 0 {
		if dpt, found := DPTForPDT(def.PDT); found {
			t, err := TranslatorFor(dpt)
			return t, def, err
		}
	}
	desc, err := c.adapter.GetDescription(ctx, objIndex, pid)
	if err == nil && desc.PDT != PDTUnknown {
		if dpt, found := DPTForPDT(desc.PDT); found {
			t, err := TranslatorFor(dpt)
			return t, def, err
		}
	}
	return nil, def, fmt.Errorf("%w: object type %d, pid %d", ErrNoDefinition, ot, pid)
}

// objectType resolves and caches the object type at objIndex by reading its
// object type property.
func (c *PropertyClient) objectType(ctx context.Context, objIndex int) (int, error) {
	if ot, ok := c.objectTypes[objIndex]; ok {
		return ot, nil
	}
	data, err := c.adapter.GetProperty(ctx, objIndex, PIDObjectType, 1, 1)
	if err != nil {
		return 0, fmt.Errorf("object type of object index %d: %w", objIndex, err)
	}
	if len(data) < 2 {
		return 0, fmt.Errorf("%w: object type of %d bytes", ErrInvalidResponse, len(data))
	}
	ot := int(binary.BigEndian.Uint16(data))
	c.objectTypes[objIndex] = ot
	return ot, nil
}
