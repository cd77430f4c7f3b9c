package knx

import "fmt"

// PDTUnknown is the property data type reported when the responding device did
// not supply a usable type. Callers must not interpret property data
// numerically based on it.
const PDTUnknown = -1

// pdtUnsignedInt is the PDT code for 2-octet unsigned property data.
const pdtUnsignedInt = 0x04

// Description is the metadata snapshot of one property of one interface
// object instance, built fresh from a description response and never mutated
// afterwards.
type Description struct {
	// ObjectType is the interface object type code.
	ObjectType int
	// ObjectIndex is the 0-based position of the object instance on the device.
	ObjectIndex int
	// PID is the property identifier within the object's property space.
	PID int
	// PropIndex is the position within the object's property list.
	PropIndex int
	// PDT is the property data type reported by the device, or PDTUnknown.
	PDT int
	// CurrentElements is the number of elements currently present.
	CurrentElements int
	// MaxElements is the maximum number of elements, 0 if not reported.
	MaxElements int
	// ReadLevel and WriteLevel are the access levels required for reading and
	// writing (0 if not reported).
	ReadLevel  int
	WriteLevel int
	// WriteEnabled reports whether the property accepts writes at all.
	WriteEnabled bool
}

func (d Description) String() string {
	return fmt.Sprintf("OT %d OI %d PID %d idx %d PDT %d elems %d/%d r/w-level %d/%d write-enabled %t",
		d.ObjectType, d.ObjectIndex, d.PID, d.PropIndex, d.PDT,
		d.CurrentElements, d.MaxElements, d.ReadLevel, d.WriteLevel, d.WriteEnabled)
}

// parseDescription decodes the 7-byte description response of the remote
// property service: object index, PID, property index, type octet (bit 7
// write-enabled, bits 0..5 PDT), 12-bit max element count, access octet
// (read level high nibble, write level low nibble). A response carrying
// PID 0 with a zero max element count means no property exists at the
// queried index.
func parseDescription(objectType int, asdu []byte) (Description, error) {
	if len(asdu) < 7 {
		return Description{}, fmt.Errorf("%w: description response of %d bytes", ErrInvalidResponse, len(asdu))
	}
	d := Description{
		ObjectType:   objectType,
		ObjectIndex:  int(asdu[0]),
		PID:          int(asdu[1]),
		PropIndex:    int(asdu[2]),
		PDT:          int(asdu[3] & 0x3F),
		MaxElements:  int(asdu[4]&0x0F)<<8 | int(asdu[5]),
		ReadLevel:    int(asdu[6] >> 4),
		WriteLevel:   int(asdu[6] & 0x0F),
		WriteEnabled: asdu[3]&0x80 != 0,
	}
	if d.PID == 0 && d.MaxElements == 0 {
		return Description{}, fmt.Errorf("%w: object index %d, property index %d",
			ErrPropertyNotFound, d.ObjectIndex, d.PropIndex)
	}
	return d, nil
}

// parseLocalDescription decodes the reduced description response of a
// management endpoint without per-index description support: 16-bit object
// type, object index, PID, property index, 16-bit current element count. The
// endpoint reports no data type or access levels, so PDT defaults to
// PDTUnknown and both levels to 0; callers must not treat those fields as
// authoritative.
func parseLocalDescription(asdu []byte) (Description, error) {
	if len(asdu) < 7 {
		return Description{}, fmt.Errorf("%w: description response of %d bytes", ErrInvalidResponse, len(asdu))
	}
	d := Description{
		ObjectType:      int(asdu[0])<<8 | int(asdu[1]),
		ObjectIndex:     int(asdu[2]),
		PID:             int(asdu[3]),
		PropIndex:       int(asdu[4]),
		PDT:             PDTUnknown,
		CurrentElements: int(asdu[5])<<8 | int(asdu[6]),
	}
	if d.PID == 0 {
		return Description{}, fmt.Errorf("%w: object index %d, property index %d",
			ErrPropertyNotFound, d.ObjectIndex, d.PropIndex)
	}
	return d, nil
}
