package knx

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// DPT represents a KNX Datapoint Type identifier.
//
// Format: "major.minor" (e.g., "7.001", "29.010")
type DPT string

// Datapoint types with registered translators.
const (
	// 2-byte unsigned types (DPT 7.xxx)
	DPTValue2Ucount DPT = "7.001" // pulses

	// 8-byte signed types (DPT 29.xxx)
	DPTActiveEnergy   DPT = "29.010" // Wh
	DPTApparentEnergy DPT = "29.011" // VAh
	DPTReactiveEnergy DPT = "29.012" // VARh
)

// Translator converts between the raw wire form of property elements and
// their text form for one datapoint type. Implementations are stateless and
// safe for concurrent use.
type Translator interface {
	// DPT returns the datapoint type this translator serves.
	DPT() DPT
	// Unit returns the unit symbol of the type, or "" for dimensionless types.
	Unit() string
	// ElementSize returns the wire size of one element in bytes.
	ElementSize() int
	// Encode converts the text form of one value into its wire bytes. A
	// malformed or out-of-range value yields a *FormatError.
	Encode(value string) ([]byte, error)
	// Decode converts the wire bytes of one or more elements into their text
	// form, elements separated by a single space.
	Decode(data []byte) (string, error)
}

var (
	translatorMu  sync.RWMutex
	translatorMap = map[DPT]Translator{}
)

// RegisterTranslator adds a translator to the registry, replacing any earlier
// registration for the same datapoint type.
func RegisterTranslator(t Translator) {
	translatorMu.Lock()
	defer translatorMu.Unlock()
	translatorMap[t.DPT()] = t
}

// TranslatorFor looks up the translator registered for dpt.
func TranslatorFor(dpt DPT) (Translator, error) {
	translatorMu.RLock()
	defer translatorMu.RUnlock()
	t, ok := translatorMap[dpt]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoTranslator, dpt)
	}
	return t, nil
}

// pdtDefaultDPT maps property data types to the datapoint type assumed when
// no definition names one explicitly.
var pdtDefaultDPT = map[int]DPT{
	pdtUnsignedInt: DPTValue2Ucount,
}

// DPTForPDT returns the fallback datapoint type for a property data type
// reported by a device.
func DPTForPDT(pdt int) (DPT, bool) {
	dpt, ok := pdtDefaultDPT[pdt]
	return dpt, ok
}

func init() {
	RegisterTranslator(&unsigned16{id: DPTValue2Ucount})
	RegisterTranslator(&signed64{id: DPTActiveEnergy, unit: "Wh"})
	RegisterTranslator(&signed64{id: DPTApparentEnergy, unit: "VAh"})
	RegisterTranslator(&signed64{id: DPTReactiveEnergy, unit: "VARh"})
}

// parseInteger parses the text form of an integer value: decimal, hexadecimal
// with a 0x, 0X or # prefix, or octal with a leading 0. A trailing unit
// matching the translator's unit is tolerated.
func parseInteger(s, unit string, bits int) (int64, error) {
	v := strings.TrimSpace(s)
	if unit != "" {
		v = strings.TrimSpace(strings.TrimSuffix(v, unit))
	}
	neg := false
	if strings.HasPrefix(v, "-") {
		neg = true
		v = v[1:]
	}
	if strings.HasPrefix(v, "#") {
		v = "0x" + v[1:]
	}
	if neg {
		v = "-" + v
	}
	n, err := strconv.ParseInt(v, 0, bits)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// signed64 translates DPT 29.xxx, a 64-bit signed big-endian integer.
type signed64 struct {
	id   DPT
	unit string
}

func (t *signed64) DPT() DPT         { return t.id }
func (t *signed64) Unit() string     { return t.unit }
func (t *signed64) ElementSize() int { return 8 }

func (t *signed64) Encode(value string) ([]byte, error) {
	n, err := parseInteger(value, t.unit, 64)
	if err != nil {
		return nil, &FormatError{DPT: t.id, Value: value, Reason: reasonFor(err)}
	}
	data := make([]byte, 8)
	binary.BigEndian.PutUint64(data, uint64(n))
	return data, nil
}

func (t *signed64) Decode(data []byte) (string, error) {
	if len(data) == 0 || len(data)%8 != 0 {
		return "", fmt.Errorf("%w: DPT %s data of %d bytes", ErrInvalidResponse, t.id, len(data))
	}
	var b strings.Builder
	for i := 0; i < len(data); i += 8 {
		if i > 0 {
			b.WriteByte(' ')
		}
		n := int64(binary.BigEndian.Uint64(data[i:]))
		b.WriteString(strconv.FormatInt(n, 10))
	}
	return b.String(), nil
}

// unsigned16 translates DPT 7.xxx, a 16-bit unsigned big-endian integer.
type unsigned16 struct {
	id DPT
}

func (t *unsigned16) DPT() DPT         { return t.id }
func (t *unsigned16) Unit() string     { return "" }
func (t *unsigned16) ElementSize() int { return 2 }

func (t *unsigned16) Encode(value string) ([]byte, error) {
	n, err := parseInteger(value, "", 64)
	if err != nil {
		return nil, &FormatError{DPT: t.id, Value: value, Reason: reasonFor(err)}
	}
	if n < 0 || n > 0xFFFF {
		return nil, &FormatError{DPT: t.id, Value: value, Reason: "out of range [0..65535]"}
	}
	data := make([]byte, 2)
	binary.BigEndian.PutUint16(data, uint16(n))
	return data, nil
}

func (t *unsigned16) Decode(data []byte) (string, error) {
	if len(data) == 0 || len(data)%2 != 0 {
		return "", fmt.Errorf("%w: DPT %s data of %d bytes", ErrInvalidResponse, t.id, len(data))
	}
	var b strings.Builder
	for i := 0; i < len(data); i += 2 {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.FormatUint(uint64(binary.BigEndian.Uint16(data[i:])), 10))
	}
	return b.String(), nil
}

func reasonFor(err error) string {
	var ne *strconv.NumError
	if errors.As(err, &ne) {
		switch {
		case errors.Is(ne.Err, strconv.ErrRange):
			return "value out of range"
		case errors.Is(ne.Err, strconv.ErrSyntax):
			return "not a parsable number"
		}
	}
	return err.Error()
}
