package knx

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ObjectTypeAny marks a definition that applies to a PID regardless of the
// interface object type it appears in.
const ObjectTypeAny = -1

// Definition describes a property identifier: its name, the object type it
// belongs to (or ObjectTypeAny) and the datapoint type of its values.
// Definitions supplement the metadata a device reports and drive the
// value-translation layer of the client.
type Definition struct {
	ObjectType  int
	PID         int
	Name        string
	DPT         DPT
	PDT         int
	Description string
}

type defKey struct {
	objectType int
	pid        int
}

// DefinitionMap resolves property definitions by object type and PID. An
// object-type-specific entry wins over an ObjectTypeAny entry for the same
// PID.
type DefinitionMap map[defKey]Definition

// Add inserts or replaces one definition.
func (m DefinitionMap) Add(d Definition) {
	m[defKey{objectType: d.ObjectType, pid: d.PID}] = d
}

// AddAll inserts all definitions.
func (m DefinitionMap) AddAll(defs []Definition) {
	for _, d := range defs {
		m.Add(d)
	}
}

// Lookup resolves the definition for a PID within an object type, falling
// back to a type-independent entry.
func (m DefinitionMap) Lookup(objectType, pid int) (Definition, bool) {
	if d, ok := m[defKey{objectType: objectType, pid: pid}]; ok {
		return d, true
	}
	d, ok := m[defKey{objectType: ObjectTypeAny, pid: pid}]
	return d, ok
}

// yamlDefinition is the file form of a Definition. A missing objectType means
// the definition applies to every object type.
type yamlDefinition struct {
	ObjectType  *int   `yaml:"objectType"`
	PID         int    `yaml:"pid"`
	Name        string `yaml:"name"`
	DPT         string `yaml:"dpt"`
	PDT         int    `yaml:"pdt"`
	Description string `yaml:"description"`
}

// ParseDefinitions parses a YAML document holding a list of property
// definitions.
func ParseDefinitions(data []byte) ([]Definition, error) {
	var raw []yamlDefinition
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("knx: parse definitions: %w", err)
	}
	defs := make([]Definition, 0, len(raw))
	for i, r := range raw {
		if r.PID <= 0 || r.PID > 0xFF {
			return nil, fmt.Errorf("knx: definition %d: pid %d out of range", i, r.PID)
		}
		if r.Name == "" {
			return nil, fmt.Errorf("knx: definition %d (pid %d): missing name", i, r.PID)
		}
		ot := ObjectTypeAny
		if r.ObjectType != nil {
			ot = *r.ObjectType
		}
		defs = append(defs, Definition{
			ObjectType:  ot,
			PID:         r.PID,
			Name:        r.Name,
			DPT:         DPT(r.DPT),
			PDT:         r.PDT,
			Description: r.Description,
		})
	}
	return defs, nil
}

// LoadDefinitions reads property definitions from a YAML file.
func LoadDefinitions(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("knx: load definitions: %w", err)
	}
	return ParseDefinitions(data)
}

// builtinDefinitions covers the device object properties every management
// client deals with. Loaded definitions override these entry by entry.
var builtinDefinitions = []Definition{
	{ObjectType: ObjectTypeAny, PID: PIDObjectType, Name: "PID_OBJECT_TYPE", DPT: DPTValue2Ucount, PDT: pdtUnsignedInt},
	{ObjectType: ObjectTypeDevice, PID: PIDLoadStateControl, Name: "PID_LOAD_STATE_CONTROL"},
	{ObjectType: ObjectTypeDevice, PID: PIDSerialNumber, Name: "PID_SERIAL_NUMBER"},
	{ObjectType: ObjectTypeDevice, PID: PIDManufacturerID, Name: "PID_MANUFACTURER_ID", DPT: DPTValue2Ucount, PDT: pdtUnsignedInt},
	{ObjectType: ObjectTypeDevice, PID: PIDProgramVersion, Name: "PID_PROGRAM_VERSION"},
	{ObjectType: ObjectTypeDevice, PID: PIDDeviceControl, Name: "PID_DEVICE_CONTROL"},
	{ObjectType: ObjectTypeDevice, PID: PIDOrderInfo, Name: "PID_ORDER_INFO"},
	{ObjectType: ObjectTypeDevice, PID: PIDPEIType, Name: "PID_PEI_TYPE"},
	{ObjectType: ObjectTypeDevice, PID: PIDPortConfiguration, Name: "PID_PORT_CONFIGURATION"},
	{ObjectType: ObjectTypeDevice, PID: PIDProjectInstallationID, Name: "PID_PROJECT_INSTALLATION_ID", DPT: DPTValue2Ucount, PDT: pdtUnsignedInt},
	{ObjectType: ObjectTypeDevice, PID: PIDMaxAPDULength, Name: "PID_MAX_APDU_LENGTH", DPT: DPTValue2Ucount, PDT: pdtUnsignedInt},
	{ObjectType: ObjectTypeDevice, PID: PIDIOList, Name: "PID_IO_LIST", DPT: DPTValue2Ucount, PDT: pdtUnsignedInt},
}
