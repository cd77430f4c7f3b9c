package knx

import (
	"os"
	"path/filepath"
	"testing"
)

const definitionsYAML = `
- pid: 51
  objectType: 0
  name: PID_ACTIVE_ENERGY
  dpt: "29.010"
  description: Active energy in Wh
- pid: 52
  name: PID_GLOBAL_COUNTER
  dpt: "7.001"
- pid: 53
  name: PID_OPAQUE
  pdt: 4
`

func TestParseDefinitions(t *testing.T) {
	defs, err := ParseDefinitions([]byte(definitionsYAML))
	if err != nil {
		t.Fatalf("ParseDefinitions: %v", err)
	}
	if len(defs) != 3 {
		t.Fatalf("parsed %d definitions, want 3", len(defs))
	}

	if defs[0].ObjectType != 0 || defs[0].DPT != DPTActiveEnergy {
		t.Errorf("first definition = %+v", defs[0])
	}
	if defs[1].ObjectType != ObjectTypeAny {
		t.Errorf("missing objectType parsed as %d, want any", defs[1].ObjectType)
	}
	if defs[2].PDT != 4 || defs[2].DPT != "" {
		t.Errorf("third definition = %+v", defs[2])
	}
}

func TestParseDefinitionsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad yaml", ":"},
		{"missing name", "- pid: 5"},
		{"pid zero", "- pid: 0\n  name: X"},
		{"pid too large", "- pid: 300\n  name: X"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseDefinitions([]byte(tt.yaml)); err == nil {
				t.Error("ParseDefinitions succeeded")
			}
		})
	}
}

func TestLoadDefinitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "defs.yaml")
	if err := os.WriteFile(path, []byte(definitionsYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	defs, err := LoadDefinitions(path)
	if err != nil {
		t.Fatalf("LoadDefinitions: %v", err)
	}
	if len(defs) != 3 {
		t.Fatalf("loaded %d definitions, want 3", len(defs))
	}

	if _, err := LoadDefinitions(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadDefinitions of missing file succeeded")
	}
}

func TestDefinitionMapLookup(t *testing.T) {
	m := make(DefinitionMap)
	m.AddAll([]Definition{
		{ObjectType: ObjectTypeAny, PID: 51, Name: "GLOBAL"},
		{ObjectType: ObjectTypeDevice, PID: 51, Name: "DEVICE_SPECIFIC"},
	})

	d, ok := m.Lookup(ObjectTypeDevice, 51)
	if !ok || d.Name != "DEVICE_SPECIFIC" {
		t.Errorf("Lookup(device, 51) = %+v, %t; want the specific entry", d, ok)
	}

	d, ok = m.Lookup(ObjectTypeRouter, 51)
	if !ok || d.Name != "GLOBAL" {
		t.Errorf("Lookup(router, 51) = %+v, %t; want the fallback entry", d, ok)
	}

	if _, ok := m.Lookup(ObjectTypeDevice, 99); ok {
		t.Error("Lookup of unknown pid reported a definition")
	}
}

func TestBuiltinDefinitions(t *testing.T) {
	m := make(DefinitionMap)
	m.AddAll(builtinDefinitions)

	d, ok := m.Lookup(ObjectTypeDevice, PIDManufacturerID)
	if !ok || d.Name != "PID_MANUFACTURER_ID" {
		t.Errorf("manufacturer ID lookup = %+v, %t", d, ok)
	}
	// the object type property applies to every object type
	if _, ok := m.Lookup(ObjectTypeRouter, PIDObjectType); !ok {
		t.Error("object type property not resolvable for non-device objects")
	}
}
