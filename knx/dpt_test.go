package knx

import (
	"bytes"
	"math"
	"strconv"
	"testing"
)

func TestSigned64EncodeDecode(t *testing.T) {
	tr, err := TranslatorFor(DPTActiveEnergy)
	if err != nil {
		t.Fatalf("TranslatorFor: %v", err)
	}

	tests := []struct {
		name  string
		input string
		value int64
	}{
		{"zero", "0", 0},
		{"positive", "123", 123},
		{"negative", "-123", -123},
		{"min", strconv.FormatInt(math.MinInt64, 10), math.MinInt64},
		{"max", strconv.FormatInt(math.MaxInt64, 10), math.MaxInt64},
		{"hex lower", "0x7b", 123},
		{"hex upper", "0X7B", 123},
		{"hash hex", "#7B", 123},
		{"octal", "0173", 123},
		{"negative hex", "-0x7B", -123},
		{"with unit", "123 Wh", 123},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tr.Encode(tt.input)
			if err != nil {
				t.Fatalf("Encode(%q): %v", tt.input, err)
			}
			if len(data) != 8 {
				t.Fatalf("Encode returned %d bytes, want 8", len(data))
			}
			got, err := tr.Decode(data)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if want := strconv.FormatInt(tt.value, 10); got != want {
				t.Errorf("round trip = %q, want %q", got, want)
			}
		})
	}
}

func TestSigned64EquivalentForms(t *testing.T) {
	tr, _ := TranslatorFor(DPTActiveEnergy)

	want, err := tr.Encode("123")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for _, form := range []string{"0x7B", "0173", "#7B"} {
		got, err := tr.Encode(form)
		if err != nil {
			t.Fatalf("Encode(%q): %v", form, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("Encode(%q) = % X, want % X", form, got, want)
		}
	}
}

func TestSigned64BadInput(t *testing.T) {
	tr, _ := TranslatorFor(DPTActiveEnergy)

	for _, input := range []string{
		"", "abc", "12.5", "0x", "9223372036854775808", "--1", "123 kWh",
	} {
		t.Run(input, func(t *testing.T) {
			_, err := tr.Encode(input)
			if !IsFormat(err) {
				t.Errorf("Encode(%q) error = %v, want format error", input, err)
			}
		})
	}
}

func TestSigned64WireForm(t *testing.T) {
	tr, _ := TranslatorFor(DPTActiveEnergy)

	data, err := tr.Encode("-1")
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	if !bytes.Equal(data, want) {
		t.Errorf("Encode(-1) = % X, want % X", data, want)
	}
}

func TestSigned64DecodeMultiple(t *testing.T) {
	tr, _ := TranslatorFor(DPTActiveEnergy)

	data := make([]byte, 16)
	data[7] = 1
	data[15] = 2
	got, err := tr.Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got != "1 2" {
		t.Errorf("Decode = %q, want %q", got, "1 2")
	}
}

func TestSigned64DecodeBadLength(t *testing.T) {
	tr, _ := TranslatorFor(DPTActiveEnergy)

	for _, n := range []int{0, 1, 7, 9} {
		if _, err := tr.Decode(make([]byte, n)); err == nil {
			t.Errorf("Decode of %d bytes succeeded", n)
		}
	}
}

func TestSigned64Units(t *testing.T) {
	tests := []struct {
		dpt  DPT
		unit string
	}{
		{DPTActiveEnergy, "Wh"},
		{DPTApparentEnergy, "VAh"},
		{DPTReactiveEnergy, "VARh"},
	}
	for _, tt := range tests {
		tr, err := TranslatorFor(tt.dpt)
		if err != nil {
			t.Fatalf("TranslatorFor(%s): %v", tt.dpt, err)
		}
		if tr.Unit() != tt.unit {
			t.Errorf("Unit of %s = %q, want %q", tt.dpt, tr.Unit(), tt.unit)
		}
	}
}

func TestUnsigned16EncodeDecode(t *testing.T) {
	tr, err := TranslatorFor(DPTValue2Ucount)
	if err != nil {
		t.Fatalf("TranslatorFor: %v", err)
	}

	for _, tt := range []struct {
		input string
		want  string
	}{
		{"0", "0"},
		{"65535", "65535"},
		{"0x100", "256"},
	} {
		data, err := tr.Encode(tt.input)
		if err != nil {
			t.Fatalf("Encode(%q): %v", tt.input, err)
		}
		got, err := tr.Decode(data)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if got != tt.want {
			t.Errorf("round trip of %q = %q, want %q", tt.input, got, tt.want)
		}
	}

	for _, bad := range []string{"-1", "65536", "x"} {
		if _, err := tr.Encode(bad); !IsFormat(err) {
			t.Errorf("Encode(%q) error = %v, want format error", bad, err)
		}
	}
}

func TestTranslatorForUnknown(t *testing.T) {
	if _, err := TranslatorFor("999.999"); err == nil {
		t.Error("TranslatorFor for unknown DPT succeeded")
	}
}

func TestDPTForPDT(t *testing.T) {
	dpt, ok := DPTForPDT(pdtUnsignedInt)
	if !ok || dpt != DPTValue2Ucount {
		t.Errorf("DPTForPDT(unsigned) = %s, %t", dpt, ok)
	}
	if _, ok := DPTForPDT(0x3F); ok {
		t.Error("DPTForPDT for unmapped PDT reported a mapping")
	}
}
