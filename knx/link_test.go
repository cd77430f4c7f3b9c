package knx

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	asdu := []byte{0, 13, 0x11, 0x00, 1, 2, 3}
	frame := marshalFrame(ServicePropertyValueRead, 7, testDeviceAddr, asdu)

	svc, seq, device, got, err := parseFrame(frame)
	if err != nil {
		t.Fatalf("parseFrame: %v", err)
	}
	if svc != ServicePropertyValueRead {
		t.Errorf("service = %s, want property-value-read", svc)
	}
	if seq != 7 {
		t.Errorf("seq = %d, want 7", seq)
	}
	if device != testDeviceAddr {
		t.Errorf("device = %s, want %s", device, testDeviceAddr)
	}
	if !bytes.Equal(got, asdu) {
		t.Errorf("asdu = % X, want % X", got, asdu)
	}
}

func TestParseFrameInvalid(t *testing.T) {
	valid := marshalFrame(ServicePropertyValueRead, 1, 0, nil)

	tests := []struct {
		name  string
		frame []byte
	}{
		{"empty", nil},
		{"truncated", valid[:5]},
		{"bad header", append([]byte{0x07}, valid[1:]...)},
		{"bad version", func() []byte {
			f := append([]byte(nil), valid...)
			f[1] = 0x20
			return f
		}()},
		{"length mismatch", append(append([]byte(nil), valid...), 0xFF)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, _, _, err := parseFrame(tt.frame); err == nil {
				t.Error("parseFrame accepted an invalid frame")
			}
		})
	}
}

func TestResponseFor(t *testing.T) {
	tests := []struct {
		req, want ServiceCode
	}{
		{ServicePropertyValueRead, ServicePropertyValueResponse},
		{ServicePropertyValueWrite, ServicePropertyValueResponse},
		{ServicePropertyDescRead, ServicePropertyDescResponse},
		{ServiceAuthorizeRequest, ServiceAuthorizeResponse},
	}
	for _, tt := range tests {
		if got := responseFor(tt.req); got != tt.want {
			t.Errorf("responseFor(%s) = %s, want %s", tt.req, got, tt.want)
		}
	}
}

func TestEnsurePort(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"192.168.1.10", "192.168.1.10:3671"},
		{"192.168.1.10:4000", "192.168.1.10:4000"},
		{"gateway.local", "gateway.local:3671"},
	}
	for _, tt := range tests {
		if got := ensurePort(tt.in); got != tt.want {
			t.Errorf("ensurePort(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
