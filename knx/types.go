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

// Package knx provides a KNX device-management client for reading and writing
// interface object properties on building automation devices.
package knx

import (
	"fmt"
	"strconv"
	"strings"
)

// DefaultPort is the standard KNXnet/IP UDP port.
const DefaultPort = 3671

// ServiceCode identifies a property management service (APCI value).
type ServiceCode uint16

const (
	ServiceAuthorizeRequest      ServiceCode = 0x3D1
	ServiceAuthorizeResponse     ServiceCode = 0x3D2
	ServicePropertyValueRead     ServiceCode = 0x3D5
	ServicePropertyValueResponse ServiceCode = 0x3D6
	ServicePropertyValueWrite    ServiceCode = 0x3D7
	ServicePropertyDescRead      ServiceCode = 0x3D8
	ServicePropertyDescResponse  ServiceCode = 0x3D9
)

func (s ServiceCode) String() string {
	names := map[ServiceCode]string{
		ServiceAuthorizeRequest:      "authorize-request",
		ServiceAuthorizeResponse:     "authorize-response",
		ServicePropertyValueRead:     "property-value-read",
		ServicePropertyValueResponse: "property-value-response",
		ServicePropertyValueWrite:    "property-value-write",
		ServicePropertyDescRead:      "property-description-read",
		ServicePropertyDescResponse:  "property-description-response",
	}
	if name, ok := names[s]; ok {
		return name
	}
	return fmt.Sprintf("service(0x%03X)", uint16(s))
}

// responseFor returns the service code expected in the reply to a request.
func responseFor(s ServiceCode) ServiceCode {
	switch s {
	case ServiceAuthorizeRequest:
		return ServiceAuthorizeResponse
	case ServicePropertyValueRead, ServicePropertyValueWrite:
		return ServicePropertyValueResponse
	case ServicePropertyDescRead:
		return ServicePropertyDescResponse
	default:
		return s
	}
}

// IndividualAddress is a KNX device address in area.line.device notation,
// packed as area (4 bits), line (4 bits), device (8 bits).
type IndividualAddress uint16

// NewIndividualAddress packs the address parts; area and line are masked to
// their 4-bit range.
func NewIndividualAddress(area, line, device uint8) IndividualAddress {
	return IndividualAddress(uint16(area&0x0F)<<12 | uint16(line&0x0F)<<8 | uint16(device))
}

// ParseIndividualAddress parses the "area.line.device" text form, e.g. "1.1.7".
func ParseIndividualAddress(s string) (IndividualAddress, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return 0, fmt.Errorf("knx: invalid individual address %q (want area.line.device)", s)
	}
	area, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil || area > 15 {
		return 0, fmt.Errorf("knx: invalid area in address %q", s)
	}
	line, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil || line > 15 {
		return 0, fmt.Errorf("knx: invalid line in address %q", s)
	}
	device, err := strconv.ParseUint(parts[2], 10, 8)
	if err != nil {
		return 0, fmt.Errorf("knx: invalid device in address %q", s)
	}
	return NewIndividualAddress(uint8(area), uint8(line), uint8(device)), nil
}

// Area returns the area part of the address.
func (a IndividualAddress) Area() uint8 { return uint8(a >> 12) }

// Line returns the line part of the address.
func (a IndividualAddress) Line() uint8 { return uint8(a>>8) & 0x0F }

// Device returns the device part of the address.
func (a IndividualAddress) Device() uint8 { return uint8(a) }

func (a IndividualAddress) String() string {
	return fmt.Sprintf("%d.%d.%d", a.Area(), a.Line(), a.Device())
}

// Well-known interface object types.
const (
	ObjectTypeDevice           = 0
	ObjectTypeAddressTable     = 1
	ObjectTypeAssociationTable = 2
	ObjectTypeApplicationProg  = 3
	ObjectTypeInterfaceProg    = 4
	ObjectTypeRouter           = 6
	ObjectTypeCEMIServer       = 8
	ObjectTypeGroupObjectTable = 9
	ObjectTypeKNXNetIPParams   = 11
	ObjectTypeSecurity         = 17
	ObjectTypeRFMedium         = 19
)

// Well-known property identifiers.
const (
	PIDObjectType            = 1
	PIDLoadStateControl      = 5
	PIDSerialNumber          = 11
	PIDManufacturerID        = 12
	PIDProgramVersion        = 13
	PIDDeviceControl         = 14
	PIDOrderInfo             = 15
	PIDPEIType               = 16
	PIDPortConfiguration     = 17
	PIDProjectInstallationID = 27
	PIDMaxAPDULength         = 56
	PIDIOList                = 71
)

// objectTypeNames indexes human-readable names by object type code. Gaps and
// codes past the table end are unassigned and render as the empty string.
var objectTypeNames = [...]string{
	"Device Object",
	"Addresstable Object",
	"Associationtable Object",
	"Applicationprogram Object",
	"Interfaceprogram Object",
	"KNX-Object Associationtable Object",
	"Router Object",
	"LTE Address Routing Table Object",
	"cEMI Server Object",
	"Group Object Table Object",
	"Polling Master",
	"KNXnet/IP Parameter Object",
	"Application Controller",
	"File Server Object",
	"",
	"",
	"",
	"Security Object",
	"",
	"RF Medium Object",
}

// ObjectTypeName returns the human-readable name of a known object type code,
// or the empty string for unassigned codes. Unknown codes are expected and are
// not an error.
func ObjectTypeName(objectType int) string {
	if objectType < 0 || objectType >= len(objectTypeNames) {
		return ""
	}
	return objectTypeNames[objectType]
}
