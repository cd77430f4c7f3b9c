package main

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edgeo/drivers/knx/knx"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show device object information",
	Long: `Info reads the well-known properties of the device object and prints a
summary: manufacturer, serial number, program version, order info and the
maximum APDU length. Properties the device does not expose are omitted.

Examples:
  edgeo-knx info -g 192.168.1.10 -d 1.1.7`,

	RunE: runInfo,
}

// infoProperties lists the device object properties the summary covers, in
// display order.
var infoProperties = []struct {
	label string
	pid   int
	hex   bool
}{
	{"Manufacturer ID", knx.PIDManufacturerID, false},
	{"Serial Number", knx.PIDSerialNumber, true},
	{"Program Version", knx.PIDProgramVersion, true},
	{"Order Info", knx.PIDOrderInfo, true},
	{"PEI Type", knx.PIDPEIType, true},
	{"Max APDU Length", knx.PIDMaxAPDULength, false},
	{"Project Installation ID", knx.PIDProjectInstallationID, false},
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout*8)
	defer cancel()

	client, closer, err := createClient(ctx)
	if err != nil {
		return err
	}
	defer closer()

	pairs := map[string]interface{}{}
	var order []string

	add := func(label string, value interface{}) {
		pairs[label] = value
		order = append(order, label)
	}

	if deviceAddr != "" {
		add("Device", deviceAddr)
	} else {
		add("Endpoint", gateway)
	}

	for _, p := range infoProperties {
		if p.hex {
			data, err := client.GetPropertyRaw(ctx, 0, p.pid, 1, 1)
			if err != nil {
				continue
			}
			add(p.label, hex.EncodeToString(data))
			continue
		}
		value, err := client.GetProperty(ctx, 0, p.pid, 1, 1)
		if err != nil {
			continue
		}
		add(p.label, value.String())
	}

	f := NewFormatter(outputFmt)
	switch f.format {
	case FormatJSON:
		return f.PrintJSON(pairs)
	default:
		if len(order) <= 1 {
			return fmt.Errorf("device object not readable")
		}
		f.PrintKeyValue(pairs, order)
		return nil
	}
}
