package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgeo/drivers/knx/knx"
)

var (
	scanObjIndex   int
	scanTimeout    time.Duration
	scanAuthorized bool
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the properties of a device",
	Long: `Scan walks the interface objects of a device and lists every property
description it finds.

Without --object-index the whole device is scanned; the number of interface
objects is taken from the device object's IO list. Unreadable property
indexes are skipped.

Examples:
  # Scan a whole device
  edgeo-knx scan -g 192.168.1.10 -d 1.1.7

  # Scan only the device object
  edgeo-knx scan -g 192.168.1.10 -d 1.1.7 -O 0`,

	RunE: runScan,
}

func init() {
	scanCmd.Flags().IntVarP(&scanObjIndex, "object-index", "O", -1, "Scan only this interface object")
	scanCmd.Flags().DurationVar(&scanTimeout, "scan-timeout", 2*time.Minute, "Overall scan deadline")
	scanCmd.Flags().BoolVar(&scanAuthorized, "authorized", false, "Present the auth key before scanning")
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
	defer cancel()

	client, closer, err := createClient(ctx)
	if err != nil {
		return err
	}
	defer closer()

	var descs []knx.Description
	collect := func(d knx.Description) { descs = append(descs, d) }

	if scanObjIndex >= 0 {
		err = client.ScanObject(ctx, scanObjIndex, scanAuthorized, collect)
	} else {
		err = client.ScanProperties(ctx, scanAuthorized, collect)
	}
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	return printDescriptions(NewFormatter(outputFmt), client, descs)
}

func printDescriptions(f *Formatter, client *knx.PropertyClient, descs []knx.Description) error {
	switch f.format {
	case FormatJSON:
		out := make([]map[string]interface{}, 0, len(descs))
		for _, d := range descs {
			out = append(out, map[string]interface{}{
				"objectType":      d.ObjectType,
				"objectTypeName":  knx.ObjectTypeName(d.ObjectType),
				"objectIndex":     d.ObjectIndex,
				"pid":             d.PID,
				"name":            client.PropertyName(d.ObjectType, d.PID),
				"propertyIndex":   d.PropIndex,
				"pdt":             d.PDT,
				"currentElements": d.CurrentElements,
				"maxElements":     d.MaxElements,
				"readLevel":       d.ReadLevel,
				"writeLevel":      d.WriteLevel,
				"writeEnabled":    d.WriteEnabled,
			})
		}
		return f.PrintJSON(out)
	case FormatCSV:
		return f.PrintCSV(descriptionHeaders(), descriptionRows(client, descs))
	case FormatRaw:
		for _, d := range descs {
			f.Println(d.String())
		}
		return nil
	default:
		f.PrintTable(descriptionHeaders(), descriptionRows(client, descs))
		f.Printf("\n%d properties\n", len(descs))
		return nil
	}
}

func descriptionHeaders() []string {
	return []string{"OI", "OT", "Object", "PID", "Name", "Idx", "PDT", "Elems", "Max", "R/W", "Write"}
}

func descriptionRows(client *knx.PropertyClient, descs []knx.Description) [][]string {
	rows := make([][]string, 0, len(descs))
	for _, d := range descs {
		pdt := fmt.Sprint(d.PDT)
		if d.PDT == knx.PDTUnknown {
			pdt = "-"
		}
		rows = append(rows, []string{
			fmt.Sprint(d.ObjectIndex),
			fmt.Sprint(d.ObjectType),
			knx.ObjectTypeName(d.ObjectType),
			fmt.Sprint(d.PID),
			client.PropertyName(d.ObjectType, d.PID),
			fmt.Sprint(d.PropIndex),
			pdt,
			fmt.Sprint(d.CurrentElements),
			fmt.Sprint(d.MaxElements),
			fmt.Sprintf("%d/%d", d.ReadLevel, d.WriteLevel),
			fmt.Sprint(d.WriteEnabled),
		})
	}
	return rows
}
