package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edgeo/drivers/knx/knx"
)

var (
	descObjIndex  int
	descPID       int
	descPropIndex int
)

var descCmd = &cobra.Command{
	Use:   "desc",
	Short: "Query a property description",
	Long: `Desc queries the description of a single property, either by its PID or by
its position in the object's property list.

Over the local management connection the endpoint reports no property data
type and no access levels; those columns read "-" and 0.

Examples:
  # Description of the manufacturer ID property
  edgeo-knx desc -g 192.168.1.10 -d 1.1.7 --pid 12

  # Description of the third property of object 1
  edgeo-knx desc -g 192.168.1.10 -d 1.1.7 -O 1 --index 2`,

	RunE: runDesc,
}

func init() {
	descCmd.Flags().IntVarP(&descObjIndex, "object-index", "O", 0, "Interface object index")
	descCmd.Flags().IntVarP(&descPID, "pid", "P", 0, "Property identifier")
	descCmd.Flags().IntVar(&descPropIndex, "index", -1, "Property index (alternative to --pid)")

	descCmd.MarkFlagsOneRequired("pid", "index")
	descCmd.MarkFlagsMutuallyExclusive("pid", "index")
}

func runDesc(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout*2)
	defer cancel()

	client, closer, err := createClient(ctx)
	if err != nil {
		return err
	}
	defer closer()

	var d knx.Description
	if descPropIndex >= 0 {
		d, err = client.GetDescriptionByIndex(ctx, descObjIndex, descPropIndex)
	} else {
		d, err = client.GetDescription(ctx, descObjIndex, descPID)
	}
	if err != nil {
		return fmt.Errorf("get description: %w", err)
	}

	return printDescriptions(NewFormatter(outputFmt), client, []knx.Description{d})
}
