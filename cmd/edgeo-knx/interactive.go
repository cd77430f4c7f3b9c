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

package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/edgeo/drivers/knx/knx"
)

var interactiveCmd = &cobra.Command{
	Use:   "interactive",
	Short: "Start an interactive property session",
	Long: `Interactive mode provides a REPL for exploring a device's properties.

Commands:
  get <oi> <pid> [start [count]]        - Read a property (translated)
  raw <oi> <pid> [start [count]]        - Read raw property bytes
  set <oi> <pid> <start> <value>        - Write a property
  desc <oi> <pid>                       - Describe a property by PID
  desci <oi> <idx>                      - Describe a property by index
  scan [oi]                             - Scan the device or one object
  help                                  - Show help
  exit                                  - Exit interactive mode

Examples:
  knx> get 0 12
  knx> set 2 13 1 0x0102030405
  knx> scan 0`,
}

func init() {
	interactiveCmd.RunE = runInteractive
}

func runInteractive(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	client, closer, err := createClient(ctx)
	if err != nil {
		return err
	}
	defer closer()

	fmt.Println("KNX Property Shell")
	fmt.Println("Type 'help' for available commands, 'exit' to quit")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("knx> ")

		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		command := strings.ToLower(parts[0])

		switch command {
		case "exit", "quit", "q":
			fmt.Println("Goodbye!")
			return nil

		case "help", "?":
			fmt.Println(interactiveCmd.Long)

		case "get", "raw":
			oi, pid, start, count, err := parsePropertyArgs(parts[1:])
			if err != nil {
				fmt.Println(err)
				continue
			}
			runCtx, cancel := context.WithTimeout(ctx, timeout)
			if command == "raw" {
				data, err := client.GetPropertyRaw(runCtx, oi, pid, start, count)
				cancel()
				if err != nil {
					fmt.Println("Error:", err)
					continue
				}
				fmt.Println(hex.EncodeToString(data))
				continue
			}
			value, err := client.GetProperty(runCtx, oi, pid, start, count)
			cancel()
			if err != nil {
				fmt.Println("Error:", err)
				continue
			}
			fmt.Println(value.String())

		case "set":
			if len(parts) < 5 {
				fmt.Println("Usage: set <oi> <pid> <start> <value>")
				continue
			}
			oi, pid, start, _, err := parsePropertyArgs(parts[1:4])
			if err != nil {
				fmt.Println(err)
				continue
			}
			runCtx, cancel := context.WithTimeout(ctx, timeout)
			err = client.SetProperty(runCtx, oi, pid, start, strings.Join(parts[4:], " "))
			cancel()
			if err != nil {
				fmt.Println("Error:", err)
				continue
			}
			fmt.Println("OK")

		case "desc", "desci":
			if len(parts) < 3 {
				fmt.Printf("Usage: %s <oi> <n>\n", command)
				continue
			}
			oi, err1 := strconv.Atoi(parts[1])
			n, err2 := strconv.Atoi(parts[2])
			if err1 != nil || err2 != nil {
				fmt.Println("Invalid arguments")
				continue
			}
			runCtx, cancel := context.WithTimeout(ctx, timeout)
			var d knx.Description
			var err error
			if command == "desc" {
				d, err = client.GetDescription(runCtx, oi, n)
			} else {
				d, err = client.GetDescriptionByIndex(runCtx, oi, n)
			}
			cancel()
			if err != nil {
				fmt.Println("Error:", err)
				continue
			}
			fmt.Println(d.String())

		case "scan":
			runCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
			consumer := func(d knx.Description) { fmt.Println(d.String()) }
			var err error
			if len(parts) > 1 {
				oi, convErr := strconv.Atoi(parts[1])
				if convErr != nil {
					cancel()
					fmt.Println("Invalid object index")
					continue
				}
				err = client.ScanObject(runCtx, oi, false, consumer)
			} else {
				err = client.ScanProperties(runCtx, false, consumer)
			}
			cancel()
			if err != nil {
				fmt.Println("Error:", err)
			}

		default:
			fmt.Printf("Unknown command: %s (try 'help')\n", command)
		}
	}

	return scanner.Err()
}

func parsePropertyArgs(args []string) (oi, pid, start, count int, err error) {
	if len(args) < 2 {
		return 0, 0, 0, 0, fmt.Errorf("need at least <oi> and <pid>")
	}
	start, count = 1, 1
	values := []*int{&oi, &pid, &start, &count}
	for i, arg := range args {
		if i >= len(values) {
			break
		}
		n, convErr := strconv.Atoi(arg)
		if convErr != nil {
			return 0, 0, 0, 0, fmt.Errorf("invalid number %q", arg)
		}
		*values[i] = n
	}
	return oi, pid, start, count, nil
}
