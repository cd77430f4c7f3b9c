package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	watchObjIndex int
	watchPID      int
	watchStart    int
	watchCount    int
	watchInterval time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch a property for changes",
	Long: `Watch polls an interface object property and prints its value whenever it
changes.

Examples:
  # Poll the load state every second
  edgeo-knx watch -g 192.168.1.10 -d 1.1.7 --pid 5 --interval 1s`,

	RunE: runWatch,
}

func init() {
	watchCmd.Flags().IntVarP(&watchObjIndex, "object-index", "O", 0, "Interface object index")
	watchCmd.Flags().IntVarP(&watchPID, "pid", "P", 0, "Property identifier")
	watchCmd.Flags().IntVar(&watchStart, "start", 1, "First element (1-based)")
	watchCmd.Flags().IntVar(&watchCount, "count", 1, "Number of elements")
	watchCmd.Flags().DurationVar(&watchInterval, "interval", time.Second, "Polling interval")

	watchCmd.MarkFlagRequired("pid")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, closer, err := createClient(ctx)
	if err != nil {
		return err
	}
	defer closer()

	// Handle interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nStopping watch...")
		cancel()
	}()

	fmt.Printf("Watching object index %d, PID %d\n", watchObjIndex, watchPID)
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	readOnce := func() ([]byte, error) {
		readCtx, readCancel := context.WithTimeout(ctx, timeout)
		defer readCancel()
		return client.GetPropertyRaw(readCtx, watchObjIndex, watchPID, watchStart, watchCount)
	}

	last, err := readOnce()
	if err != nil {
		return fmt.Errorf("initial read: %w", err)
	}
	printWatchValue(time.Now(), last, true)

	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-ticker.C:
			data, err := readOnce()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				fmt.Fprintf(os.Stderr, "[%s] Error: %v\n", time.Now().Format("15:04:05.000"), err)
				continue
			}

			changed := !bytes.Equal(last, data)
			if changed || verbose {
				printWatchValue(time.Now(), data, changed)
				last = data
			}
		}
	}
}

func printWatchValue(ts time.Time, data []byte, changed bool) {
	marker := " "
	if changed {
		marker = "*"
	}
	fmt.Printf("[%s]%s %s\n", ts.Format("15:04:05.000"), marker, hex.EncodeToString(data))
}
