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
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo/drivers/knx/knx"
)

var (
	cfgFile         string
	gateway         string
	deviceAddr      string
	useLocal        bool
	localAddress    string
	authKeyHex      string
	timeout         time.Duration
	outputFmt       string
	verbose         bool
	definitionsFile string

	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "edgeo-knx",
	Short: "A KNX device management client CLI",
	Long: `edgeo-knx is a command-line tool for reading and writing interface object
properties on KNX devices.

Devices are reached either remotely through a gateway (--gateway plus the
device's individual address) or over a dedicated local management connection
(--local with --gateway naming the endpoint).

Examples:
  # Read the manufacturer ID from the device object
  edgeo-knx read -g 192.168.1.10 -d 1.1.7 --pid 12

  # Write the program version
  edgeo-knx write -g 192.168.1.10 -d 1.1.7 -O 2 --pid 13 --raw 0102030405

  # Scan all properties of a device
  edgeo-knx scan -g 192.168.1.10 -d 1.1.7

  # Use the local device management connection of an interface
  edgeo-knx scan -g 192.168.1.10 --local`,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logLevel := slog.LevelInfo
		if verbose {
			logLevel = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: logLevel,
		}))

		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.edgeo-knx.yaml)")
	rootCmd.PersistentFlags().StringVarP(&gateway, "gateway", "g", "", "Gateway or management endpoint address (host[:port])")
	rootCmd.PersistentFlags().StringVarP(&deviceAddr, "device", "d", "", "Individual address of the target device (e.g., 1.1.7)")
	rootCmd.PersistentFlags().BoolVar(&useLocal, "local", false, "Use the dedicated local management connection instead of remote services")
	rootCmd.PersistentFlags().StringVar(&localAddress, "local-address", "", "Local address to bind to (e.g., 0.0.0.0:0)")
	rootCmd.PersistentFlags().StringVar(&authKeyHex, "auth-key", "", "4-byte authorization key as 8 hex digits")
	rootCmd.PersistentFlags().DurationVarP(&timeout, "timeout", "t", 3*time.Second, "Request timeout")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format (table, json, csv, raw)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&definitionsFile, "definitions", "", "Property definitions YAML file")

	viper.BindPFlag("gateway", rootCmd.PersistentFlags().Lookup("gateway"))
	viper.BindPFlag("device", rootCmd.PersistentFlags().Lookup("device"))
	viper.BindPFlag("local", rootCmd.PersistentFlags().Lookup("local"))
	viper.BindPFlag("local-address", rootCmd.PersistentFlags().Lookup("local-address"))
	viper.BindPFlag("auth-key", rootCmd.PersistentFlags().Lookup("auth-key"))
	viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
	viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("definitions", rootCmd.PersistentFlags().Lookup("definitions"))

	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(descCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(interactiveCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.SetConfigName(".edgeo-knx")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("KNX")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

func parseAuthKey(s string) (knx.AuthKey, error) {
	var key knx.AuthKey
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(key) {
		return key, fmt.Errorf("auth key must be %d hex bytes", len(key))
	}
	copy(key[:], raw)
	return key, nil
}

// createClient opens the transport selected by the global flags and wraps it
// in a property client. The returned cleanup closes the client and, for the
// remote variant, the link under it.
func createClient(ctx context.Context) (*knx.PropertyClient, func(), error) {
	if gateway == "" {
		return nil, nil, fmt.Errorf("gateway address is required (-g or --gateway)")
	}

	var clientOpts []knx.ClientOption
	clientOpts = append(clientOpts, knx.WithClientLogger(logger))
	if authKeyHex != "" {
		key, err := parseAuthKey(authKeyHex)
		if err != nil {
			return nil, nil, err
		}
		clientOpts = append(clientOpts, knx.WithAuthKey(key))
	}

	adapterOpts := []knx.AdapterOption{
		knx.WithLogger(logger),
		knx.WithTimeout(timeout),
	}

	var (
		adapter knx.PropertyAdapter
		cleanup func()
		err     error
	)
	onClose := func(e knx.CloseEvent) {
		logger.Debug("adapter closed",
			slog.String("initiator", e.Initiator.String()),
			slog.String("reason", e.Reason),
		)
	}

	if useLocal {
		adapter, err = knx.DialLocal(gateway, onClose, adapterOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("connect management endpoint: %w", err)
		}
	} else {
		if deviceAddr == "" {
			return nil, nil, fmt.Errorf("device address is required (-d or --device)")
		}
		device, err := knx.ParseIndividualAddress(deviceAddr)
		if err != nil {
			return nil, nil, err
		}

		linkOpts := []knx.LinkOption{
			knx.WithLinkLogger(logger),
			knx.WithLinkTimeout(timeout),
		}
		if localAddress != "" {
			linkOpts = append(linkOpts, knx.WithLocalAddress(localAddress))
		}
		link, err := knx.DialLink(gateway, linkOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("open link: %w", err)
		}
		adapter, err = knx.NewRemoteAdapter(link, device, onClose, adapterOpts...)
		if err != nil {
			link.Close()
			return nil, nil, fmt.Errorf("open adapter: %w", err)
		}
		cleanup = func() { link.Close() }
	}

	client, err := knx.NewPropertyClient(adapter, clientOpts...)
	if err != nil {
		adapter.Close()
		if cleanup != nil {
			cleanup()
		}
		return nil, nil, err
	}

	if definitionsFile != "" {
		defs, err := knx.LoadDefinitions(definitionsFile)
		if err != nil {
			client.Close()
			if cleanup != nil {
				cleanup()
			}
			return nil, nil, err
		}
		client.AddDefinitions(defs)
	}

	if authKeyHex != "" {
		level, err := client.Authorize(ctx)
		switch {
		case err == nil:
			logger.Debug("access level granted", slog.Int("level", int(level)))
		case knx.IsTimeout(err):
			// Device without the authorization feature; continue at the
			// default level.
			logger.Debug("authorization not answered, continuing unauthorized")
		default:
			client.Close()
			if cleanup != nil {
				cleanup()
			}
			return nil, nil, fmt.Errorf("authorize: %w", err)
		}
	}

	closer := func() {
		if verbose {
			if m, ok := adapter.(interface{ Metrics() *knx.Metrics }); ok {
				logMetrics(m.Metrics().Snapshot())
			}
		}
		client.Close()
		if cleanup != nil {
			cleanup()
		}
	}
	return client, closer, nil
}

func logMetrics(s knx.MetricsSnapshot) {
	logger.Debug("request metrics",
		slog.Int64("sent", s.RequestsSent),
		slog.Int64("succeeded", s.RequestsSucceeded),
		slog.Int64("failed", s.RequestsFailed),
		slog.Int64("timed_out", s.RequestsTimedOut),
		slog.Int64("reads", s.PropertyReads),
		slog.Int64("writes", s.PropertyWrites),
		slog.Int64("descriptions", s.DescriptionsRead),
		slog.Duration("avg_latency", s.LatencyStats.Avg),
		slog.Time("last_activity", s.LastActivity),
	)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("edgeo-knx version 1.0.0")
	},
}
