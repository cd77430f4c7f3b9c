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

package knx

import (
	"log/slog"
	"time"
)

// adapterOptions holds configuration shared by both adapter variants.
type adapterOptions struct {
	logger  *slog.Logger
	timeout time.Duration
}

func defaultAdapterOptions() *adapterOptions {
	return &adapterOptions{
		logger:  slog.Default(),
		timeout: 3 * time.Second,
	}
}

// AdapterOption is a functional option for configuring an adapter.
type AdapterOption func(*adapterOptions)

// WithLogger sets the logger for the adapter.
func WithLogger(logger *slog.Logger) AdapterOption {
	return func(o *adapterOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTimeout sets the response timeout applied when the caller's context
// carries no deadline of its own.
func WithTimeout(d time.Duration) AdapterOption {
	return func(o *adapterOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// ObjectCountSource names the property whose current element count tells how
// many interface object instances exist on a device.
type ObjectCountSource struct {
	ObjectIndex int
	PID         int
}

// clientOptions holds configuration for the PropertyClient.
type clientOptions struct {
	logger      *slog.Logger
	objectCount ObjectCountSource
	authKey     *AuthKey
}

func defaultClientOptions() *clientOptions {
	return &clientOptions{
		logger: slog.Default(),
		// The device object's IO list enumerates the interface objects
		// present; its element count is the object count.
		objectCount: ObjectCountSource{ObjectIndex: 0, PID: PIDIOList},
	}
}

// ClientOption is a functional option for configuring the PropertyClient.
type ClientOption func(*clientOptions)

// WithClientLogger sets the logger for the client.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(o *clientOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithObjectCountSource overrides the property consulted for the number of
// interface object instances during a full-device scan.
func WithObjectCountSource(objIndex, pid int) ClientOption {
	return func(o *clientOptions) {
		o.objectCount = ObjectCountSource{ObjectIndex: objIndex, PID: pid}
	}
}

// WithAuthKey supplies the authorization key used when a scan requests
// elevated read access.
func WithAuthKey(key AuthKey) ClientOption {
	return func(o *clientOptions) {
		o.authKey = &key
	}
}
