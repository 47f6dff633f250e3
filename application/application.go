/*
 * Licensed to the Apache Software Foundation (ASF) under one or more
 * contributor license agreements.  See the NOTICE file distributed with
 * this work for additional information regarding copyright ownership.
 * The ASF licenses this file to You under the Apache License, Version 2.0
 * (the "License"); you may not use this file except in compliance with
 * the License.  You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package application describes the reporting process so that every line it
// emits can be grouped by application, service, cluster and shard.
package application

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"
)

// placeholder stands in for hierarchy levels the process does not set.
const placeholder = "none"

const (
	applicationTag = "application"
	serviceTag     = "service"
	clusterTag     = "cluster"
	shardTag       = "shard"
)

// Tags identifies the reporting process within a deployment hierarchy.
// Application and Service are required; Cluster and Shard default to "none".
type Tags struct {
	Application string `env:"LUMEN_APP_APPLICATION"`
	Service     string `env:"LUMEN_APP_SERVICE"`
	Cluster     string `env:"LUMEN_APP_CLUSTER"`
	Shard       string `env:"LUMEN_APP_SHARD"`

	// CustomTags are merged into Map without overriding the hierarchy
	// tags.
	CustomTags map[string]string
}

// New creates Tags for an application and service, with cluster and shard
// unset.
func New(application, service string) Tags {
	return Tags{Application: application, Service: service}
}

// FromEnv builds Tags from the environment.
func FromEnv(ctx context.Context) (Tags, error) {
	var tags Tags
	if err := envconfig.Process(ctx, &tags); err != nil {
		return Tags{}, fmt.Errorf("process environment: %w", err)
	}
	return tags, nil
}

// Validate checks the required hierarchy levels are set.
func (t Tags) Validate() error {
	if t.Application == "" {
		return fmt.Errorf("application name cannot be empty")
	}
	if t.Service == "" {
		return fmt.Errorf("service name cannot be empty")
	}
	return nil
}

// Map renders the hierarchy as point tags, filling unset levels with
// "none" and appending the custom tags.
func (t Tags) Map() map[string]string {
	out := make(map[string]string, 4+len(t.CustomTags))
	for k, v := range t.CustomTags {
		out[k] = v
	}
	out[applicationTag] = orPlaceholder(t.Application)
	out[serviceTag] = orPlaceholder(t.Service)
	out[clusterTag] = orPlaceholder(t.Cluster)
	out[shardTag] = orPlaceholder(t.Shard)
	return out
}

func orPlaceholder(v string) string {
	if v == "" {
		return placeholder
	}
	return v
}
