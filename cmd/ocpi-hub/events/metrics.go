// Copyright 2024 eMobility Hub GmbH
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

package events

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tallies per-endpoint request/response counts from the event
// stream. It is an explicit collaborator instead of process-global counters
// so the core stays testable in isolation.
type Metrics struct {
	requests  *prometheus.CounterVec
	responses *prometheus.CounterVec
	changes   *prometheus.CounterVec
}

// NewMetrics registers the collectors and starts consuming the bus.
func NewMetrics(bus *Bus, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ocpihub_requests_total",
			Help: "Requests received per endpoint and method",
		}, []string{"endpoint", "method"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ocpihub_responses_total",
			Help: "Responses sent per endpoint and OCPI status code",
		}, []string{"endpoint", "status_code"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ocpihub_resource_changes_total",
			Help: "Resource changes per resource type and kind",
		}, []string{"resource", "change"}),
	}
	registerer.MustRegister(m.requests, m.responses, m.changes)

	go m.consume(bus.Subscribe("metrics", 1024))
	return m
}

func (m *Metrics) consume(events <-chan Event) {
	for event := range events {
		switch event.Type {
		case RequestReceived:
			m.requests.WithLabelValues(event.Endpoint, event.Method).Inc()
		case ResponseSent:
			m.responses.WithLabelValues(event.Endpoint, strconv.Itoa(event.StatusCode)).Inc()
		case ResourceChanged:
			m.changes.WithLabelValues(event.Resource, string(event.Change)).Inc()
		}
	}
}
