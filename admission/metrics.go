/*
Licensed to the Apache Software Foundation (ASF) under one
or more contributor license agreements.  See the NOTICE file
distributed with this work for additional information
regarding copyright ownership.  The ASF licenses this file
to you under the Apache License, Version 2.0 (the
"License"); you may not use this file except in compliance
with the License.  You may obtain a copy of the License at

  http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing,
software distributed under the License is distributed on an
"AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
KIND, either express or implied.  See the License for the
specific language governing permissions and limitations
under the License.
*/

package admission

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes admission outcomes and per slice flow usage.
type Metrics struct {
	decisions *prometheus.CounterVec
	flows     *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fsfw",
			Subsystem: "admission",
			Name:      "decisions_total",
			Help:      "Flow modification requests by admission verdict.",
		}, []string{"verdict"}),
		flows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fsfw",
			Name:      "slice_flows",
			Help:      "Flow entries currently accounted to a slice on a switch.",
		}, []string{"switch", "slice"}),
	}

	if reg != nil {
		reg.MustRegister(m.decisions, m.flows)
	}

	return m
}

func (m *Metrics) observe(d Decision) {
	if m == nil {
		return
	}

	m.decisions.WithLabelValues(d.Verdict.String()).Inc()
}

func (m *Metrics) setFlows(dpid, slice string, n int) {
	if m == nil {
		return
	}

	m.flows.WithLabelValues(dpid, slice).Set(float64(n))
}

func (m *Metrics) forget(dpid, slice string) {
	if m == nil {
		return
	}

	m.flows.DeleteLabelValues(dpid, slice)
}
