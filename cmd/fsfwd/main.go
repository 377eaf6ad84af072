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

package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"k8s.io/klog"

	"github.com/k-vswitch/flowspace-firewall/admission"
	"github.com/k-vswitch/flowspace-firewall/connection"
	"github.com/k-vswitch/flowspace-firewall/proxy"
	"github.com/k-vswitch/flowspace-firewall/topology"
)

const (
	defaultConfigPath     = "/etc/fsf/fsf.xml"
	defaultListenAddress  = ":6653"
	defaultMetricsAddress = ":9153"
)

func main() {
	var configPath string
	var schemaPath string
	var validate bool
	var listenAddress string
	var metricsAddress string
	var allowOverlap bool

	flag.StringVar(&configPath, "config", defaultConfigPath, "Path to the topology document.")
	flag.StringVar(&schemaPath, "schema", "", "Path to an XSD the topology document is validated against, the built-in schema is used when empty.")
	flag.BoolVar(&validate, "validate", true, "Validate the topology document against the schema before resolving it.")
	flag.StringVar(&listenAddress, "listen-address", defaultListenAddress, "The address switches connect to.")
	flag.StringVar(&metricsAddress, "metrics-address", defaultMetricsAddress, "The address prometheus metrics are served on, disabled when empty.")
	flag.BoolVar(&allowOverlap, "allow-overlap", false, "Keep slices whose port and vlan entitlements overlap instead of dropping the later one.")

	klog.InitFlags(flag.CommandLine)
	flag.Parse()

	klog.Info("starting flowspace-firewall")

	resolver, err := newResolver(schemaPath, validate, allowOverlap)
	if err != nil {
		klog.Errorf("error loading schema: %v", err)
		os.Exit(1)
	}

	topo, err := loadTopology(resolver, configPath)
	if err != nil {
		klog.Errorf("error loading topology: %v", err)
		os.Exit(1)
	}

	engine := admission.NewEngine(topo, admission.WithMetrics(admission.NewMetrics(prometheus.DefaultRegisterer)))
	p := proxy.New(engine)

	listener, err := connection.Listen(listenAddress)
	if err != nil {
		klog.Errorf("error listening on %q: %v", listenAddress, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	term := make(chan os.Signal, 1)
	signal.Notify(term, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for sig := range term {
			if sig != syscall.SIGHUP {
				klog.Infof("received %s, shutting down", sig)
				cancel()
				return
			}

			reload(resolver, configPath, p)
		}
	}()

	if metricsAddress != "" {
		go serveMetrics(ctx, metricsAddress)
	}

	if err := p.Serve(ctx, listener); err != nil {
		klog.Errorf("error serving switch connections: %v", err)
		os.Exit(1)
	}
}

func newResolver(schemaPath string, validate, allowOverlap bool) (*topology.Resolver, error) {
	var opts []topology.Option

	if validate {
		schema, err := topology.LoadSchema(schemaPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, topology.WithSchema(schema))
	}

	if allowOverlap {
		opts = append(opts, topology.WithOverlapPolicy(topology.OverlapAllow))
	}

	return topology.NewResolver(opts...), nil
}

// loadTopology resolves the document at path. Errors scoped to one slice or
// switch are logged and leave the rest of the topology usable; only a
// document that cannot be read at all is an error.
func loadTopology(resolver *topology.Resolver, path string) (*topology.Topology, error) {
	topo, err := resolver.ResolveFile(path)
	if topology.IsFatal(err) {
		return nil, err
	}

	for _, e := range multierr.Errors(err) {
		klog.Warningf("ignoring invalid configuration in %s: %v", path, e)
	}

	klog.Infof("loaded topology from %s with slices %v", path, topo.SliceNames())
	for _, dpid := range topo.Sanitizer.Switches() {
		klog.V(4).Infof("reject policy:\n%s", topo.Sanitizer.Dump(dpid))
	}

	return topo, nil
}

// reload swaps in the topology at path. A document that cannot be loaded
// keeps the current topology in place.
func reload(resolver *topology.Resolver, path string, p *proxy.Proxy) {
	klog.Infof("reloading topology from %s", path)

	topo, err := loadTopology(resolver, path)
	if err != nil {
		klog.Errorf("error reloading topology, keeping the current one: %v", err)
		return
	}

	p.Reload(topo)
}

func serveMetrics(ctx context.Context, address string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: address, Handler: mux}
	go func() {
		<-ctx.Done()
		server.Close()
	}()

	klog.Infof("serving metrics on %s", address)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		klog.Errorf("error serving metrics: %v", err)
	}
}
