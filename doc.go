// Copyright 2024-2026 Nexus HTTP Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package connpool multiplexes logical HTTP exchanges onto a bounded,
// shared set of physical connections. HTTP/1.x connections carry one
// exchange at a time; HTTP/2 connections carry many, up to a negotiated
// concurrency that can change at runtime. Connections live in
// protocol-class slots with independent count limits.
//
// [Pool] is the core state machine: callers acquire a [Lease] on one
// unit of connection capacity, waiters queue FIFO (bounded) when
// nothing is available, a pluggable
// [github.com/nexushttp/connpool/selector.Selector] decides which
// eligible connection serves each acquisition, and invalid idle
// connections are evicted without ever interrupting an in-flight
// exchange.
//
// [Endpoint] wraps one pool for one logical destination: it bridges the
// pool to a [github.com/nexushttp/connpool/conn.Connector], enforces
// per-acquisition timeouts, runs periodic eviction, and reference-counts
// live connections so an owning registry can dispose of the endpoint
// once it is closed and drained.
//
// The wire protocols themselves are out of scope: the
// [github.com/nexushttp/connpool/transport] package provides a
// connector that establishes and classifies connections, and the
// protocol layer drives them.
package connpool
