// Package balancer distributes tenant traffic across Redis nodes. It
// supports round-robin, least-connections, and consistent-hash selection,
// tracks per-node connection counts against a bound, and drains nodes
// before removal.
package balancer

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/S-Corkum/caching-platform/internal/platform"
	"github.com/S-Corkum/caching-platform/pkg/observability"
)

// Algorithm selects how nodes are chosen
type Algorithm string

const (
	RoundRobin       Algorithm = "round_robin"
	LeastConnections Algorithm = "least_connections"
	ConsistentHash   Algorithm = "consistent_hash"
)

// virtualNodesPerNode is the base ring density for consistent hashing.
// Node weight scales it.
const virtualNodesPerNode = 150

// drainTimeout bounds how long a node removal waits for in-flight
// connections to finish.
const drainTimeout = 30 * time.Second

// nodeSampleCap bounds the per-node response-time window
const nodeSampleCap = 1000

// NodeStatus is the operational state of a node
type NodeStatus string

const (
	NodeOnline      NodeStatus = "online"
	NodeOffline     NodeStatus = "offline"
	NodeMaintenance NodeStatus = "maintenance"
)

// Node is one Redis node in the cluster
type Node struct {
	ID                 string     `json:"id"`
	Host               string     `json:"host"`
	Port               int        `json:"port"`
	Weight             float64    `json:"weight"`
	Status             NodeStatus `json:"status"`
	MaxConnections     int        `json:"max_connections"`
	CurrentConnections int        `json:"current_connections"`
	AddedAt            time.Time  `json:"added_at"`
}

// NodeMetrics is the per-node traffic view
type NodeMetrics struct {
	NodeID             string  `json:"node_id"`
	Healthy            bool    `json:"healthy"`
	Weight             float64 `json:"weight"`
	TotalRequests      int64   `json:"total_requests"`
	CurrentConnections int     `json:"current_connections"`
	MaxConnections     int     `json:"max_connections"`
	AvgResponseTimeMs  float64 `json:"average_response_time_ms"`
}

// Status is the cluster summary returned by get_cluster_status
type Status struct {
	Algorithm    Algorithm              `json:"algorithm"`
	TotalNodes   int                    `json:"total_nodes"`
	HealthyNodes int                    `json:"healthy_nodes"`
	Nodes        map[string]NodeMetrics `json:"nodes"`
}

// HealthProbe checks one node. Implementations ping the node's Redis
// endpoint; tests substitute a canned result.
type HealthProbe func(ctx context.Context, node Node) error

type nodeState struct {
	node     Node
	healthy  bool
	requests int64
	samples  []float64
}

// Balancer is the load balancer
type Balancer struct {
	logger  observability.Logger
	metrics observability.MetricsClient
	clock   platform.Clock
	probe   HealthProbe

	mu        sync.Mutex
	algorithm Algorithm
	nodes     map[string]*nodeState
	ring      []ringEntry
	rrIndex   int
}

type ringEntry struct {
	hash   uint64
	nodeID string
}

// New creates a balancer. The probe may be nil, in which case every node
// is considered healthy until told otherwise.
func New(probe HealthProbe, clock platform.Clock, logger observability.Logger, metrics observability.MetricsClient) *Balancer {
	return &Balancer{
		logger:    logger,
		metrics:   metrics,
		clock:     clock,
		probe:     probe,
		algorithm: RoundRobin,
		nodes:     make(map[string]*nodeState),
	}
}

// AddNode registers a node and rebuilds the hash ring
func (b *Balancer) AddNode(node Node) error {
	if node.ID == "" {
		return platform.New(platform.CodeInvalidArgument, "node id is required")
	}
	if node.Weight <= 0 {
		node.Weight = 1.0
	}
	if node.MaxConnections <= 0 {
		node.MaxConnections = 100
	}
	if node.Status == "" {
		node.Status = NodeOnline
	}
	node.AddedAt = b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.nodes[node.ID]; exists {
		return platform.Newf(platform.CodeAlreadyExists, "node %s already registered", node.ID)
	}
	b.nodes[node.ID] = &nodeState{node: node, healthy: true}
	b.rebuildRing()

	b.logger.Info("node added", map[string]interface{}{
		"node":   node.ID,
		"host":   node.Host,
		"port":   node.Port,
		"weight": node.Weight,
	})
	b.metrics.RecordGauge("cluster_nodes", float64(len(b.nodes)), nil)
	return nil
}

// RemoveNode drains a node's connections (bounded by drainTimeout) and
// unregisters it. The node stops receiving new traffic immediately.
func (b *Balancer) RemoveNode(ctx context.Context, nodeID string) error {
	b.mu.Lock()
	state, exists := b.nodes[nodeID]
	if !exists {
		b.mu.Unlock()
		return platform.Newf(platform.CodeNotFound, "node %s not found", nodeID)
	}
	// Take it out of rotation before draining.
	state.healthy = false
	state.node.Status = NodeMaintenance
	b.rebuildRing()
	b.mu.Unlock()

	b.drain(ctx, nodeID)

	b.mu.Lock()
	delete(b.nodes, nodeID)
	b.rebuildRing()
	remaining := len(b.nodes)
	b.mu.Unlock()

	b.logger.Info("node removed", map[string]interface{}{"node": nodeID})
	b.metrics.RecordGauge("cluster_nodes", float64(remaining), nil)
	return nil
}

func (b *Balancer) drain(ctx context.Context, nodeID string) {
	deadline := b.clock.Now().Add(drainTimeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		b.mu.Lock()
		state, exists := b.nodes[nodeID]
		open := 0
		if exists {
			open = state.node.CurrentConnections
		}
		b.mu.Unlock()

		if !exists || open == 0 {
			return
		}
		if b.clock.Now().After(deadline) {
			b.logger.Warn("node drain timed out with open connections", map[string]interface{}{
				"node":        nodeID,
				"connections": open,
			})
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SetAlgorithm switches the selection algorithm
func (b *Balancer) SetAlgorithm(algorithm Algorithm) error {
	switch algorithm {
	case RoundRobin, LeastConnections, ConsistentHash:
	default:
		return platform.Newf(platform.CodeInvalidValue, "unknown load balancing algorithm %q", algorithm)
	}
	b.mu.Lock()
	b.algorithm = algorithm
	b.mu.Unlock()
	b.logger.Info("load balancing algorithm changed", map[string]interface{}{"algorithm": string(algorithm)})
	return nil
}

// SetNodeWeight changes a node's ring weight
func (b *Balancer) SetNodeWeight(nodeID string, weight float64) error {
	if weight <= 0 {
		return platform.New(platform.CodeInvalidValue, "node weight must be positive")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	state, exists := b.nodes[nodeID]
	if !exists {
		return platform.Newf(platform.CodeNotFound, "node %s not found", nodeID)
	}
	state.node.Weight = weight
	b.rebuildRing()
	return nil
}

// SelectNode picks a node for a tenant request. Only healthy nodes are
// candidates; with none available the request is rejected as unavailable.
func (b *Balancer) SelectNode(tenantID, key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	available := b.healthyIDsLocked()
	if len(available) == 0 {
		return "", platform.New(platform.CodeUnavailable, "no healthy nodes available")
	}

	switch b.algorithm {
	case LeastConnections:
		return b.leastConnectionsLocked(available), nil
	case ConsistentHash:
		return b.consistentHashLocked(tenantID, key), nil
	default:
		node := available[b.rrIndex%len(available)]
		b.rrIndex = (b.rrIndex + 1) % len(available)
		return node, nil
	}
}

// healthyIDsLocked returns healthy node ids in stable order
func (b *Balancer) healthyIDsLocked() []string {
	ids := make([]string, 0, len(b.nodes))
	for id, state := range b.nodes {
		if state.healthy {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (b *Balancer) leastConnectionsLocked(available []string) string {
	selected := available[0]
	min := b.nodes[selected].node.CurrentConnections
	for _, id := range available[1:] {
		if c := b.nodes[id].node.CurrentConnections; c < min {
			min = c
			selected = id
		}
	}
	return selected
}

// consistentHashLocked walks the ring to the first virtual node at or
// after the request hash. Ring entries for unhealthy nodes are skipped so
// keys spill to the next node instead of failing.
func (b *Balancer) consistentHashLocked(tenantID, key string) string {
	hashKey := tenantID
	if key != "" {
		hashKey = tenantID + ":" + key
	}
	h := hashOf(hashKey)

	idx := sort.Search(len(b.ring), func(i int) bool { return b.ring[i].hash >= h })
	for i := 0; i < len(b.ring); i++ {
		entry := b.ring[(idx+i)%len(b.ring)]
		if state, ok := b.nodes[entry.nodeID]; ok && state.healthy {
			return entry.nodeID
		}
	}
	// Unreachable while at least one healthy node exists.
	return ""
}

// rebuildRing regenerates the virtual-node ring. Weight scales the number
// of virtual nodes each physical node contributes.
func (b *Balancer) rebuildRing() {
	ring := make([]ringEntry, 0, len(b.nodes)*virtualNodesPerNode)
	for id, state := range b.nodes {
		if !state.healthy {
			continue
		}
		count := int(float64(virtualNodesPerNode) * state.node.Weight)
		if count < 1 {
			count = 1
		}
		for i := 0; i < count; i++ {
			ring = append(ring, ringEntry{
				hash:   hashOf(fmt.Sprintf("%s#%d", id, i)),
				nodeID: id,
			})
		}
	}
	sort.Slice(ring, func(i, j int) bool { return ring[i].hash < ring[j].hash })
	b.ring = ring
}

func hashOf(s string) uint64 {
	sum := md5.Sum([]byte(s))
	return binary.BigEndian.Uint64(sum[:8])
}

// AcquireConnection reserves a connection slot on a node. At the bound the
// request is rejected rather than queued.
func (b *Balancer) AcquireConnection(nodeID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, exists := b.nodes[nodeID]
	if !exists {
		return platform.Newf(platform.CodeNotFound, "node %s not found", nodeID)
	}
	if state.node.CurrentConnections >= state.node.MaxConnections {
		return platform.Newf(platform.CodeUnavailable, "node %s at maximum connections", nodeID)
	}
	state.node.CurrentConnections++
	return nil
}

// ReleaseConnection returns a connection slot. Releases never go below
// zero.
func (b *Balancer) ReleaseConnection(nodeID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if state, exists := b.nodes[nodeID]; exists {
		if state.node.CurrentConnections > 0 {
			state.node.CurrentConnections--
		}
	}
}

// RecordRequest folds one completed request into a node's stats
func (b *Balancer) RecordRequest(nodeID string, responseTimeMs float64, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, exists := b.nodes[nodeID]
	if !exists {
		return
	}
	state.requests++
	state.samples = append(state.samples, responseTimeMs)
	if len(state.samples) > nodeSampleCap {
		state.samples = state.samples[len(state.samples)-nodeSampleCap:]
	}
}

// SetNodeHealth marks a node healthy or unhealthy and updates the ring
func (b *Balancer) SetNodeHealth(nodeID string, healthy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, exists := b.nodes[nodeID]
	if !exists {
		return
	}
	if state.healthy == healthy {
		return
	}
	state.healthy = healthy
	if healthy {
		state.node.Status = NodeOnline
	} else {
		state.node.Status = NodeOffline
	}
	b.rebuildRing()
	b.metrics.RecordHealthStatus("node:"+nodeID, healthy)
}

// CheckHealth probes every node once and updates health flags. Used as the
// body of the balancer's periodic health loop.
func (b *Balancer) CheckHealth(ctx context.Context) error {
	if b.probe == nil {
		return nil
	}

	b.mu.Lock()
	nodes := make([]Node, 0, len(b.nodes))
	for _, state := range b.nodes {
		nodes = append(nodes, state.node)
	}
	b.mu.Unlock()

	for _, node := range nodes {
		err := b.probe(ctx, node)
		if err != nil {
			b.logger.Warn("node health probe failed", map[string]interface{}{
				"node":  node.ID,
				"error": err.Error(),
			})
		}
		b.SetNodeHealth(node.ID, err == nil)
	}
	return nil
}

// NodeMetricsFor returns the traffic view for one node
func (b *Balancer) NodeMetricsFor(nodeID string) (NodeMetrics, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, exists := b.nodes[nodeID]
	if !exists {
		return NodeMetrics{}, platform.Newf(platform.CodeNotFound, "node %s not found", nodeID)
	}
	return b.nodeMetricsLocked(nodeID, state), nil
}

func (b *Balancer) nodeMetricsLocked(nodeID string, state *nodeState) NodeMetrics {
	m := NodeMetrics{
		NodeID:             nodeID,
		Healthy:            state.healthy,
		Weight:             state.node.Weight,
		TotalRequests:      state.requests,
		CurrentConnections: state.node.CurrentConnections,
		MaxConnections:     state.node.MaxConnections,
	}
	if len(state.samples) > 0 {
		var sum float64
		for _, v := range state.samples {
			sum += v
		}
		m.AvgResponseTimeMs = sum / float64(len(state.samples))
	}
	return m
}

// ClusterStatus returns the cluster summary
func (b *Balancer) ClusterStatus() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	status := Status{
		Algorithm: b.algorithm,
		Nodes:     make(map[string]NodeMetrics, len(b.nodes)),
	}
	for id, state := range b.nodes {
		status.TotalNodes++
		if state.healthy {
			status.HealthyNodes++
		}
		status.Nodes[id] = b.nodeMetricsLocked(id, state)
	}
	return status
}

// NodeCount returns the number of registered nodes
func (b *Balancer) NodeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.nodes)
}

// Nodes returns copies of all registered nodes sorted by id
func (b *Balancer) Nodes() []Node {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Node, 0, len(b.nodes))
	for _, state := range b.nodes {
		out = append(out, state.node)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
