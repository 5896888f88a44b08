package scaler

import (
	"context"
	"fmt"
	"sync"

	"github.com/S-Corkum/caching-platform/internal/balancer"
)

// NodeProvisioner creates and destroys Redis capacity. The platform ships
// a static single-host implementation; Kubernetes or cloud provisioners
// plug in behind the same interface.
type NodeProvisioner interface {
	// Provision brings up the node with the given ordinal and returns its
	// connection details.
	Provision(ctx context.Context, ordinal int) (balancer.Node, error)
	// Decommission tears the node down after it has been drained.
	Decommission(ctx context.Context, node balancer.Node) error
}

// ClusterOps covers post-scaling cluster maintenance
type ClusterOps interface {
	// Rebalance redistributes load after membership changes.
	Rebalance(ctx context.Context) error
	// VerifyHealth confirms the cluster is serving after a change.
	VerifyHealth(ctx context.Context) error
}

// StaticProvisioner mints node records pointing at a fixed host with
// incrementing ports. It performs no real provisioning; it exists for
// single-host deployments and local development.
type StaticProvisioner struct {
	Host     string
	BasePort int
}

// Provision implements NodeProvisioner
func (p *StaticProvisioner) Provision(ctx context.Context, ordinal int) (balancer.Node, error) {
	return balancer.Node{
		ID:   fmt.Sprintf("redis-node-%d", ordinal),
		Host: p.Host,
		Port: p.BasePort + ordinal - 1,
	}, nil
}

// Decommission implements NodeProvisioner
func (p *StaticProvisioner) Decommission(ctx context.Context, node balancer.Node) error {
	return nil
}

// RecordingProvisioner captures provisioning calls for tests
type RecordingProvisioner struct {
	mu             sync.Mutex
	Provisioned    []int
	Decommissioned []string
	ProvisionErr   error
}

// Provision implements NodeProvisioner
func (p *RecordingProvisioner) Provision(ctx context.Context, ordinal int) (balancer.Node, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ProvisionErr != nil {
		return balancer.Node{}, p.ProvisionErr
	}
	p.Provisioned = append(p.Provisioned, ordinal)
	return balancer.Node{
		ID:   fmt.Sprintf("redis-node-%d", ordinal),
		Host: "127.0.0.1",
		Port: 6379 + ordinal,
	}, nil
}

// Decommission implements NodeProvisioner
func (p *RecordingProvisioner) Decommission(ctx context.Context, node balancer.Node) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Decommissioned = append(p.Decommissioned, node.ID)
	return nil
}

// BalancerOps verifies cluster health through the load balancer's view.
// Rebalancing is implicit: the consistent-hash ring rebuilds on every
// membership change.
type BalancerOps struct {
	Balancer *balancer.Balancer
}

// Rebalance implements ClusterOps
func (o *BalancerOps) Rebalance(ctx context.Context) error {
	return nil
}

// VerifyHealth implements ClusterOps
func (o *BalancerOps) VerifyHealth(ctx context.Context) error {
	return o.Balancer.CheckHealth(ctx)
}
