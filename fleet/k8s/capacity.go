package k8s

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/xraph/volley"
	"github.com/xraph/volley/fleet"
)

// Compile-time check that Capacity implements fleet.Capacity.
var _ fleet.Capacity = (*Capacity)(nil)

const gibibyte = 1 << 30

// Capacity implements fleet.Capacity by reading node allocatable resources
// and pod requests from the Kubernetes API.
type Capacity struct {
	client        kubernetes.Interface
	labelSelector string
	resource      corev1.ResourceName
	unit          float64
	logger        *slog.Logger
}

// New creates a Kubernetes capacity source.
func New(client kubernetes.Interface, opts ...Option) *Capacity {
	c := &Capacity{
		client:   client,
		resource: corev1.ResourceMemory,
		unit:     gibibyte,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Nodes implements fleet.Capacity. Unschedulable nodes are skipped and the
// rest are returned sorted by name.
func (c *Capacity) Nodes(ctx context.Context) ([]fleet.NodeID, error) {
	list, err := c.client.CoreV1().Nodes().List(ctx, metav1.ListOptions{
		LabelSelector: c.labelSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("k8s: list nodes: %w", err)
	}

	out := make([]fleet.NodeID, 0, len(list.Items))
	for i := range list.Items {
		n := &list.Items[i]
		if n.Spec.Unschedulable {
			continue
		}
		out = append(out, fleet.NodeID(n.Name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Usage implements fleet.Capacity.
func (c *Capacity) Usage(ctx context.Context, node fleet.NodeID) (fleet.Node, error) {
	n, err := c.client.CoreV1().Nodes().Get(ctx, string(node), metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return fleet.Node{}, fmt.Errorf("k8s: node %q: %w", node, volley.ErrNodeNotFound)
		}
		return fleet.Node{}, fmt.Errorf("k8s: get node: %w", err)
	}

	used, err := c.requested(ctx, string(node))
	if err != nil {
		return fleet.Node{}, err
	}
	return fleet.Node{
		ID:    node,
		Total: c.quantity(n.Status.Allocatable),
		Used:  used,
	}, nil
}

// Snapshot reads every node's usage with one pod listing.
func (c *Capacity) Snapshot(ctx context.Context) ([]fleet.Node, error) {
	ids, err := c.Nodes(ctx)
	if err != nil {
		return nil, err
	}
	byNode, err := c.requestedByNode(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]fleet.Node, 0, len(ids))
	for _, nid := range ids {
		n, getErr := c.client.CoreV1().Nodes().Get(ctx, string(nid), metav1.GetOptions{})
		if getErr != nil {
			c.logger.Warn("node vanished during snapshot",
				slog.String("node", string(nid)),
				slog.String("error", getErr.Error()),
			)
			continue
		}
		out = append(out, fleet.Node{
			ID:    nid,
			Total: c.quantity(n.Status.Allocatable),
			Used:  byNode[string(nid)],
		})
	}
	return out, nil
}

// requested sums the resource requests of the live pods on one node.
func (c *Capacity) requested(ctx context.Context, node string) (float64, error) {
	byNode, err := c.requestedByNode(ctx)
	if err != nil {
		return 0, err
	}
	return byNode[node], nil
}

// requestedByNode lists pods across all namespaces once and groups their
// requests by the node they are bound to.
func (c *Capacity) requestedByNode(ctx context.Context) (map[string]float64, error) {
	pods, err := c.client.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("k8s: list pods: %w", err)
	}

	out := make(map[string]float64)
	for i := range pods.Items {
		pod := &pods.Items[i]
		if pod.Spec.NodeName == "" {
			continue
		}
		switch pod.Status.Phase {
		case corev1.PodSucceeded, corev1.PodFailed:
			continue
		}
		for j := range pod.Spec.Containers {
			out[pod.Spec.NodeName] += c.quantity(pod.Spec.Containers[j].Resources.Requests)
		}
	}
	return out, nil
}

func (c *Capacity) quantity(rl corev1.ResourceList) float64 {
	q, ok := rl[c.resource]
	if !ok {
		return 0
	}
	return q.AsApproximateFloat64() / c.unit
}
