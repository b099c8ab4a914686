package k8s

import (
	"context"
	"errors"
	"math"
	"testing"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/xraph/volley"
)

// newTestCapacity creates a Capacity backed by the fake K8s client with the
// given objects pre-created.
func newTestCapacity(t *testing.T, nodes []*corev1.Node, pods []*corev1.Pod, opts ...Option) *Capacity {
	t.Helper()
	ctx := context.Background()
	cs := fake.NewClientset()
	for _, n := range nodes {
		if _, err := cs.CoreV1().Nodes().Create(ctx, n, metav1.CreateOptions{}); err != nil {
			t.Fatalf("create node: %v", err)
		}
	}
	for _, p := range pods {
		if _, err := cs.CoreV1().Pods(p.Namespace).Create(ctx, p, metav1.CreateOptions{}); err != nil {
			t.Fatalf("create pod: %v", err)
		}
	}
	return New(cs, opts...)
}

func makeNode(name, memory string, labels map[string]string) *corev1.Node {
	return &corev1.Node{
		ObjectMeta: metav1.ObjectMeta{Name: name, Labels: labels},
		Status: corev1.NodeStatus{
			Allocatable: corev1.ResourceList{
				corev1.ResourceMemory: resource.MustParse(memory),
				corev1.ResourceCPU:    resource.MustParse("8"),
			},
		},
	}
}

func makePod(name, node, memory string, phase corev1.PodPhase) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{Name: name, Namespace: "batch"},
		Spec: corev1.PodSpec{
			NodeName: node,
			Containers: []corev1.Container{{
				Name: "main",
				Resources: corev1.ResourceRequirements{
					Requests: corev1.ResourceList{
						corev1.ResourceMemory: resource.MustParse(memory),
						corev1.ResourceCPU:    resource.MustParse("500m"),
					},
				},
			}},
		},
		Status: corev1.PodStatus{Phase: phase},
	}
}

func TestNodes_SortedAndFiltered(t *testing.T) {
	cordoned := makeNode("c", "4Gi", nil)
	cordoned.Spec.Unschedulable = true
	c := newTestCapacity(t,
		[]*corev1.Node{
			makeNode("b", "16Gi", map[string]string{"pool": "batch"}),
			makeNode("a", "32Gi", map[string]string{"pool": "batch"}),
			makeNode("x", "8Gi", map[string]string{"pool": "web"}),
			cordoned,
		},
		nil,
	)

	ids, err := c.Nodes(context.Background())
	if err != nil {
		t.Fatalf("Nodes: %v", err)
	}
	if len(ids) != 3 || ids[0] != "a" || ids[1] != "b" || ids[2] != "x" {
		t.Fatalf("nodes = %v, want [a b x]", ids)
	}

	c.labelSelector = "pool=batch"
	ids, err = c.Nodes(context.Background())
	if err != nil {
		t.Fatalf("Nodes: %v", err)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("selected nodes = %v, want [a b]", ids)
	}
}

func TestUsage_SumsLivePodRequests(t *testing.T) {
	c := newTestCapacity(t,
		[]*corev1.Node{makeNode("a", "32Gi", nil), makeNode("b", "16Gi", nil)},
		[]*corev1.Pod{
			makePod("p1", "a", "4Gi", corev1.PodRunning),
			makePod("p2", "a", "2Gi", corev1.PodPending),
			makePod("p3", "a", "8Gi", corev1.PodSucceeded),
			makePod("p4", "b", "1Gi", corev1.PodRunning),
			makePod("p5", "", "1Gi", corev1.PodPending),
		},
	)

	n, err := c.Usage(context.Background(), "a")
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if n.Total != 32 || n.Used != 6 {
		t.Errorf("usage = %+v, want total 32 used 6", n)
	}
	if n.Free() != 26 {
		t.Errorf("free = %g, want 26", n.Free())
	}
}

func TestUsage_UnknownNode(t *testing.T) {
	c := newTestCapacity(t, nil, nil)
	_, err := c.Usage(context.Background(), "ghost")
	if !errors.Is(err, volley.ErrNodeNotFound) {
		t.Fatalf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestWithResource_CPU(t *testing.T) {
	c := newTestCapacity(t,
		[]*corev1.Node{makeNode("a", "32Gi", nil)},
		[]*corev1.Pod{makePod("p1", "a", "1Gi", corev1.PodRunning)},
		WithResource(corev1.ResourceCPU, 1),
	)
	n, err := c.Usage(context.Background(), "a")
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	if n.Total != 8 || math.Abs(n.Used-0.5) > 1e-9 {
		t.Errorf("cpu usage = %+v, want total 8 used 0.5", n)
	}
}

func TestSnapshot(t *testing.T) {
	c := newTestCapacity(t,
		[]*corev1.Node{makeNode("a", "32Gi", nil), makeNode("b", "16Gi", nil)},
		[]*corev1.Pod{makePod("p1", "b", "4Gi", corev1.PodRunning)},
	)
	nodes, err := c.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("snapshot = %+v", nodes)
	}
	if nodes[0].ID != "a" || nodes[0].Used != 0 {
		t.Errorf("node a = %+v", nodes[0])
	}
	if nodes[1].ID != "b" || nodes[1].Total != 16 || nodes[1].Used != 4 {
		t.Errorf("node b = %+v", nodes[1])
	}
}
