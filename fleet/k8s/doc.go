// Package k8s provides a Kubernetes-backed fleet.Capacity.
//
// Nodes are discovered with an optional label selector. A node's total is
// its allocatable amount of one resource (memory by default, in GiB) and its
// usage is the sum of that resource's requests over the non-terminated pods
// scheduled on it.
//
// Example:
//
//	client := kubernetes.NewForConfigOrDie(cfg)
//	capacity := k8s.New(client, k8s.WithLabelSelector("volley.io/pool=batch"))
//	nodes, _ := capacity.Nodes(ctx)
package k8s
