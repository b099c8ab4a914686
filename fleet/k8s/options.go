package k8s

import (
	"log/slog"

	corev1 "k8s.io/api/core/v1"
)

// Option configures a Capacity.
type Option func(*Capacity)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Capacity) { c.logger = l }
}

// WithLabelSelector restricts node discovery to nodes matching sel.
// Default: every node.
func WithLabelSelector(sel string) Option {
	return func(c *Capacity) { c.labelSelector = sel }
}

// WithResource measures capacity in resource, divided by unit. Default:
// memory in GiB.
func WithResource(resource corev1.ResourceName, unit float64) Option {
	return func(c *Capacity) {
		c.resource = resource
		if unit > 0 {
			c.unit = unit
		}
	}
}
