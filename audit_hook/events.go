package audithook

// Audit event actions. Each constant corresponds to one ext lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionTargetChanged    = "target.changed"
	ActionModeChanged      = "mode.changed"
	ActionPlanChanged      = "plan.changed"
	ActionNodeCancelled    = "node.cancelled"
	ActionDispatchLaunched = "dispatch.launched"
	ActionDispatchRejected = "dispatch.rejected"
	ActionShutdown         = "scheduler.shutdown"
)

// Audit event categories group related actions.
const (
	CategoryTarget    = "volley.target"
	CategoryNode      = "volley.node"
	CategoryDispatch  = "volley.dispatch"
	CategoryScheduler = "volley.scheduler"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceTarget    = "target"
	ResourceNode      = "node"
	ResourceDispatch  = "dispatch"
	ResourceScheduler = "scheduler"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionTargetChanged,
		ActionModeChanged,
		ActionPlanChanged,
		ActionNodeCancelled,
		ActionDispatchLaunched,
		ActionDispatchRejected,
		ActionShutdown,
	}
}
