// Package audithook is a volley extension that turns the controller's
// decisions into an audit trail.
//
// Target switches, mode flips, plan changes, node cancellations, dispatch
// launches and rejections each become a structured [AuditEvent] passed to a
// [Recorder]. Severity follows the impact of the decision: routine
// launches are info, cancellations that left dispatches behind and refused
// launches are warnings.
//
// # Logging recorder
//
//	reg.Register(audithook.New(audithook.LogRecorder(logger)))
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionPlanChanged,
//	        audithook.ActionNodeCancelled,
//	    ),
//	)
package audithook
