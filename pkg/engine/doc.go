// Package engine provides the core types of the froyo-agent reconciliation
// engine: the module data model, the error taxonomy, the diff planner and the
// plan executor.
//
// # Overview
//
// One reconciliation cycle converges the live runtime to a desired set of
// resolved artifacts:
//
//  1. Plan - classify installed modules against the desired set (Planner)
//  2. Guard - check the plan against policy (PolicyEngine)
//  3. Execute - apply the plan and refresh affected modules (Executor)
//
// Catalog loading, feature closure, artifact resolution and fetching happen
// before planning in the catalog, resolver and fetch packages. Everything in
// this package operates on point-in-time snapshots; only the Executor
// touches the Runtime.
//
// # Planning
//
// The Planner produces four disjoint sets:
//
//   - Ignore: installed modules whose name and version match a desired artifact
//   - Update: installed modules replaced in place by a desired artifact of the
//     same name inside the minor window [major.minor.0, major.(minor+1).0)
//   - Delete: installed modules nothing desires
//   - Install: desired artifacts with no installed counterpart
//
// The bootstrap module (ID 0) is never classified.
//
// # Execution
//
// The Executor runs the steps in a fixed order:
//
//	delete -> update -> install -> propagate-extensions ->
//	propagate-optional -> refresh -> start
//
// The refresh step waits for the runtime's completion signal for at most
// ExecutorConfig.RefreshTimeout. A timeout is logged and reported in
// ExecutionResult.RefreshTimedOut but is not an error.
//
// # Error Classification
//
// Errors carry a class for retry decisions and a code for the failure
// category:
//
//   - ErrCodeConfiguration, ErrCodeFeatureNotFound: bad repositories or feature requests
//   - ErrCodeResolution: no consistent artifact set
//   - ErrCodeFetch: an artifact or repository could not be downloaded
//   - ErrCodePolicyDenied: the plan guard refused the plan
//   - ErrCodeExecution: a runtime mutation failed
//
// IsPreMutation separates failures that guarantee an untouched runtime from
// execution failures:
//
//	if engine.IsPreMutation(err) {
//	    // runtime unchanged, wait for the next snapshot
//	}
package engine
