// Package agent runs reconciliation cycles.
//
// A cycle takes one configuration snapshot through the whole pipeline:
// repositories are loaded into a catalog, the requested features are
// expanded to their closure, module addresses are fetched and decoded, the
// resolver picks the artifact set, the planner classifies it against the
// installed modules, the policy engine vets the plan, and the executor
// applies it to the runtime.
//
// Every step before execution fails without mutating the runtime. A
// snapshot that names a framework is handed to the FrameworkHandler
// instead.
package agent
