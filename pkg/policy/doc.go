// Package policy guards reconciliation plans with Open Policy Agent.
//
// Every policy is a Rego module defining a deny set in its package. The
// engine evaluates each enabled policy against the flattened plan and turns
// deny entries into violations. Entries of error or critical severity deny
// the plan; the rest are reported as warnings.
//
// # Input
//
// Policies see the plan as input.plan with ignore, update, delete and install
// lists, and the evaluation context as input.context. Protected module
// patterns are available as data.froyo.protected.
//
//	package custom.policies.pinned
//
//	import rego.v1
//
//	deny contains violation if {
//	    some u in input.plan.update
//	    u.name == "com.acme.billing"
//	    violation := {
//	        "message": "billing is pinned",
//	        "severity": "error",
//	        "resource": u.name,
//	    }
//	}
//
// # Built-in Policies
//
//  1. protected-modules: modules matching a protected pattern are never deleted
//  2. bootstrap-module: module 0 is never updated or deleted
//  3. downgrade-warning: reports updates to a lower version
//  4. insecure-location: reports artifacts fetched over plain http
//
// # Loading
//
// Custom policies are loaded from .rego and .json files or directories with
// Engine.LoadPolicies. Engine.Watch reloads them when the files change.
package policy
