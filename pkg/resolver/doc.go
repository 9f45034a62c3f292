// Package resolver turns module references into a consistent set of
// concrete artifacts.
//
// Inputs are the fetched candidate artifacts (the synthetic repository),
// abstract requirement strings, the offerings advertised by loaded
// repositories and the capabilities the runtime already provides. Every
// primary candidate and every requirement string is an explicit target.
// Each mandatory requirement of a selected artifact is satisfied from, in
// order, the system capabilities, the artifacts already selected and the
// pool. The pool lists synthetic candidates before repository offerings,
// then higher versions first, so the walk is deterministic for a given
// input. Optional requirements are not followed.
//
// A requirement may carry a CEL filter evaluated against each candidate
// capability:
//
//	capability:http;version=[1.0,2.0);filter=attrs["tls"] == "true" && semver(version, ">=1.2.0")
//
// The filter sees name, version, kind and attrs.
package resolver
