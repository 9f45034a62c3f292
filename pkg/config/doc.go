// Package config decodes everything the agent reads from outside: the
// desired-state snapshot, feature repository documents and module
// descriptors.
//
// # Snapshots
//
// A snapshot is a flat key/value map. Recognized keys:
//
//	framework          replacement runtime core address; skips reconciliation
//	repository.<id>    repository location (with an empty value, <id> is the location)
//	feature.<id>       feature request, name[/constraint]
//	bundle.<id>        raw module address installed unconditionally
//
// SnapshotLoader reads snapshots from .properties/.cfg files, flat YAML maps
// or Starlark scripts. In a script every string global becomes a key, and a
// global dict named properties supplies keys that are not identifiers:
//
//	_repo = "file:///srv/repo"
//	properties = {
//	    "repository.main": _repo + "/index.yaml",
//	    "feature.web": "web/[1.0,2.0)",
//	    "feature.role": env("NODE_ROLE", "edge") + "/1.0",
//	}
//
// Scripts run with a timeout, print suppressed and no I/O other than env().
//
// # Repository Documents
//
// Decoder.DecodeRepository accepts YAML (and JSON) or CUE, picked by the
// location's extension. CUE documents are closed by the built-in
// #Repository definition before decoding; both forms are then checked
// with validator struct tags:
//
//	name: core
//	repositories: [file:///srv/repo/extra.yaml]
//	features:
//	  - name: demo
//	    version: 1.0.0
//	    dependencies: [{name: base, version: "[1.0,2.0)"}]
//	    modules:
//	      - file:///srv/modules/m-1.0.0.yaml
//	      - {location: "capability:http;version=[1.0,2.0)", transitive: true}
//	modules:
//	  - location: file:///srv/modules/http-1.2.0.yaml
//	    module: {name: http, version: 1.2.0, provides: [{name: http, version: 1.2.0}]}
//
// # Error Handling
//
// Every decoding failure is an engine Configuration error wrapping a
// *DocumentError, which lists each problem with file, line and path when
// known.
package config
