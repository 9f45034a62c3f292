package policy

import (
	"time"
)

// ProtectedDataPath is where the protected module patterns live in the data
// document. Policies read them as data.froyo.protected.
const ProtectedDataPath = "/froyo/protected"

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		protectedModulesPolicy(),
		bootstrapModulePolicy(),
		downgradePolicy(),
		insecureLocationPolicy(),
	}
}

// protectedModulesPolicy refuses to delete modules matching a protected pattern.
func protectedModulesPolicy() Policy {
	return Policy{
		Name:        "protected-modules",
		Description: "Modules whose name matches a protected pattern are never deleted",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package froyo.policies.protected

import rego.v1

deny contains violation if {
	some m in input.plan.delete
	some pattern in data.froyo.protected
	glob.match(pattern, null, m.name)
	violation := {
		"message": sprintf("module %s matches protected pattern %q and cannot be deleted", [m.name, pattern]),
		"severity": "error",
		"resource": sprintf("%s@%s", [m.name, m.version]),
	}
}
`,
	}
}

// bootstrapModulePolicy refuses any action on the runtime's own module.
func bootstrapModulePolicy() Policy {
	return Policy{
		Name:        "bootstrap-module",
		Description: "The bootstrap module (ID 0) is never updated or deleted",
		Severity:    SeverityCritical,
		Enabled:     true,
		Tags:        []string{"safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package froyo.policies.bootstrap

import rego.v1

deny contains violation if {
	some m in input.plan.delete
	m.id == 0
	violation := {
		"message": sprintf("bootstrap module %s cannot be deleted", [m.name]),
		"severity": "critical",
		"resource": sprintf("%s@%s", [m.name, m.version]),
	}
}

deny contains violation if {
	some u in input.plan.update
	u.id == 0
	violation := {
		"message": sprintf("bootstrap module %s cannot be updated", [u.name]),
		"severity": "critical",
		"resource": sprintf("%s@%s", [u.name, u.installed_version]),
	}
}
`,
	}
}

// downgradePolicy reports in-place updates that lower a module's version.
func downgradePolicy() Policy {
	return Policy{
		Name:        "downgrade-warning",
		Description: "Updates that move a module to a lower version are reported",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"versioning"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package froyo.policies.downgrade

import rego.v1

deny contains violation if {
	some u in input.plan.update
	semver.is_valid(u.desired_version)
	semver.is_valid(u.installed_version)
	semver.compare(u.desired_version, u.installed_version) < 0
	violation := {
		"message": sprintf("module %s is downgraded from %s to %s", [u.name, u.installed_version, u.desired_version]),
		"severity": "warning",
		"resource": sprintf("%s@%s", [u.name, u.installed_version]),
	}
}
`,
	}
}

// insecureLocationPolicy reports artifacts fetched over plain HTTP.
func insecureLocationPolicy() Policy {
	return Policy{
		Name:        "insecure-location",
		Description: "Artifacts fetched over plain HTTP are reported",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"transport"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package froyo.policies.transport

import rego.v1

artifacts contains a if {
	some a in input.plan.install
}

artifacts contains a if {
	some u in input.plan.update
	a := {"name": u.name, "version": u.desired_version, "location": u.location}
}

deny contains violation if {
	some a in artifacts
	startswith(lower(a.location), "http://")
	violation := {
		"message": sprintf("module %s is fetched over plain http from %s", [a.name, a.location]),
		"severity": "warning",
		"resource": sprintf("%s@%s", [a.name, a.version]),
	}
}
`,
	}
}
