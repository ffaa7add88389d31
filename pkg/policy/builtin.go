package policy

// BuiltinPolicies returns the protection policies shipped with the janitor.
func BuiltinPolicies() []Policy {
	return []Policy{
		protectTagPolicy(),
		keepUntilPolicy(),
	}
}

// protectTagPolicy keeps anything explicitly tagged for protection.
func protectTagPolicy() Policy {
	return Policy{
		Name:        "protect-tag",
		Description: "Keeps resources tagged cj:protect=true or do-not-delete=true",
		Enabled:     true,
		Rego: `package janitor

import rego.v1

protect_tags := {"cj:protect", "do-not-delete"}

protect contains reason if {
	some key in protect_tags
	lower(input.resource.tags[key]) == "true"
	reason := sprintf("tagged %s", [key])
}
`,
	}
}

// keepUntilPolicy keeps resources whose cj:keep-until tag lies in the future.
func keepUntilPolicy() Policy {
	return Policy{
		Name:        "keep-until",
		Description: "Keeps resources until the RFC 3339 time in their cj:keep-until tag",
		Enabled:     true,
		Rego: `package janitor

import rego.v1

protect contains reason if {
	until := input.resource.tags["cj:keep-until"]
	time.parse_rfc3339_ns(until) > time.parse_rfc3339_ns(input.context.now)
	reason := sprintf("kept until %s", [until])
}

protect contains reason if {
	until := input.resource.tags["cj:keep-until"]
	not time.parse_rfc3339_ns(until)
	reason := sprintf("unreadable cj:keep-until %q", [until])
}
`,
	}
}
