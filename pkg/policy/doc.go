// Package policy decides, with Open Policy Agent, which resources the
// janitor must leave alone.
//
// Every policy is a Rego module in package janitor that adds reasons to the
// protect set:
//
//	package janitor
//
//	import rego.v1
//
//	protect contains "shared network" if {
//		input.resource.kind == "vpc"
//		input.resource.tags.team == "platform"
//	}
//
// The input document carries the resource (id, kind, name, state, tags,
// attributes) and a context with the evaluation time. A resource with at
// least one reason is protected and its filter skips it.
//
// Two policies are built in: protect-tag keeps anything tagged
// cj:protect=true or do-not-delete=true, and keep-until keeps resources
// whose cj:keep-until tag is still in the future. More can be loaded from
// .rego files, or .json files wrapping a module with a name and description.
package policy
