// Package config loads the janitor configuration with viper and validates it
// with go-playground/validator.
//
// Values come from, in increasing precedence: built-in defaults, a YAML file
// (--config, or cj.yaml in the home directory), CJ_ environment variables
// with dots replaced by underscores (CJ_AWS_FILTER_PREFIX for
// aws.filter_prefix), and command-line overrides.
//
// A loaded Config is the second tier of task input resolution: every input
// bound to a configuration path is looked up through Config.Lookup.
//
// Example cj.yaml:
//
//	capabilities: [CLOUD_DELETE_RESOURCES]
//	parallel: true
//	aws:
//	  region: eu-west-1
//	  filter_prefix: ci-
//	policy:
//	  paths: [/etc/cj/policies]
//	logging:
//	  level: debug
package config
