// Package stores keeps the report of a janitor run in a SQLite database
// inside the execution directory: the run itself, one record per submitted
// task and the lifecycle event log. The report is an artifact for `cj
// report`; runs are never resumed from it.
package stores
