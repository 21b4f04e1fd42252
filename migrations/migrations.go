// Package migrations links the Go migrations of every database into the
// binary. Each database keeps its steps in a sub-package named after it,
// generated with
//
//	fluentrun create <DatabaseName> <MigrationName>
//
// and blank-imported here once the folder holds its first step:
//
//	import _ "github.com/root-talis/fluentrun/migrations/orders"
//
// SQL steps (V<version>_<name>.up.sql) in the same folders are read at run
// time and need no import.
package migrations
