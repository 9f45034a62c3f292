// Package stores provides the SQLite module registry behind the local
// runtime. It keeps one row per installed module, including the bootstrap
// module at ID 0, and an append-only lifecycle event log. The schema is
// managed with golang-migrate from embedded migrations.
package stores
