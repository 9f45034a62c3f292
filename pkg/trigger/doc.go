// Package trigger turns snapshot changes into serialized reconciliation
// cycles.
//
// A Watcher observes the snapshot directory with fsnotify, filters file
// names with a glob pattern, debounces bursts of writes and submits each
// freshly parsed snapshot to a Worker. The Worker runs one cycle at a time
// and keeps a single pending slot, so only the newest snapshot waiting
// behind a running cycle is reconciled next. Failed cycles are not retried;
// the next snapshot is.
package trigger
