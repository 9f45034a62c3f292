// Package runtime provides a local modular runtime behind engine.Runtime.
//
// Modules live in a stores.Store registry as manifest header sets decoded
// from module descriptors. Module 0 is the bootstrap module; its offerings
// are the system capabilities. Lifecycle follows the usual modular runtime
// states:
//
//	installed -> resolved -> active -> stopped
//
// Install and Update leave a module installed. Refresh runs in the
// background, moves every module whose mandatory requirements are
// satisfied to resolved (and anything that lost a provider back to
// installed), then signals OnRefreshed listeners. Start requires a
// resolvable module and refuses extensions.
//
// The store must be initialized before Open; Open applies migrations.
package runtime
