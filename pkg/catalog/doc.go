// Package catalog loads feature repositories and answers feature queries.
//
// A Loader fetches a repository document, decodes it and follows every
// repository it references. The map of loaded URIs is checked before each
// fetch, so a repository is fetched at most once per Loader and reference
// cycles terminate. Loaders are meant to live for one reconciliation cycle.
//
// The loaded repositories are frozen into a Catalog: an immutable index of
// features by name and of the module offerings the repositories advertise.
// FindFeature picks the greatest version satisfying a constraint, and
// Closure expands requested features over their dependencies depth-first.
package catalog
