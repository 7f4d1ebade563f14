// Package cache implements the persistent, namespaced request → response store the
// offline proxy serves from. A Storage holds named namespaces (one per purpose and
// version tag); each namespace is a Cache of full response snapshots keyed by request
// URL, with Vary-aware matching. Three backends share the contract: a disk layout using
// temp file + rename (fs), a SQLite database (sqlite) and an in-process map (memory).
// Strategy handlers in package sw depend on this package and never touch the backends
// directly.
package cache
