// Package gormstore is the PostgreSQL-backed sibling of
// internal/meshstore/sqlite: same meshgraph.Store contract, chosen when a
// deployment outgrows a single sqlite file (multi-process writers, larger
// edge counts, managed-Postgres operability).
package gormstore
