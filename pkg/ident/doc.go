// Package ident implements the addressing and identifier registry: the
// mapping from identifier ranges to logical message categories and from
// application-layer addresses to device roles.
//
// The registry is populated once at startup and frozen before traffic
// starts. After Freeze every mutation fails with ErrRegistryFrozen, so
// classification and role resolution are read-only lookups that need no
// locking discipline from callers.
//
// Ranges are scoped to the standard (11-bit) or extended (29-bit)
// identifier space. Ranges of different categories must not overlap
// within a space; every identifier classifies to exactly one category
// or to CategoryUnclassified.
package ident
