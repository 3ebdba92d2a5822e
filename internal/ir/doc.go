// Package ir provides the shared data model for the kiln pipeline.
//
// This package contains type definitions plus the hashing primitives every
// other package relies on. All other internal packages import ir; ir imports
// nothing internal. This keeps IR the foundational layer with no circular
// dependencies.
//
// Key design constraints:
//   - One content hash for the whole repository: SHA-256, lowercase hex (HashBytes, HashReader)
//   - ArtifactRef.Hash is computed once at construction and never recomputed
//   - Cache keys are pure functions of node identity, dependencies and input hashes
//   - All JSON tags use snake_case
package ir
