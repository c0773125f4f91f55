// Package domain defines the core business types for the PropertyPulse
// campaign automation engine.
//
// Types in this package are pure value objects with no behavior beyond
// validation and pure derivations. They are the shared language between
// handlers, services, repositories, and workers.
//
// Rules for this package:
//   - No imports from other internal/ packages
//   - No *sql.DB, no http.Request, no context.Context in struct fields
//   - JSON/DB tags are allowed (they're metadata, not behavior)
//   - Validation methods and pure functions on the types are allowed
//   - Constants and enums belong here
package domain
