// Package campaign implements campaign lifecycle management and execution.
//
// The service layer contains all business logic for creating, running,
// pausing, resuming, and cancelling campaigns. It depends on repository
// interfaces defined in this package and should never import from
// internal/api.
//
// Repository implementations live in repository/postgres/ and
// repository/memory/.
package campaign
