// Package hub is the broadcast side of the queue stream.
//
// Connections register with a user ID and a role (patient, staff, admin).
// Messages are sent to one user, to every connection of a role, or to
// everyone, wrapped in the {"type", "data"} envelope that
// connection.Manager decodes. A connection whose write fails is dropped.
package hub
