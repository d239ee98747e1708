// Package audit implements audit recording for security-relevant operations.
//
// # Components
//
//   - [Sink]: interface for entry consumers (channel, JSON writer, SQLite, no-op).
//   - [Dispatcher]: delivers entries to a sink either inline or through a buffered
//     goroutine, and swallows sink failures after logging them.
//   - [Entry]: structured record: action, actor, entity, details, severity.
//
// # Architecture boundaries
//
// This package owns entry buffering and sink delivery. It does NOT decide which entries
// to emit; that responsibility belongs to the Engine.
//
// # What this package must NOT do
//
//   - Propagate sink failures to callers.
//   - Import authcore or any sibling internal package.
package audit
