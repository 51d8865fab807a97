// Package internal contains the implementation packages for livedoc.
//
// # Package Organization
//
//   - config: Configuration loading, defaults and validation
//   - content: Open document store with front matter parsing and autosave
//   - crdt: Sequence CRDT for merging concurrent text edits
//   - errors: Typed errors with HTTP status mapping
//   - logging: Structured logging over log/slog
//   - metrics: Prometheus collectors for rooms, peers and documents
//   - middleware: HTTP middleware chain (recover, logging, CORS)
//   - presence: User directory, colors and presence event streams
//   - projection: Caret and scroll position math between source and preview
//   - renderer: Markdown rendering with heading extraction
//   - room: Per-document collaboration rooms over websockets
//   - server: HTTP API, presence SSE and health endpoints
//   - validation: Path containment and origin checks
//   - version: Build information
//   - watcher: File system monitoring with debouncing
//
// # Inter-Package Communication
//
//   - The server owns the HTTP surface and delegates to store, presence and rooms
//   - Rooms flush merged text into the content store and broadcast renders
//   - The watcher reloads documents changed on disk, which resets their rooms
//   - Presence is shared by rooms (cursors, latency) and the SSE stream
package internal
