// Package http provides the JSON API of the session timer.
//
// The router exposes the following endpoints:
//   - GET /api/sessions, POST /api/sessions: list the collection in display
//     order (filters: q for a name substring, status) and check a customer in.
//     Body: {"name","duration","photo"}. Responses use the `sessionDTO` payload
//     defined in session_handler.go: the snapshot form of a session plus a
//     "display" object with the remaining time text, milliseconds, progress
//     percent and nearing-end flag.
//   - GET, PUT, DELETE /api/sessions/{id}: read one session, restart it with
//     a new duration ({"duration"}), or delete it.
//   - POST /api/sessions/{id}/extend: request an extension. A denial answers
//     409 Conflict with the minutes left before another extension is allowed.
//   - POST /api/sessions/{id}/checkout, POST /api/sessions/{id}/finish: manual
//     check-out and end-of-time expiry. Both are no-ops on closed sessions.
//   - POST, DELETE /api/sessions/{id}/photo: multipart "photo" upload and
//     removal.
//   - GET /api/records: customer records (filter: q).
//   - GET /api/stats, GET /api/time-options: dashboard counters and the
//     durations offered at check-in.
//   - GET /api/export, GET /api/export.csv, POST /api/import: snapshot
//     download, CSV download and atomic restore.
//   - GET /healthz, GET /metrics and GET /uploads/customers/...: liveness,
//     Prometheus scrape and stored photos.
//
// Validation failures answer 422 with per-field messages and persistence
// failures answer 502 after the collection has been reloaded.
package http
