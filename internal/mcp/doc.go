// Package mcp implements the client side of the Model Context Protocol
// as used by the city device servers: newline-delimited JSON-RPC 2.0
// exchanged with a child process over its stdin and stdout.
//
// The [StdioTransport] owns the child process. It spawns lazily on the
// first request, respawns when the previous process has exited, and
// bounds every read with a timeout. The [Client] builds envelopes,
// correlates replies by id, and implements the three verbs the servers
// understand: initialize, tools/list and tools/call.
//
// Requests on one client are strictly sequential. The next reply line
// is assumed to answer the most recent write, so the client holds a
// single-slot semaphore across each write/read pair.
//
// Failures surface as [*Error] values tagged with a [Kind] so callers
// can tell a hung server apart from a broken pipe or a server-reported
// error. Flattening to user-facing strings happens in package toolkit.
package mcp
