// Package mcpconn dials Model Context Protocol servers and wraps the
// resulting sessions behind a small Service type.
//
// A ServerConfig describes one server: either a local command spawned as
// a child process speaking JSON-RPC over stdio, or a remote HTTP endpoint
// reached over the streamable or SSE transport. When the config does not
// pin a transport the factory infers one, preferring SSE for endpoints
// whose path ends in the configured SSE suffix and falling back to the
// alternate HTTP transport when the preferred one fails to connect.
//
// The Factory applies shared policy to every dial: the client identity
// announced during the initialize handshake, a User-Agent and per-server
// headers on HTTP requests, an establishment timeout, and an optional
// exit callback that fires when a session's receive loop ends. Connection
// lifecycle beyond the single dial, such as caching, health checking, and
// rebuild on error, belongs to the mcpcache package.
package mcpconn
