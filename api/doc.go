// Package api exposes the scheduler over HTTP.
//
// All routes live under /v1:
//
//	GET /v1/status     last tick report, committed plans and tunables
//	GET /v1/nodes      live capacity per node with its committed plan
//	GET /v1/telemetry  current and last closed telemetry window
//	GET /v1/config     active tunables and their warnings
//	PUT /v1/config     replace the tunables of the running controller
//	GET /v1/stream     websocket event stream
//
// When a JWT secret is configured every route requires an HS256 bearer
// token. Websocket clients that cannot set headers may pass the token in
// the access_token query parameter.
package api
