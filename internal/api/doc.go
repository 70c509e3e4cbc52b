// Package api serves the console over HTTP and WebSocket.
//
// REST endpoints under /api/v1 cover the instance list, the selected
// instance's devices and their controls, and remote action sessions.
// The WebSocket at /api/v1/ws streams the same state on five channels:
// instances, devices, sessions, notifications and controls. A client that
// subscribes to a channel first receives a snapshot, then events.
//
// When security.jwt.secret is set, every route other than /health and
// /metrics requires an HS256 bearer token and the token's role decides
// which routes it may use. The WebSocket upgrade also accepts the token
// in the access_token query parameter.
//
//	srv, err := api.New(deps)
//	orchestrator.SetPresenter(srv.Hub())
//	srv.Start(ctx)
//	defer srv.Close()
package api
