// Package server exposes the playback engine over HTTP.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support. [Middleware] wraps
// handlers in reverse order (last added executes first). [BasicRouter] uses [http.ServeMux]
// method patterns internally.
//
// # Control API
//
// [ControlHandler] serves the JSON control surface under /api/. Commands are POST requests;
// GET /api/status and GET /api/queue read state. GET /api/events upgrades to a websocket that
// pushes a status document whenever playback changes. Slow clients skip intermediate
// states rather than blocking the engine.
//
// Errors are reported as {"error": "..."} with a status code derived from the error
// sentinel: invalid arguments are 400, an empty queue is 409, network failures are 502 or
// 504 and a stopped engine is 503.
package server
