// Package http exposes interpreter sessions over a JSON HTTP API.
//
// Routes:
//
//	GET    /health                 server and registry status
//	GET    /profiles               available shell profiles
//	POST   /run                    one-shot command in a throwaway session
//	GET    /sessions               list sessions
//	POST   /sessions               create a session
//	GET    /sessions/:id           describe a session
//	DELETE /sessions/:id           close a session
//	POST   /sessions/:id/exec      run a command and wait for its result
//	POST   /sessions/:id/run       submit a command without waiting
//	PUT    /sessions/:id/debug     toggle raw line mirroring
//
// Responses are encoded with sonic. Errors are {"error": ..., "code": ...}
// with the status chosen by StatusFor.
package http
