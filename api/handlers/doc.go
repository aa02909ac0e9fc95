// Package handlers exposes the record pipeline, access-control state machine
// and audit projector over HTTP. Routes are registered on a chi router; every
// authenticated endpoint resolves the caller's session from the identity
// header before touching the pipeline.
package handlers
