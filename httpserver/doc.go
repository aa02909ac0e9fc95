// Package httpserver runs the record vault's HTTP front end: the API routes
// from api/handlers, health and drain endpoints for load balancers, an
// optional pprof mount, and the companion metrics listener.
package httpserver
