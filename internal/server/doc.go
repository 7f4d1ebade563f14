// Package server hosts the Fiber HTTP service, the request middleware chain,
// and the site route that maps inbound requests to origin and upstream URLs.
// The catch-all route hands every request outside the reserved /-/ prefix to
// a ProxyHandler; control and diagnostics routes live in server/routes.
// Keep exports narrow and accept explicit dependencies.
package server
