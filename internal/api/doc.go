// Package api is a client for the queue server's REST API.
//
// Endpoints used (relative to the base URL, e.g. http://localhost:8001/api):
//   - GET /queue                active tokens ordered by position
//   - GET /tokens/{id}          one token
//   - GET /analytics/dashboard  today's summary (staff and admin)
//   - GET /health
//
// Authenticated requests take their bearer token from a TokenSource; a 401
// invalidates it and the request is retried once with a fresh token.
package api
