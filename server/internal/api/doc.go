// Package api implements the HTTP REST API of the metric receiver.
//
// New(store) returns an http.Handler that serves:
//
//	GET /api/v1/health      live series count and time of the newest write
//	GET /api/v1/namespaces  namespaces with per-metric series counts
//	GET /api/v1/series      series filtered by namespace, metric, dimensions;
//	                        optional since= and latest=true
//
// All endpoints respond with Content-Type: application/json, return 405 for
// non-GET methods and read only live series (idle series are excluded).
package api
