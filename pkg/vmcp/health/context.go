// Package health carries the health-check marker used to suppress outgoing
// authentication and routing side effects on synthetic probe requests.
package health

import "context"

type healthCheckMarkerKey struct{}

// WithHealthCheckMarker tags ctx as belonging to an internal health probe
// rather than a real downstream call.
func WithHealthCheckMarker(ctx context.Context) context.Context {
	return context.WithValue(ctx, healthCheckMarkerKey{}, true)
}

// IsHealthCheck reports whether ctx was tagged by WithHealthCheckMarker.
func IsHealthCheck(ctx context.Context) bool {
	v, _ := ctx.Value(healthCheckMarkerKey{}).(bool)
	return v
}
