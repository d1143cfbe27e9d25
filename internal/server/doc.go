// Package server provides the HTTP API for the mailtriage service.
//
// # Key Components
//
// Server wires the token cache, durable token store, session issuer,
// Google credential service and email pipeline behind a httprouter
// mux. All state is injected; the package holds no globals.
//
// ClientCache manages per-user Gmail clients with lazy initialization
// and caching, built from the live token cache.
//
// HealthChecker serves Kubernetes-style liveness and readiness probes;
// readiness flips on only after startup session restoration completes.
//
// MetricsServer serves Prometheus metrics on a dedicated port,
// isolating operational metrics from application traffic.
//
// # Security
//
//   - Every user-scoped route requires a Bearer session token minted by
//     the session issuer; the token's identity must match the resource.
//   - POST /api/add_user is rate limited per client IP because each
//     request costs a live Google validation call.
//   - Full email addresses never appear in general logs; audit streams
//     are separately configurable.
package server
