// Package middleware provides the session gate and login throttling.
//
// # Session gate
//
// Gate.Handler resolves the caller through an auth.Resolver, computes the
// role and stores the *auth.Principal in the request context. Gate.Require
// then guards a route:
//
//	gate := middleware.NewGate(resolver, policyHolder, 5*time.Second, metrics)
//	router.Use(gate.Handler)
//	admin := router.PathPrefix("/api/admin").Subrouter()
//	admin.Use(gate.Require(auth.RoleStaff))
//
// Evaluate holds the decision table:
//
//	loading          -> pending   (503, Retry-After)
//	unauthenticated  -> redirect  (302 to login for browsers, 401 for APIs)
//	insufficient role-> forbidden (403)
//	otherwise        -> allow
//
// # Login throttling
//
// RateLimiter (in memory) and DistributedRateLimiter (Redis) both implement
// auth.Limiter with a fixed window: 5 attempts per 15 minutes by default,
// keyed by client address. The Redis limiter fails open.
package middleware
