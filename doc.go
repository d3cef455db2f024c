// Package jembatan is a REST client layer that wraps a request/response
// transport with the cross-cutting concerns every API call site needs:
//
//   - Bearer credential storage with a five minute expiry buffer, optionally
//     mirrored into the environment or the OS keychain
//   - One token refresh and replay on 401, shared between concurrent callers
//   - In-memory TTL response cache with ETag revalidation for GET requests
//   - Retries with exponential backoff, honouring Retry-After on 429
//   - A single classified error type with status predicates
//   - Prometheus metrics, OpenTelemetry spans and zerolog logging
//
// Typical usage:
//
//	cfg := jembatan.DefaultConfig("https://api.example.com")
//	cfg.EnableCaching = true
//	cfg.EnableTokenRefresh = true
//	client, err := jembatan.New(cfg)
//	if err != nil {
//	    return err
//	}
//	client.SetCredential(jembatan.Credential{AccessToken: token, RefreshToken: refresh})
//	users, err := jembatan.GetJSON[[]User](ctx, client, "/users", jembatan.WithQuery(map[string]any{"page": 1}))
//
// Every failure returned by Client.Execute is a *ClassifiedError; match
// categories with errors.Is against ErrNotFound, ErrRateLimited and friends.
package jembatan
