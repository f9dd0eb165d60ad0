// Package dispatch turns one generation request into text by walking the
// provider registry in priority order and each provider's credentials in
// listed order until an attempt succeeds.
//
// Rate-limited attempts feed the shared throttle controller and pause for an
// exponential backoff before the next credential; other failures move on at
// once. When nothing succeeds, Generate returns an *ExhaustedError that
// matches ErrAllProvidersExhausted and lists every attempt.
package dispatch
