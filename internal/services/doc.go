// Package services defines shared utilities consumed by the dispatcher, the
// batch driver and the HTTP surface.
//
// Key responsibilities:
//   - Context helpers that stamp request IDs, batch run IDs, and batch items
//     for logging and tracing.
//   - Structured error markers plus the Wrap helper so failures can be
//     classified (permanent vs retryable) without string matching.
//
// Use these helpers when wiring new components so operational behaviour
// (error handling, observability) stays uniform across the module.
package services
