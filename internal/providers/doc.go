// Package providers holds the immutable LLM provider descriptors and resolves
// their credentials.
//
// A Registry orders descriptors by ascending priority, stable for ties.
// Credentials are never cached: ResolveCredentials consults a LookupFunc on
// every call so rotated keys apply to the next dispatch.
package providers
