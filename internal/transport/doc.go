// Package transport implements the LLM wire protocols behind one interface.
//
// Three families exist: an OpenAI-style chat-completion API shared by most
// hosted providers, the Gemini generateContent API, and a local
// chat-completion server that can be brought up on demand. Each adapter
// classifies its own failures into a typed *Error while the status code and
// network error are still in hand, so callers never inspect message text.
//
// Adapters make exactly one request per Complete call. Failover and backoff
// belong to the dispatcher.
package transport
