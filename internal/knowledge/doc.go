// Package knowledge asks the dispatcher to extract structured knowledge from a
// transcript and parses the marker-delimited reply. It also polishes raw
// captions into readable transcript text.
package knowledge
