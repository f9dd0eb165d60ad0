// Package batch re-processes a directory of transcript notes through the
// knowledge extractor.
//
// A run scans the input tree, drops notes that are already converted, too
// short, or duplicates of another note's transcript, then feeds the rest to
// the extractor in waves sized by the dispatcher's concurrency controller.
// Progress lives in a SQLite database so interrupted runs resume where they
// stopped; a file lock keeps two runs from sharing one database.
package batch
