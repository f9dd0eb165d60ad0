// Command mediaminer dispatches LLM requests across a prioritized provider
// list and converts transcript notes into structured knowledge.
//
// Subcommands:
//
//	generate    send one prompt through the dispatcher
//	providers   list providers and credential availability
//	polish      clean raw captions into a readable transcript
//	batch       run, watch, inspect, or reset the transcript batch
//	serve       expose the dispatcher over HTTP
//	config      create or validate the configuration file
package main
