// Package app wires application dependencies for the CLI.
//
// It loads Config, builds the key store, history store, relay transport,
// secure channel and high-level services from it, and runs the long-lived
// parts together.
package app
