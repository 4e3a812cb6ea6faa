// Package commands defines the tether CLI and wires dependencies for subcommands.
//
// Commands
//
//   - init           Create the key store and device identity
//   - fingerprint    Print the identity fingerprint
//   - reregister     Replace the identity (unlinks the device)
//   - link           Pair with a primary device
//   - unlink         Drop the linked session
//   - status         Show identity and link state
//   - send           Send a message, a category fan-out or a report
//   - edit, delete   Revise a message this device sent
//   - history        List conversations or the messages of one
//   - ingest         Feed an encoded envelope into history
//   - run            Stay connected and record inbound messages
//
// # Implementation
//
// The root command loads the configuration, unlocks the key store and builds
// the dependency graph before any subcommand runs. Commands that talk to the
// primary start the secure channel for as long as they need it.
package commands
