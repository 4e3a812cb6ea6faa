// Package inbound is the single entry point for payloads arriving from the
// primary device, whether pushed by the secure channel or handed over by a
// local integration through the HTTP handler.
package inbound
