// Package app contains the core application logic. It owns the live pipeline
// state and wires the reducer, the execution driver, session persistence and
// auto-save together, decoupled from any specific entrypoint like a CLI.
package app
