// Package operation defines the contract between the pipeline core and the
// record-processing operations it drives.
//
// The core never implements operations itself. It looks a factory up by
// name in a Registry, constructs an instance bound to an interception sink,
// feeds it input according to the operation's input pattern, signals
// completion and reads back what the sink collected. Operation modules
// register their factories through the Module interface, mirroring how
// compiled-in modules are wired at application start.
package operation
