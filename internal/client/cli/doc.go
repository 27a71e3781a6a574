// Package cli provides the interactive memovault command-line client.
//
// It wires configuration, the local SQLite store, the search index, the
// sync engine with its retry queue, and the archive service behind a REPL.
// All record commands work offline; sync and queued remote work run in the
// background and report through the event bus, which the REPL prints as
// events arrive.
//
// The REPL is started via App.Run(ctx), which blocks until the user exits.
// See NewApp and runREPL for details.
package cli
