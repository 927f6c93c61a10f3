// Package workspace manages the local directories a handoff run works in.
//
// Persistent mode uses a fixed directory (the runner work directory, its data
// directory and the .handoff state directory) that survives across runs.
//
// Ephemeral mode creates timestamped directories (e.g., handoff-20251214-122336-*)
// used as staging areas for bulk copies, removed completely after use.
package workspace
