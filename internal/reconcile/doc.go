// Package reconcile mirrors a predecessor's working-data directory into the
// local one.
//
// rsync is the primary transport: it mirrors deletions, resumes partial files
// and reports how much it moved. When it fails, scp copies the tree into a
// staging directory that is then swapped into place, which mirrors deletions
// too. Each attempt has its own timeout. Transfer internals stay in the tools.
package reconcile
