// Package overlay is the client side of the overlay network peer directory.
//
// The network itself is provided by Tailscale; this package only reads its
// status dump and joins the local node. The dump format is confined to
// parseStatus, so another directory source only needs to produce PeerRecords.
package overlay
