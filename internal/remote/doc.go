// Package remote runs commands on overlay peers over ssh.
//
// Peers are ephemeral and reached over a trusted private overlay, so host key
// verification is disabled and every connection is bounded by a connect
// timeout that is independent of the command timeout. Arguments are produced by
// SSHOptions; nothing here builds ssh flags by hand.
package remote
