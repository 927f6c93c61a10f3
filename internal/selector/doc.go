// Package selector picks the predecessor runner among overlay peers.
//
// Peers are filtered (self, tags, online), tested for reachability and checked
// for working data concurrently. Among peers confirmed to hold data the most
// recently registered one wins; ties go to the earlier peer in directory
// order, so the result never depends on which check finished first.
//
// Finding no predecessor is a normal outcome for the first runner of a rotation.
package selector
