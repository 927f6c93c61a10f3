// Package process runs local executables (ssh, rsync, scp, tailscale) on behalf
// of the handoff packages.
//
// Every command starts in its own process group. When the context expires the
// whole group is killed, so an ssh session never outlives its caller and no
// orphaned transfer keeps writing into the data directory.
//
// Tests substitute the Runner interface with processtest.Fake.
package process
