// Package version provides this fabric's client identification string.
package version

// ClientVersion is sent nowhere on the wire today (the directory protocol
// has no user-agent field) but is surfaced by the `whoami` CLI command and
// the peer's --version flag, and should be bumped when peer-visible behavior changes in a
// way a tracker operator reading logs might care about.
const ClientVersion = "p2pfabric/0.1"
