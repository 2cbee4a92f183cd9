package wasi

import (
	"io"
	"os"
)

// Mount exposes a host directory to the guest.
type Mount struct {
	HostPath  string
	GuestPath string
	ReadOnly  bool
}

// Context is the execution context a WASI-enabled instance draws its
// capabilities from. Streams bound in context mode go to these fields; a
// nil stream reads as empty or discards.
type Context struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Mounts []Mount
}

// NewContext returns a context wired to the process's standard streams and
// the given mounts.
func NewContext(mounts ...Mount) *Context {
	return &Context{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Mounts: mounts,
	}
}
