// Package wasi wires the WASI capability of an instance.
//
// Each standard stream is bound in one of three modes. Unbound streams read
// as empty and discard writes. Context streams use the Context supplied by
// the embedder. Instance streams go through the instance: stdout and stderr
// are cut into chunks by a Writer and delivered as notifications, and stdin
// is a LineQueue the host feeds one line at a time.
//
// Buffer modes for instance-bound output:
//
//	unbuffered  one chunk per write
//	line        one chunk per line; lines longer than BlockSize are split
//	block       BlockSize chunks
//	unbounded   one chunk when the stream closes
//
// Whatever is still buffered is emitted when the stream closes.
package wasi
