// Package mmap maps memory for the storage backends: read-only views of a
// committed file image (Open) and anonymous read-write regions for arena
// chunks (MapAnon). Unix uses mmap(2) and madvise(2); Windows uses file
// mapping views and VirtualAlloc, with Advise as a no-op.
package mmap
