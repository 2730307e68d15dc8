// Package fs lets the File store open its image through an interface, so
// tests can swap in FaultyFS and check that injected write, sync and close
// failures surface as storage errors:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("index.db", fs.Fault{FailAfterBytes: 4096})
//	s, err := store.OpenFile(path, store.WithFileSystem(ffs))
package fs
