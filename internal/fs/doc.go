// Package fs is the file system seam for shuffle output, local spills and
// report files.
//
//   - [LocalFS]: the os package
//   - [FaultyFS]: test wrapper that fails opens, writes, syncs, closes or
//     commit renames on matching files
//
// [WriteFileAtomic] and [RemoveIfExists] cover the two patterns the callers
// share: publish a complete file or nothing, and clean up unconditionally.
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("spill-", fs.Fault{FailAfterBytes: 1024})
//	store := blobstore.NewLocalStore([]string{dir}, blobstore.WithFileSystem(ffs))
//
// Operations take no context.Context. Local syscalls are not interruptible;
// slow backends go through blobstore, which has context support.
package fs
