// Package archiver walks a set of source paths, diffs them against a parent
// snapshot, and saves new file and tree content to the repository.
//
// The pipeline is a chain of lazy iterators: Walk produces a flat stream of
// SourceEntry values, TreeEvents groups that stream into directory open/close
// events, and Classify compares each event against a ParentWalker positioned
// on the parent snapshot. Pipeline.Backup drives the classified stream,
// dispatching unmatched files to a bounded pool of FileArchiver workers while
// a single consumer goroutine feeds a treebuilder.Builder in the original
// walk order, so tree blobs serialize deterministically regardless of how
// file archiving is scheduled.
package archiver
