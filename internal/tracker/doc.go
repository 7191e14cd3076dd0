// Package tracker maintains the per-file processing state of a source.
//
// Every discovered file is tracked with its content hash, the version tag of
// the run that saw it and a lifecycle state:
//
//	Pending -> Processing -> Processed
//	                      -> Failed
//
// Any state may become Deprecated when the file disappears from the source,
// and Processed, Failed or Processing files return to Pending when their
// content changes or a forced reindex resets them.
//
// Unchanged files are skipped when their last state was Processed or Failed.
// A failed file is retried only after its content changes or on a forced
// reindex.
package tracker
