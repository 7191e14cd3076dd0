// Package schedule runs periodic jobs on cron specs.
//
// The serve command uses it to reindex every configured source on
// indexing.reindex_schedule. Overlapping activations of a job are skipped.
package schedule
