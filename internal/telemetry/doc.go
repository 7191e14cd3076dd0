// Package telemetry records usage of index and search operations.
//
// A Sink accepts UsageRecords without blocking. QueueSink hands each record
// to a writequeue.Queue, which inserts it into the usage_log table; records
// are dropped when the queue is full. MeasurePeakMemory samples the heap
// while an operation runs.
package telemetry
