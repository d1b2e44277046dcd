package server

import "time"

// MetricsCollector is an optional interface for exporting server metrics to
// monitoring systems. All methods are called synchronously from session
// goroutines and must not block.
type MetricsCollector interface {
	// RecordConnection is called for every accept decision. reason is
	// "accepted" or the rejection cause.
	RecordConnection(accepted bool, reason string)

	// RecordAuthentication is called after USER/PASS resolves.
	RecordAuthentication(success bool, user string)

	// RecordTransfer is called after a data transfer finishes.
	// operation is the command verb (LIST, RETR, STOR, APPE).
	RecordTransfer(operation string, bytes int64, duration time.Duration)
}
