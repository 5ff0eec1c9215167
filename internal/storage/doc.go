// Package storage persists the schedule singleton, recipients, admins and
// the audit trail behind one Store interface with sqlite, file and memory
// drivers.
package storage
