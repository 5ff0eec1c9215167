// Package scheduler wraps robfig/cron with named, replaceable triggers.
//
// Registering a name that already exists replaces the old trigger, so a
// name never has two live entries. Jobs run on cron's goroutines behind
// Recover and SkipIfStillRunning.
package scheduler
