// Package audit keeps an after-the-fact record of admission decisions and
// quota threshold alerts.
//
// The admission path never waits on the audit log. AsyncRecorder accepts
// decisions and alerts on a buffered channel and a single worker writes them
// to a Sink. When the buffer is full new entries are dropped and counted.
//
//	sink, err := audit.NewSQLiteSink(audit.SQLiteConfig{Path: "data/audit.db"})
//	rec := audit.NewAsyncRecorder(sink, audit.AsyncConfig{})
//	defer rec.Close()
//
//	g, _ := guard.New(guard.Config{Limiter: l, Tracker: t, Recorder: rec})
//
// # Retention
//
// Scheduler deletes entries older than the configured retention on a cron
// schedule (default "0 3 * * *", 30 days).
package audit
