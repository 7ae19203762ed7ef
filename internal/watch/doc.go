// Package watch implements the page watch loop.
//
// A Detector fetches one URL, compares it with the stored snapshot and
// classifies the outcome. A Notifier renders that outcome and delivers it to
// every subscriber. A Scheduler runs passes over all configured URLs, on a
// cron schedule or on demand.
//
// Collaborators (page fetching, summarization, message delivery, storage)
// are interfaces so the loop can be exercised with fakes.
package watch
