// Package filter runs one filtering engine subprocess per capture request.
//
// A Session subscribes to the relay, feeds the subscriber's bytes to the
// engine's stdin and exposes the engine's stdout through Read. Sessions end
// when their duration expires, the feed ends, the caller closes them, or the
// engine fails. Whatever the cause, the engine's process group is gone and
// the subscription released once Close returns.
//
// The Manager bounds how many sessions run at once and keeps the set of live
// sessions for listing and shutdown.
package filter
