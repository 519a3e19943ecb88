// Package stream is the HTTP front end of capstream.
//
// Every request to /stream or /ws opens its own filter session and streams
// that session's output to the client until the duration elapses, the
// client goes away or the capture feed ends. The response starts only once
// the first output chunk exists, so a filter engine that dies before
// producing anything is reported as an error instead of an empty capture.
package stream
