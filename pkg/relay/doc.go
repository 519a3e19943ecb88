// Package relay owns the single read end of the capture feed and fans its
// bytes out to any number of subscribers.
//
// One drain goroutine copies the feed into a fixed-capacity ring and never
// waits for consumers. Each Subscriber pulls from its own cursor; a
// subscriber that falls more than the ring capacity behind skips forward to
// the oldest retained position and has the skipped bytes counted against it.
//
// When the feed is classic pcap (selected explicitly or detected from the
// file magic), the relay keeps record boundaries and the file header so every
// subscriber starts with a valid header followed by whole records, and skips
// after overflow land on a record boundary.
package relay
