package relay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/gopacket/pcapgo"

	"github.com/capstream/capstream/pkg/metrics"
)

// Classic pcap magic numbers as read little-endian from the first four bytes.
const (
	magicMicros        = 0xa1b2c3d4
	magicNanos         = 0xa1b23c4d
	magicMicrosSwapped = 0xd4c3b2a1
	magicNanosSwapped  = 0x4d3cb2a1
)

// maxSnaplen is the largest record the relay accepts from a pcap feed,
// tcpdump's MAXIMUM_SNAPLEN. Writers that ignore their own header snaplen
// are tolerated up to this size; a larger capture length means the framing
// is corrupt.
const maxSnaplen = 262144

// Start runs the drain loop on feed in a new goroutine.
func (r *Relay) Start(ctx context.Context, feed io.Reader) error {
	if err := r.markStarted(); err != nil {
		return err
	}
	go func() {
		// The outcome is logged by run and kept in Err.
		_ = r.run(ctx, feed)
	}()
	return nil
}

// Run drains feed until end of input, a read error, ctx cancellation, or
// Close. It returns nil on end of input and when ctx is cancelled. A
// deadline on ctx is returned as its error. When ctx is done a feed that
// implements io.Closer is closed to unblock the pending read.
func (r *Relay) Run(ctx context.Context, feed io.Reader) error {
	if err := r.markStarted(); err != nil {
		return err
	}
	return r.run(ctx, feed)
}

func (r *Relay) markStarted() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return ErrAlreadyStarted
	}
	r.started = true
	r.startAt = time.Now()
	return nil
}

func (r *Relay) run(ctx context.Context, feed io.Reader) (err error) {
	defer close(r.done)

	stop := context.AfterFunc(ctx, func() {
		if c, ok := feed.(io.Closer); ok {
			_ = c.Close()
		}
		r.Close()
	})
	defer stop()

	defer func() {
		if ctx.Err() != nil {
			r.Close()
			err = nil
			if !errors.Is(ctx.Err(), context.Canceled) {
				err = ctx.Err()
			}
			r.log.Info("relay stopped", "reason", ctx.Err())
			return
		}
		r.closeWith(err)
		stats := r.Stats()
		if err != nil {
			r.log.Error("capture feed ended", "bytes", stats.BytesWritten, "dropped", stats.DroppedBytes, "error", err)
			return
		}
		r.log.Info("capture feed ended", "bytes", stats.BytesWritten, "dropped", stats.DroppedBytes)
	}()

	br := bufio.NewReaderSize(feed, r.cfg.ChunkSize)
	framing := r.cfg.Framing
	if framing == FramingAuto {
		framing, err = detect(br)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("relay: reading feed: %w", err)
		}
		r.log.Info("detected feed framing", "framing", framing)
	}

	if framing == FramingPcap {
		return r.drainPcap(br)
	}
	r.setFraming(FramingRaw, nil, "")
	return r.drainRaw(br)
}

// detect peeks at the feed's magic number.
func detect(br *bufio.Reader) (Framing, error) {
	magic, err := br.Peek(4)
	if len(magic) < 4 {
		if err == nil {
			err = io.EOF
		}
		return "", err
	}
	switch binary.LittleEndian.Uint32(magic) {
	case magicMicros, magicNanos, magicMicrosSwapped, magicNanosSwapped:
		return FramingPcap, nil
	}
	return FramingRaw, nil
}

func (r *Relay) drainRaw(feed io.Reader) error {
	buf := make([]byte, r.cfg.ChunkSize)
	for {
		n, err := feed.Read(buf)
		if n > 0 {
			r.append(buf[:n], false)
			if metrics.RelayBytesTotal != nil {
				_ = metrics.RelayBytesTotal.Add(float64(n))
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || r.Closed() {
				return nil
			}
			return fmt.Errorf("relay: reading feed: %w", err)
		}
		if r.Closed() {
			return nil
		}
	}
}

// drainPcap parses the feed record by record and re-encodes it with
// nanosecond timestamps, so every subscriber sees one header format.
// A record pcapgo cannot frame never stops the drain: the rest of the feed
// is discarded and counted as dropped, and the relay stays open.
func (r *Relay) drainPcap(feed io.Reader) error {
	pr, err := pcapgo.NewReader(feed)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		return fmt.Errorf("relay: reading pcap header: %w", err)
	}
	declared := pr.Snaplen()
	pr.SetSnaplen(max(declared, maxSnaplen))

	var out bytes.Buffer
	w := pcapgo.NewWriterNanos(&out)
	if err := w.WriteFileHeader(pr.Snaplen(), pr.LinkType()); err != nil {
		return err
	}
	header := bytes.Clone(out.Bytes())
	r.setFraming(FramingPcap, header, pr.LinkType().String())
	r.log.Info("pcap feed header", "linkType", pr.LinkType().String(), "snaplen", declared)

	for {
		data, ci, err := pr.ZeroCopyReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || r.Closed() {
				return nil
			}
			// Record boundaries are lost for the rest of the feed. A feed
			// read error surfaces again from discard.
			return r.discard(feed, err)
		}
		if ci.CaptureLength > int(declared) && declared > 0 {
			r.log.Debug("record exceeds declared snaplen", "caplen", ci.CaptureLength, "snaplen", declared)
		}

		out.Reset()
		if err := w.WritePacket(ci, data); err != nil {
			return fmt.Errorf("relay: encoding pcap record: %w", err)
		}
		r.append(out.Bytes(), true)
		if metrics.RelayBytesTotal != nil {
			_ = metrics.RelayBytesTotal.Add(float64(out.Len()))
		}
		if r.Closed() {
			return nil
		}
	}
}

// discard consumes the rest of feed without relaying it, so the capture
// writer is never blocked once the pcap framing is lost.
func (r *Relay) discard(feed io.Reader, cause error) error {
	r.log.Error("pcap framing lost, discarding rest of feed", "error", cause)
	buf := make([]byte, r.cfg.ChunkSize)
	for {
		n, err := feed.Read(buf)
		if n > 0 {
			r.drop(n)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || r.Closed() {
				return nil
			}
			return fmt.Errorf("relay: reading feed: %w", err)
		}
		if r.Closed() {
			return nil
		}
	}
}
