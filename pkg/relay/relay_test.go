package relay

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capstream/capstream/pkg/logging"
)

func startRelay(t *testing.T, cfg Config) (*Relay, *io.PipeWriter) {
	t.Helper()
	pr, pw := io.Pipe()
	r := New(cfg)
	require.NoError(t, r.Start(context.Background(), pr))
	t.Cleanup(func() {
		_ = pw.Close()
		select {
		case <-r.Done():
		case <-time.After(2 * time.Second):
			t.Error("relay did not stop")
		}
	})
	return r, pw
}

func write(t *testing.T, r *Relay, pw *io.PipeWriter, p []byte) {
	t.Helper()
	before := r.Stats().BytesWritten
	_, err := pw.Write(p)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return r.Stats().BytesWritten > before
	}, time.Second, time.Millisecond)
}

func readAll(t *testing.T, s *Subscriber, bufSize int) []byte {
	t.Helper()
	var out bytes.Buffer
	buf := make([]byte, bufSize)
	for {
		n, err := s.Read(buf)
		out.Write(buf[:n])
		if errors.Is(err, io.EOF) {
			return out.Bytes()
		}
		require.NoError(t, err)
	}
}

func rawConfig(capacity, chunk int) Config {
	return Config{Capacity: capacity, ChunkSize: chunk, Framing: FramingRaw}
}

func TestParseFraming(t *testing.T) {
	tests := []struct {
		in      string
		want    Framing
		wantErr bool
	}{
		{in: "", want: FramingAuto},
		{in: "auto", want: FramingAuto},
		{in: "PCAP", want: FramingPcap},
		{in: " raw ", want: FramingRaw},
		{in: "pcapng", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFraming(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRing(t *testing.T) {
	r := newRing(8)
	r.write([]byte("abcdef"))
	assert.Equal(t, uint64(0), r.oldest())

	r.write([]byte("ghij"))
	assert.Equal(t, uint64(10), r.written)
	assert.Equal(t, uint64(2), r.oldest())
	assert.Equal(t, 8, r.buffered())

	p := make([]byte, 16)
	n := r.readAt(r.oldest(), p)
	assert.Equal(t, "cdefghij", string(p[:n]))

	n = r.readAt(7, p[:2])
	assert.Equal(t, "hi", string(p[:n]))

	r.write([]byte("0123456789ab"))
	assert.Equal(t, uint64(22), r.written)
	n = r.readAt(r.oldest(), p)
	assert.Equal(t, "456789ab", string(p[:n]))
}

func TestMarks(t *testing.T) {
	m := &marks{}
	for _, seq := range []uint64{0, 10, 20, 30, 40} {
		m.push(seq)
	}

	next, ok := m.next(11)
	require.True(t, ok)
	assert.Equal(t, uint64(20), next)

	next, ok = m.after(20)
	require.True(t, ok)
	assert.Equal(t, uint64(30), next)

	_, ok = m.next(41)
	assert.False(t, ok)

	m.trim(25)
	assert.Equal(t, []uint64{30, 40}, m.seqs)
}

func TestRelay_SubscriberSeesOnlyBytesAfterJoin(t *testing.T) {
	r, pw := startRelay(t, rawConfig(1024, 64))

	write(t, r, pw, []byte("before"))
	sub, err := r.Subscribe()
	require.NoError(t, err)
	write(t, r, pw, []byte("after-1 "))
	write(t, r, pw, []byte("after-2"))
	require.NoError(t, pw.Close())

	assert.Equal(t, "after-1 after-2", string(readAll(t, sub, 5)))
	assert.Zero(t, sub.Dropped())
}

func TestRelay_OverflowDropsOldest(t *testing.T) {
	r, pw := startRelay(t, rawConfig(16, 8))

	sub, err := r.Subscribe()
	require.NoError(t, err)
	for _, chunk := range []string{"00000000", "11111111", "22222222", "33333333", "44444444"} {
		write(t, r, pw, []byte(chunk))
	}
	require.NoError(t, pw.Close())

	assert.Equal(t, "3333333344444444", string(readAll(t, sub, 64)))
	assert.Equal(t, uint64(24), sub.Dropped())
	assert.Equal(t, uint64(24), r.Stats().DroppedBytes)
}

func TestRelay_StalledSubscriberDoesNotBlockOthers(t *testing.T) {
	const capacity = 4096
	r, pw := startRelay(t, rawConfig(capacity, 512))

	stalled, err := r.Subscribe()
	require.NoError(t, err)
	fast, err := r.Subscribe()
	require.NoError(t, err)

	got := make(chan int, 1)
	go func() {
		n, _ := io.Copy(io.Discard, fast)
		got <- int(n)
	}()

	payload := bytes.Repeat([]byte("x"), 512)
	written := make(chan struct{})
	go func() {
		defer close(written)
		for i := 0; i < 40; i++ {
			_, _ = pw.Write(payload)
		}
		_ = pw.Close()
	}()

	select {
	case <-written:
	case <-time.After(5 * time.Second):
		t.Fatal("drain loop blocked by stalled subscriber")
	}

	select {
	case n := <-got:
		assert.Positive(t, n)
	case <-time.After(5 * time.Second):
		t.Fatal("fast subscriber did not finish")
	}

	rest := readAll(t, stalled, 1024)
	assert.Len(t, rest, capacity)
	assert.Equal(t, uint64(40*512-capacity), stalled.Dropped())
}

func TestRelay_SubscriberLimit(t *testing.T) {
	r, _ := startRelay(t, Config{Capacity: 1024, MaxSubscribers: 1, Framing: FramingRaw})

	first, err := r.Subscribe()
	require.NoError(t, err)

	_, err = r.Subscribe()
	assert.ErrorIs(t, err, ErrCapacityExceeded)

	require.NoError(t, first.Close())
	require.NoError(t, first.Close())

	second, err := r.Subscribe()
	require.NoError(t, err)
	assert.Equal(t, 1, r.Stats().Subscribers)
	r.Unsubscribe(second)
	assert.Equal(t, 0, r.Stats().Subscribers)
}

func TestRelay_SubscribeAfterClose(t *testing.T) {
	r, pw := startRelay(t, rawConfig(1024, 64))
	require.NoError(t, pw.Close())
	<-r.Done()

	_, err := r.Subscribe()
	assert.ErrorIs(t, err, ErrClosed)
	assert.True(t, r.Stats().Closed)
	assert.NoError(t, r.Err())
}

func TestRelay_UnsubscribeWakesReader(t *testing.T) {
	r, _ := startRelay(t, rawConfig(1024, 64))
	sub, err := r.Subscribe()
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := sub.Read(make([]byte, 16))
		errc <- err
	}()

	time.Sleep(20 * time.Millisecond)
	r.Unsubscribe(sub)

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrSubscriberClosed)
	case <-time.After(time.Second):
		t.Fatal("reader not woken")
	}
}

func TestRelay_ReadError(t *testing.T) {
	pr, pw := io.Pipe()
	r := New(rawConfig(1024, 64))
	require.NoError(t, r.Start(context.Background(), pr))

	boom := errors.New("boom")
	_ = pw.CloseWithError(boom)
	<-r.Done()

	assert.ErrorIs(t, r.Err(), boom)
	assert.Contains(t, r.Stats().Error, "boom")
	assert.ErrorIs(t, r.Start(context.Background(), pr), ErrAlreadyStarted)
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	pr, _ := io.Pipe()
	r := New(rawConfig(1024, 64))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- r.Run(ctx, pr) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	<-r.Done()
	assert.True(t, r.Closed())
}

func TestRelay_StartCancelIsCleanStop(t *testing.T) {
	var logs bytes.Buffer
	log := logging.New(logging.Config{Level: logging.LevelDebug, Format: logging.FormatText, Output: &logs})
	pr, _ := io.Pipe()
	r := New(rawConfig(1024, 64), WithLogger(log))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx, pr))
	cancel()

	select {
	case <-r.Done():
	case <-time.After(time.Second):
		t.Fatal("relay did not stop after cancel")
	}
	assert.NoError(t, r.Err())
	assert.Contains(t, logs.String(), "relay stopped")
	assert.NotContains(t, logs.String(), "level=ERROR")
}

func TestRelay_AutoDetectsRaw(t *testing.T) {
	r := New(Config{Capacity: 1024})
	sub, err := r.Subscribe()
	require.NoError(t, err)

	require.NoError(t, r.Start(context.Background(), bytes.NewReader([]byte("\x0a\x0d\x0d\x0apcapng-ish"))))
	<-r.Done()

	assert.Equal(t, "\x0a\x0d\x0d\x0apcapng-ish", string(readAll(t, sub, 4)))
	assert.Equal(t, FramingRaw, r.Stats().Framing)
}

// pcapRecords encodes n 802.11 records with microsecond timestamps.
func pcapRecords(t *testing.T, n, size int) (header []byte, records [][]byte, payloads [][]byte) {
	t.Helper()
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	require.NoError(t, w.WriteFileHeader(65535, layers.LinkTypeIEEE80211Radio))
	header = bytes.Clone(buf.Bytes())

	base := time.Unix(1700000000, 0)
	for i := 0; i < n; i++ {
		buf.Reset()
		data := bytes.Repeat([]byte{byte('a' + i%26)}, size)
		ci := gopacket.CaptureInfo{
			Timestamp:     base.Add(time.Duration(i) * time.Millisecond),
			CaptureLength: size,
			Length:        size,
		}
		require.NoError(t, w.WritePacket(ci, data))
		records = append(records, bytes.Clone(buf.Bytes()))
		payloads = append(payloads, data)
	}
	return header, records, payloads
}

// pcapRecord encodes one record of size bytes, ignoring any snaplen.
func pcapRecord(t *testing.T, size int) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := pcapgo.NewWriter(&buf)
	data := bytes.Repeat([]byte{'z'}, size)
	ci := gopacket.CaptureInfo{Timestamp: time.Unix(1700000000, 0), CaptureLength: size, Length: size}
	require.NoError(t, w.WritePacket(ci, data))
	return buf.Bytes()
}

func parsePcap(t *testing.T, data []byte) (layers.LinkType, [][]byte) {
	t.Helper()
	pr, err := pcapgo.NewReader(bytes.NewReader(data))
	require.NoError(t, err)

	var out [][]byte
	for {
		pkt, _, err := pr.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return pr.LinkType(), out
		}
		require.NoError(t, err)
		out = append(out, pkt)
	}
}

func TestRelay_PcapHeaderAndRecords(t *testing.T) {
	header, records, payloads := pcapRecords(t, 5, 40)
	feed := append(bytes.Clone(header), bytes.Join(records, nil)...)

	r := New(Config{Capacity: 4096})
	sub, err := r.Subscribe()
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background(), bytes.NewReader(feed)))

	out := readAll(t, sub, 7)
	assert.Equal(t, []byte{0x4d, 0x3c, 0xb2, 0xa1}, out[:4], "header re-encoded with nanosecond magic")

	linkType, pkts := parsePcap(t, out)
	assert.Equal(t, layers.LinkTypeIEEE80211Radio, linkType)
	assert.Equal(t, payloads, pkts)

	st := r.Stats()
	assert.Equal(t, FramingPcap, st.Framing)
	assert.Equal(t, layers.LinkTypeIEEE80211Radio.String(), st.LinkType)
}

func TestRelay_PcapMidStreamJoin(t *testing.T) {
	header, records, payloads := pcapRecords(t, 5, 40)
	r, pw := startRelay(t, Config{Capacity: 4096, Framing: FramingPcap})

	_, err := pw.Write(header)
	require.NoError(t, err)
	write(t, r, pw, records[0])
	write(t, r, pw, records[1])

	sub, err := r.Subscribe()
	require.NoError(t, err)
	for _, rec := range records[2:] {
		write(t, r, pw, rec)
	}
	require.NoError(t, pw.Close())

	_, pkts := parsePcap(t, readAll(t, sub, 1024))
	assert.Equal(t, payloads[2:], pkts)
}

func TestRelay_PcapOverflowAlignsToRecord(t *testing.T) {
	header, records, payloads := pcapRecords(t, 10, 50)
	// Each record is 16+50 bytes; 200 bytes retain the last three whole records.
	r, pw := startRelay(t, Config{Capacity: 200, Framing: FramingPcap})

	_, err := pw.Write(header)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return r.Stats().LinkType != "" }, time.Second, time.Millisecond)

	sub, err := r.Subscribe()
	require.NoError(t, err)
	for _, rec := range records {
		write(t, r, pw, rec)
	}
	require.NoError(t, pw.Close())

	_, pkts := parsePcap(t, readAll(t, sub, 10))
	assert.Equal(t, payloads[7:], pkts)
	assert.Equal(t, uint64(7*66), sub.Dropped())
}

func TestRelay_PcapPartialReadSurvivesOverflow(t *testing.T) {
	header, records, payloads := pcapRecords(t, 6, 50)
	r, pw := startRelay(t, Config{Capacity: 200, Framing: FramingPcap})

	_, err := pw.Write(header)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return r.Stats().LinkType != "" }, time.Second, time.Millisecond)

	sub, err := r.Subscribe()
	require.NoError(t, err)
	write(t, r, pw, records[0])

	// Consume the header and part of the first record, then overflow the ring.
	var out bytes.Buffer
	buf := make([]byte, 30)
	n, err := sub.Read(buf)
	require.NoError(t, err)
	out.Write(buf[:n])
	n, err = sub.Read(buf)
	require.NoError(t, err)
	out.Write(buf[:n])

	for _, rec := range records[1:] {
		write(t, r, pw, rec)
	}
	require.NoError(t, pw.Close())
	out.Write(readAll(t, sub, 30))

	_, pkts := parsePcap(t, out.Bytes())
	require.NotEmpty(t, pkts)
	assert.Equal(t, payloads[0], pkts[0])
	assert.Equal(t, payloads[len(payloads)-1], pkts[len(pkts)-1])
}

func TestRelay_OversizedRecordDropped(t *testing.T) {
	header, records, _ := pcapRecords(t, 1, 300)
	_, small, smallPayloads := pcapRecords(t, 1, 10)
	feed := bytes.Join([][]byte{header, records[0], small[0]}, nil)

	r := New(Config{Capacity: 128, Framing: FramingPcap})
	sub, err := r.Subscribe()
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background(), bytes.NewReader(feed)))

	_, pkts := parsePcap(t, readAll(t, sub, 64))
	assert.Equal(t, smallPayloads, pkts)
	assert.Equal(t, uint64(316), r.Stats().DroppedBytes)
}

func TestRelay_PcapRecordAboveDeclaredSnaplen(t *testing.T) {
	// The header declares snaplen 65535; the third record carries 70000 bytes.
	header, records, payloads := pcapRecords(t, 4, 40)
	big := pcapRecord(t, 70000)
	r, pw := startRelay(t, Config{Capacity: 128 << 10, Framing: FramingPcap})

	_, err := pw.Write(header)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return r.Stats().LinkType != "" }, time.Second, time.Millisecond)

	sub, err := r.Subscribe()
	require.NoError(t, err)
	write(t, r, pw, records[0])
	write(t, r, pw, records[1])
	write(t, r, pw, big)
	write(t, r, pw, records[2])
	write(t, r, pw, records[3])
	require.NoError(t, pw.Close())

	_, pkts := parsePcap(t, readAll(t, sub, 4096))
	require.Len(t, pkts, 5)
	assert.Equal(t, payloads[:2], pkts[:2])
	assert.Len(t, pkts[2], 70000)
	assert.Equal(t, payloads[2:], pkts[3:])
	assert.NoError(t, r.Err())
	assert.Zero(t, r.Stats().DroppedBytes)
}

func TestRelay_PcapCorruptRecordKeepsDraining(t *testing.T) {
	header, records, payloads := pcapRecords(t, 1, 40)
	r, pw := startRelay(t, Config{Capacity: 4096, Framing: FramingPcap})

	_, err := pw.Write(header)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return r.Stats().LinkType != "" }, time.Second, time.Millisecond)

	sub, err := r.Subscribe()
	require.NoError(t, err)
	write(t, r, pw, records[0])

	// A record header claiming 1 GiB of capture loses the framing.
	bad := make([]byte, 16)
	binary.LittleEndian.PutUint32(bad[8:12], 1<<30)
	binary.LittleEndian.PutUint32(bad[12:16], 1<<30)
	_, err = pw.Write(bad)
	require.NoError(t, err)

	const chunks, chunkSize = 8, 64 << 10
	written := make(chan error, 1)
	go func() {
		chunk := bytes.Repeat([]byte{0xff}, chunkSize)
		for i := 0; i < chunks; i++ {
			if _, err := pw.Write(chunk); err != nil {
				written <- err
				return
			}
		}
		written <- nil
	}()

	select {
	case err := <-written:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("producer blocked after a corrupt record")
	}
	assert.False(t, r.Closed(), "relay stays open while the feed is alive")
	require.Eventually(t, func() bool {
		return r.Stats().DroppedBytes >= uint64((chunks-1)*chunkSize)
	}, time.Second, time.Millisecond)

	require.NoError(t, pw.Close())
	_, pkts := parsePcap(t, readAll(t, sub, 256))
	assert.Equal(t, payloads, pkts)
	assert.NoError(t, r.Err())
}

func TestSubscriber_Stats(t *testing.T) {
	r, pw := startRelay(t, rawConfig(1024, 64))
	sub, err := r.Subscribe()
	require.NoError(t, err)

	write(t, r, pw, []byte("0123456789"))
	st := sub.Stats()
	assert.Equal(t, sub.ID(), st.ID)
	assert.Equal(t, uint64(10), st.Lag)
	assert.False(t, st.JoinedAt.IsZero())
}
