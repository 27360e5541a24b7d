package dispatch

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brucejcooper/tridonic-dali-go/internal/dalierr"
	"github.com/brucejcooper/tridonic-dali-go/internal/frame"
)

// fakeDevice is an in-memory transport.Device for exercising the
// dispatcher without real hardware.
type fakeDevice struct {
	mu       sync.Mutex
	writes   [][]byte
	inbound  chan []byte
	closed   chan struct{}
	closeErr error
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		inbound: make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (f *fakeDevice) Write(report []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]byte, len(report))
	copy(cp, report)
	f.writes = append(f.writes, cp)
	return nil
}

func (f *fakeDevice) Read(timeout time.Duration) ([]byte, error) {
	select {
	case b := <-f.inbound:
		return b, nil
	case <-f.closed:
		return nil, nil
	case <-time.After(timeout):
		return nil, nil
	}
}

func (f *fakeDevice) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	select {
	case <-f.closed:
	default:
		close(f.closed)
	}
	return f.closeErr
}

func (f *fakeDevice) deliver(in frame.Inbound) {
	report := make([]byte, 16)
	report[0] = byte(in.Direction)
	report[1] = byte(in.Event)
	report[3] = in.Ext
	report[4] = in.Address
	report[5] = in.Command
	report[8] = in.Seq
	f.inbound <- report
}

func (f *fakeDevice) lastWrite() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return nil
	}
	return f.writes[len(f.writes)-1]
}

func (f *fakeDevice) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func quietLogger() *log.Logger {
	l := log.New(io.Discard)
	l.SetLevel(log.FatalLevel + 1)
	return l
}

func TestInboundCorrelationMatchesBySeq(t *testing.T) {
	// Scenario 6: three concurrent frames get seqs 1,2,3; a RESPONSE for
	// seq=2 only wakes that submitter, leaving 1 and 3 pending.
	dev := newFakeDevice()
	d := New(dev, quietLogger())
	defer d.Close()

	done := make(chan Completion, 3)
	for i := 0; i < 3; i++ {
		go func() {
			c, _ := d.Submit(frame.Outbound{Kind: frame.Short16, Repeat: 1})
			done <- c
		}()
	}
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, 3, dev.writeCount())

	dev.deliver(frame.Inbound{Direction: frame.USBSide, Event: frame.EventResponse, Seq: 2, Command: 0x42})

	select {
	case c := <-done:
		assert.Equal(t, CompletionResponse, c.Kind)
		assert.Equal(t, byte(0x42), c.Value)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("seq=2's submitter never woke")
	}

	// The other two submissions are still blocked.
	select {
	case <-done:
		t.Fatal("only the seq=2 submitter should have woken")
	case <-time.After(20 * time.Millisecond):
	}

	dev.deliver(frame.Inbound{Direction: frame.USBSide, Event: frame.EventNoResponse, Seq: 1})
	dev.deliver(frame.Inbound{Direction: frame.USBSide, Event: frame.EventNoResponse, Seq: 3})
	<-done
	<-done
}

func TestSubmitResolvesOnResponse(t *testing.T) {
	dev := newFakeDevice()
	d := New(dev, quietLogger())
	defer d.Close()

	done := make(chan struct{})
	var c Completion
	var err error
	go func() {
		c, err = d.Submit(frame.Outbound{Kind: frame.Short16, Repeat: 1, Payload: 0x1234})
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	w := dev.lastWrite()
	require.NotNil(t, w)
	seq := w[1]

	dev.deliver(frame.Inbound{Direction: frame.USBSide, Event: frame.EventResponse, Seq: seq, Command: 0x99})
	<-done

	require.NoError(t, err)
	assert.Equal(t, CompletionResponse, c.Kind)
	assert.Equal(t, byte(0x99), c.Value)
}

func TestSubmitResolvesOnAbsent(t *testing.T) {
	dev := newFakeDevice()
	d := New(dev, quietLogger())
	defer d.Close()

	done := make(chan struct{})
	var c Completion
	go func() {
		c, _ = d.Submit(frame.Outbound{Kind: frame.Short16, Repeat: 1})
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	w := dev.lastWrite()
	require.NotNil(t, w)
	seq := w[1]

	dev.deliver(frame.Inbound{Direction: frame.USBSide, Event: frame.EventNoResponse, Seq: seq})
	<-done

	assert.Equal(t, CompletionAbsent, c.Kind)
}

func TestSubmitResolvesOnFramingError(t *testing.T) {
	dev := newFakeDevice()
	d := New(dev, quietLogger())
	defer d.Close()

	done := make(chan struct{})
	var c Completion
	go func() {
		c, _ = d.Submit(frame.Outbound{Kind: frame.Short16, Repeat: 1})
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	w := dev.lastWrite()
	require.NotNil(t, w)
	seq := w[1]

	dev.deliver(frame.Inbound{Direction: frame.USBSide, Event: frame.EventFramingError, Seq: seq})
	<-done

	assert.Equal(t, CompletionFraming, c.Kind)
}

func TestSubmitTimesOutWithNoResponse(t *testing.T) {
	dev := newFakeDevice()
	d := New(dev, quietLogger())
	d.SetTimeout(10 * time.Millisecond)
	defer d.Close()

	_, err := d.Submit(frame.Outbound{Kind: frame.Short16, Repeat: 1})
	assert.ErrorIs(t, err, dalierr.ErrTimeout)
}

func TestSeqZeroNoResponseAttributesToLastCommandWhenSoleInFlight(t *testing.T) {
	dev := newFakeDevice()
	d := New(dev, quietLogger())
	defer d.Close()

	done := make(chan struct{})
	var c Completion
	go func() {
		c, _ = d.Submit(frame.Outbound{Kind: frame.Short16, Repeat: 1})
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)

	dev.deliver(frame.Inbound{Direction: frame.USBSide, Event: frame.EventNoResponse, Seq: 0})
	<-done

	assert.Equal(t, CompletionAbsent, c.Kind)
}

func TestTxCompleteIsAbsorbedNotResolved(t *testing.T) {
	dev := newFakeDevice()
	d := New(dev, quietLogger())
	defer d.Close()

	done := make(chan struct{})
	var c Completion
	go func() {
		c, _ = d.Submit(frame.Outbound{Kind: frame.Short16, Repeat: 1})
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	w := dev.lastWrite()
	require.NotNil(t, w)
	seq := w[1]

	dev.deliver(frame.Inbound{Direction: frame.USBSide, Event: frame.EventTxComplete, Seq: seq})
	select {
	case <-done:
		t.Fatal("TX_COMPLETE should not resolve the pending request")
	case <-time.After(20 * time.Millisecond):
	}

	dev.deliver(frame.Inbound{Direction: frame.USBSide, Event: frame.EventResponse, Seq: seq, Command: 7})
	<-done
	assert.Equal(t, byte(7), c.Value)
}

func TestCloseResolvesPendingWithErrClosed(t *testing.T) {
	dev := newFakeDevice()
	d := New(dev, quietLogger())

	done := make(chan struct{})
	var err error
	go func() {
		_, err = d.Submit(frame.Outbound{Kind: frame.Short16, Repeat: 1})
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)

	require.NoError(t, d.Close())
	<-done
	assert.ErrorIs(t, err, dalierr.ErrClosed)
}
