// Package dispatch implements the request/response correlation layer of
// spec §4.3: sequence allocation, the pending-request table, and resolving
// inbound reports against it.
//
// The pending table has exactly one logical writer, matching spec §5's
// "cooperative scheduler" design intent: a single run goroutine owns it and
// is fed by channels rather than a mutex, so the background HID reader
// (which only decodes bytes and hands them over) never touches driver state
// directly.
package dispatch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/brucejcooper/tridonic-dali-go/internal/dalierr"
	"github.com/brucejcooper/tridonic-dali-go/internal/frame"
	"github.com/brucejcooper/tridonic-dali-go/internal/transport"
)

// CompletionKind classifies how a pending request resolved (spec §3
// "Pending request" completion slot).
type CompletionKind int

const (
	CompletionResponse CompletionKind = iota
	CompletionAbsent
	CompletionFraming
)

// Completion is the terminal value of a submitted frame.
type Completion struct {
	Kind  CompletionKind
	Value byte // meaningful only when Kind == CompletionResponse
}

// DefaultTimeout is tens of milliseconds beyond the DALI worst-case
// response window (~10ms), per spec §5.
const DefaultTimeout = 50 * time.Millisecond

// readPollInterval bounds how long a single blocking Device.Read call is
// allowed to run before the reader loop re-checks for shutdown.
const readPollInterval = 100 * time.Millisecond

type pendingEntry struct {
	seq      byte
	resultCh chan Completion
	errCh    chan error
	timer    *time.Timer
}

type submitRequest struct {
	out      frame.Outbound
	resultCh chan Completion
	errCh    chan error
}

// Dispatcher owns the HID device, the sequence allocator, and the pending
// table. All of its state is touched only by the run goroutine started in
// New.
type Dispatcher struct {
	dev     transport.Device
	logger  *log.Logger
	timeout time.Duration

	submitCh  chan submitRequest
	inboundCh chan frame.Inbound
	timeoutCh chan byte
	closeCh   chan struct{}
	closedCh  chan struct{}
}

// New starts the dispatcher's reader and run goroutines against dev. Call
// Close to release dev and unblock any pending submissions.
func New(dev transport.Device, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	d := &Dispatcher{
		dev:       dev,
		logger:    logger,
		timeout:   DefaultTimeout,
		submitCh:  make(chan submitRequest),
		inboundCh: make(chan frame.Inbound, 16),
		timeoutCh: make(chan byte, 16),
		closeCh:   make(chan struct{}),
		closedCh:  make(chan struct{}),
	}
	go d.readLoop()
	go d.run()
	return d
}

// SetTimeout overrides DefaultTimeout for requests submitted after the
// call. dalictl uses it to apply the configured request timeout; tests use
// it for fast timeout assertions.
func (d *Dispatcher) SetTimeout(t time.Duration) {
	d.timeout = t
}

// Submit encodes and writes out, then blocks until the dispatcher resolves
// the corresponding pending request, the request times out
// (dalierr.ErrTimeout), or the dispatcher is closed (dalierr.ErrClosed).
func (d *Dispatcher) Submit(out frame.Outbound) (Completion, error) {
	resultCh := make(chan Completion, 1)
	errCh := make(chan error, 1)

	select {
	case d.submitCh <- submitRequest{out: out, resultCh: resultCh, errCh: errCh}:
	case <-d.closedCh:
		return Completion{}, dalierr.ErrClosed
	}

	select {
	case c := <-resultCh:
		return c, nil
	case err := <-errCh:
		return Completion{}, err
	case <-d.closedCh:
		return Completion{}, dalierr.ErrClosed
	}
}

// Close stops the reader and run goroutines, releases the HID device, and
// resolves every still-pending request with dalierr.ErrClosed.
func (d *Dispatcher) Close() error {
	select {
	case <-d.closeCh:
		// already closing
	default:
		close(d.closeCh)
	}
	err := d.dev.Close()
	<-d.closedCh
	return err
}

func (d *Dispatcher) readLoop() {
	for {
		select {
		case <-d.closeCh:
			return
		default:
		}

		raw, err := d.dev.Read(readPollInterval)
		if err != nil {
			d.logger.Debug("hid read error, stopping reader", "err", err)
			return
		}
		if raw == nil {
			continue // timeout, loop around to re-check closeCh
		}

		in, err := frame.Decode(raw)
		if err != nil {
			d.logger.Warn("dropping malformed inbound report", "err", err)
			continue
		}

		select {
		case d.inboundCh <- in:
		case <-d.closeCh:
			return
		}
	}
}

// run is the single writer of the pending table, the sequence allocator,
// and lastSeq, all of which are local to it.
func (d *Dispatcher) run() {
	defer close(d.closedCh)

	pending := make(map[byte]*pendingEntry)
	var nextSeq byte = 1
	var lastSeq byte
	var inFlight int

	allocSeq := func() byte {
		for {
			s := nextSeq
			nextSeq++
			if nextSeq == 0 {
				nextSeq = 1 // 0 reserved for externally initiated traffic
			}
			if _, busy := pending[s]; !busy {
				return s
			}
		}
	}

	resolve := func(seq byte, c Completion) {
		e, ok := pending[seq]
		if !ok {
			return
		}
		e.timer.Stop()
		delete(pending, seq)
		inFlight--
		e.resultCh <- c
	}

	failPending := func(seq byte, err error) {
		e, ok := pending[seq]
		if !ok {
			return
		}
		e.timer.Stop()
		delete(pending, seq)
		inFlight--
		e.errCh <- err
	}

	shutdown := func() {
		for seq := range pending {
			failPending(seq, dalierr.ErrClosed)
		}
	}

	for {
		select {
		case req := <-d.submitCh:
			seq := allocSeq()
			req.out.Seq = seq
			report, err := req.out.Encode()
			if err != nil {
				req.errCh <- fmt.Errorf("dispatch: encode: %w", err)
				continue
			}
			if err := d.dev.Write(report[:]); err != nil {
				req.errCh <- fmt.Errorf("dispatch: write: %w", err)
				continue
			}

			entry := &pendingEntry{seq: seq, resultCh: req.resultCh, errCh: req.errCh}
			entry.timer = time.AfterFunc(d.timeout, func() {
				select {
				case d.timeoutCh <- seq:
				case <-d.closedCh:
				}
			})
			pending[seq] = entry
			lastSeq = seq
			inFlight++

		case in := <-d.inboundCh:
			d.onInbound(in, pending, &lastSeq, &inFlight, resolve)

		case seq := <-d.timeoutCh:
			failPending(seq, dalierr.ErrTimeout)

		case <-d.closeCh:
			shutdown()
			return
		}
	}
}

func (d *Dispatcher) onInbound(in frame.Inbound, pending map[byte]*pendingEntry, lastSeq *byte, inFlight *int, resolve func(byte, Completion)) {
	if in.Direction != frame.USBSide {
		d.logger.Debug("dropping externally originated bus event", "direction", in.Direction, "event", in.Event)
		return
	}

	if in.Seq != 0 {
		if _, ok := pending[in.Seq]; !ok {
			d.logger.Warn("unmatched inbound event", "seq", in.Seq, "event", in.Event)
			return
		}
		switch in.Event {
		case frame.EventResponse:
			resolve(in.Seq, Completion{Kind: CompletionResponse, Value: in.Command})
		case frame.EventNoResponse:
			resolve(in.Seq, Completion{Kind: CompletionAbsent})
		case frame.EventFramingError:
			resolve(in.Seq, Completion{Kind: CompletionFraming})
		case frame.EventTxComplete:
			// host-initiated; the terminal event is still to come.
		default:
			d.logger.Warn("unmatched inbound event", "seq", in.Seq, "event", in.Event)
		}
		return
	}

	// seq == 0: the bridge occasionally elides the host seq on NO_RESPONSE.
	// Only attribute it to the last submission when exactly one frame has
	// been in flight since the last resolution (spec §9); otherwise the
	// attribution would be racy.
	if in.Event == frame.EventNoResponse && *inFlight == 1 {
		resolve(*lastSeq, Completion{Kind: CompletionAbsent})
		return
	}
	d.logger.Warn("dropping ambiguous seq=0 event", "event", in.Event, "inFlight", *inFlight)
}
