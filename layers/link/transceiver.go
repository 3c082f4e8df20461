package link

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheuscscp/link-chat/config"
	"github.com/matheuscscp/link-chat/layers/common"
	"github.com/matheuscscp/link-chat/layers/physical"
	"github.com/matheuscscp/link-chat/observability"
	pkgcontext "github.com/matheuscscp/link-chat/pkg/context"
	pkgio "github.com/matheuscscp/link-chat/pkg/io"
	pkgtime "github.com/matheuscscp/link-chat/pkg/time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

type (
	// Transceiver owns the medium bound to the chat EtherType. It
	// fragments and sends outbound messages under CSMA coordination,
	// and runs a receive thread that filters, verifies, reassembles
	// and enqueues inbound frames to a bounded queue.
	Transceiver interface {
		Send(ctx context.Context, dst net.HardwareAddr, frameType FrameType, payload []byte) error
		Recv() <-chan *DecodedFrame
		MACAddress() net.HardwareAddr
		SetProgressFunc(progress ProgressFunc)
		Stats() Stats
		Close() error
	}

	// TransceiverConfig contains the configs for NewTransceiver.
	// Either Interface (real AF_PACKET socket) or MACAddress+UDPWire
	// (simulated segment) must be set.
	TransceiverConfig struct {
		Interface     string                  `yaml:"interface"`
		MACAddress    string                  `yaml:"macAddress"`
		UDPWire       *physical.UDPWireConfig `yaml:"udpWire"`
		QueueSize     int                     `yaml:"queueSize"`
		InterFrameGap config.Duration         `yaml:"interFrameGap"`
		CSMA          CSMAConfig              `yaml:"csma"`
		Assembler     AssemblerConfig         `yaml:"assembler"`
	}

	// DecodedFrame is one fully reassembled inbound message handed to
	// the application dispatcher.
	DecodedFrame struct {
		SrcMAC  net.HardwareAddr
		DstMAC  net.HardwareAddr
		Type    FrameType
		Payload []byte
	}

	// Stats is a read-only snapshot of the transceiver counters.
	Stats struct {
		FramesSent             uint64
		FramesReceived         uint64
		FramesDropped          uint64
		FragmentedMessagesSent uint64
		MessagesSent           uint64
		MessagesReceived       uint64
		QueueOverflows         uint64
		PendingReassemblies    int
	}

	transceiver struct {
		ctx       context.Context
		cancelCtx context.CancelFunc
		conf      *TransceiverConfig
		l         logrus.FieldLogger
		mac       net.HardwareAddr
		medium    physical.Medium
		carrier   *carrierSense
		assembler *Assembler
		frag      Fragmenter
		in        chan *DecodedFrame
		wg        sync.WaitGroup

		framesSent             atomic.Uint64
		framesReceived         atomic.Uint64
		framesDropped          atomic.Uint64
		fragmentedMessagesSent atomic.Uint64
		messagesSent           atomic.Uint64
		messagesReceived       atomic.Uint64
		queueOverflows         atomic.Uint64

		promFramesSent     prometheus.Counter
		promFramesReceived prometheus.Counter
		promFramesDropped  prometheus.Counter
	}
)

var (
	transceiverMetricLabels = []string{observability.NodeName}

	framesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "frames_sent",
		Help:      "Total number of frames sent.",
	}, transceiverMetricLabels)
	framesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "frames_received",
		Help:      "Total number of frames received and accepted.",
	}, transceiverMetricLabels)
	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "frames_dropped",
		Help:      "Total number of inbound frames dropped by filtering or validation.",
	}, transceiverMetricLabels)
)

// NewTransceiver opens the configured medium and starts the receive
// thread.
func NewTransceiver(ctx context.Context, conf TransceiverConfig) (Transceiver, error) {
	var medium physical.Medium
	var mac net.HardwareAddr

	switch {
	case conf.Interface != "":
		sock, err := physical.OpenPacketSocket(physical.PacketSocketConfig{
			Interface: conf.Interface,
			Protocol:  EtherType,
		})
		if err != nil {
			return nil, fmt.Errorf("error opening packet socket: %w", err)
		}
		medium, mac = sock, sock.HardwareAddr()
	case conf.UDPWire != nil:
		parsed, err := net.ParseMAC(conf.MACAddress)
		if err != nil {
			return nil, fmt.Errorf("error parsing mac address: %w", err)
		}
		wire, err := physical.NewUDPWire(ctx, *conf.UDPWire)
		if err != nil {
			return nil, fmt.Errorf("error creating udp wire: %w", err)
		}
		medium, mac = wire, parsed
	default:
		return nil, fmt.Errorf("either interface or macAddress+udpWire must be configured")
	}

	queueSize := conf.QueueSize
	if queueSize <= 0 {
		queueSize = channelSize
	}
	metricLabels := prometheus.Labels{observability.NodeName: mac.String()}

	transceiverCtx, cancel := context.WithCancel(context.Background())
	t := &transceiver{
		ctx:                transceiverCtx,
		cancelCtx:          cancel,
		conf:               &conf,
		l:                  logrus.WithField("transceiver_mac_address", mac.String()),
		mac:                mac,
		medium:             medium,
		carrier:            newCarrierSense(conf.CSMA, metricLabels),
		assembler:          NewAssembler(conf.Assembler),
		in:                 make(chan *DecodedFrame, queueSize),
		promFramesSent:     framesSent.With(metricLabels),
		promFramesReceived: framesReceived.With(metricLabels),
		promFramesDropped:  framesDropped.With(metricLabels),
	}
	t.startReceiveThread()
	return t, nil
}

// Send fragments the payload and transmits each frame in index order,
// applying CSMA backoff before each transmission.
func (t *transceiver) Send(ctx context.Context, dst net.HardwareAddr, frameType FrameType, payload []byte) error {
	if len(payload) == 0 {
		return common.ErrCannotSendEmpty
	}

	ctx, cancel := pkgcontext.WithCancelOnAnotherContext(ctx, t.ctx)
	defer cancel()

	frames := t.frag.Fragment(dst, frameType, payload)
	gap := t.conf.InterFrameGap.DurationOrDefault(10 * time.Millisecond)
	for i, frame := range frames {
		frame.SrcMAC = t.mac
		buf, err := frame.Marshal()
		if err != nil {
			return fmt.Errorf("error marshaling frame %d/%d: %w", i+1, len(frames), err)
		}

		if err := t.carrier.acquire(ctx); err != nil {
			return fmt.Errorf("error acquiring carrier for frame %d/%d: %w", i+1, len(frames), err)
		}
		_, sendErr := t.medium.Send(ctx, buf)
		t.carrier.release()
		if sendErr != nil {
			return fmt.Errorf("error sending frame %d/%d: %w", i+1, len(frames), sendErr)
		}
		t.framesSent.Add(1)
		t.promFramesSent.Inc()

		// pace fragments of large messages so slow receivers keep up
		if len(frames) > 1 && i+1 < len(frames) {
			timer, stop := pkgtime.NewTimer(gap)
			select {
			case <-ctx.Done():
				stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	t.messagesSent.Add(1)
	if len(frames) > 1 {
		t.fragmentedMessagesSent.Add(1)
	}
	return nil
}

func (t *transceiver) Recv() <-chan *DecodedFrame {
	return t.in
}

func (t *transceiver) MACAddress() net.HardwareAddr {
	return t.mac
}

func (t *transceiver) Stats() Stats {
	return Stats{
		FramesSent:             t.framesSent.Load(),
		FramesReceived:         t.framesReceived.Load(),
		FramesDropped:          t.framesDropped.Load(),
		FragmentedMessagesSent: t.fragmentedMessagesSent.Load(),
		MessagesSent:           t.messagesSent.Load(),
		MessagesReceived:       t.messagesReceived.Load(),
		QueueOverflows:         t.queueOverflows.Load(),
		PendingReassemblies:    t.assembler.PendingMessages(),
	}
}

// SetProgressFunc installs a reassembly progress callback. Must be
// called right after construction.
func (t *transceiver) SetProgressFunc(progress ProgressFunc) {
	t.assembler.SetProgressFunc(progress)
}

func (t *transceiver) startReceiveThread() {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		for {
			buf := make([]byte, physical.MTU)
			n, err := t.medium.Recv(t.ctx, buf)
			if err != nil {
				if pkgcontext.IsContextError(t.ctx, err) {
					return
				}
				// transport errors are terminal for the receive loop
				t.l.
					WithError(err).
					Error("error receiving from medium, halting receive loop")
				return
			}
			if n == 0 {
				// timeout tick, check for cancellation
				select {
				case <-t.ctx.Done():
					return
				default:
					continue
				}
			}
			t.decap(buf[:n])
		}
	}()
}

func (t *transceiver) decap(frameBuf []byte) {
	// range check
	if len(frameBuf) < EthernetHeaderLength {
		t.drop("frame shorter than ethernet header")
		return
	}

	// EtherType filter
	if binary.BigEndian.Uint16(frameBuf[12:14]) != EtherType {
		t.drop("foreign ethertype")
		return
	}

	// destination filter: accept broadcast or our own MAC
	dst := net.HardwareAddr(frameBuf[0:6])
	if !bytes.Equal(dst, BroadcastMACAddress()) && !bytes.Equal(dst, t.mac) {
		t.drop("frame not addressed to us")
		return
	}

	// full validation: CRC, lengths, fragment header
	frame, err := Unmarshal(frameBuf)
	if err != nil {
		t.l.
			WithError(err).
			Debug("dropping invalid frame")
		t.framesDropped.Add(1)
		t.promFramesDropped.Inc()
		return
	}
	t.framesReceived.Add(1)
	t.promFramesReceived.Inc()

	// reassemble
	payload := t.assembler.Add(frame)
	if payload == nil {
		return
	}
	t.messagesReceived.Add(1)

	decoded := &DecodedFrame{
		SrcMAC:  frame.SrcMAC,
		DstMAC:  frame.DstMAC,
		Type:    frame.Type,
		Payload: payload,
	}
	select {
	case t.in <- decoded:
	default:
		// bounded queue full: drop-newest
		t.queueOverflows.Add(1)
		t.l.
			WithField("src", frame.SrcMAC.String()).
			Warn("decoded frame queue full, dropping newest")
	}
}

func (t *transceiver) drop(reason string) {
	t.framesDropped.Add(1)
	t.promFramesDropped.Inc()
	t.l.
		WithField("reason", reason).
		Debug("dropping inbound frame")
}

func (t *transceiver) Close() error {
	// cancel ctx and wait threads
	var cancel context.CancelFunc
	cancel, t.cancelCtx = t.cancelCtx, nil
	if cancel == nil {
		return nil
	}
	cancel()
	t.wg.Wait()

	// close channel
	close(t.in)

	return pkgio.Close(t.medium)
}
