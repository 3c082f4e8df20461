package physical

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/matheuscscp/link-chat/layers/common"
	"github.com/matheuscscp/link-chat/observability"
	pkgcontext "github.com/matheuscscp/link-chat/pkg/context"

	"github.com/google/gopacket"
	gplayers "github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

type (
	// UDPWire simulates a full-duplex Ethernet cable on top of a pair
	// of UDP endpoints, so multiple chat nodes can run on one machine
	// without privileges. Traffic can optionally be captured in the
	// pcapng format.
	UDPWire interface {
		Medium
	}

	// UDPWireConfig contains the configs for the concrete
	// implementation of UDPWire.
	UDPWireConfig struct {
		RecvUDPEndpoint string         `yaml:"recvUDPEndpoint"`
		SendUDPEndpoint string         `yaml:"sendUDPEndpoint"`
		Capture         *CaptureConfig `yaml:"capture"`
		MetricLabels    struct {
			NodeName string `yaml:"nodeName"`
		} `yaml:"metricLabels"`
	}

	// CaptureConfig allows capturing the wire traffic in the pcapng
	// format.
	CaptureConfig struct {
		Filename string `yaml:"filename"`
	}

	udpWire struct {
		ctx        context.Context
		cancelCtx  context.CancelFunc
		conf       *UDPWireConfig
		conn       net.Conn
		wg         sync.WaitGroup
		captureCh  chan []byte
		recvdBytes prometheus.Counter
		sentBytes  prometheus.Counter
	}
)

const (
	promSubsystemUDPWire     = "udp_wire"
	labelNameRecvUDPEndpoint = "recv_udp_endpoint"
	labelNameSendUDPEndpoint = "send_udp_endpoint"
)

var (
	metricLabelsUDPWire = []string{
		observability.NodeName,
		labelNameRecvUDPEndpoint,
		labelNameSendUDPEndpoint,
	}
	recvdBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Subsystem: promSubsystemUDPWire,
		Name:      "recvd_bytes",
		Help:      "Total number of received bytes.",
	}, metricLabelsUDPWire)
	sentBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Subsystem: promSubsystemUDPWire,
		Name:      "sent_bytes",
		Help:      "Total number of sent bytes.",
	}, metricLabelsUDPWire)
)

// NewUDPWire creates a UDPWire from config.
func NewUDPWire(ctx context.Context, conf UDPWireConfig) (UDPWire, error) {
	recvAddr, err := net.ResolveUDPAddr("udp", conf.RecvUDPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("error resolving udp address of recv endpoint: %w", err)
	}
	dialer := &net.Dialer{LocalAddr: recvAddr}
	conn, err := dialer.DialContext(ctx, "udp", conf.SendUDPEndpoint)
	if err != nil {
		return nil, fmt.Errorf("error dialing udp: %w", err)
	}

	wireCtx, cancel := context.WithCancel(context.Background())
	nodeName := conf.MetricLabels.NodeName
	if nodeName == "" {
		nodeName = "default"
	}
	metricLabels := prometheus.Labels{
		observability.NodeName:   nodeName,
		labelNameRecvUDPEndpoint: conf.RecvUDPEndpoint,
		labelNameSendUDPEndpoint: conf.SendUDPEndpoint,
	}
	w := &udpWire{
		ctx:        wireCtx,
		cancelCtx:  cancel,
		conf:       &conf,
		conn:       conn,
		recvdBytes: recvdBytes.With(metricLabels),
		sentBytes:  sentBytes.With(metricLabels),
	}

	if conf.Capture != nil {
		if err := w.startCapture(); err != nil {
			cancel()
			conn.Close()
			return nil, err
		}
	}

	return w, nil
}

func (w *udpWire) startCapture() error {
	captureFile, err := os.Create(w.conf.Capture.Filename)
	if err != nil {
		return fmt.Errorf("error creating capture file %s: %w", w.conf.Capture.Filename, err)
	}
	captureWriter, err := pcapgo.NewNgWriter(captureFile, gplayers.LinkTypeEthernet)
	if err != nil {
		captureFile.Close()
		return fmt.Errorf("error creating pcapng writer: %w", err)
	}

	w.captureCh = make(chan []byte, channelSize)
	w.wg.Add(1)
	go func() {
		defer func() {
			captureWriter.Flush()
			captureFile.Close()
			w.wg.Done()
		}()

		l := logrus.
			WithField("recv_udp_endpoint", w.conf.RecvUDPEndpoint).
			WithField("send_udp_endpoint", w.conf.SendUDPEndpoint)

		ctxDone := w.ctx.Done()
		for {
			select {
			case <-ctxDone:
				return
			case b := <-w.captureCh:
				err := captureWriter.WritePacket(gopacket.CaptureInfo{
					Timestamp:     time.Now(),
					CaptureLength: len(b),
					Length:        len(b),
				}, b)
				if err != nil {
					l.
						WithError(err).
						Error("error capturing wire data")
					continue
				}
				captureWriter.Flush()
			}
		}
	}()
	return nil
}

func (w *udpWire) Send(ctx context.Context, payload []byte) (n int, err error) {
	if len(payload) == 0 {
		return 0, common.ErrCannotSendEmpty
	}
	if len(payload) > MTU {
		return 0, fmt.Errorf("payload is larger than physical layer MTU (%d)", MTU)
	}

	c := w.conn

	// initially, no timeout
	if err := c.SetWriteDeadline(time.Time{}); err != nil {
		return 0, fmt.Errorf("error setting write deadline to zero: %w", err)
	}

	// write in a separate thread
	ch := make(chan struct{})
	go func() {
		defer close(ch)
		n, err = c.Write(payload)
		if err == nil {
			w.capture(payload[:n])
			w.sentBytes.Add(float64(n))
		}
	}()

	// wait for ch or for ctx.Done() and cancel the operation
	ctx, cancel := pkgcontext.WithCancelOnAnotherContext(ctx, w.ctx)
	defer cancel()
	select {
	case <-ctx.Done():
		if err := c.SetWriteDeadline(time.Now()); err != nil { // force timeout for ongoing blocked write
			return 0, fmt.Errorf("error forcing timeout after context done: %w", err)
		}
		<-ch
		return 0, ctx.Err()
	case <-ch:
		return
	}
}

func (w *udpWire) Recv(ctx context.Context, payloadBuf []byte) (n int, err error) {
	c := w.conn

	// initially, no timeout
	if err := c.SetReadDeadline(time.Time{}); err != nil {
		return 0, fmt.Errorf("error setting read deadline to zero: %w", err)
	}

	// read in a separate thread
	ch := make(chan struct{})
	go func() {
		defer close(ch)
		n, err = c.Read(payloadBuf)
		if err == nil {
			w.capture(payloadBuf[:n])
			w.recvdBytes.Add(float64(n))
		} else if errors.Is(err, syscall.ECONNREFUSED) {
			// the other end of the wire is not up yet
			n, err = 0, nil
		}
	}()

	// wait for ch or for ctx.Done() and cancel the operation
	ctx, cancel := pkgcontext.WithCancelOnAnotherContext(ctx, w.ctx)
	defer cancel()
	select {
	case <-ctx.Done():
		if err := c.SetReadDeadline(time.Now()); err != nil { // force timeout for ongoing blocked read
			return 0, fmt.Errorf("error forcing timeout after context done: %w", err)
		}
		<-ch
		return 0, ctx.Err()
	case <-ch:
		return
	}
}

func (w *udpWire) Close() error {
	// cancel ctx
	var cancel context.CancelFunc
	cancel, w.cancelCtx = w.cancelCtx, nil
	if cancel == nil {
		return nil
	}
	cancel()

	// wait threads
	w.wg.Wait()

	return w.conn.Close()
}

func (w *udpWire) capture(b []byte) {
	if w.captureCh == nil {
		return
	}

	frame := make([]byte, len(b))
	copy(frame, b)
	select {
	case w.captureCh <- frame:
	case <-w.ctx.Done():
	default:
	}
}
