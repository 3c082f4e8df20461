package application

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/matheuscscp/link-chat/layers/link"

	"github.com/sirupsen/logrus"
)

type (
	// Dispatcher drains the decoded-frame queue and routes each
	// message to the service handling it. Handlers run in queue order;
	// the dispatcher itself never blocks on I/O.
	Dispatcher struct {
		transceiver link.Transceiver
		sink        EventSink
		discovery   *DiscoveryService
		security    *SecureChannel
		files       *FileService
		folders     *FolderService
		l           logrus.FieldLogger
	}
)

// NewDispatcher creates a Dispatcher routing to the given services.
func NewDispatcher(
	transceiver link.Transceiver,
	sink EventSink,
	discovery *DiscoveryService,
	security *SecureChannel,
	files *FileService,
	folders *FolderService,
) *Dispatcher {
	return &Dispatcher{
		transceiver: transceiver,
		sink:        sink,
		discovery:   discovery,
		security:    security,
		files:       files,
		folders:     folders,
		l:           logrus.WithField("component", "dispatcher"),
	}
}

// Run consumes the decoded-frame queue until ctx is done or the
// transceiver is closed.
func (d *Dispatcher) Run(ctx context.Context) {
	recv := d.transceiver.Recv()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-recv:
			if !ok {
				return
			}
			d.dispatch(ctx, frame)
		}
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, frame *link.DecodedFrame) {
	switch frame.Type {
	case link.FrameTypeText:
		d.dispatchText(ctx, frame)
	case link.FrameTypeFile:
		d.dispatchFile(frame)
	default:
		d.l.
			WithField("frame_type", frame.Type).
			Debug("ignoring frame with unroutable type")
	}
}

func (d *Dispatcher) dispatchText(ctx context.Context, frame *link.DecodedFrame) {
	if !utf8.Valid(frame.Payload) {
		d.sink.ReportError("text message", fmt.Errorf("invalid utf-8 payload from %s", frame.SrcMAC))
		return
	}
	msg, err := ParseTextMessage(string(frame.Payload))
	if err != nil {
		d.sink.ReportError("control message", err)
		return
	}

	switch msg.Kind {
	case KindDiscovery:
		d.discovery.Handle(ctx, frame.SrcMAC, msg.Discovery)
	case KindSecurity:
		d.security.Handle(ctx, frame.SrcMAC, msg.Security)
	case KindFolderControl:
		d.folders.HandleControl(frame.SrcMAC, msg.Folder)
	case KindChat:
		d.sink.DisplayMessage(frame.SrcMAC.String(), msg.Chat)
	}
}

func (d *Dispatcher) dispatchFile(frame *link.DecodedFrame) {
	rf, err := d.files.HandlePayload(frame.SrcMAC, frame.Payload)
	if err != nil {
		d.sink.ReportError("file receive", err)
		return
	}
	if d.folders.ClaimReceivedFile(frame.SrcMAC, rf) {
		return
	}
	d.sink.DisplayMessage("System", fmt.Sprintf("file received: %s (%d bytes)", rf.Name, rf.Size))
}
