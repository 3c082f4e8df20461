package application

type (
	// EventSink is the capability set the front-end implements to
	// receive decoded inbound events. Services hold it as a field and
	// never call back into each other through it.
	EventSink interface {
		DisplayMessage(from, text string)
		ReportError(context string, err error)
		NotifyPeerFound(peer Peer)
		UpdateProgress(label string, done, total int)
	}

	// NopSink discards all events.
	NopSink struct{}
)

func (NopSink) DisplayMessage(from, text string)             {}
func (NopSink) ReportError(context string, err error)        {}
func (NopSink) NotifyPeerFound(peer Peer)                    {}
func (NopSink) UpdateProgress(label string, done, total int) {}
