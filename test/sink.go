package test

import (
	"sync"

	"github.com/matheuscscp/link-chat/layers/application"
)

type (
	// RecorderSink is an application.EventSink capturing every event
	// for assertions.
	RecorderSink struct {
		mu         sync.Mutex
		messages   []DisplayedMessage
		errors     []ReportedError
		peersFound []application.Peer
		progress   []ProgressUpdate
	}

	DisplayedMessage struct {
		From string
		Text string
	}

	ReportedError struct {
		Context string
		Err     error
	}

	ProgressUpdate struct {
		Label string
		Done  int
		Total int
	}
)

func (r *RecorderSink) DisplayMessage(from, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, DisplayedMessage{From: from, Text: text})
}

func (r *RecorderSink) ReportError(context string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, ReportedError{Context: context, Err: err})
}

func (r *RecorderSink) NotifyPeerFound(peer application.Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peersFound = append(r.peersFound, peer)
}

func (r *RecorderSink) UpdateProgress(label string, done, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, ProgressUpdate{Label: label, Done: done, Total: total})
}

func (r *RecorderSink) Messages() []DisplayedMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]DisplayedMessage(nil), r.messages...)
}

func (r *RecorderSink) Errors() []ReportedError {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ReportedError(nil), r.errors...)
}

func (r *RecorderSink) PeersFound() []application.Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]application.Peer(nil), r.peersFound...)
}

func (r *RecorderSink) Progress() []ProgressUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ProgressUpdate(nil), r.progress...)
}

// HasMessage tells whether a message with the given text was
// displayed.
func (r *RecorderSink) HasMessage(text string) bool {
	for _, msg := range r.Messages() {
		if msg.Text == text {
			return true
		}
	}
	return false
}
