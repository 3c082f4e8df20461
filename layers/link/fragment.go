package link

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheuscscp/link-chat/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

type (
	// Fragmenter splits outbound payloads into frames that fit the
	// link layer MTU, minting a fresh message-id per logical message
	// from a monotonic per-sender counter.
	Fragmenter struct {
		nextMessageID atomic.Uint32
	}

	// AssemblerConfig contains the configs for NewAssembler. The TTLs
	// default to TextAssemblyTTL and FileAssemblyTTL.
	AssemblerConfig struct {
		TextTTL config.Duration `yaml:"textTTL"`
		FileTTL config.Duration `yaml:"fileTTL"`
	}

	// ProgressFunc reports reassembly progress for large inbound
	// messages.
	ProgressFunc func(src net.HardwareAddr, received, total uint32, bytes int)

	// Assembler buffers inbound fragments keyed by (sender,
	// message-id) and produces the original payload once all
	// fragments are present. Stalled assemblies are garbage-collected
	// on insert after a type-appropriate TTL.
	Assembler struct {
		mu       sync.Mutex
		conf     *AssemblerConfig
		pending  map[assemblyKey]*assembly
		progress ProgressFunc
		l        logrus.FieldLogger
	}

	assemblyKey struct {
		src       string
		messageID uint16
	}

	assembly struct {
		frameType  FrameType
		total      uint32
		fragments  map[uint32][]byte
		totalBytes int
		lastUpdate time.Time
	}
)

var (
	expiredAssemblies = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "expired_assemblies",
		Help:      "Total number of reassemblies discarded after their TTL elapsed.",
	}, []string{"frame_type"})
)

// Fragment produces the ordered frame sequence for one logical
// message. A payload that fits in a single frame is emitted with
// FragmentTotal == 0, the sentinel for "unfragmented".
func (f *Fragmenter) Fragment(dst net.HardwareAddr, frameType FrameType, payload []byte) []*Frame {
	messageID := uint16(f.nextMessageID.Add(1))

	if len(payload) <= MTU {
		return []*Frame{{
			DstMAC:    dst,
			Type:      frameType,
			MessageID: messageID,
			Payload:   payload,
		}}
	}

	total := uint32((len(payload) + MTU - 1) / MTU)
	frames := make([]*Frame, 0, total)
	for offset, index := 0, uint32(0); offset < len(payload); offset, index = offset+MTU, index+1 {
		end := offset + MTU
		if end > len(payload) {
			end = len(payload)
		}
		frames = append(frames, &Frame{
			DstMAC:        dst,
			Type:          frameType,
			MessageID:     messageID,
			FragmentIndex: index,
			FragmentTotal: total,
			Payload:       payload[offset:end],
		})
	}
	return frames
}

// NewAssembler creates an Assembler from config.
func NewAssembler(conf AssemblerConfig) *Assembler {
	return &Assembler{
		conf:    &conf,
		pending: make(map[assemblyKey]*assembly),
		l:       logrus.WithField("component", "assembler"),
	}
}

// SetProgressFunc installs a callback reporting partial reassembly
// progress. Must be called before fragments start flowing.
func (a *Assembler) SetProgressFunc(progress ProgressFunc) {
	a.progress = progress
}

// Add stores one inbound fragment and returns the reassembled payload
// when the message is complete, nil otherwise. Unfragmented frames
// bypass the table. Duplicates are dropped silently.
func (a *Assembler) Add(frame *Frame) []byte {
	if frame.FragmentTotal == 0 {
		return frame.Payload
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	a.gcLocked(now)

	key := assemblyKey{src: frame.SrcMAC.String(), messageID: frame.MessageID}
	rec, exists := a.pending[key]
	if !exists {
		rec = &assembly{
			frameType: frame.Type,
			total:     frame.FragmentTotal,
			fragments: make(map[uint32][]byte),
		}
		a.pending[key] = rec
	}

	// tolerate races where the first-seen fragment announced a smaller
	// total than a later one
	if frame.FragmentTotal > rec.total {
		rec.total = frame.FragmentTotal
	}
	if frame.FragmentIndex >= rec.total {
		a.l.
			WithField("src", key.src).
			WithField("message_id", key.messageID).
			WithField("fragment_index", frame.FragmentIndex).
			WithField("fragment_total", rec.total).
			Debug("dropping fragment with out-of-range index")
		return nil
	}

	if _, dup := rec.fragments[frame.FragmentIndex]; !dup {
		rec.fragments[frame.FragmentIndex] = frame.Payload
		rec.totalBytes += len(frame.Payload)
	}
	rec.lastUpdate = now

	if uint32(len(rec.fragments)) < rec.total {
		if a.progress != nil && len(rec.fragments)%64 == 0 {
			a.progress(frame.SrcMAC, uint32(len(rec.fragments)), rec.total, rec.totalBytes)
		}
		return nil
	}

	// all fragments present, concatenate in index order
	payload := make([]byte, 0, rec.totalBytes)
	for i := uint32(0); i < rec.total; i++ {
		payload = append(payload, rec.fragments[i]...)
	}
	delete(a.pending, key)
	return payload
}

// PendingMessages returns the number of in-progress reassemblies.
func (a *Assembler) PendingMessages() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

func (a *Assembler) ttl(frameType FrameType) time.Duration {
	if frameType == FrameTypeFile {
		return a.conf.FileTTL.DurationOrDefault(FileAssemblyTTL)
	}
	return a.conf.TextTTL.DurationOrDefault(TextAssemblyTTL)
}

func (a *Assembler) gcLocked(now time.Time) {
	for key, rec := range a.pending {
		if now.Sub(rec.lastUpdate) <= a.ttl(rec.frameType) {
			continue
		}
		a.l.
			WithField("src", key.src).
			WithField("message_id", key.messageID).
			WithField("fragments_received", len(rec.fragments)).
			WithField("fragment_total", rec.total).
			Warn("discarding stalled reassembly")
		expiredAssemblies.WithLabelValues(rec.frameType.String()).Inc()
		delete(a.pending, key)
	}
}
