package link

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"net"

	"github.com/google/gopacket"
	gplayers "github.com/google/gopacket/layers"
)

type (
	// FrameType tells whether the payload of a frame belongs to a text
	// message or to a file.
	FrameType uint8

	// Frame is one unit of the chat wire protocol: a standard Ethernet
	// header with EtherType 0x88B5, an extension header carrying the
	// fragmentation fields, the payload and a trailing CRC-32.
	//
	// Wire layout (big-endian, no padding):
	//
	//	offset  size  field
	//	0       6     destination MAC
	//	6       6     source MAC
	//	12      2     EtherType = 0x88B5
	//	14      1     frame-type (1=Text, 2=File)
	//	15      2     message-id
	//	17      4     fragment-index
	//	21      4     fragment-total
	//	25      2     payload-length (N)
	//	27      N     payload bytes
	//	27+N    4     CRC-32 (IEEE, over bytes [0 .. 27+N))
	//
	// FragmentTotal == 0 is the sentinel for "unfragmented".
	Frame struct {
		DstMAC        net.HardwareAddr
		SrcMAC        net.HardwareAddr
		Type          FrameType
		MessageID     uint16
		FragmentIndex uint32
		FragmentTotal uint32
		Payload       []byte
	}
)

const (
	FrameTypeText FrameType = 1
	FrameTypeFile FrameType = 2
)

var (
	ErrFrameTooShort         = errors.New("frame is too short to be valid")
	ErrWrongEtherType        = errors.New("frame does not carry the chat EtherType")
	ErrBadChecksum           = errors.New("frame crc32 integrity check failed")
	ErrPayloadLengthMismatch = errors.New("frame payload length field is inconsistent")
	ErrUnknownFrameType      = errors.New("unknown frame type")
	ErrFragmentIndexRange    = errors.New("fragment index is not smaller than fragment total")
	ErrPayloadTooLarge       = errors.New("payload is larger than the link layer MTU")

	crcTable = crc32.MakeTable(crc32.IEEE)
)

func (t FrameType) valid() bool {
	return t == FrameTypeText || t == FrameTypeFile
}

// String implements fmt.Stringer.
func (t FrameType) String() string {
	switch t {
	case FrameTypeText:
		return "text"
	case FrameTypeFile:
		return "file"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Marshal serializes the frame and appends the CRC-32 trailer.
func (f *Frame) Marshal() ([]byte, error) {
	if !f.Type.valid() {
		return nil, ErrUnknownFrameType
	}
	if len(f.Payload) > MTU {
		return nil, ErrPayloadTooLarge
	}
	if f.FragmentTotal > 0 && f.FragmentIndex >= f.FragmentTotal {
		return nil, ErrFragmentIndexRange
	}
	if len(f.DstMAC) != 6 || len(f.SrcMAC) != 6 {
		return nil, fmt.Errorf("dst and src MAC addresses must have 6 bytes")
	}

	// extension header
	ext := make([]byte, extensionHeaderLength, extensionHeaderLength+len(f.Payload))
	ext[0] = byte(f.Type)
	binary.BigEndian.PutUint16(ext[1:3], f.MessageID)
	binary.BigEndian.PutUint32(ext[3:7], f.FragmentIndex)
	binary.BigEndian.PutUint32(ext[7:11], f.FragmentTotal)
	binary.BigEndian.PutUint16(ext[11:13], uint16(len(f.Payload)))
	ext = append(ext, f.Payload...)

	// ethernet header
	eth := &gplayers.Ethernet{
		DstMAC:       f.DstMAC,
		SrcMAC:       f.SrcMAC,
		EthernetType: gplayers.EthernetType(EtherType),
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{}
	if err := gopacket.SerializeLayers(buf, opts, eth, gopacket.Payload(ext)); err != nil {
		return nil, fmt.Errorf("error serializing ethernet layer: %w", err)
	}

	// crc32 trailer. gopacket zero-pads ethernet frames shorter than 60
	// bytes; cut the padding so the trailer follows the payload directly
	b := buf.Bytes()[:HeaderLength+len(f.Payload)]
	crc := crc32.Checksum(b, crcTable)
	out := make([]byte, len(b), len(b)+ChecksumLength)
	copy(out, b)
	out = binary.BigEndian.AppendUint32(out, crc)
	return out, nil
}

// Unmarshal parses and validates a frame, verifying the CRC-32
// trailer, the EtherType and the internal length consistency.
func Unmarshal(frameBuf []byte) (*Frame, error) {
	if len(frameBuf) < FrameOverhead {
		return nil, ErrFrameTooShort
	}

	// split frame data and crc, validate crc
	siz := len(frameBuf) - ChecksumLength
	frameData, crcBuf := frameBuf[:siz], frameBuf[siz:]
	crc := crc32.Checksum(frameData, crcTable)
	expectedCrc := binary.BigEndian.Uint32(crcBuf)
	if crc != expectedCrc {
		return nil, fmt.Errorf("%w: want %x, got %x", ErrBadChecksum, expectedCrc, crc)
	}

	// deserialize ethernet header
	pkt := gopacket.NewPacket(frameData, gplayers.LayerTypeEthernet, gopacket.Lazy)
	ethLayer := pkt.LinkLayer()
	if ethLayer == nil {
		return nil, fmt.Errorf("error deserializing link layer: %w", pkt.ErrorLayer().Error())
	}
	eth, ok := ethLayer.(*gplayers.Ethernet)
	if !ok {
		return nil, fmt.Errorf("link layer is not ethernet")
	}
	if uint16(eth.EthernetType) != EtherType {
		return nil, fmt.Errorf("%w: got 0x%04x", ErrWrongEtherType, uint16(eth.EthernetType))
	}

	// extension header
	ext := eth.Payload
	if len(ext) < extensionHeaderLength {
		return nil, ErrFrameTooShort
	}
	f := &Frame{
		DstMAC:        eth.DstMAC,
		SrcMAC:        eth.SrcMAC,
		Type:          FrameType(ext[0]),
		MessageID:     binary.BigEndian.Uint16(ext[1:3]),
		FragmentIndex: binary.BigEndian.Uint32(ext[3:7]),
		FragmentTotal: binary.BigEndian.Uint32(ext[7:11]),
	}
	if !f.Type.valid() {
		return nil, ErrUnknownFrameType
	}
	payloadLength := int(binary.BigEndian.Uint16(ext[11:13]))
	payload := ext[extensionHeaderLength:]
	if len(payload) != payloadLength {
		return nil, fmt.Errorf("%w: header says %d, frame carries %d",
			ErrPayloadLengthMismatch, payloadLength, len(payload))
	}
	if f.FragmentTotal > 0 && f.FragmentIndex >= f.FragmentTotal {
		return nil, ErrFragmentIndexRange
	}
	f.Payload = make([]byte, len(payload))
	copy(f.Payload, payload)
	return f, nil
}
