package application

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/matheuscscp/link-chat/layers/link"

	"github.com/sirupsen/logrus"
)

type (
	// FileService sends files as single logical File-typed messages
	// prefixed with FILE_TRANSFER:<name>:<size>:, and saves inbound
	// ones under the downloads directory with collision-free naming.
	FileService struct {
		sender       LinkSender
		sink         EventSink
		downloadsDir string
		l            logrus.FieldLogger
	}

	// ReceivedFile describes a file that was just saved to disk.
	ReceivedFile struct {
		Name string // name announced by the sender (may be a relative path)
		Path string // where the file was actually written
		Size int64
	}
)

// NewFileService creates a FileService writing under downloadsDir.
func NewFileService(sender LinkSender, sink EventSink, downloadsDir string) *FileService {
	if downloadsDir == "" {
		downloadsDir = defaultDownloadsDir
	}
	return &FileService{
		sender:       sender,
		sink:         sink,
		downloadsDir: downloadsDir,
		l:            logrus.WithField("component", "file_transfer"),
	}
}

// SendFile transmits the file at path as one logical message.
func (s *FileService) SendFile(ctx context.Context, dst net.HardwareAddr, path string) error {
	return s.SendFileAs(ctx, dst, path, filepath.Base(path))
}

// SendFileAs transmits the file at path announcing the given name,
// used by folder transfers to announce relative paths.
func (s *FileService) SendFileAs(ctx context.Context, dst net.HardwareAddr, path, name string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("error reading file: %w", err)
	}
	header := fmt.Sprintf("%s%s:%d:", fileTransferPrefix, name, len(content))
	payload := make([]byte, 0, len(header)+len(content))
	payload = append(payload, header...)
	payload = append(payload, content...)
	if err := s.sender.Send(ctx, dst, link.FrameTypeFile, payload); err != nil {
		return fmt.Errorf("error sending file %s: %w", name, err)
	}
	return nil
}

// HandlePayload processes a reassembled File-typed payload. Prefixed
// payloads are parsed and size-validated before being written; on
// mismatch nothing is written and an error is returned. Payloads
// without the prefix are saved raw under a timestamped name.
func (s *FileService) HandlePayload(src net.HardwareAddr, payload []byte) (*ReceivedFile, error) {
	if !bytes.HasPrefix(payload, []byte(fileTransferPrefix)) {
		name := fmt.Sprintf("file_received_%d.bin", time.Now().Unix())
		return s.save(name, payload)
	}

	rest := payload[len(fileTransferPrefix):]
	nameEnd := bytes.IndexByte(rest, ':')
	if nameEnd < 0 {
		return nil, fmt.Errorf("malformed file transfer payload: missing name delimiter")
	}
	name := string(rest[:nameEnd])

	rest = rest[nameEnd+1:]
	sizeEnd := bytes.IndexByte(rest, ':')
	if sizeEnd < 0 {
		return nil, fmt.Errorf("malformed file transfer payload: missing size delimiter")
	}
	size, err := strconv.ParseInt(string(rest[:sizeEnd]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("malformed file transfer payload: bad size: %w", err)
	}

	content := rest[sizeEnd+1:]
	if int64(len(content)) != size {
		return nil, fmt.Errorf("file %s size mismatch: announced %d bytes, received %d", name, size, len(content))
	}
	return s.save(name, content)
}

func (s *FileService) save(name string, content []byte) (*ReceivedFile, error) {
	rel, err := sanitizeRelativeName(name)
	if err != nil {
		return nil, err
	}
	path, err := uniquePath(s.downloadsDir, rel)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return nil, fmt.Errorf("error writing file %s: %w", path, err)
	}
	s.l.
		WithField("path", path).
		WithField("size", len(content)).
		Info("file saved")
	return &ReceivedFile{Name: name, Path: path, Size: int64(len(content))}, nil
}

// sanitizeRelativeName rejects names that would escape the downloads
// directory.
func sanitizeRelativeName(name string) (string, error) {
	rel := filepath.FromSlash(name)
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("rejecting absolute file name %q", name)
	}
	clean := filepath.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("rejecting file name escaping the downloads directory: %q", name)
	}
	return clean, nil
}

// uniquePath joins dir and rel, creating parent directories and
// suffixing the base name with a counter until the path is free.
func uniquePath(dir, rel string) (string, error) {
	path := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("error creating download directory: %w", err)
	}
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(path, ext)
	for counter := 1; ; counter++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path, nil
		} else if err != nil {
			return "", fmt.Errorf("error checking download path: %w", err)
		}
		path = fmt.Sprintf("%s_%d%s", stem, counter, ext)
	}
}
