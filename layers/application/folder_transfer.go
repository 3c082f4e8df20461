package application

import (
	"context"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matheuscscp/link-chat/layers/link"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/sirupsen/logrus"
)

type (
	// FolderService transfers whole directory trees: a FOLDER_START
	// control message, then one FOLDER_FILE descriptor plus a file
	// transfer per file, closed by FOLDER_END. On the receiving side
	// it recreates the tree under the download root and moves each
	// freshly-received file into place.
	FolderService struct {
		sender       LinkSender
		sink         EventSink
		files        *FileService
		downloadsDir string
		transferSeq  atomic.Uint32
		l            logrus.FieldLogger

		mu        sync.Mutex
		receiving map[string]*folderReceive
	}

	folderReceive struct {
		transferID    string
		name          string
		rootPath      string
		expectedFiles int
		filesDone     int
		expecting     *FolderFile
		lastUpdate    time.Time
	}
)

// NewFolderService creates a FolderService materializing folders under
// downloadsDir.
func NewFolderService(sender LinkSender, sink EventSink, files *FileService, downloadsDir string) *FolderService {
	if downloadsDir == "" {
		downloadsDir = defaultDownloadsDir
	}
	return &FolderService{
		sender:       sender,
		sink:         sink,
		files:        files,
		downloadsDir: downloadsDir,
		l:            logrus.WithField("component", "folder_transfer"),
		receiving:    make(map[string]*folderReceive),
	}
}

// SendFolder walks the directory and transfers every regular file in a
// stable order, framed by the folder control messages.
func (s *FolderService) SendFolder(ctx context.Context, dst net.HardwareAddr, folderPath string) error {
	info, err := os.Stat(folderPath)
	if err != nil {
		return fmt.Errorf("error opening folder: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", folderPath)
	}

	// WalkDir visits entries in lexical order, giving a stable file
	// sequence on every run
	var relPaths []string
	err = filepath.WalkDir(folderPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			rel, relErr := filepath.Rel(folderPath, path)
			if relErr != nil {
				return relErr
			}
			relPaths = append(relPaths, rel)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("error walking folder: %w", err)
	}

	name := filepath.Base(folderPath)
	transferID := fmt.Sprintf("%s-%d", petname.Generate(2, "-"), s.transferSeq.Add(1))
	start, err := marshalWithPrefix(folderStartPrefix, &FolderStart{
		TransferID: transferID,
		Name:       name,
		TotalFiles: len(relPaths),
		Timestamp:  unixTimestamp(),
	})
	if err != nil {
		return err
	}
	if err := s.sender.Send(ctx, dst, link.FrameTypeText, []byte(start)); err != nil {
		return fmt.Errorf("error sending folder start: %w", err)
	}

	sent := 0
	for i, rel := range relPaths {
		relSlash := filepath.ToSlash(rel)
		fullPath := filepath.Join(folderPath, rel)
		info, err := os.Stat(fullPath)
		if err != nil {
			return fmt.Errorf("error inspecting %s: %w", rel, err)
		}
		descriptor, err := marshalWithPrefix(folderFilePrefix, &FolderFile{
			TransferID:   transferID,
			RelativePath: relSlash,
			FileSize:     info.Size(),
		})
		if err != nil {
			return err
		}
		if err := s.sender.Send(ctx, dst, link.FrameTypeText, []byte(descriptor)); err != nil {
			return fmt.Errorf("error sending folder file descriptor: %w", err)
		}
		if err := s.files.SendFileAs(ctx, dst, fullPath, relSlash); err != nil {
			return err
		}
		sent++
		s.sink.UpdateProgress(fmt.Sprintf("sending folder %s", name), i+1, len(relPaths))
	}

	end, err := marshalWithPrefix(folderEndPrefix, &FolderEnd{
		TransferID: transferID,
		FilesSent:  sent,
	})
	if err != nil {
		return err
	}
	if err := s.sender.Send(ctx, dst, link.FrameTypeText, []byte(end)); err != nil {
		return fmt.Errorf("error sending folder end: %w", err)
	}
	return nil
}

// HandleControl processes an inbound folder control message.
func (s *FolderService) HandleControl(src net.HardwareAddr, msg *FolderControlMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gcLocked(time.Now())

	switch msg.Op {
	case FolderOpStart:
		s.handleStartLocked(msg.Start)
	case FolderOpFile:
		rec, ok := s.receiving[msg.File.TransferID]
		if !ok {
			s.l.
				WithField("transfer_id", msg.File.TransferID).
				Warn("folder file descriptor for unknown transfer")
			return
		}
		rec.expecting = msg.File
		rec.lastUpdate = time.Now()
	case FolderOpEnd:
		rec, ok := s.receiving[msg.End.TransferID]
		if !ok {
			s.l.
				WithField("transfer_id", msg.End.TransferID).
				Warn("folder end for unknown transfer")
			return
		}
		delete(s.receiving, msg.End.TransferID)
		summary := fmt.Sprintf("folder received: %s (%d/%d files) in %s",
			rec.name, rec.filesDone, msg.End.FilesSent, filepath.Base(rec.rootPath))
		s.sink.DisplayMessage("System", summary)
	}
}

func (s *FolderService) handleStartLocked(start *FolderStart) {
	name, err := sanitizeRelativeName(start.Name)
	if err != nil {
		s.sink.ReportError("folder receive", err)
		return
	}
	rootPath, err := uniqueDirPath(s.downloadsDir, name)
	if err != nil {
		s.sink.ReportError("folder receive", err)
		return
	}
	s.receiving[start.TransferID] = &folderReceive{
		transferID:    start.TransferID,
		name:          start.Name,
		rootPath:      rootPath,
		expectedFiles: start.TotalFiles,
		lastUpdate:    time.Now(),
	}
	s.sink.DisplayMessage("System",
		fmt.Sprintf("receiving folder: %s (%d files)", start.Name, start.TotalFiles))
}

// ClaimReceivedFile reroutes a freshly-saved file into the folder that
// is expecting it, matching by announced relative path and size.
// Returns false when no folder transfer claims the file.
func (s *FolderService) ClaimReceivedFile(src net.HardwareAddr, rf *ReceivedFile) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.receiving {
		expecting := rec.expecting
		if expecting == nil || expecting.RelativePath != rf.Name || expecting.FileSize != rf.Size {
			continue
		}

		rel, err := sanitizeRelativeName(expecting.RelativePath)
		if err != nil {
			s.sink.ReportError("folder receive", err)
			return false
		}
		dstPath := filepath.Join(rec.rootPath, rel)
		if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
			s.sink.ReportError("folder receive", fmt.Errorf("error creating folder tree: %w", err))
			return false
		}
		if err := os.Rename(rf.Path, dstPath); err != nil {
			s.sink.ReportError("folder receive", fmt.Errorf("error moving file into folder: %w", err))
			return false
		}
		// drop the parent directory the staging save may have created,
		// if it is now empty
		if dir := filepath.Dir(rf.Path); dir != s.downloadsDir {
			os.Remove(dir)
		}

		rec.filesDone++
		rec.expecting = nil
		rec.lastUpdate = time.Now()
		s.sink.UpdateProgress(fmt.Sprintf("receiving folder %s", rec.name), rec.filesDone, rec.expectedFiles)
		return true
	}
	return false
}

func (s *FolderService) gcLocked(now time.Time) {
	for transferID, rec := range s.receiving {
		if now.Sub(rec.lastUpdate) > folderReceiveTTL {
			s.l.
				WithField("transfer_id", transferID).
				WithField("files_done", rec.filesDone).
				Warn("discarding stalled folder receive")
			delete(s.receiving, transferID)
		}
	}
}

// uniqueDirPath joins dir and name, suffixing with a counter until the
// directory name is free, and creates it.
func uniqueDirPath(dir, name string) (string, error) {
	path := filepath.Join(dir, name)
	for counter := 1; ; counter++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			break
		} else if err != nil {
			return "", fmt.Errorf("error checking folder path: %w", err)
		}
		path = fmt.Sprintf("%s_%d", filepath.Join(dir, name), counter)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("error creating folder: %w", err)
	}
	return path, nil
}
