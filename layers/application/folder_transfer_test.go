package application_test

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/matheuscscp/link-chat/layers/application"
	"github.com/matheuscscp/link-chat/layers/link"
	"github.com/matheuscscp/link-chat/test"

	"github.com/stretchr/testify/require"
)

func folderFixture(t *testing.T) (*application.FolderService, *application.FileService, *fakeSender, *test.RecorderSink, string) {
	t.Helper()
	sender := newFakeSender(t, "02:00:00:00:00:0a")
	sink := &test.RecorderSink{}
	downloads := t.TempDir()
	files := application.NewFileService(sender, sink, downloads)
	folders := application.NewFolderService(sender, sink, files, downloads)
	return folders, files, sender, sink, downloads
}

// deliverFile plays the receiving side of one file transfer: save the
// payload, then let the folder service claim it.
func deliverFile(t *testing.T, folders *application.FolderService, files *application.FileService, src net.HardwareAddr, name, content string) bool {
	t.Helper()
	payload := []byte(fmt.Sprintf("FILE_TRANSFER:%s:%d:%s", name, len(content), content))
	rf, err := files.HandlePayload(src, payload)
	require.NoError(t, err)
	return folders.ClaimReceivedFile(src, rf)
}

func TestFolderReceiveRecreatesTree(t *testing.T) {
	// scenario: r/x.txt == "alpha" and r/sub/y.txt == "bet"
	folders, files, _, sink, downloads := folderFixture(t)
	src := srcMAC(t)

	folders.HandleControl(src, &application.FolderControlMessage{
		Op:    application.FolderOpStart,
		Start: &application.FolderStart{TransferID: "tr-1", Name: "r", TotalFiles: 2},
	})

	folders.HandleControl(src, &application.FolderControlMessage{
		Op:   application.FolderOpFile,
		File: &application.FolderFile{TransferID: "tr-1", RelativePath: "x.txt", FileSize: 5},
	})
	require.True(t, deliverFile(t, folders, files, src, "x.txt", "alpha"))

	folders.HandleControl(src, &application.FolderControlMessage{
		Op:   application.FolderOpFile,
		File: &application.FolderFile{TransferID: "tr-1", RelativePath: "sub/y.txt", FileSize: 3},
	})
	require.True(t, deliverFile(t, folders, files, src, "sub/y.txt", "bet"))

	folders.HandleControl(src, &application.FolderControlMessage{
		Op:  application.FolderOpEnd,
		End: &application.FolderEnd{TransferID: "tr-1", FilesSent: 2},
	})

	content, err := os.ReadFile(filepath.Join(downloads, "r", "x.txt"))
	require.NoError(t, err)
	require.Equal(t, "alpha", string(content))

	content, err = os.ReadFile(filepath.Join(downloads, "r", "sub", "y.txt"))
	require.NoError(t, err)
	require.Equal(t, "bet", string(content))

	require.NotEmpty(t, sink.Messages())
}

func TestFolderReceiveDirectoryCollision(t *testing.T) {
	folders, _, _, _, downloads := folderFixture(t)
	src := srcMAC(t)

	for i := 0; i < 2; i++ {
		folders.HandleControl(src, &application.FolderControlMessage{
			Op:    application.FolderOpStart,
			Start: &application.FolderStart{TransferID: fmt.Sprintf("tr-%d", i), Name: "r", TotalFiles: 0},
		})
	}

	for _, name := range []string{"r", "r_1"} {
		info, err := os.Stat(filepath.Join(downloads, name))
		require.NoError(t, err, "expected directory %s", name)
		require.True(t, info.IsDir())
	}
}

func TestFolderDoesNotClaimUnrelatedFiles(t *testing.T) {
	folders, files, _, _, downloads := folderFixture(t)
	src := srcMAC(t)

	folders.HandleControl(src, &application.FolderControlMessage{
		Op:    application.FolderOpStart,
		Start: &application.FolderStart{TransferID: "tr-1", Name: "r", TotalFiles: 1},
	})
	folders.HandleControl(src, &application.FolderControlMessage{
		Op:   application.FolderOpFile,
		File: &application.FolderFile{TransferID: "tr-1", RelativePath: "x.txt", FileSize: 5},
	})

	// size mismatch with the expectation: the file stays a plain
	// download
	require.False(t, deliverFile(t, folders, files, src, "x.txt", "longer than five"))
	_, err := os.Stat(filepath.Join(downloads, "x.txt"))
	require.NoError(t, err)
}

func TestSendFolderEmitsControlSequence(t *testing.T) {
	folders, _, sender, _, _ := folderFixture(t)

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "r", "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "r", "x.txt"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "r", "sub", "y.txt"), []byte("bet"), 0o644))

	dst := srcMAC(t)
	require.NoError(t, folders.SendFolder(context.Background(), dst, filepath.Join(root, "r")))

	sent := sender.sentMessages()
	require.Len(t, sent, 6) // start, (descriptor, file) x 2, end

	parsed, err := application.ParseTextMessage(string(sent[0].payload))
	require.NoError(t, err)
	require.Equal(t, application.KindFolderControl, parsed.Kind)
	require.Equal(t, application.FolderOpStart, parsed.Folder.Op)
	require.Equal(t, "r", parsed.Folder.Start.Name)
	require.Equal(t, 2, parsed.Folder.Start.TotalFiles)
	transferID := parsed.Folder.Start.TransferID
	require.NotEmpty(t, transferID)

	// WalkDir visits sub/y.txt before x.txt in lexical order
	parsed, err = application.ParseTextMessage(string(sent[1].payload))
	require.NoError(t, err)
	require.Equal(t, application.FolderOpFile, parsed.Folder.Op)
	require.Equal(t, "sub/y.txt", parsed.Folder.File.RelativePath)
	require.Equal(t, int64(3), parsed.Folder.File.FileSize)
	require.Equal(t, transferID, parsed.Folder.File.TransferID)

	require.Equal(t, link.FrameTypeFile, sent[2].frameType)
	require.Equal(t, []byte("FILE_TRANSFER:sub/y.txt:3:bet"), sent[2].payload)

	parsed, err = application.ParseTextMessage(string(sent[3].payload))
	require.NoError(t, err)
	require.Equal(t, "x.txt", parsed.Folder.File.RelativePath)
	require.Equal(t, link.FrameTypeFile, sent[4].frameType)

	parsed, err = application.ParseTextMessage(string(sent[5].payload))
	require.NoError(t, err)
	require.Equal(t, application.FolderOpEnd, parsed.Folder.Op)
	require.Equal(t, 2, parsed.Folder.End.FilesSent)
	require.Equal(t, transferID, parsed.Folder.End.TransferID)
}
