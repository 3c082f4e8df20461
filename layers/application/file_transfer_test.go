package application_test

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/matheuscscp/link-chat/layers/application"
	"github.com/matheuscscp/link-chat/layers/link"
	"github.com/matheuscscp/link-chat/test"

	"github.com/stretchr/testify/require"
)

func fileFixture(t *testing.T) (*application.FileService, *fakeSender, *test.RecorderSink, string) {
	t.Helper()
	sender := newFakeSender(t, "02:00:00:00:00:0a")
	sink := &test.RecorderSink{}
	downloads := t.TempDir()
	return application.NewFileService(sender, sink, downloads), sender, sink, downloads
}

func srcMAC(t *testing.T) net.HardwareAddr {
	t.Helper()
	src, err := net.ParseMAC("02:00:00:00:00:0b")
	require.NoError(t, err)
	return src
}

func TestFileReceiveRoundTrip(t *testing.T) {
	// scenario: FILE_TRANSFER:a.txt:2:hi saves downloads/a.txt == "hi"
	files, _, _, downloads := fileFixture(t)

	rf, err := files.HandlePayload(srcMAC(t), []byte("FILE_TRANSFER:a.txt:2:hi"))
	require.NoError(t, err)
	require.Equal(t, "a.txt", rf.Name)
	require.Equal(t, int64(2), rf.Size)

	content, err := os.ReadFile(filepath.Join(downloads, "a.txt"))
	require.NoError(t, err)
	require.Equal(t, []byte("hi"), content)
}

func TestFileReceiveBinaryContentWithColons(t *testing.T) {
	files, _, _, downloads := fileFixture(t)

	body := []byte("bytes:with:colons\x00\x01\x02")
	payload := append([]byte("FILE_TRANSFER:data.bin:20:"), body...)
	require.Len(t, body, 20)

	rf, err := files.HandlePayload(srcMAC(t), payload)
	require.NoError(t, err)
	require.Equal(t, "data.bin", rf.Name)

	content, err := os.ReadFile(filepath.Join(downloads, "data.bin"))
	require.NoError(t, err)
	require.Equal(t, body, content)
}

func TestFileReceiveSizeMismatchWritesNothing(t *testing.T) {
	files, _, _, downloads := fileFixture(t)

	_, err := files.HandlePayload(srcMAC(t), []byte("FILE_TRANSFER:a.txt:5:hi"))
	require.Error(t, err)

	entries, err := os.ReadDir(downloads)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestFileReceiveNameCollision(t *testing.T) {
	files, _, _, downloads := fileFixture(t)

	for i := 0; i < 3; i++ {
		_, err := files.HandlePayload(srcMAC(t), []byte("FILE_TRANSFER:a.txt:2:hi"))
		require.NoError(t, err)
	}

	for _, name := range []string{"a.txt", "a_1.txt", "a_2.txt"} {
		_, err := os.Stat(filepath.Join(downloads, name))
		require.NoError(t, err, "expected %s to exist", name)
	}
}

func TestFileReceiveRawFallback(t *testing.T) {
	files, _, _, downloads := fileFixture(t)

	rf, err := files.HandlePayload(srcMAC(t), []byte{0xde, 0xad, 0xbe, 0xef})
	require.NoError(t, err)
	require.Contains(t, rf.Name, "file_received_")

	content, err := os.ReadFile(rf.Path)
	require.NoError(t, err)
	require.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, content)
	require.Equal(t, downloads, filepath.Dir(rf.Path))
}

func TestFileReceiveRejectsEscapingNames(t *testing.T) {
	files, _, _, downloads := fileFixture(t)

	_, err := files.HandlePayload(srcMAC(t), []byte("FILE_TRANSFER:../evil.txt:2:hi"))
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(filepath.Dir(downloads), "evil.txt"))
	require.True(t, os.IsNotExist(statErr))
}

func TestSendFileComposesPrefixedPayload(t *testing.T) {
	files, sender, _, _ := fileFixture(t)

	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hi"), 0o644))

	dst := srcMAC(t)
	require.NoError(t, files.SendFile(context.Background(), dst, path))

	sent := sender.lastSent(t)
	require.Equal(t, dst, sent.dst)
	require.Equal(t, link.FrameTypeFile, sent.frameType)
	require.True(t, bytes.Equal(sent.payload, []byte("FILE_TRANSFER:a.txt:2:hi")))
}
