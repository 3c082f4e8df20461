package application_test

import (
	"testing"

	"github.com/matheuscscp/link-chat/layers/application"

	"github.com/stretchr/testify/require"
)

func TestParseTextMessageChat(t *testing.T) {
	parsed, err := application.ParseTextMessage("hola")
	require.NoError(t, err)
	require.Equal(t, application.KindChat, parsed.Kind)
	require.Equal(t, "hola", parsed.Chat)
}

func TestParseTextMessageDiscovery(t *testing.T) {
	payload := `DISCOVERY:{"type":"HEARTBEAT","mac":"02:00:00:00:00:01","hostname":"nodeA","timestamp":1700000000.5,"capabilities":["text"]}`
	parsed, err := application.ParseTextMessage(payload)
	require.NoError(t, err)
	require.Equal(t, application.KindDiscovery, parsed.Kind)
	require.Equal(t, "HEARTBEAT", parsed.Discovery.Type)
	require.Equal(t, "nodeA", parsed.Discovery.Hostname)
	require.Equal(t, []string{"text"}, parsed.Discovery.Capabilities)
}

func TestParseTextMessageSecurity(t *testing.T) {
	payload := `SECURITY:{"type":"SIMPLE_KEY_REQUEST","public_token":"aa","exchange_token":"bb","sender_mac":"02:00:00:00:00:01"}`
	parsed, err := application.ParseTextMessage(payload)
	require.NoError(t, err)
	require.Equal(t, application.KindSecurity, parsed.Kind)
	require.Equal(t, "SIMPLE_KEY_REQUEST", parsed.Security.Type)
	require.Equal(t, "aa", parsed.Security.PublicToken)
}

func TestParseTextMessageFolderControls(t *testing.T) {
	parsed, err := application.ParseTextMessage(`FOLDER_START:{"transfer_id":"tr","name":"r","total_files":2}`)
	require.NoError(t, err)
	require.Equal(t, application.KindFolderControl, parsed.Kind)
	require.Equal(t, application.FolderOpStart, parsed.Folder.Op)

	parsed, err = application.ParseTextMessage(`FOLDER_FILE:{"transfer_id":"tr","relative_path":"sub/y.txt","file_size":3}`)
	require.NoError(t, err)
	require.Equal(t, application.FolderOpFile, parsed.Folder.Op)
	require.Equal(t, "sub/y.txt", parsed.Folder.File.RelativePath)

	parsed, err = application.ParseTextMessage(`FOLDER_END:{"transfer_id":"tr","files_sent":2}`)
	require.NoError(t, err)
	require.Equal(t, application.FolderOpEnd, parsed.Folder.Op)
	require.Equal(t, 2, parsed.Folder.End.FilesSent)
}

func TestParseTextMessageMalformedControl(t *testing.T) {
	_, err := application.ParseTextMessage("DISCOVERY:{not json")
	require.Error(t, err)

	_, err = application.ParseTextMessage("FOLDER_START:")
	require.Error(t, err)
}

func TestParseTextMessagePrefixMustMatchExactly(t *testing.T) {
	// a chat message merely mentioning a prefix mid-string stays chat
	parsed, err := application.ParseTextMessage("the DISCOVERY: prefix only counts at the start")
	require.NoError(t, err)
	require.Equal(t, application.KindChat, parsed.Kind)
}
