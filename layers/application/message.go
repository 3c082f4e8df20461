package application

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type (
	// TextMessageKind is the tag of a classified inbound text payload.
	TextMessageKind int

	// TextMessage is the tagged variant an inbound text payload is
	// parsed into exactly once at the dispatcher boundary. Only the
	// field matching Kind is set.
	TextMessage struct {
		Kind      TextMessageKind
		Chat      string
		Discovery *DiscoveryMessage
		Security  *SecurityMessage
		Folder    *FolderControlMessage
	}

	// DiscoveryMessage is the JSON body of DISCOVERY: payloads.
	DiscoveryMessage struct {
		Type         string   `json:"type"`
		MAC          string   `json:"mac"`
		Hostname     string   `json:"hostname,omitempty"`
		Timestamp    float64  `json:"timestamp"`
		Capabilities []string `json:"capabilities,omitempty"`
	}

	// SecurityMessage is the JSON body of SECURITY: payloads, carrying
	// either a handshake step or an encrypted message.
	SecurityMessage struct {
		Type          string  `json:"type"`
		PublicToken   string  `json:"public_token,omitempty"`
		ExchangeToken string  `json:"exchange_token,omitempty"`
		SenderMAC     string  `json:"sender_mac,omitempty"`
		Timestamp     float64 `json:"timestamp,omitempty"`
		Nonce         string  `json:"nonce,omitempty"`
		Encrypted     string  `json:"encrypted,omitempty"`
		MAC           string  `json:"mac,omitempty"`
		Cipher        string  `json:"cipher,omitempty"`
	}

	// FolderOp is the kind of folder transfer control message.
	FolderOp int

	// FolderControlMessage is the parsed form of FOLDER_START:,
	// FOLDER_FILE: and FOLDER_END: payloads.
	FolderControlMessage struct {
		Op    FolderOp
		Start *FolderStart
		File  *FolderFile
		End   *FolderEnd
	}

	FolderStart struct {
		TransferID string  `json:"transfer_id"`
		Name       string  `json:"name"`
		TotalFiles int     `json:"total_files"`
		Timestamp  float64 `json:"timestamp"`
	}

	FolderFile struct {
		TransferID   string `json:"transfer_id"`
		RelativePath string `json:"relative_path"`
		FileSize     int64  `json:"file_size"`
	}

	FolderEnd struct {
		TransferID string `json:"transfer_id"`
		FilesSent  int    `json:"files_sent"`
	}
)

const (
	KindChat TextMessageKind = iota
	KindDiscovery
	KindSecurity
	KindFolderControl
)

const (
	FolderOpStart FolderOp = iota
	FolderOpFile
	FolderOpEnd
)

// ParseTextMessage classifies a text payload by its prefix and parses
// the control message body, if any. Payloads with no known prefix are
// plain chat.
func ParseTextMessage(s string) (*TextMessage, error) {
	switch {
	case strings.HasPrefix(s, discoveryPrefix):
		var body DiscoveryMessage
		if err := json.Unmarshal([]byte(s[len(discoveryPrefix):]), &body); err != nil {
			return nil, fmt.Errorf("error parsing discovery message: %w", err)
		}
		return &TextMessage{Kind: KindDiscovery, Discovery: &body}, nil

	case strings.HasPrefix(s, securityPrefix):
		var body SecurityMessage
		if err := json.Unmarshal([]byte(s[len(securityPrefix):]), &body); err != nil {
			return nil, fmt.Errorf("error parsing security message: %w", err)
		}
		return &TextMessage{Kind: KindSecurity, Security: &body}, nil

	case strings.HasPrefix(s, folderStartPrefix):
		var body FolderStart
		if err := json.Unmarshal([]byte(s[len(folderStartPrefix):]), &body); err != nil {
			return nil, fmt.Errorf("error parsing folder start message: %w", err)
		}
		return &TextMessage{Kind: KindFolderControl, Folder: &FolderControlMessage{Op: FolderOpStart, Start: &body}}, nil

	case strings.HasPrefix(s, folderFilePrefix):
		var body FolderFile
		if err := json.Unmarshal([]byte(s[len(folderFilePrefix):]), &body); err != nil {
			return nil, fmt.Errorf("error parsing folder file message: %w", err)
		}
		return &TextMessage{Kind: KindFolderControl, Folder: &FolderControlMessage{Op: FolderOpFile, File: &body}}, nil

	case strings.HasPrefix(s, folderEndPrefix):
		var body FolderEnd
		if err := json.Unmarshal([]byte(s[len(folderEndPrefix):]), &body); err != nil {
			return nil, fmt.Errorf("error parsing folder end message: %w", err)
		}
		return &TextMessage{Kind: KindFolderControl, Folder: &FolderControlMessage{Op: FolderOpEnd, End: &body}}, nil

	default:
		return &TextMessage{Kind: KindChat, Chat: s}, nil
	}
}

func marshalWithPrefix(prefix string, body interface{}) (string, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("error marshaling control message: %w", err)
	}
	return prefix + string(b), nil
}

func unixTimestamp() float64 {
	return float64(time.Now().UnixMilli()) / 1000
}
