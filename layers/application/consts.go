// Package application implements the chat protocols layered on top of
// the link transceiver: peer discovery, the secure channel, file and
// folder transfer, and the dispatcher routing inbound messages.
package application

import "time"

const (
	discoveryPrefix    = "DISCOVERY:"
	securityPrefix     = "SECURITY:"
	folderStartPrefix  = "FOLDER_START:"
	folderFilePrefix   = "FOLDER_FILE:"
	folderEndPrefix    = "FOLDER_END:"
	fileTransferPrefix = "FILE_TRANSFER:"

	discoveryTypeHeartbeat = "HEARTBEAT"
	discoveryTypeRequest   = "DISCOVERY_REQUEST"

	securityTypeKeyRequest    = "SIMPLE_KEY_REQUEST"
	securityTypeKeyResponse   = "SIMPLE_KEY_RESPONSE"
	securityTypeSecureMessage = "SECURE_MESSAGE"

	cipherXORHMAC = "xor-hmac"
	cipherXChaCha = "xchacha20poly1305"

	defaultHeartbeatInterval = 30 * time.Second
	defaultPeerTimeout       = 90 * time.Second
	defaultExchangeTTL       = 5 * time.Minute
	folderReceiveTTL         = time.Hour

	defaultDownloadsDir = "downloads"
)
