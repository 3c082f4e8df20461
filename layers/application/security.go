package application

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/matheuscscp/link-chat/config"
	"github.com/matheuscscp/link-chat/layers/link"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/chacha20poly1305"
)

type (
	// SecurityConfig contains the configs for NewSecureChannel.
	//
	// The default message protection is the XOR keystream plus
	// HMAC-SHA256 shape, which authenticates and obfuscates but is
	// not a strong AEAD. PreferAEAD switches outbound messages to
	// XChaCha20-Poly1305; both suites are always accepted inbound.
	SecurityConfig struct {
		Enabled     bool            `yaml:"enabled"`
		PreferAEAD  bool            `yaml:"preferAEAD"`
		ExchangeTTL config.Duration `yaml:"exchangeTTL"`
	}

	// SecureChannel negotiates per-peer symmetric session keys through
	// an out-of-band exchange over the same link, and protects unicast
	// user payloads with them.
	SecureChannel struct {
		conf   *SecurityConfig
		sender LinkSender
		sink   EventSink
		l      logrus.FieldLogger

		mu          sync.Mutex
		enabled     bool
		localSecret []byte
		publicToken string
		sessions    map[string][]byte
		pending     map[string]*pendingExchange
	}

	pendingExchange struct {
		exchangeToken string
		startTime     time.Time
	}
)

var (
	ErrSecurityDisabled = errors.New("security layer is disabled")
	ErrNoSessionKey     = errors.New("no session key installed for peer")
	ErrBadHMAC          = errors.New("message authentication failed")
)

// NewSecureChannel creates a SecureChannel from config, generating the
// 32-byte local secret and its public token.
func NewSecureChannel(conf SecurityConfig, sender LinkSender, sink EventSink) (*SecureChannel, error) {
	localSecret := make([]byte, 32)
	if _, err := rand.Read(localSecret); err != nil {
		return nil, fmt.Errorf("error generating local secret: %w", err)
	}
	publicToken := sha256.Sum256(localSecret)
	return &SecureChannel{
		conf:        &conf,
		sender:      sender,
		sink:        sink,
		l:           logrus.WithField("component", "secure_channel"),
		enabled:     conf.Enabled,
		localSecret: localSecret,
		publicToken: hex.EncodeToString(publicToken[:]),
		sessions:    make(map[string][]byte),
		pending:     make(map[string]*pendingExchange),
	}, nil
}

// Enable turns the security layer on.
func (s *SecureChannel) Enable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = true
}

// Disable turns the security layer off and clears all session keys and
// outstanding exchanges.
func (s *SecureChannel) Disable() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = false
	s.sessions = make(map[string][]byte)
	s.pending = make(map[string]*pendingExchange)
}

// Enabled tells whether the security layer is on.
func (s *SecureChannel) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// HasSession tells whether a session key is installed for the peer.
func (s *SecureChannel) HasSession(mac string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[mac]
	return s.enabled && ok
}

// SessionCount returns the number of installed session keys.
func (s *SecureChannel) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// InitiateKeyExchange starts a handshake with the peer. The session
// key is installed when the response arrives.
func (s *SecureChannel) InitiateKeyExchange(ctx context.Context, dst net.HardwareAddr) error {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return ErrSecurityDisabled
	}
	s.cleanupExpiredLocked()

	exchangeToken := make([]byte, 16)
	if _, err := rand.Read(exchangeToken); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("error generating exchange token: %w", err)
	}
	token := hex.EncodeToString(exchangeToken)
	s.pending[dst.String()] = &pendingExchange{
		exchangeToken: token,
		startTime:     time.Now(),
	}
	publicToken := s.publicToken
	s.mu.Unlock()

	payload, err := marshalWithPrefix(securityPrefix, &SecurityMessage{
		Type:          securityTypeKeyRequest,
		PublicToken:   publicToken,
		ExchangeToken: token,
		Timestamp:     unixTimestamp(),
		SenderMAC:     s.sender.MACAddress().String(),
	})
	if err != nil {
		return err
	}
	return s.sender.Send(ctx, dst, link.FrameTypeText, []byte(payload))
}

// Handle processes an inbound security message.
func (s *SecureChannel) Handle(ctx context.Context, src net.HardwareAddr, msg *SecurityMessage) {
	if !s.Enabled() {
		s.l.
			WithField("src", src.String()).
			Warn("security message received but security is disabled")
		return
	}

	switch msg.Type {
	case securityTypeKeyRequest:
		s.handleKeyRequest(ctx, src, msg)
	case securityTypeKeyResponse:
		s.handleKeyResponse(src, msg)
	case securityTypeSecureMessage:
		s.handleSecureMessage(src, msg)
	default:
		s.l.
			WithField("type", msg.Type).
			Debug("ignoring unknown security message type")
	}
}

// EncryptText protects a unicast chat message for the peer, returning
// the full SECURITY:-prefixed payload.
func (s *SecureChannel) EncryptText(dst string, plaintext string) (string, error) {
	s.mu.Lock()
	if !s.enabled {
		s.mu.Unlock()
		return "", ErrSecurityDisabled
	}
	sessionKey, ok := s.sessions[dst]
	s.mu.Unlock()
	if !ok {
		return "", ErrNoSessionKey
	}

	msg := &SecurityMessage{
		Type:      securityTypeSecureMessage,
		Timestamp: unixTimestamp(),
		SenderMAC: s.sender.MACAddress().String(),
	}
	if s.conf.PreferAEAD {
		aead, err := chacha20poly1305.NewX(sessionKey)
		if err != nil {
			return "", fmt.Errorf("error creating aead: %w", err)
		}
		nonce := make([]byte, chacha20poly1305.NonceSizeX)
		if _, err := rand.Read(nonce); err != nil {
			return "", fmt.Errorf("error generating nonce: %w", err)
		}
		msg.Cipher = cipherXChaCha
		msg.Nonce = base64.StdEncoding.EncodeToString(nonce)
		msg.Encrypted = base64.StdEncoding.EncodeToString(aead.Seal(nil, nonce, []byte(plaintext), nil))
	} else {
		nonce := make([]byte, 16)
		if _, err := rand.Read(nonce); err != nil {
			return "", fmt.Errorf("error generating nonce: %w", err)
		}
		ciphertext := xorKeystream(sessionKey, nonce, []byte(plaintext))
		mac := computeHMAC(sessionKey, nonce, ciphertext)
		msg.Cipher = cipherXORHMAC
		msg.Nonce = base64.StdEncoding.EncodeToString(nonce)
		msg.Encrypted = base64.StdEncoding.EncodeToString(ciphertext)
		msg.MAC = base64.StdEncoding.EncodeToString(mac)
	}
	return marshalWithPrefix(securityPrefix, msg)
}

func (s *SecureChannel) handleKeyRequest(ctx context.Context, src net.HardwareAddr, msg *SecurityMessage) {
	sessionKey := deriveSessionKey(s.publicToken, msg.PublicToken, msg.ExchangeToken)

	s.mu.Lock()
	s.cleanupExpiredLocked()
	s.sessions[src.String()] = sessionKey
	publicToken := s.publicToken
	s.mu.Unlock()

	payload, err := marshalWithPrefix(securityPrefix, &SecurityMessage{
		Type:          securityTypeKeyResponse,
		PublicToken:   publicToken,
		ExchangeToken: msg.ExchangeToken,
		Timestamp:     unixTimestamp(),
		SenderMAC:     s.sender.MACAddress().String(),
	})
	if err != nil {
		s.sink.ReportError("key exchange", err)
		return
	}
	if err := s.sender.Send(ctx, src, link.FrameTypeText, []byte(payload)); err != nil {
		s.sink.ReportError("key exchange", err)
		return
	}
	s.sink.DisplayMessage("System", fmt.Sprintf("secure channel established with %s", src))
}

func (s *SecureChannel) handleKeyResponse(src net.HardwareAddr, msg *SecurityMessage) {
	s.mu.Lock()
	s.cleanupExpiredLocked()
	exchange, ok := s.pending[src.String()]
	if !ok {
		s.mu.Unlock()
		s.l.
			WithField("src", src.String()).
			Warn("unsolicited key exchange response")
		return
	}
	if exchange.exchangeToken != msg.ExchangeToken {
		s.mu.Unlock()
		s.sink.ReportError("key exchange", fmt.Errorf("invalid exchange token from %s", src))
		return
	}
	s.sessions[src.String()] = deriveSessionKey(s.publicToken, msg.PublicToken, msg.ExchangeToken)
	delete(s.pending, src.String())
	s.mu.Unlock()

	s.sink.DisplayMessage("System", fmt.Sprintf("secure channel established with %s", src))
}

func (s *SecureChannel) handleSecureMessage(src net.HardwareAddr, msg *SecurityMessage) {
	s.mu.Lock()
	sessionKey, ok := s.sessions[src.String()]
	s.mu.Unlock()
	if !ok {
		s.sink.ReportError("secure message", fmt.Errorf("%w: %s", ErrNoSessionKey, src))
		return
	}

	nonce, err := base64.StdEncoding.DecodeString(msg.Nonce)
	if err != nil {
		s.sink.ReportError("secure message", fmt.Errorf("error decoding nonce: %w", err))
		return
	}
	ciphertext, err := base64.StdEncoding.DecodeString(msg.Encrypted)
	if err != nil {
		s.sink.ReportError("secure message", fmt.Errorf("error decoding ciphertext: %w", err))
		return
	}

	var plaintext []byte
	switch msg.Cipher {
	case cipherXChaCha:
		aead, aeadErr := chacha20poly1305.NewX(sessionKey)
		if aeadErr != nil {
			s.sink.ReportError("secure message", aeadErr)
			return
		}
		plaintext, err = aead.Open(nil, nonce, ciphertext, nil)
		if err != nil {
			s.sink.ReportError("secure message", fmt.Errorf("%w: %s", ErrBadHMAC, src))
			return
		}
	case cipherXORHMAC, "":
		receivedMAC, macErr := base64.StdEncoding.DecodeString(msg.MAC)
		if macErr != nil {
			s.sink.ReportError("secure message", fmt.Errorf("error decoding hmac: %w", macErr))
			return
		}
		if !hmac.Equal(receivedMAC, computeHMAC(sessionKey, nonce, ciphertext)) {
			s.sink.ReportError("secure message", fmt.Errorf("%w: %s", ErrBadHMAC, src))
			return
		}
		plaintext = xorKeystream(sessionKey, nonce, ciphertext)
	default:
		s.sink.ReportError("secure message", fmt.Errorf("unknown cipher %q from %s", msg.Cipher, src))
		return
	}

	s.sink.DisplayMessage(fmt.Sprintf("%s (secure)", src), string(plaintext))
}

func (s *SecureChannel) cleanupExpiredLocked() {
	ttl := s.conf.ExchangeTTL.DurationOrDefault(defaultExchangeTTL)
	now := time.Now()
	for mac, exchange := range s.pending {
		if now.Sub(exchange.startTime) > ttl {
			s.l.
				WithField("peer_mac", mac).
				Info("key exchange expired")
			delete(s.pending, mac)
		}
	}
}

// deriveSessionKey combines both public tokens and the exchange token
// into the shared session key. The tokens are ordered
// lexicographically so both ends derive the same key.
func deriveSessionKey(localToken, remoteToken, exchangeToken string) []byte {
	lo, hi := localToken, remoteToken
	if hi < lo {
		lo, hi = hi, lo
	}
	key := sha256.Sum256([]byte(lo + hi + exchangeToken))
	return key[:]
}

// xorKeystream XORs data with SHA256(sessionKey || nonce) repeated to
// the message length. Symmetric, so it both encrypts and decrypts.
func xorKeystream(sessionKey, nonce, data []byte) []byte {
	cipherKey := sha256.Sum256(append(append([]byte{}, sessionKey...), nonce...))
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ cipherKey[i%len(cipherKey)]
	}
	return out
}

func computeHMAC(sessionKey, nonce, ciphertext []byte) []byte {
	hmacKey := sha256.Sum256(append(append([]byte{}, sessionKey...), []byte("hmac")...))
	mac := hmac.New(sha256.New, hmacKey[:])
	mac.Write(nonce)
	mac.Write(ciphertext)
	return mac.Sum(nil)
}
