package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"

	"gmaildispatch/pkg/logger"

	"go.uber.org/zap"
)

// TokenStore persists OAuth tokens at rest, encrypted with AES-GCM under a
// symmetric key supplied at startup, keyed by user id (one Gmail account
// per user id). It lives under STORAGE_PATH — the same root the User
// Database Factory uses — as a sibling "tokens" directory, one file per
// user, so the Categorization Worker and Cleanup Scheduler can obtain an
// authenticated Gmail client for a user independent of which session
// triggered the work.
type TokenStore struct {
	mu        sync.Mutex
	dir       string
	gcm       cipher.AEAD
	log       *zap.Logger
}

// NewTokenStore constructs a TokenStore rooted at storagePath/tokens,
// deriving an AES-256-GCM cipher from key via deriveKeyBytes, so a key of
// any non-empty length is accepted. An empty key is rejected rather than
// silently storing tokens in plaintext.
func NewTokenStore(storagePath, key string) (*TokenStore, error) {
	if key == "" {
		return nil, errors.New("token encryption key is required")
	}
	block, err := aes.NewCipher([]byte(deriveKeyBytes(key)))
	if err != nil {
		return nil, fmt.Errorf("initializing token cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("initializing GCM mode: %w", err)
	}

	dir := filepath.Join(storagePath, "tokens")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating token directory: %w", err)
	}

	return &TokenStore{dir: dir, gcm: gcm, log: logger.L().Named("auth.tokenstore")}, nil
}

// deriveKeyBytes pads or truncates an arbitrary-length passphrase to a
// valid AES-256 key length via a fixed-size byte expansion, so operators
// can configure TOKEN_ENCRYPTION_KEY as any sufficiently long secret
// string rather than a base64-encoded key blob.
func deriveKeyBytes(key string) []byte {
	const size = 32
	out := make([]byte, size)
	copy(out, key)
	if len(key) >= size {
		return out
	}
	// Fold the key over itself to fill remaining bytes rather than leaving
	// them zero, reducing the chance of a low-entropy key tail.
	for i := len(key); i < size; i++ {
		out[i] = key[i%len(key)] ^ byte(i)
	}
	return out
}

// Put encrypts and persists token under userID, replacing any existing
// entry for that user.
func (s *TokenStore) Put(userID string, token *oauth2.Token) error {
	plaintext, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("marshaling token: %w", err)
	}

	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return fmt.Errorf("generating nonce: %w", err)
	}
	ciphertext := s.gcm.Seal(nonce, nonce, plaintext, nil)

	s.mu.Lock()
	defer s.mu.Unlock()
	path := s.pathFor(userID)
	if err := os.WriteFile(path, ciphertext, 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	return nil
}

// Get decrypts and returns the token stored for userID, or nil if none
// exists.
func (s *TokenStore) Get(userID string) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ciphertext, err := os.ReadFile(s.pathFor(userID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading token file: %w", err)
	}

	nonceSize := s.gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, errors.New("token file is corrupt")
	}
	nonce, sealed := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := s.gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting token: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(plaintext, &token); err != nil {
		return nil, fmt.Errorf("unmarshaling token: %w", err)
	}
	return &token, nil
}

// Delete removes the persisted token for userID, if any.
func (s *TokenStore) Delete(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.pathFor(userID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing token file: %w", err)
	}
	return nil
}

func (s *TokenStore) pathFor(userID string) string {
	return filepath.Join(s.dir, userID+".token")
}
