package directory

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Ed25519Verifier verifies base64-encoded Ed25519 signatures. It is the
// opaque verification capability the signaling core consumes.
type Ed25519Verifier struct{}

// Verify reports whether signature is a valid signature over message by the
// holder of publicKey. Malformed keys or signatures verify as false.
func (Ed25519Verifier) Verify(message, signature, publicKey string) bool {
	pub, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), []byte(message), sig)
}

// FileSigner signs messages with an Ed25519 key stored on disk. The key is
// created on first use and reloaded when the file changes, so keys can be
// rotated without a restart.
type FileSigner struct {
	path string

	mu   sync.RWMutex
	priv ed25519.PrivateKey

	watcher *fsnotify.Watcher
	closed  chan struct{}
}

// NewFileSigner loads (or creates) the signing key at path.
func NewFileSigner(path string) (*FileSigner, error) {
	s := &FileSigner{path: path, closed: make(chan struct{})}
	if err := s.loadOrCreate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Sign returns a base64 Ed25519 signature over message.
func (s *FileSigner) Sign(message string) (string, error) {
	s.mu.RLock()
	priv := s.priv
	s.mu.RUnlock()
	if priv == nil {
		return "", fmt.Errorf("signing key not loaded")
	}
	sig := ed25519.Sign(priv, []byte(message))
	return base64.StdEncoding.EncodeToString(sig), nil
}

// PublicKey returns the base64 public half of the signing key.
func (s *FileSigner) PublicKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pub := s.priv.Public().(ed25519.PublicKey)
	return base64.StdEncoding.EncodeToString(pub)
}

// Watch reloads the key when the file is rewritten. Call Close to stop.
func (s *FileSigner) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch key dir: %w", err)
	}
	s.watcher = watcher
	go s.watchLoop()
	return nil
}

func (s *FileSigner) watchLoop() {
	for {
		select {
		case <-s.closed:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Name != s.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				if err := s.reload(); err != nil {
					log.Printf("keys: hot reload failed for %s: %v", s.path, err)
				} else {
					log.Printf("keys: reloaded signing key from %s", s.path)
				}
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("keys: watcher error: %v", err)
		}
	}
}

// Close stops the watcher, if one was started.
func (s *FileSigner) Close() {
	close(s.closed)
	if s.watcher != nil {
		s.watcher.Close()
	}
}

func (s *FileSigner) loadOrCreate() error {
	if err := s.reload(); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		log.Printf("WARNING: corrupt signing key at %s: %v (generating new key)", s.path, err)
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create key directory: %w", err)
		}
	}
	if err := os.WriteFile(s.path, []byte(base64.StdEncoding.EncodeToString(priv)), 0o600); err != nil {
		return fmt.Errorf("save signing key: %w", err)
	}
	log.Printf("keys: generated new signing key: %s", s.path)

	s.mu.Lock()
	s.priv = priv
	s.mu.Unlock()
	return nil
}

func (s *FileSigner) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	raw, err := base64.StdEncoding.DecodeString(string(data))
	if err != nil {
		return fmt.Errorf("decode signing key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return fmt.Errorf("signing key has %d bytes, want %d", len(raw), ed25519.PrivateKeySize)
	}

	s.mu.Lock()
	s.priv = ed25519.PrivateKey(raw)
	s.mu.Unlock()
	return nil
}
