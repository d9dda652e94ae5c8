package file

import (
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// TokenInfo describes the transfer a download token was issued for.
type TokenInfo struct {
	User string
	File string
	Size uint64 // expected total byte length
}

// CompletionFunc receives the outcome of a download exactly once: either the
// download state with Buffer populated and a nil error, or a nil state and an error.
type CompletionFunc func(down *DownloadState, err error)

// DownloadState is the caller-owned record for one requested file.
type DownloadState struct {
	// Stream, when set, receives every payload chunk as it arrives. Close marks
	// end of stream. If it also has CloseWithError, that is used on failure.
	Stream io.WriteCloser

	// Buffer holds the complete payload once the download succeeds.
	Buffer []byte

	// Callback is invoked at most once.
	Callback CompletionFunc
}

// DownloadKey forms the download-state key for a user and file.
func DownloadKey(user, file string) string {
	return user + "_" + file
}

// Registry resolves download tokens to transfer metadata and download state.
// Transfers only read from it; entries are owned by the caller.
type Registry interface {
	// LookupToken returns the transfer metadata for a hex token string.
	LookupToken(token string) (*TokenInfo, bool)

	// LookupDownload returns the download state for a DownloadKey.
	LookupDownload(key string) (*DownloadState, bool)
}

// RegistryFuncs adapts a pair of lookup functions to the Registry interface.
type RegistryFuncs struct {
	Token    func(token string) (*TokenInfo, bool)
	Download func(key string) (*DownloadState, bool)
}

// LookupToken implements Registry for RegistryFuncs.
func (r RegistryFuncs) LookupToken(token string) (*TokenInfo, bool) {
	if r.Token == nil {
		return nil, false
	}
	return r.Token(token)
}

// LookupDownload implements Registry for RegistryFuncs.
func (r RegistryFuncs) LookupDownload(key string) (*DownloadState, bool) {
	if r.Download == nil {
		return nil, false
	}
	return r.Download(key)
}

// MemoryRegistry is a concurrency-safe in-memory Registry.
type MemoryRegistry struct {
	tokens    map[string]*TokenInfo
	downloads map[string]*DownloadState
	mu        sync.RWMutex
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		tokens:    make(map[string]*TokenInfo),
		downloads: make(map[string]*DownloadState),
	}
}

// AddToken registers transfer metadata under a hex token string.
func (r *MemoryRegistry) AddToken(token string, info *TokenInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[token] = info

	logrus.WithFields(logrus.Fields{
		"function": "AddToken",
		"token":    token,
		"user":     info.User,
		"file":     info.File,
		"size":     info.Size,
	}).Debug("Download token registered")
}

// AddDownload registers download state under DownloadKey(user, file).
func (r *MemoryRegistry) AddDownload(user, file string, down *DownloadState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.downloads[DownloadKey(user, file)] = down
}

// RemoveToken forgets a token.
func (r *MemoryRegistry) RemoveToken(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tokens, token)
}

// RemoveDownload forgets the download state for a user and file.
func (r *MemoryRegistry) RemoveDownload(user, file string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.downloads, DownloadKey(user, file))
}

// LookupToken implements Registry.
func (r *MemoryRegistry) LookupToken(token string) (*TokenInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.tokens[token]
	return info, ok
}

// LookupDownload implements Registry.
func (r *MemoryRegistry) LookupDownload(key string) (*DownloadState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	down, ok := r.downloads[key]
	return down, ok
}
