package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// FrozenDocument records where a persisted document snapshot lives on disk
// and when it stops being retained.
type FrozenDocument struct {
	DocumentID    string    `json:"document_id"`
	OwnerToken    string    `json:"owner_token"`
	Language      string    `json:"language"`
	FileExtension string    `json:"file_extension"`
	FrozenAt      time.Time `json:"frozen_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	FilePath      string    `json:"file_path"`
	FileSize      int64     `json:"file_size"`
}

// FreezeConfig controls the file freeze feature.
type FreezeConfig struct {
	Enabled     bool
	SaveDir     string
	MaxFileSize int64
	Retention   time.Duration
}

// DefaultFreezeConfig matches the feature's defaults: disabled, 10MB cap,
// 30 day retention.
func DefaultFreezeConfig() FreezeConfig {
	return FreezeConfig{
		Enabled:     false,
		SaveDir:     "./frozen_documents",
		MaxFileSize: 10 * 1024 * 1024,
		Retention:   30 * 24 * time.Hour,
	}
}

// Freezer persists a document snapshot outside the usual store lifecycle,
// keyed by an owner token so a client can list and reclaim its own frozen
// documents later.
type Freezer interface {
	Freeze(documentID, ownerToken, language, content string) (FrozenDocument, error)
	List(ownerToken string) ([]FrozenDocument, error)
	Read(ownerToken, documentID string) (string, error)
	Delete(ownerToken, documentID string) error
	CleanupExpired() (int, error)
}

var languageExtensions = map[string]string{
	"rust":       "rs",
	"python":     "py",
	"javascript": "js",
	"typescript": "ts",
	"java":       "java",
	"cpp":        "cpp",
	"c++":        "cpp",
	"c":          "c",
	"go":         "go",
	"ruby":       "rb",
	"php":        "php",
	"swift":      "swift",
	"kotlin":     "kt",
	"scala":      "scala",
	"html":       "html",
	"css":        "css",
	"json":       "json",
	"xml":        "xml",
	"yaml":       "yaml",
	"yml":        "yaml",
	"markdown":   "md",
	"sql":        "sql",
	"bash":       "sh",
	"shell":      "sh",
}

func extensionFor(language string) string {
	if ext, ok := languageExtensions[language]; ok {
		return ext
	}
	return "txt"
}

// FileFreezer is a filesystem-backed Freezer: one directory per owner token
// under SaveDir/frozen, with a metadata.json manifest alongside the raw
// snapshot files. A metadata cache avoids re-reading the manifest for
// repeat requests from the same owner.
type FileFreezer struct {
	config FreezeConfig
	logger zerolog.Logger

	mu    sync.RWMutex
	cache map[string][]FrozenDocument
}

// NewFileFreezer creates the save directory (if the feature is enabled) and
// returns a ready Freezer.
func NewFileFreezer(config FreezeConfig, logger zerolog.Logger) (*FileFreezer, error) {
	if config.Enabled {
		if err := os.MkdirAll(config.SaveDir, 0o755); err != nil {
			return nil, fmt.Errorf("freezer: create save dir: %w", err)
		}
		logger.Info().Str("dir", config.SaveDir).Msg("file freeze enabled")
	}
	return &FileFreezer{
		config: config,
		logger: logger,
		cache:  make(map[string][]FrozenDocument),
	}, nil
}

func (f *FileFreezer) ownerDir(ownerToken string) string {
	return filepath.Join(f.config.SaveDir, "frozen", ownerToken)
}

func (f *FileFreezer) metadataPath(ownerToken string) string {
	return filepath.Join(f.ownerDir(ownerToken), "metadata.json")
}

func (f *FileFreezer) Freeze(documentID, ownerToken, language, content string) (FrozenDocument, error) {
	if !f.config.Enabled {
		return FrozenDocument{}, fmt.Errorf("freezer: feature not enabled")
	}
	size := int64(len(content))
	if size > f.config.MaxFileSize {
		return FrozenDocument{}, fmt.Errorf("freezer: document size %d exceeds maximum %d", size, f.config.MaxFileSize)
	}

	ownerDir := f.ownerDir(ownerToken)
	if err := os.MkdirAll(ownerDir, 0o755); err != nil {
		return FrozenDocument{}, fmt.Errorf("freezer: create owner dir: %w", err)
	}

	ext := extensionFor(language)
	filePath := filepath.Join(ownerDir, fmt.Sprintf("%s.%s", documentID, ext))
	if err := os.WriteFile(filePath, []byte(content), 0o644); err != nil {
		return FrozenDocument{}, fmt.Errorf("freezer: write snapshot: %w", err)
	}

	frozenAt := time.Now()
	doc := FrozenDocument{
		DocumentID:    documentID,
		OwnerToken:    ownerToken,
		Language:      language,
		FileExtension: ext,
		FrozenAt:      frozenAt,
		ExpiresAt:     frozenAt.Add(f.config.Retention),
		FilePath:      filePath,
		FileSize:      size,
	}

	if err := f.upsertMetadata(ownerToken, doc); err != nil {
		return FrozenDocument{}, err
	}

	f.logger.Info().Str("doc", documentID).Str("owner", ownerToken).Int64("size", size).Msg("froze document")
	return doc, nil
}

func (f *FileFreezer) List(ownerToken string) ([]FrozenDocument, error) {
	if !f.config.Enabled {
		return nil, fmt.Errorf("freezer: feature not enabled")
	}

	f.mu.RLock()
	if docs, ok := f.cache[ownerToken]; ok {
		f.mu.RUnlock()
		return docs, nil
	}
	f.mu.RUnlock()

	docs, err := f.loadMetadata(ownerToken)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	f.cache[ownerToken] = docs
	f.mu.Unlock()
	return docs, nil
}

func (f *FileFreezer) Read(ownerToken, documentID string) (string, error) {
	if !f.config.Enabled {
		return "", fmt.Errorf("freezer: feature not enabled")
	}

	docs, err := f.List(ownerToken)
	if err != nil {
		return "", err
	}
	for _, doc := range docs {
		if doc.DocumentID == documentID {
			content, err := os.ReadFile(doc.FilePath)
			if err != nil {
				return "", fmt.Errorf("freezer: read snapshot: %w", err)
			}
			return string(content), nil
		}
	}
	return "", fmt.Errorf("freezer: document %q not found for owner %q", documentID, ownerToken)
}

func (f *FileFreezer) Delete(ownerToken, documentID string) error {
	if !f.config.Enabled {
		return fmt.Errorf("freezer: feature not enabled")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	docs, err := f.loadMetadataLocked(ownerToken)
	if err != nil {
		return err
	}

	index := -1
	for i, doc := range docs {
		if doc.DocumentID == documentID {
			index = i
			break
		}
	}
	if index < 0 {
		return fmt.Errorf("freezer: document %q not found for owner %q", documentID, ownerToken)
	}

	doc := docs[index]
	docs = append(docs[:index], docs[index+1:]...)
	os.Remove(doc.FilePath)

	if len(docs) == 0 {
		if err := os.RemoveAll(f.ownerDir(ownerToken)); err != nil {
			return fmt.Errorf("freezer: remove owner dir: %w", err)
		}
		delete(f.cache, ownerToken)
		return nil
	}

	if err := f.writeMetadataLocked(ownerToken, docs); err != nil {
		return err
	}
	f.cache[ownerToken] = docs
	f.logger.Info().Str("doc", documentID).Str("owner", ownerToken).Msg("deleted frozen document")
	return nil
}

func (f *FileFreezer) CleanupExpired() (int, error) {
	if !f.config.Enabled {
		return 0, nil
	}

	frozenDir := filepath.Join(f.config.SaveDir, "frozen")
	entries, err := os.ReadDir(frozenDir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("freezer: read frozen dir: %w", err)
	}

	now := time.Now()
	cleaned := 0

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		ownerToken := entry.Name()
		docs, err := f.loadMetadataLocked(ownerToken)
		if err != nil {
			continue
		}

		kept := docs[:0]
		for _, doc := range docs {
			if doc.ExpiresAt.Before(now) {
				os.Remove(doc.FilePath)
				cleaned++
				continue
			}
			kept = append(kept, doc)
		}

		if len(kept) == 0 {
			os.RemoveAll(f.ownerDir(ownerToken))
			delete(f.cache, ownerToken)
			continue
		}
		if err := f.writeMetadataLocked(ownerToken, kept); err != nil {
			f.logger.Warn().Err(err).Str("owner", ownerToken).Msg("freezer: failed to write metadata during cleanup")
			continue
		}
		f.cache[ownerToken] = kept
	}

	if cleaned > 0 {
		f.logger.Info().Int("count", cleaned).Msg("cleaned up expired frozen documents")
	}
	return cleaned, nil
}

func (f *FileFreezer) loadMetadata(ownerToken string) ([]FrozenDocument, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.loadMetadataLocked(ownerToken)
}

func (f *FileFreezer) loadMetadataLocked(ownerToken string) ([]FrozenDocument, error) {
	raw, err := os.ReadFile(f.metadataPath(ownerToken))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("freezer: read metadata: %w", err)
	}
	var docs []FrozenDocument
	if err := json.Unmarshal(raw, &docs); err != nil {
		return nil, fmt.Errorf("freezer: parse metadata: %w", err)
	}
	return docs, nil
}

func (f *FileFreezer) writeMetadataLocked(ownerToken string, docs []FrozenDocument) error {
	raw, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return fmt.Errorf("freezer: encode metadata: %w", err)
	}
	if err := os.WriteFile(f.metadataPath(ownerToken), raw, 0o644); err != nil {
		return fmt.Errorf("freezer: write metadata: %w", err)
	}
	return nil
}

func (f *FileFreezer) upsertMetadata(ownerToken string, doc FrozenDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	docs, err := f.loadMetadataLocked(ownerToken)
	if err != nil {
		return err
	}

	replaced := false
	for i, existing := range docs {
		if existing.DocumentID == doc.DocumentID {
			docs[i] = doc
			replaced = true
			break
		}
	}
	if !replaced {
		docs = append(docs, doc)
	}

	if err := f.writeMetadataLocked(ownerToken, docs); err != nil {
		return err
	}
	f.cache[ownerToken] = docs
	return nil
}
