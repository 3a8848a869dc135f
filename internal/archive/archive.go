// Package archive keeps an audit trail of imported promotion workbooks.
// Every import stores the original file and its metadata so a catalog
// state can be traced back to the workbook that produced it.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Metadata describes one archived workbook
type Metadata struct {
	OriginalName string    `json:"originalName,omitempty"`
	Checksum     string    `json:"checksum"`
	ImportedAt   time.Time `json:"importedAt"`
	RowsTotal    int       `json:"rowsTotal"`
	RowsValid    int       `json:"rowsValid"`
	RowsRejected int       `json:"rowsRejected"`
}

// FileInfo describes a stored file without its content
type FileInfo struct {
	Key        string    `json:"key"`
	Size       int64     `json:"size"`
	Checksum   string    `json:"checksum"`
	ModifiedAt time.Time `json:"modifiedAt"`
	Metadata   *Metadata `json:"metadata,omitempty"`
}

// Store is the archive backend.
// Implementations can be local filesystem, S3, GCS, etc.
type Store interface {
	// Put stores content at the given key with optional metadata
	Put(ctx context.Context, key string, content []byte, metadata *Metadata) error

	// Get retrieves content from the given key
	Get(ctx context.Context, key string) ([]byte, error)

	// GetInfo retrieves file information without content
	GetInfo(ctx context.Context, key string) (*FileInfo, error)

	// Exists checks if a file exists at the given key
	Exists(ctx context.Context, key string) (bool, error)

	// List returns all keys matching the given prefix
	List(ctx context.Context, prefix string) ([]string, error)
}

// ComputeChecksum computes the SHA256 checksum for content
func ComputeChecksum(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}

// BuildWorkbookKey builds the archive key for an imported workbook.
// Keys are date-partitioned and checksum-suffixed, so re-importing the
// same file on the same day overwrites in place while distinct files
// never collide.
func BuildWorkbookKey(importedAt time.Time, checksum, filename string) string {
	dateStr := importedAt.Format("2006-01-02")
	short := checksum
	if len(short) > 12 {
		short = short[:12]
	}
	return fmt.Sprintf("workbooks/%s/%s-%s", dateStr, short, filename)
}
