// Package blob stores uploaded files. Keys are slash separated relative paths such as
// tickets/12/01HV...-receipt.pdf.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/frahmantamala/ssoflow/pkg/ids"
)

var (
	ErrNotFound   = errors.New("blob not found")
	ErrInvalidKey = errors.New("invalid blob key")
	ErrTooLarge   = errors.New("blob exceeds the size limit")
)

type Object struct {
	Key         string
	Size        int64
	ContentType string
	ModTime     time.Time
}

type Store interface {
	// Put writes at most size bytes from r. A negative size means unknown.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (*Object, error)
	Get(ctx context.Context, key string) (io.ReadCloser, *Object, error)
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

// TicketKey builds a unique key for a file attached to a ticket.
func TicketKey(ticketID int64, fileName string) (string, error) {
	name, err := CleanFilename(fileName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("tickets/%d/%s-%s", ticketID, strings.ToLower(ids.New()), name), nil
}

// CleanFilename strips directories and rejects names that cannot be stored as a single path element.
func CleanFilename(fileName string) (string, error) {
	name := strings.TrimSpace(filepath.Base(strings.ReplaceAll(fileName, `\`, "/")))
	if name == "" || name == "." || name == ".." || name == "/" {
		return "", fmt.Errorf("%w: file name is empty", ErrInvalidKey)
	}
	return name, nil
}

// cleanKey rejects absolute keys and keys that climb out of the store root.
func cleanKey(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	cleaned := path.Clean(key)
	if cleaned != key || cleaned == "." || strings.HasPrefix(cleaned, "../") || cleaned == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	for _, part := range strings.Split(cleaned, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
		}
	}
	return cleaned, nil
}
