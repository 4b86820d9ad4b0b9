// Package storage содержит хранилище продаваемых файлов.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/mmeshcher/digital-fulfillment/internal/model"
)

// LocalStore читает файлы из каталога. Пути за пределами каталога недоступны.
type LocalStore struct {
	root *os.Root
}

// NewLocalStore открывает каталог с файлами продуктов.
func NewLocalStore(dir string) (*LocalStore, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("open files dir: %w", err)
	}
	return &LocalStore{root: root}, nil
}

// ReadFile возвращает содержимое файла по пути относительно корня хранилища.
func (s *LocalStore) ReadFile(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name = strings.TrimLeft(name, "/")
	if name == "" {
		return nil, fmt.Errorf("%w: empty file path", model.ErrNotFound)
	}

	f, err := s.root.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: file %q", model.ErrNotFound, name)
		}
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	return content, nil
}

// Close освобождает каталог.
func (s *LocalStore) Close() error {
	return s.root.Close()
}
