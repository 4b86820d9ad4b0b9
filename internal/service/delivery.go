package service

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"

	"github.com/mmeshcher/digital-fulfillment/internal/model"
)

// Delivery содержит файл, выдаваемый покупателю.
type Delivery struct {
	Name        string
	ContentType string
	Content     []byte
}

// Download выдаёт файл по действующему токену и использует токен.
// Файл читается до пометки токена: при сбое хранилища токен остаётся пригодным для повтора.
func (s *Service) Download(ctx context.Context, token string) (*Delivery, error) {
	cred, err := s.Peek(ctx, token)
	if err != nil {
		return nil, err
	}

	content, err := s.files.ReadFile(ctx, cred.FilePath)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", model.ErrFileMissing, cred.FilePath)
		}
		return nil, fmt.Errorf("fetch file %q: %w", cred.FilePath, err)
	}

	filePath, err := s.Consume(ctx, token)
	if err != nil {
		return nil, err
	}

	name := path.Base(filePath)
	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	return &Delivery{
		Name:        name,
		ContentType: contentType,
		Content:     content,
	}, nil
}
