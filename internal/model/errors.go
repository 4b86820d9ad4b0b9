package model

import (
	"errors"
	"strings"
)

var (
	// ErrValidation возвращается для некорректных или неполных входных данных.
	ErrValidation = errors.New("validation failure")
	// ErrSignatureInvalid возвращается при несовпадении подписи вебхука.
	ErrSignatureInvalid = errors.New("signature invalid")
	// ErrNotFound возвращается, если продукт, покупка или токен не найдены.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyConsumed возвращается при повторном использовании токена.
	ErrAlreadyConsumed = errors.New("token already consumed")
	// ErrExpired возвращается для токена с истёкшим сроком действия.
	ErrExpired = errors.New("token expired")
	// ErrNotReady возвращается, пока вебхук ещё не записал покупку.
	ErrNotReady = errors.New("purchase not ready yet")
	// ErrPersistence возвращается при недоступности хранилища. Повтор безопасен.
	ErrPersistence = errors.New("persistence failure")
	// ErrFileMissing возвращается, если файл продукта отсутствует в хранилище.
	ErrFileMissing = errors.New("product file missing")
	// ErrUpstream возвращается при ошибке API платёжного провайдера.
	ErrUpstream = errors.New("upstream provider failure")
)

// MissingFieldError перечисляет обязательные поля, которые не удалось извлечь из уведомления.
type MissingFieldError struct {
	Fields []string
}

func (e *MissingFieldError) Error() string {
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

func (e *MissingFieldError) Unwrap() error {
	return ErrValidation
}
