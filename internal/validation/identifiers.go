// Package validation содержит функции валидации входных данных.
package validation

import (
	"unicode"

	"github.com/google/uuid"
)

const maxIdentifierLen = 255

// IsValidToken проверяет, что строка имеет канонический вид токена скачивания (UUID).
// Некорректные токены отклоняются до обращения к БД.
func IsValidToken(token string) bool {
	if len(token) != 36 {
		return false
	}
	_, err := uuid.Parse(token)
	return err == nil
}

// IsValidIdentifier проверяет идентификатор провайдера (checkout, платёж, продукт):
// непустой, ограниченной длины, из печатных символов без пробелов.
func IsValidIdentifier(id string) bool {
	if id == "" || len(id) > maxIdentifierLen {
		return false
	}

	for _, ch := range id {
		if unicode.IsSpace(ch) || !unicode.IsPrint(ch) {
			return false
		}
	}

	return true
}
