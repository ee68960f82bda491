// errors.go — ошибки бизнес-логики сервисного слоя.
package service

import "errors"

var (
	// ErrNotFound — ресурс не найден.
	ErrNotFound = errors.New("ресурс не найден")
	// ErrPermissionDenied — операция запрещена для текущего пользователя.
	ErrPermissionDenied = errors.New("операция запрещена")
	// ErrInvalidTransition — недопустимый переход статуса заявки.
	ErrInvalidTransition = errors.New("недопустимый переход статуса заявки")
	// ErrValidation — ошибка валидации входных данных.
	ErrValidation = errors.New("ошибка валидации")
	// ErrRegistryUnavailable — реестр когорт недоступен.
	ErrRegistryUnavailable = errors.New("реестр когорт недоступен")
)
