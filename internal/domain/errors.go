package domain

import (
	"errors"
	"fmt"
)

var (
	// Ошибка отсутствующего идентификатора клиента.
	ErrCustomerRequired = errors.New("customer_id is required")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// Ошибка отсутствия хотя бы одного товара в заказе.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("total_amount_minor must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Ошибка отрицательной цены, скидки или налога позиции.
	ErrItemPriceInvalid = errors.New("item money fields must be non-negative")
	// Ошибка subtotal, не согласованного с ценой/количеством/скидкой/налогом.
	ErrItemSubtotalInvalid = errors.New("item subtotal is inconsistent")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order amount does not match items sum")
	// Ошибка полей отмены, отсутствующих у отменённого заказа.
	ErrCancelledFieldsMissing = errors.New("cancelled order must carry cancellation fields")
	// Ошибка полей отмены, заполненных у неотменённого заказа.
	ErrCancelledFieldsUnexpected = errors.New("non-cancelled order must not carry cancellation fields")

	// ErrUnknownStatus возвращается при попытке разобрать неизвестный статус.
	ErrUnknownStatus = errors.New("unknown order status")
	// ErrInvalidStatusTransition сигнализирует о недопустимом переходе по графу статусов.
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	// ErrOrderNotCancellable возвращается, когда заказ нельзя отменить в текущем статусе.
	ErrOrderNotCancellable = errors.New("order cannot be cancelled")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrStorageUnavailable — временная недоступность хранилища; вызов можно повторить.
	ErrStorageUnavailable = errors.New("storage temporarily unavailable")

	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrLoginTaken возвращается при попытке регистрации занятого логина.
	ErrLoginTaken = errors.New("login is already taken")
	// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
	ErrInvalidCredentials = errors.New("invalid login or password")
)

// StatusTransitionError описывает запрещённый переход, сохраняя оба
// статуса для диагностики. Сопоставляется с ErrInvalidStatusTransition
// через errors.Is.
type StatusTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *StatusTransitionError) Error() string {
	return fmt.Sprintf("cannot transition order from %s to %s", e.From, e.To)
}

func (e *StatusTransitionError) Is(target error) bool {
	return target == ErrInvalidStatusTransition
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsNotFound проверяет, является ли ошибка отсутствием заказа.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound)
}

// IsInvalidState проверяет ошибки состояния заказа: недопустимый переход
// или запрет отмены. Такие ошибки не подлежат автоматическому повтору.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidStatusTransition) || errors.Is(err, ErrOrderNotCancellable)
}

// IsTransient проверяет, относится ли ошибка к временным сбоям
// инфраструктуры, которые допустимо повторить с backoff.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
