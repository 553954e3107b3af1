package domain

import (
	"fmt"
	"time"
)

// OrderStatus описывает жизненный цикл заказа в интернет-магазине.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан и ожидает обработки.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusProcessing — заказ взят в обработку.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusDelivered — заказ доставлен клиенту (терминальный статус).
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled — заказ отменён (терминальный статус).
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// AllOrderStatuses перечисляет статусы в порядке жизненного цикла.
// Используется статистикой и валидацией входных значений.
var AllOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// ParseOrderStatus преобразует строку в OrderStatus или возвращает ErrUnknownStatus.
func ParseOrderStatus(raw string) (OrderStatus, error) {
	for _, status := range AllOrderStatuses {
		if string(status) == raw {
			return status, nil
		}
	}
	return "", fmt.Errorf("status %q: %w", raw, ErrUnknownStatus)
}

// CanTransitionTo проверяет, допустим ли переход в новый статус.
// Граф переходов направленный и без циклов:
//
//	PENDING    -> PROCESSING, CANCELLED
//	PROCESSING -> SHIPPED, CANCELLED
//	SHIPPED    -> DELIVERED
//	DELIVERED, CANCELLED -> терминальные
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	switch s {
	case OrderStatusPending:
		return next == OrderStatusProcessing || next == OrderStatusCancelled
	case OrderStatusProcessing:
		return next == OrderStatusShipped || next == OrderStatusCancelled
	case OrderStatusShipped:
		return next == OrderStatusDelivered
	default:
		return false
	}
}

// OrderItem представляет одну позицию заказа. Позиция принадлежит
// исключительно своему заказу: удаление из Order.Items и есть её удаление.
type OrderItem struct {
	ID                 string
	ProductID          string
	ProductName        string
	ProductDescription string
	ProductSKU         string
	// Quantity — количество единиц товара, строго положительное.
	Quantity int32
	// Денежные поля хранятся в минимальных единицах валюты (центы, копейки).
	UnitPriceMinor int64
	DiscountMinor  int64
	TaxMinor       int64
	// SubtotalMinor — производное поле: unit*qty - discount + tax.
	SubtotalMinor int64
	Notes         string
	CreatedAt     time.Time
}

// CalculateSubtotal пересчитывает SubtotalMinor из цены, количества,
// скидки и налога. Само по себе поле извне не задаётся.
func (i *OrderItem) CalculateSubtotal() {
	base := i.UnitPriceMinor * int64(i.Quantity)
	i.SubtotalMinor = base - i.DiscountMinor + i.TaxMinor
}

// UpdateQuantity меняет количество и пересчитывает subtotal.
func (i *OrderItem) UpdateQuantity(quantity int32) error {
	if quantity <= 0 {
		return ErrItemQtyInvalid
	}
	i.Quantity = quantity
	i.CalculateSubtotal()
	return nil
}

// Order агрегирует состояние заказа и его позиции как единую
// единицу консистентности.
type Order struct {
	ID            string
	CustomerID    string
	CustomerEmail string
	CustomerName  string

	Items  []OrderItem
	Status OrderStatus

	// TotalAmountMinor — производное поле, всегда равное сумме subtotal позиций.
	TotalAmountMinor int64
	Currency         string

	ShippingAddress string
	BillingAddress  string
	PaymentMethod   string
	PaymentStatus   string
	Notes           string
	TrackingNumber  string

	// Поля отмены заполняются только при переходе в CANCELLED.
	CancelledReason string
	CancelledBy     string
	CancelledAt     *time.Time

	// Временные метки переходов проставляются один раз и не очищаются.
	ProcessedAt *time.Time
	ShippedAt   *time.Time
	DeliveredAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time

	// Version — счётчик для optimistic locking, инкрементируется хранилищем.
	Version int64
}

// AddItem добавляет позицию в заказ и пересчитывает сумму.
func (o *Order) AddItem(item OrderItem) {
	item.CalculateSubtotal()
	o.Items = append(o.Items, item)
	o.RecalculateTotal()
}

// RemoveItem удаляет позицию по её ID и пересчитывает сумму.
// Возвращает false, если позиции с таким ID в заказе нет.
func (o *Order) RemoveItem(itemID string) bool {
	for idx, item := range o.Items {
		if item.ID == itemID {
			o.Items = append(o.Items[:idx], o.Items[idx+1:]...)
			o.RecalculateTotal()
			return true
		}
	}
	return false
}

// RecalculateTotal выполняет детерминированную свёртку по позициям.
// Идемпотентна и не имеет побочных эффектов за пределами агрегата.
func (o *Order) RecalculateTotal() {
	var total int64
	for _, item := range o.Items {
		total += item.SubtotalMinor
	}
	o.TotalAmountMinor = total
}

// CanBeCancelled сохраняет историческое условие, имя которого не
// соответствует семантике: предикат истинен для НЕотменяемых статусов,
// а Cancel трактует его как запрет. Менять только вместе с Cancel —
// фактическое поведение (отменяемы PENDING и PROCESSING) зависит от
// обеих инверсий сразу. См. DESIGN.md.
func (o *Order) CanBeCancelled() bool {
	return o.Status != OrderStatusPending && o.Status != OrderStatusProcessing
}

// Cancel переводит заказ в CANCELLED, фиксируя причину, инициатора и время.
// Возвращает ErrOrderNotCancellable для SHIPPED/DELIVERED/CANCELLED заказов.
func (o *Order) Cancel(reason, cancelledBy string, now time.Time) error {
	if o.CanBeCancelled() {
		return fmt.Errorf("order in %s status: %w", o.Status, ErrOrderNotCancellable)
	}

	o.Status = OrderStatusCancelled
	o.CancelledReason = reason
	o.CancelledBy = cancelledBy
	cancelledAt := now
	o.CancelledAt = &cancelledAt
	o.UpdatedAt = now
	return nil
}

// UpdateStatus применяет переход по графу статусов, проставляет
// соответствующую временную метку и обновляет UpdatedAt. При
// недопустимом переходе возвращает *StatusTransitionError, не меняя заказ.
func (o *Order) UpdateStatus(next OrderStatus, now time.Time) error {
	if !o.Status.CanTransitionTo(next) {
		return &StatusTransitionError{From: o.Status, To: next}
	}

	o.Status = next
	o.UpdatedAt = now
	switch next {
	case OrderStatusProcessing:
		processedAt := now
		o.ProcessedAt = &processedAt
	case OrderStatusShipped:
		shippedAt := now
		o.ShippedAt = &shippedAt
	case OrderStatusDelivered:
		deliveredAt := now
		o.DeliveredAt = &deliveredAt
	}
	return nil
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.CustomerID == "" {
		errs = append(errs, ErrCustomerRequired)
	}
	if o.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.TotalAmountMinor < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем сумму заказа с суммой позиций и консистентность каждой позиции.
	var calc int64
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.UnitPriceMinor < 0 || item.DiscountMinor < 0 || item.TaxMinor < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		expected := item.UnitPriceMinor*int64(item.Quantity) - item.DiscountMinor + item.TaxMinor
		if item.SubtotalMinor != expected || item.SubtotalMinor < 0 {
			errs = append(errs, ErrItemSubtotalInvalid)
		}
		calc += item.SubtotalMinor
	}
	if calc != o.TotalAmountMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	// Поля отмены заполнены тогда и только тогда, когда заказ отменён.
	cancelled := o.Status == OrderStatusCancelled
	if cancelled && o.CancelledAt == nil {
		errs = append(errs, ErrCancelledFieldsMissing)
	}
	if !cancelled && (o.CancelledAt != nil || o.CancelledReason != "" || o.CancelledBy != "") {
		errs = append(errs, ErrCancelledFieldsUnexpected)
	}

	return errs
}
