package order

import (
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/estore/internal/domain"
)

// Кэш разбит на три пространства ключей. Одиночные заказы обновляются
// write-through; поисковые и статистические ключи перечислить нельзя,
// поэтому запись инвалидирует их целиком по префиксу.
const (
	ordersPrefix     = "orders:"
	searchPrefix     = "order-search:"
	statisticsPrefix = "order-statistics:"
)

// Типизированные строители ключей: по одному на форму запроса,
// чтобы состав ключа был виден в месте вызова.

func orderKey(orderID string) string {
	return ordersPrefix + orderID
}

func listKey(page domain.Page) string {
	return fmt.Sprintf("%sall:p%d:s%d", searchPrefix, page.Number, page.Size)
}

func customerListKey(customerID string, page domain.Page) string {
	return fmt.Sprintf("%scustomer:%s:p%d:s%d", searchPrefix, customerID, page.Number, page.Size)
}

func statusListKey(status domain.OrderStatus, page domain.Page) string {
	return fmt.Sprintf("%sstatus:%s:p%d:s%d", searchPrefix, status, page.Number, page.Size)
}

func customerStatusListKey(customerID string, status domain.OrderStatus, page domain.Page) string {
	return fmt.Sprintf("%scustomer-status:%s:%s:p%d:s%d", searchPrefix, customerID, status, page.Number, page.Size)
}

func searchKey(filter domain.SearchFilter, page domain.Page) string {
	var b strings.Builder
	b.WriteString(searchPrefix)
	b.WriteString("filter")
	if filter.CustomerID != nil {
		fmt.Fprintf(&b, ":c=%s", *filter.CustomerID)
	}
	if filter.Status != nil {
		fmt.Fprintf(&b, ":st=%s", *filter.Status)
	}
	if filter.CreatedFrom != nil {
		fmt.Fprintf(&b, ":from=%d", filter.CreatedFrom.UnixNano())
	}
	if filter.CreatedTo != nil {
		fmt.Fprintf(&b, ":to=%d", filter.CreatedTo.UnixNano())
	}
	if filter.MinAmountMinor != nil {
		fmt.Fprintf(&b, ":min=%d", *filter.MinAmountMinor)
	}
	if filter.MaxAmountMinor != nil {
		fmt.Fprintf(&b, ":max=%d", *filter.MaxAmountMinor)
	}
	fmt.Fprintf(&b, ":p%d:s%d", page.Number, page.Size)
	return b.String()
}

func statisticsKey(customerID string) string {
	return statisticsPrefix + customerID
}
