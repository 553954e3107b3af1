package http

import (
	"time"

	"github.com/vladislavdragonenkov/estore/internal/domain"
	"github.com/vladislavdragonenkov/estore/internal/service/order"
)

type registerRequest struct {
	Login    string `json:"login"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerResponse struct {
	ID    string `json:"id"`
	Login string `json:"login"`
}

type loginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

type createItemRequest struct {
	ProductID          string `json:"product_id"`
	ProductName        string `json:"product_name"`
	ProductDescription string `json:"product_description,omitempty"`
	ProductSKU         string `json:"product_sku,omitempty"`
	Quantity           int32  `json:"quantity"`
	UnitPriceMinor     int64  `json:"unit_price_minor"`
	DiscountMinor      int64  `json:"discount_minor,omitempty"`
	TaxMinor           int64  `json:"tax_minor,omitempty"`
	Notes              string `json:"notes,omitempty"`
}

type createOrderRequest struct {
	CustomerEmail   string              `json:"customer_email,omitempty"`
	CustomerName    string              `json:"customer_name,omitempty"`
	Currency        string              `json:"currency"`
	ShippingAddress string              `json:"shipping_address,omitempty"`
	BillingAddress  string              `json:"billing_address,omitempty"`
	PaymentMethod   string              `json:"payment_method,omitempty"`
	Notes           string              `json:"notes,omitempty"`
	Items           []createItemRequest `json:"items"`
}

func (r createOrderRequest) toServiceRequest(customerID string) order.CreateOrderRequest {
	req := order.CreateOrderRequest{
		CustomerID:      customerID,
		CustomerEmail:   r.CustomerEmail,
		CustomerName:    r.CustomerName,
		Currency:        r.Currency,
		ShippingAddress: r.ShippingAddress,
		BillingAddress:  r.BillingAddress,
		PaymentMethod:   r.PaymentMethod,
		Notes:           r.Notes,
	}
	for _, item := range r.Items {
		req.Items = append(req.Items, order.CreateItemRequest{
			ProductID:          item.ProductID,
			ProductName:        item.ProductName,
			ProductDescription: item.ProductDescription,
			ProductSKU:         item.ProductSKU,
			Quantity:           item.Quantity,
			UnitPriceMinor:     item.UnitPriceMinor,
			DiscountMinor:      item.DiscountMinor,
			TaxMinor:           item.TaxMinor,
			Notes:              item.Notes,
		})
	}
	return req
}

type updateStatusRequest struct {
	Status         string `json:"status"`
	TrackingNumber string `json:"tracking_number,omitempty"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type orderItemResponse struct {
	ID             string `json:"id"`
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name"`
	ProductSKU     string `json:"product_sku,omitempty"`
	Quantity       int32  `json:"quantity"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
	DiscountMinor  int64  `json:"discount_minor"`
	TaxMinor       int64  `json:"tax_minor"`
	SubtotalMinor  int64  `json:"subtotal_minor"`
}

type orderResponse struct {
	ID               string              `json:"id"`
	CustomerID       string              `json:"customer_id"`
	Status           string              `json:"status"`
	Items            []orderItemResponse `json:"items"`
	TotalAmountMinor int64               `json:"total_amount_minor"`
	Currency         string              `json:"currency"`
	TrackingNumber   string              `json:"tracking_number,omitempty"`
	CancelledReason  string              `json:"cancelled_reason,omitempty"`
	CancelledBy      string              `json:"cancelled_by,omitempty"`
	CancelledAt      *time.Time          `json:"cancelled_at,omitempty"`
	ProcessedAt      *time.Time          `json:"processed_at,omitempty"`
	ShippedAt        *time.Time          `json:"shipped_at,omitempty"`
	DeliveredAt      *time.Time          `json:"delivered_at,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
	Version          int64               `json:"version"`
	Degraded         bool                `json:"degraded,omitempty"`
}

func toOrderResponse(o domain.Order) orderResponse {
	resp := orderResponse{
		ID:               o.ID,
		CustomerID:       o.CustomerID,
		Status:           string(o.Status),
		TotalAmountMinor: o.TotalAmountMinor,
		Currency:         o.Currency,
		TrackingNumber:   o.TrackingNumber,
		CancelledReason:  o.CancelledReason,
		CancelledBy:      o.CancelledBy,
		CancelledAt:      o.CancelledAt,
		ProcessedAt:      o.ProcessedAt,
		ShippedAt:        o.ShippedAt,
		DeliveredAt:      o.DeliveredAt,
		CreatedAt:        o.CreatedAt,
		UpdatedAt:        o.UpdatedAt,
		Version:          o.Version,
	}
	for _, item := range o.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			ID:             item.ID,
			ProductID:      item.ProductID,
			ProductName:    item.ProductName,
			ProductSKU:     item.ProductSKU,
			Quantity:       item.Quantity,
			UnitPriceMinor: item.UnitPriceMinor,
			DiscountMinor:  item.DiscountMinor,
			TaxMinor:       item.TaxMinor,
			SubtotalMinor:  item.SubtotalMinor,
		})
	}
	return resp
}

type orderPageResponse struct {
	Orders     []orderResponse `json:"orders"`
	TotalCount int64           `json:"total_count"`
	Page       int             `json:"page"`
	Size       int             `json:"size"`
}

func toOrderPageResponse(page domain.OrderPage) orderPageResponse {
	resp := orderPageResponse{
		Orders:     make([]orderResponse, 0, len(page.Orders)),
		TotalCount: page.TotalCount,
		Page:       page.Number,
		Size:       page.Size,
	}
	for _, o := range page.Orders {
		resp.Orders = append(resp.Orders, toOrderResponse(o))
	}
	return resp
}

type statisticsResponse struct {
	CustomerID         string           `json:"customer_id"`
	TotalOrders        int64            `json:"total_orders"`
	CountByStatus      map[string]int64 `json:"count_by_status"`
	TotalAmountMinor   int64            `json:"total_amount_minor"`
	AverageAmountMinor float64          `json:"average_amount_minor"`
}

func toStatisticsResponse(stats domain.CustomerStatistics) statisticsResponse {
	resp := statisticsResponse{
		CustomerID:         stats.CustomerID,
		TotalOrders:        stats.TotalOrders,
		CountByStatus:      make(map[string]int64, len(stats.CountByStatus)),
		TotalAmountMinor:   stats.TotalAmountMinor,
		AverageAmountMinor: stats.AverageAmountMinor,
	}
	for status, count := range stats.CountByStatus {
		resp.CountByStatus[string(status)] = count
	}
	return resp
}

type errorResponse struct {
	Error string `json:"error"`
}
