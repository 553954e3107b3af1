package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/estore/internal/domain"
	"github.com/vladislavdragonenkov/estore/internal/service/auth"
	"github.com/vladislavdragonenkov/estore/internal/service/order"
)

// Handler связывает HTTP-маршруты с сервисами. Обработчики тонкие:
// декодировать запрос, вызвать сервис, закодировать ответ.
type Handler struct {
	orders *order.Service
	auth   *auth.Service
	logger *log.Entry
}

// NewHandler создаёт HTTP-обработчик.
func NewHandler(orders *order.Service, authSvc *auth.Service, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.New().WithField("component", "http")
	}
	return &Handler{orders: orders, auth: authSvc, logger: logger}
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Login == "" {
		writeError(w, http.StatusBadRequest, "login is required")
		return
	}

	user, err := h.auth.Register(r.Context(), req.Login, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrLoginTaken):
			writeError(w, http.StatusConflict, "login already taken")
		case errors.Is(err, auth.ErrPasswordTooShort):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.serverError(w, r, err)
		}
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{ID: user.ID, Login: user.Login})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}

	token, err := h.auth.Login(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "invalid login or password")
			return
		}
		h.serverError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Token: token})
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := h.orders.Create(r.Context(), req.toServiceRequest(customerIDFromContext(r.Context())))
	if err != nil {
		h.writeOrderError(w, r, err)
		return
	}

	resp := toOrderResponse(result.Order)
	if result.Degraded {
		// Заказ принят, но не сохранён: хранилище недоступно.
		resp.Degraded = true
		writeJSON(w, http.StatusAccepted, resp)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	got, err := h.orders.GetByIDForCustomer(r.Context(), orderID, customerIDFromContext(r.Context()))
	if err != nil {
		h.writeOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(got))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	customerID := customerIDFromContext(r.Context())
	page := pageFromQuery(r)

	var (
		result domain.OrderPage
		err    error
	)
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, parseErr := domain.ParseOrderStatus(raw)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		result, err = h.orders.ListByCustomerAndStatus(r.Context(), customerID, status, page)
	} else {
		result, err = h.orders.ListByCustomer(r.Context(), customerID, page)
	}
	if err != nil {
		h.writeOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderPageResponse(result))
}

func (h *Handler) searchOrders(w http.ResponseWriter, r *http.Request) {
	customerID := customerIDFromContext(r.Context())
	query := r.URL.Query()

	// Поиск всегда ограничен заказами аутентифицированного клиента.
	filter := domain.SearchFilter{CustomerID: &customerID}

	if raw := query.Get("status"); raw != "" {
		status, err := domain.ParseOrderStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		filter.Status = &status
	}
	if raw := query.Get("created_from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "created_from must be RFC3339")
			return
		}
		filter.CreatedFrom = &from
	}
	if raw := query.Get("created_to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "created_to must be RFC3339")
			return
		}
		filter.CreatedTo = &to
	}
	if raw := query.Get("min_amount_minor"); raw != "" {
		minAmount, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "min_amount_minor must be an integer")
			return
		}
		filter.MinAmountMinor = &minAmount
	}
	if raw := query.Get("max_amount_minor"); raw != "" {
		maxAmount, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "max_amount_minor must be an integer")
			return
		}
		filter.MaxAmountMinor = &maxAmount
	}

	result, err := h.orders.Search(r.Context(), filter, pageFromQuery(r))
	if err != nil {
		h.writeOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderPageResponse(result))
}

func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	var req updateStatusRequest
	if !h.decode(w, r, &req) {
		return
	}
	status, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.ensureOwnership(w, r, orderID); err != nil {
		return
	}

	updated, err := h.orders.UpdateStatus(r.Context(), orderID, order.UpdateStatusRequest{
		Status:         status,
		TrackingNumber: req.TrackingNumber,
	})
	if err != nil {
		h.writeOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(updated))
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	customerID := customerIDFromContext(r.Context())

	var req cancelOrderRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := h.ensureOwnership(w, r, orderID); err != nil {
		return
	}

	cancelled, err := h.orders.CancelOrder(r.Context(), orderID, req.Reason, customerID)
	if err != nil {
		h.writeOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(cancelled))
}

func (h *Handler) statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := h.orders.Statistics(r.Context(), customerIDFromContext(r.Context()))
	if err != nil {
		h.writeOrderError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatisticsResponse(stats))
}

// ensureOwnership запрещает операции над чужими заказами; чужой заказ
// неотличим от несуществующего.
func (h *Handler) ensureOwnership(w http.ResponseWriter, r *http.Request, orderID string) error {
	_, err := h.orders.GetByIDForCustomer(r.Context(), orderID, customerIDFromContext(r.Context()))
	if err != nil {
		h.writeOrderError(w, r, err)
		return err
	}
	return nil
}

// writeOrderError отображает ошибки доменного слоя на HTTP-статусы.
func (h *Handler) writeOrderError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case domain.IsNotFound(err):
		writeError(w, http.StatusNotFound, "order not found")
	case domain.IsVersionConflict(err):
		writeError(w, http.StatusConflict, "order was modified concurrently, retry with fresh state")
	case domain.IsInvalidState(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case domain.IsTransient(err):
		writeError(w, http.StatusServiceUnavailable, "storage temporarily unavailable")
	case isValidationError(err):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.serverError(w, r, err)
	}
}

func isValidationError(err error) bool {
	return errors.Is(err, domain.ErrCustomerRequired) ||
		errors.Is(err, domain.ErrCurrencyRequired) ||
		errors.Is(err, domain.ErrItemsRequired) ||
		errors.Is(err, domain.ErrItemQtyInvalid) ||
		errors.Is(err, domain.ErrItemPriceInvalid) ||
		errors.Is(err, domain.ErrUnknownStatus)
}

func (h *Handler) serverError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.WithFields(log.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
		"error":  err,
	}).Error("request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func pageFromQuery(r *http.Request) domain.Page {
	query := r.URL.Query()
	page := domain.Page{}
	if raw := query.Get("page"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			page.Number = n
		}
	}
	if raw := query.Get("size"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			page.Size = n
		}
	}
	return page
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
