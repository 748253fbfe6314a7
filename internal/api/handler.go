// Package api exposes the storefront over HTTP. Handlers stay thin: they
// decode, delegate to the domain services, and map errors to status codes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/adili-jewels/storefront/internal/cart"
	"github.com/adili-jewels/storefront/internal/checkout"
	"github.com/adili-jewels/storefront/internal/domain"
	"github.com/adili-jewels/storefront/internal/notify"
	"github.com/adili-jewels/storefront/internal/orders"
	"github.com/adili-jewels/storefront/internal/payments"
	"github.com/adili-jewels/storefront/internal/shipping"
)

// webhook payloads are small; anything larger is hostile.
const maxWebhookBody = 64 << 10

// ProductCatalog is the read side of the product table.
type ProductCatalog interface {
	List(ctx context.Context) ([]domain.Product, error)
	GetFeatured(ctx context.Context) ([]domain.Product, error)
	GetByCategory(ctx context.Context, category string) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
}

// OrderDirectory serves the back-office order views and the status
// override; placement itself goes through the checkout service.
type OrderDirectory interface {
	List(ctx context.Context) ([]domain.Order, error)
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	UpdateStatus(ctx context.Context, id string, to domain.OrderStatus) (*domain.Order, error)
}

type Handler struct {
	products  ProductCatalog
	carts     *cart.Service
	orders    OrderDirectory
	checkout  *checkout.Service
	mpesa     *payments.MpesaGateway
	notifier  *notify.Dispatcher
	mpesaWait time.Duration
	logger    *slog.Logger
}

func NewHandler(
	products ProductCatalog,
	carts *cart.Service,
	orders OrderDirectory,
	checkoutSvc *checkout.Service,
	mpesa *payments.MpesaGateway,
	notifier *notify.Dispatcher,
	mpesaWait time.Duration,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		products:  products,
		carts:     carts,
		orders:    orders,
		checkout:  checkoutSvc,
		mpesa:     mpesa,
		notifier:  notifier,
		mpesaWait: mpesaWait,
		logger:    logger,
	}
}

// Register wires every route onto the mux. An optional middleware wraps
// each handler; the storefront main uses it for the route span attribute.
func (h *Handler) Register(mux *http.ServeMux, mw ...func(http.HandlerFunc) http.HandlerFunc) {
	handle := func(pattern string, handler http.HandlerFunc) {
		for _, wrap := range mw {
			handler = wrap(handler)
		}
		mux.HandleFunc(pattern, handler)
	}

	handle("GET /products", h.HandleListProducts)
	handle("GET /products/featured", h.HandleFeaturedProducts)
	handle("GET /products/{id}", h.HandleGetProduct)

	handle("GET /shipping/fee", h.HandleShippingFee)
	handle("GET /shipping/cities", h.HandleShippingCities)

	handle("GET /cart", h.HandleGetCart)
	handle("POST /cart/items", h.HandleAddCartItem)
	handle("PATCH /cart/items", h.HandleSetCartQuantity)
	handle("DELETE /cart/items", h.HandleRemoveCartItem)

	handle("POST /orders", h.HandlePlaceOrder)
	handle("GET /orders", h.HandleListOrders)
	handle("GET /orders/{id}", h.HandleGetOrder)
	handle("PATCH /orders/{id}/status", h.HandleUpdateOrderStatus)

	handle("POST /payments/mpesa", h.HandleMpesaCheckout)
	handle("GET /payments/mpesa/{sessionID}", h.HandleMpesaStatus)
	handle("POST /callbacks/mpesa", h.HandleMpesaCallback)
	handle("POST /payments/card/intent", h.HandleCreateCardIntent)
	handle("POST /webhooks/stripe", h.HandleStripeWebhook)

	handle("POST /contact", h.HandleContact)
	handle("POST /newsletter", h.HandleNewsletter)

	handle("GET /healthz", h.HandleHealthz)
}

func (h *Handler) HandleListProducts(w http.ResponseWriter, r *http.Request) {
	var (
		products []domain.Product
		err      error
	)
	if category := r.URL.Query().Get("category"); category != "" {
		products, err = h.products.GetByCategory(r.Context(), category)
	} else {
		products, err = h.products.List(r.Context())
	}
	if err != nil {
		h.logger.Error("failed to list products", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if products == nil {
		products = []domain.Product{}
	}

	h.writeJSON(w, http.StatusOK, products)
}

func (h *Handler) HandleFeaturedProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.GetFeatured(r.Context())
	if err != nil {
		h.logger.Error("failed to list featured products", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if products == nil {
		products = []domain.Product{}
	}

	h.writeJSON(w, http.StatusOK, products)
}

func (h *Handler) HandleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := h.products.GetProduct(r.Context(), r.PathValue("id"))
	if err != nil {
		h.logger.Error("failed to get product", "error", err, "id", r.PathValue("id"))
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if product == nil {
		h.writeError(w, http.StatusNotFound, "product not found")
		return
	}

	h.writeJSON(w, http.StatusOK, product)
}

func (h *Handler) HandleShippingFee(w http.ResponseWriter, r *http.Request) {
	city := r.URL.Query().Get("city")
	if city == "" {
		h.writeError(w, http.StatusBadRequest, "missing city parameter")
		return
	}

	fee, err := shipping.Resolve(city)
	if err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, "we do not deliver to this city yet")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"city": city, "fee": fee})
}

func (h *Handler) HandleShippingCities(w http.ResponseWriter, _ *http.Request) {
	cities := shipping.Cities()
	sort.Strings(cities)
	h.writeJSON(w, http.StatusOK, map[string]any{"cities": cities})
}

type cartResponse struct {
	*domain.Cart
	Total int64 `json:"total"`
	Count int   `json:"count"`
}

func (h *Handler) writeCart(w http.ResponseWriter, status int, c *domain.Cart) {
	if c.Items == nil {
		c.Items = []domain.CartItem{}
	}
	h.writeJSON(w, status, cartResponse{Cart: c, Total: c.Total(), Count: c.Count()})
}

func (h *Handler) HandleGetCart(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	c, err := h.carts.Get(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("failed to load cart", "error", err, "session_id", sessionID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeCart(w, http.StatusOK, c)
}

func (h *Handler) HandleAddCartItem(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	var item domain.CartItem
	if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if item.ProductID == "" {
		h.writeError(w, http.StatusBadRequest, "missing product_id")
		return
	}
	if item.Quantity < 1 {
		h.writeError(w, http.StatusBadRequest, "quantity must be at least 1")
		return
	}

	c, err := h.carts.Add(r.Context(), sessionID, item)
	if err != nil {
		h.logger.Error("failed to add cart item", "error", err, "session_id", sessionID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeCart(w, http.StatusOK, c)
}

type setQuantityRequest struct {
	ProductID string `json:"product_id"`
	Variant   string `json:"variant"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) HandleSetCartQuantity(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	var req setQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProductID == "" {
		h.writeError(w, http.StatusBadRequest, "missing product_id")
		return
	}

	c, err := h.carts.SetQuantity(r.Context(), sessionID, req.ProductID, req.Variant, req.Quantity)
	if err != nil {
		h.logger.Error("failed to set cart quantity", "error", err, "session_id", sessionID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeCart(w, http.StatusOK, c)
}

func (h *Handler) HandleRemoveCartItem(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	productID := r.URL.Query().Get("product_id")
	if productID == "" {
		h.writeError(w, http.StatusBadRequest, "missing product_id parameter")
		return
	}

	c, err := h.carts.Remove(r.Context(), sessionID, productID, r.URL.Query().Get("variant"))
	if err != nil {
		h.logger.Error("failed to remove cart item", "error", err, "session_id", sessionID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeCart(w, http.StatusOK, c)
}

type placeOrderRequest struct {
	UserID        string `json:"user_id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	Street        string `json:"street"`
	City          string `json:"city"`
	PostalCode    string `json:"postal_code"`
	PaymentMethod string `json:"payment_method"`
}

func (r placeOrderRequest) toCheckout(sessionID string) checkout.PlaceOrderRequest {
	return checkout.PlaceOrderRequest{
		SessionID:     sessionID,
		UserID:        r.UserID,
		CustomerName:  r.Name,
		CustomerEmail: r.Email,
		CustomerPhone: r.Phone,
		Street:        r.Street,
		City:          r.City,
		PostalCode:    r.PostalCode,
		PaymentMethod: domain.PaymentMethod(r.PaymentMethod),
	}
}

func (h *Handler) HandlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.checkout.PlaceOrder(r.Context(), req.toCheckout(sessionID))
	if err != nil {
		h.writeCheckoutError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) HandleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list orders", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) HandleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		h.logger.Error("failed to get order", "error", err, "id", r.PathValue("id"))
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if order == nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

type updateStatusRequest struct {
	Status domain.OrderStatus `json:"status"`
}

func (h *Handler) HandleUpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	order, err := h.orders.UpdateStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		if errors.Is(err, orders.ErrIllegalStatusChange) {
			h.writeError(w, http.StatusConflict, "order status cannot move there")
			return
		}
		h.logger.Error("failed to update order status", "error", err, "id", r.PathValue("id"))
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if order == nil {
		h.writeError(w, http.StatusNotFound, "order not found")
		return
	}

	h.logger.Info("order status updated", "order_id", order.ID, "status", order.Status)
	h.writeJSON(w, http.StatusOK, order)
}

type mpesaCheckoutRequest struct {
	placeOrderRequest
	MpesaPhone string `json:"mpesa_phone"`
}

type mpesaCheckoutResponse struct {
	Attempt *payments.Attempt          `json:"attempt"`
	Order   *checkout.PlaceOrderResult `json:"order,omitempty"`
}

// HandleMpesaCheckout runs the whole push flow in one request: validate
// the checkout, send the STK prompt, wait for the confirmation, and only
// then record the order. A timeout or decline records nothing.
func (h *Handler) HandleMpesaCheckout(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := h.sessionID(w, r)
	if !ok {
		return
	}

	var req mpesaCheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.PaymentMethod = string(domain.PaymentMethodMpesa)
	phone := req.MpesaPhone
	if phone == "" {
		phone = req.Phone
	}

	orderReq := req.toCheckout(sessionID)
	total, fee, err := h.checkout.Precheck(r.Context(), orderReq)
	if err != nil {
		h.writeCheckoutError(w, err)
		return
	}

	attempt, err := h.mpesa.InitiatePush(r.Context(), sessionID, phone, total+fee)
	switch {
	case errors.Is(err, payments.ErrInvalidPhone):
		h.writeError(w, http.StatusBadRequest, "enter a valid Kenyan mobile number")
		return
	case errors.Is(err, payments.ErrAttemptPending):
		h.writeJSON(w, http.StatusConflict, mpesaCheckoutResponse{Attempt: attempt})
		return
	case err != nil:
		h.logger.Error("mpesa push failed", "error", err, "session_id", sessionID)
		h.writeJSON(w, http.StatusPaymentRequired, mpesaCheckoutResponse{Attempt: attempt})
		return
	}

	attempt, err = h.mpesa.Await(r.Context(), sessionID, h.mpesaWait)
	if err != nil {
		h.logger.Warn("abandoned mpesa wait", "error", err, "session_id", sessionID)
		h.writeJSON(w, http.StatusAccepted, mpesaCheckoutResponse{Attempt: attempt})
		return
	}
	if attempt.State != payments.AttemptStateSucceeded {
		h.mpesa.Release(sessionID)
		h.writeJSON(w, http.StatusPaymentRequired, mpesaCheckoutResponse{Attempt: attempt})
		return
	}

	orderReq.PaymentConfirmed = true
	result, err := h.checkout.PlaceOrder(r.Context(), orderReq)
	if err != nil {
		// money moved but the order did not persist; keep the attempt
		// around so support can reconcile it
		h.logger.Error("paid checkout failed to persist", "error", err, "session_id", sessionID)
		h.writeCheckoutError(w, err)
		return
	}
	h.mpesa.Release(sessionID)

	h.writeJSON(w, http.StatusCreated, mpesaCheckoutResponse{Attempt: attempt, Order: result})
}

func (h *Handler) HandleMpesaStatus(w http.ResponseWriter, r *http.Request) {
	attempt := h.mpesa.Attempt(r.PathValue("sessionID"))
	if attempt == nil {
		h.writeError(w, http.StatusNotFound, "no payment attempt for this session")
		return
	}

	h.writeJSON(w, http.StatusOK, attempt)
}

// HandleMpesaCallback accepts the provider's asynchronous result post.
// The response is always 200 with the acknowledgement shape the provider
// expects; a verdict we cannot apply is only logged.
func (h *Handler) HandleMpesaCallback(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if err := h.mpesa.HandleCallback(payload); err != nil {
		h.logger.Warn("mpesa callback not applied", "error", err)
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"ResultCode": 0, "ResultDesc": "Accepted"})
}

type cardIntentRequest struct {
	placeOrderRequest
	OrderID string `json:"order_id"`
}

func (h *Handler) HandleCreateCardIntent(w http.ResponseWriter, r *http.Request) {
	var req cardIntentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	checkoutReq := checkout.CardIntentRequest{OrderID: req.OrderID}
	if req.OrderID == "" {
		sessionID, ok := h.sessionID(w, r)
		if !ok {
			return
		}
		checkoutReq.Order = req.toCheckout(sessionID)
	}

	result, err := h.checkout.CreateCardIntent(r.Context(), checkoutReq)
	if err != nil {
		switch {
		case errors.Is(err, checkout.ErrOrderNotFound):
			h.writeError(w, http.StatusNotFound, "order not found")
		case errors.Is(err, checkout.ErrIntentPending):
			h.writeError(w, http.StatusConflict, "a payment is already pending for this order")
		default:
			h.writeCheckoutError(w, err)
		}
		return
	}

	h.writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if err := h.checkout.HandleWebhook(r.Context(), payload, r.Header.Get("Stripe-Signature")); err != nil {
		h.logger.Warn("rejected webhook", "error", err)
		h.writeError(w, http.StatusBadRequest, "invalid webhook")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

type contactRequest struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Message string `json:"message"`
}

func (h *Handler) HandleContact(w http.ResponseWriter, r *http.Request) {
	var req contactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Name) == "" || strings.TrimSpace(req.Email) == "" ||
		strings.TrimSpace(req.Message) == "" {
		h.writeError(w, http.StatusBadRequest, "name, email and message are required")
		return
	}

	h.notifier.ContactMessage(r.Context(), notify.ContactMessage{
		Name:    strings.TrimSpace(req.Name),
		Email:   strings.TrimSpace(req.Email),
		Message: strings.TrimSpace(req.Message),
	})

	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "received"})
}

type newsletterRequest struct {
	Email string `json:"email"`
}

func (h *Handler) HandleNewsletter(w http.ResponseWriter, r *http.Request) {
	var req newsletterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		h.writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	h.notifier.NewsletterSubscribed(r.Context(), strings.TrimSpace(req.Email))

	h.writeJSON(w, http.StatusAccepted, map[string]string{"status": "subscribed"})
}

func (h *Handler) HandleHealthz(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	sessionID := strings.TrimSpace(r.Header.Get("X-Session-ID"))
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, "missing X-Session-ID header")
		return "", false
	}
	return sessionID, true
}

func (h *Handler) writeCheckoutError(w http.ResponseWriter, err error) {
	var verr *checkout.ValidationError
	if errors.As(err, &verr) {
		h.writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": verr.Message,
			"field": verr.Field,
		})
		return
	}

	var perr *checkout.PersistenceError
	if errors.As(err, &perr) {
		h.logger.Error("order persistence failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to place order, please try again")
		return
	}

	h.logger.Error("checkout failed", "error", err)
	h.writeError(w, http.StatusBadGateway, "payment provider unavailable")
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
