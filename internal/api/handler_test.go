package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adili-jewels/storefront/internal/cart"
	"github.com/adili-jewels/storefront/internal/checkout"
	"github.com/adili-jewels/storefront/internal/domain"
	"github.com/adili-jewels/storefront/internal/notify"
	"github.com/adili-jewels/storefront/internal/payments"
)

type apiFixture struct {
	mux    *http.ServeMux
	carts  *cart.Service
	orders *memOrders
	gate   *payments.MpesaGateway
	sender *captureSender
	parser *stubWebhookParser
	daraja *httptest.Server
}

func newAPIFixture(t *testing.T, mpesaWait time.Duration) *apiFixture {
	t.Helper()

	daraja := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/oauth"):
			fmt.Fprint(w, `{"access_token":"test-token","expires_in":"3599"}`)
		case strings.HasPrefix(r.URL.Path, "/mpesa/stkpush"):
			fmt.Fprint(w, `{"CheckoutRequestID":"ws_CO_1","ResponseCode":"0","ResponseDescription":"Accepted"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(daraja.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sender := &captureSender{}
	dispatcher := notify.NewDispatcher(sender, "admin@example.com", "Adili Jewels", logger)

	carts := cart.NewService(cart.NewMemoryStore())
	orderStore := newMemOrders()
	parser := &stubWebhookParser{}
	checkoutSvc := checkout.NewService(carts, orderStore, memAddresses{}, dispatcher,
		nil, &stubIntents{}, parser, logger)

	gateway := payments.NewMpesaGateway(payments.MpesaConfig{
		BaseURL:        daraja.URL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		Passkey:        "passkey",
		CallbackURL:    "http://localhost/callbacks/mpesa",
	}, daraja.Client())

	catalog := &stubCatalog{products: []domain.Product{
		{ID: "p1", Name: "Signet Ring", Price: 1000, DiscountPercentage: 10, InStock: true, Featured: true, Category: "rings"},
		{ID: "p2", Name: "Rope Chain", Price: 4500, InStock: true, Category: "chains"},
	}}

	handler := NewHandler(catalog, carts, orderStore, checkoutSvc, gateway, dispatcher, mpesaWait, logger)
	mux := http.NewServeMux()
	handler.Register(mux)

	return &apiFixture{
		mux:    mux,
		carts:  carts,
		orders: orderStore,
		gate:   gateway,
		sender: sender,
		parser: parser,
		daraja: daraja,
	}
}

func (f *apiFixture) do(t *testing.T, method, target, sessionID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, target, reader)
	if sessionID != "" {
		req.Header.Set("X-Session-ID", sessionID)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func checkoutBody(city string) map[string]any {
	return map[string]any{
		"name":           "Wanjiru Kamau",
		"email":          "wanjiru@example.com",
		"phone":          "0712345678",
		"street":         "Moi Avenue 12",
		"city":           city,
		"payment_method": "mpesa",
	}
}

func TestShippingRoutes(t *testing.T) {
	f := newAPIFixture(t, time.Second)

	t.Run("known city", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/shipping/fee?city=Nairobi", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode[map[string]any](t, rec)
		assert.Equal(t, float64(300), body["fee"])
	})

	t.Run("unknown city is unprocessable", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/shipping/fee?city=Atlantis", "", nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("missing city parameter", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/shipping/fee", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("city list is sorted", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/shipping/cities", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode[map[string][]string](t, rec)
		require.NotEmpty(t, body["cities"])
		assert.IsNonDecreasing(t, body["cities"])
	})
}

func TestProductRoutes(t *testing.T) {
	f := newAPIFixture(t, time.Second)

	t.Run("list all", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/products", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decode[[]domain.Product](t, rec), 2)
	})

	t.Run("filter by category", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/products?category=chains", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		products := decode[[]domain.Product](t, rec)
		require.Len(t, products, 1)
		assert.Equal(t, "Rope Chain", products[0].Name)
	})

	t.Run("featured", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/products/featured", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		products := decode[[]domain.Product](t, rec)
		require.Len(t, products, 1)
		assert.Equal(t, "p1", products[0].ID)
	})

	t.Run("missing product", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/products/nope", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestCartRoutes(t *testing.T) {
	f := newAPIFixture(t, time.Second)

	t.Run("session header is required", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/cart", "", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("add and read back", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/cart/items", "s1", domain.CartItem{
			ProductID: "p1", Name: "Signet Ring", Price: 1000, DiscountPercentage: 10, Quantity: 2,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = f.do(t, http.MethodGet, "/cart", "s1", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode[cartResponse](t, rec)
		assert.Equal(t, int64(1800), body.Total)
		assert.Equal(t, 2, body.Count)
	})

	t.Run("zero quantity is rejected before the store", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/cart/items", "s1", domain.CartItem{
			ProductID: "p1", Quantity: 0,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("patch to zero removes the line", func(t *testing.T) {
		rec := f.do(t, http.MethodPatch, "/cart/items", "s1", setQuantityRequest{
			ProductID: "p1", Quantity: 0,
		})
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode[cartResponse](t, rec)
		assert.Empty(t, body.Items)
	})

	t.Run("delete an item", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/cart/items", "s2", domain.CartItem{
			ProductID: "p2", Name: "Rope Chain", Price: 4500, Quantity: 1,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = f.do(t, http.MethodDelete, "/cart/items?product_id=p2", "s2", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, decode[cartResponse](t, rec).Items)
	})
}

func TestPlaceOrderRoute(t *testing.T) {
	fillCart := func(t *testing.T, f *apiFixture, sessionID string) {
		rec := f.do(t, http.MethodPost, "/cart/items", sessionID, domain.CartItem{
			ProductID: "p1", Name: "Signet Ring", Price: 1000, DiscountPercentage: 10, Quantity: 2,
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	t.Run("created", func(t *testing.T) {
		f := newAPIFixture(t, time.Second)
		fillCart(t, f, "s1")

		rec := f.do(t, http.MethodPost, "/orders", "s1", checkoutBody("Nairobi"))
		require.Equal(t, http.StatusCreated, rec.Code)
		result := decode[checkout.PlaceOrderResult](t, rec)
		assert.Equal(t, int64(2100), result.GrandTotal)
		assert.Equal(t, domain.OrderStatusPending, result.Status)
	})

	t.Run("validation names the field", func(t *testing.T) {
		f := newAPIFixture(t, time.Second)
		fillCart(t, f, "s1")

		body := checkoutBody("Atlantis")
		rec := f.do(t, http.MethodPost, "/orders", "s1", body)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "city", decode[map[string]string](t, rec)["field"])
	})

	t.Run("empty cart", func(t *testing.T) {
		f := newAPIFixture(t, time.Second)

		rec := f.do(t, http.MethodPost, "/orders", "fresh", checkoutBody("Nairobi"))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "cart", decode[map[string]string](t, rec)["field"])
	})
}

func TestOrderStatusRoute(t *testing.T) {
	f := newAPIFixture(t, time.Second)

	rec := f.do(t, http.MethodPost, "/cart/items", "s1", domain.CartItem{
		ProductID: "p1", Name: "Signet Ring", Price: 1000, Quantity: 1,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodPost, "/orders", "s1", checkoutBody("Nairobi"))
	require.Equal(t, http.StatusCreated, rec.Code)
	orderID := decode[checkout.PlaceOrderResult](t, rec).OrderID

	t.Run("forward move", func(t *testing.T) {
		rec := f.do(t, http.MethodPatch, "/orders/"+orderID+"/status", "",
			updateStatusRequest{Status: domain.OrderStatusProcessing})
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, domain.OrderStatusProcessing, decode[domain.Order](t, rec).Status)
	})

	t.Run("backward move conflicts", func(t *testing.T) {
		rec := f.do(t, http.MethodPatch, "/orders/"+orderID+"/status", "",
			updateStatusRequest{Status: domain.OrderStatusPending})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unknown order", func(t *testing.T) {
		rec := f.do(t, http.MethodPatch, "/orders/ghost/status", "",
			updateStatusRequest{Status: domain.OrderStatusShipped})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestMpesaCheckoutRoute(t *testing.T) {
	fillCart := func(t *testing.T, f *apiFixture, sessionID string) {
		rec := f.do(t, http.MethodPost, "/cart/items", sessionID, domain.CartItem{
			ProductID: "p1", Name: "Signet Ring", Price: 1000, DiscountPercentage: 10, Quantity: 2,
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	t.Run("confirmed push records a processing order", func(t *testing.T) {
		f := newAPIFixture(t, 5*time.Second)
		fillCart(t, f, "s1")

		// the provider confirms out of band while the checkout waits
		go func() {
			time.Sleep(100 * time.Millisecond)
			callback := []byte(`{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":0,"ResultDesc":"Processed"}}}`)
			req := httptest.NewRequest(http.MethodPost, "/callbacks/mpesa", bytes.NewReader(callback))
			f.mux.ServeHTTP(httptest.NewRecorder(), req)
		}()

		rec := f.do(t, http.MethodPost, "/payments/mpesa", "s1", checkoutBody("Nairobi"))
		require.Equal(t, http.StatusCreated, rec.Code)
		body := decode[mpesaCheckoutResponse](t, rec)
		require.NotNil(t, body.Order)
		assert.Equal(t, domain.OrderStatusProcessing, body.Order.Status)
		assert.Equal(t, int64(2100), body.Attempt.Amount)
	})

	t.Run("timeout records nothing", func(t *testing.T) {
		f := newAPIFixture(t, 50*time.Millisecond)
		fillCart(t, f, "s1")

		rec := f.do(t, http.MethodPost, "/payments/mpesa", "s1", checkoutBody("Nairobi"))
		require.Equal(t, http.StatusPaymentRequired, rec.Code)
		assert.Zero(t, f.orders.count())

		// and the cart survives for a retry
		cart, err := f.carts.Get(t.Context(), "s1")
		require.NoError(t, err)
		assert.Len(t, cart.Items, 1)
	})

	t.Run("invalid phone never reaches the provider", func(t *testing.T) {
		f := newAPIFixture(t, time.Second)
		fillCart(t, f, "s1")

		body := checkoutBody("Nairobi")
		body["phone"] = "12345"
		rec := f.do(t, http.MethodPost, "/payments/mpesa", "s1", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid checkout rejected before charging", func(t *testing.T) {
		f := newAPIFixture(t, time.Second)
		fillCart(t, f, "s1")

		rec := f.do(t, http.MethodPost, "/payments/mpesa", "s1", checkoutBody("Atlantis"))
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Nil(t, f.gate.Attempt("s1"))
	})

	t.Run("poll endpoint", func(t *testing.T) {
		f := newAPIFixture(t, 50*time.Millisecond)

		rec := f.do(t, http.MethodGet, "/payments/mpesa/ghost", "", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		fillCart(t, f, "s1")
		rec = f.do(t, http.MethodPost, "/payments/mpesa", "s1", checkoutBody("Nairobi"))
		require.Equal(t, http.StatusPaymentRequired, rec.Code)
	})
}

func TestCardIntentRoute(t *testing.T) {
	fillCart := func(t *testing.T, f *apiFixture, sessionID string) {
		rec := f.do(t, http.MethodPost, "/cart/items", sessionID, domain.CartItem{
			ProductID: "p1", Name: "Signet Ring", Price: 1000, DiscountPercentage: 10, Quantity: 2,
		})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	t.Run("creates order and intent together", func(t *testing.T) {
		f := newAPIFixture(t, time.Second)
		fillCart(t, f, "s1")

		body := checkoutBody("Nairobi")
		body["payment_method"] = "card"
		rec := f.do(t, http.MethodPost, "/payments/card/intent", "s1", body)
		require.Equal(t, http.StatusCreated, rec.Code)
		result := decode[checkout.CardIntentResult](t, rec)
		assert.Equal(t, "pi_1", result.IntentID)
		assert.NotEmpty(t, result.ClientSecret)
	})

	t.Run("second intent for the same order conflicts", func(t *testing.T) {
		f := newAPIFixture(t, time.Second)
		fillCart(t, f, "s1")

		body := checkoutBody("Nairobi")
		body["payment_method"] = "card"
		rec := f.do(t, http.MethodPost, "/payments/card/intent", "s1", body)
		require.Equal(t, http.StatusCreated, rec.Code)
		orderID := decode[checkout.CardIntentResult](t, rec).OrderID

		rec = f.do(t, http.MethodPost, "/payments/card/intent", "",
			map[string]string{"order_id": orderID})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unknown order", func(t *testing.T) {
		f := newAPIFixture(t, time.Second)

		rec := f.do(t, http.MethodPost, "/payments/card/intent", "",
			map[string]string{"order_id": "ghost"})
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestStripeWebhookRoute(t *testing.T) {
	t.Run("bad signature", func(t *testing.T) {
		f := newAPIFixture(t, time.Second)
		f.parser.err = payments.ErrBadSignature

		rec := f.do(t, http.MethodPost, "/webhooks/stripe", "", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("succeeded event advances the order", func(t *testing.T) {
		f := newAPIFixture(t, time.Second)
		rec := f.do(t, http.MethodPost, "/cart/items", "s1", domain.CartItem{
			ProductID: "p1", Name: "Signet Ring", Price: 1000, Quantity: 1,
		})
		require.Equal(t, http.StatusOK, rec.Code)
		body := checkoutBody("Nairobi")
		body["payment_method"] = "card"
		rec = f.do(t, http.MethodPost, "/orders", "s1", body)
		require.Equal(t, http.StatusCreated, rec.Code)
		orderID := decode[checkout.PlaceOrderResult](t, rec).OrderID

		f.parser.eventType = "payment_intent.succeeded"
		f.parser.orderID = orderID
		rec = f.do(t, http.MethodPost, "/webhooks/stripe", "", map[string]string{})
		require.Equal(t, http.StatusOK, rec.Code)

		rec = f.do(t, http.MethodGet, "/orders/"+orderID, "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, domain.OrderStatusProcessing, decode[domain.Order](t, rec).Status)
	})
}

func TestContactAndNewsletterRoutes(t *testing.T) {
	f := newAPIFixture(t, time.Second)

	t.Run("contact acknowledges sender and admin", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/contact", "", contactRequest{
			Name: "Achieng", Email: "achieng@example.com", Message: "Do you resize rings?",
		})
		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, 2, f.sender.count())
	})

	t.Run("contact requires all fields", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/contact", "", contactRequest{Name: "Achieng"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("newsletter", func(t *testing.T) {
		before := f.sender.count()
		rec := f.do(t, http.MethodPost, "/newsletter", "", newsletterRequest{Email: "new@example.com"})
		require.Equal(t, http.StatusAccepted, rec.Code)
		assert.Equal(t, before+1, f.sender.count())
	})

	t.Run("newsletter requires an email", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/newsletter", "", newsletterRequest{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHealthz(t *testing.T) {
	f := newAPIFixture(t, time.Second)

	rec := f.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])
}
