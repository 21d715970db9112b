package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"imi-storefront/internal/backend"
	"imi-storefront/internal/clock"
	"imi-storefront/internal/domain"
	"imi-storefront/internal/repository/token"
	"imi-storefront/internal/storefront"
	"imi-storefront/internal/tasks"
	"imi-storefront/internal/testkit/fakebackend"
)

const validAddress = `{"fullName":"Asha Rao","phone":"9876543210","addressLine1":"12 MG Road","city":"Bengaluru","state":"KA","postalCode":"560001"}`

type harness struct {
	t      *testing.T
	router *gin.Engine
	srv    *fakebackend.Server
	reg    *storefront.Registry
	cookie *http.Cookie
	sid    string
}

func logDiscard() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newHarness(t *testing.T, ready func(context.Context) error) *harness {
	t.Helper()
	srv := fakebackend.New()
	t.Cleanup(srv.Close)
	srv.AddProduct(domain.Product{ID: "p1", Name: "Brass Lamp", Price: 500})

	client := backend.New(srv.URL(), 5*time.Second, nil)
	reg := storefront.New(token.NewMemory(), client, storefront.Options{
		SyncAttempts: 1,
		SyncBackoff:  time.Millisecond,
		Locale:       "en-IN",
		Clock:        clock.Fake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)),
		Tasks:        tasks.Inline{},
	})
	t.Cleanup(reg.Close)

	router, err := buildRouter(logDiscard(), Deps{Registry: reg, Catalog: client, Account: client, Ready: ready})
	if err != nil {
		t.Fatalf("build router: %v", err)
	}
	return &harness{t: t, router: router, srv: srv, reg: reg}
}

func (h *harness) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	h.t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	if h.cookie != nil {
		req.AddCookie(h.cookie)
	}
	if h.sid != "" {
		req.Header.Set(sessionHeader, h.sid)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.Name == deviceCookie {
			h.cookie = c
		}
	}
	return rec
}

func (h *harness) openTab() {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/tabs", "")
	if rec.Code != http.StatusCreated {
		h.t.Fatalf("open tab: status %d body %s", rec.Code, rec.Body.String())
	}
	var out struct {
		SessionID string `json:"sessionId"`
	}
	decode(h.t, rec, &out)
	h.sid = out.SessionID
}

// signIn pushes a principal and, when a tab is open, waits for its cart
// engine to fetch the new session's cart so later mutations are ordered
// after that fetch.
func (h *harness) signIn() {
	h.t.Helper()
	before := h.srv.CartRequests()
	rec := h.do(http.MethodPost, "/identity/firebase", `{"principal":{"id":"fb-1","email":"asha@example.com","displayName":"Asha"}}`)
	if rec.Code != http.StatusOK {
		h.t.Fatalf("sign in: status %d body %s", rec.Code, rec.Body.String())
	}
	if h.sid == "" {
		return
	}
	deadline := time.Now().Add(2 * time.Second)
	for h.srv.CartRequests() == before {
		if time.Now().After(deadline) {
			h.t.Fatalf("cart engine did not pick up the session token")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (h *harness) toPayment() {
	h.t.Helper()
	h.openTab()
	h.signIn()
	if rec := h.do(http.MethodPost, "/cart/items", `{"productId":"p1","name":"Brass Lamp","price":500,"quantity":2}`); rec.Code != http.StatusOK {
		h.t.Fatalf("add item: status %d body %s", rec.Code, rec.Body.String())
	}
	if rec := h.do(http.MethodPost, "/checkout", ""); rec.Code != http.StatusOK {
		h.t.Fatalf("begin checkout: status %d body %s", rec.Code, rec.Body.String())
	}
	if rec := h.do(http.MethodPost, "/checkout/address", validAddress); rec.Code != http.StatusOK {
		h.t.Fatalf("address: status %d body %s", rec.Code, rec.Body.String())
	}
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, nil)
	if rec := h.do(http.MethodGet, "/healthz", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
}

func TestReadyz(t *testing.T) {
	h := newHarness(t, nil)
	if rec := h.do(http.MethodGet, "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 without a check, got %d", rec.Code)
	}

	h = newHarness(t, func(context.Context) error { return errors.New("down") })
	if rec := h.do(http.MethodGet, "/readyz", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503 for failing check, got %d", rec.Code)
	}

	h = newHarness(t, func(context.Context) error { return nil })
	if rec := h.do(http.MethodGet, "/readyz", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
}

func TestOpenTabIssuesDeviceCookie(t *testing.T) {
	h := newHarness(t, nil)
	h.openTab()

	if h.cookie == nil {
		t.Fatalf("expected device cookie")
	}
	if _, err := uuid.Parse(h.cookie.Value); err != nil {
		t.Fatalf("device cookie is not a uuid: %q", h.cookie.Value)
	}
	if !h.cookie.HttpOnly {
		t.Fatalf("device cookie must be http-only")
	}
	if !strings.HasPrefix(h.sid, "s_") {
		t.Fatalf("unexpected session id %q", h.sid)
	}

	first := h.cookie.Value
	h.openTab()
	if h.cookie.Value != first {
		t.Fatalf("device cookie reissued: %q != %q", h.cookie.Value, first)
	}
	if h.reg.Tabs() != 2 {
		t.Fatalf("expected 2 tabs, got %d", h.reg.Tabs())
	}
}

func TestTabHeaderRequired(t *testing.T) {
	h := newHarness(t, nil)
	if rec := h.do(http.MethodGet, "/cart", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 without session header, got %d", rec.Code)
	}
	h.sid = "s_1_unknown0"
	if rec := h.do(http.MethodGet, "/cart", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for unknown session, got %d", rec.Code)
	}
}

func TestAddToCartRequiresSignIn(t *testing.T) {
	h := newHarness(t, nil)
	h.openTab()

	rec := h.do(http.MethodPost, "/cart/items", `{"productId":"p1","name":"Brass Lamp","price":500}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rec.Code)
	}
	var body errorResponse
	decode(t, rec, &body)
	if body.Error != domain.ErrAuthRequired.Error() {
		t.Fatalf("unexpected message %q", body.Error)
	}
}

func TestAddToCartShowsBackendRefusal(t *testing.T) {
	h := newHarness(t, nil)
	h.srv.AddProduct(domain.Product{ID: "p2", Name: "Jute Rug", Price: 1200, Stock: 2})
	h.openTab()
	h.signIn()

	rec := h.do(http.MethodPost, "/cart/items", `{"productId":"p2","name":"Jute Rug","price":1200,"quantity":3}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d body %s", rec.Code, rec.Body.String())
	}
	var body errorResponse
	decode(t, rec, &body)
	if body.Error != "Only 2 left in stock" {
		t.Fatalf("backend message not passed through: %q", body.Error)
	}
}

func TestStatusForBackendErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&backend.Error{StatusCode: http.StatusBadRequest, Message: "Invalid quantity"}, http.StatusUnprocessableEntity},
		{&backend.Error{StatusCode: http.StatusConflict}, http.StatusUnprocessableEntity},
		{&backend.Error{StatusCode: http.StatusNotFound}, http.StatusNotFound},
		{&backend.Error{StatusCode: http.StatusUnauthorized}, http.StatusUnauthorized},
		{&backend.Error{StatusCode: http.StatusServiceUnavailable, Message: "Server is starting"}, http.StatusBadGateway},
		{errors.New("dial tcp: refused"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestIdentityPushAndSignOut(t *testing.T) {
	h := newHarness(t, nil)
	h.openTab()

	if rec := h.do(http.MethodPost, "/identity/okta", `{"principal":null}`); rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404 for unknown provider, got %d", rec.Code)
	}

	h.signIn()
	var me meResponse
	decode(t, h.do(http.MethodGet, "/auth/me", ""), &me)
	if !me.Authenticated || !me.HasToken || me.Identity.Email != "asha@example.com" {
		t.Fatalf("unexpected identity after sign in: %+v", me)
	}
	if calls := h.srv.SyncCalls(); len(calls) != 1 || calls[0] != "asha@example.com|google" {
		t.Fatalf("unexpected sync calls %v", calls)
	}

	if rec := h.do(http.MethodPost, "/auth/signout", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	me = meResponse{}
	decode(t, h.do(http.MethodGet, "/auth/me", ""), &me)
	if me.Authenticated || me.HasToken {
		t.Fatalf("expected signed out, got %+v", me)
	}
}

func TestCartEndpoints(t *testing.T) {
	h := newHarness(t, nil)
	h.openTab()
	h.signIn()

	rec := h.do(http.MethodPost, "/cart/items", `{"productId":"p1","name":"Brass Lamp","price":1,"quantity":2}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("add: status %d body %s", rec.Code, rec.Body.String())
	}
	var view struct {
		Items       []domain.CartLine `json:"items"`
		TotalAmount int64             `json:"totalAmount"`
		ItemCount   int               `json:"itemCount"`
	}
	decode(t, rec, &view)
	if view.TotalAmount != 1000 || view.ItemCount != 2 {
		t.Fatalf("server price not applied: %+v", view)
	}

	rec = h.do(http.MethodPatch, "/cart/items", `{"productId":"p1","quantity":3}`)
	decode(t, rec, &view)
	if view.ItemCount != 3 {
		t.Fatalf("expected 3 items, got %+v", view)
	}

	rec = h.do(http.MethodDelete, "/cart/items", `{"productId":"p1"}`)
	decode(t, rec, &view)
	if len(view.Items) != 0 {
		t.Fatalf("expected empty cart, got %+v", view)
	}
}

func TestCheckoutAddressValidation(t *testing.T) {
	h := newHarness(t, nil)
	h.openTab()
	h.signIn()
	h.do(http.MethodPost, "/cart/items", `{"productId":"p1","name":"Brass Lamp","price":500}`)
	h.do(http.MethodPost, "/checkout", "")

	rec := h.do(http.MethodPost, "/checkout/address", `{"fullName":"Asha","phone":"12345"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rec.Code)
	}
	var body errorResponse
	decode(t, rec, &body)
	if body.Field != "phone" || body.Step != "address" {
		t.Fatalf("unexpected error body %+v", body)
	}

	if rec := h.do(http.MethodPost, "/checkout/confirm", ""); rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409 for confirm before payment step, got %d", rec.Code)
	}
}

func TestCheckoutWithEmptyCart(t *testing.T) {
	h := newHarness(t, nil)
	h.openTab()
	h.signIn()
	rec := h.do(http.MethodPost, "/checkout", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rec.Code)
	}
}

func TestCheckoutCashOnDelivery(t *testing.T) {
	h := newHarness(t, nil)
	h.toPayment()

	rec := h.do(http.MethodPost, "/checkout/method", `{"paymentMethod":"cod"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("method: status %d body %s", rec.Code, rec.Body.String())
	}
	var snap struct {
		Method string `json:"method"`
		Quote  struct {
			DueNow        int64 `json:"dueNow"`
			DueOnDelivery int64 `json:"dueOnDelivery"`
		} `json:"quote"`
	}
	decode(t, rec, &snap)
	if snap.Method != "COD" {
		t.Fatalf("expected COD, got %q", snap.Method)
	}

	rec = h.do(http.MethodPost, "/checkout/confirm", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm: status %d body %s", rec.Code, rec.Body.String())
	}
	var res confirmResponse
	decode(t, rec, &res)
	if res.State != "cod-confirmed" || res.Order == nil || res.Redirect != nil {
		t.Fatalf("unexpected confirm result %+v", res)
	}
	payments := h.srv.Payments()
	if len(payments) != 1 || payments[0].ProductID != "p1" || payments[0].Quantity != 2 {
		t.Fatalf("unexpected payment calls %+v", payments)
	}

	var view struct {
		Items []domain.CartLine `json:"items"`
	}
	decode(t, h.do(http.MethodGet, "/cart", ""), &view)
	if len(view.Items) != 0 {
		t.Fatalf("cart not cleared after cod: %+v", view)
	}
}

func TestCheckoutOnlineRendersGatewayPage(t *testing.T) {
	h := newHarness(t, nil)
	h.toPayment()

	rec := h.do(http.MethodPost, "/checkout/confirm", "", "Accept", "text/html,application/xhtml+xml")
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm: status %d body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("expected html, got %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{`action="` + fakebackend.GatewayAction + `"`, `name="txnid"`, `name="hash"`, `method="POST"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("hand-off page missing %s:\n%s", want, body)
		}
	}
	if got := h.srv.Recovered(); len(got) != 1 || got[0] != h.sid {
		t.Fatalf("expected cart recovery for %s, got %v", h.sid, got)
	}

	var snap struct {
		State string `json:"state"`
	}
	decode(t, h.do(http.MethodGet, "/checkout", ""), &snap)
	if snap.State != "redirect" {
		t.Fatalf("expected redirect state, got %q", snap.State)
	}
}

func TestPaymentSuccessVerifiesAndRefreshesCart(t *testing.T) {
	h := newHarness(t, nil)
	h.toPayment()

	rec := h.do(http.MethodPost, "/checkout/confirm", "")
	var res confirmResponse
	decode(t, rec, &res)
	if res.Redirect == nil {
		t.Fatalf("expected a redirect form, got %s", rec.Body.String())
	}
	var txn string
	for _, f := range res.Redirect.Fields {
		if f.Name == "txnid" {
			txn = f.Value
		}
	}
	if txn == "" {
		t.Fatalf("no txnid in %+v", res.Redirect.Fields)
	}

	rec = h.do(http.MethodGet, "/payment/success?txnid="+txn, "")
	var result paymentResult
	decode(t, rec, &result)
	if !result.Verified || result.TxnID != txn {
		t.Fatalf("unexpected payment result %+v", result)
	}
	if got := h.srv.Verified(); len(got) != 1 || got[0] != txn {
		t.Fatalf("unexpected verify calls %v", got)
	}

	var view struct {
		Items []domain.CartLine `json:"items"`
	}
	decode(t, h.do(http.MethodGet, "/cart", ""), &view)
	if len(view.Items) != 0 {
		t.Fatalf("cart not refreshed after payment: %+v", view)
	}
}

func TestGatewayPostBackWithoutCookieKeepsDevice(t *testing.T) {
	h := newHarness(t, nil)
	h.toPayment()
	device := h.cookie.Value

	rec := h.do(http.MethodPost, "/checkout/confirm", "")
	var res confirmResponse
	decode(t, rec, &res)
	if res.Redirect == nil {
		t.Fatalf("expected a redirect form, got %s", rec.Body.String())
	}
	txn := res.Redirect.Value("txnid")

	// The gateway posts from another site, so the browser sends no cookie.
	req := httptest.NewRequest(http.MethodPost, "/payment/success", strings.NewReader("txnid="+txn+"&status=success"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	post := httptest.NewRecorder()
	h.router.ServeHTTP(post, req)

	if post.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", post.Code)
	}
	for _, c := range post.Result().Cookies() {
		if c.Name == deviceCookie {
			t.Fatalf("return page issued a new device cookie %q", c.Value)
		}
	}
	var result paymentResult
	decode(t, post, &result)
	if !result.Verified {
		t.Fatalf("payment not verified for the original device: %+v", result)
	}
	if got := h.srv.Verified(); len(got) != 1 || got[0] != txn {
		t.Fatalf("unexpected verify calls %v", got)
	}

	if rec := h.do(http.MethodGet, "/auth/me", ""); rec.Code != http.StatusOK || h.cookie.Value != device {
		t.Fatalf("device changed after payment: status %d cookie %q want %q", rec.Code, h.cookie.Value, device)
	}
}

func TestPaymentReturnFromUnknownDevice(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(http.MethodPost, "/payment/success?txnid=unknown", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if h.cookie != nil {
		t.Fatalf("return page must not issue a device cookie")
	}
	var result paymentResult
	decode(t, rec, &result)
	if result.Verified || result.TxnID != "unknown" {
		t.Fatalf("unexpected payment result %+v", result)
	}
}

func TestPaymentFailurePage(t *testing.T) {
	h := newHarness(t, nil)
	rec := h.do(http.MethodGet, "/payment/failure?txnid=txn42", "", "Accept", "text/html")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "Payment failed") || !strings.Contains(body, "txn42") {
		t.Fatalf("unexpected failure page:\n%s", body)
	}
	if len(h.srv.Verified()) != 0 {
		t.Fatalf("failure page must not verify")
	}
}

func TestAnalyticsEndpoints(t *testing.T) {
	h := newHarness(t, nil)
	h.openTab()

	ua := "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"
	if rec := h.do(http.MethodPost, "/analytics/pageview", `{"page":"/","referrer":"https://google.com"}`, "User-Agent", ua); rec.Code != http.StatusAccepted {
		t.Fatalf("pageview: status %d", rec.Code)
	}

	rec := h.do(http.MethodPost, "/analytics/click", `{"path":[{"tag":"svg"},{"tag":"button"}],"page":"/"}`)
	var click struct {
		Tracked bool `json:"tracked"`
	}
	decode(t, rec, &click)
	if click.Tracked {
		t.Fatalf("icon-only button must not be tracked")
	}

	if rec := h.do(http.MethodPost, "/analytics/unload", ""); rec.Code != http.StatusAccepted {
		t.Fatalf("unload: status %d", rec.Code)
	}

	events := h.srv.Events()
	if len(events) != 2 {
		t.Fatalf("expected pageview and session_end, got %+v", events)
	}
	if events[0].EventType != domain.EventPageView || events[0].Browser != "Chrome" || events[0].SessionID != h.sid {
		t.Fatalf("unexpected pageview %+v", events[0])
	}
	if events[1].EventType != domain.EventSessionEnd || events[1].ExitPage != "/" {
		t.Fatalf("unexpected session end %+v", events[1])
	}
}
