package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/clinic-booking/internal/authz"
	appointmenth "github.com/jwalitptl/clinic-booking/internal/handler/appointment"
	availabilityh "github.com/jwalitptl/clinic-booking/internal/handler/availability"
	catalogh "github.com/jwalitptl/clinic-booking/internal/handler/catalog"
	"github.com/jwalitptl/clinic-booking/internal/handler/health"
	paymenth "github.com/jwalitptl/clinic-booking/internal/handler/payment"
	profileh "github.com/jwalitptl/clinic-booking/internal/handler/profile"
	"github.com/jwalitptl/clinic-booking/internal/handler/prometheus"
	"github.com/jwalitptl/clinic-booking/internal/middleware"
	"github.com/jwalitptl/clinic-booking/internal/model"
	"github.com/jwalitptl/clinic-booking/internal/repository/repotest"
	"github.com/jwalitptl/clinic-booking/internal/service/appointment"
	"github.com/jwalitptl/clinic-booking/internal/service/availability"
	"github.com/jwalitptl/clinic-booking/internal/service/catalog"
	"github.com/jwalitptl/clinic-booking/internal/service/event"
	"github.com/jwalitptl/clinic-booking/internal/service/payment"
	"github.com/jwalitptl/clinic-booking/internal/service/profile"
	"github.com/jwalitptl/clinic-booking/pkg/logger"
	"github.com/jwalitptl/clinic-booking/pkg/metrics"
	"github.com/jwalitptl/clinic-booking/pkg/validator"
)

const testSecret = "router-test-secret"

func init() {
	gin.SetMode(gin.TestMode)
	if err := validator.Register(); err != nil {
		panic(err)
	}
}

// stubGateway accepts any checkout and treats "good" as the only valid
// webhook signature.
type stubGateway struct {
	events map[string]*payment.WebhookEvent
}

func (g *stubGateway) CreateCheckoutSession(_ context.Context, p *payment.CheckoutParams) (*payment.CheckoutSession, error) {
	return &payment.CheckoutSession{ID: "cs_" + p.AppointmentID.String(), URL: "https://pay.example/" + p.AppointmentID.String()}, nil
}

func (g *stubGateway) GetPaymentIntent(_ context.Context, id string) (*payment.PaymentIntent, error) {
	return &payment.PaymentIntent{ID: id, Status: "succeeded"}, nil
}

func (g *stubGateway) CreateRefund(_ context.Context, p *payment.RefundParams) (*payment.Refund, error) {
	return &payment.Refund{ID: "re_1", AmountMinor: p.AmountMinor, Status: "succeeded"}, nil
}

func (g *stubGateway) ParseWebhook(_ []byte, signature string) (*payment.WebhookEvent, error) {
	evt, ok := g.events[signature]
	if !ok {
		return nil, payment.ErrInvalidSignature
	}
	return evt, nil
}

type app struct {
	engine       *gin.Engine
	appointments *repotest.Appointments
	patient      *model.Profile
	staff        *model.Profile
	admin        *model.Profile
	service      *model.Service
	retired      *model.Service
	gateway      *stubGateway
	ready        error
}

func newApp(t *testing.T) *app {
	t.Helper()
	a := &app{
		appointments: repotest.NewAppointments(),
		patient:      &model.Profile{Base: model.Base{ID: uuid.New()}, Email: "pat@example.com", FullName: "Pat Doe", Role: model.RolePatient},
		staff:        &model.Profile{Base: model.Base{ID: uuid.New()}, FullName: "Dr. Rao", Role: model.RoleStaff},
		admin:        &model.Profile{Base: model.Base{ID: uuid.New()}, Role: model.RoleAdmin},
		service:      &model.Service{Base: model.Base{ID: uuid.New()}, Name: "Consultation", Duration: 30, Price: 800, Currency: "INR", IsActive: true},
		retired:      &model.Service{Base: model.Base{ID: uuid.New()}, Name: "Retired", Duration: 30, Currency: "INR"},
		gateway:      &stubGateway{events: map[string]*payment.WebhookEvent{}},
	}

	profiles := repotest.NewProfiles(a.patient, a.staff, a.admin)
	services := repotest.NewServices(a.service, a.retired)
	policy := authz.NewPolicy(profiles, time.Minute)
	auth := middleware.NewAuthMiddleware(middleware.AuthConfig{Secret: testSecret}, policy)
	clock := func() time.Time { return time.Date(2030, 1, 1, 8, 0, 0, 0, time.UTC) }

	appointmentSvc := appointment.NewService(a.appointments, services, profiles,
		availability.NewChecker(a.appointments), event.Nop(), metrics.NewNop(), time.UTC).WithClock(clock)
	paymentSvc := payment.NewService(a.appointments, services, profiles, repotest.NewWebhookEvents(),
		a.gateway, event.Nop(), metrics.NewNop(), logger.Nop(),
		payment.Config{Currency: "inr", AppURL: "https://clinic.example", Location: time.UTC, Refund: payment.DefaultRefundPolicy()}).WithClock(clock)

	healthH := health.NewHandler(map[string]health.Check{
		"database": func(context.Context) error { return a.ready },
	})
	r := NewRouter(auth, healthH, prometheus.New(prom.NewRegistry()), RouterConfig{
		CORSConfig: middleware.DefaultCORSConfig([]string{"https://clinic.example"}),
		Security:   middleware.DefaultSecurityConfig(),
	},
		appointmenth.NewHandler(appointmentSvc),
		catalogh.NewHandler(catalog.NewService(services, a.appointments)),
		availabilityh.NewHandler(availability.NewService(repotest.NewAvailability(), profiles)),
		profileh.NewHandler(profile.NewService(profiles), policy),
		paymenth.NewHandler(paymentSvc, logger.Nop()),
	)
	r.Setup()
	a.engine = r.Engine()
	return a
}

func bearer(t *testing.T, sub uuid.UUID) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &middleware.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + tok
}

func (a *app) do(t *testing.T, method, path string, as *model.Profile, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != nil {
		req.Header.Set("Authorization", bearer(t, as.ID))
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func TestHealthAndMetrics(t *testing.T) {
	a := newApp(t)

	w := a.do(t, http.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"UP","checks":{"database":"UP"}}`, w.Body.String())

	a.ready = errors.New("connection refused")
	w = a.do(t, http.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"status":"DOWN","checks":{"database":"connection refused"}}`, w.Body.String())

	w = a.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `http_requests_total{method="GET",path="/health/ready",status="503"} 1`)
}

func TestServices_PublicListHidesInactive(t *testing.T) {
	a := newApp(t)

	names := func(w *httptest.ResponseRecorder) []string {
		var body struct {
			Data []model.Service `json:"data"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		var out []string
		for _, s := range body.Data {
			out = append(out, s.Name)
		}
		return out
	}

	w := a.do(t, http.MethodGet, "/api/services?include_inactive=true", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"Consultation"}, names(w))

	w = a.do(t, http.MethodGet, "/api/services?include_inactive=true", a.patient, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"Consultation"}, names(w))

	w = a.do(t, http.MethodGet, "/api/services?include_inactive=true", a.admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.ElementsMatch(t, []string{"Consultation", "Retired"}, names(w))

	w = a.do(t, http.MethodGet, "/api/services/"+a.service.ID.String(), nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServices_WritesAreAdminOnly(t *testing.T) {
	a := newApp(t)
	req := map[string]interface{}{"name": "Cleaning", "duration": 45, "price": 1200}

	assert.Equal(t, http.StatusUnauthorized, a.do(t, http.MethodPost, "/api/services", nil, req).Code)
	assert.Equal(t, http.StatusForbidden, a.do(t, http.MethodPost, "/api/services", a.patient, req).Code)

	w := a.do(t, http.MethodPost, "/api/services", a.admin, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "Service created successfully", decode(t, w)["message"])

	w = a.do(t, http.MethodPost, "/api/services", a.admin, map[string]interface{}{"duration": 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotEmpty(t, decode(t, w)["fields"])
}

func TestAppointments_BookAndCheckout(t *testing.T) {
	a := newApp(t)
	book := map[string]interface{}{
		"staff_id":         a.staff.ID.String(),
		"service_id":       a.service.ID.String(),
		"appointment_date": "2030-01-15",
		"start_time":       "10:00",
	}

	w := a.do(t, http.MethodPost, "/api/appointments", a.patient, book)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "Appointment booked successfully", body["message"])
	aptID := body["data"].(map[string]interface{})["id"].(string)

	// Same staff and time is taken now.
	w = a.do(t, http.MethodPost, "/api/appointments", a.patient, book)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.do(t, http.MethodGet, "/api/appointments/"+aptID, a.patient, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = a.do(t, http.MethodGet, "/api/appointments/not-a-uuid", a.patient, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodPost, "/api/create-checkout-session", a.patient, map[string]interface{}{
		"appointmentId": aptID,
		"serviceId":     a.service.ID.String(),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "cs_"+aptID, decode(t, w)["sessionId"])

	// Patients cannot delete; admins can.
	assert.Equal(t, http.StatusForbidden, a.do(t, http.MethodDelete, "/api/appointments/"+aptID, a.patient, nil).Code)
	assert.Equal(t, http.StatusNoContent, a.do(t, http.MethodDelete, "/api/appointments/"+aptID, a.admin, nil).Code)
	assert.Equal(t, 0, a.appointments.Len())
}

func TestRefund_NotPaidIsInvalidState(t *testing.T) {
	a := newApp(t)
	w := a.do(t, http.MethodPost, "/api/appointments", a.patient, map[string]interface{}{
		"staff_id":         a.staff.ID.String(),
		"service_id":       a.service.ID.String(),
		"appointment_date": "2030-01-20",
		"start_time":       "11:00",
		"payment_option":   "pay_later",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	aptID := decode(t, w)["data"].(map[string]interface{})["id"].(string)

	w = a.do(t, http.MethodPost, "/api/refund-appointment", a.patient, map[string]interface{}{"appointmentId": aptID})
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Equal(t, http.StatusUnauthorized, a.do(t, http.MethodPost, "/api/refund-appointment", nil, map[string]interface{}{"appointmentId": aptID}).Code)
}

func TestProfile_CreateThenRead(t *testing.T) {
	a := newApp(t)
	newcomer := &model.Profile{Base: model.Base{ID: uuid.New()}}

	// No profile row yet.
	assert.Equal(t, http.StatusUnauthorized, a.do(t, http.MethodGet, "/api/profile", newcomer, nil).Code)

	w := a.do(t, http.MethodPost, "/api/profile", newcomer, map[string]interface{}{"email": "New@Example.com", "full_name": "New Person"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = a.do(t, http.MethodGet, "/api/profile", newcomer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "new@example.com", data["email"])
	assert.Equal(t, "patient", data["role"])

	w = a.do(t, http.MethodPatch, "/api/profile", newcomer, map[string]interface{}{"full_name": "Renamed"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Renamed", decode(t, w)["data"].(map[string]interface{})["full_name"])

	w = a.do(t, http.MethodGet, "/api/users?role=staff", newcomer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["data"], 1)
	assert.Equal(t, http.StatusBadRequest, a.do(t, http.MethodGet, "/api/users?role=owner", a.admin, nil).Code)
}

func TestAvailability(t *testing.T) {
	a := newApp(t)
	slot := map[string]interface{}{
		"staff_id":    a.staff.ID.String(),
		"day_of_week": "monday",
		"start_time":  "09:00",
		"end_time":    "17:00",
	}

	assert.Equal(t, http.StatusForbidden, a.do(t, http.MethodPost, "/api/availability", a.patient, slot).Code)
	w := a.do(t, http.MethodPost, "/api/availability", a.staff, slot)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = a.do(t, http.MethodGet, "/api/availability?staff_id="+a.staff.ID.String(), nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["data"], 1)
}

func TestStripeWebhook(t *testing.T) {
	a := newApp(t)
	a.gateway.events["good"] = &payment.WebhookEvent{ID: "evt_1", Type: "customer.created"}

	post := func(signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/stripe-webhook", strings.NewReader(`{}`))
		if signature != "" {
			req.Header.Set("Stripe-Signature", signature)
		}
		w := httptest.NewRecorder()
		a.engine.ServeHTTP(w, req)
		return w
	}

	w := post("")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"No signature provided"}`, w.Body.String())

	w = post("forged")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Webhook signature verification failed"}`, w.Body.String())

	w = post("good")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"received":true}`, w.Body.String())
}
