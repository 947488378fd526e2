package routes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/example/autocatalog/internal/config"
	"github.com/example/autocatalog/internal/database"
	"github.com/example/autocatalog/internal/models"
	"github.com/example/autocatalog/internal/storage"
	"github.com/example/autocatalog/internal/utils"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")

type envelope struct {
	Success    bool                `json:"success"`
	Message    string              `json:"message"`
	Data       json.RawMessage     `json:"data"`
	Errors     map[string][]string `json:"errors"`
	Pagination *utils.PageMeta     `json:"pagination"`
}

type testServer struct {
	t   *testing.T
	app *fiber.App
	db  *gorm.DB
	cfg *config.Config
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := database.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared&_fk=1", uuid.NewString())), "silent")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := &config.Config{
		JWTSecret:       "test-secret",
		JWTTTLHours:     1,
		JWTRefreshHours: 24,
		StorageRoot:     t.TempDir(),
		BodyLimitMB:     16,
	}
	store, err := storage.NewLocalStore(cfg.StorageRoot, "http://cdn.test")
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	return &testServer{t: t, app: NewApp(cfg, db, store), db: db, cfg: cfg}
}

func (s *testServer) do(req *http.Request, token string) (int, envelope) {
	s.t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := s.app.Test(req, -1)
	if err != nil {
		s.t.Fatalf("%s %s: %v", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	var env envelope
	if len(body) > 0 {
		if err := json.Unmarshal(body, &env); err != nil {
			s.t.Fatalf("%s %s: decode %q: %v", req.Method, req.URL, body, err)
		}
	}
	return resp.StatusCode, env
}

func (s *testServer) call(method, target string, payload interface{}, token string) (int, envelope) {
	s.t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			s.t.Fatalf("marshal: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, body)
	req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)
	return s.do(req, token)
}

// form sends fields as a multipart body.
func (s *testServer) form(method, target string, fields map[string]string, token string) (int, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			s.t.Fatalf("write field: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		s.t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return s.do(req, token)
}

// createUser stores a user with role directly.
func (s *testServer) createUser(name string, role models.Role) models.User {
	s.t.Helper()
	hash, err := utils.HashPassword("password123")
	if err != nil {
		s.t.Fatalf("hash: %v", err)
	}
	user := models.User{Name: name, Email: uuid.NewString() + "@example.com", PasswordHash: hash, Role: role}
	if err := s.db.Create(&user).Error; err != nil {
		s.t.Fatalf("create user: %v", err)
	}
	return user
}

// login creates a user with role and returns a bearer token for it.
func (s *testServer) login(role models.Role) string {
	s.t.Helper()
	user := s.createUser("Test", role)

	status, env := s.call("POST", "/api/auth/login", fiber.Map{"email": user.Email, "password": "password123"}, "")
	if status != fiber.StatusOK {
		s.t.Fatalf("login status = %d (%s)", status, env.Message)
	}
	var token struct {
		AccessToken string `json:"access_token"`
	}
	decode(s.t, env.Data, &token)
	return token.AccessToken
}

func (s *testServer) createBrand(token, name string) models.Brand {
	s.t.Helper()
	status, env := s.call("POST", "/api/brands", fiber.Map{"name": name}, token)
	if status != fiber.StatusCreated {
		s.t.Fatalf("create brand status = %d (%v)", status, env.Errors)
	}
	var brand models.Brand
	decode(s.t, env.Data, &brand)
	return brand
}

func decode(t *testing.T, raw json.RawMessage, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	status, env := s.call("GET", "/api/health", nil, "")
	if status != fiber.StatusOK || !env.Success {
		t.Errorf("health = %d %+v", status, env)
	}
}

func TestCarLifecycle(t *testing.T) {
	s := newTestServer(t)
	admin := s.login(models.RoleAdmin)
	brand := s.createBrand(admin, "Mansory")

	payload := fiber.Map{
		"brand_id": brand.ID,
		"name":     "Test GT",
		"status":   "available",
		"price":    "125000.50",
		"currency": "eur",
		"vin":      "WDB1234",
		"specifications": []fiber.Map{
			{"label": "Top Speed", "value": "330", "unit": "km/h"},
		},
	}
	status, env := s.call("POST", "/api/cars", payload, admin)
	if status != fiber.StatusCreated {
		t.Fatalf("create status = %d (%s %v)", status, env.Message, env.Errors)
	}
	var car models.Car
	decode(t, env.Data, &car)
	if car.Slug != "test-gt" || car.FormattedPrice != "125,000.50 EUR" {
		t.Errorf("car = %s %s", car.Slug, car.FormattedPrice)
	}
	if len(car.Specifications) != 1 || car.Specifications[0].SpecKey != "top_speed" {
		t.Errorf("specifications = %+v", car.Specifications)
	}

	payload["name"] = "Another GT"
	status, env = s.call("POST", "/api/cars", payload, admin)
	if status != fiber.StatusUnprocessableEntity || len(env.Errors["vin"]) == 0 {
		t.Errorf("duplicate vin = %d %v", status, env.Errors)
	}

	status, env = s.call("GET", "/api/cars/"+car.ID.String(), nil, "")
	if status != fiber.StatusOK {
		t.Fatalf("get status = %d", status)
	}
	var shown models.Car
	decode(t, env.Data, &shown)
	if shown.ViewCount != 1 {
		t.Errorf("view_count = %d, want 1", shown.ViewCount)
	}

	status, env = s.call("PUT", "/api/cars/"+car.ID.String(), fiber.Map{"status": "sold", "specifications": []fiber.Map{}}, admin)
	if status != fiber.StatusOK {
		t.Fatalf("update status = %d (%v)", status, env.Errors)
	}
	var updated models.Car
	decode(t, env.Data, &updated)
	if updated.Status != models.CarStatusSold || len(updated.Specifications) != 0 {
		t.Errorf("updated = %s specs=%d", updated.Status, len(updated.Specifications))
	}

	status, env = s.call("GET", "/api/cars?status=sold&search=TEST", nil, "")
	if status != fiber.StatusOK || env.Pagination == nil || env.Pagination.Total != 1 {
		t.Errorf("list = %d %+v", status, env.Pagination)
	}

	if status, _ := s.call("DELETE", "/api/cars/"+car.ID.String(), nil, admin); status != fiber.StatusOK {
		t.Errorf("delete status = %d", status)
	}
	if status, _ := s.call("GET", "/api/cars/"+car.ID.String(), nil, ""); status != fiber.StatusNotFound {
		t.Errorf("get deleted car status = %d, want 404", status)
	}
}

func TestCreateCarMultipart(t *testing.T) {
	s := newTestServer(t)
	admin := s.login(models.RoleAdmin)
	brand := s.createBrand(admin, "Brabus")

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := map[string]string{
		"brand_id":       brand.ID.String(),
		"name":           "Rocket 900",
		"status":         "reserved",
		"price":          "390000",
		"doors":          "2",
		"is_featured":    "true",
		"specifications": `[{"label":"Torque","value":"1250","unit":"Nm","category":"engine"}]`,
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		part, err := w.CreateFormFile("images[]", fmt.Sprintf("photo-%d.png", i))
		if err != nil {
			t.Fatalf("create file: %v", err)
		}
		part.Write(pngBytes)
	}
	w.Close()

	req := httptest.NewRequest("POST", "/api/cars", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	status, env := s.do(req, admin)
	if status != fiber.StatusCreated {
		t.Fatalf("status = %d (%s %v)", status, env.Message, env.Errors)
	}

	var car models.Car
	decode(t, env.Data, &car)
	if car.Status != models.CarStatusReserved || !car.IsFeatured || car.Doors == nil || *car.Doors != 2 {
		t.Errorf("car = %+v", car)
	}
	if len(car.Images) != 2 || car.PrimaryImage == nil || car.PrimaryImage.ID != car.Images[0].ID {
		t.Fatalf("images = %+v", car.Images)
	}
	if len(car.Specifications) != 1 || car.Specifications[0].SpecCategory != "engine" {
		t.Errorf("specifications = %+v", car.Specifications)
	}

	status, env = s.call("PUT", fmt.Sprintf("/api/cars/%s/images/%s/primary", car.ID, car.Images[1].ID), nil, admin)
	if status != fiber.StatusOK {
		t.Fatalf("set primary status = %d (%s)", status, env.Message)
	}
	status, env = s.call("GET", "/api/cars/"+car.ID.String(), nil, "")
	if status != fiber.StatusOK {
		t.Fatalf("get status = %d", status)
	}
	var reloaded models.Car
	decode(t, env.Data, &reloaded)
	if reloaded.PrimaryImage == nil || reloaded.PrimaryImage.ID != car.Images[1].ID {
		t.Errorf("primary image not switched")
	}
}

func TestBrandValidation(t *testing.T) {
	s := newTestServer(t)
	admin := s.login(models.RoleAdmin)
	s.createBrand(admin, "Smart")

	status, env := s.call("POST", "/api/brands", fiber.Map{"name": "Smart"}, admin)
	if status != fiber.StatusUnprocessableEntity || len(env.Errors["name"]) == 0 {
		t.Errorf("duplicate brand = %d %v", status, env.Errors)
	}

	status, env = s.call("GET", "/api/brands", nil, "")
	if status != fiber.StatusOK {
		t.Fatalf("list status = %d", status)
	}
	var brands []models.Brand
	decode(t, env.Data, &brands)
	if len(brands) != 1 || brands[0].CarsCount == nil || *brands[0].CarsCount != 0 {
		t.Errorf("brands = %+v", brands)
	}
}

func TestAccessControl(t *testing.T) {
	s := newTestServer(t)
	user := s.login(models.RoleUser)
	admin := s.login(models.RoleAdmin)

	tests := []struct {
		name   string
		method string
		target string
		token  string
		want   int
	}{
		{"anonymous create", "POST", "/api/cars", "", fiber.StatusUnauthorized},
		{"garbage token", "POST", "/api/cars", "not-a-jwt", fiber.StatusUnauthorized},
		{"user create", "POST", "/api/cars", user, fiber.StatusForbidden},
		{"user brand delete", "DELETE", "/api/brands/" + uuid.NewString(), user, fiber.StatusForbidden},
		{"user dashboard", "GET", "/api/admin/stats", user, fiber.StatusForbidden},
		{"admin dashboard", "GET", "/api/admin/stats", admin, fiber.StatusOK},
		{"admin users", "GET", "/api/admin/users", admin, fiber.StatusOK},
		{"public list", "GET", "/api/cars", "", fiber.StatusOK},
		{"profile", "GET", "/api/auth/me", user, fiber.StatusOK},
		{"anonymous profile", "GET", "/api/auth/me", "", fiber.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := s.call(tt.method, tt.target, fiber.Map{}, tt.token)
			if status != tt.want {
				t.Errorf("status = %d, want %d (%s)", status, tt.want, env.Message)
			}
		})
	}
}

func TestLogout(t *testing.T) {
	s := newTestServer(t)
	token := s.login(models.RoleUser)

	if status, _ := s.call("POST", "/api/auth/logout", nil, token); status != fiber.StatusOK {
		t.Fatalf("logout status = %d", status)
	}
	if status, _ := s.call("GET", "/api/auth/me", nil, token); status != fiber.StatusUnauthorized {
		t.Errorf("revoked token status = %d, want 401", status)
	}
}

func TestRequestErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		target string
		want   int
		field  string
	}{
		{"unknown sort column", "/api/cars?sort_by=password", fiber.StatusUnprocessableEntity, "sort_by"},
		{"bad sort order", "/api/cars?sort_order=up", fiber.StatusUnprocessableEntity, "sort_order"},
		{"bad brand filter", "/api/cars?brand_id=nope", fiber.StatusUnprocessableEntity, "brand_id"},
		{"bad price filter", "/api/cars?min_price=cheap", fiber.StatusUnprocessableEntity, "min_price"},
		{"bad id", "/api/cars/not-a-uuid", fiber.StatusBadRequest, ""},
		{"unknown car", "/api/cars/" + uuid.NewString(), fiber.StatusNotFound, ""},
		{"unknown brand", "/api/brands/" + uuid.NewString() + "/cars", fiber.StatusNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := s.call("GET", tt.target, nil, "")
			if status != tt.want {
				t.Errorf("status = %d, want %d", status, tt.want)
			}
			if env.Success {
				t.Errorf("success = true on an error response")
			}
			if tt.field != "" && len(env.Errors[tt.field]) == 0 {
				t.Errorf("errors = %v, want %s", env.Errors, tt.field)
			}
		})
	}
}

func TestCarMultipartBlankFields(t *testing.T) {
	s := newTestServer(t)
	admin := s.login(models.RoleAdmin)
	brand := s.createBrand(admin, "Ruf")

	status, env := s.form("POST", "/api/cars", map[string]string{
		"brand_id":       brand.ID.String(),
		"name":           "Blank GT",
		"status":         "available",
		"price":          "150000",
		"doors":          "",
		"seats":          "",
		"mileage":        "",
		"description":    "",
		"is_featured":    "",
		"specifications": "",
	}, admin)
	if status != fiber.StatusCreated {
		t.Fatalf("create status = %d (%s %v)", status, env.Message, env.Errors)
	}
	var car models.Car
	decode(t, env.Data, &car)
	if car.Doors != nil || car.Seats != nil || car.Mileage != nil || car.Description != nil {
		t.Errorf("blank fields stored: doors=%v seats=%v mileage=%v description=%v", car.Doors, car.Seats, car.Mileage, car.Description)
	}

	status, env = s.form("PUT", "/api/cars/"+car.ID.String(), map[string]string{
		"name":    "",
		"price":   "",
		"doors":   "4",
		"seats":   "",
		"mileage": " ",
	}, admin)
	if status != fiber.StatusOK {
		t.Fatalf("update status = %d (%s %v)", status, env.Message, env.Errors)
	}
	var updated models.Car
	decode(t, env.Data, &updated)
	if updated.Name != "Blank GT" || !updated.Price.Equal(car.Price) {
		t.Errorf("blank update changed name/price: %s %s", updated.Name, updated.Price)
	}
	if updated.Doors == nil || *updated.Doors != 4 || updated.Seats != nil || updated.Mileage != nil {
		t.Errorf("updated = doors=%v seats=%v mileage=%v", updated.Doors, updated.Seats, updated.Mileage)
	}

	status, env = s.form("PUT", "/api/brands/"+brand.ID.String(), map[string]string{"description": "", "is_active": ""}, admin)
	if status != fiber.StatusOK {
		t.Fatalf("brand update status = %d (%s %v)", status, env.Message, env.Errors)
	}
	var updatedBrand models.Brand
	decode(t, env.Data, &updatedBrand)
	if updatedBrand.Description != nil || !updatedBrand.IsActive {
		t.Errorf("brand = %+v", updatedBrand)
	}
}

func TestBodyTypeErrors(t *testing.T) {
	s := newTestServer(t)
	admin := s.login(models.RoleAdmin)
	brand := s.createBrand(admin, "Gemballa")

	base := func() map[string]string {
		return map[string]string{
			"brand_id": brand.ID.String(),
			"name":     "Avalanche",
			"status":   "available",
			"price":    "900000",
		}
	}
	jsonBody := func(key string, value interface{}) fiber.Map {
		body := fiber.Map{}
		for k, v := range base() {
			body[k] = v
		}
		body[key] = value
		return body
	}
	formBody := func(key, value string) map[string]string {
		body := base()
		body[key] = value
		return body
	}

	tests := []struct {
		name  string
		send  func() (int, envelope)
		field string
	}{
		{"json price", func() (int, envelope) { return s.call("POST", "/api/cars", jsonBody("price", "abc"), admin) }, "price"},
		{"json doors", func() (int, envelope) { return s.call("POST", "/api/cars", jsonBody("doors", "four"), admin) }, "doors"},
		{"json featured flag", func() (int, envelope) { return s.call("POST", "/api/cars", jsonBody("is_featured", "yes"), admin) }, "is_featured"},
		{"form price", func() (int, envelope) { return s.form("POST", "/api/cars", formBody("price", "abc"), admin) }, "price"},
		{"form doors", func() (int, envelope) { return s.form("POST", "/api/cars", formBody("doors", "four"), admin) }, "doors"},
		{"form brand flag", func() (int, envelope) {
			return s.form("POST", "/api/brands", map[string]string{"name": "Hamann", "is_active": "maybe"}, admin)
		}, "is_active"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := tt.send()
			if status != fiber.StatusUnprocessableEntity {
				t.Fatalf("status = %d, want 422 (%s)", status, env.Message)
			}
			if len(env.Errors[tt.field]) == 0 {
				t.Errorf("errors = %v, want %s", env.Errors, tt.field)
			}
		})
	}

	req := httptest.NewRequest("POST", "/api/cars", bytes.NewReader([]byte(`{"name":`)))
	req.Header.Set("Content-Type", fiber.MIMEApplicationJSON)
	if status, _ := s.do(req, admin); status != fiber.StatusBadRequest {
		t.Errorf("malformed json status = %d, want 400", status)
	}
}

func TestAdminUserSearch(t *testing.T) {
	s := newTestServer(t)
	admin := s.login(models.RoleAdmin)
	s.createUser("Ann_Lee", models.RoleUser)
	s.createUser("Ann Lee", models.RoleUser)
	s.createUser("Max 100%", models.RoleUser)

	tests := []struct {
		search string
		want   int64
	}{
		{"n_l", 1},
		{"100%", 1},
		{"%", 1},
		{"ANN", 2},
	}
	for _, tt := range tests {
		t.Run(tt.search, func(t *testing.T) {
			status, env := s.call("GET", "/api/admin/users?search="+url.QueryEscape(tt.search), nil, admin)
			if status != fiber.StatusOK || env.Pagination == nil {
				t.Fatalf("status = %d %+v", status, env.Pagination)
			}
			if env.Pagination.Total != tt.want {
				t.Errorf("total = %d, want %d", env.Pagination.Total, tt.want)
			}
		})
	}
}

func TestRefreshExpiredToken(t *testing.T) {
	s := newTestServer(t)
	user := s.createUser("Sleepy", models.RoleUser)

	expired, _, err := utils.GenerateToken(s.cfg.JWTSecret, user.ID, string(models.RoleUser), -time.Minute)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	if status, _ := s.call("GET", "/api/auth/me", nil, expired); status != fiber.StatusUnauthorized {
		t.Errorf("expired token on /me status = %d, want 401", status)
	}

	status, env := s.call("POST", "/api/auth/refresh", nil, expired)
	if status != fiber.StatusOK {
		t.Fatalf("refresh status = %d (%s)", status, env.Message)
	}
	var token struct {
		AccessToken string `json:"access_token"`
	}
	decode(t, env.Data, &token)
	if status, _ := s.call("GET", "/api/auth/me", nil, token.AccessToken); status != fiber.StatusOK {
		t.Errorf("refreshed token on /me status = %d, want 200", status)
	}

	if status, _ := s.call("POST", "/api/auth/refresh", nil, expired); status != fiber.StatusUnauthorized {
		t.Errorf("second refresh status = %d, want 401", status)
	}
	if status, _ := s.call("POST", "/api/auth/refresh", nil, ""); status != fiber.StatusUnauthorized {
		t.Errorf("refresh without token status = %d, want 401", status)
	}
}
