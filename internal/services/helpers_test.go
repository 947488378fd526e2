package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/example/autocatalog/internal/config"
	"github.com/example/autocatalog/internal/database"
	"github.com/example/autocatalog/internal/models"
	"github.com/example/autocatalog/internal/storage"
	"github.com/example/autocatalog/internal/utils"
)

var (
	pngBytes  = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00\x1f\x15\xc4\x89")
	jpegBytes = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00\x01\x01\x00\x00\x01\x00\x01\x00\x00")
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_fk=1", uuid.NewString())
	db, err := database.Open(sqlite.Open(dsn), "silent")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
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
	return db
}

func newTestStore(t *testing.T) *storage.LocalStore {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir(), "http://cdn.test")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

// flakyStore fails Put after a number of successful writes and can refuse deletes.
type flakyStore struct {
	*storage.LocalStore
	putsBeforeFailure int
	failDeletes       bool
	puts              int
}

var errInjected = errors.New("injected storage failure")

func (s *flakyStore) Put(ctx context.Context, dir string, file *multipart.FileHeader) (string, error) {
	if s.putsBeforeFailure >= 0 && s.puts >= s.putsBeforeFailure {
		return "", errInjected
	}
	s.puts++
	return s.LocalStore.Put(ctx, dir, file)
}

func (s *flakyStore) Delete(ctx context.Context, p string) error {
	if s.failDeletes {
		return errInjected
	}
	return s.LocalStore.Delete(ctx, p)
}

type recordingReconciler struct {
	mu    sync.Mutex
	ops   []string
	paths []string
}

func (r *recordingReconciler) ReportOrphans(op string, paths []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
	r.paths = append(r.paths, paths...)
}

func newFileHeader(t *testing.T, filename string, content []byte) *multipart.FileHeader {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	form, err := multipart.NewReader(&buf, w.Boundary()).ReadForm(32 << 20)
	if err != nil {
		t.Fatalf("read form: %v", err)
	}
	t.Cleanup(func() { _ = form.RemoveAll() })
	return form.File["file"][0]
}

func pngFiles(t *testing.T, n int) []*multipart.FileHeader {
	t.Helper()
	files := make([]*multipart.FileHeader, 0, n)
	for i := 0; i < n; i++ {
		files = append(files, newFileHeader(t, fmt.Sprintf("photo-%d.PNG", i), pngBytes))
	}
	return files
}

func createBrand(t *testing.T, db *gorm.DB, name string) models.Brand {
	t.Helper()
	brand := models.Brand{Name: name, Slug: utils.Slugify(name), IsActive: true}
	if err := db.Create(&brand).Error; err != nil {
		t.Fatalf("create brand: %v", err)
	}
	return brand
}

func price(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func str(v string) *string { return &v }

func intPtr(v int) *int { return &v }

func carInput(brandID uuid.UUID, name string) CreateCarInput {
	return CreateCarInput{
		BrandID: brandID.String(),
		Name:    name,
		Status:  models.CarStatusAvailable,
		Price:   price("99000"),
	}
}

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:       "test-secret",
		JWTTTLHours:     1,
		JWTRefreshHours: 24,
	}
}

func assertFields(t *testing.T, err error, fields ...string) {
	t.Helper()
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	for _, f := range fields {
		if _, ok := verr.Fields[f]; !ok {
			t.Errorf("expected error on %q, got %v", f, verr.Fields)
		}
	}
}

func assertNotFound(t *testing.T, err error) {
	t.Helper()
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func boolPtr(v bool) *bool { return &v }
