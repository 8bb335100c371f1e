package imagecheck

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/lunore/internal/metrics"
	"github.com/hitoshi/lunore/internal/model"
	"github.com/hitoshi/lunore/internal/repository"
	"github.com/hitoshi/lunore/internal/security"
)

type imageMetrics struct {
	metrics.Nop
	mu          sync.Mutex
	reachable   int
	unreachable int
}

func (m *imageMetrics) RecordImageCheck(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ok {
		m.reachable++
	} else {
		m.unreachable++
	}
}

type failingLister struct{}

func (failingLister) List(context.Context, repository.ProductFilter) ([]*model.Product, error) {
	return nil, errors.New("db down")
}

// newImageServer は /ok, /head-not-allowed, /missing を持つ画像サーバーを起動する。
func newImageServer(t *testing.T) (*httptest.Server, *sync.Map) {
	t.Helper()
	var hits sync.Map
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n, _ := hits.LoadOrStore(r.Method+" "+r.URL.Path, new(int))
		*(n.(*int))++
		switch r.URL.Path {
		case "/ok.jpg":
			w.WriteHeader(http.StatusOK)
		case "/head-not-allowed.jpg":
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			_, _ = w.Write([]byte("jpeg"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func seedProducts(t *testing.T, products ...*model.Product) *repository.MemoryProductRepo {
	t.Helper()
	repo := repository.NewMemoryProductRepo()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, p := range products {
		p.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		p.UpdatedAt = p.CreatedAt
		if err := repo.Create(context.Background(), p); err != nil {
			t.Fatalf("Create(%s) returned error: %v", p.ID, err)
		}
	}
	return repo
}

func TestChecker_RunOnce_ReportsUnreachableImages(t *testing.T) {
	srv, hits := newImageServer(t)
	repo := seedProducts(t,
		&model.Product{ID: "p1", Image: srv.URL + "/ok.jpg", HoverImage: "/images/p1-hover.jpg", Images: []string{srv.URL + "/ok.jpg"}},
		&model.Product{ID: "p2", Image: srv.URL + "/missing.jpg", Images: []string{srv.URL + "/head-not-allowed.jpg"}},
		&model.Product{ID: "p3", Image: srv.URL + "/missing.jpg"},
		&model.Product{ID: "p4", Image: "/images/local.jpg"},
	)

	var buf bytes.Buffer
	mc := &imageMetrics{}
	checker := NewChecker(repo, srv.Client(), slog.New(slog.NewJSONHandler(&buf, nil)), mc, 2)

	report, err := checker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}

	if report.Checked != 3 {
		t.Errorf("Checked = %d, want 3 distinct external URLs", report.Checked)
	}
	if len(report.Unreachable) != 1 {
		t.Fatalf("Unreachable = %+v, want 1 entry", report.Unreachable)
	}
	u := report.Unreachable[0]
	if !strings.HasSuffix(u.URL, "/missing.jpg") {
		t.Errorf("URL = %q, want /missing.jpg", u.URL)
	}
	if len(u.ProductIDs) != 2 {
		t.Errorf("ProductIDs = %v, want both referencing products", u.ProductIDs)
	}
	if !strings.Contains(u.Reason, "404") {
		t.Errorf("Reason = %q, want status 404", u.Reason)
	}

	if mc.reachable != 2 || mc.unreachable != 1 {
		t.Errorf("metrics reachable=%d unreachable=%d, want 2/1", mc.reachable, mc.unreachable)
	}

	// 同じURLは1回だけ確認する
	if n, ok := hits.Load("HEAD /ok.jpg"); !ok || *(n.(*int)) != 1 {
		t.Errorf("HEAD /ok.jpg hits = %v, want 1", n)
	}
	// HEAD非対応ならGETで再確認する
	if _, ok := hits.Load("GET /head-not-allowed.jpg"); !ok {
		t.Error("expected GET fallback for /head-not-allowed.jpg")
	}

	if !strings.Contains(buf.String(), "商品画像に到達できません") {
		t.Errorf("unreachable image was not logged: %s", buf.String())
	}
}

func TestChecker_RunOnce_NoExternalImages(t *testing.T) {
	repo := seedProducts(t, &model.Product{ID: "p1", Image: "/images/a.jpg"})

	mc := &imageMetrics{}
	checker := NewChecker(repo, http.DefaultClient, slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)), mc, 0)

	report, err := checker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if report.Checked != 0 || len(report.Unreachable) != 0 {
		t.Errorf("report = %+v, want empty", report)
	}
	if mc.reachable+mc.unreachable != 0 {
		t.Error("no probes should be recorded")
	}
	if checker.maxConcurrency != 5 {
		t.Errorf("maxConcurrency = %d, want default 5", checker.maxConcurrency)
	}
}

func TestChecker_RunOnce_ListFailure(t *testing.T) {
	checker := NewChecker(failingLister{}, http.DefaultClient, slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)), nil, 1)

	if _, err := checker.RunOnce(context.Background()); err == nil || !strings.Contains(err.Error(), "db down") {
		t.Errorf("err = %v, want wrapped list failure", err)
	}
}

// SSRF防止クライアントはループバック上のサーバーへ接続しないことを検証する。
func TestChecker_SafeClientBlocksLoopback(t *testing.T) {
	srv, hits := newImageServer(t)
	repo := seedProducts(t, &model.Product{ID: "p1", Image: srv.URL + "/ok.jpg"})

	client := security.NewImageGuard().NewSafeClient(2 * time.Second)
	mc := &imageMetrics{}
	checker := NewChecker(repo, client, slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil)), mc, 1)

	report, err := checker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if len(report.Unreachable) != 1 {
		t.Fatalf("Unreachable = %+v, want the loopback URL", report.Unreachable)
	}
	if _, ok := hits.Load("HEAD /ok.jpg"); ok {
		t.Error("safe client must not reach the loopback server")
	}
	if mc.unreachable != 1 {
		t.Errorf("unreachable = %d, want 1", mc.unreachable)
	}
}

func TestChecker_Start_StopsOnCancel(t *testing.T) {
	repo := seedProducts(t)
	var buf bytes.Buffer
	checker := NewChecker(repo, http.DefaultClient, slog.New(slog.NewJSONHandler(&buf, nil)), nil, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		checker.Start(ctx, time.Hour)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	if !strings.Contains(buf.String(), "画像チェッカーを停止しました") {
		t.Errorf("stop was not logged: %s", buf.String())
	}
}
