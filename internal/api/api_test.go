package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/siamfx/naga/internal/aggregate"
	"github.com/siamfx/naga/internal/backoffice"
	"github.com/siamfx/naga/internal/domain"
	"github.com/siamfx/naga/internal/excel"
	"github.com/siamfx/naga/internal/fact"
	"github.com/siamfx/naga/internal/report"
	"github.com/siamfx/naga/internal/repository"
	"github.com/siamfx/naga/internal/reservation"
	"github.com/siamfx/naga/internal/rules"
	"github.com/siamfx/naga/internal/sequence"
)

// createTestServer wires a full service over a temp sqlite database.
func createTestServer(t *testing.T) (*Server, domain.Repository) {
	t.Helper()
	tmpFile, err := os.CreateTemp(t.TempDir(), "naga-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()

	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: tmpPath})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	clock := domain.SystemClock{}
	agg := aggregate.New(repo, clock, nil)
	norm := fact.NewNormalizer(repo, agg, nil)
	coord := rules.NewCoordinator(repo, nil, decimal.NewFromInt(50000), nil)
	seq := sequence.New(repo, clock)
	resStore := reservation.NewStore(repo, seq, nil, clock, nil)
	cfg := domain.ComplianceConfig{PendingWindowHours: 72}
	mat := report.NewMaterializer(repo, coord, norm, seq, resStore, nil, nil, clock, cfg, nil)
	exporter := excel.NewBuilder(repo, "", nil)
	svc := backoffice.New(repo, coord, norm, resStore, mat, exporter, nil)

	serverCfg := domain.ServerConfig{Host: "localhost", Port: 8080, ReadTimeout: 30, WriteTimeout: 30}
	return NewServer(serverCfg, svc, repo, nil, nil, "test-v1"), repo
}

func seedServer(t *testing.T, repo domain.Repository, server *Server) {
	t.Helper()
	ctx := context.Background()
	if err := repo.SaveBranch(ctx, &domain.Branch{ID: "BKK01", Code: "A005", Name: "สาขาสีลม"}); err != nil {
		t.Fatalf("SaveBranch failed: %v", err)
	}
	rule := &domain.TriggerRule{
		ReportType: domain.ReportAMLOCTR,
		Name:       "cash threshold",
		Priority:   10,
		IsActive:   true,
		Expression: &domain.RuleNode{Field: "total_amount", Operator: domain.OpGte, Value: float64(2000000)},
		Message:    domain.Message{EN: "CTR threshold reached"},
	}
	if err := repo.SaveRule(ctx, rule); err != nil {
		t.Fatalf("SaveRule failed: %v", err)
	}
}

func doJSON(t *testing.T, server *Server, method, path string, body any, branch string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if branch != "" {
		req.Header.Set(BranchIDHeader, branch)
	}
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func bigBuyRequest() TransactionRequest {
	return TransactionRequest{
		CustomerID:    "C-1001",
		Currency:      "USD",
		Direction:     domain.DirectionBuy,
		PaymentMethod: domain.PaymentCash,
		AmountForeign: decimal.NewFromInt(100000),
		Rate:          decimal.RequireFromString("35.6500"),
	}
}

func TestHealthEndpoints(t *testing.T) {
	server, _ := createTestServer(t)

	rr := doJSON(t, server, http.MethodGet, "/health", nil, "")
	if rr.Code != http.StatusOK {
		t.Errorf("health status = %d", rr.Code)
	}
	var health map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health["status"] != "healthy" || health["version"] != "test-v1" {
		t.Errorf("health = %v", health)
	}

	rr = doJSON(t, server, http.MethodGet, "/ready", nil, "")
	if rr.Code != http.StatusOK {
		t.Errorf("ready status = %d", rr.Code)
	}
}

func TestBranchHeaderRequired(t *testing.T) {
	server, _ := createTestServer(t)

	rr := doJSON(t, server, http.MethodPost, "/triggers/check", bigBuyRequest(), "")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 without X-Branch-ID", rr.Code)
	}
}

func TestCheckTriggersEndpoint(t *testing.T) {
	server, repo := createTestServer(t)
	seedServer(t, repo, server)

	t.Run("SingleFamily", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/triggers/AMLO-1-01/check", bigBuyRequest(), "BKK01")
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
		}
		var d domain.Decision
		if err := json.Unmarshal(rr.Body.Bytes(), &d); err != nil {
			t.Fatalf("decode decision: %v", err)
		}
		if !d.Triggered || d.RuleName != "cash threshold" {
			t.Errorf("decision = %+v", d)
		}
	})

	t.Run("AllFamilies", func(t *testing.T) {
		// EUR has no posted rate, so the BOT families must degrade while
		// the AMLO check still runs on the THB amount.
		req := bigBuyRequest()
		req.Currency = "EUR"
		rr := doJSON(t, server, http.MethodPost, "/triggers/check", req, "BKK01")
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
		}
		var byFamily map[domain.ReportType]*domain.Decision
		if err := json.Unmarshal(rr.Body.Bytes(), &byFamily); err != nil {
			t.Fatalf("decode decisions: %v", err)
		}
		if len(byFamily) != 6 {
			t.Fatalf("families = %d, want 6", len(byFamily))
		}
		if !byFamily[domain.ReportAMLOCTR].Triggered {
			t.Error("expected AMLO-1-01 trigger")
		}
		if byFamily[domain.ReportBOTBuyFX].Reason != "rate_unavailable" {
			t.Errorf("BOT reason = %q", byFamily[domain.ReportBOTBuyFX].Reason)
		}
	})

	t.Run("InvalidBody", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/triggers/check", map[string]string{"currency": "USD"}, "BKK01")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rr.Code)
		}
	})
}

func TestReservationEndpoints(t *testing.T) {
	server, repo := createTestServer(t)
	seedServer(t, repo, server)

	rr := doJSON(t, server, http.MethodPost, "/reservations", CreateReservationRequest{
		ReportType:  domain.ReportAMLOCTR,
		OperatorID:  "op-1",
		FormData:    map[string]any{"maker_name": "สมชาย ใจดี"},
		Transaction: bigBuyRequest(),
	}, "BKK01")
	if rr.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rr.Code, rr.Body.String())
	}
	var res domain.Reservation
	if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode reservation: %v", err)
	}
	if res.Status != domain.ReservationPending {
		t.Errorf("status = %s", res.Status)
	}

	t.Run("Get", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/reservations/"+res.ID, nil, "BKK01")
		if rr.Code != http.StatusOK {
			t.Errorf("get status = %d", rr.Code)
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/reservations/nope", nil, "BKK01")
		if rr.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rr.Code)
		}
	})

	t.Run("RejectWithoutReasonConflicts", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/reservations/"+res.ID+"/audit", AuditRequest{
			Action: domain.AuditReject, Auditor: "aud-1",
		}, "BKK01")
		if rr.Code != http.StatusConflict {
			t.Errorf("status = %d, want 409: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("Approve", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/reservations/"+res.ID+"/audit", AuditRequest{
			Action: domain.AuditApprove, Auditor: "aud-1", Note: "ok",
		}, "BKK01")
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("BadSignature", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/reservations/"+res.ID+"/signatures", SignatureRequest{
			Kind: domain.SignatureCustomer, Payload: "not-a-data-url",
		}, "BKK01")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rr.Code)
		}
	})

	t.Run("List", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/reservations?status=approved", nil, "BKK01")
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d", rr.Code)
		}
		var page domain.ReservationPage
		if err := json.Unmarshal(rr.Body.Bytes(), &page); err != nil {
			t.Fatalf("decode page: %v", err)
		}
		if page.Total != 1 {
			t.Errorf("total = %d", page.Total)
		}
	})
}

func TestMaterializeAndExportEndpoints(t *testing.T) {
	server, repo := createTestServer(t)
	seedServer(t, repo, server)
	ctx := context.Background()

	tx := &domain.ExchangeTransaction{
		ID: "tx-api-1", BranchID: "BKK01",
		CustomerID:    "C-1001",
		Currency:      "USD",
		Direction:     domain.DirectionBuy,
		PaymentMethod: domain.PaymentCash,
		ExchangeType:  domain.ExchangeNormal,
		AmountForeign: decimal.NewFromInt(100000),
		Rate:          decimal.RequireFromString("35.6500"),
		AmountLocal:   decimal.RequireFromString("3565000.00"),
		Status:        domain.TransactionCompleted,
		CreatedAt:     time.Now().UTC(),
	}
	if err := repo.SaveTransaction(ctx, tx); err != nil {
		t.Fatalf("SaveTransaction failed: %v", err)
	}

	rr := doJSON(t, server, http.MethodPost, "/transactions/tx-api-1/materialize", nil, "BKK01")
	if rr.Code != http.StatusOK {
		t.Fatalf("materialize status = %d: %s", rr.Code, rr.Body.String())
	}
	var result domain.MaterializeResult
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if len(result.AMLO) != 1 {
		t.Fatalf("AMLO reports = %d", len(result.AMLO))
	}

	t.Run("MaterializeMissing", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/transactions/nope/materialize", nil, "BKK01")
		if rr.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rr.Code)
		}
	})

	t.Run("ListReports", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/reports?unreported=true", nil, "BKK01")
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d", rr.Code)
		}
	})

	t.Run("ExportEmptyVariant", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/exports/bot/SellFX?date=2026-03-14", nil, "BKK01")
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
		}
		if ct := rr.Header().Get("Content-Type"); ct != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
			t.Errorf("content type = %q", ct)
		}
		if rr.Body.Len() == 0 {
			t.Error("empty workbook body")
		}
	})

	t.Run("ExportBadDate", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/exports/bot/BuyFX?date=14-03-2026", nil, "BKK01")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rr.Code)
		}
	})
}

func TestRuleEndpoints(t *testing.T) {
	server, repo := createTestServer(t)
	seedServer(t, repo, server)

	t.Run("List", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/rules", nil, "BKK01")
		if rr.Code != http.StatusOK {
			t.Fatalf("status = %d", rr.Code)
		}
	})

	t.Run("CreateRejectsUnknownField", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/rules", map[string]any{
			"report_type": "AMLO-1-01",
			"name":        "bad",
			"is_active":   true,
			"expression":  map[string]any{"field": "no_such_field", "operator": ">=", "value": 1},
		}, "BKK01")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("CreateAndDeactivate", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodPost, "/rules", map[string]any{
			"report_type": "AMLO-1-03",
			"name":        "suspicious country",
			"is_active":   true,
			"expression":  map[string]any{"field": "customer_country", "operator": "in", "value": []string{"XX"}},
		}, "BKK01")
		if rr.Code != http.StatusCreated {
			t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
		}
		var rule domain.TriggerRule
		if err := json.Unmarshal(rr.Body.Bytes(), &rule); err != nil {
			t.Fatalf("decode rule: %v", err)
		}
		if rule.ID == 0 {
			t.Fatal("rule id not allocated")
		}

		rr = doJSON(t, server, http.MethodPost,
			"/rules/"+strconv.FormatInt(rule.ID, 10)+"/deactivate", nil, "BKK01")
		if rr.Code != http.StatusOK {
			t.Errorf("deactivate status = %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("GetMissing", func(t *testing.T) {
		rr := doJSON(t, server, http.MethodGet, "/rules/9999", nil, "BKK01")
		if rr.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rr.Code)
		}
	})
}

func TestSaveRateEndpoint(t *testing.T) {
	server, repo := createTestServer(t)
	seedServer(t, repo, server)

	rr := doJSON(t, server, http.MethodPost, "/rates", RateRequest{
		Currency: "USD",
		Date:     "2026-03-14",
		Buy:      decimal.RequireFromString("35.5000"),
		Sell:     decimal.RequireFromString("35.8000"),
	}, "BKK01")
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}

	rate, err := repo.GetRate(context.Background(), "BKK01", "USD", time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("GetRate failed: %v", err)
	}
	if !rate.Sell.Equal(decimal.RequireFromString("35.8000")) {
		t.Errorf("sell = %s", rate.Sell)
	}
}
