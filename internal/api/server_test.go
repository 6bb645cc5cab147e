package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"TreasuryAgent/internal/ledger"
)

type staticSource struct {
	snap ledger.Snapshot
}

func (s *staticSource) Status() ledger.Snapshot { return s.snap }

func TestHandleStatusReturnsSnapshot(t *testing.T) {
	source := &staticSource{snap: ledger.Snapshot{
		Version:           ledger.CurrentVersion,
		CommissionPoolWei: "300",
		SalePoolWei:       "1300",
		PendingBurnAmount: "0",
		LastTaxBlock:      25,
		ActiveListings:    1,
	}}
	server := NewServer(":0", source)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/api/v1/treasury/status", nil)
	server.handleStatus(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("状态码 = %d", recorder.Code)
	}
	var decoded ledger.Snapshot
	if err := json.NewDecoder(recorder.Body).Decode(&decoded); err != nil {
		t.Fatalf("解码响应失败: %v", err)
	}
	if decoded.CommissionPoolWei != "300" || decoded.SalePoolWei != "1300" {
		t.Fatalf("快照内容错误: %+v", decoded)
	}
	if decoded.ActiveListings != 1 || decoded.LastTaxBlock != 25 {
		t.Fatalf("快照内容错误: %+v", decoded)
	}
}

func TestHandleStatusRejectsNonGet(t *testing.T) {
	server := NewServer(":0", &staticSource{})

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, "/api/v1/treasury/status", nil)
	server.handleStatus(recorder, request)

	if recorder.Code != http.StatusMethodNotAllowed {
		t.Fatalf("状态码 = %d，期望 405", recorder.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	server := NewServer(":0", nil)

	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	server.handleHealth(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("状态码 = %d", recorder.Code)
	}
}
