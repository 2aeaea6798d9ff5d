/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"invest-ledger-go/internal/database"
	"invest-ledger-go/internal/investments"
	"invest-ledger-go/internal/models"
	"invest-ledger-go/internal/notify"
	"invest-ledger-go/internal/pricing"
	"invest-ledger-go/internal/reconciler"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	testAdminToken    = "admin-secret"
	testWebhookSecret = "hook-secret"
)

func setupRouter(t *testing.T, cfg models.HttpConfig) (*gin.Engine, *database.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	service, err := database.NewService(context.Background(), models.DatabaseConfig{
		Path:              filepath.Join(t.TempDir(), "ledger.db"),
		MaxOpenConns:      4,
		MaxIdleConns:      2,
		PingTimeout:       5 * time.Second,
		BusyTimeout:       10 * time.Second,
		StaleWriteRetries: 3,
	})
	require.NoError(t, err)
	t.Cleanup(service.Close)

	engine := models.EngineConfig{PageSize: 10, Workers: 2}
	plans := []models.Plan{{
		Id:           "growth-30",
		Name:         "Growth",
		Apy:          decimal.RequireFromString("0.12"),
		DurationDays: 30,
		MinUsd:       decimal.NewFromInt(100),
	}}
	oracle := pricing.NewStaticOracle(map[string]decimal.Decimal{
		"USDC": decimal.NewFromInt(1),
		"ETH":  decimal.NewFromInt(3000),
	})
	renderer, err := notify.NewTemplateRenderer("")
	require.NoError(t, err)

	svc := NewLedgerService(service,
		investments.NewManager(service, engine, plans, nil),
		reconciler.New(service, oracle, models.ReconcilerConfig{}, engine, nil),
		notify.NewQueue(service, renderer, notify.LogSender{}, models.MailConfig{}, nil))

	return NewRouter(svc, cfg, nil), service
}

func defaultHttpConfig() models.HttpConfig {
	return models.HttpConfig{AdminToken: testAdminToken, WebhookSecret: testWebhookSecret}
}

func httpDo(r *gin.Engine, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if raw, ok := body.(string); ok {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(raw))
		req.Header.Set("Content-Type", "application/json")
	} else if body != nil {
		b, _ := json.Marshal(body)
		req = httptest.NewRequest(method, path, bytes.NewReader(b))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func asUser(id string) map[string]string { return map[string]string{HeaderUserId: id} }

var (
	asAdmin   = map[string]string{HeaderAdminToken: testAdminToken}
	asWebhook = map[string]string{HeaderWebhookSecret: testWebhookSecret}
)

func TestHealthAndAuth(t *testing.T) {
	r, _ := setupRouter(t, defaultHttpConfig())

	w := httpDo(r, "GET", "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = httpDo(r, "GET", "/api/v1/balance", nil, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = httpDo(r, "GET", "/api/v1/admin/emails/status", nil, map[string]string{HeaderAdminToken: "wrong"})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = httpDo(r, "POST", "/api/v1/webhooks/chain", map[string]string{}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = httpDo(r, "GET", "/api/v1/plans", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var plans []models.Plan
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &plans))
	require.Len(t, plans, 1)
	require.Equal(t, "growth-30", plans[0].Id)
}

func TestAdminRoutesDisabledWithoutToken(t *testing.T) {
	r, _ := setupRouter(t, models.HttpConfig{})

	w := httpDo(r, "GET", "/api/v1/admin/emails/status", nil, map[string]string{HeaderAdminToken: ""})
	require.Equal(t, http.StatusForbidden, w.Code)

	w = httpDo(r, "POST", "/api/v1/webhooks/chain", map[string]string{}, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestChainWebhookCreditsOnce(t *testing.T) {
	r, service := setupRouter(t, defaultHttpConfig())
	_, err := service.CreateUser(context.Background(), "user1", "Ann", "ann@example.com")
	require.NoError(t, err)

	obs := map[string]interface{}{
		"chainHash":     "0xdeposit",
		"confirmations": 6,
		"currency":      "USDC",
		"amount":        "250",
		"direction":     "deposit",
		"userId":        "user1",
	}
	w := httpDo(r, "POST", "/api/v1/webhooks/chain", obs, asWebhook)
	require.Equal(t, http.StatusOK, w.Code)
	var first struct {
		Transaction models.Transaction `json:"transaction"`
		Created     bool               `json:"created"`
		Changed     bool               `json:"changed"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	require.True(t, first.Created)
	require.Equal(t, models.TransactionCompleted, first.Transaction.Status)

	w = httpDo(r, "POST", "/api/v1/webhooks/chain", obs, asWebhook)
	require.Equal(t, http.StatusOK, w.Code)

	w = httpDo(r, "GET", "/api/v1/balance", nil, asUser("user1"))
	require.Equal(t, http.StatusOK, w.Code)
	var balance BalanceView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &balance))
	require.Equal(t, models.Cents(25000), balance.Main)
	require.Equal(t, models.Cents(25000), balance.Total)

	w = httpDo(r, "GET", "/api/v1/ledger", nil, asUser("user1"))
	require.Equal(t, http.StatusOK, w.Code)
	var ledger struct {
		Entries []models.LedgerEntry `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ledger))
	require.Len(t, ledger.Entries, 1)

	w = httpDo(r, "GET", "/api/v1/notifications", nil, asUser("user1"))
	require.Equal(t, http.StatusOK, w.Code)
	var notifications struct {
		Notifications []models.Notification `json:"notifications"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &notifications))
	require.Len(t, notifications.Notifications, 1)

	w = httpDo(r, "GET", "/api/v1/admin/emails/status", nil, asAdmin)
	require.Equal(t, http.StatusOK, w.Code)
	var status models.EmailQueueStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	require.Equal(t, 1, status.Pending)
}

func TestChainWebhookRejectsUnknownAddress(t *testing.T) {
	r, _ := setupRouter(t, defaultHttpConfig())

	obs := map[string]interface{}{
		"chainHash":     "0xstray",
		"confirmations": 1,
		"currency":      "USDC",
		"amount":        "5",
		"direction":     "deposit",
		"address":       "0xnobody",
	}
	w := httpDo(r, "POST", "/api/v1/webhooks/chain", obs, asWebhook)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = httpDo(r, "POST", "/api/v1/webhooks/chain", `{"chainHash": `, asWebhook)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInvestmentLifecycle(t *testing.T) {
	r, _ := setupRouter(t, defaultHttpConfig())
	user := asUser("user1")

	w := httpDo(r, "POST", "/api/v1/investments", map[string]string{"planId": "growth-30", "principalUsd": "1000"}, user)
	require.Equal(t, http.StatusCreated, w.Code)
	var inv models.Investment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &inv))
	require.Equal(t, models.InvestmentPending, inv.Status)
	require.Equal(t, models.Cents(100000), inv.Principal)

	w = httpDo(r, "POST", "/api/v1/investments", map[string]string{"planId": "missing", "principalUsd": "1000"}, user)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = httpDo(r, "POST", "/api/v1/investments", map[string]string{"planId": "growth-30", "principalUsd": "50"}, user)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = httpDo(r, "POST", "/api/v1/investments", map[string]string{"principalUsd": "500"}, user)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = httpDo(r, "POST", "/api/v1/admin/investments/"+inv.Id+"/activate", nil, asAdmin)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &inv))
	require.Equal(t, models.InvestmentActive, inv.Status)
	require.NotNil(t, inv.MaturesAt)

	w = httpDo(r, "POST", "/api/v1/admin/investments/"+inv.Id+"/activate", nil, asAdmin)
	require.Equal(t, http.StatusConflict, w.Code)

	w = httpDo(r, "POST", "/api/v1/admin/investments/"+inv.Id+"/cancel", nil, asAdmin)
	require.Equal(t, http.StatusConflict, w.Code)

	w = httpDo(r, "POST", "/api/v1/admin/investments/missing/activate", nil, asAdmin)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = httpDo(r, "GET", "/api/v1/investments", nil, user)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Investments []models.Investment `json:"investments"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Investments, 1)
}

func TestSubmitTransaction(t *testing.T) {
	r, _ := setupRouter(t, defaultHttpConfig())
	user := asUser("user1")

	req := SubmitTransactionRequest{
		Type:         models.TransactionDeposit,
		Currency:     "ETH",
		CryptoAmount: decimal.RequireFromString("0.5"),
		ChainHash:    "0xsubmitted",
	}
	w := httpDo(r, "POST", "/api/v1/transactions", req, user)
	require.Equal(t, http.StatusCreated, w.Code)
	var tx models.Transaction
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &tx))
	require.Equal(t, models.Cents(150000), tx.UsdValue)
	require.Equal(t, models.TransactionPending, tx.Status)

	w = httpDo(r, "POST", "/api/v1/transactions", req, user)
	require.Equal(t, http.StatusConflict, w.Code)

	req.ChainHash = "0xother"
	req.Currency = "DOGE"
	w = httpDo(r, "POST", "/api/v1/transactions", req, user)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = httpDo(r, "GET", "/api/v1/transactions?limit=5", nil, user)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Transactions []models.Transaction `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Transactions, 1)
}

func TestAmountsBeyondCentsRangeRejected(t *testing.T) {
	r, _ := setupRouter(t, defaultHttpConfig())
	user := asUser("user1")

	w := httpDo(r, "POST", "/api/v1/transactions", SubmitTransactionRequest{
		Type:         models.TransactionDeposit,
		Currency:     "USDC",
		CryptoAmount: decimal.RequireFromString("200000000000000000"),
		ChainHash:    "0xhuge",
	}, user)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = httpDo(r, "POST", "/api/v1/investments",
		map[string]string{"planId": "growth-30", "principalUsd": "100000000000000000"}, user)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = httpDo(r, "GET", "/api/v1/transactions", nil, user)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Transactions []models.Transaction `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Empty(t, list.Transactions)
}

func TestChainWebhookFailsContradictingReport(t *testing.T) {
	r, service := setupRouter(t, defaultHttpConfig())
	ctx := context.Background()
	_, err := service.CreateUser(ctx, "user1", "Ann", "ann@example.com")
	require.NoError(t, err)
	_, err = service.StoreWalletAddress(ctx, "user1", "USDC", "ethereum-mainnet", "0xann")
	require.NoError(t, err)

	w := httpDo(r, "POST", "/api/v1/transactions", SubmitTransactionRequest{
		Type:         models.TransactionDeposit,
		Currency:     "USDC",
		CryptoAmount: decimal.NewFromInt(1_000_000),
		ChainHash:    "0xreal",
	}, asUser("user1"))
	require.Equal(t, http.StatusCreated, w.Code)

	obs := map[string]interface{}{
		"chainHash":     "0xreal",
		"confirmations": 6,
		"currency":      "USDC",
		"amount":        "1",
		"direction":     "deposit",
		"address":       "0xann",
	}
	w = httpDo(r, "POST", "/api/v1/webhooks/chain", obs, asWebhook)
	require.Equal(t, http.StatusOK, w.Code)
	var result struct {
		Transaction models.Transaction `json:"transaction"`
		Changed     bool               `json:"changed"`
		Mismatch    string             `json:"mismatch"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.True(t, result.Changed)
	require.NotEmpty(t, result.Mismatch)
	require.Equal(t, models.TransactionFailed, result.Transaction.Status)
	require.Equal(t, models.ReasonObservationMismatch, result.Transaction.FailureReason)

	w = httpDo(r, "GET", "/api/v1/balance", nil, asUser("user1"))
	require.Equal(t, http.StatusOK, w.Code)
	var balance BalanceView
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &balance))
	require.Equal(t, models.Cents(0), balance.Main)
}

func TestAdminEmailRoutes(t *testing.T) {
	r, _ := setupRouter(t, defaultHttpConfig())

	w := httpDo(r, "POST", "/api/v1/admin/emails/retry", map[string][]string{"ids": {}}, asAdmin)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"requeued": 0}`, w.Body.String())

	w = httpDo(r, "POST", "/api/v1/admin/emails/retry", map[string][]string{"ids": {"missing"}}, asAdmin)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = httpDo(r, "GET", "/api/v1/admin/emails/recent?limit=5", nil, asAdmin)
	require.Equal(t, http.StatusOK, w.Code)
	var recent struct {
		Emails []models.QueuedEmail `json:"emails"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recent))
	require.Empty(t, recent.Emails)
}

func TestStatusFor(t *testing.T) {
	require.Equal(t, http.StatusInternalServerError, statusFor(context.DeadlineExceeded))
	require.Equal(t, http.StatusUnprocessableEntity, statusFor(investments.ErrUnknownPlan))
	require.Equal(t, http.StatusUnprocessableEntity, statusFor(reconciler.ErrInvalidObservation))
	require.Equal(t, http.StatusUnprocessableEntity, statusFor(fmt.Errorf("principalUsd: %w", models.ErrAmountOutOfRange)))
}
