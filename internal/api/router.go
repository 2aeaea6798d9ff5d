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
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"invest-ledger-go/internal/metrics"
	"invest-ledger-go/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	HeaderUserId        = "X-User-Id"
	HeaderAdminToken    = "X-Admin-Token"
	HeaderWebhookSecret = "X-Webhook-Secret"

	userIdKey = "userId"
)

func NewRouter(svc *LedgerService, cfg models.HttpConfig, m *metrics.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), observeRequests(m))

	h := &handler{svc: svc}

	r.GET("/healthz", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	v1.GET("/plans", h.listPlans)

	user := v1.Group("", requireUser())
	{
		user.GET("/balance", h.getBalance)
		user.GET("/ledger", h.getLedger)
		user.GET("/investments", h.listInvestments)
		user.POST("/investments", h.openInvestment)
		user.GET("/transactions", h.listTransactions)
		user.POST("/transactions", h.submitTransaction)
		user.GET("/notifications", h.listNotifications)
	}

	v1.POST("/webhooks/chain", requireSecret(HeaderWebhookSecret, cfg.WebhookSecret), h.observeChain)

	admin := v1.Group("/admin", requireSecret(HeaderAdminToken, cfg.AdminToken))
	{
		admin.POST("/investments/:id/activate", h.activateInvestment)
		admin.POST("/investments/:id/cancel", h.cancelInvestment)
		admin.POST("/emails/retry", h.retryEmails)
		admin.GET("/emails/status", h.emailStatus)
		admin.GET("/emails/recent", h.recentEmails)
	}

	return r
}

func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userId := strings.TrimSpace(c.GetHeader(HeaderUserId))
		if userId == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + HeaderUserId})
			return
		}
		c.Set(userIdKey, userId)
		c.Next()
	}
}

// requireSecret compares a header against a configured value. An empty
// configured value disables the route group.
func requireSecret(header, expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if expected == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "endpoint disabled"})
			return
		}
		given := c.GetHeader(header)
		if subtle.ConstantTimeCompare([]byte(given), []byte(expected)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid " + header})
			return
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		zap.L().Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}

func observeRequests(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.ObserveHTTP(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
