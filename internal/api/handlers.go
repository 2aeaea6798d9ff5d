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
	"net/http"
	"strconv"

	"invest-ledger-go/internal/models"

	"github.com/gin-gonic/gin"
)

type handler struct {
	svc *LedgerService
}

func queryInt(c *gin.Context, key string) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return 0
	}
	return v
}

func (h *handler) health(c *gin.Context) {
	if err := h.svc.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) listPlans(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Plans())
}

func (h *handler) getBalance(c *gin.Context) {
	balance, err := h.svc.GetBalance(c.Request.Context(), c.GetString(userIdKey))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, balance)
}

func (h *handler) getLedger(c *gin.Context) {
	entries, err := h.svc.GetLedger(c.Request.Context(), c.GetString(userIdKey), queryInt(c, "limit"), queryInt(c, "offset"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

func (h *handler) listInvestments(c *gin.Context) {
	list, err := h.svc.ListInvestments(c.Request.Context(), c.GetString(userIdKey), queryInt(c, "limit"), queryInt(c, "offset"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"investments": list})
}

func (h *handler) openInvestment(c *gin.Context) {
	var req OpenInvestmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	inv, err := h.svc.OpenInvestment(c.Request.Context(), c.GetString(userIdKey), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, inv)
}

func (h *handler) listTransactions(c *gin.Context) {
	list, err := h.svc.ListTransactions(c.Request.Context(), c.GetString(userIdKey), queryInt(c, "limit"), queryInt(c, "offset"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": list})
}

func (h *handler) submitTransaction(c *gin.Context) {
	var req SubmitTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	tx, err := h.svc.SubmitTransaction(c.Request.Context(), c.GetString(userIdKey), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tx)
}

func (h *handler) listNotifications(c *gin.Context) {
	list, err := h.svc.ListNotifications(c.Request.Context(), c.GetString(userIdKey), queryInt(c, "limit"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"notifications": list})
}

func (h *handler) observeChain(c *gin.Context) {
	var obs models.Observation
	if err := c.ShouldBindJSON(&obs); err != nil {
		badRequest(c, err)
		return
	}
	result, err := h.svc.ObserveChain(c.Request.Context(), obs)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transaction":       result.Transaction,
		"previousStatus":    result.Previous,
		"created":           result.Created,
		"changed":           result.Changed,
		"insufficientFunds": result.InsufficientFunds,
		"mismatch":          result.Mismatch,
	})
}

func (h *handler) activateInvestment(c *gin.Context) {
	inv, err := h.svc.ActivateInvestment(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

func (h *handler) cancelInvestment(c *gin.Context) {
	inv, err := h.svc.CancelInvestment(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, inv)
}

type retryRequest struct {
	Ids []string `json:"ids" binding:"required"`
}

func (h *handler) retryEmails(c *gin.Context) {
	var req retryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	n, err := h.svc.RetryEmails(c.Request.Context(), req.Ids)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requeued": n})
}

func (h *handler) emailStatus(c *gin.Context) {
	status, err := h.svc.EmailQueueStatus(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *handler) recentEmails(c *gin.Context) {
	emails, err := h.svc.RecentEmails(c.Request.Context(), queryInt(c, "limit"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"emails": emails})
}
