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

package database

const (
	// User queries
	queryGetActiveUsers = `
		SELECT id, name, email, active, created_at, updated_at
		FROM users
		WHERE active = 1
		ORDER BY created_at`

	queryInsertUser = `
		INSERT OR IGNORE INTO users (id, name, email, active, created_at, updated_at) VALUES (?, ?, ?, 1, ?, ?)`

	queryGetUserById = `
		SELECT id, name, email, active, created_at, updated_at
		FROM users
		WHERE id = ? AND active = 1`

	queryGetUserByEmail = `
		SELECT id, name, email, active, created_at, updated_at
		FROM users
		WHERE email = ? AND active = 1`

	// Wallet address queries
	queryInsertWalletAddress = `
		INSERT INTO wallet_addresses (id, user_id, currency, network, address, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	queryGetWalletAddresses = `
		SELECT id, user_id, currency, network, address, created_at
		FROM wallet_addresses
		WHERE user_id = ?
		ORDER BY currency, created_at DESC`

	queryFindUserByAddress = `
		SELECT u.id, u.name, u.email, u.active, u.created_at, u.updated_at,
		       a.id, a.user_id, a.currency, a.network, a.address, a.created_at
		FROM wallet_addresses a
		JOIN users u ON a.user_id = u.id
		WHERE lower(a.address) = lower(?) AND u.active = 1
		LIMIT 1`

	queryAddressOwner = `
		SELECT a.user_id
		FROM wallet_addresses a
		JOIN users u ON a.user_id = u.id
		WHERE lower(a.address) = lower(?) AND u.active = 1
		LIMIT 1`

	// Balance queries
	queryEnsureBalance = `
		INSERT OR IGNORE INTO balances (user_id, main_cents, interest_cents, investment_cents, version, last_entry_id, created_at, updated_at)
		VALUES (?, 0, 0, 0, 0, '', ?, ?)`

	queryGetBalance = `
		SELECT user_id, main_cents, interest_cents, investment_cents, version, last_entry_id, updated_at
		FROM balances
		WHERE user_id = ?`

	// The version predicate is the per-user compare-and-swap.
	queryUpdateMainBalance = `
		UPDATE balances SET main_cents = ?, version = version + 1, last_entry_id = ?, updated_at = ?
		WHERE user_id = ? AND version = ?`

	queryUpdateInterestBalance = `
		UPDATE balances SET interest_cents = ?, version = version + 1, last_entry_id = ?, updated_at = ?
		WHERE user_id = ? AND version = ?`

	queryUpdateInvestmentBalance = `
		UPDATE balances SET investment_cents = ?, version = version + 1, last_entry_id = ?, updated_at = ?
		WHERE user_id = ? AND version = ?`

	queryInsertLedgerEntry = `
		INSERT INTO ledger_entries (id, user_id, bucket, delta_cents, balance_after_cents, reference_type, reference_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	queryGetLedgerEntries = `
		SELECT seq, id, user_id, bucket, delta_cents, balance_after_cents, reference_type, reference_id, created_at
		FROM ledger_entries
		WHERE user_id = ?
		ORDER BY seq DESC
		LIMIT ? OFFSET ?`

	queryGetLedgerEntriesAfter = `
		SELECT seq, id, user_id, bucket, delta_cents, balance_after_cents, reference_type, reference_id, created_at
		FROM ledger_entries
		WHERE seq > ?
		ORDER BY seq
		LIMIT ?`

	querySumLedgerByBucket = `
		SELECT bucket, COALESCE(SUM(delta_cents), 0)
		FROM ledger_entries
		WHERE user_id = ?
		GROUP BY bucket`

	// Investment queries
	investmentColumns = `
		id, user_id, plan_id, principal_currency, principal_amount, principal_cents, apy, duration_days,
		status, started_at, matures_at, last_accrual_date, accrual_days, accrued_cents, total_return_cents,
		principal_returned, completed_at, cancelled_at, created_at, updated_at`

	queryInsertInvestment = `
		INSERT INTO investments (id, user_id, plan_id, principal_currency, principal_amount, principal_cents, apy,
			duration_days, status, last_accrual_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending', '', ?, ?)`

	queryGetInvestment = `SELECT ` + investmentColumns + ` FROM investments WHERE id = ?`

	queryListInvestments = `SELECT ` + investmentColumns + `
		FROM investments
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`

	queryListAccruableInvestments = `SELECT ` + investmentColumns + `
		FROM investments
		WHERE status = 'active' AND last_accrual_date < ? AND id > ?
		ORDER BY id
		LIMIT ?`

	queryListMaturedInvestments = `SELECT ` + investmentColumns + `
		FROM investments
		WHERE status = 'active' AND matures_at <= ? AND id > ?
		ORDER BY id
		LIMIT ?`

	queryActivateInvestment = `
		UPDATE investments
		SET status = 'active', started_at = ?, matures_at = ?, last_accrual_date = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`

	queryCancelInvestment = `
		UPDATE investments
		SET status = 'cancelled', cancelled_at = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'`

	// Gated on the previously read accrual_days so a concurrent run cannot double count.
	queryAccrueInvestment = `
		UPDATE investments
		SET accrual_days = ?, accrued_cents = ?, last_accrual_date = ?, updated_at = ?
		WHERE id = ? AND status = 'active' AND accrual_days = ?`

	queryMarkAccrualDate = `
		UPDATE investments
		SET last_accrual_date = ?, updated_at = ?
		WHERE id = ? AND status = 'active' AND last_accrual_date < ?`

	// The status predicate is the completion gate.
	queryCompleteInvestment = `
		UPDATE investments
		SET status = 'completed', accrual_days = ?, accrued_cents = ?, total_return_cents = ?,
			principal_returned = 1, last_accrual_date = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND status = 'active'`

	// Transaction queries
	transactionColumns = `
		id, user_id, type, currency, crypto_amount, usd_cents, chain_hash, status, confirmations,
		failure_reason, created_at, confirmed_at, completed_at, updated_at`

	queryInsertTransaction = `
		INSERT OR IGNORE INTO transactions (id, user_id, type, currency, crypto_amount, usd_cents, chain_hash,
			status, confirmations, failure_reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'pending', 0, '', ?, ?)`

	queryGetTransactionByHash = `SELECT ` + transactionColumns + ` FROM transactions WHERE chain_hash = ?`

	queryGetTransactionById = `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`

	queryListTransactions = `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`

	queryListStalePending = `SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = 'pending' AND created_at < ? AND id > ?
		ORDER BY id
		LIMIT ?`

	queryUpdateConfirmations = `
		UPDATE transactions
		SET confirmations = MAX(confirmations, ?), updated_at = ?
		WHERE id = ?`

	queryTransitionTransaction = `
		UPDATE transactions
		SET status = ?, failure_reason = ?, confirmed_at = COALESCE(confirmed_at, ?),
			completed_at = ?, confirmations = MAX(confirmations, ?), updated_at = ?
		WHERE id = ? AND status = ?`

	queryExpireTransaction = `
		UPDATE transactions
		SET status = 'expired', updated_at = ?
		WHERE id = ? AND status = 'pending'`

	// Delivery queue queries
	emailColumns = `
		id, to_address, template_name, variables, priority, status, retry_count, max_retries,
		scheduled_for, last_error, notification_id, sent_at, created_at, updated_at`

	queryInsertEmail = `
		INSERT INTO email_queue (id, to_address, template_name, variables, priority, priority_rank, status,
			retry_count, max_retries, scheduled_for, last_error, notification_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', 0, ?, ?, '', ?, ?, ?)`

	queryGetEmail = `SELECT ` + emailColumns + ` FROM email_queue WHERE id = ?`

	queryListDueEmails = `SELECT ` + emailColumns + `
		FROM email_queue
		WHERE status = 'pending' AND scheduled_for <= ?
		ORDER BY priority_rank DESC, created_at ASC, id ASC
		LIMIT ?`

	queryMarkEmailSent = `
		UPDATE email_queue
		SET status = 'sent', sent_at = ?, last_error = '', updated_at = ?
		WHERE id = ? AND status = 'pending'`

	queryRescheduleEmail = `
		UPDATE email_queue
		SET retry_count = ?, status = ?, scheduled_for = ?, last_error = ?, updated_at = ?
		WHERE id = ? AND status = 'pending' AND retry_count = ?`

	queryRetryEmail = `
		UPDATE email_queue
		SET retry_count = 0, last_error = '', status = 'pending', scheduled_for = ?, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'failed')`

	queryEmailExists = `SELECT 1 FROM email_queue WHERE id = ?`

	queryPurgeEmails = `DELETE FROM email_queue WHERE created_at < ?`

	queryEmailStatusCounts = `
		SELECT status, COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'pending' AND scheduled_for <= ? THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'pending' AND retry_count > 0 THEN 1 ELSE 0 END), 0),
			MIN(created_at)
		FROM email_queue
		GROUP BY status`

	queryRecentEmails = `SELECT ` + emailColumns + `
		FROM email_queue
		ORDER BY created_at DESC
		LIMIT ?`

	queryInsertNotification = `
		INSERT INTO notifications (id, user_id, kind, title, message, read, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)`

	queryListNotifications = `
		SELECT id, user_id, kind, title, message, read, created_at
		FROM notifications
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT ?`

	// Job watermark queries
	watermarkColumns = `job_name, cursor, runs, last_started_at, last_completed_at, last_error`

	queryGetWatermark = `SELECT ` + watermarkColumns + ` FROM job_watermarks WHERE job_name = ?`

	queryListWatermarks = `SELECT ` + watermarkColumns + ` FROM job_watermarks ORDER BY job_name`

	queryMarkJobStarted = `
		INSERT INTO job_watermarks (job_name, cursor, runs, last_started_at, last_error, updated_at)
		VALUES (?, '', 1, ?, '', ?)
		ON CONFLICT(job_name) DO UPDATE SET
			runs = runs + 1, last_started_at = excluded.last_started_at, updated_at = excluded.updated_at`

	queryMarkJobFinished = `
		UPDATE job_watermarks
		SET last_completed_at = ?, last_error = ?, updated_at = ?
		WHERE job_name = ?`

	// Cursors only move forward within a run.
	queryAdvanceCursor = `
		INSERT INTO job_watermarks (job_name, cursor, runs, last_error, updated_at)
		VALUES (?, ?, 0, '', ?)
		ON CONFLICT(job_name) DO UPDATE SET
			cursor = excluded.cursor, updated_at = excluded.updated_at
		WHERE job_watermarks.cursor < excluded.cursor`

	queryResetCursor = `
		UPDATE job_watermarks SET cursor = '', updated_at = ? WHERE job_name = ?`
)
