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

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegistry_Singleton(t *testing.T) {
	a := Registry("test")
	b := Registry("other")
	if a != b {
		t.Fatal("Expected Registry to return the same instance")
	}
}

func TestRecorders(t *testing.T) {
	m := Registry("test")

	m.ObserveJob("daily-accrual", time.Second, nil)
	m.ObserveJob("daily-accrual", time.Second, errors.New("boom"))
	if got := testutil.ToFloat64(m.JobRuns.WithLabelValues("daily-accrual", "error")); got != 1 {
		t.Errorf("Expected 1 failed run, got %v", got)
	}

	m.AddBatchRecords("maturity-check", "processed", 3)
	m.AddBatchRecords("maturity-check", "processed", 0)
	if got := testutil.ToFloat64(m.BatchRecords.WithLabelValues("maturity-check", "processed")); got != 3 {
		t.Errorf("Expected 3 processed records, got %v", got)
	}

	m.SetExportSequence(42)
	if got := testutil.ToFloat64(m.LedgerExportSeq); got != 42 {
		t.Errorf("Expected export sequence 42, got %v", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ObserveJob("x", time.Second, nil)
	m.AddBatchRecords("x", "ok", 1)
	m.IncLedgerAdjust("x", nil)
	m.IncObservation("pending")
	m.IncEmailDelivery("t", "sent")
	m.IncPriceLookup("static", nil)
	m.ObserveHTTP("GET", "/", 200, time.Millisecond)
	m.SetExportSequence(1)
}
