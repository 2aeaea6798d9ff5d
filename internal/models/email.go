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

package models

import (
	"encoding/json"
	"time"
)

type EmailPriority string

const (
	PriorityLow    EmailPriority = "low"
	PriorityNormal EmailPriority = "normal"
	PriorityHigh   EmailPriority = "high"
	PriorityUrgent EmailPriority = "urgent"
)

// Rank orders priorities so that urgent drains first.
func (p EmailPriority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityNormal:
		return 1
	case PriorityHigh:
		return 2
	case PriorityUrgent:
		return 3
	}
	return -1
}

func (p EmailPriority) Valid() bool { return p.Rank() >= 0 }

type EmailStatus string

const (
	EmailPending EmailStatus = "pending"
	EmailSent    EmailStatus = "sent"
	EmailFailed  EmailStatus = "failed"
)

// DefaultMaxRetries applies when an enqueue does not specify one.
const DefaultMaxRetries = 3

// QueuedEmail is one row of the delivery outbox.
type QueuedEmail struct {
	Id             string          `json:"id"`
	To             string          `json:"to"`
	TemplateName   string          `json:"templateName"`
	Variables      json.RawMessage `json:"variables"`
	Priority       EmailPriority   `json:"priority"`
	Status         EmailStatus     `json:"status"`
	RetryCount     int             `json:"retryCount"`
	MaxRetries     int             `json:"maxRetries"`
	ScheduledFor   time.Time       `json:"scheduledFor"`
	LastError      string          `json:"lastError,omitempty"`
	NotificationId string          `json:"notificationId,omitempty"`
	SentAt         *time.Time      `json:"sentAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// EmailQueueStatus is the admin summary of the outbox.
type EmailQueueStatus struct {
	Pending       int        `json:"pending"`
	Due           int        `json:"due"`
	Sent          int        `json:"sent"`
	Failed        int        `json:"failed"`
	Retrying      int        `json:"retrying"`
	OldestPending *time.Time `json:"oldestPending,omitempty"`
}

// Notification is the in-app record a queued email may point back to.
type Notification struct {
	Id        string    `json:"id"`
	UserId    string    `json:"userId"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// JobWatermark is the persisted progress marker of a scheduled job.
type JobWatermark struct {
	JobName         string     `json:"jobName"`
	Cursor          string     `json:"cursor"`
	Runs            int64      `json:"runs"`
	LastStartedAt   *time.Time `json:"lastStartedAt,omitempty"`
	LastCompletedAt *time.Time `json:"lastCompletedAt,omitempty"`
	LastError       string     `json:"lastError,omitempty"`
}
