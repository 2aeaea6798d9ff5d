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

package common

import (
	"fmt"
	"os"
	"path/filepath"

	"invest-ledger-go/internal/models"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

type PlansConfig struct {
	Plans []models.Plan `yaml:"plans"`
}

func LoadPlans(plansFile string) ([]models.Plan, error) {
	var plansPath string
	if filepath.IsAbs(plansFile) {
		plansPath = plansFile
	} else {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		plansPath = filepath.Join(wd, plansFile)
	}

	data, err := os.ReadFile(plansPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", plansFile, err)
	}

	plans, err := ParsePlans(data)
	if err != nil {
		return nil, fmt.Errorf("unable to parse %s: %w", plansFile, err)
	}
	return plans, nil
}

// ParsePlans decodes a plan catalog and converts the string rates to decimals.
func ParsePlans(data []byte) ([]models.Plan, error) {
	var config PlansConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}
	if len(config.Plans) == 0 {
		return nil, fmt.Errorf("plan catalog is empty")
	}

	seen := make(map[string]bool, len(config.Plans))
	for i := range config.Plans {
		plan := &config.Plans[i]
		if plan.Id == "" {
			return nil, fmt.Errorf("plan at index %d missing id", i)
		}
		if seen[plan.Id] {
			return nil, fmt.Errorf("duplicate plan id %q", plan.Id)
		}
		seen[plan.Id] = true

		apy, err := decimal.NewFromString(plan.ApyRaw)
		if err != nil {
			return nil, fmt.Errorf("plan %s has invalid apy %q: %w", plan.Id, plan.ApyRaw, err)
		}
		if !apy.IsPositive() {
			return nil, fmt.Errorf("plan %s apy must be positive, got %s", plan.Id, apy)
		}
		plan.Apy = apy

		if plan.DurationDays <= 0 {
			return nil, fmt.Errorf("plan %s duration_days must be positive, got %d", plan.Id, plan.DurationDays)
		}

		plan.MinUsd = decimal.Zero
		if plan.MinUsdRaw != "" {
			minUsd, err := decimal.NewFromString(plan.MinUsdRaw)
			if err != nil {
				return nil, fmt.Errorf("plan %s has invalid min_usd %q: %w", plan.Id, plan.MinUsdRaw, err)
			}
			if minUsd.IsNegative() {
				return nil, fmt.Errorf("plan %s min_usd cannot be negative", plan.Id)
			}
			plan.MinUsd = minUsd
		}

		if plan.Name == "" {
			plan.Name = plan.Id
		}
	}
	return config.Plans, nil
}
