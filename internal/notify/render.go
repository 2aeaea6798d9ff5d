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

package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"text/template"

	"invest-ledger-go/internal/models"
)

// Message is a rendered email ready for a Sender.
type Message struct {
	Subject string
	HTML    string
	Text    string
}

// Renderer turns typed template variables into a message.
type Renderer interface {
	Render(vars models.EmailVariables) (Message, error)
}

type bodyTemplates struct {
	text *template.Template
	html *htmltemplate.Template
}

// TemplateRenderer renders the built-in templates, one per variables variant.
type TemplateRenderer struct {
	brand     string
	templates map[string]bodyTemplates
}

const greeting = `Hi {{with .UserName}}{{.}}{{else}}there{{end}},`

var templateSources = map[string]string{
	models.TemplateInvestmentActivated: `Your investment {{.InvestmentId}} in plan {{.PlanId}} is now active.
Principal: {{.PrincipalUsd}} USD at {{.Apy}} APY for {{.DurationDays}} days.
It matures on {{.MaturesAt.Format "2006-01-02"}}.`,

	models.TemplateInvestmentCompleted: `Your investment {{.InvestmentId}} in plan {{.PlanId}} has matured.
Principal returned: {{.PrincipalUsd}} USD.
Total return: {{.TotalReturnUsd}} USD.`,

	models.TemplateDepositConfirmed: `Your deposit of {{.CryptoAmount}} {{.Currency}} ({{.UsdValue}} USD) has been credited to your balance.
Transaction: {{.ChainHash}}`,

	models.TemplateWithdrawalCompleted: `Your withdrawal of {{.CryptoAmount}} {{.Currency}} ({{.UsdValue}} USD) is complete.
Transaction: {{.ChainHash}}`,

	models.TemplateWithdrawalFailed: `Your withdrawal of {{.CryptoAmount}} {{.Currency}} ({{.UsdValue}} USD) could not be completed.
Reason: {{.Reason}}
Transaction: {{.ChainHash}}`,

	models.TemplateTransactionExpired: `Your {{.Type}} of {{.CryptoAmount}} {{.Currency}} submitted on {{.CreatedAt.Format "2006-01-02 15:04 MST"}} was not confirmed in time and has expired.
Transaction: {{.ChainHash}}`,
}

const htmlLayout = `<html><body><p>` + greeting + `</p><p>{{template "body" .}}</p><p>{{brand}}</p></body></html>`

func NewTemplateRenderer(brand string) (*TemplateRenderer, error) {
	if brand == "" {
		brand = "Invest Ledger"
	}
	funcs := map[string]any{"brand": func() string { return brand }}

	r := &TemplateRenderer{brand: brand, templates: make(map[string]bodyTemplates, len(templateSources))}
	for name, body := range templateSources {
		text, err := template.New(name).Funcs(funcs).Parse(greeting + "\n\n" + body + "\n\n{{brand}}\n")
		if err != nil {
			return nil, fmt.Errorf("failed to parse text template %s: %w", name, err)
		}
		html, err := htmltemplate.New(name).Funcs(funcs).Parse(htmlLayout)
		if err == nil {
			_, err = html.New("body").Parse(body)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse html template %s: %w", name, err)
		}
		r.templates[name] = bodyTemplates{text: text, html: html}
	}
	return r, nil
}

func (r *TemplateRenderer) Render(vars models.EmailVariables) (Message, error) {
	if vars == nil {
		return Message{}, fmt.Errorf("%w: nil variables", models.ErrUnknownTemplate)
	}
	tpl, ok := r.templates[vars.Template()]
	if !ok {
		return Message{}, fmt.Errorf("%w: %q", models.ErrUnknownTemplate, vars.Template())
	}

	var text, html bytes.Buffer
	if err := tpl.text.Execute(&text, vars); err != nil {
		return Message{}, fmt.Errorf("failed to render %s: %w", vars.Template(), err)
	}
	if err := tpl.html.Execute(&html, vars); err != nil {
		return Message{}, fmt.Errorf("failed to render %s html: %w", vars.Template(), err)
	}

	title, _ := vars.Summary()
	return Message{
		Subject: fmt.Sprintf("%s: %s", r.brand, title),
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}
