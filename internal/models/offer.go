package models

import (
	"encoding/json"
	"time"
)

// DecisionStatus is the lifecycle status of a servicos_realizados record.
type DecisionStatus string

const (
	StatusAwaitingAcceptance DecisionStatus = "aguardando_aceite"
	StatusAwaitingPayment    DecisionStatus = "aguardando_pagamento"
	StatusDeclined           DecisionStatus = "recusado"
	StatusCancelled          DecisionStatus = "cancelado"
)

// ViewStatus records whether the provider's client has read an offer.
type ViewStatus string

const (
	ViewSent   ViewStatus = "ENVIADA"
	ViewViewed ViewStatus = "VISUALIZADA"
)

// DefaultResponseWindow is how long a provider has to answer an offer.
const DefaultResponseWindow = 5 * time.Minute

// Decision is the provider's answer to an offer.
type Decision int

const (
	Accept Decision = iota + 1
	Decline
)

// Target returns the decision status an answer moves an offer into.
func (d Decision) Target() DecisionStatus {
	if d == Accept {
		return StatusAwaitingPayment
	}
	return StatusDeclined
}

func (d Decision) String() string {
	switch d {
	case Accept:
		return "accept"
	case Decline:
		return "decline"
	default:
		return "invalid"
	}
}

// Offer is a proposed job assignment awaiting the provider's decision.
type Offer struct {
	ID             string         `json:"id"`
	ProfessionalID string         `json:"professional_id"`
	ServiceDate    time.Time      `json:"data_servico"`
	StartTime      string         `json:"hora_inicio"`
	EndTime        string         `json:"hora_fim"`
	Status         DecisionStatus `json:"status"`
	ViewStatus     ViewStatus     `json:"status_visualizacao_prestador"`
	Alignment      Alignment      `json:"checklist_alinhamento"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Pending reports whether the offer still awaits a decision.
func (o Offer) Pending() bool {
	return o.Status == StatusAwaitingAcceptance
}

// ExpiresAt returns the end of the response window.
func (o Offer) ExpiresAt(window time.Duration) time.Time {
	return o.CreatedAt.Add(window)
}

// Alignment is the checklist_alinhamento payload. Keys other than the
// contractor details survive a decode/encode cycle through Extra.
type Alignment struct {
	Contractor ContractorDetails
	Extra      map[string]json.RawMessage
}

// ContractorDetails holds the on-site requirements set by the contractor.
type ContractorDetails struct {
	DressCode     string
	OnSiteContact string
	Notes         string
	Extra         map[string]json.RawMessage
}

const contractorDetailsKey = "detalhes_contratante"

// UnmarshalJSON decodes known fields and keeps the rest in Extra.
func (a *Alignment) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*a = Alignment{}
		return nil
	}
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*a = Alignment{}
	if details, ok := raw[contractorDetailsKey]; ok {
		if err := json.Unmarshal(details, &a.Contractor); err != nil {
			return err
		}
		delete(raw, contractorDetailsKey)
	}
	if len(raw) > 0 {
		a.Extra = raw
	}
	return nil
}

// MarshalJSON is the inverse of UnmarshalJSON.
func (a Alignment) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(a.Extra)+1)
	for k, v := range a.Extra {
		out[k] = v
	}
	if !a.Contractor.empty() {
		out[contractorDetailsKey] = a.Contractor
	}
	return json.Marshal(out)
}

func (d *ContractorDetails) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*d = ContractorDetails{}
		return nil
	}
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*d = ContractorDetails{}
	for key, dst := range map[string]*string{
		"traje":            &d.DressCode,
		"contato_no_local": &d.OnSiteContact,
		"observacoes":      &d.Notes,
	} {
		v, ok := raw[key]
		if !ok {
			continue
		}
		if string(v) != "null" {
			if err := json.Unmarshal(v, dst); err != nil {
				return err
			}
		}
		delete(raw, key)
	}
	if len(raw) > 0 {
		d.Extra = raw
	}
	return nil
}

func (d ContractorDetails) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(d.Extra)+3)
	for k, v := range d.Extra {
		out[k] = v
	}
	if d.DressCode != "" {
		out["traje"] = d.DressCode
	}
	if d.OnSiteContact != "" {
		out["contato_no_local"] = d.OnSiteContact
	}
	if d.Notes != "" {
		out["observacoes"] = d.Notes
	}
	return json.Marshal(out)
}

func (d ContractorDetails) empty() bool {
	return d.DressCode == "" && d.OnSiteContact == "" && d.Notes == "" && len(d.Extra) == 0
}
