package models

import (
	"fmt"
	"strings"
	"time"
)

type Form string

const (
	FormTablet    Form = "tablet"
	FormCapsule   Form = "capsule"
	FormLiquid    Form = "liquid"
	FormInjection Form = "injection"
	FormCream     Form = "cream"
	FormOther     Form = "other"
)

func ParseForm(s string) (Form, error) {
	f := Form(strings.ToLower(strings.TrimSpace(s)))
	if f == "" {
		return FormOther, nil
	}
	if !f.Valid() {
		return "", &ValidationError{Field: "form", Reason: fmt.Sprintf("unknown value %q", s)}
	}
	return f, nil
}

func (f Form) Valid() bool {
	switch f {
	case FormTablet, FormCapsule, FormLiquid, FormInjection, FormCream, FormOther:
		return true
	}
	return false
}

type Medicine struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Dosage       string    `json:"dosage"`
	Form         Form      `json:"form"`
	Instructions string    `json:"instructions,omitempty"`
	Color        string    `json:"color,omitempty"`
	Icon         string    `json:"icon,omitempty"`
	Active       bool      `json:"active"` // false = soft-deleted, history kept
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (m *Medicine) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return &ValidationError{Field: "name", Reason: "required"}
	}
	if strings.TrimSpace(m.Dosage) == "" {
		return &ValidationError{Field: "dosage", Reason: "required"}
	}
	if !m.Form.Valid() {
		return &ValidationError{Field: "form", Reason: fmt.Sprintf("unknown value %q", m.Form)}
	}
	return nil
}

// MedicinePatch carries a partial update. Nil fields are left untouched.
type MedicinePatch struct {
	Name         *string
	Dosage       *string
	Form         *Form
	Instructions *string
	Color        *string
	Icon         *string
	Active       *bool
}

func (p MedicinePatch) Apply(m Medicine) Medicine {
	if p.Name != nil {
		m.Name = *p.Name
	}
	if p.Dosage != nil {
		m.Dosage = *p.Dosage
	}
	if p.Form != nil {
		m.Form = *p.Form
	}
	if p.Instructions != nil {
		m.Instructions = *p.Instructions
	}
	if p.Color != nil {
		m.Color = *p.Color
	}
	if p.Icon != nil {
		m.Icon = *p.Icon
	}
	if p.Active != nil {
		m.Active = *p.Active
	}
	return m
}
