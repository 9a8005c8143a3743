package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TemplateKind selects how an identifier is rendered
type TemplateKind int

const (
	// KindSequential renders prefix, separator and the zero-padded counter value.
	KindSequential TemplateKind = iota
	// KindRandomHex renders prefix, separator and 8 random upper-case hex digits.
	KindRandomHex
	// KindFree renders the bare counter value.
	KindFree
)

// Template describes one identifier family
type Template struct {
	Prefix    string
	Separator string
	Width     int
	Kind      TemplateKind
}

// DefaultTemplates lists the identifier families minted by the back office.
var DefaultTemplates = map[string]Template{
	"branchId":           {Prefix: "BR", Width: 3},
	"inventoryId":        {Prefix: "IU", Width: 3},
	"measureId":          {Prefix: "IU", Width: 3},
	"assetId":            {Prefix: "Asset", Width: 3},
	"variantId":          {Prefix: "Var", Width: 3},
	"subcategory":        {Prefix: "PS", Width: 3},
	"category":           {Prefix: "PC", Width: 3},
	"wastageEntryNumber": {Prefix: "WE", Width: 4},
	"locationRandomId":   {Prefix: "LOC", Separator: "-", Width: 3},
	"deliveryTypeId":     {Prefix: "DT", Separator: "-", Kind: KindRandomHex},
	"addOnId":            {Prefix: "IC", Width: 3},
	"designationId":      {Kind: KindFree},
	StoreDispatchCounter: {Kind: KindFree},
}

const randomHexDigits = 8

// IdentifierFormatter maps a counter value to its textual id
type IdentifierFormatter struct {
	templates map[string]Template
}

// NewIdentifierFormatter creates a formatter; nil means DefaultTemplates.
func NewIdentifierFormatter(templates map[string]Template) *IdentifierFormatter {
	if templates == nil {
		templates = DefaultTemplates
	}
	return &IdentifierFormatter{templates: templates}
}

// Template returns the template registered for name
func (f *IdentifierFormatter) Template(name string) (Template, bool) {
	t, ok := f.templates[name]
	return t, ok
}

// Format renders value with the template registered for name.
func (f *IdentifierFormatter) Format(name string, value int64) (string, error) {
	t, ok := f.templates[name]
	if !ok {
		return "", newError(ErrNotFound, "no identifier template for %s", name)
	}
	return t.Render(value), nil
}

// Render applies the template to value. Random templates ignore value.
func (t Template) Render(value int64) string {
	switch t.Kind {
	case KindFree:
		return strconv.FormatInt(value, 10)
	case KindRandomHex:
		hex := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
		return t.Prefix + t.Separator + hex[:randomHexDigits]
	}
	return fmt.Sprintf("%s%s%0*d", t.Prefix, t.Separator, t.Width, value)
}

// DateScopedCounter names the per-day bucket of a counter, e.g.
// cakeId:19-09-2025.
func DateScopedCounter(base string, day time.Time) string {
	return base + ":" + day.Format("02-01-2006")
}

// IdentifierService mints formatted identifiers from named counters. CRUD
// resources call it when they create records.
type IdentifierService struct {
	counters  *CounterService
	formatter *IdentifierFormatter
}

// NewIdentifierService creates a new identifier service
func NewIdentifierService(counters *CounterService, formatter *IdentifierFormatter) *IdentifierService {
	return &IdentifierService{counters: counters, formatter: formatter}
}

// Mint allocates the next value for name and formats it. Random templates do
// not touch the counter.
func (s *IdentifierService) Mint(ctx context.Context, name string) (string, int64, error) {
	t, ok := s.formatter.Template(name)
	if !ok {
		return "", 0, newError(ErrNotFound, "no identifier template for %s", name)
	}
	if t.Kind == KindRandomHex {
		return t.Render(0), 0, nil
	}

	value, err := s.counters.Next(ctx, name)
	if err != nil {
		return "", 0, err
	}
	return t.Render(value), value, nil
}

// MintWithGapFill is Mint using gap-fill allocation.
func (s *IdentifierService) MintWithGapFill(ctx context.Context, name string) (string, int64, error) {
	t, ok := s.formatter.Template(name)
	if !ok {
		return "", 0, newError(ErrNotFound, "no identifier template for %s", name)
	}
	if t.Kind == KindRandomHex {
		return t.Render(0), 0, nil
	}

	value, err := s.counters.NextWithGapFill(ctx, name)
	if err != nil {
		return "", 0, err
	}
	return t.Render(value), value, nil
}

// MintDateScoped allocates from the day bucket of base and returns
// DDMMYYYY followed by the day's sequence number.
func (s *IdentifierService) MintDateScoped(ctx context.Context, base string, day time.Time) (string, int64, error) {
	if strings.TrimSpace(base) == "" {
		return "", 0, newError(ErrBadRequest, "counter name is required")
	}

	value, err := s.counters.Next(ctx, DateScopedCounter(base, day))
	if err != nil {
		return "", 0, err
	}
	return day.Format("02012006") + strconv.FormatInt(value, 10), value, nil
}

// Allocate advances name and formats the value with its template when one is
// registered; counters without a template return the bare value.
func (s *IdentifierService) Allocate(ctx context.Context, name string, gapFill bool) (string, int64, error) {
	t, ok := s.formatter.Template(name)
	if ok && t.Kind == KindRandomHex {
		return t.Render(0), 0, nil
	}

	next := s.counters.Next
	if gapFill {
		next = s.counters.NextWithGapFill
	}
	value, err := next(ctx, name)
	if err != nil {
		return "", 0, err
	}
	if !ok {
		return strconv.FormatInt(value, 10), value, nil
	}
	return t.Render(value), value, nil
}
