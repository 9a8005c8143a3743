package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"backoffice-service/internal/store"
	"backoffice-service/internal/util"

	"go.uber.org/zap"
)

// CounterStore is the persistence the counter service needs
type CounterStore interface {
	IncrementCounter(ctx context.Context, name string) (int64, error)
	GetCounter(ctx context.Context, name string) (int64, error)
	CounterExists(ctx context.Context, name string) (bool, error)
	SetCounter(ctx context.Context, name string, value int64) error
	InitCounter(ctx context.Context, name string, value int64) (bool, error)
	CompareAndSetCounter(ctx context.Context, name string, old, new int64) (bool, error)
	ListIdentifiers(ctx context.Context, table, column string) ([]string, error)
}

// ScanSource tells backfill and gap-fill where the identifiers minted from a
// counter end up, and how to read their numeric suffix back.
type ScanSource struct {
	Table  string
	Column string
	Prefix string
	Width  int
}

// StoreDispatchCounter numbers store dispatch records.
const StoreDispatchCounter = "storeDispatchNumber"

// DefaultScanSources maps counter names to the collections holding their ids.
var DefaultScanSources = map[string]ScanSource{
	"branchId":           {Table: "branches", Column: "branch_id", Prefix: "BR", Width: 3},
	"inventoryId":        {Table: "inventory", Column: "inventory_id", Prefix: "IU", Width: 3},
	"measureId":          {Table: "measures", Column: "measure_id", Prefix: "IU", Width: 3},
	"assetId":            {Table: "assets", Column: "asset_id", Prefix: "Asset", Width: 3},
	"variantId":          {Table: "variants", Column: "variant_id", Prefix: "Var", Width: 3},
	"subcategory":        {Table: "subcategories", Column: "subcategory_id", Prefix: "PS", Width: 3},
	"category":           {Table: "categories", Column: "category_id", Prefix: "PC", Width: 3},
	"wastageEntryNumber": {Table: "wastage_entries", Column: "wastage_entry_number", Prefix: "WE", Width: 4},
	"locationRandomId":   {Table: "locations", Column: "random_id", Prefix: "LOC-", Width: 3},
	"addOnId":            {Table: "add_ons", Column: "add_on_id", Prefix: "IC", Width: 3},
	StoreDispatchCounter: {Table: "store_dispatches", Column: "dispatch_number"},
}

const defaultGapFillRetries = 8

// CounterService allocates sequential integers per counter name
type CounterService struct {
	store      CounterStore
	sources    map[string]ScanSource
	maxRetries int
	logger     *zap.Logger
}

// NewCounterService creates a new counter service. A nil sources map means
// DefaultScanSources.
func NewCounterService(store CounterStore, sources map[string]ScanSource) *CounterService {
	if sources == nil {
		sources = DefaultScanSources
	}
	return &CounterService{
		store:      store,
		sources:    sources,
		maxRetries: defaultGapFillRetries,
		logger:     util.GetLogger(),
	}
}

// Next atomically increments the counter, creating it at 1, and returns the
// new value.
func (s *CounterService) Next(ctx context.Context, name string) (int64, error) {
	ctx, span := util.StartSpan(ctx, "CounterService.Next", "counter", name)
	defer span.End()

	if err := validateCounterName(name); err != nil {
		return 0, err
	}

	value, err := s.store.IncrementCounter(ctx, name)
	if err != nil {
		return 0, storageError("failed to allocate "+name, err)
	}

	util.CounterAllocationsTotal.WithLabelValues(metricName(name), "next").Inc()
	return value, nil
}

// Peek reads the counter without changing it; absent counters read 0.
func (s *CounterService) Peek(ctx context.Context, name string) (int64, error) {
	if err := validateCounterName(name); err != nil {
		return 0, err
	}
	value, err := s.store.GetCounter(ctx, name)
	if err != nil {
		return 0, storageError("failed to read "+name, err)
	}
	return value, nil
}

// Reset sets the counter back to 0.
func (s *CounterService) Reset(ctx context.Context, name string) error {
	ctx, span := util.StartSpan(ctx, "CounterService.Reset", "counter", name)
	defer span.End()

	if err := validateCounterName(name); err != nil {
		return err
	}
	if err := s.store.SetCounter(ctx, name, 0); err != nil {
		return storageError("failed to reset "+name, err)
	}

	util.CounterAllocationsTotal.WithLabelValues(metricName(name), "reset").Inc()
	s.logger.Info("Counter reset", zap.String("counter", name))
	return nil
}

// BackfillFromMax sets the counter to the largest suffix among the ids
// already stored for it, or 0 when there are none.
func (s *CounterService) BackfillFromMax(ctx context.Context, name string) (int64, error) {
	ctx, span := util.StartSpan(ctx, "CounterService.BackfillFromMax", "counter", name)
	defer span.End()

	suffixes, err := s.scan(ctx, name)
	if err != nil {
		return 0, err
	}

	highest := maxSuffix(suffixes)
	if err := s.store.SetCounter(ctx, name, highest); err != nil {
		return 0, storageError("failed to backfill "+name, err)
	}

	util.CounterAllocationsTotal.WithLabelValues(metricName(name), "backfill").Inc()
	s.logger.Info("Counter backfilled from existing ids",
		zap.String("counter", name),
		zap.Int64("value", highest),
		zap.Int("scanned", len(suffixes)))
	return highest, nil
}

// EnsureInitialized creates a missing counter at the current max suffix.
// An existing counter, including one reset to 0, is left alone.
func (s *CounterService) EnsureInitialized(ctx context.Context, name string) error {
	exists, err := s.store.CounterExists(ctx, name)
	if err != nil {
		return storageError("failed to check "+name, err)
	}
	if exists {
		return nil
	}

	suffixes, err := s.scan(ctx, name)
	if err != nil {
		return err
	}

	highest := maxSuffix(suffixes)
	created, err := s.store.InitCounter(ctx, name, highest)
	if err != nil {
		return storageError("failed to initialize "+name, err)
	}
	if created {
		s.logger.Info("Counter initialized from existing ids",
			zap.String("counter", name),
			zap.Int64("value", highest))
	}
	return nil
}

// NextWithGapFill returns the lowest free suffix above the counter, filling a
// hole in the existing ids when one sits there, and moves the counter to it.
// The counter update is a compare-and-set retried on conflict, so concurrent
// callers on any instance never receive the same value.
func (s *CounterService) NextWithGapFill(ctx context.Context, name string) (int64, error) {
	ctx, span := util.StartSpan(ctx, "CounterService.NextWithGapFill", "counter", name)
	defer span.End()

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		current, err := s.store.GetCounter(ctx, name)
		if err != nil {
			return 0, storageError("failed to read "+name, err)
		}

		suffixes, err := s.scan(ctx, name)
		if err != nil {
			return 0, err
		}

		next := gapFillCandidate(suffixes, current)

		ok, err := s.store.CompareAndSetCounter(ctx, name, current, next)
		if err != nil {
			return 0, storageError("failed to advance "+name, err)
		}
		if ok {
			util.CounterAllocationsTotal.WithLabelValues(metricName(name), "gap_fill").Inc()
			return next, nil
		}

		util.CounterGapFillRetriesTotal.Inc()
		s.logger.Debug("Gap-fill lost a race, retrying",
			zap.String("counter", name),
			zap.Int("attempt", attempt+1))
	}

	return 0, newError(ErrConflict, "counter %s is contended, gave up after %d attempts", name, s.maxRetries)
}

func (s *CounterService) scan(ctx context.Context, name string) ([]int64, error) {
	src, ok := s.sources[name]
	if !ok {
		return nil, newError(ErrNotFound, "no identifier source configured for counter %s", name)
	}

	ids, err := s.store.ListIdentifiers(ctx, src.Table, src.Column)
	if store.IsUndefinedTable(err) {
		return nil, &Error{
			Kind:    ErrNotFound,
			Message: fmt.Sprintf("identifier collection %s for counter %s does not exist", src.Table, name),
			Err:     err,
		}
	}
	if err != nil {
		return nil, storageError("failed to scan identifiers for "+name, err)
	}

	suffixes := make([]int64, 0, len(ids))
	for _, id := range ids {
		if n, ok := parseSuffix(id, src.Prefix, src.Width); ok {
			suffixes = append(suffixes, n)
		}
	}
	return suffixes, nil
}

// parseSuffix extracts the number from prefix+digits. At least width digits
// are required (one when width is 0); longer runs are accepted.
func parseSuffix(id, prefix string, width int) (int64, bool) {
	id = strings.TrimSpace(id)
	if !strings.HasPrefix(id, prefix) {
		return 0, false
	}
	digits := id[len(prefix):]
	if len(digits) == 0 || len(digits) < width {
		return 0, false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func maxSuffix(suffixes []int64) int64 {
	var max int64
	for _, n := range suffixes {
		if n > max {
			max = n
		}
	}
	return max
}

// gapFillCandidate walks the sorted suffixes from 1: the first hole wins,
// otherwise last+1. The result never falls at or below current and never
// repeats an existing suffix.
func gapFillCandidate(suffixes []int64, current int64) int64 {
	sorted := append([]int64(nil), suffixes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	expected := int64(1)
	result := int64(0)
	for _, n := range sorted {
		if n < expected {
			continue
		}
		if n > expected {
			result = expected
			break
		}
		expected = n + 1
	}
	if result == 0 {
		result = expected
	}
	if result < current+1 {
		result = current + 1
	}

	taken := make(map[int64]struct{}, len(sorted))
	for _, n := range sorted {
		taken[n] = struct{}{}
	}
	for {
		if _, ok := taken[result]; !ok {
			return result
		}
		result++
	}
}

func validateCounterName(name string) error {
	if strings.TrimSpace(name) == "" {
		return newError(ErrBadRequest, "counter name is required")
	}
	return nil
}

// metricName drops the date bucket so labels stay bounded.
func metricName(name string) string {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return name[:i]
	}
	return name
}
