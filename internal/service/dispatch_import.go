package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"backoffice-service/config"
	"backoffice-service/internal/models"
	"backoffice-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DispatchStore is the persistence the dispatch importer needs
type DispatchStore interface {
	ListItems(ctx context.Context) ([]models.Item, error)
	MaxDispatchNumber(ctx context.Context) (int64, bool, error)
	CreateDispatch(ctx context.Context, rec *models.DispatchRecord) error
	LatestDispatch(ctx context.Context) (*models.DispatchRecord, error)
}

// ImportRequest is one uploaded dispatch spreadsheet
type ImportRequest struct {
	Filename string
	Data     []byte
	Location string
	SentDate string
}

// ImportResult is the outcome of a successful import
type ImportResult struct {
	Record  *models.DispatchRecord
	Summary string
}

// csvRow is a candidate row before catalog validation
type csvRow struct {
	name         string
	varianceName string
	qty          string
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// DispatchImportService turns a store-dispatch spreadsheet into one
// composite dispatch record.
type DispatchImportService struct {
	store      DispatchStore
	counters   *CounterService
	publisher  EventPublisher
	clock      *util.Clock
	numberMode string
	logger     *zap.Logger
}

// NewDispatchImportService creates a new dispatch import service
func NewDispatchImportService(
	store DispatchStore,
	counters *CounterService,
	publisher EventPublisher,
	clock *util.Clock,
	numberMode string,
) *DispatchImportService {
	return &DispatchImportService{
		store:      store,
		counters:   counters,
		publisher:  publisher,
		clock:      clock,
		numberMode: numberMode,
		logger:     util.GetLogger(),
	}
}

// Import validates every row against the item catalog and, only if all rows
// pass, writes a single dispatch record. Nothing is written on failure.
func (s *DispatchImportService) Import(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	ctx, span := util.StartSpan(ctx, "DispatchImportService.Import", "location", req.Location)
	defer span.End()

	result, err := s.importCSV(ctx, req)
	if err != nil {
		util.DispatchImportsTotal.WithLabelValues(importFailureReason(err)).Inc()
		s.logger.Warn("Dispatch import rejected",
			zap.String("filename", req.Filename),
			zap.String("location", req.Location),
			zap.Error(err))
		return nil, err
	}

	util.DispatchImportsTotal.WithLabelValues("success").Inc()
	util.DispatchImportLines.Observe(float64(len(result.Record.Lines)))
	return result, nil
}

func (s *DispatchImportService) importCSV(ctx context.Context, req ImportRequest) (*ImportResult, error) {
	if !strings.EqualFold(filepath.Ext(req.Filename), ".csv") {
		return nil, newError(ErrBadRequest, "Import Failed: Only CSV files are allowed")
	}

	rows, err := parseDispatchCSV(req.Data)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, newError(ErrBadRequest, "No valid items with Qty found in CSV")
	}

	items, err := s.store.ListItems(ctx)
	if err != nil {
		return nil, storageError("Import Failed: could not load item catalog", err)
	}
	catalog := make(map[string]models.Item, len(items))
	for _, item := range items {
		catalog[strings.TrimSpace(item.ItemName)] = item
	}

	lines, err := buildDispatchLines(rows, catalog)
	if err != nil {
		return nil, err
	}

	number, err := s.dispatchNumber(ctx)
	if err != nil {
		return nil, err
	}

	rec := &models.DispatchRecord{
		DispatchNumber: number,
		Location:       strings.TrimSpace(req.Location),
		Lines:          lines,
		SentDate:       normalizeSentDate(req.SentDate),
		Status:         models.DispatchStatusActive,
		CreatedAt:      s.clock.Now(),
	}

	if err := s.store.CreateDispatch(ctx, rec); err != nil {
		return nil, storageError("Import Failed: could not save dispatch", err)
	}

	s.logger.Info("Dispatch imported",
		zap.Int64("dispatch_number", rec.DispatchNumber),
		zap.String("location", rec.Location),
		zap.Int("lines", len(rec.Lines)),
		zap.Int64("total_amount", rec.TotalAmount()))

	s.publishImported(ctx, rec)

	return &ImportResult{
		Record:  rec,
		Summary: fmt.Sprintf("Imported Successfully: %d items with dispatchNumber %d", len(lines), number),
	}, nil
}

// dispatchNumber either allocates from the dispatch counter or, in borrow
// mode, reuses the highest existing dispatch number.
func (s *DispatchImportService) dispatchNumber(ctx context.Context) (int64, error) {
	if s.numberMode == config.DispatchNumberBorrow {
		n, ok, err := s.store.MaxDispatchNumber(ctx)
		if err != nil {
			return 0, storageError("Import Failed: could not read latest dispatch", err)
		}
		if !ok {
			return 1, nil
		}
		return n, nil
	}

	if err := s.counters.EnsureInitialized(ctx, StoreDispatchCounter); err != nil {
		return 0, err
	}
	return s.counters.Next(ctx, StoreDispatchCounter)
}

func (s *DispatchImportService) publishImported(ctx context.Context, rec *models.DispatchRecord) {
	if s.publisher == nil {
		return
	}
	event := &models.DispatchImportedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeDispatchImported,
			Timestamp: time.Now(),
		},
		DispatchNumber: rec.DispatchNumber,
		Location:       rec.Location,
		Lines:          len(rec.Lines),
		TotalAmount:    rec.TotalAmount(),
	}
	if err := s.publisher.PublishDispatchImported(ctx, event); err != nil {
		s.logger.Error("Failed to publish DispatchImported event", zap.Error(err))
	}
}

// Latest returns the most recent dispatch record
func (s *DispatchImportService) Latest(ctx context.Context) (*models.DispatchRecord, error) {
	rec, err := s.store.LatestDispatch(ctx)
	if err != nil {
		return nil, storageError("no store dispatch found", err)
	}
	return rec, nil
}

// ResetCounter restarts dispatch numbering at 1
func (s *DispatchImportService) ResetCounter(ctx context.Context) error {
	return s.counters.Reset(ctx, StoreDispatchCounter)
}

// FormatDate renders a stored instant the way clients expect it
func (s *DispatchImportService) FormatDate(t time.Time) string {
	return s.clock.Format(t)
}

// parseDispatchCSV decodes the upload and keeps rows that carry both a name
// and a quantity.
func parseDispatchCSV(data []byte) ([]csvRow, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return nil, newError(ErrBadRequest, "Import Failed: CSV must be UTF-8 encoded")
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, &Error{Kind: ErrBadRequest, Message: "Import Failed: could not read CSV", Err: err}
	}

	nameCol, varianceCol, qtyCol := -1, -1, -1
	for i, h := range header {
		switch normalizeHeader(h) {
		case "itemname":
			nameCol = i
		case "variancename":
			varianceCol = i
		case "qty":
			qtyCol = i
		}
	}
	if (nameCol < 0 && varianceCol < 0) || qtyCol < 0 {
		return nil, newError(ErrBadRequest, "Import Failed: CSV must contain ItemName (or VarianceName) and Qty columns")
	}

	var rows []csvRow
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &Error{Kind: ErrBadRequest, Message: "Import Failed: could not read CSV", Err: err}
		}

		name := strings.TrimSpace(cell(record, nameCol))
		variance := strings.TrimSpace(cell(record, varianceCol))
		if name == "" {
			name = variance
		}
		if variance == "" {
			variance = name
		}
		qty := strings.TrimSpace(cell(record, qtyCol))
		if name == "" || qty == "" {
			continue
		}
		rows = append(rows, csvRow{name: name, varianceName: variance, qty: qty})
	}
	return rows, nil
}

// buildDispatchLines checks every row against the catalog and splits each
// quantity into a count or a weight. Any bad row rejects the whole file.
func buildDispatchLines(rows []csvRow, catalog map[string]models.Item) ([]models.DispatchLine, error) {
	var missing []string
	seenMissing := map[string]bool{}
	for _, row := range rows {
		if _, ok := catalog[row.name]; !ok && !seenMissing[row.name] {
			seenMissing[row.name] = true
			missing = append(missing, row.name)
		}
	}
	if len(missing) > 0 {
		return nil, newError(ErrCatalogMismatch,
			"Import Failed: Items not found in Item Master: %s", bracketList(missing))
	}

	lines := make([]models.DispatchLine, 0, len(rows))
	var invalid []string
	for _, row := range rows {
		item := catalog[row.name]

		value, err := strconv.ParseFloat(row.qty, 64)
		if err != nil || math.IsNaN(value) || math.IsInf(value, 0) || value <= 0 {
			invalid = append(invalid, row.name)
			continue
		}

		line := models.DispatchLine{
			ItemName:     item.ItemName,
			VarianceName: row.varianceName,
			UOM:          item.UOM,
			ItemCode:     item.ItemCode,
			Price:        item.PurchasePrice,
		}
		if item.WeightBased() {
			line.Weight = value
			line.Amount = int64(value * float64(line.Price))
		} else {
			line.Qty = int64(value)
			if line.Qty == 0 {
				invalid = append(invalid, row.name)
				continue
			}
			line.Amount = line.Qty * line.Price
		}
		lines = append(lines, line)
	}
	if len(invalid) > 0 {
		return nil, newError(ErrValidationFailure,
			"Import Failed: Invalid Qty for items: %s. Only positive numbers allowed.", bracketList(invalid))
	}
	return lines, nil
}

// normalizeSentDate stores parseable ISO-8601 input as "YYYY-MM-DD HH:MM:SS"
// keeping the wall-clock time given; anything else is kept verbatim.
func normalizeSentDate(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	layouts := []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01-02 15:04:05")
		}
	}
	return raw
}

func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, h)
}

func cell(record []string, i int) string {
	if i < 0 || i >= len(record) {
		return ""
	}
	return record[i]
}

func bracketList(names []string) string {
	return "[" + strings.Join(names, ", ") + "]"
}

func importFailureReason(err error) string {
	switch {
	case errors.Is(err, ErrCatalogMismatch):
		return "catalog_mismatch"
	case errors.Is(err, ErrValidationFailure):
		return "invalid_qty"
	case errors.Is(err, ErrBadRequest):
		return "bad_request"
	case errors.Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	}
	return "error"
}
