package bill

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mveit/billscan/internal/currency"
	"github.com/mveit/billscan/internal/ocr"
	"github.com/mveit/billscan/internal/parser"
	"github.com/mveit/billscan/internal/preprocess"
	"github.com/mveit/billscan/internal/split"
)

// IDGenerator generates unique IDs for bills, items, and people.
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles bill operations: the scan pipeline and all session edits.
// Each scan is an independent pipeline; the service holds no per-scan state.
type Service struct {
	db              DB
	engine          ocr.Engine
	storage         Storage
	parser          *parser.Parser
	idGenerator     IDGenerator
	timeSource      TimeSource
	defaultCurrency string
}

// NewService creates a Service with default ID generator and time source.
func NewService(db DB, engine ocr.Engine, storage Storage, p *parser.Parser) *Service {
	return &Service{
		db:              db,
		engine:          engine,
		storage:         storage,
		parser:          p,
		idGenerator:     &uuidGenerator{},
		timeSource:      &defaultTimeSource{},
		defaultCurrency: currency.Default,
	}
}

// NewServiceWithDeps creates a Service with custom dependencies for testing.
func NewServiceWithDeps(db DB, engine ocr.Engine, storage Storage, p *parser.Parser, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:              db,
		engine:          engine,
		storage:         storage,
		parser:          p,
		idGenerator:     idGen,
		timeSource:      timeSrc,
		defaultCurrency: currency.Default,
	}
}

// SetDefaultCurrency changes the currency new bills get when the request
// names none. Unsupported codes are ignored.
func (s *Service) SetDefaultCurrency(code string) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if currency.Supported(code) {
		s.defaultCurrency = code
	}
}

// CreateBill starts a new splitting session. Unknown currency codes fall
// back to the default.
func (s *Service) CreateBill(currencyCode string) (*Bill, error) {
	if currencyCode == "" || !currency.Supported(currencyCode) {
		currencyCode = s.defaultCurrency
	}

	now := s.timeSource.Now()
	bill := &Bill{
		ID:          s.idGenerator.Generate(),
		Currency:    strings.ToUpper(currencyCode),
		Items:       []Item{},
		People:      []Person{},
		Assignments: map[string][]string{},
		Mode:        split.ModeEqual,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.db.SaveBill(bill); err != nil {
		return nil, fmt.Errorf("saving bill: %w", err)
	}
	return bill, nil
}

// ScanReceipt runs the extraction pipeline for one uploaded image:
// normalize, recognize, parse, then replace the bill's items with the
// parsed ones. A cancelled context stops the pipeline before parsing and
// leaves the bill untouched.
func (s *Service) ScanReceipt(ctx context.Context, billID, filename string, data []byte, contentType string, onProgress ocr.ProgressFunc) (*Bill, error) {
	bill, err := s.db.GetBill(billID)
	if err != nil {
		return nil, fmt.Errorf("getting bill: %w", err)
	}

	normalized, err := preprocess.Normalize(data, contentType)
	if err != nil {
		slog.Error("Failed to normalize image",
			"bill_id", billID,
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		return nil, err
	}

	text, err := s.engine.Recognize(ctx, normalized, onProgress)
	if err != nil {
		slog.Error("Recognition failed", "bill_id", billID, "error", err)
		return nil, err
	}

	// The engine may have finished after a cancel; a cancelled pipeline
	// must not parse or mutate the bill.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	items, err := s.parser.Parse(text)
	if err != nil {
		slog.Info("Parser produced no items", "bill_id", billID, "text_length", len(text))
		return nil, err
	}

	savedPath, err := s.storage.Save(fmt.Sprintf("%s%s", bill.ID, imageExtension(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving image: %w", err)
	}

	bill.Items = make([]Item, len(items))
	for i, item := range items {
		bill.Items[i] = Item{
			ID:       s.idGenerator.Generate(),
			Name:     item.Name,
			Price:    item.Price,
			Quantity: 1,
		}
	}
	// A rescanned bill's old assignments point at dead item IDs.
	bill.Assignments = map[string][]string{}
	bill.ImageFilename = savedPath
	bill.ImageContentType = contentType
	bill.UpdatedAt = s.timeSource.Now()

	if err := s.db.SaveBill(bill); err != nil {
		s.storage.Delete(savedPath)
		return nil, fmt.Errorf("saving bill: %w", err)
	}

	slog.Info("Receipt scanned", "bill_id", bill.ID, "items", len(bill.Items))
	return bill, nil
}

// GetBill retrieves a bill by ID
func (s *Service) GetBill(id string) (*Bill, error) {
	bill, err := s.db.GetBill(id)
	if err != nil {
		return nil, fmt.Errorf("getting bill: %w", err)
	}
	return bill, nil
}

// ListBills returns all bills
func (s *Service) ListBills() ([]*Bill, error) {
	bills, err := s.db.ListBills()
	if err != nil {
		return nil, fmt.Errorf("listing bills: %w", err)
	}
	return bills, nil
}

// DeleteBill removes a bill and its stored image.
func (s *Service) DeleteBill(id string) error {
	bill, err := s.db.GetBill(id)
	if err != nil {
		return fmt.Errorf("getting bill for deletion: %w", err)
	}

	if bill.ImageFilename != "" {
		if err := s.storage.Delete(bill.ImageFilename); err != nil {
			slog.Warn("Failed to delete image", "filename", bill.ImageFilename, "error", err)
		}
	}

	if err := s.db.DeleteBill(id); err != nil {
		return fmt.Errorf("deleting bill: %w", err)
	}
	return nil
}

// GetBillImage retrieves the stored receipt image for a bill.
func (s *Service) GetBillImage(id string) ([]byte, string, error) {
	bill, err := s.db.GetBill(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting bill: %w", err)
	}
	if bill.ImageFilename == "" {
		return nil, "", fmt.Errorf("bill %s has no image", id)
	}

	data, err := s.storage.Get(bill.ImageFilename)
	if err != nil {
		return nil, "", fmt.Errorf("getting bill image: %w", err)
	}
	return data, bill.ImageContentType, nil
}

// AddItem appends a manually entered item.
func (s *Service) AddItem(billID, name string, price int64, quantity int) (*Bill, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("item name is required")
	}
	if price < 0 {
		return nil, fmt.Errorf("item price cannot be negative")
	}
	if quantity < 1 {
		quantity = 1
	}

	return s.update(billID, func(bill *Bill) error {
		bill.Items = append(bill.Items, Item{
			ID:       s.idGenerator.Generate(),
			Name:     name,
			Price:    price,
			Quantity: quantity,
		})
		return nil
	})
}

// UpdateItem edits an existing item's name, price, or quantity.
func (s *Service) UpdateItem(billID, itemID string, name *string, price *int64, quantity *int) (*Bill, error) {
	return s.update(billID, func(bill *Bill) error {
		item := bill.Item(itemID)
		if item == nil {
			return fmt.Errorf("item not found: %s", itemID)
		}
		if name != nil {
			trimmed := strings.TrimSpace(*name)
			if trimmed == "" {
				return fmt.Errorf("item name is required")
			}
			item.Name = trimmed
		}
		if price != nil {
			if *price < 0 {
				return fmt.Errorf("item price cannot be negative")
			}
			item.Price = *price
		}
		if quantity != nil {
			if *quantity < 1 {
				return fmt.Errorf("item quantity must be at least 1")
			}
			item.Quantity = *quantity
		}
		return nil
	})
}

// DeleteItem removes an item and its assignment entry.
func (s *Service) DeleteItem(billID, itemID string) (*Bill, error) {
	return s.update(billID, func(bill *Bill) error {
		for i := range bill.Items {
			if bill.Items[i].ID == itemID {
				bill.Items = append(bill.Items[:i], bill.Items[i+1:]...)
				delete(bill.Assignments, itemID)
				return nil
			}
		}
		return fmt.Errorf("item not found: %s", itemID)
	})
}

// AddPerson adds a participant.
func (s *Service) AddPerson(billID, name string) (*Bill, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("person name is required")
	}

	return s.update(billID, func(bill *Bill) error {
		bill.People = append(bill.People, Person{
			ID:   s.idGenerator.Generate(),
			Name: name,
		})
		return nil
	})
}

// RemovePerson removes a participant and strips them from all assignments.
func (s *Service) RemovePerson(billID, personID string) (*Bill, error) {
	return s.update(billID, func(bill *Bill) error {
		found := false
		for i := range bill.People {
			if bill.People[i].ID == personID {
				bill.People = append(bill.People[:i], bill.People[i+1:]...)
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("person not found: %s", personID)
		}

		for itemID, assignees := range bill.Assignments {
			kept := assignees[:0]
			for _, id := range assignees {
				if id != personID {
					kept = append(kept, id)
				}
			}
			if len(kept) == 0 {
				delete(bill.Assignments, itemID)
			} else {
				bill.Assignments[itemID] = kept
			}
		}
		return nil
	})
}

// SetAssignment replaces the assignee set for one item. An empty set clears
// the entry, returning the item to unassigned.
func (s *Service) SetAssignment(billID, itemID string, personIDs []string) (*Bill, error) {
	return s.update(billID, func(bill *Bill) error {
		if bill.Item(itemID) == nil {
			return fmt.Errorf("item not found: %s", itemID)
		}
		var assignees []string
		seen := make(map[string]bool)
		for _, id := range personIDs {
			if bill.Person(id) == nil {
				return fmt.Errorf("person not found: %s", id)
			}
			if !seen[id] {
				seen[id] = true
				assignees = append(assignees, id)
			}
		}
		if len(assignees) == 0 {
			delete(bill.Assignments, itemID)
		} else {
			bill.Assignments[itemID] = assignees
		}
		return nil
	})
}

// BillUpdate carries the optional session-level knobs of PATCH /api/bills/{id}.
type BillUpdate struct {
	TaxPercent *float64
	TipPercent *float64
	Mode       *split.Mode
	Currency   *string
}

// UpdateBill applies tax/tip/mode/currency changes.
func (s *Service) UpdateBill(billID string, u BillUpdate) (*Bill, error) {
	return s.update(billID, func(bill *Bill) error {
		if u.TaxPercent != nil {
			bill.TaxPercent = *u.TaxPercent
		}
		if u.TipPercent != nil {
			bill.TipPercent = *u.TipPercent
		}
		if u.Mode != nil {
			if *u.Mode != split.ModeEqual && *u.Mode != split.ModeAssigned {
				return fmt.Errorf("unknown split mode: %s", *u.Mode)
			}
			bill.Mode = *u.Mode
		}
		if u.Currency != nil {
			code := strings.ToUpper(strings.TrimSpace(*u.Currency))
			if !currency.Supported(code) {
				return fmt.Errorf("unsupported currency: %s", code)
			}
			bill.Currency = code
		}
		return nil
	})
}

// ComputeSplit derives the current split result for a bill. The result is
// recomputed from scratch on every call, never cached or mutated.
func (s *Service) ComputeSplit(bill *Bill) (*split.Result, error) {
	items := make([]split.Item, len(bill.Items))
	for i, item := range bill.Items {
		items[i] = split.Item{
			ID:       item.ID,
			Name:     item.Name,
			Price:    item.Price,
			Quantity: item.Quantity,
		}
	}
	people := make([]split.Person, len(bill.People))
	for i, p := range bill.People {
		people[i] = split.Person{ID: p.ID, Name: p.Name}
	}

	return split.Calculate(items, people, split.Assignment(bill.Assignments), bill.TaxPercent, bill.TipPercent, bill.Mode)
}

// Summary renders the shareable plain-text result.
func (s *Service) Summary(bill *Bill) (string, error) {
	result, err := s.ComputeSplit(bill)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("Bill Split Result:\n\n")
	fmt.Fprintf(&b, "Total: %s\n\n", currency.Format(result.Total, bill.Currency))
	for _, p := range bill.People {
		fmt.Fprintf(&b, "%s: %s\n", p.Name, currency.Format(result.PerPerson[p.ID], bill.Currency))
	}
	return b.String(), nil
}

// update loads a bill, applies fn, stamps UpdatedAt, and saves.
func (s *Service) update(billID string, fn func(*Bill) error) (*Bill, error) {
	bill, err := s.db.GetBill(billID)
	if err != nil {
		return nil, fmt.Errorf("getting bill: %w", err)
	}
	if err := fn(bill); err != nil {
		return nil, err
	}
	bill.UpdatedAt = s.timeSource.Now()
	if err := s.db.SaveBill(bill); err != nil {
		return nil, fmt.Errorf("saving bill: %w", err)
	}
	return bill, nil
}

var extPattern = regexp.MustCompile(`^\.[a-zA-Z0-9]{1,5}$`)

// imageExtension pulls a safe file extension from an upload's filename.
func imageExtension(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if extPattern.MatchString(ext) {
		return ext
	}
	return ".img"
}
