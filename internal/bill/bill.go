package bill

import (
	"time"

	"github.com/mveit/billscan/internal/split"
)

// Item is a single purchasable entry on the bill. Identity is immutable once
// created; contents change only through explicit edits.
type Item struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Price    int64  `json:"price"` // minor units, per unit
	Quantity int    `json:"quantity"`
}

// Person is one participant. Identity is stable for the session.
type Person struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Bill is one receipt-splitting session: the scanned (or manually entered)
// items, the people, who shares what, and the tax/tip knobs.
type Bill struct {
	ID       string   `json:"id"`
	Currency string   `json:"currency"`
	Items    []Item   `json:"items"`
	People   []Person `json:"people"`
	// Assignments maps item ID to the person IDs sharing the item. A
	// missing entry means unassigned.
	Assignments map[string][]string `json:"assignments"`
	TaxPercent  float64             `json:"tax_percent"`
	TipPercent  float64             `json:"tip_percent"`
	Mode        split.Mode          `json:"mode"`
	// ImageFilename points at the stored receipt image, when one was
	// uploaded.
	ImageFilename    string    `json:"image_filename,omitempty"`
	ImageContentType string    `json:"image_content_type,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Item returns the item with the given ID, or nil.
func (b *Bill) Item(id string) *Item {
	for i := range b.Items {
		if b.Items[i].ID == id {
			return &b.Items[i]
		}
	}
	return nil
}

// Person returns the person with the given ID, or nil.
func (b *Bill) Person(id string) *Person {
	for i := range b.People {
		if b.People[i].ID == id {
			return &b.People[i]
		}
	}
	return nil
}
