package order

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// MenuItem is one entry in the kiosk's menu catalog.
type MenuItem struct {
	// ID is the stable catalog identifier.
	ID string `yaml:"id"`

	// Name is the primary display name, usually Korean.
	Name string `yaml:"name"`

	// Aliases are alternative spoken names ("불고기버거" for "불고기 버거",
	// romanizations, shorthand).
	Aliases []string `yaml:"aliases"`

	// Description is used for the semantic index and spoken menu inquiries.
	Description string `yaml:"description"`

	// Category groups items ("버거", "사이드", "음료").
	Category string `yaml:"category"`

	// Price is the unit price in whole won.
	Price int64 `yaml:"price"`
}

// Menu is the immutable menu catalog. Build one with LoadMenu or NewMenu at
// startup; lookups are safe for concurrent use.
type Menu struct {
	items  []MenuItem
	byName map[string]*MenuItem
}

// menuFile mirrors the YAML document layout.
type menuFile struct {
	Items []MenuItem `yaml:"items"`
}

// LoadMenu reads a menu catalog from a YAML file.
func LoadMenu(path string) (*Menu, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("order: read menu: %w", err)
	}

	var doc menuFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("order: parse menu %s: %w", path, err)
	}
	return NewMenu(doc.Items)
}

// NewMenu builds a Menu from the given items. Item IDs and names must be
// unique after normalization.
func NewMenu(items []MenuItem) (*Menu, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("order: menu must not be empty")
	}

	m := &Menu{
		items:  make([]MenuItem, len(items)),
		byName: make(map[string]*MenuItem),
	}
	copy(m.items, items)

	seen := make(map[string]bool)
	for i := range m.items {
		item := &m.items[i]
		if item.ID == "" || item.Name == "" {
			return nil, fmt.Errorf("order: menu item %d missing id or name", i)
		}
		if seen[item.ID] {
			return nil, fmt.Errorf("order: duplicate menu item id %q", item.ID)
		}
		seen[item.ID] = true
		if item.Price < 0 {
			return nil, fmt.Errorf("order: menu item %q has negative price", item.ID)
		}

		for _, name := range append([]string{item.Name}, item.Aliases...) {
			key := normalizeName(name)
			if key == "" {
				continue
			}
			if existing, ok := m.byName[key]; ok && existing.ID != item.ID {
				return nil, fmt.Errorf("order: name %q maps to both %q and %q", name, existing.ID, item.ID)
			}
			m.byName[key] = item
		}
	}
	return m, nil
}

// Items returns all menu items in catalog order.
func (m *Menu) Items() []MenuItem {
	out := make([]MenuItem, len(m.items))
	copy(out, m.items)
	return out
}

// Lookup finds a menu item by exact name or alias after normalization.
func (m *Menu) Lookup(name string) (MenuItem, bool) {
	item, ok := m.byName[normalizeName(name)]
	if !ok {
		return MenuItem{}, false
	}
	return *item, true
}

// ByID finds a menu item by its catalog identifier.
func (m *Menu) ByID(id string) (MenuItem, bool) {
	for _, item := range m.items {
		if item.ID == id {
			return item, true
		}
	}
	return MenuItem{}, false
}

// Vocabulary returns every name and alias in the catalog, for transcript
// correction and the phonetic classification instruction.
func (m *Menu) Vocabulary() []string {
	var vocab []string
	for _, item := range m.items {
		vocab = append(vocab, item.Name)
		vocab = append(vocab, item.Aliases...)
	}
	return vocab
}

// normalizeName lowercases and collapses whitespace so "빅맥  세트" and
// "빅맥 세트" address the same item.
func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
