package order

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/voxkiosk/voxkiosk/pkg/provider/embeddings"
	"github.com/voxkiosk/voxkiosk/pkg/types"
)

// defaultSemanticDistanceMax is the largest cosine distance at which a
// semantic menu match is still offered to the customer.
const defaultSemanticDistanceMax = 0.35

// Manager applies resolved intents to a session's order. It owns menu name
// resolution, including the semantic fallback for spoken references that
// miss every exact name and alias.
//
// Manager is safe for concurrent use; per-session write serialization is the
// caller's responsibility.
type Manager struct {
	menu     *Menu
	store    Store
	index    MenuIndex
	embedder embeddings.Provider
	maxDist  float64
	logger   *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithSemanticIndex enables semantic menu resolution through the given index
// and embedding provider.
func WithSemanticIndex(index MenuIndex, embedder embeddings.Provider) ManagerOption {
	return func(m *Manager) {
		m.index = index
		m.embedder = embedder
	}
}

// WithSemanticDistanceMax overrides the semantic match acceptance distance.
func WithSemanticDistanceMax(d float64) ManagerOption {
	return func(m *Manager) {
		m.maxDist = d
	}
}

// WithManagerLogger sets the logger. Defaults to [slog.Default].
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a Manager over the given menu and order store.
func NewManager(menu *Menu, store Store, opts ...ManagerOption) (*Manager, error) {
	if menu == nil {
		return nil, errors.New("order: menu must not be nil")
	}
	if store == nil {
		return nil, errors.New("order: store must not be nil")
	}
	m := &Manager{
		menu:    menu,
		store:   store,
		maxDist: defaultSemanticDistanceMax,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Menu returns the catalog this manager resolves against.
func (m *Manager) Menu() *Menu {
	return m.menu
}

// IndexMenu embeds every menu item and upserts it into the semantic index.
// Call once at startup after catalog changes. A no-op without an index.
func (m *Manager) IndexMenu(ctx context.Context) error {
	if m.index == nil || m.embedder == nil {
		return nil
	}

	items := m.menu.Items()
	texts := make([]string, len(items))
	for i, item := range items {
		texts[i] = item.Name
		if item.Description != "" {
			texts[i] += ". " + item.Description
		}
	}

	vectors, err := m.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("order: embed menu: %w", err)
	}
	if len(vectors) != len(items) {
		return fmt.Errorf("order: embed menu: got %d vectors for %d items", len(vectors), len(items))
	}
	for i, item := range items {
		if err := m.index.IndexMenuItem(ctx, item.ID, vectors[i]); err != nil {
			return fmt.Errorf("order: index %s: %w", item.ID, err)
		}
	}
	m.logger.Info("menu indexed for semantic lookup",
		"items", len(items), "model", m.embedder.ModelID())
	return nil
}

// ResolveItem maps a spoken item reference onto the menu. exact reports
// whether the match came from the catalog names rather than the semantic
// index; inexact matches should be confirmed with the customer before
// charging for them.
func (m *Manager) ResolveItem(ctx context.Context, name string) (item MenuItem, exact bool, err error) {
	if item, ok := m.menu.Lookup(name); ok {
		return item, true, nil
	}
	if m.index == nil || m.embedder == nil {
		return MenuItem{}, false, fmt.Errorf("order: unknown menu item %q", name)
	}

	vec, err := m.embedder.Embed(ctx, name)
	if err != nil {
		return MenuItem{}, false, fmt.Errorf("order: embed %q: %w", name, err)
	}
	matches, err := m.index.SearchMenu(ctx, vec, 1)
	if err != nil {
		return MenuItem{}, false, fmt.Errorf("order: search menu for %q: %w", name, err)
	}
	if len(matches) == 0 || matches[0].Distance > m.maxDist {
		return MenuItem{}, false, fmt.Errorf("order: unknown menu item %q", name)
	}

	item, ok := m.menu.ByID(matches[0].MenuItemID)
	if !ok {
		return MenuItem{}, false, fmt.Errorf("order: index references unknown item %q", matches[0].MenuItemID)
	}
	m.logger.Debug("resolved item semantically",
		"spoken", name, "item", item.Name, "distance", matches[0].Distance)
	return item, false, nil
}

// AddResult reports what AddItems changed.
type AddResult struct {
	// Order is the updated order.
	Order *Order

	// Added lists the line items appended or merged.
	Added []LineItem

	// Uncertain lists added items that were resolved semantically rather
	// than by exact name; the dialogue layer should confirm them.
	Uncertain []LineItem

	// Unresolved lists spoken references that matched nothing.
	Unresolved []string
}

// AddItems resolves the given entities against the menu and appends them to
// the session's open order, creating one if needed. Entities that resolve to
// an existing line item with the same modification merge into its quantity.
func (m *Manager) AddItems(ctx context.Context, sessionID string, entities []types.Entity) (*AddResult, error) {
	if len(entities) == 0 {
		return nil, errors.New("order: no items to add")
	}

	o, err := m.openOrCreate(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	res := &AddResult{Order: o}
	for _, e := range entities {
		item, exact, err := m.ResolveItem(ctx, e.MenuItem)
		if err != nil {
			m.logger.Warn("unresolved menu reference", "spoken", e.MenuItem, "error", err)
			res.Unresolved = append(res.Unresolved, e.MenuItem)
			continue
		}

		qty := e.Quantity
		if qty <= 0 {
			qty = 1
		}
		li := LineItem{
			MenuItemID:   item.ID,
			Name:         item.Name,
			UnitPrice:    item.Price,
			Quantity:     qty,
			Modification: e.Modification,
		}

		merged := false
		for i := range o.Items {
			if o.Items[i].MenuItemID == li.MenuItemID && o.Items[i].Modification == li.Modification {
				o.Items[i].Quantity += li.Quantity
				merged = true
				break
			}
		}
		if !merged {
			o.Items = append(o.Items, li)
		}

		res.Added = append(res.Added, li)
		if !exact {
			res.Uncertain = append(res.Uncertain, li)
		}
	}

	if len(res.Added) == 0 {
		return res, nil
	}
	if err := m.save(ctx, o); err != nil {
		return nil, err
	}
	return res, nil
}

// ModifyItems updates quantity or modification of items already on the
// session's order. A quantity of zero removes the line item. Entities that
// reference items not on the order are reported back unresolved.
func (m *Manager) ModifyItems(ctx context.Context, sessionID string, entities []types.Entity) (*AddResult, error) {
	if len(entities) == 0 {
		return nil, errors.New("order: no items to modify")
	}
	o, err := m.store.OpenOrderForSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("order: load order: %w", err)
	}
	if o == nil {
		return nil, errors.New("order: no open order to modify")
	}

	res := &AddResult{Order: o}
	for _, e := range entities {
		item, _, err := m.ResolveItem(ctx, e.MenuItem)
		if err != nil {
			res.Unresolved = append(res.Unresolved, e.MenuItem)
			continue
		}

		found := false
		for i := range o.Items {
			if o.Items[i].MenuItemID != item.ID {
				continue
			}
			found = true
			if e.Quantity == 0 {
				o.Items = append(o.Items[:i], o.Items[i+1:]...)
			} else {
				if e.Quantity > 0 {
					o.Items[i].Quantity = e.Quantity
				}
				if e.Modification != "" {
					o.Items[i].Modification = e.Modification
				}
				res.Added = append(res.Added, o.Items[i])
			}
			break
		}
		if !found {
			res.Unresolved = append(res.Unresolved, e.MenuItem)
		}
	}

	if err := m.save(ctx, o); err != nil {
		return nil, err
	}
	return res, nil
}

// CancelOrder marks the session's open order cancelled. Returns the
// cancelled order, or nil when the session had none.
func (m *Manager) CancelOrder(ctx context.Context, sessionID string) (*Order, error) {
	o, err := m.store.OpenOrderForSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("order: load order: %w", err)
	}
	if o == nil {
		return nil, nil
	}
	o.Status = StatusCancelled
	if err := m.save(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// CurrentOrder returns the session's open order, or nil when there is none.
func (m *Manager) CurrentOrder(ctx context.Context, sessionID string) (*Order, error) {
	o, err := m.store.OpenOrderForSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("order: load order: %w", err)
	}
	return o, nil
}

// MarkPaid records a successful payment against the order.
func (m *Manager) MarkPaid(ctx context.Context, orderID, transactionID string) error {
	o, err := m.store.GetOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("order: load order: %w", err)
	}
	if o == nil {
		return fmt.Errorf("order: order %s not found", orderID)
	}
	o.Status = StatusPaid
	o.TransactionID = transactionID
	return m.save(ctx, o)
}

func (m *Manager) openOrCreate(ctx context.Context, sessionID string) (*Order, error) {
	o, err := m.store.OpenOrderForSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("order: load order: %w", err)
	}
	if o == nil {
		o = NewOrder(sessionID)
	}
	return o, nil
}

func (m *Manager) save(ctx context.Context, o *Order) error {
	o.UpdatedAt = time.Now()
	if err := m.store.SaveOrder(ctx, o); err != nil {
		return fmt.Errorf("order: save order: %w", err)
	}
	return nil
}
