package homeassistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// ShoppingList is the shopping list collaborator backed by the
// shopping_list integration.
type ShoppingList struct {
	client *Client
	ws     *WSClient
	logger *slog.Logger
}

// NewShoppingList creates the adapter. ws may be nil; reads then use the
// REST endpoint.
func NewShoppingList(client *Client, ws *WSClient, logger *slog.Logger) *ShoppingList {
	if logger == nil {
		logger = slog.Default()
	}
	return &ShoppingList{client: client, ws: ws, logger: logger}
}

// AddItem adds one item.
func (s *ShoppingList) AddItem(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("empty shopping item")
	}
	if err := s.client.CallService(ctx, "shopping_list", "add_item", map[string]any{"name": name}); err != nil {
		return fmt.Errorf("add %q: %w", name, err)
	}
	return nil
}

// RemoveItem removes one item. The integration matches names exactly, so
// the stored spelling is looked up first and used when it differs only
// in case.
func (s *ShoppingList) RemoveItem(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("empty shopping item")
	}
	items, err := s.items(ctx)
	if err != nil {
		return err
	}
	stored := ""
	for _, it := range items {
		if !it.Complete && strings.EqualFold(it.Name, name) {
			stored = it.Name
			break
		}
	}
	if stored == "" {
		return fmt.Errorf("%q is not on the shopping list", name)
	}
	if err := s.client.CallService(ctx, "shopping_list", "remove_item", map[string]any{"name": stored}); err != nil {
		return fmt.Errorf("remove %q: %w", stored, err)
	}
	return nil
}

// Items returns the names of the items still to buy.
func (s *ShoppingList) Items(ctx context.Context) ([]string, error) {
	items, err := s.items(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(items))
	for _, it := range items {
		if !it.Complete {
			names = append(names, it.Name)
		}
	}
	return names, nil
}

func (s *ShoppingList) items(ctx context.Context) ([]ShoppingItem, error) {
	if s.ws != nil && s.ws.Connected() {
		items, err := s.ws.ShoppingListItems(ctx)
		if err == nil {
			return items, nil
		}
		s.logger.Debug("websocket shopping list read failed, using REST", "error", err)
	}
	items, err := s.client.GetShoppingList(ctx)
	if err != nil {
		return nil, fmt.Errorf("get shopping list: %w", err)
	}
	return items, nil
}
