package tools

import (
	"context"
	"fmt"
	"strings"
)

func (r *Registry) registerShoppingTools() {
	r.Register(&Tool{
		Name:        "shopping_add_item",
		Description: "Add one item to the shopping list. Call once per item.",
		Parameters: objectSchema([]string{"item"}, map[string]any{
			"item": prop("string", "A single item, e.g. milk"),
		}),
		Handler: r.handleShoppingAdd,
	})

	r.Register(&Tool{
		Name:        "shopping_remove_item",
		Description: "Remove one item from the shopping list. Call once per item.",
		Parameters: objectSchema([]string{"item"}, map[string]any{
			"item": prop("string", "A single item, e.g. milk"),
		}),
		Handler: r.handleShoppingRemove,
	})

	r.Register(&Tool{
		Name:        "shopping_list_all",
		Description: "List the items on the shopping list.",
		Parameters:  objectSchema(nil, map[string]any{}),
		Handler:     r.handleShoppingList,
	})
}

func (r *Registry) handleShoppingAdd(ctx context.Context, args map[string]any) (string, error) {
	item := stringArg(args, "item")
	if item == "" {
		return "", errMissingArgs("item")
	}
	if err := r.deps.Shopping.AddItem(ctx, item); err != nil {
		return "", err
	}
	return fmt.Sprintf("Added %s to the shopping list.", item), nil
}

func (r *Registry) handleShoppingRemove(ctx context.Context, args map[string]any) (string, error) {
	item := stringArg(args, "item")
	if item == "" {
		return "", errMissingArgs("item")
	}
	if err := r.deps.Shopping.RemoveItem(ctx, item); err != nil {
		return "", err
	}
	return fmt.Sprintf("Removed %s from the shopping list.", item), nil
}

func (r *Registry) handleShoppingList(ctx context.Context, _ map[string]any) (string, error) {
	items, err := r.deps.Shopping.Items(ctx)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return "The shopping list is empty.", nil
	}
	return "Shopping list: " + strings.Join(items, ", "), nil
}
