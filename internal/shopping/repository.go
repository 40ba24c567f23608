package shopping

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"meal-planner/internal/database"
)

// Repository handles persistence of shopping lists.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a new shopping list repository.
func NewRepository(d *sql.DB) *Repository {
	return &Repository{db: d}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// GetByMealPlanID retrieves a shopping list by meal plan ID.
func (r *Repository) GetByMealPlanID(ctx context.Context, mealPlanID string) (*ShoppingList, error) {
	return getList(ctx, r.db, mealPlanID)
}

func getList(ctx context.Context, q querier, mealPlanID string) (*ShoppingList, error) {
	var (
		list        ShoppingList
		generatedAt sql.NullTime
	)
	err := q.QueryRowContext(ctx, `SELECT id, meal_plan_id, generated_version, generated_at, is_stale FROM shopping_lists WHERE meal_plan_id = ?`, mealPlanID).
		Scan(&list.ID, &list.MealPlanID, &list.GeneratedVersion, &generatedAt, &list.Stale)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No shopping list found
		}
		return nil, fmt.Errorf("failed to get shopping list by meal plan ID: %w", err)
	}
	list.GeneratedAt = generatedAt.Time

	rows, err := q.QueryContext(ctx, `
		SELECT id, name, quantity, unit, category, is_checked, is_manual
		FROM shopping_list_items WHERE shopping_list_id = ? ORDER BY sort_order, name`, list.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list shopping list items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it Item
		var category string
		if err := rows.Scan(&it.ID, &it.Name, &it.Quantity, &it.Unit, &category, &it.Checked, &it.Manual); err != nil {
			return nil, fmt.Errorf("failed to scan shopping list item: %w", err)
		}
		it.Category = ParseCategory(category)
		list.Items = append(list.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortItems(list.Items)
	return &list, nil
}

// ensureList creates the list row for a plan if missing and returns its id
// and recorded version.
func ensureList(ctx context.Context, tx *sql.Tx, mealPlanID string) (string, int64, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO shopping_lists (id, meal_plan_id, generated_version) VALUES (?, ?, -1)
		ON CONFLICT (meal_plan_id) DO NOTHING`, uuid.NewString(), mealPlanID)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create shopping list: %w", err)
	}

	var id string
	var version int64
	err = tx.QueryRowContext(ctx, `SELECT id, generated_version FROM shopping_lists WHERE meal_plan_id = ?`, mealPlanID).Scan(&id, &version)
	if err != nil {
		return "", 0, fmt.Errorf("failed to load shopping list: %w", err)
	}
	return id, version, nil
}

// ReplaceDerived swaps all derived items of a plan's list for items and
// records the plan version they were computed from, and whether any of the
// recipes behind them was a stale copy. Manual items are left untouched. A
// write computed from an older plan version than the one already recorded is
// dropped.
func (r *Repository) ReplaceDerived(ctx context.Context, mealPlanID string, planVersion, recordVersion int64, stale bool, items []Item) (*ShoppingList, error) {
	var list *ShoppingList
	err := database.InTx(ctx, r.db, func(tx *sql.Tx) error {
		listID, current, err := ensureList(ctx, tx, mealPlanID)
		if err != nil {
			return err
		}

		if current <= planVersion {
			if _, err := tx.ExecContext(ctx, `DELETE FROM shopping_list_items WHERE shopping_list_id = ? AND is_manual = 0`, listID); err != nil {
				return fmt.Errorf("failed to clear derived items: %w", err)
			}
			for i, it := range items {
				_, err := tx.ExecContext(ctx, `
					INSERT INTO shopping_list_items (id, shopping_list_id, name, quantity, unit, category, is_checked, is_manual, sort_order)
					VALUES (?, ?, ?, ?, ?, ?, 0, 0, ?)`,
					derivedItemID(listID, it), listID, it.Name, it.Quantity, it.Unit, string(it.Category), i,
				)
				if err != nil {
					return fmt.Errorf("failed to insert shopping list item %s: %w", it.Name, err)
				}
			}
			_, err = tx.ExecContext(ctx, `UPDATE shopping_lists SET generated_version = ?, generated_at = ?, is_stale = ? WHERE id = ?`,
				recordVersion, time.Now().UTC(), stale, listID)
			if err != nil {
				return fmt.Errorf("failed to mark shopping list generated: %w", err)
			}
		}

		list, err = getList(ctx, tx, mealPlanID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// derivedItemID is stable for a (list, name, unit) triple, so regenerating
// an unchanged plan yields identical items.
func derivedItemID(listID string, it Item) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(listID+"|"+it.Name+"|"+it.Unit)).String()
}

// AddManualItem stores a user-entered item on a plan's list, creating the
// list if needed.
func (r *Repository) AddManualItem(ctx context.Context, mealPlanID string, it Item) (*Item, error) {
	it.ID = uuid.NewString()
	it.Manual = true

	err := database.InTx(ctx, r.db, func(tx *sql.Tx) error {
		listID, _, err := ensureList(ctx, tx, mealPlanID)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO shopping_list_items (id, shopping_list_id, name, quantity, unit, category, is_checked, is_manual, sort_order)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1, (SELECT COALESCE(MAX(sort_order) + 1, 0) FROM shopping_list_items WHERE shopping_list_id = ?))`,
			it.ID, listID, it.Name, it.Quantity, it.Unit, string(it.Category), it.Checked, listID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert manual item: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &it, nil
}

// SetChecked updates the checked flag of an item on a plan's list.
func (r *Repository) SetChecked(ctx context.Context, mealPlanID, itemID string, checked bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE shopping_list_items SET is_checked = ?
		WHERE id = ? AND shopping_list_id = (SELECT id FROM shopping_lists WHERE meal_plan_id = ?)`,
		checked, itemID, mealPlanID)
	if err != nil {
		return fmt.Errorf("failed to update shopping list item: %w", err)
	}
	return requireAffected(res, itemID)
}

// DeleteManualItem removes a user-entered item. Derived items cannot be
// deleted; they go away when the plan no longer needs them.
func (r *Repository) DeleteManualItem(ctx context.Context, mealPlanID, itemID string) error {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM shopping_list_items
		WHERE id = ? AND is_manual = 1 AND shopping_list_id = (SELECT id FROM shopping_lists WHERE meal_plan_id = ?)`,
		itemID, mealPlanID)
	if err != nil {
		return fmt.Errorf("failed to delete shopping list item: %w", err)
	}
	return requireAffected(res, itemID)
}

func requireAffected(res sql.Result, itemID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, itemID)
	}
	return nil
}
