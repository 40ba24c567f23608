package shopping

import (
	"math"
	"sort"
	"strings"

	"meal-planner/internal/recipe"
)

type itemKey struct {
	name string
	unit string
}

// Aggregate flattens the ingredient lists of recipes, one entry per meal
// occurrence, into derived shopping items. Lines with the same name and unit
// are summed, with singular and plural spellings counted as one name; lines
// whose units differ stay separate. Items come back in store-walk order.
func Aggregate(recipes []recipe.Recipe) []Item {
	totals := make(map[itemKey]float64)
	names := make(map[itemKey]string)
	var order []itemKey

	for _, rec := range recipes {
		for _, ing := range rec.Ingredients {
			name := normalizeName(ing.Name)
			if name == "" {
				continue
			}
			unit, _ := recipe.NormalizeUnit(ing.Unit)
			key := itemKey{name: groupingName(name), unit: unit}
			if _, seen := totals[key]; !seen {
				order = append(order, key)
				names[key] = name
			} else if shorterName(name, names[key]) {
				names[key] = name
			}
			totals[key] += ing.Quantity
		}
	}

	items := make([]Item, 0, len(order))
	for _, key := range order {
		name := names[key]
		items = append(items, Item{
			Name:     name,
			Quantity: roundQuantity(totals[key]),
			Unit:     key.unit,
			Category: Categorize(name),
		})
	}
	sortItems(items)
	return items
}

func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// groupingName singularizes the last word, so "2 eggs" and "1 egg" share a
// line.
func groupingName(name string) string {
	i := strings.LastIndex(name, " ")
	return name[:i+1] + singular(name[i+1:])
}

// shorterName picks the spelling shown for a group independent of the order
// recipes were read in.
func shorterName(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

// roundQuantity trims float noise from sums such as 1/3 + 2/3.
func roundQuantity(q float64) float64 {
	return math.Round(q*1000) / 1000
}

// sortItems orders items by category walk order, derived before manual,
// then by name and unit.
func sortItems(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if ra, rb := a.Category.rank(), b.Category.rank(); ra != rb {
			return ra < rb
		}
		if a.Manual != b.Manual {
			return !a.Manual
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Unit < b.Unit
	})
}
