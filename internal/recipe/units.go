package recipe

import "strings"

// unitAliases maps spellings to a canonical unit. This is spelling
// normalisation only: no conversion between units ever happens.
var unitAliases = map[string]string{
	"cup": "cup", "cups": "cup", "c": "cup",
	"tbsp": "tbsp", "tbsps": "tbsp", "tablespoon": "tbsp", "tablespoons": "tbsp", "tbs": "tbsp",
	"tsp": "tsp", "tsps": "tsp", "teaspoon": "tsp", "teaspoons": "tsp",
	"g": "g", "gram": "g", "grams": "g", "gr": "g",
	"kg": "kg", "kilogram": "kg", "kilograms": "kg",
	"mg": "mg",
	"ml": "ml", "milliliter": "ml", "milliliters": "ml", "millilitre": "ml", "millilitres": "ml",
	"l": "l", "liter": "l", "liters": "l", "litre": "l", "litres": "l",
	"oz": "oz", "ounce": "oz", "ounces": "oz",
	"lb": "lb", "lbs": "lb", "pound": "lb", "pounds": "lb",
	"pinch": "pinch", "pinches": "pinch",
	"clove": "clove", "cloves": "clove",
	"can": "can", "cans": "can",
	"slice": "slice", "slices": "slice",
	"bunch": "bunch", "bunches": "bunch",
	"piece": "piece", "pieces": "piece", "pc": "piece", "pcs": "piece",
	"package": "package", "packages": "package", "pkg": "package",
	"stick": "stick", "sticks": "stick",
}

// NormalizeUnit returns the canonical spelling of a unit and whether it is a
// known unit. Unknown units are returned lower-cased and trimmed.
func NormalizeUnit(unit string) (string, bool) {
	u := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(unit)), ".")
	if canonical, ok := unitAliases[u]; ok {
		return canonical, true
	}
	return u, false
}
