package shopping

import "strings"

// categoryTable maps ingredient names (singular, lower case) to a store
// section. Multi-word entries are matched before single words.
var categoryTable = map[string]Category{
	// produce
	"apple": Produce, "avocado": Produce, "banana": Produce, "basil": Produce, "bell pepper": Produce,
	"broccoli": Produce, "cabbage": Produce, "carrot": Produce, "celery": Produce, "cilantro": Produce,
	"cucumber": Produce, "garlic": Produce, "ginger": Produce, "kale": Produce, "lemon": Produce,
	"lettuce": Produce, "lime": Produce, "mushroom": Produce, "onion": Produce, "parsley": Produce,
	"pepper": Produce, "potato": Produce, "scallion": Produce, "spinach": Produce, "sweet potato": Produce,
	"tomato": Produce, "zucchini": Produce, "green onion": Produce, "berry": Produce, "strawberry": Produce,

	// dairy
	"butter": Dairy, "cheddar": Dairy, "cheese": Dairy, "cream": Dairy, "cream cheese": Dairy,
	"egg": Dairy, "milk": Dairy, "mozzarella": Dairy, "parmesan": Dairy, "sour cream": Dairy,
	"yogurt": Dairy, "feta": Dairy,

	// meat
	"bacon": Meat, "beef": Meat, "chicken": Meat, "ground beef": Meat, "ham": Meat, "lamb": Meat,
	"pork": Meat, "sausage": Meat, "turkey": Meat, "steak": Meat,

	// seafood
	"cod": Seafood, "fish": Seafood, "prawn": Seafood, "salmon": Seafood, "shrimp": Seafood,
	"tuna": Seafood, "mussel": Seafood,

	// bakery
	"bagel": Bakery, "baguette": Bakery, "bread": Bakery, "bun": Bakery, "pita": Bakery,
	"tortilla": Bakery, "croissant": Bakery,

	// pantry
	"bean": Pantry, "black pepper": Pantry, "chickpea": Pantry, "flour": Pantry, "honey": Pantry,
	"lentil": Pantry, "noodle": Pantry, "oat": Pantry, "oil": Pantry, "olive oil": Pantry,
	"pasta": Pantry, "rice": Pantry, "salt": Pantry, "soy sauce": Pantry, "spaghetti": Pantry,
	"stock": Pantry, "broth": Pantry, "sugar": Pantry, "vinegar": Pantry, "cumin": Pantry,
	"paprika": Pantry, "tomato paste": Pantry, "canned tomato": Pantry, "coconut milk": Pantry,

	// frozen
	"frozen pea": Frozen, "frozen spinach": Frozen, "ice cream": Frozen, "pea": Frozen,
	"frozen corn": Frozen, "frozen berry": Frozen,
}

// Categorize assigns a store section to an ingredient name. The full name is
// tried first, then its two-word and one-word tails. Unknown names are Other.
func Categorize(name string) Category {
	words := strings.Fields(strings.ToLower(name))
	for i := range words {
		words[i] = singular(words[i])
	}

	if c, ok := categoryTable[strings.Join(words, " ")]; ok {
		return c
	}
	for n := 2; n >= 1; n-- {
		for start := len(words) - n; start >= 0; start-- {
			if c, ok := categoryTable[strings.Join(words[start:start+n], " ")]; ok {
				return c
			}
		}
	}
	return Other
}

func singular(w string) string {
	switch {
	case strings.HasSuffix(w, "ies") && len(w) > 4:
		return strings.TrimSuffix(w, "ies") + "y"
	case strings.HasSuffix(w, "oes"):
		return strings.TrimSuffix(w, "es")
	case strings.HasSuffix(w, "ss"):
		return w
	case strings.HasSuffix(w, "s") && len(w) > 3:
		return strings.TrimSuffix(w, "s")
	}
	return w
}
