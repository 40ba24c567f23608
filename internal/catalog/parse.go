package catalog

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"meal-planner/internal/recipe"
)

// parsedBody is the structured content extracted from a post's HTML.
type parsedBody struct {
	Ingredients  []recipe.Ingredient
	Instructions []string
	Nutrition    *recipe.Nutrition
	PrepMinutes  int
	CookMinutes  int
	Servings     int
}

var (
	prepRe     = regexp.MustCompile(`(?i)prep(?:\s*time)?\s*:\s*(\d+)`)
	cookRe     = regexp.MustCompile(`(?i)cook(?:\s*time)?\s*:\s*(\d+)`)
	servingsRe = regexp.MustCompile(`(?i)(?:servings|serves)\s*:?\s*(\d+)`)
	numberRe   = regexp.MustCompile(`(\d+(?:\.\d+)?)`)
	parensRe   = regexp.MustCompile(`\s*\([^)]*\)`)
)

// parseRecipeHTML reads the recipe sections out of a post body. Sections are
// introduced by a heading ("Ingredients", "Instructions", "Nutrition")
// followed by a list.
func parseRecipeHTML(html string) (parsedBody, error) {
	var body parsedBody

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return body, err
	}

	doc.Find("script, style").Remove()

	doc.Find("h1, h2, h3, h4").Each(func(_ int, heading *goquery.Selection) {
		title := strings.ToLower(strings.TrimSpace(heading.Text()))
		list := heading.NextAllFiltered("ul, ol").First()
		items := listItems(list)

		switch {
		case strings.Contains(title, "ingredient"):
			for _, line := range items {
				if ing, ok := ParseIngredientLine(line); ok {
					body.Ingredients = append(body.Ingredients, ing)
				}
			}
		case strings.Contains(title, "instruction"), strings.Contains(title, "method"),
			strings.Contains(title, "direction"), strings.Contains(title, "steps"):
			body.Instructions = append(body.Instructions, items...)
		case strings.Contains(title, "nutrition"):
			body.Nutrition = parseNutrition(items)
		}
	})

	text := doc.Text()
	body.PrepMinutes = firstInt(prepRe, text)
	body.CookMinutes = firstInt(cookRe, text)
	body.Servings = firstInt(servingsRe, text)

	return body, nil
}

func listItems(list *goquery.Selection) []string {
	var items []string
	list.Find("li").Each(func(_ int, li *goquery.Selection) {
		if text := strings.Join(strings.Fields(li.Text()), " "); text != "" {
			items = append(items, text)
		}
	})
	return items
}

func firstInt(re *regexp.Regexp, text string) int {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

func parseNutrition(items []string) *recipe.Nutrition {
	if len(items) == 0 {
		return nil
	}
	n := &recipe.Nutrition{}
	for _, item := range items {
		lower := strings.ToLower(item)
		m := numberRe.FindString(lower)
		if m == "" {
			continue
		}
		v, _ := strconv.ParseFloat(m, 64)
		switch {
		case strings.Contains(lower, "calorie"), strings.Contains(lower, "kcal"):
			n.Calories = int(v)
		case strings.Contains(lower, "protein"):
			n.ProteinG = v
		case strings.Contains(lower, "carb"):
			n.CarbsG = v
		case strings.Contains(lower, "fat"):
			n.FatG = v
		}
	}
	return n
}

var unicodeFractions = map[string]float64{
	"½": 0.5, "⅓": 1.0 / 3, "⅔": 2.0 / 3, "¼": 0.25, "¾": 0.75, "⅛": 0.125,
}

// ParseIngredientLine splits a line such as "1 1/2 cups rice, rinsed" into
// quantity, unit and name. Lines without a leading quantity keep quantity 0.
func ParseIngredientLine(line string) (recipe.Ingredient, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return recipe.Ingredient{}, false
	}

	fields := strings.Fields(line)
	var qty float64
	i := 0
	for i < len(fields) && i < 2 {
		v, ok := parseQuantity(fields[i])
		if !ok || math.IsInf(qty+v, 0) {
			break
		}
		qty += v
		i++
	}

	var unit string
	if i < len(fields) {
		if u, known := recipe.NormalizeUnit(fields[i]); known {
			unit = u
			i++
		}
	}

	name := parensRe.ReplaceAllString(strings.Join(fields[i:], " "), "")
	if idx := strings.Index(name, ","); idx >= 0 {
		name = name[:idx]
	}
	name = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(name), "of "))
	if name == "" {
		return recipe.Ingredient{}, false
	}

	return recipe.Ingredient{Name: name, Quantity: qty, Unit: unit}, true
}

func parseQuantity(token string) (float64, bool) {
	if v, ok := unicodeFractions[token]; ok {
		return v, true
	}
	if num, den, found := strings.Cut(token, "/"); found {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 != nil || err2 != nil || d == 0 {
			return 0, false
		}
		return finiteQuantity(n / d)
	}
	v, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return 0, false
	}
	return finiteQuantity(v)
}

// finiteQuantity rejects the "nan" and "inf" spellings ParseFloat accepts.
func finiteQuantity(v float64) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, false
	}
	return v, true
}
