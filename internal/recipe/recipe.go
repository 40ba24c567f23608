package recipe

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Ingredient is a single ingredient line of a recipe.
type Ingredient struct {
	Name     string  `json:"name"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit"`
}

// Nutrition is an optional per-serving nutrition summary.
type Nutrition struct {
	Calories int     `json:"calories"`
	ProteinG float64 `json:"protein_g"`
	CarbsG   float64 `json:"carbs_g"`
	FatG     float64 `json:"fat_g"`
}

// Recipe is a catalog recipe keyed by its external catalog id.
type Recipe struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	ImageURL     string       `json:"image_url"`
	PrepMinutes  int          `json:"prep_minutes"`
	CookMinutes  int          `json:"cook_minutes"`
	Servings     int          `json:"servings"`
	Tags         []string     `json:"tags"`
	Ingredients  []Ingredient `json:"ingredients"`
	Instructions []string     `json:"instructions"`
	Nutrition    *Nutrition   `json:"nutrition,omitempty"`
	FetchedAt    time.Time    `json:"fetched_at"`
}

// Clone returns a deep copy of the recipe.
func (r Recipe) Clone() Recipe {
	out := r
	out.Tags = slices.Clone(r.Tags)
	out.Ingredients = slices.Clone(r.Ingredients)
	out.Instructions = slices.Clone(r.Instructions)
	if r.Nutrition != nil {
		n := *r.Nutrition
		out.Nutrition = &n
	}
	return out
}

// TotalMinutes is prep plus cook time.
func (r Recipe) TotalMinutes() int {
	return r.PrepMinutes + r.CookMinutes
}

// Summary converts the recipe into a search result entry.
func (r Recipe) Summary() Summary {
	return Summary{
		ID:           r.ID,
		Name:         r.Name,
		ImageURL:     r.ImageURL,
		TotalMinutes: r.TotalMinutes(),
		Tags:         r.Tags,
	}
}

// Summary is the lightweight form of a recipe returned by searches.
type Summary struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	ImageURL     string   `json:"image_url"`
	TotalMinutes int      `json:"total_minutes"`
	Tags         []string `json:"tags"`
}

// Filters narrows a catalog search.
type Filters struct {
	Tags            []string `json:"tags"`
	MaxTotalMinutes int      `json:"max_total_minutes"`
	Limit           int      `json:"limit"`
}

// NormalizeQuery lower-cases and collapses whitespace in a search query.
func NormalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// Fingerprint returns a stable key for a (query, filters) pair. Queries that
// differ only in case, spacing or tag order share a fingerprint.
func Fingerprint(query string, f Filters) string {
	tags := make([]string, 0, len(f.Tags))
	for _, t := range f.Tags {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			tags = append(tags, t)
		}
	}
	slices.Sort(tags)
	tags = slices.Compact(tags)

	raw := fmt.Sprintf("q=%s|tags=%s|max=%d|limit=%d", NormalizeQuery(query), strings.Join(tags, ","), f.MaxTotalMinutes, f.Limit)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
