package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"

	"meal-planner/internal/config"
	"meal-planner/internal/logger"
	"meal-planner/internal/recipe"
)

var (
	// ErrNotFound means the catalog confirmed the recipe does not exist.
	ErrNotFound = errors.New("catalog: recipe not found")
	// ErrUnavailable means the catalog could not answer (transient failure
	// or exhausted budget).
	ErrUnavailable = errors.New("catalog: unavailable")
	// ErrBudgetExhausted is the budget variant of ErrUnavailable; it matches
	// both itself and ErrUnavailable under errors.Is.
	ErrBudgetExhausted error = budgetExhaustedError{}
)

type budgetExhaustedError struct{}

func (budgetExhaustedError) Error() string { return "catalog: daily request budget exhausted" }

func (budgetExhaustedError) Is(target error) bool { return target == ErrUnavailable }

// Client is the contract the rest of the system uses to reach the external
// recipe catalog.
type Client interface {
	Fetch(ctx context.Context, id string) (recipe.Recipe, error)
	Search(ctx context.Context, query string, filters recipe.Filters) ([]recipe.Summary, error)
}

// Call describes one request actually issued to the catalog.
type Call struct {
	Operation string
	Outcome   string
	Latency   time.Duration
	At        time.Time
}

// CallRecorder persists issued catalog calls.
type CallRecorder interface {
	RecordCall(ctx context.Context, call Call) error
}

// Options configures a GhostClient.
type Options struct {
	BaseURL           string
	ContentKey        string
	AdminKey          string
	DailyBudget       int
	MaxAttempts       int
	RequestsPerSecond float64
	Timeout           time.Duration
	RetryInterval     time.Duration
	HTTPClient        *http.Client
	Recorder          CallRecorder
	Logger            *logger.Logger
	Now               func() time.Time
}

// OptionsFromConfig maps application configuration onto client options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BaseURL:           cfg.CatalogURL,
		ContentKey:        cfg.CatalogContentKey,
		AdminKey:          cfg.CatalogAdminKey,
		DailyBudget:       cfg.CatalogBudget,
		MaxAttempts:       cfg.CatalogAttempts,
		RequestsPerSecond: cfg.CatalogRPS,
		Timeout:           cfg.CatalogTimeout,
	}
}

const (
	defaultSearchLimit = 15
	maxSearchLimit     = 50
)

// GhostClient reads recipes from a Ghost blog where each post is a recipe.
type GhostClient struct {
	opts       Options
	httpClient *http.Client
	budget     *Budget
	limiter    *rate.Limiter
	log        *logger.Logger
	now        func() time.Time
}

// NewGhostClient creates a catalog client backed by the Ghost Content API,
// or the Admin API when an admin key is configured.
func NewGhostClient(opts Options) *GhostClient {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DailyBudget <= 0 {
		opts.DailyBudget = 150
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 250 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &GhostClient{
		opts:       opts,
		httpClient: httpClient,
		budget:     NewBudget(opts.DailyBudget, opts.Now),
		limiter:    rate.NewLimiter(limit, 1),
		log:        opts.Logger.With("component", "catalog"),
		now:        opts.Now,
	}
}

// Budget exposes the client's daily call budget.
func (c *GhostClient) Budget() *Budget {
	return c.budget
}

// Post represents a single recipe post from the Ghost API.
type Post struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	HTML          string `json:"html"`
	CustomExcerpt string `json:"custom_excerpt"`
	Excerpt       string `json:"excerpt"`
	FeatureImage  string `json:"feature_image"`
	UpdatedAt     string `json:"updated_at"`
	Tags          []struct {
		Name string `json:"name"`
		Slug string `json:"slug"`
	} `json:"tags"`
}

// PostsResponse is the top-level structure of the Ghost API response for posts.
type PostsResponse struct {
	Posts []Post `json:"posts"`
}

// Fetch retrieves one recipe by its catalog id.
func (c *GhostClient) Fetch(ctx context.Context, id string) (recipe.Recipe, error) {
	if strings.TrimSpace(id) == "" {
		return recipe.Recipe{}, ErrNotFound
	}

	var resp PostsResponse
	params := url.Values{"include": {"tags"}}
	if err := c.get(ctx, "fetch", "posts/"+url.PathEscape(id)+"/", params, &resp); err != nil {
		return recipe.Recipe{}, err
	}
	if len(resp.Posts) == 0 {
		return recipe.Recipe{}, ErrNotFound
	}

	rec, err := c.toRecipe(resp.Posts[0])
	if err != nil {
		return recipe.Recipe{}, fmt.Errorf("%w: failed to parse post %s: %v", ErrUnavailable, id, err)
	}
	return rec, nil
}

// Search lists recipe summaries whose title matches the query and which
// carry every requested tag.
func (c *GhostClient) Search(ctx context.Context, query string, filters recipe.Filters) ([]recipe.Summary, error) {
	limit := filters.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	params := url.Values{
		"include": {"tags"},
		"limit":   {strconv.Itoa(limit)},
		"order":   {"published_at desc"},
	}
	if filter := buildFilter(query, filters); filter != "" {
		params.Set("filter", filter)
	}

	var resp PostsResponse
	if err := c.get(ctx, "search", "posts/", params, &resp); err != nil {
		return nil, err
	}

	summaries := make([]recipe.Summary, 0, len(resp.Posts))
	for _, post := range resp.Posts {
		rec, err := c.toRecipe(post)
		if err != nil {
			c.log.Warn("skipping unparsable post", "post_id", post.ID, "error", err)
			continue
		}
		if filters.MaxTotalMinutes > 0 && rec.TotalMinutes() > filters.MaxTotalMinutes {
			continue
		}
		summaries = append(summaries, rec.Summary())
	}
	return summaries, nil
}

// get issues a GET against the catalog, retrying transient failures with
// exponential backoff. Every attempt that reaches the network consumes one
// unit of budget.
func (c *GhostClient) get(ctx context.Context, op, endpoint string, params url.Values, out any) error {
	attempt := func() (struct{}, error) {
		if c.budget.Remaining() <= 0 {
			return struct{}{}, backoff.Permanent(ErrBudgetExhausted)
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		if !c.budget.Reserve() {
			return struct{}{}, backoff.Permanent(ErrBudgetExhausted)
		}

		start := c.now()
		outcome, err := c.do(ctx, endpoint, params, out)
		latency := c.now().Sub(start)
		c.record(ctx, Call{Operation: op, Outcome: outcome, Latency: latency, At: start})

		if err != nil {
			c.log.Warn("catalog call failed", "operation", op, "endpoint", endpoint, "outcome", outcome, "error", err)
		} else {
			c.log.Info("catalog call", "operation", op, "endpoint", endpoint, "latency_ms", latency.Milliseconds(), "budget_remaining", c.budget.Remaining())
		}
		return struct{}{}, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.RetryInterval
	b.MaxInterval = 8 * c.opts.RetryInterval

	_, err := backoff.Retry(ctx, attempt, backoff.WithBackOff(b), backoff.WithMaxTries(uint(c.opts.MaxAttempts)))
	if err == nil {
		return nil
	}

	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	if errors.Is(err, ErrBudgetExhausted) {
		c.log.Warn("catalog budget exhausted", "operation", op, "resets_at", c.budget.ResetsAt())
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnavailable) || ctx.Err() != nil {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// do performs a single request and classifies the result. Returned errors
// wrapped in backoff.Permanent are not retried.
func (c *GhostClient) do(ctx context.Context, endpoint string, params url.Values, out any) (string, error) {
	query := url.Values{}
	for k, v := range params {
		query[k] = slices.Clone(v)
	}

	api := "content"
	if c.opts.AdminKey != "" {
		api = "admin"
		query.Set("formats", "html")
	} else {
		query.Set("key", c.opts.ContentKey)
	}
	target := fmt.Sprintf("%s/ghost/api/%s/%s?%s", c.opts.BaseURL, api, endpoint, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "request_error", backoff.Permanent(fmt.Errorf("%w: failed to create request: %v", ErrUnavailable, err))
	}
	req.Header.Set("Accept-Version", "v5.0")
	if c.opts.AdminKey != "" {
		token, err := adminToken(c.opts.AdminKey, c.now())
		if err != nil {
			return "auth_error", backoff.Permanent(fmt.Errorf("%w: failed to create admin token: %v", ErrUnavailable, err))
		}
		req.Header.Set("Authorization", "Ghost "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "canceled", backoff.Permanent(ctx.Err())
		}
		return "transport_error", fmt.Errorf("%w: failed to execute request: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "not_found", backoff.Permanent(ErrNotFound)
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return fmt.Sprintf("status_%d", resp.StatusCode), fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Sprintf("status_%d", resp.StatusCode), backoff.Permanent(fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return "decode_error", backoff.Permanent(fmt.Errorf("%w: failed to decode response: %v", ErrUnavailable, err))
	}
	return "ok", nil
}

func (c *GhostClient) record(ctx context.Context, call Call) {
	if c.opts.Recorder == nil {
		return
	}
	// The call happened even if the caller went away; record it regardless.
	if err := c.opts.Recorder.RecordCall(context.WithoutCancel(ctx), call); err != nil {
		c.log.Error("failed to record catalog call", "operation", call.Operation, "error", err)
	}
}

func (c *GhostClient) toRecipe(post Post) (recipe.Recipe, error) {
	body, err := parseRecipeHTML(post.HTML)
	if err != nil {
		return recipe.Recipe{}, err
	}

	description := post.CustomExcerpt
	if description == "" {
		description = post.Excerpt
	}
	tags := make([]string, 0, len(post.Tags))
	for _, t := range post.Tags {
		tags = append(tags, t.Name)
	}

	return recipe.Recipe{
		ID:           post.ID,
		Name:         post.Title,
		Description:  description,
		ImageURL:     post.FeatureImage,
		PrepMinutes:  body.PrepMinutes,
		CookMinutes:  body.CookMinutes,
		Servings:     body.Servings,
		Tags:         tags,
		Ingredients:  body.Ingredients,
		Instructions: body.Instructions,
		Nutrition:    body.Nutrition,
		FetchedAt:    c.now().UTC(),
	}, nil
}

// buildFilter renders an NQL filter: title contains the query and every tag
// is present.
func buildFilter(query string, f recipe.Filters) string {
	var parts []string
	if q := recipe.NormalizeQuery(query); q != "" {
		parts = append(parts, fmt.Sprintf("title:~'%s'", strings.ReplaceAll(q, "'", `\'`)))
	}

	tags := make([]string, 0, len(f.Tags))
	for _, t := range f.Tags {
		if slug := slugify(t); slug != "" {
			tags = append(tags, slug)
		}
	}
	slices.Sort(tags)
	for _, slug := range slices.Compact(tags) {
		parts = append(parts, "tag:"+slug)
	}
	return strings.Join(parts, "+")
}

func slugify(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
