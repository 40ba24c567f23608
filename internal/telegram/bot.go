package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"meal-planner/internal/app"
	"meal-planner/internal/catalog"
	"meal-planner/internal/config"
	"meal-planner/internal/logger"
	"meal-planner/internal/planner"
	"meal-planner/internal/recipe"
	"meal-planner/internal/resolver"
	"meal-planner/internal/shopping"
)

// Service is the part of the application the bot exposes to chat users.
type Service interface {
	CreatePlan(ctx context.Context, userID, start, end string) (*planner.MealPlan, error)
	Plans(ctx context.Context, userID string) ([]planner.MealPlan, error)
	AddMeal(ctx context.Context, userID, planID, date, mealType, recipeID string) (*planner.MealWithRecipe, error)
	Meals(ctx context.Context, userID, start, end string) ([]planner.MealWithRecipe, error)
	SwapMeal(ctx context.Context, userID, mealID, recipeID string) (*planner.MealWithRecipe, error)
	ShoppingList(ctx context.Context, userID, planID string, regenerate bool) (*shopping.ShoppingList, error)
	CheckItem(ctx context.Context, userID, planID, itemID string, checked bool) error
	Search(ctx context.Context, query string, filters recipe.Filters) (resolver.SearchResult, error)
	Usage(ctx context.Context, days int) (*app.Usage, error)
}

// Bot wraps the Telegram API and routes chat commands to the Service.
type Bot struct {
	api     *tgbotapi.BotAPI
	svc     Service
	allowed map[int64]bool
	log     *logger.Logger
	now     func() time.Time
}

// NewBot initializes the Telegram Bot and sets the Webhook.
func NewBot(cfg *config.Config, svc Service, log *logger.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to init telegram api: %w", err)
	}
	b := newBot(api, svc, cfg.TelegramAllowedUserIDs, log)
	b.log.Info("authorized on account", "username", api.Self.UserName)

	wh, err := tgbotapi.NewWebhook(cfg.TelegramWebhookURL)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook url: %w", err)
	}
	resp, err := api.Request(wh)
	if err != nil {
		return nil, fmt.Errorf("failed to set webhook to %s: %w", cfg.TelegramWebhookURL, err)
	}
	b.log.Info("webhook set", "description", resp.Description)

	return b, nil
}

func newBot(api *tgbotapi.BotAPI, svc Service, allowedIDs []int64, log *logger.Logger) *Bot {
	if log == nil {
		log = logger.Nop()
	}
	allowed := make(map[int64]bool, len(allowedIDs))
	for _, id := range allowedIDs {
		allowed[id] = true
	}
	return &Bot{
		api:     api,
		svc:     svc,
		allowed: allowed,
		log:     log.With("component", "telegram"),
		now:     time.Now,
	}
}

// RegisterHandlers registers the webhook and health handlers on mux.
func (b *Bot) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/webhook", b.handleWebhook)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func (b *Bot) handleWebhook(w http.ResponseWriter, r *http.Request) {
	update, err := b.api.HandleUpdate(r)
	if err != nil {
		b.log.Warn("error parsing update", "error", err)
		return
	}

	if q := update.CallbackQuery; q != nil {
		if !b.allowed[q.From.ID] {
			b.log.Warn("unauthorized callback", "user_id", q.From.ID)
			return
		}
		go b.processCallback(q)
		return
	}

	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	if !b.allowed[msg.From.ID] {
		b.log.Warn("unauthorized access attempt", "user_id", msg.From.ID, "username", msg.From.UserName)
		return
	}

	go b.processMessage(msg)
}

// reply is a rendered answer, optionally with inline buttons.
type reply struct {
	text     string
	keyboard *tgbotapi.InlineKeyboardMarkup
}

func (b *Bot) processMessage(msg *tgbotapi.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	userID := strconv.FormatInt(msg.From.ID, 10)
	r := b.handleCommand(ctx, userID, msg.Text)

	out := tgbotapi.NewMessage(msg.Chat.ID, r.text)
	out.ParseMode = tgbotapi.ModeMarkdown
	if r.keyboard != nil {
		out.ReplyMarkup = r.keyboard
	}
	if _, err := b.api.Send(out); err != nil {
		b.log.Error("failed to send reply", "chat_id", msg.Chat.ID, "error", err)
	}
}

func (b *Bot) processCallback(q *tgbotapi.CallbackQuery) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	// Answer callback to remove spinner
	if _, err := b.api.Request(tgbotapi.NewCallback(q.ID, "")); err != nil {
		b.log.Warn("failed to answer callback", "error", err)
	}
	if q.Message == nil {
		return
	}

	userID := strconv.FormatInt(q.From.ID, 10)
	r := b.handleCallback(ctx, userID, q.Data)

	edit := tgbotapi.NewEditMessageText(q.Message.Chat.ID, q.Message.MessageID, r.text)
	edit.ParseMode = tgbotapi.ModeMarkdown
	edit.ReplyMarkup = r.keyboard
	if _, err := b.api.Send(edit); err != nil {
		b.log.Error("failed to edit message", "chat_id", q.Message.Chat.ID, "error", err)
	}
}

const regenPrefix = "regen|"

func (b *Bot) handleCallback(ctx context.Context, userID, data string) reply {
	planID, ok := strings.CutPrefix(data, regenPrefix)
	if !ok {
		return reply{text: "Unknown action."}
	}
	return b.shoppingList(ctx, userID, planID, true)
}

// handleCommand parses one chat message and renders the answer.
func (b *Bot) handleCommand(ctx context.Context, userID, text string) reply {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return reply{text: helpText}
	}
	cmd, args := fields[0], fields[1:]
	// Commands in groups arrive as /cmd@botname.
	if i := strings.Index(cmd, "@"); i > 0 {
		cmd = cmd[:i]
	}

	switch cmd {
	case "/plan":
		return b.plan(ctx, userID, args)
	case "/add":
		if len(args) != 4 {
			return reply{text: "Usage: `/add <planID> <YYYY-MM-DD> <breakfast|lunch|dinner> <recipeID>`"}
		}
		meal, err := b.svc.AddMeal(ctx, userID, args[0], args[1], args[2], args[3])
		if err != nil {
			return b.errorReply("add meal", err)
		}
		return reply{text: "✅ *Meal added*\n" + formatMealLine(*meal)}
	case "/meals":
		return b.meals(ctx, userID, args)
	case "/swap":
		if len(args) != 2 {
			return reply{text: "Usage: `/swap <mealID> <recipeID>`"}
		}
		meal, err := b.svc.SwapMeal(ctx, userID, args[0], args[1])
		if err != nil {
			return b.errorReply("swap meal", err)
		}
		return reply{text: "🔄 *Meal swapped*\n" + formatMealLine(*meal)}
	case "/list":
		if len(args) != 1 {
			return reply{text: "Usage: `/list <planID>`"}
		}
		return b.shoppingList(ctx, userID, args[0], false)
	case "/check", "/uncheck":
		if len(args) != 2 {
			return reply{text: fmt.Sprintf("Usage: `%s <planID> <itemID>`", cmd)}
		}
		if err := b.svc.CheckItem(ctx, userID, args[0], args[1], cmd == "/check"); err != nil {
			return b.errorReply("update item", err)
		}
		return b.shoppingList(ctx, userID, args[0], false)
	case "/search":
		if len(args) == 0 {
			return reply{text: "Usage: `/search <query>`"}
		}
		res, err := b.svc.Search(ctx, strings.Join(args, " "), recipe.Filters{})
		if err != nil {
			return b.errorReply("search", err)
		}
		return reply{text: formatSummariesMarkdown(res.Summaries, res.Stale)}
	case "/usage":
		u, err := b.svc.Usage(ctx, 7)
		if err != nil {
			return b.errorReply("load usage", err)
		}
		return reply{text: formatUsageMarkdown(u)}
	default:
		return reply{text: helpText}
	}
}

func (b *Bot) plan(ctx context.Context, userID string, args []string) reply {
	switch len(args) {
	case 0:
		plans, err := b.svc.Plans(ctx, userID)
		if err != nil {
			return b.errorReply("list plans", err)
		}
		return reply{text: formatPlansMarkdown(plans)}
	case 1, 2:
		end := args[0]
		if len(args) == 2 {
			end = args[1]
		}
		p, err := b.svc.CreatePlan(ctx, userID, args[0], end)
		if err != nil {
			return b.errorReply("create plan", err)
		}
		return reply{text: formatPlansMarkdown([]planner.MealPlan{*p})}
	default:
		return reply{text: "Usage: `/plan [<start> [<end>]]`"}
	}
}

func (b *Bot) meals(ctx context.Context, userID string, args []string) reply {
	var start, end string
	switch len(args) {
	case 0:
		today := b.now()
		start = today.Format(planner.DateLayout)
		end = today.AddDate(0, 0, 6).Format(planner.DateLayout)
	case 1:
		start, end = args[0], args[0]
	case 2:
		start, end = args[0], args[1]
	default:
		return reply{text: "Usage: `/meals [<date> [<end>]]`"}
	}

	meals, err := b.svc.Meals(ctx, userID, start, end)
	if err != nil {
		return b.errorReply("load meals", err)
	}
	return reply{text: formatMealsMarkdown(meals)}
}

func (b *Bot) shoppingList(ctx context.Context, userID, planID string, regenerate bool) reply {
	list, err := b.svc.ShoppingList(ctx, userID, planID, regenerate)
	if err != nil {
		return b.errorReply("load shopping list", err)
	}
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔄 Regenerate", regenPrefix+planID),
		),
	)
	return reply{text: formatShoppingListMarkdown(list), keyboard: &keyboard}
}

// errorReply turns a service error into a message the user can act on.
func (b *Bot) errorReply(action string, err error) reply {
	switch {
	case errors.Is(err, planner.ErrForbidden), errors.Is(err, shopping.ErrForbidden):
		return reply{text: "⛔ That belongs to another user."}
	case errors.Is(err, planner.ErrNotFound), errors.Is(err, shopping.ErrNotFound):
		return reply{text: "🤷 Not found."}
	case errors.Is(err, catalog.ErrBudgetExhausted):
		return reply{text: "⏳ The recipe catalog budget for today is used up. Try again later."}
	case errors.Is(err, planner.ErrRecipeUnavailable), errors.Is(err, resolver.ErrUnavailable):
		return reply{text: "❌ That recipe could not be loaded right now."}
	case errors.Is(err, planner.ErrSuperseded):
		return reply{text: "↩️ Another swap of this meal finished first."}
	case errors.Is(err, planner.ErrInvalidRange), errors.Is(err, planner.ErrInvalidMeal), errors.Is(err, shopping.ErrInvalid):
		return reply{text: "⚠️ " + escape(err.Error())}
	}

	b.log.Error("command failed", "action", action, "error", err)
	safeErr := strings.ReplaceAll(err.Error(), "`", "'")
	return reply{text: fmt.Sprintf("❌ *Failed to %s:*\n```\n%v\n```", action, safeErr)}
}

const helpText = `🍽 *Meal planner*

/plan – list your plans
/plan <start> [end] – create a plan (YYYY-MM-DD)
/add <planID> <date> <type> <recipeID> – add a meal
/meals [date [end]] – show meals (default next 7 days)
/swap <mealID> <recipeID> – replace a meal's recipe
/list <planID> – shopping list
/check <planID> <itemID> – tick an item
/search <query> – search recipes
/usage – catalog usage`
