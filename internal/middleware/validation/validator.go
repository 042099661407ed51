package validation

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/policy-graphrag/backend/internal/models"
	"github.com/policy-graphrag/backend/internal/orchestrator"
)

// LocalsKey is where the validated request is stored for the handler.
const LocalsKey = "query_request"

var xssPattern = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=|onclick=)`)

type Config struct {
	MaxQueryLength   int
	MaxSearchResults int
	MaxHistoryTurns  int
	Logger           *zap.Logger
}

// QueryBody is the JSON accepted by POST /api/v1/query. Pointer fields
// distinguish an omitted option from an explicit false.
type QueryBody struct {
	Query            string                    `json:"query"`
	UserID           string                    `json:"user_id"`
	SessionID        string                    `json:"session_id"`
	Strategy         string                    `json:"strategy"`
	SearchStrategy   string                    `json:"search_strategy"`
	UseCache         *bool                     `json:"use_cache"`
	IncludeCitations *bool                     `json:"include_citations"`
	IncludeFollowUps *bool                     `json:"include_follow_ups"`
	IncludeDebug     bool                      `json:"include_intermediate"`
	MaxSearchResults int                       `json:"max_search_results"`
	History          []models.ConversationTurn `json:"history"`
}

func (cfg Config) withDefaults() Config {
	if cfg.MaxQueryLength <= 0 {
		cfg.MaxQueryLength = 1000
	}
	if cfg.MaxSearchResults <= 0 {
		cfg.MaxSearchResults = 50
	}
	if cfg.MaxHistoryTurns <= 0 {
		cfg.MaxHistoryTurns = 10
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return cfg
}

// QueryMiddleware parses and validates the query body and stores the
// resulting orchestrator.Request under LocalsKey.
func QueryMiddleware(cfg Config) fiber.Handler {
	cfg = cfg.withDefaults()

	return func(c *fiber.Ctx) error {
		if ct := c.Get(fiber.HeaderContentType); ct != "" && !strings.HasPrefix(ct, fiber.MIMEApplicationJSON) {
			return badRequest(c, fiber.StatusUnsupportedMediaType, "Unsupported content type")
		}

		var body QueryBody
		if err := json.Unmarshal(c.Body(), &body); err != nil {
			return badRequest(c, fiber.StatusBadRequest, "Invalid JSON format")
		}

		req, msg := ToRequest(body, cfg)
		if msg != "" {
			if containsXSS(body.Query) {
				cfg.Logger.Warn("Potential XSS attempt",
					zap.String("ip", c.IP()),
					zap.String("query", body.Query),
				)
			}
			return badRequest(c, fiber.StatusBadRequest, msg)
		}

		c.Locals(LocalsKey, req)
		return c.Next()
	}
}

// ToRequest validates a body and maps it onto a pipeline request. A non-empty
// message means the body was rejected.
func ToRequest(body QueryBody, cfg Config) (orchestrator.Request, string) {
	cfg = cfg.withDefaults()
	query := sanitizeString(body.Query)
	if query == "" {
		return orchestrator.Request{}, "Query is required and must be a string"
	}
	if !utf8.ValidString(query) {
		return orchestrator.Request{}, "Query must be valid UTF-8"
	}
	if utf8.RuneCountInString(query) > cfg.MaxQueryLength {
		return orchestrator.Request{}, "Query exceeds maximum length"
	}
	if containsXSS(query) {
		return orchestrator.Request{}, "Invalid query content"
	}

	req := orchestrator.NewRequest(query)
	req.UserID = body.UserID
	req.SessionID = body.SessionID
	req.IncludeIntermediate = body.IncludeDebug

	if body.Strategy != "" {
		st, ok := orchestrator.ParseStrategy(body.Strategy)
		if !ok {
			return orchestrator.Request{}, "Unknown strategy"
		}
		req.Strategy = st
	}
	if body.SearchStrategy != "" {
		ss := models.SearchStrategy(strings.ToUpper(body.SearchStrategy))
		if !ss.Valid() {
			return orchestrator.Request{}, "Unknown search strategy"
		}
		req.SearchStrategy = ss
	}
	if body.UseCache != nil {
		req.UseCache = *body.UseCache
	}
	if body.IncludeCitations != nil {
		req.IncludeCitations = *body.IncludeCitations
	}
	if body.IncludeFollowUps != nil {
		req.IncludeFollowUps = *body.IncludeFollowUps
	}
	if body.MaxSearchResults != 0 {
		if body.MaxSearchResults < 0 || body.MaxSearchResults > cfg.MaxSearchResults {
			return orchestrator.Request{}, "max_search_results out of range"
		}
		req.MaxSearchResults = body.MaxSearchResults
	}

	history := body.History
	if len(history) > cfg.MaxHistoryTurns {
		history = history[len(history)-cfg.MaxHistoryTurns:]
	}
	for i := range history {
		history[i].Query = sanitizeString(history[i].Query)
	}
	req.History = history

	return req, ""
}

func badRequest(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": msg,
	})
}

func containsXSS(input string) bool {
	return xssPattern.MatchString(input)
}

func sanitizeString(input string) string {
	input = strings.TrimSpace(input)
	input = strings.ReplaceAll(input, "\x00", "")
	return input
}
