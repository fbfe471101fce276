package engine

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/mcpgate/mcpgate/internal/provider"
	"github.com/mcpgate/mcpgate/internal/state"
)

// chatOpeners match short social inputs that never need task planning.
var chatOpeners = []string{
	"hi", "hello", "hey", "yo", "thanks", "thank you", "thx",
	"bye", "goodbye", "see you", "good morning", "good afternoon",
	"good evening", "good night", "how are you", "what's up",
}

// taskKeywords mark an input as actionable: the user wants something done,
// not discussed.
var taskKeywords = []string{
	"search", "find", "look up", "fetch", "download", "upload",
	"generate", "create", "write", "build", "make",
	"translate", "convert", "summarize", "summarise", "extract",
	"analyze", "analyse", "report", "save", "rotate", "resize",
	"run", "execute", "deploy", "send",
}

const classifyTimeout = 5 * time.Second

// ModeDetector decides chat vs task for one input. Cheap rules run first;
// only ambiguous input pays for an LLM classification, and a rule-derived
// guess stands in when that call fails or times out. Task planning is
// expensive and chat replies must stay low-latency, hence the two tiers.
type ModeDetector struct {
	completer provider.ChatCompleter
	model     string
	logger    *log.Logger
}

func NewModeDetector(completer provider.ChatCompleter, model string, logger *log.Logger) *ModeDetector {
	if logger == nil {
		logger = log.Default()
	}
	return &ModeDetector{completer: completer, model: model, logger: logger}
}

// Detect returns the resolved mode and which tier decided it ("rule",
// "llm", or "fallback").
func (d *ModeDetector) Detect(ctx context.Context, query string) (state.Mode, string) {
	mode, certain := ruleDetect(query)
	if certain || d.completer == nil {
		return mode, "rule"
	}

	classifyCtx, cancel := context.WithTimeout(ctx, classifyTimeout)
	defer cancel()

	resp, err := d.completer.Complete(classifyCtx, &provider.CompletionRequest{
		Model: d.model,
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: "Classify the user's message as either \"chat\" (casual conversation, a question answerable from knowledge) or \"task\" (requires executing tools or producing an artifact). Reply with exactly one word: chat or task."},
			{Role: provider.RoleUser, Content: query},
		},
		MaxTokens: 4,
	})
	if err != nil {
		d.logger.Printf("mode detector: classification failed, using rule result: %v", err)
		return mode, "fallback"
	}
	switch strings.TrimSpace(strings.ToLower(resp.Content)) {
	case "task":
		return state.ModeTask, "llm"
	case "chat":
		return state.ModeChat, "llm"
	default:
		return mode, "fallback"
	}
}

// ruleDetect classifies obvious inputs and reports whether it is certain.
// Uncertain results still carry the best length-based guess.
func ruleDetect(query string) (state.Mode, bool) {
	trimmed := strings.TrimSpace(strings.ToLower(query))
	stripped := strings.TrimRight(trimmed, "!.?, ")

	for _, opener := range chatOpeners {
		if stripped == opener || strings.HasPrefix(stripped, opener+" ") && len(stripped) < len(opener)+12 {
			return state.ModeChat, true
		}
	}
	for _, kw := range taskKeywords {
		if strings.Contains(trimmed, kw) {
			return state.ModeTask, true
		}
	}

	// Length and punctuation heuristics, uncertain either way.
	if len(trimmed) < 20 && !strings.Contains(trimmed, "\n") {
		return state.ModeChat, false
	}
	if len(trimmed) > 200 {
		return state.ModeTask, false
	}
	if strings.HasSuffix(trimmed, "?") {
		return state.ModeChat, false
	}
	return state.ModeTask, false
}
