// Package copilot – consolidator.go prunes a persisted transcript down to
// the entries the model considers worth keeping.
package copilot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
)

// Consolidator rewrites a chat's transcript keeping only relevant entries.
type Consolidator interface {
	Consolidate(ctx context.Context, chatID string) error
}

const consolidationPrompt = `Tu tarea es limpiar los archivos de log de una conversación para mantener solo el contexto RELEVANTE.
REGLAS:
1. Elimina saludos simples ("hola", "buenos días") si no contienen información extra.
2. Elimina confirmaciones vacías ("entendido", "ok", "perfecto").
3. Elimina ruidos de conversación que no aporten hechos, preferencias o contexto del problema.
4. MANTÉN los hechos, datos técnicos, solicitudes de usuario, respuestas útiles y contexto emocional relevante.
5. Devuelve EXCLUSIVAMENTE una lista JSON de los índices [i] que debemos MANTENER.

EJEMPLO DE SALIDA: [2, 4, 5, 8, 9]

HISTORIAL A PROCESAR:
%s`

// indexListPattern finds the outermost bracketed list in a reply.
var indexListPattern = regexp.MustCompile(`(?s)\[.*\]`)

// MemoryConsolidator implements Consolidator with a model call.
type MemoryConsolidator struct {
	llm     ChatCompleter
	history HistoryStore
	limit   int
	logger  *slog.Logger
}

// NewMemoryConsolidator creates a consolidator over the last limit
// transcript entries.
func NewMemoryConsolidator(llm ChatCompleter, history HistoryStore, limit int, logger *slog.Logger) *MemoryConsolidator {
	if logger == nil {
		logger = slog.Default()
	}
	if limit <= 0 {
		limit = DefaultConfig().History.MaxTurns
	}
	return &MemoryConsolidator{
		llm:     llm,
		history: history,
		limit:   limit,
		logger:  logger.With("component", "consolidator"),
	}
}

// Consolidate implements Consolidator. A reply without a usable index list
// leaves the transcript untouched.
func (c *MemoryConsolidator) Consolidate(ctx context.Context, chatID string) error {
	transcript, err := c.history.Load(chatID, c.limit)
	if err != nil {
		return fmt.Errorf("loading history of %s: %w", chatID, err)
	}
	if len(transcript) == 0 {
		return nil
	}

	c.logger.Info("consolidating memory", "chat_id", chatID, "entries", len(transcript))

	var numbered strings.Builder
	for i, t := range transcript {
		fmt.Fprintf(&numbered, "[%d] %s: %s\n", i, strings.ToUpper(t.Role), t.Content)
	}

	resp, err := c.llm.Complete(ctx, CompletionRequest{
		Messages:    []Turn{{Role: RoleUser, Content: fmt.Sprintf(consolidationPrompt, numbered.String())}},
		Temperature: Temperature(0),
	})
	if err != nil {
		return fmt.Errorf("consolidation call for %s: %w", chatID, err)
	}

	keep, ok := parseKeepIndices(resp.Content, len(transcript))
	if !ok {
		c.logger.Warn("consolidation reply not understood, history unchanged", "chat_id", chatID)
		return nil
	}

	kept := make([]Turn, 0, len(keep))
	for _, i := range keep {
		kept = append(kept, transcript[i])
	}
	if err := c.history.Save(chatID, kept); err != nil {
		return fmt.Errorf("saving consolidated history of %s: %w", chatID, err)
	}

	c.logger.Info("consolidation done", "chat_id", chatID, "before", len(transcript), "after", len(kept))
	return nil
}

// parseKeepIndices extracts the index list from reply. Out-of-range and
// repeated indices are dropped and the rest sorted, so kept entries stay
// in chronological order.
func parseKeepIndices(reply string, n int) ([]int, bool) {
	match := indexListPattern.FindString(reply)
	if match == "" {
		return nil, false
	}
	var raw []int
	if err := json.Unmarshal([]byte(match), &raw); err != nil {
		return nil, false
	}

	seen := make(map[int]bool, len(raw))
	keep := make([]int, 0, len(raw))
	for _, i := range raw {
		if i < 0 || i >= n || seen[i] {
			continue
		}
		seen[i] = true
		keep = append(keep, i)
	}
	sort.Ints(keep)
	return keep, true
}

var _ Consolidator = (*MemoryConsolidator)(nil)
