// Package copilot – extractor.go mines a persisted transcript for durable
// facts about users and cities and writes them to their ledgers.
package copilot

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// Extractor persists facts found in a chat's transcript.
type Extractor interface {
	ExtractAndPersist(ctx context.Context, chatID string) error
}

// extractionWindow is how many recent transcript entries are analyzed.
const extractionWindow = 100

const extractionPrompt = `Analiza la siguiente conversación de %s (un bot asistente) con un usuario.
Tu meta es encontrar Hechos (Facts) nuevos sobre el usuario o sobre ciudades que deban ser persistidos en sus archivos .ledger.

REGLAS DE EXTRACCIÓN:
1. Solo extrae información que sea EXPLÍCITA y RELEVANTE.
2. Formato de salida: Devuelve un objeto JSON con dos llaves: 'user_updates' y 'city_updates'.
3. 'user_updates': Lista de { "user": "nombre.apellido", "updates": {...} }
   - Estructura: { "public_profile": { "interests": [] }, "private_profile": { "goals": [] } }
4. 'city_updates': Lista de { "city": "nombre", "updates": {...} }
   - CATEGORÍAS VÁLIDAS: %s.
   - CADA ITEM debe ser un objeto con al menos: { "nombre": "...", "descripcion": "..." }
   - Ejemplo updates: { "experiencias_gastronomicas": [{ "nombre": "Pizza Solar", "descripcion": "Excelente pizza en Cali" }] }

CONVERSACIÓN:
%s
SALIDA JSON:`

// extraction is the reply shape requested from the model.
type extraction struct {
	UserUpdates []struct {
		User    string         `json:"user"`
		Updates map[string]any `json:"updates"`
	} `json:"user_updates"`
	CityUpdates []struct {
		City    string         `json:"city"`
		Updates map[string]any `json:"updates"`
	} `json:"city_updates"`
}

// IntelligenceExtractor implements Extractor with a model call.
type IntelligenceExtractor struct {
	llm     ChatCompleter
	history HistoryStore
	ledgers *LedgerStore
	name    string
	logger  *slog.Logger
}

// NewIntelligenceExtractor creates an extractor. name is the assistant
// persona shown to the model.
func NewIntelligenceExtractor(llm ChatCompleter, history HistoryStore, ledgers *LedgerStore, name string, logger *slog.Logger) *IntelligenceExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	if name == "" {
		name = DefaultConfig().Name
	}
	return &IntelligenceExtractor{
		llm:     llm,
		history: history,
		ledgers: ledgers,
		name:    name,
		logger:  logger.With("component", "extractor"),
	}
}

// ExtractAndPersist implements Extractor. Updates that fail to apply are
// logged and skipped.
func (e *IntelligenceExtractor) ExtractAndPersist(ctx context.Context, chatID string) error {
	transcript, err := e.history.Load(chatID, extractionWindow)
	if err != nil {
		return fmt.Errorf("loading history of %s: %w", chatID, err)
	}
	if len(transcript) == 0 {
		return nil
	}

	e.logger.Info("extracting facts", "chat_id", chatID, "entries", len(transcript))

	var conv strings.Builder
	for _, t := range transcript {
		fmt.Fprintf(&conv, "%s: %s\n", strings.ToUpper(t.Role), t.Content)
	}
	prompt := fmt.Sprintf(extractionPrompt, e.name, quoteList(CityCategories), conv.String())

	resp, err := e.llm.Complete(ctx, CompletionRequest{
		Messages:    []Turn{{Role: RoleUser, Content: prompt}},
		Temperature: Temperature(0),
		JSONObject:  true,
	})
	if err != nil {
		return fmt.Errorf("extraction call for %s: %w", chatID, err)
	}

	var intel extraction
	if err := json.Unmarshal([]byte(resp.Content), &intel); err != nil {
		return fmt.Errorf("decoding extraction for %s: %w", chatID, err)
	}

	applied := 0
	for _, u := range intel.UserUpdates {
		if u.User == "" || len(u.Updates) == 0 {
			continue
		}
		if err := e.ledgers.UpdateUser(u.User, u.Updates); err != nil {
			e.logger.Warn("user update skipped", "chat_id", chatID, "user", u.User, "error", err)
			continue
		}
		applied++
	}
	for _, c := range intel.CityUpdates {
		if c.City == "" || len(c.Updates) == 0 {
			continue
		}
		if _, _, err := e.ledgers.AddCityInfo(c.City, c.Updates); err != nil {
			e.logger.Warn("city update skipped", "chat_id", chatID, "city", c.City, "error", err)
			continue
		}
		applied++
	}

	e.logger.Info("extraction done", "chat_id", chatID, "applied", applied)
	return nil
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = "'" + s + "'"
	}
	return strings.Join(quoted, ", ")
}

var _ Extractor = (*IntelligenceExtractor)(nil)
