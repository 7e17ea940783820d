// Package copilot – prompt.go renders the system preamble of a session:
// persona, privacy policy, verification flow and the chat context taken
// from the registry.
package copilot

import (
	"fmt"
	"strings"

	"github.com/jholhewres/andrewclaw/pkg/andrewclaw/copilot/security"
)

const behaviorSection = `TU COMPORTAMIENTO GENERAL:
1. Siempre responde en español
2. Sé amable y servicial
3. Busca conocer al usuario para ofrecer un servicio personalizado
4. Usa las herramientas disponibles para gestionar y actualizar información del usuario
5. Mantén la conversación natural y fluida`

const verificationSection = `FLUJO DE VERIFICACIÓN DE USUARIO:
1. Al inicio, preséntate y pregunta el nombre del usuario
2. Si el usuario da un nombre, verifica si es conocido con list_users
3. Inmediatamente pide el "secreto" para verificar identidad
4. Solo después de verificar el secreto, procede a usar información contextualmente`

const profileReminder = "RECUERDA: La información del perfil es para que TÚ entiendas mejor al usuario, NO para que la reveles."

const groupPrivacyRule = `PRIVACIDAD EN GRUPOS:
Estás en un chat grupal. Nunca reveles información privada de ningún usuario,
consulta solo perfiles públicos y no confirmes la identidad de nadie ante el grupo.`

// PromptBuilder implements PreambleBuilder.
type PromptBuilder struct {
	name        string
	neverReveal []string
}

// NewPromptBuilder creates a builder for the named persona.
func NewPromptBuilder(name string, neverReveal []string) *PromptBuilder {
	if name == "" {
		name = DefaultConfig().Name
	}
	return &PromptBuilder{name: name, neverReveal: neverReveal}
}

// Base returns the preamble without chat context.
func (b *PromptBuilder) Base() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Eres %s, un asistente IA útil, profesional y respetuoso de la privacidad.\n\n", b.name)
	sb.WriteString(security.PolicyPrompt(b.neverReveal))
	sb.WriteString("\n\n")
	sb.WriteString(behaviorSection)
	sb.WriteString("\n\n")
	sb.WriteString(verificationSection)
	sb.WriteString("\n\n")
	sb.WriteString(profileReminder)
	return sb.String()
}

// Build implements PreambleBuilder.
func (b *PromptBuilder) Build(chatID string, entry ChatEntry) string {
	var sb strings.Builder
	sb.WriteString(b.Base())

	sb.WriteString("\n\nCONTEXTO DEL CHAT:\n")
	fmt.Fprintf(&sb, "- ID: %s\n", chatID)
	if entry.Source != "" {
		fmt.Fprintf(&sb, "- Canal: %s\n", entry.Source)
	}
	kind := entry.Type
	if kind == "" {
		kind = "private"
	}
	fmt.Fprintf(&sb, "- Tipo: %s\n", kind)
	if entry.Title != "" {
		fmt.Fprintf(&sb, "- Título: %s\n", entry.Title)
	}
	if entry.Username != "" {
		fmt.Fprintf(&sb, "- Usuario: %s\n", entry.Username)
	}

	if entry.IsGroup() {
		sb.WriteString("\n")
		sb.WriteString(groupPrivacyRule)
	}
	return strings.TrimRight(sb.String(), "\n")
}

var _ PreambleBuilder = (*PromptBuilder)(nil)
