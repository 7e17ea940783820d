package security

import (
	"fmt"
	"strings"
)

// DefaultNeverReveal lists profile fields the assistant must never disclose.
var DefaultNeverReveal = []string{
	"age", "location", "profession", "job_title",
	"interests", "goals", "preferences", "relations",
	"secret", "civil_status", "gender",
}

// PolicyPrompt renders the privacy policy section of the system prompt.
func PolicyPrompt(neverReveal []string) string {
	if len(neverReveal) == 0 {
		neverReveal = DefaultNeverReveal
	}
	return fmt.Sprintf(`🚨 POLÍTICAS DE SEGURIDAD - NO NEGOCIABLES 🚨

DATOS QUE NUNCA DEBES REVELAR: %s

SOLO PUEDES MENCIONAR: el nombre del usuario (para saludar).

PROCEDIMIENTO PARA USUARIOS CONOCIDOS:
1. Pide el "secreto" en cuanto conozcas el nombre.
2. Verifica el secreto con la herramienta check_secret.
3. Usa la información del perfil solo internamente y solo tras una verificación exitosa.
4. Nunca reveles que la información proviene de un archivo o de una herramienta.`,
		strings.Join(neverReveal, ", "))
}
