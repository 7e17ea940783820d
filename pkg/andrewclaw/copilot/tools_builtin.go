// Package copilot – tools_builtin.go registers the assistant's built-in
// tools: date and time, known chats, user ledgers and city ledgers.
package copilot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jholhewres/andrewclaw/pkg/andrewclaw/copilot/security"
)

// BuiltinDeps are the collaborators of the built-in tools.
type BuiltinDeps struct {
	Ledgers  *LedgerStore
	Registry *ChatRegistry
	Events   *security.EventLog

	// Location is the default timezone of get_current_datetime.
	Location *time.Location

	// Now defaults to time.Now.
	Now func() time.Time
}

// commonTimezones maps informal names to IANA zones.
var commonTimezones = map[string]string{
	"bogota":    "America/Bogota",
	"colombia":  "America/Bogota",
	"cali":      "America/Bogota",
	"mexico":    "America/Mexico_City",
	"argentina": "America/Argentina/Buenos_Aires",
	"chile":     "America/Santiago",
	"peru":      "America/Lima",
	"espana":    "Europe/Madrid",
	"usa":       "America/New_York",
	"ny":        "America/New_York",
	"la":        "America/Los_Angeles",
	"utc":       "UTC",
	"gmt":       "UTC",
}

var (
	weekdaysES = [...]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}
	monthsES   = [...]string{"", "enero", "febrero", "marzo", "abril", "mayo", "junio", "julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre"}
)

// RegisterBuiltinTools adds every built-in tool to reg.
func RegisterBuiltinTools(reg *ToolRegistry, deps BuiltinDeps) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	b := &builtins{deps: deps, failures: make(map[string]int)}

	reg.Register(MakeToolDefinition("get_current_datetime",
		"Obtiene la fecha y hora actual. Úsala cuando el usuario pregunte por la hora, fecha, día o zona horaria.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"timezone": map[string]any{"type": "string", "description": "Zona horaria IANA (ej. 'America/Bogota') o nombre común (bogota, mexico, espana, utc...)."},
				"format":   map[string]any{"type": "string", "enum": []string{"full", "date", "time", "day", "iso"}, "description": "Formato de salida. Por defecto: full"},
			},
		}), b.datetime)

	if deps.Registry != nil {
		reg.Register(MakeToolDefinition("list_active_chats",
			"Devuelve la lista de chats (privados y grupos) en los que Andrew ha tenido actividad.",
			map[string]any{
				"type": "object",
				"properties": map[string]any{
					"source_filter": map[string]any{"type": "string", "enum": []string{"console", "telegram", "whatsapp", "discord", "email"}, "description": "Filtrar por canal. Opcional."},
				},
			}), b.listActiveChats)
	}

	if deps.Ledgers == nil {
		return
	}

	reg.Register(MakeToolDefinition("list_users", "Devuelve la lista de usuarios conocidos.", nil), b.listUsers)

	reg.Register(MakeToolDefinition("add_user",
		"Crea un nuevo usuario con perfil dividido en público y privado.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name":     map[string]any{"type": "string", "description": "Nombre del usuario"},
				"lastname": map[string]any{"type": "string", "description": "Apellido del usuario"},
				"secret":   map[string]any{"type": "string", "description": "Secreto para el perfil privado"},
			},
			"required": []string{"name", "lastname", "secret"},
		}), b.addUser)

	reg.Register(MakeToolDefinition("read_ledger",
		"Lee la información del usuario. En GRUPOS solo accede a info pública. En PRIVADO requiere secreto para info privada.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"user":           map[string]any{"type": "string", "description": "nombre.apellido"},
				"secret_attempt": map[string]any{"type": "string", "description": "Secreto (solo para info privada en DM)"},
				"scope":          map[string]any{"type": "string", "enum": []string{"PUBLIC", "PRIVATE"}, "description": "Nivel de info a leer"},
			},
			"required": []string{"user"},
		}), b.readLedger)

	reg.Register(MakeToolDefinition("check_secret",
		"Verifica el secreto de un usuario para confirmar su identidad.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"user":   map[string]any{"type": "string", "description": "nombre.apellido"},
				"secret": map[string]any{"type": "string", "description": "Secreto proporcionado por el usuario"},
			},
			"required": []string{"user", "secret"},
		}), b.checkSecret)

	reg.Register(MakeToolDefinition("update_user_info",
		"Actualiza o agrega información al perfil de un usuario sin sobrescribir el perfil completo.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"user":      map[string]any{"type": "string", "description": "nombre.apellido"},
				"info_json": map[string]any{"type": "string", "description": "JSON con campos a actualizar. Ejemplo: {\"public_profile\": {\"interests\": [\"café\"]}}"},
			},
			"required": []string{"user", "info_json"},
		}), b.updateUserInfo)

	reg.Register(MakeToolDefinition("add_city_info",
		"Agrega, actualiza o crea información de una ciudad. Si la ciudad no existe se crea con la estructura correcta.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city":      map[string]any{"type": "string", "description": "Nombre de la ciudad (ej: 'pereira')."},
				"info_json": map[string]any{"type": "string", "description": "JSON {\"categoria\": [{\"nombre\": \"...\", \"descripcion\": \"...\"}]}. Categorías: " + strings.Join(CityCategories, ", ") + "."},
			},
			"required": []string{"city", "info_json"},
		}), b.addCityInfo)

	reg.Register(MakeToolDefinition("read_city_info",
		"Obtiene información detallada sobre una ciudad: atractivos, parques, gastronomía, universidades.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city": map[string]any{"type": "string", "description": "El nombre de la ciudad (ej: 'cali', 'bogota')."},
			},
			"required": []string{"city"},
		}), b.readCityInfo)
}

type builtins struct {
	deps BuiltinDeps

	mu       sync.Mutex
	failures map[string]int
}

func (b *builtins) datetime(_ context.Context, _ ToolContext, args map[string]any) (any, error) {
	loc := b.deps.Location
	if tz := stringArg(args, "timezone"); tz != "" {
		name := tz
		if mapped, ok := commonTimezones[strings.ToLower(tz)]; ok {
			name = mapped
		}
		l, err := time.LoadLocation(name)
		if err != nil {
			return nil, fmt.Errorf("zona horaria %q no reconocida", tz)
		}
		loc = l
	}
	now := b.deps.Now().In(loc)

	var formatted string
	switch stringArg(args, "format") {
	case "iso":
		formatted = now.Format(time.RFC3339)
	case "date":
		formatted = fmt.Sprintf("%d de %s de %d", now.Day(), monthsES[now.Month()], now.Year())
	case "time":
		formatted = now.Format("15:04:05")
	case "day":
		formatted = "Hoy es " + weekdaysES[now.Weekday()]
	default:
		wd := weekdaysES[now.Weekday()]
		formatted = fmt.Sprintf("%s%s, %d de %s de %d, %s (%s)",
			strings.ToUpper(wd[:1]), wd[1:], now.Day(), monthsES[now.Month()], now.Year(),
			now.Format("15:04:05"), now.Format("MST"))
	}

	return map[string]any{
		"success":        true,
		"formatted":      formatted,
		"iso_format":     now.Format(time.RFC3339),
		"timezone":       loc.String(),
		"utc_offset":     now.Format("-0700"),
		"weekday":        weekdaysES[now.Weekday()],
		"human_readable": fmt.Sprintf("Son las %s %s", now.Format("15:04:05"), timeOfDay(now.Hour())),
	}, nil
}

func timeOfDay(hour int) string {
	switch {
	case hour < 6:
		return "de la madrugada"
	case hour < 12:
		return "de la mañana"
	case hour < 19:
		return "de la tarde"
	default:
		return "de la noche"
	}
}

func (b *builtins) listActiveChats(_ context.Context, tc ToolContext, args map[string]any) (any, error) {
	all, err := b.deps.Registry.GetAll()
	if err != nil {
		return nil, err
	}
	filter := stringArg(args, "source_filter")

	chats := []map[string]any{}
	for _, id := range sortedChatIDs(all) {
		e := all[id]
		if filter != "" && e.Source != filter {
			continue
		}
		// Private chats of other people stay hidden inside groups.
		if tc.IsGroup() && !e.IsGroup() {
			continue
		}
		chats = append(chats, map[string]any{
			"chat_id":          id,
			"type":             e.Type,
			"source":           e.Source,
			"title":            e.Title,
			"username":         e.Username,
			"last_interaction": e.LastSeen,
		})
	}
	return map[string]any{"total": len(chats), "chats": chats}, nil
}

func (b *builtins) listUsers(context.Context, ToolContext, map[string]any) (any, error) {
	users, err := b.deps.Ledgers.ListUsers()
	if err != nil {
		return nil, err
	}
	return map[string]any{"usuarios": users}, nil
}

func (b *builtins) addUser(_ context.Context, _ ToolContext, args map[string]any) (any, error) {
	name, lastname := stringArg(args, "name"), stringArg(args, "lastname")
	stem, err := b.deps.Ledgers.AddUser(name, lastname, stringArg(args, "secret"))
	if err != nil {
		return map[string]any{"error": "Error al crear usuario: " + err.Error()}, nil
	}
	return map[string]any{
		"success": true,
		"message": fmt.Sprintf("Usuario %s creado exitosamente. Archivo: %s%s", strings.TrimSpace(name+" "+lastname), stem, ledgerExt),
	}, nil
}

func (b *builtins) readLedger(_ context.Context, tc ToolContext, args map[string]any) (any, error) {
	user := stringArg(args, "user")
	scope := strings.ToUpper(stringArg(args, "scope"))

	if tc.IsGroup() || scope != "PRIVATE" {
		profile, err := b.deps.Ledgers.PublicProfile(user)
		if err != nil {
			return ledgerError(err), nil
		}
		b.logAccess(user, tc, "public_profile")
		return map[string]any{"authorized": true, "scope_delivered": "PUBLIC", "profile": profile}, nil
	}

	ok, err := b.verify(user, stringArg(args, "secret_attempt"))
	if err != nil {
		return ledgerError(err), nil
	}
	if !ok {
		return map[string]any{"authorized": false, "error": "Secreto incorrecto para acceso privado"}, nil
	}
	profile, err := b.deps.Ledgers.PrivateView(user)
	if err != nil {
		return ledgerError(err), nil
	}
	b.logAccess(user, tc, "private_profile")
	return map[string]any{"authorized": true, "scope_delivered": "PRIVATE", "profile": profile}, nil
}

func (b *builtins) checkSecret(_ context.Context, _ ToolContext, args map[string]any) (any, error) {
	user := stringArg(args, "user")
	ok, err := b.verify(user, stringArg(args, "secret"))
	if err != nil {
		return ledgerError(err), nil
	}
	if !ok {
		return map[string]any{"verified": false, "message": "Secreto incorrecto."}, nil
	}
	return map[string]any{"verified": true, "message": "Secreto verificado. Identidad confirmada."}, nil
}

func (b *builtins) updateUserInfo(_ context.Context, _ ToolContext, args map[string]any) (any, error) {
	user := stringArg(args, "user")
	updates, err := objectArg(args, "info_json")
	if err != nil {
		return map[string]any{"error": err.Error()}, nil
	}
	if err := b.deps.Ledgers.UpdateUser(user, updates); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return map[string]any{"error": "No se encontró el ledger para el usuario " + user}, nil
		}
		return map[string]any{"error": "Error al actualizar usuario: " + err.Error()}, nil
	}
	return map[string]any{"success": true, "message": fmt.Sprintf("Perfil de %s actualizado correctamente", user)}, nil
}

func (b *builtins) addCityInfo(_ context.Context, _ ToolContext, args map[string]any) (any, error) {
	city := stringArg(args, "city")
	info, err := objectArg(args, "info_json")
	if err != nil {
		return map[string]any{"error": err.Error()}, nil
	}
	messages, changed, err := b.deps.Ledgers.AddCityInfo(city, info)
	if err != nil {
		return map[string]any{"error": "Error al procesar información de ciudad: " + err.Error()}, nil
	}
	if !changed {
		return map[string]any{"success": true, "message": "No se realizaron cambios nuevos.", "details": messages}, nil
	}
	return map[string]any{"success": true, "details": messages}, nil
}

func (b *builtins) readCityInfo(_ context.Context, _ ToolContext, args map[string]any) (any, error) {
	city := stringArg(args, "city")
	data, err := b.deps.Ledgers.ReadCity(city)
	if errors.Is(err, ErrCityNotFound) {
		return map[string]any{"error": fmt.Sprintf("No se encontró información para la ciudad: %s. Puedes usar add_city_info para crearla.", city)}, nil
	}
	if err != nil {
		return map[string]any{"error": "Error al leer información de ciudad: " + err.Error()}, nil
	}
	return data, nil
}

// verify checks a secret and records the attempt in the security log.
func (b *builtins) verify(user, attempt string) (bool, error) {
	ok, err := b.deps.Ledgers.VerifySecret(user, attempt)
	if err != nil {
		return false, err
	}

	// attempts counts the failures since the last success, this one included.
	b.mu.Lock()
	attempts := b.failures[user] + 1
	if ok {
		delete(b.failures, user)
	} else {
		b.failures[user] = attempts
	}
	b.mu.Unlock()

	if b.deps.Events != nil {
		if _, err := b.deps.Events.LogSecretVerification(user, ok, attempts); err != nil {
			b.deps.Ledgers.logger.Warn("security log write failed", "error", err)
		}
	}
	return ok, nil
}

func (b *builtins) logAccess(user string, tc ToolContext, purpose string) {
	if b.deps.Events == nil {
		return
	}
	accessedBy := tc.UserID()
	if accessedBy == "" {
		accessedBy = "assistant"
	}
	if _, err := b.deps.Events.LogProfileAccess(user, accessedBy, purpose); err != nil {
		b.deps.Ledgers.logger.Warn("security log write failed", "error", err)
	}
}

func ledgerError(err error) map[string]any {
	if errors.Is(err, ErrUserNotFound) {
		return map[string]any{"error": "Usuario no encontrado"}
	}
	return map[string]any{"error": err.Error()}
}

func sortedChatIDs(all map[string]ChatEntry) []string {
	ids := make([]string, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
