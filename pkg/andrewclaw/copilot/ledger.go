// Package copilot – ledger.go stores user and city profiles as JSON ledger
// files. User ledgers split a public profile from a private one guarded by
// a bcrypt-hashed secret.
package copilot

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/jholhewres/andrewclaw/pkg/andrewclaw/copilot/security"
)

// Ledger errors.
var (
	ErrUserNotFound = fmt.Errorf("user not found")
	ErrCityNotFound = fmt.Errorf("city not found")
	ErrInvalidName  = fmt.Errorf("invalid ledger name")
)

const (
	ledgerExt          = ".ledger"
	templateLedger     = "template.ledger"
	ledgerFormat       = "v3.0-json-privacy-firewall"
	ledgerNotice       = "🚨 INFORMACIÓN CONFIDENCIAL - NO REVELAR EN CONVERSACIÓN 🚨"
	ledgerInstructions = "El agente solo puede acceder a 'private_profile' en DMs verificados. En grupos, solo se debe consultar 'public_profile'."
)

// CityCategories are the sections of a new city ledger.
var CityCategories = []string{
	"atractivos_culturales",
	"espacios_publicos",
	"parques_y_naturaleza",
	"experiencias_gastronomicas",
	"unidades_deportivas",
	"centros_academicos",
	"centros_comerciales",
}

// LedgerStore reads and writes ledger files.
type LedgerStore struct {
	usersDir  string
	citiesDir string
	logger    *slog.Logger

	mu sync.Mutex
}

// NewLedgerStore creates a store over the given directories.
func NewLedgerStore(usersDir, citiesDir string, logger *slog.Logger) *LedgerStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerStore{
		usersDir:  usersDir,
		citiesDir: citiesDir,
		logger:    logger.With("component", "ledger"),
	}
}

// ---------- Users ----------

// ListUsers returns the ledger names (first.last) of every known user.
func (s *LedgerStore) ListUsers() ([]string, error) {
	entries, err := os.ReadDir(s.usersDir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	users := []string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == templateLedger || !strings.HasSuffix(name, ledgerExt) {
			continue
		}
		users = append(users, strings.TrimSuffix(name, ledgerExt))
	}
	sort.Strings(users)
	return users, nil
}

// LedgerName derives the file stem for a user: first name token and first
// last name token, lowercased. Without a last name the last token of the
// name is used.
func LedgerName(name, lastname string) string {
	n := strings.Fields(strings.ToLower(name))
	l := strings.Fields(strings.ToLower(lastname))

	first := "unknown"
	if len(n) > 0 {
		first = n[0]
	}
	last := "unknown"
	switch {
	case len(l) > 0:
		last = l[0]
	case len(n) > 1:
		last = n[len(n)-1]
	}
	return first + "." + last
}

// AddUser creates a new user ledger and returns its name. Homonyms get a
// numeric suffix (ana.gomez.1, ana.gomez.2...).
func (s *LedgerStore) AddUser(name, lastname, secret string) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", fmt.Errorf("add user: empty secret")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing secret: %w", err)
	}

	base := LedgerName(name, lastname)
	if err := validLedgerName(base); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stem := base
	for i := 1; ; i++ {
		if _, err := os.Stat(s.userPath(stem)); errors.Is(err, os.ErrNotExist) {
			break
		}
		stem = fmt.Sprintf("%s.%d", base, i)
	}

	ledger := newUserLedger(strings.TrimSpace(name+" "+lastname), string(hash))
	if err := writeJSONFile(s.userPath(stem), ledger); err != nil {
		return "", fmt.Errorf("saving user %s: %w", stem, err)
	}
	s.logger.Info("user created", "user", stem)
	return stem, nil
}

func newUserLedger(fullName, secretHash string) map[string]any {
	return map[string]any{
		"system_metadata": map[string]any{
			"security_notice":    ledgerNotice,
			"usage_instructions": ledgerInstructions,
			"file_format":        ledgerFormat,
		},
		"public_profile": map[string]any{
			"name":       fullName,
			"location":   "",
			"profession": "",
			"interests":  []any{},
			"health_info": map[string]any{
				"blood_type":        "",
				"allergies":         []any{},
				"medical_insurance": "",
			},
		},
		"private_profile": map[string]any{
			"secret":    secretHash,
			"age":       nil,
			"gender":    "",
			"goals":     []any{},
			"relations": map[string]any{"family": map[string]any{}, "friends": map[string]any{}},
		},
	}
}

// ReadUser returns the full ledger of user, secret included.
func (s *LedgerStore) ReadUser(user string) (map[string]any, error) {
	if err := validLedgerName(user); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readUserLocked(user)
}

// PublicProfile returns the public section of user's ledger.
func (s *LedgerStore) PublicProfile(user string) (map[string]any, error) {
	data, err := s.ReadUser(user)
	if err != nil {
		return nil, err
	}
	public, _ := data["public_profile"].(map[string]any)
	if public == nil {
		public = map[string]any{}
	}
	return public, nil
}

// PrivateView returns the whole ledger with the secret removed.
func (s *LedgerStore) PrivateView(user string) (map[string]any, error) {
	data, err := s.ReadUser(user)
	if err != nil {
		return nil, err
	}
	if private, ok := data["private_profile"].(map[string]any); ok {
		delete(private, "secret")
	}
	return data, nil
}

// VerifySecret checks attempt against the stored secret. Ledgers created
// before hashing keep a plain secret, compared in constant time.
func (s *LedgerStore) VerifySecret(user, attempt string) (bool, error) {
	data, err := s.ReadUser(user)
	if err != nil {
		return false, err
	}
	private, _ := data["private_profile"].(map[string]any)
	stored, _ := private["secret"].(string)
	if stored == "" || attempt == "" {
		return false, nil
	}
	if isBcryptHash(stored) {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(attempt)) == nil, nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(attempt)) == 1, nil
}

// UpdateUser deep-merges updates into user's ledger. A plain secret in
// updates is hashed before it is stored.
func (s *LedgerStore) UpdateUser(user string, updates map[string]any) error {
	if err := validLedgerName(user); err != nil {
		return err
	}
	if private, ok := updates["private_profile"].(map[string]any); ok {
		if secret, ok := private["secret"].(string); ok && secret != "" && !isBcryptHash(secret) {
			hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hashing secret: %w", err)
			}
			private["secret"] = string(hash)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.readUserLocked(user)
	if err != nil {
		return err
	}
	if err := security.MergeLedger(data, updates); err != nil {
		return fmt.Errorf("merging %s: %w", user, err)
	}
	if err := writeJSONFile(s.userPath(user), data); err != nil {
		return fmt.Errorf("saving user %s: %w", user, err)
	}
	s.logger.Info("user updated", "user", user)
	return nil
}

func (s *LedgerStore) readUserLocked(user string) (map[string]any, error) {
	var data map[string]any
	err := readJSONFile(s.userPath(user), &data)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, user)
	}
	if err != nil {
		return nil, fmt.Errorf("reading user %s: %w", user, err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

func (s *LedgerStore) userPath(stem string) string {
	return filepath.Join(s.usersDir, stem+ledgerExt)
}

// ---------- Cities ----------

// ReadCity returns the ledger of city.
func (s *LedgerStore) ReadCity(city string) (map[string]any, error) {
	key := cityKey(city)
	if err := validLedgerName(key); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var data map[string]any
	err := readJSONFile(s.cityPath(key), &data)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrCityNotFound, city)
	}
	if err != nil {
		return nil, fmt.Errorf("reading city %s: %w", city, err)
	}
	return data, nil
}

// AddCityInfo merges categorized items into city's ledger, creating it from
// the category template when missing. Items are matched by their "nombre"
// field: new items are appended, known items get their fields updated and
// their lists extended. It returns one message per item.
func (s *LedgerStore) AddCityInfo(city string, info map[string]any) ([]string, bool, error) {
	key := cityKey(city)
	if err := validLedgerName(key); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.cityPath(key)
	var data map[string]any
	created := false
	err := readJSONFile(path, &data)
	switch {
	case errors.Is(err, os.ErrNotExist):
		data = map[string]any{key: newCityTemplate()}
		created = true
	case err != nil:
		return nil, false, fmt.Errorf("reading city %s: %w", city, err)
	}

	cityData := citySection(data, key)
	changed := false
	var messages []string

	for _, category := range sortedKeys(info) {
		items, ok := info[category].([]any)
		if !ok {
			messages = append(messages, fmt.Sprintf("⚠️ Categoría '%s' ignorada porque el valor no es una lista.", category))
			continue
		}
		existing, _ := cityData[category].([]any)

		for _, raw := range items {
			item, ok := raw.(map[string]any)
			nombre, hasName := item["nombre"]
			if !ok || !hasName {
				messages = append(messages, fmt.Sprintf("⚠️ Item ignorado en '%s' porque no tiene 'nombre' o no es un objeto.", category))
				continue
			}

			current := findByName(existing, nombre)
			if current == nil {
				existing = append(existing, item)
				messages = append(messages, fmt.Sprintf("✅ Agregado '%v' a '%s'.", nombre, category))
				changed = true
				continue
			}

			updated := updateCityItem(current, item)
			if len(updated) == 0 {
				messages = append(messages, fmt.Sprintf("ℹ️ '%v' ya existe en '%s' sin cambios.", nombre, category))
				continue
			}
			messages = append(messages, fmt.Sprintf("🔄 Actualizado '%v' en '%s': %s", nombre, category, strings.Join(updated, ", ")))
			changed = true
		}
		cityData[category] = existing
	}

	if changed || created {
		if err := writeJSONFile(path, data); err != nil {
			return messages, false, fmt.Errorf("saving city %s: %w", city, err)
		}
		s.logger.Info("city updated", "city", key, "created", created)
	}
	return messages, changed, nil
}

func newCityTemplate() map[string]any {
	t := make(map[string]any, len(CityCategories))
	for _, c := range CityCategories {
		t[c] = []any{}
	}
	return t
}

// citySection finds the category map inside a city ledger: under the city
// key, under a single root key, or the document itself for flat files.
func citySection(data map[string]any, key string) map[string]any {
	if section, ok := data[key].(map[string]any); ok {
		return section
	}
	if len(data) == 1 {
		for _, v := range data {
			if section, ok := v.(map[string]any); ok {
				return section
			}
		}
	}
	return data
}

func findByName(items []any, nombre any) map[string]any {
	for _, raw := range items {
		if item, ok := raw.(map[string]any); ok && reflect.DeepEqual(item["nombre"], nombre) {
			return item
		}
	}
	return nil
}

func updateCityItem(current, incoming map[string]any) []string {
	var updated []string
	for _, field := range sortedKeys(incoming) {
		if field == "nombre" {
			continue
		}
		value := incoming[field]
		if list, ok := value.([]any); ok {
			if have, ok := current[field].([]any); ok {
				for _, v := range list {
					if !containsAny(have, v) {
						have = append(have, v)
						updated = append(updated, field+" (item agregado)")
					}
				}
				current[field] = have
				continue
			}
		}
		if !reflect.DeepEqual(current[field], value) {
			current[field] = value
			updated = append(updated, field)
		}
	}
	return updated
}

func containsAny(list []any, v any) bool {
	for _, item := range list {
		if reflect.DeepEqual(item, v) {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *LedgerStore) cityPath(key string) string {
	return filepath.Join(s.citiesDir, key+ledgerExt)
}

func cityKey(city string) string { return strings.ToLower(strings.TrimSpace(city)) }

// validLedgerName rejects names that would escape the ledger directory.
func validLedgerName(name string) error {
	if name == "" || name == "." || name == ".." ||
		strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}
