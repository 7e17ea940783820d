package copilot

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func newTestLedgers(t *testing.T) *LedgerStore {
	t.Helper()
	dir := t.TempDir()
	return NewLedgerStore(filepath.Join(dir, "users"), filepath.Join(dir, "cities"), nil)
}

func TestLedgerName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name, lastname, want string
	}{
		{"Juan", "Pérez", "juan.pérez"},
		{"  Ana María ", "Gómez López", "ana.gómez"},
		{"Carlos Ruiz", "", "carlos.ruiz"},
		{"Solo", "", "solo.unknown"},
		{"", "", "unknown.unknown"},
	}
	for _, tt := range tests {
		if got := LedgerName(tt.name, tt.lastname); got != tt.want {
			t.Errorf("LedgerName(%q, %q) = %q, want %q", tt.name, tt.lastname, got, tt.want)
		}
	}
}

func TestLedgerStore_AddUserAndSecret(t *testing.T) {
	t.Parallel()

	s := newTestLedgers(t)

	first, err := s.AddUser("Ana", "Gómez", "luna")
	if err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	second, err := s.AddUser("Ana", "Gómez", "sol")
	if err != nil {
		t.Fatal(err)
	}
	if first != "ana.gómez" || second != "ana.gómez.1" {
		t.Errorf("names = %q, %q", first, second)
	}

	users, _ := s.ListUsers()
	if !reflect.DeepEqual(users, []string{"ana.gómez", "ana.gómez.1"}) {
		t.Errorf("ListUsers = %v", users)
	}

	data, _ := s.ReadUser(first)
	stored := data["private_profile"].(map[string]any)["secret"].(string)
	if stored == "luna" || !isBcryptHash(stored) {
		t.Errorf("secret stored in clear: %q", stored)
	}

	if ok, _ := s.VerifySecret(first, "luna"); !ok {
		t.Error("correct secret rejected")
	}
	if ok, _ := s.VerifySecret(first, "sol"); ok {
		t.Error("wrong secret accepted")
	}
	if _, err := s.VerifySecret("nadie.nunca", "x"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}

	view, _ := s.PrivateView(first)
	if _, ok := view["private_profile"].(map[string]any)["secret"]; ok {
		t.Error("PrivateView leaks the secret")
	}
}

func TestLedgerStore_LegacyPlainSecret(t *testing.T) {
	t.Parallel()

	s := newTestLedgers(t)
	if err := writeJSONFile(s.userPath("old.user"), map[string]any{
		"private_profile": map[string]any{"secret": "1234"},
	}); err != nil {
		t.Fatal(err)
	}
	if ok, _ := s.VerifySecret("old.user", "1234"); !ok {
		t.Error("plain legacy secret rejected")
	}
	if ok, _ := s.VerifySecret("old.user", "12345"); ok {
		t.Error("wrong legacy secret accepted")
	}
}

func TestLedgerStore_ListUsersSkipsTemplate(t *testing.T) {
	t.Parallel()

	s := newTestLedgers(t)
	if users, err := s.ListUsers(); err != nil || len(users) != 0 {
		t.Fatalf("empty dir: %v, %v", users, err)
	}
	os.MkdirAll(s.usersDir, 0o700)
	os.WriteFile(filepath.Join(s.usersDir, "template.ledger"), []byte("{}"), 0o600)
	os.WriteFile(filepath.Join(s.usersDir, "notes.txt"), []byte("x"), 0o600)
	if users, _ := s.ListUsers(); len(users) != 0 {
		t.Errorf("ListUsers = %v", users)
	}
}

func TestLedgerStore_UpdateUser(t *testing.T) {
	t.Parallel()

	s := newTestLedgers(t)
	user, _ := s.AddUser("Luis", "Mora", "x")

	err := s.UpdateUser(user, map[string]any{
		"public_profile":  map[string]any{"interests": []any{"café", "ciclismo"}, "location": "Cali"},
		"private_profile": map[string]any{"goals": []any{"viajar"}},
	})
	if err != nil {
		t.Fatalf("UpdateUser: %v", err)
	}
	if err := s.UpdateUser(user, map[string]any{"public_profile": map[string]any{"interests": []any{"café"}}}); err != nil {
		t.Fatal(err)
	}

	public, _ := s.PublicProfile(user)
	if !reflect.DeepEqual(public["interests"], []any{"café", "ciclismo"}) || public["location"] != "Cali" {
		t.Errorf("unexpected public profile %v", public)
	}
	if ok, _ := s.VerifySecret(user, "x"); !ok {
		t.Error("merge lost the secret")
	}

	if err := s.UpdateUser(user, map[string]any{"__proto__": map[string]any{}}); err == nil {
		t.Error("blocked key accepted")
	}
	if err := s.UpdateUser("missing.user", map[string]any{}); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
	if err := s.UpdateUser("../etc", map[string]any{}); !errors.Is(err, ErrInvalidName) {
		t.Errorf("expected ErrInvalidName, got %v", err)
	}
}

func TestLedgerStore_AddCityInfo(t *testing.T) {
	t.Parallel()

	s := newTestLedgers(t)

	msgs, changed, err := s.AddCityInfo("Pereira", map[string]any{
		"parques_y_naturaleza": []any{
			map[string]any{"nombre": "Ukumarí", "tags": []any{"fauna"}},
			map[string]any{"descripcion": "sin nombre"},
		},
		"rumores": "no es lista",
	})
	if err != nil || !changed {
		t.Fatalf("AddCityInfo = %v, %v", changed, err)
	}
	if len(msgs) != 3 {
		t.Errorf("messages = %v", msgs)
	}

	data, err := s.ReadCity("PEREIRA")
	if err != nil {
		t.Fatal(err)
	}
	section := data["pereira"].(map[string]any)
	for _, c := range CityCategories {
		if _, ok := section[c]; !ok {
			t.Errorf("template category %s missing", c)
		}
	}

	msgs, changed, _ = s.AddCityInfo("pereira", map[string]any{
		"parques_y_naturaleza": []any{map[string]any{"nombre": "Ukumarí", "tags": []any{"fauna", "familia"}, "horario": "9-17"}},
	})
	if !changed || len(msgs) != 1 || !strings.Contains(msgs[0], "horario") || !strings.Contains(msgs[0], "tags (item agregado)") {
		t.Errorf("update messages = %v", msgs)
	}

	_, changed, _ = s.AddCityInfo("pereira", map[string]any{
		"parques_y_naturaleza": []any{map[string]any{"nombre": "Ukumarí", "horario": "9-17"}},
	})
	if changed {
		t.Error("identical item reported as a change")
	}

	data, _ = s.ReadCity("pereira")
	parks := data["pereira"].(map[string]any)["parques_y_naturaleza"].([]any)
	if len(parks) != 1 || !reflect.DeepEqual(parks[0].(map[string]any)["tags"], []any{"fauna", "familia"}) {
		t.Errorf("unexpected parks %v", parks)
	}

	if _, err := s.ReadCity("atlantis"); !errors.Is(err, ErrCityNotFound) {
		t.Errorf("expected ErrCityNotFound, got %v", err)
	}
}
