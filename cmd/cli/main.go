package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/yourorg/valetgate/internal/domain"
	"github.com/yourorg/valetgate/internal/infrastructure/logger"
	"github.com/yourorg/valetgate/internal/repository"
	"github.com/yourorg/valetgate/pkg/config"
	"github.com/yourorg/valetgate/pkg/database"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "auth":
		handleAuth(args)
	case "tenants":
		handleTenants(args)
	case "keys":
		handleKeys(args)
	case "init-db":
		initDB()
	case "seed":
		seed(args)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func handleAuth(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: valetgate auth <login|logout|who>")
		return
	}

	switch args[0] {
	case "login":
		login(args[1:])
	case "logout":
		os.Remove(tokenFile())
		fmt.Println("✓ Logged out")
	case "who":
		whoAmI()
	default:
		fmt.Printf("unknown auth command: %s\n", args[0])
	}
}

func handleTenants(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: valetgate tenants <list|create|delete>")
		return
	}

	switch args[0] {
	case "list":
		listTenants()
	case "create":
		createTenant(args[1:])
	case "delete":
		deleteTenant(args[1:])
	default:
		fmt.Printf("unknown tenants command: %s\n", args[0])
	}
}

func handleKeys(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: valetgate keys <list|generate|revoke|renew|validate>")
		return
	}

	switch args[0] {
	case "list":
		listKeys()
	case "generate":
		generateKey(args[1:])
	case "revoke":
		revokeKey(args[1:])
	case "renew":
		renewKey(args[1:])
	case "validate":
		validateKey(args[1:])
	default:
		fmt.Printf("unknown keys command: %s\n", args[0])
	}
}

func login(args []string) {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	nickname := fs.String("nickname", "", "login handle")
	password := fs.String("password", "", "password")
	fs.Parse(args)

	if *nickname == "" || *password == "" {
		fmt.Println("Error: nickname and password are required")
		fs.PrintDefaults()
		return
	}

	result, ok := post("/auth/login", map[string]string{"nickname": *nickname, "password": *password}, false)
	if !ok {
		return
	}
	if data, ok := result["data"].(map[string]interface{}); ok {
		if token, ok := data["token"].(string); ok {
			saveToken(token)
			fmt.Printf("✓ Logged in as: %s\n", *nickname)
			return
		}
	}
	fmt.Printf("✗ Login failed: %v\n", result["error"])
}

func whoAmI() {
	result, ok := get("/auth/me")
	if !ok {
		return
	}
	data, isMap := result["data"].(map[string]interface{})
	if !isMap {
		fmt.Println("Not logged in")
		return
	}
	fmt.Printf("✓ %v (%v), tenant: %v\n", data["nickname"], data["role"], data["tenant_id"])
}

func listTenants() {
	result, ok := get("/tenants")
	if !ok {
		return
	}
	rows, _ := result["data"].([]interface{})
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tACTIVE")
	for _, row := range rows {
		t, _ := row.(map[string]interface{})
		fmt.Fprintf(w, "%v\t%v\t%v\n", t["id"], t["name"], t["is_active"])
	}
	w.Flush()
}

func createTenant(args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	name := fs.String("name", "", "tenant name")
	email := fs.String("email", "", "contact email")
	phone := fs.String("phone", "", "contact phone")
	company := fs.String("company", "", "company name")
	fs.Parse(args)

	if *name == "" {
		fmt.Println("Error: name is required")
		fs.PrintDefaults()
		return
	}

	result, ok := post("/tenants", map[string]string{
		"name": *name, "email": *email, "phone": *phone, "company_name": *company,
	}, true)
	if !ok {
		return
	}
	if data, isMap := result["data"].(map[string]interface{}); isMap {
		fmt.Printf("✓ Tenant created: %v\n", data["id"])
	} else {
		fmt.Printf("✗ Create failed: %v\n", result["error"])
	}
}

func deleteTenant(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: valetgate tenants delete <tenant-id>")
		return
	}
	result, ok := do("DELETE", "/tenants/"+args[0], nil)
	if !ok {
		return
	}
	if success, _ := result["success"].(bool); success {
		fmt.Printf("✓ Tenant deleted: %s\n", args[0])
	} else {
		fmt.Printf("✗ Delete failed: %v\n", result["error"])
	}
}

func listKeys() {
	result, ok := get("/access-keys")
	if !ok {
		return
	}
	rows, _ := result["data"].([]interface{})
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCODE\tTENANT\tSTATUS\tEXPIRES")
	for _, row := range rows {
		k, _ := row.(map[string]interface{})
		fmt.Fprintf(w, "%v\t%v\t%v\t%v\t%v\n", k["id"], k["code"], k["tenant_id"], k["status"], k["expires_at"])
	}
	w.Flush()
}

func generateKey(args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	tenant := fs.String("tenant", "", "owning tenant id")
	expires := fs.String("expires", "", "expiry date (YYYY-MM-DD)")
	fs.Parse(args)

	if *tenant == "" || *expires == "" {
		fmt.Println("Error: tenant and expires are required")
		fs.PrintDefaults()
		return
	}

	result, ok := post("/access-keys/generate", map[string]string{
		"tenant_id": *tenant, "expires_at": *expires,
	}, true)
	if !ok {
		return
	}
	if data, isMap := result["data"].(map[string]interface{}); isMap {
		fmt.Printf("✓ Key issued: %v (%v)\n", data["code"], data["id"])
	} else {
		fmt.Printf("✗ Generate failed: %v\n", result["error"])
	}
}

func revokeKey(args []string) {
	fs := flag.NewFlagSet("revoke", flag.ExitOnError)
	id := fs.String("id", "", "key id")
	reason := fs.String("reason", "", "revocation reason")
	fs.Parse(args)

	if *id == "" || *reason == "" {
		fmt.Println("Error: id and reason are required")
		fs.PrintDefaults()
		return
	}

	result, ok := do("PUT", "/access-keys/"+*id+"/revoke", map[string]string{"reason": *reason})
	if !ok {
		return
	}
	if success, _ := result["success"].(bool); success {
		fmt.Printf("✓ Key revoked: %s\n", *id)
	} else {
		fmt.Printf("✗ Revoke failed: %v\n", result["error"])
	}
}

func renewKey(args []string) {
	fs := flag.NewFlagSet("renew", flag.ExitOnError)
	id := fs.String("id", "", "key id")
	months := fs.Int("months", 12, "months from today")
	fs.Parse(args)

	if *id == "" {
		fmt.Println("Error: id is required")
		fs.PrintDefaults()
		return
	}

	result, ok := do("PUT", "/access-keys/"+*id+"/renew", map[string]int{"months": *months})
	if !ok {
		return
	}
	if data, isMap := result["data"].(map[string]interface{}); isMap {
		fmt.Printf("✓ Key renewed until %v\n", data["expires_at"])
	} else {
		fmt.Printf("✗ Renew failed: %v\n", result["error"])
	}
}

func validateKey(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	code := fs.String("code", "", "access key code")
	device := fs.String("device", "cli", "device identifier")
	fs.Parse(args)

	if *code == "" {
		fmt.Println("Error: code is required")
		fs.PrintDefaults()
		return
	}

	result, ok := post("/access-keys/validate", map[string]string{
		"code": *code, "device_id": *device, "app_version": "cli", "os_version": "cli",
	}, false)
	if !ok {
		return
	}
	if data, isMap := result["data"].(map[string]interface{}); isMap {
		fmt.Printf("✓ Valid: %v days remaining (expires %v)\n", data["days_remaining"], data["expires_at"])
	} else {
		fmt.Printf("✗ Invalid: %v (%v)\n", result["error"], result["code"])
	}
}

// schema is the full DDL for a fresh database
const schema = `
CREATE TABLE IF NOT EXISTS tenants (
    id UUID PRIMARY KEY,
    name TEXT NOT NULL,
    email TEXT NOT NULL DEFAULT '',
    phone TEXT NOT NULL DEFAULT '',
    company_name TEXT NOT NULL DEFAULT '',
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS users (
    id UUID PRIMARY KEY,
    name TEXT NOT NULL,
    nickname TEXT NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    phone TEXT NOT NULL DEFAULT '',
    role TEXT NOT NULL DEFAULT 'operator',
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS access_keys (
    id UUID PRIMARY KEY,
    code TEXT NOT NULL UNIQUE,
    tenant_id UUID NOT NULL REFERENCES tenants(id),
    client_name TEXT NOT NULL DEFAULT '',
    client_email TEXT NOT NULL DEFAULT '',
    client_phone TEXT NOT NULL DEFAULT '',
    company_name TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'active',
    expires_at TIMESTAMPTZ NOT NULL,
    revoked_at TIMESTAMPTZ,
    revoked_reason TEXT NOT NULL DEFAULT '',
    last_validated_at TIMESTAMPTZ,
    device_id TEXT NOT NULL DEFAULT '',
    observations TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS access_key_users (
    access_key_id UUID NOT NULL REFERENCES access_keys(id) ON DELETE CASCADE,
    user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    PRIMARY KEY (access_key_id, user_id)
);

CREATE TABLE IF NOT EXISTS validation_logs (
    id UUID PRIMARY KEY,
    access_key_id TEXT NOT NULL,
    device_id TEXT NOT NULL DEFAULT '',
    outcome TEXT NOT NULL,
    app_version TEXT NOT NULL DEFAULT '',
    os_version TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_validation_logs_key ON validation_logs (access_key_id, created_at DESC);

CREATE TABLE IF NOT EXISTS vehicle_entries (
    id UUID PRIMARY KEY,
    tenant_id UUID NOT NULL REFERENCES tenants(id),
    plate TEXT NOT NULL,
    model TEXT NOT NULL DEFAULT '',
    color TEXT NOT NULL DEFAULT '',
    client_name TEXT NOT NULL DEFAULT '',
    spot_number TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'parked',
    entry_time TIMESTAMPTZ NOT NULL,
    exit_time TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_vehicle_entries_tenant_entry ON vehicle_entries (tenant_id, entry_time);
CREATE INDEX IF NOT EXISTS idx_vehicle_entries_tenant_exit ON vehicle_entries (tenant_id, exit_time);
`

func initDB() {
	db, _ := openDB()
	defer db.Close()

	if _, err := db.GetDB().Exec(schema); err != nil {
		fmt.Fprintf(os.Stderr, "✗ schema apply failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✓ Schema applied")
}

// seed creates an admin account, a demo tenant and an active key so a fresh
// install is immediately usable.
func seed(args []string) {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	nickname := fs.String("nickname", "admin", "admin login handle")
	password := fs.String("password", "", "admin password")
	fs.Parse(args)

	if *password == "" {
		fmt.Println("Error: password is required")
		fs.PrintDefaults()
		return
	}

	db, log := openDB()
	defer db.Close()

	users := repository.NewPostgresUserRepository(db.GetDB(), log)
	tenants := repository.NewPostgresTenantRepository(db.GetDB(), log)
	keys := repository.NewPostgresAccessKeyRepository(db.GetDB(), log)

	hash, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ %v\n", err)
		os.Exit(1)
	}
	admin := &domain.User{
		Name:         "Administrator",
		Nickname:     *nickname,
		PasswordHash: string(hash),
		Role:         domain.RoleAdmin,
		IsActive:     true,
	}
	if err := users.Create(admin); err != nil {
		fmt.Fprintf(os.Stderr, "✗ create admin: %v\n", err)
		os.Exit(1)
	}

	tenant := &domain.Tenant{Name: "Demo Valet", CompanyName: "Demo Valet LLC", IsActive: true}
	if err := tenants.Create(tenant); err != nil {
		fmt.Fprintf(os.Stderr, "✗ create tenant: %v\n", err)
		os.Exit(1)
	}

	key := &domain.AccessKey{
		Code:       "VALET-000000000001",
		TenantID:   tenant.ID,
		ClientName: tenant.Name,
		Status:     domain.KeyStatusActive,
		ExpiresAt:  time.Now().AddDate(1, 0, 0),
	}
	if err := keys.Create(key); err != nil {
		fmt.Fprintf(os.Stderr, "✗ create key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ Seeded admin %q, tenant %s, key %s\n", *nickname, tenant.ID, key.Code)
}

func openDB() (*database.ConnectionPool, *slog.Logger) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ config: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewLogger("error")
	db, err := database.NewConnectionPool(context.Background(), &database.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ database: %v\n", err)
		os.Exit(1)
	}
	return db, log
}

// HTTP helpers

func get(path string) (map[string]interface{}, bool) {
	return do("GET", path, nil)
}

func post(path string, payload any, authed bool) (map[string]interface{}, bool) {
	data, _ := json.Marshal(payload)
	req, _ := http.NewRequest("POST", getAPIURL()+path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if authed {
		addAuthHeader(req)
	}
	return send(req)
}

func do(method, path string, payload any) (map[string]interface{}, bool) {
	var body *bytes.Reader
	if payload != nil {
		data, _ := json.Marshal(payload)
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, getAPIURL()+path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	addAuthHeader(req)
	return send(req)
}

func send(req *http.Request) (map[string]interface{}, bool) {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return nil, false
	}
	defer resp.Body.Close()

	var result map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&result)
	return result, true
}

func getAPIURL() string {
	if url := os.Getenv("VALETGATE_API"); url != "" {
		return url
	}
	return "http://localhost:8080/api"
}

func tokenFile() string {
	home, _ := os.UserHomeDir()
	return home + "/.valetgate/token"
}

func saveToken(token string) error {
	home, _ := os.UserHomeDir()
	os.MkdirAll(home+"/.valetgate", 0700)
	return os.WriteFile(tokenFile(), []byte(token), 0600)
}

func loadToken() string {
	data, _ := os.ReadFile(tokenFile())
	return string(data)
}

func addAuthHeader(req *http.Request) {
	token := loadToken()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func printUsage() {
	fmt.Print(`ValetGate CLI

Usage:
  valetgate <command> [options]

Commands:
  auth       Authentication (login, logout, who)
  tenants    Tenant administration (list, create, delete) - admin access required
  keys       Access key administration (list, generate, revoke, renew, validate)
  init-db    Apply the database schema
  seed       Create an admin account, demo tenant and key
  help       Show this help message

Environment Variables:
  VALETGATE_API    API endpoint (default: http://localhost:8080/api)

Examples:
  valetgate init-db
  valetgate seed -password changeme123
  valetgate auth login -nickname admin -password changeme123
  valetgate tenants create -name "Hotel Plaza Valet"
  valetgate keys generate -tenant <tenant-id> -expires 2027-01-01
  valetgate keys validate -code VALET-000000000001
`)
}
