package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"syscall"
	"time"

	"golang.org/x/term"

	qfnats "github.com/Strob0t/QueryForge/internal/adapter/nats"
	"github.com/Strob0t/QueryForge/internal/adapter/postgres"
	"github.com/Strob0t/QueryForge/internal/config"
	"github.com/Strob0t/QueryForge/internal/domain/agent"
	"github.com/Strob0t/QueryForge/internal/domain/datasource"
	"github.com/Strob0t/QueryForge/internal/service"
)

// runAdmin dispatches admin subcommands.
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "hash-key":
		return runAdminHashKey(args[1:])
	case "sign-token":
		return runAdminSignToken(args[1:])
	case "add-database":
		return runAdminAddDatabase(args[1:])
	case "migrate-status":
		return runAdminMigrateStatus(args[1:])
	case "migrate-down":
		return runAdminMigrateDown(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: queryforge admin <command> [options]

Commands:
  hash-key         Hash an API key for auth.api_keys
  sign-token       Sign a bearer token for a user id
  add-database     Register a database in a workspace
  migrate-status   Print the applied schema version
  migrate-down     Roll back schema migrations
  help             Show this help message

Examples:
  queryforge admin hash-key
  queryforge admin sign-token --user alice --ttl 24h
  queryforge admin add-database --workspace <uuid> --type mongodb --name shop --uri mongodb://localhost:27017
  queryforge admin add-database --workspace <uuid> --type bigquery --name warehouse --project my-gcp-project
  queryforge admin migrate-down --steps 1
`)
}

func runAdminHashKey(args []string) error {
	fs := flag.NewFlagSet("hash-key", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	key, err := promptSecret("API key: ")
	if err != nil {
		return fmt.Errorf("read key: %w", err)
	}
	confirm, err := promptSecret("Confirm API key: ")
	if err != nil {
		return fmt.Errorf("read key: %w", err)
	}
	if key != confirm {
		return errors.New("keys do not match")
	}

	hash, err := service.HashAPIKey(key)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func runAdminSignToken(args []string) error {
	fs := flag.NewFlagSet("sign-token", flag.ContinueOnError)
	userID := fs.String("user", "", "user id placed in the token subject (required)")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return errors.New("--user is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}

	token, err := service.NewAuthService(&cfg.Auth).SignAccessToken(*userID, *ttl)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	fmt.Println(token)
	return nil
}

func runAdminAddDatabase(args []string) error {
	fs := flag.NewFlagSet("add-database", flag.ContinueOnError)
	workspaceID := fs.String("workspace", "", "workspace id (required)")
	dbType := fs.String("type", "", "mongodb or bigquery (required)")
	name := fs.String("name", "", "display name (required)")
	uri := fs.String("uri", "", "MongoDB connection string")
	project := fs.String("project", "", "BigQuery project id")
	location := fs.String("location", "", "BigQuery location")
	if err := fs.Parse(args); err != nil {
		return err
	}

	backend, ok := agent.ParseBackendType(*dbType)
	if !ok {
		return fmt.Errorf("--type must be mongodb or bigquery, got %q", *dbType)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	// No local cache. Running servers drop theirs on the change notification;
	// without NATS they fall back to their TTL.
	workspaces := service.NewWorkspaceService(postgres.NewStore(pool), nil, 0)
	if queue, err := qfnats.Connect(ctx, cfg.NATS.URL); err != nil {
		fmt.Fprintf(os.Stderr, "warning: nats unavailable, servers refresh on their cache TTL: %v\n", err)
	} else {
		defer func() { _ = queue.Drain() }()
		workspaces.SetQueue(queue)
	}
	db := &datasource.Database{
		WorkspaceID:   *workspaceID,
		Type:          backend,
		Name:          *name,
		ConnectionURI: *uri,
		ProjectID:     *project,
		Location:      *location,
	}
	if err := workspaces.AddDatabase(ctx, db); err != nil {
		return fmt.Errorf("add database: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Database added: %s (id=%s, type=%s)\n", db.Name, db.ID, db.Type)
	return nil
}

func runAdminMigrateStatus(args []string) error {
	fs := flag.NewFlagSet("migrate-status", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	v, err := postgres.MigrationVersion(context.Background(), cfg.Postgres.DSN)
	if err != nil {
		return err
	}
	fmt.Printf("schema version: %d\n", v)
	return nil
}

func runAdminMigrateDown(args []string) error {
	fs := flag.NewFlagSet("migrate-down", flag.ContinueOnError)
	steps := fs.Int("steps", 1, "number of migrations to roll back")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *steps < 1 {
		return errors.New("--steps must be at least 1")
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := postgres.RollbackMigrations(context.Background(), cfg.Postgres.DSN, *steps); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Rolled back %d migration(s)\n", *steps)
	return nil
}

// promptSecret reads a secret from the terminal without echoing.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)                         // newline after input
	if err != nil {
		return "", err
	}
	return string(b), nil
}
