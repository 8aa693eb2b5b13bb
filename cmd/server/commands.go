package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	migrate "github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	"community-hub/internal/model"
	"community-hub/internal/repository"
	"community-hub/internal/repository/postgres"
	jwtutil "community-hub/pkg/jwt"
)

var (
	lowerPattern = regexp.MustCompile(`[a-z]`)
	upperPattern = regexp.MustCompile(`[A-Z]`)
	digitPattern = regexp.MustCompile(`[0-9]`)
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

func exitOnCLIError(err error) {
	if err == nil {
		return
	}
	// #nosec G705 -- CLI output only; control characters are stripped.
	fmt.Fprintln(os.Stderr, sanitizeCLIError(err))
	os.Exit(1)
}

func runMigrateCommand(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var direction string
	var steps int
	fs.StringVar(&direction, "direction", "up", "up or down")
	fs.IntVar(&steps, "steps", 0, "number of migrations to apply; 0 applies all")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}

	migrationDir := "/migrations"
	if _, statErr := os.Stat(migrationDir); statErr != nil {
		migrationDir = "./migrations"
	}

	migrator, err := migrate.New("file://"+migrationDir, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("init migrator failed: %w", err)
	}
	defer migrator.Close() //nolint:errcheck

	switch {
	case direction == "up" && steps > 0:
		err = migrator.Steps(steps)
	case direction == "up":
		err = migrator.Up()
	case direction == "down" && steps > 0:
		err = migrator.Steps(-steps)
	case direction == "down":
		err = migrator.Down()
	default:
		return fmt.Errorf("unknown migrate direction %q", direction)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations failed: %w", err)
	}

	fmt.Println("migrations applied successfully")
	return nil
}

func runCreateAdminCommand(args []string) error {
	fs := flag.NewFlagSet("create-admin", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var username string
	var password string
	var email string

	fs.StringVar(&username, "username", "admin", "admin username")
	fs.StringVar(&password, "password", "", "admin password")
	fs.StringVar(&email, "email", "", "admin email")

	if err := fs.Parse(args); err != nil {
		return err
	}

	username = strings.TrimSpace(username)
	if username == "" {
		return errors.New("username is required")
	}
	if !isStrongPassword(password) {
		return errors.New("password must be >=12 chars and include upper/lowercase letters and digits")
	}
	if strings.TrimSpace(email) != "" && !isValidEmail(email) {
		return errors.New("invalid email format")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := newCLIPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	users := postgres.NewUserRepository(pool)
	if _, err := users.FindByUsername(ctx, username); err == nil {
		fmt.Printf("admin user '%s' already exists, skip\n", username)
		return nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("query admin user failed: %w", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	if err != nil {
		return fmt.Errorf("hash password failed: %w", err)
	}

	admin := &model.User{
		Username:     username,
		PasswordHash: string(hashed),
		Role:         model.UserRoleAdmin,
		Level:        model.MinLevel,
	}
	if trimmed := strings.TrimSpace(email); trimmed != "" {
		admin.Email = &trimmed
	}

	if err := users.Create(ctx, admin); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			fmt.Printf("admin user '%s' already exists, skip\n", username)
			return nil
		}
		return fmt.Errorf("create admin failed: %w", err)
	}

	fmt.Printf("admin user '%s' created successfully (id %s)\n", username, admin.ID)
	return nil
}

// runIssueTokenCommand signs an access token for an existing user. It is the
// only token issuance path here; logins are handled outside this service.
func runIssueTokenCommand(args []string) error {
	fs := flag.NewFlagSet("issue-token", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var userRef string
	var ttl time.Duration
	fs.StringVar(&userRef, "user", "", "user id or username")
	fs.DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}

	userRef = strings.TrimSpace(userRef)
	if userRef == "" {
		return errors.New("user is required")
	}
	if ttl <= 0 {
		return errors.New("ttl must be greater than 0")
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config failed: %w", err)
	}
	privateKey, err := loadRSAPrivateKey(cfg)
	if err != nil {
		return fmt.Errorf("load jwt private key failed: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := newCLIPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	users := postgres.NewUserRepository(pool)
	var user *model.User
	if id, parseErr := uuid.Parse(userRef); parseErr == nil {
		user, err = users.FindByID(ctx, id)
	} else {
		user, err = users.FindByUsername(ctx, userRef)
	}
	if err != nil {
		return fmt.Errorf("find user %q failed: %w", userRef, err)
	}

	claims := jwtutil.NewClaims(user.ID.String(), string(user.Role), user.Username, ttl)
	token, err := jwtutil.GenerateAccessToken(claims, privateKey)
	if err != nil {
		return fmt.Errorf("sign token failed: %w", err)
	}

	fmt.Println(token)
	return nil
}

func newCLIPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database config failed: %w", err)
	}
	poolCfg.MaxConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database failed: %w", err)
	}
	return pool, nil
}

func isStrongPassword(password string) bool {
	if len(password) < 12 {
		return false
	}
	return lowerPattern.MatchString(password) &&
		upperPattern.MatchString(password) &&
		digitPattern.MatchString(password)
}

func isValidEmail(email string) bool {
	trimmed := strings.TrimSpace(email)
	if trimmed == "" {
		return true
	}
	return emailPattern.MatchString(trimmed)
}

func runHealthcheck() int {
	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get("http://localhost:8080/health/ready")
	if err != nil {
		return 1
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return 1
	}
	return 0
}

func sanitizeCLIError(err error) string {
	if err == nil {
		return ""
	}

	text := strings.ReplaceAll(err.Error(), "\n", " ")
	text = strings.ReplaceAll(text, "\r", " ")
	return strings.TrimSpace(text)
}
