package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"
	"gorm.io/gorm"

	"tally/internal"
	"tally/internal/config"
	"tally/internal/events"
	"tally/internal/projects"
	"tally/internal/users"
)

var errNoApp = errors.New("app initialization failed, cannot connect to database")

func connection(app *internal.Application) (*gorm.DB, error) {
	if app == nil || app.DBManager == nil {
		return nil, errNoApp
	}
	db := app.DBManager.GetConnection()
	if db == nil {
		return nil, errNoApp
	}
	return db, nil
}

// readPassword prompts on a terminal without echo, and otherwise reads one
// line so passwords can be piped in.
func readPassword(prompt string, in *os.File, reader *bufio.Reader) (string, error) {
	fmt.Print(prompt)
	if term.IsTerminal(int(in.Fd())) {
		b, err := term.ReadPassword(int(in.Fd()))
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := reader.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func promptNewPassword(in *os.File) (string, error) {
	reader := bufio.NewReader(in)
	password, err := readPassword("Password (minimum 8 characters): ", in, reader)
	if err != nil {
		return "", err
	}
	confirm, err := readPassword("Confirm password: ", in, reader)
	if err != nil {
		return "", err
	}
	if password != confirm {
		return "", errors.New("passwords do not match")
	}
	return password, nil
}

// MigrateCommand runs database migrations
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string        { return "migrate" }
func (c *MigrateCommand) Description() string { return "Runs database migrations" }

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return errNoApp
	}
	log.Info("Running database migrations")
	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

// CreateUserCommand registers a dashboard user. The password is taken from
// the second argument or prompted for.
type CreateUserCommand struct{}

func (c *CreateUserCommand) Name() string { return "create-user" }
func (c *CreateUserCommand) Description() string {
	return "Creates a user: create-user <email> [password] [name]"
}

func (c *CreateUserCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: %s <email> [password] [name]", c.Name())
	}
	db, err := connection(app)
	if err != nil {
		return err
	}

	in := users.RegisterInput{Email: args[0]}
	if len(args) >= 2 {
		in.Password = args[1]
	} else if in.Password, err = promptNewPassword(os.Stdin); err != nil {
		return err
	}
	if len(args) >= 3 {
		in.Name = strings.Join(args[2:], " ")
	}

	user, err := users.Register(db, slog.Default(), in)
	if errors.Is(err, users.ErrUserExists) {
		log.WithField("email", users.NormalizeEmail(in.Email)).Warn("User already exists")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	log.WithField("user_id", user.ID).WithField("email", user.Email).Info("User created")
	return nil
}

// ChangePasswordCommand replaces a user's password and revokes their tokens.
type ChangePasswordCommand struct{}

func (c *ChangePasswordCommand) Name() string { return "change-password" }
func (c *ChangePasswordCommand) Description() string {
	return "Changes a user's password: change-password <email> [password]"
}

func (c *ChangePasswordCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: %s <email> [password]", c.Name())
	}
	db, err := connection(app)
	if err != nil {
		return err
	}
	if _, err := users.FindByEmail(db, args[0]); err != nil {
		return fmt.Errorf("user lookup failed: %w", err)
	}

	var password string
	if len(args) >= 2 {
		password = args[1]
	} else if password, err = promptNewPassword(os.Stdin); err != nil {
		return err
	}

	if err := users.ChangePassword(db, slog.Default(), args[0], password); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	log.WithField("email", users.NormalizeEmail(args[0])).Info("Password updated, existing tokens revoked")
	return nil
}

// ProjectsCommand lists every project with its owner.
type ProjectsCommand struct{}

func (c *ProjectsCommand) Name() string        { return "projects" }
func (c *ProjectsCommand) Description() string { return "Lists all projects" }

type projectRow struct {
	ID       string
	Name     string
	Domain   string
	Email    string
	IsActive bool
}

func (c *ProjectsCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	db, err := connection(app)
	if err != nil {
		return err
	}

	var rows []projectRow
	err = db.WithContext(ctx).Table("projects").
		Select("projects.id, projects.name, projects.domain, users.email, projects.is_active").
		Joins("LEFT JOIN users ON users.id = projects.user_id").
		Order("projects.created_at ASC").
		Scan(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to list projects: %w", err)
	}
	writeProjects(os.Stdout, rows)
	return nil
}

func writeProjects(w io.Writer, rows []projectRow) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tDOMAIN\tOWNER\tACTIVE")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", r.ID, r.Name, r.Domain, r.Email, r.IsActive)
	}
	tw.Flush()
}

// RotateKeyCommand replaces a project's tracking key.
type RotateKeyCommand struct{}

func (c *RotateKeyCommand) Name() string { return "rotate-key" }
func (c *RotateKeyCommand) Description() string {
	return "Regenerates a project's API key: rotate-key <project-id>"
}

func (c *RotateKeyCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: %s <project-id>", c.Name())
	}
	db, err := connection(app)
	if err != nil {
		return err
	}

	key, err := projects.RotateAPIKey(db, slog.Default(), args[0])
	if err != nil {
		return fmt.Errorf("failed to rotate key: %w", err)
	}
	fmt.Println(key)
	return nil
}

// RebuildStatsCommand recomputes daily stats from raw events for one project,
// or for all projects when no id is given. Dates older than the earliest
// remaining raw event keep their stored totals.
type RebuildStatsCommand struct{}

func (c *RebuildStatsCommand) Name() string { return "rebuild-stats" }
func (c *RebuildStatsCommand) Description() string {
	return "Recomputes daily stats from raw events: rebuild-stats [project-id]"
}

func (c *RebuildStatsCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	db, err := connection(app)
	if err != nil {
		return err
	}

	var ids []string
	if len(args) > 0 {
		if _, err := projects.FindByID(db, args[0]); err != nil {
			return err
		}
		ids = args[:1]
	} else if err := db.Model(&projects.Project{}).Order("created_at ASC").Pluck("id", &ids).Error; err != nil {
		return fmt.Errorf("failed to list projects: %w", err)
	}

	sessionAware := config.GetConfig().SessionAwareVisitors
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := events.RebuildDailyStats(db, id, sessionAware)
		if err != nil {
			return fmt.Errorf("project %s: %w", id, err)
		}
		log.WithField("project_id", id).WithField("rows", n).Info("Daily stats rebuilt")
	}
	return nil
}

// StatusCommand prints row counts and connection pool statistics.
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Description() string { return "Shows the current system status" }

func (c *StatusCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return errNoApp
	}
	if err := app.DBManager.Ping(); err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	db := app.DBManager.GetConnection().WithContext(ctx)

	counts := []struct {
		label string
		model any
	}{
		{"Users", &users.User{}},
		{"Projects", &projects.Project{}},
		{"Events", &events.Event{}},
		{"Daily stats", &events.DailyStat{}},
	}

	fmt.Println("System Status:")
	fmt.Println("- Database: Connected")
	for _, row := range counts {
		var n int64
		if err := db.Model(row.model).Count(&n).Error; err != nil {
			return fmt.Errorf("failed to count %s: %w", strings.ToLower(row.label), err)
		}
		fmt.Printf("- %s: %d\n", row.label, n)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get SQL DB: %w", err)
	}
	stats := sqlDB.Stats()
	fmt.Printf("- Open Connections: %d (in use %d, idle %d, max %d)\n",
		stats.OpenConnections, stats.InUse, stats.Idle, stats.MaxOpenConnections)
	return nil
}

// HelpCommand implements a command to show usage information
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "Shows usage information" }

func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	printUsage(os.Stdout)
	return nil
}
