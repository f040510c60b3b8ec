package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tasktrail/internal/app"
	"tasktrail/internal/config"
	"tasktrail/internal/db"
	"tasktrail/internal/domain"
	"tasktrail/internal/engine"
	"tasktrail/internal/engine/auth"
	"tasktrail/internal/metrics"
	"tasktrail/internal/migrate"
	"tasktrail/internal/repo"
	"tasktrail/internal/server"
)

const secretEnvKey = "TASKTRAIL_JWT_SECRET"

var rootCmd = &cobra.Command{
	Use:   "tt",
	Short: "tasktrail CLI",
	Long: `tasktrail is a role-based task tracker with an audit trail.
- Actors have one role: ADMIN, MANAGER, MEMBER or VIEWER. The role decides what they may do.
- Tasks move TODO -> DOING -> DONE. Members may only move their own tasks one step forward.
- Every change to a task or a role is recorded in the audit trail with before/after snapshots.
- The API authenticates with bearer tokens signed by TASKTRAIL_JWT_SECRET (see 'tt secret init').
- CLI commands act as the actor named by --actor and obey the same rules as the API.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		if err := godotenv.Load(filepath.Join(workspace, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load .env: %w", err)
		}
		slog.SetDefault(newLogger())
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TASKTRAIL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().String("db", "", "database file (default <workspace>/.tasktrail/tasktrail.db)")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "", "email of the acting actor")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "emit JSON logs")
	for _, name := range []string{"workspace", "db", "json", "actor", "log-level", "log-json"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(secretCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(auditCmd())
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if viper.GetBool("log-json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if viper.GetString("jwt-secret") == "" {
				return fmt.Errorf("%s is required for bearer auth; run tt secret init", secretEnvKey)
			}
			m := metrics.New()
			return withEngineMetrics(cmd.Context(), m, func(ctx context.Context, e engine.Engine) error {
				logger := slog.Default()
				if _, err := app.SeedActors(ctx, e, e.Config, logger); err != nil {
					return err
				}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Logger: logger, Metrics: m})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				logger.Info("serving tasktrail API", "addr", addr, "base_path", basePath, "docs", "/docs", "metrics", "/metrics")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/api", "API base path")
	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create the bootstrap actors from tasktrail.yml if missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := app.SeedActors(ctx, e, e.Config, slog.Default())
				if err != nil {
					return err
				}
				fmt.Printf("Created %d actor(s)\n", n)
				return nil
			})
		},
	}
}

func secretCmd() *cobra.Command {
	sec := &cobra.Command{Use: "secret", Short: "Manage the token signing secret"}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a signing secret into <workspace>/.env",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(viper.GetString("workspace"), ".env")
			if existing, err := godotenv.Read(path); err == nil && existing[secretEnvKey] != "" && !force {
				return fmt.Errorf("%s already set in %s; use --force to rotate (outstanding tokens become invalid)", secretEnvKey, path)
			}
			buf := make([]byte, 32)
			if _, err := rand.Read(buf); err != nil {
				return err
			}
			if err := setEnvValue(path, secretEnvKey, hex.EncodeToString(buf)); err != nil {
				return err
			}
			fmt.Printf("Wrote %s to %s\n", secretEnvKey, path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing secret")
	sec.AddCommand(initCmd)
	return sec
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage tasktrail.yml",
		Long:  "tasktrail.yml holds the token lifetime, title limit and bootstrap actors. Missing keys fall back to defaults.",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default tasktrail.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOrDefault(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(c)
		},
	}
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate tasktrail.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(viper.GetString("workspace")); err != nil {
				return err
			}
			fmt.Println("Config OK")
			return nil
		},
	}
	cfg.AddCommand(initCmd, showCmd, validateCmd)
	return cfg
}

func tokenCmd() *cobra.Command {
	tok := &cobra.Command{Use: "token", Short: "Bearer tokens"}
	tok.AddCommand(&cobra.Command{
		Use:   "issue <email>",
		Short: "Issue a token for an existing actor without a password (local operators only)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if viper.GetString("jwt-secret") == "" {
				return fmt.Errorf("%s is required; run tt secret init", secretEnvKey)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				token, err := e.IssueToken(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{
						"token":      token,
						"token_type": "Bearer",
						"expires_at": e.Tokens.ExpiresAt().UTC().Format(time.RFC3339),
					})
				}
				fmt.Println(token)
				return nil
			})
		},
	})
	return tok
}

func userCmd() *cobra.Command {
	usr := &cobra.Command{Use: "user", Short: "Manage actors"}
	usr.AddCommand(userCreateCmd())
	usr.AddCommand(userListCmd())
	usr.AddCommand(userRoleCmd())
	return usr
}

func userCreateCmd() *cobra.Command {
	var email, password, role string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an actor with a role (local operators only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := domain.ParseRole(role)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, created, err := e.EnsureActor(ctx, email, password, r)
				if err != nil {
					return err
				}
				if !created {
					return fmt.Errorf("%w: %s already exists", engine.ErrConflict, a.Email)
				}
				return printActors([]domain.Actor{a})
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email")
	cmd.Flags().StringVar(&password, "password", "", "password (min 8 characters)")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleMember), "role")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func userListCmd() *cobra.Command {
	var assignable bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List actors",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				list := e.ListUsers
				if assignable {
					list = e.ListAssignableUsers
				}
				users, err := list(ctx, actor)
				if err != nil {
					return err
				}
				return printActors(users)
			})
		},
	}
	cmd.Flags().BoolVar(&assignable, "assignable", false, "only actors tasks can be assigned to")
	return cmd
}

func userRoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "role <user-id> <role>",
		Short: "Change an actor's role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := domain.ParseRole(args[1])
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				updated, err := e.ChangeRole(ctx, actor, args[0], r)
				if err != nil {
					return err
				}
				return printActors([]domain.Actor{updated})
			})
		},
	}
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskDeleteCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var status, assignee string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List visible tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			f := repo.TaskFilters{AssigneeID: assignee}
			if status != "" {
				s, err := domain.ParseStatus(status)
				if err != nil {
					return err
				}
				f.Status = s
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				tasks, err := e.ListTasks(ctx, actor, f)
				if err != nil {
					return err
				}
				return printTasks(tasks)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&assignee, "assignee-id", "", "assignee filter")
	return cmd
}

func taskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				t, err := e.GetTask(ctx, actor, id)
				if err != nil {
					return err
				}
				return printTasks([]domain.Task{t})
			})
		},
	}
}

func taskCreateCmd() *cobra.Command {
	var title, description, assignee string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := engine.TaskCreate{Title: title}
			if cmd.Flags().Changed("description") {
				in.Description = &description
			}
			if cmd.Flags().Changed("assignee-id") {
				in.AssigneeID = &assignee
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				t, err := e.CreateTask(ctx, actor, in)
				if err != nil {
					return err
				}
				return printTasks([]domain.Task{t})
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&assignee, "assignee-id", "", "assignee actor id")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var title, description, status, assignee string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update task fields; unchanged values are not recorded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			var in engine.TaskUpdate
			if cmd.Flags().Changed("title") {
				in.Title = &title
			}
			if cmd.Flags().Changed("description") {
				in.Description = &description
			}
			if cmd.Flags().Changed("assignee-id") {
				in.AssigneeID = &assignee
			}
			if cmd.Flags().Changed("status") {
				s, err := domain.ParseStatus(status)
				if err != nil {
					return err
				}
				in.Status = &s
			}
			if in.Empty() {
				return fmt.Errorf("nothing to update; pass --title, --description, --status or --assignee-id")
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				t, err := e.UpdateTask(ctx, actor, id, in)
				if err != nil {
					return err
				}
				return printTasks([]domain.Task{t})
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description (empty clears it)")
	cmd.Flags().StringVar(&status, "status", "", "TODO, DOING or DONE")
	cmd.Flags().StringVar(&assignee, "assignee-id", "", "assignee actor id")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTaskID(args[0])
			if err != nil {
				return err
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				if err := e.DeleteTask(ctx, actor, id); err != nil {
					return err
				}
				fmt.Printf("Deleted task %d\n", id)
				return nil
			})
		},
	}
}

func auditCmd() *cobra.Command {
	aud := &cobra.Command{Use: "audit", Short: "Read the audit trail"}
	var f repo.AuditFilters
	var action string
	list := &cobra.Command{
		Use:   "list",
		Short: "List entries from every actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Action = domain.AuditAction(strings.ToUpper(action))
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				entries, err := e.ListAudit(ctx, actor, f)
				if err != nil {
					return err
				}
				return printAudit(entries)
			})
		},
	}
	list.Flags().StringVar(&f.ActorID, "actor-id", "", "acting actor filter")
	list.Flags().StringVar(&f.EntityKind, "entity-kind", "", "TASK or USER")
	list.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id filter")
	list.Flags().StringVar(&action, "action", "", "CREATE, UPDATE or DELETE")
	list.Flags().IntVar(&f.Limit, "limit", 0, "max entries (0 = all)")
	mine := &cobra.Command{
		Use:   "mine",
		Short: "List entries recorded for the acting actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				entries, err := e.ListMyAudit(ctx, actor, repo.AuditFilters{})
				if err != nil {
					return err
				}
				return printAudit(entries)
			})
		},
	}
	aud.AddCommand(list, mine)
	return aud
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withEngineMetrics(ctx, nil, fn)
}

func withEngineMetrics(ctx context.Context, m *metrics.Metrics, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOrDefault(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace, Path: viper.GetString("db")})
	if err != nil {
		return err
	}
	defer conn.Close()
	version, err := migrate.Migrate(ctx, conn)
	if err != nil {
		return err
	}
	slog.Debug("database ready", "workspace", workspace, "schema_version", version)
	var codec auth.TokenCodec
	if secret := viper.GetString("jwt-secret"); secret != "" {
		codec, err = auth.NewTokenCodec(secret, cfg.Auth.TokenTTL, cfg.Auth.Issuer)
		if err != nil {
			return err
		}
	}
	return fn(ctx, engine.New(conn, cfg, codec, m))
}

// withActor resolves --actor through the same identity lookup as the API.
func withActor(ctx context.Context, fn func(context.Context, engine.Engine, domain.Actor) error) error {
	email := strings.TrimSpace(viper.GetString("actor"))
	if email == "" {
		return fmt.Errorf("--actor (or TASKTRAIL_ACTOR) is required")
	}
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		actor, err := e.Resolve(ctx, email)
		if err != nil {
			return err
		}
		return fn(ctx, e, actor)
	})
}

func parseTaskID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", s)
	}
	return id, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printActors(items []domain.Actor) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Email", "Role", "Created"})
	for _, a := range items {
		tw.AppendRow(table.Row{a.ID, a.Email, a.Role, a.CreatedAt})
	}
	tw.Render()
	return nil
}

func printTasks(items []domain.Task) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Status", "Assignee", "Created By"})
	for _, t := range items {
		tw.AppendRow(table.Row{t.ID, t.Title, t.Status, strValue(t.AssigneeID), t.CreatedByID})
	}
	tw.Render()
	return nil
}

func printAudit(items []domain.AuditEntry) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "TS", "Actor", "Action", "Entity", "Before", "After"})
	for _, e := range items {
		tw.AppendRow(table.Row{e.ID, e.TS, e.ActorID, e.Action, e.EntityKind + ":" + e.EntityID, strValue(e.Before), strValue(e.After)})
	}
	tw.Render()
	return nil
}

func strValue(ptr *string) string {
	if ptr == nil {
		return ""
	}
	return *ptr
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o600)
}
