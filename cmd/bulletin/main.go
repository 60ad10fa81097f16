package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"bulletin/internal/app"
	"bulletin/internal/assets"
	"bulletin/internal/config"
	"bulletin/internal/domain"
	"bulletin/internal/engine"
	"bulletin/internal/engine/auth"
	"bulletin/internal/logging"
	"bulletin/internal/repo"
	"bulletin/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "bulletin",
	Short: "Bulletin board for architect work requests",
	Long: `Bulletin tracks work requests ("posts") from creation through assignment,
proof-of-work submission, review and closure. Posts, the architect directory and
uploaded files live in a pluggable document store (memory, objectstore, blobstore
or a GitHub repository) with optimistic concurrency on every write.

Local commands act as the principal named by --actor and --role.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return os.MkdirAll(viper.GetString("workspace"), 0o755)
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("BULLETIN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory holding bulletin.yml")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "admin", "username acting on the board")
	rootCmd.PersistentFlags().String("role", "admin", "role of the acting user")
	rootCmd.PersistentFlags().String("provider", "", "storage provider (overrides config)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (overrides config)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
	_ = viper.BindPFlag("role", rootCmd.PersistentFlags().Lookup("role"))
	_ = viper.BindPFlag("provider", rootCmd.PersistentFlags().Lookup("provider"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(postCmd())
	rootCmd.AddCommand(architectCmd())
}

// loadConfig reads bulletin.yml and applies flag and BULLETIN_* overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadOptional(viper.GetString("workspace"))
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("provider"); v != "" {
		cfg.Storage.Provider = v
	}
	if v := viper.GetString("github-token"); v != "" {
		cfg.Storage.GitHub.Token = v
	}
	if v := viper.GetString("jwt-secret"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := app.Build(viper.GetString("workspace"), cfg, logging.New(cfg.Log, os.Stderr))
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.Bootstrap(ctx); err != nil {
		return err
	}
	return fn(ctx, a)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, auth.Principal) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		return fn(ctx, a.Engine, localPrincipal())
	})
}

func localPrincipal() auth.Principal {
	return auth.Principal{Username: viper.GetString("actor"), Role: viper.GetString("role")}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default bulletin.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cfg.Storage.GitHub.Token = redact(cfg.Storage.GitHub.Token)
			cfg.Auth.JWTSecret = redact(cfg.Auth.JWTSecret)
			for i := range cfg.Notify.Webhooks {
				cfg.Notify.Webhooks[i].Secret = redact(cfg.Notify.Webhooks[i].Secret)
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg)
		},
	}
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if a.Config.Auth.JWTSecret == "" {
					return errors.New("auth.jwt_secret or BULLETIN_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{
					Engine:   a.Engine,
					BasePath: basePath,
					Auth:     server.AuthConfig{JWTSecret: a.Config.Auth.JWTSecret, Log: a.Log},
					Log:      a.Log,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
				a.Log.Info().Str("addr", addr).Str("base_path", basePath).Str("provider", a.Config.Storage.Provider).Msg("serving bulletin API")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

func tokenCmd() *cobra.Command {
	var username, role string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if username == "" {
				username = viper.GetString("actor")
			}
			if role == "" {
				role = viper.GetString("role")
			}
			tok, err := server.IssueToken(cfg.Auth.JWTSecret, username, role, ttl)
			if err != nil {
				return err
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "token subject (defaults to --actor)")
	cmd.Flags().StringVar(&role, "for-role", "", "token role (defaults to --role)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func postCmd() *cobra.Command {
	p := &cobra.Command{Use: "post", Short: "Manage posts"}
	p.AddCommand(postListCmd())
	p.AddCommand(postShowCmd())
	p.AddCommand(postCreateCmd())
	p.AddCommand(postEditCmd())
	p.AddCommand(postAssignCmd())
	p.AddCommand(postUnassignCmd())
	p.AddCommand(transitionCmd("submit", "Submit a post for review", engine.Engine.SubmitForReview))
	p.AddCommand(transitionCmd("pending", "Send a submitted post back as pending", engine.Engine.MarkPending))
	p.AddCommand(transitionCmd("close", "Approve and close a post", engine.Engine.ClosePost))
	p.AddCommand(transitionCmd("escalate", "Escalate a post", engine.Engine.Escalate))
	p.AddCommand(transitionCmd("archive", "Archive a post", engine.Engine.ArchivePost))
	p.AddCommand(transitionCmd("restore", "Restore an archived post", engine.Engine.RestorePost))
	p.AddCommand(postCommentCmd())
	p.AddCommand(postUploadCmd("attach", "Upload attachments to a post"))
	p.AddCommand(postUploadCmd("proof", "Upload a proof-of-work batch"))
	p.AddCommand(postDeleteCmd())
	return p
}

func postListCmd() *cobra.Command {
	var f engine.PostFilter
	var archived string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List posts",
		RunE: func(cmd *cobra.Command, args []string) error {
			if archived != "" {
				b, err := strconv.ParseBool(archived)
				if err != nil {
					return fmt.Errorf("--archived must be true or false")
				}
				f.Archived = &b
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Principal) error {
				posts, err := e.ListPosts(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(views(posts))
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Assignees", "Archived", "Updated"})
				for _, v := range posts {
					p := v.Doc
					updated := p.UpdatedAt
					if updated == "" {
						updated = p.CreatedAt
					}
					tw.AppendRow(table.Row{p.ID, p.Title, p.Status, strings.Join(p.AssignedArchitects, ","), p.IsArchived, updated})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&archived, "archived", "", "filter on the archive flag (true|false)")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Assignee, "assignee", "", "assignee filter")
	return cmd
}

func postShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Principal) error {
				v, err := e.GetPost(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(view(v))
			})
		},
	}
}

func postCreateCmd() *cobra.Command {
	var in domain.NewPost
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a post",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, pr auth.Principal) error {
				return printPost(e.CreatePost(ctx, pr, in))
			})
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "post title")
	cmd.Flags().StringVar(&in.Description, "description", "", "post description")
	cmd.Flags().StringSliceVar(&in.ConcernedParties, "party", nil, "concerned party (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func postEditCmd() *cobra.Command {
	var title, description, version string
	var parties []string
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Edit post fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var fields domain.PostFields
			if cmd.Flags().Changed("title") {
				fields.Title = &title
			}
			if cmd.Flags().Changed("description") {
				fields.Description = &description
			}
			if cmd.Flags().Changed("party") {
				fields.ConcernedParties = &parties
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, pr auth.Principal) error {
				return printPost(e.UpdatePost(ctx, pr, args[0], fields, version))
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringSliceVar(&parties, "party", nil, "replacement concerned parties")
	cmd.Flags().StringVar(&version, "version", "", "expected version")
	return cmd
}

func postAssignCmd() *cobra.Command {
	var architects []string
	var version string
	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Self-assign, or assign --architect as an administrator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, pr auth.Principal) error {
				if len(architects) == 0 {
					return printPost(e.AssignSelf(ctx, pr, args[0], version))
				}
				return printPost(e.AssignArchitects(ctx, pr, args[0], architects, version))
			})
		},
	}
	cmd.Flags().StringSliceVar(&architects, "architect", nil, "architect username (repeatable)")
	cmd.Flags().StringVar(&version, "version", "", "expected version")
	return cmd
}

func postUnassignCmd() *cobra.Command {
	var architect, version string
	cmd := &cobra.Command{
		Use:   "unassign <id>",
		Short: "Remove an assignee (defaults to the acting user)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, pr auth.Principal) error {
				username := architect
				if username == "" {
					username = pr.Username
				}
				return printPost(e.Unassign(ctx, pr, args[0], username, version))
			})
		},
	}
	cmd.Flags().StringVar(&architect, "architect", "", "architect username")
	cmd.Flags().StringVar(&version, "version", "", "expected version")
	return cmd
}

type transitionFunc func(engine.Engine, context.Context, auth.Principal, string, string) (repo.Versioned[domain.Post], error)

func transitionCmd(use, short string, fn transitionFunc) *cobra.Command {
	var version string
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, pr auth.Principal) error {
				return printPost(fn(e, ctx, pr, args[0], version))
			})
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "expected version")
	return cmd
}

func postCommentCmd() *cobra.Command {
	var message string
	cmd := &cobra.Command{
		Use:   "comment <id>",
		Short: "Add a comment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, pr auth.Principal) error {
				return printPost(e.AddComment(ctx, pr, args[0], message))
			})
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "comment text")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}

func postUploadCmd(use, short string) *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   use + " <id> <file>...",
		Short: short,
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			uploads, err := readUploads(args[1:])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, pr auth.Principal) error {
				if use == "proof" {
					return printPost(e.UploadProofOfWork(ctx, pr, args[0], note, uploads))
				}
				return printPost(e.UploadAttachment(ctx, pr, args[0], uploads))
			})
		},
	}
	if use == "proof" {
		cmd.Flags().StringVar(&note, "note", "", "note for the batch")
	}
	return cmd
}

func readUploads(paths []string) ([]assets.Upload, error) {
	out := make([]assets.Upload, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, assets.Upload{Filename: filepath.Base(p), Data: data})
	}
	return out, nil
}

func postDeleteCmd() *cobra.Command {
	var version string
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a post (requires --version)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, pr auth.Principal) error {
				if err := e.DeletePost(ctx, pr, args[0], version); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&version, "version", "", "current version of the post")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func architectCmd() *cobra.Command {
	a := &cobra.Command{Use: "architect", Short: "Manage the architect directory"}
	a.AddCommand(architectListCmd())
	a.AddCommand(architectAddCmd())
	a.AddCommand(architectStatusCmd("deactivate", "Deactivate an architect", engine.Engine.DeactivateArchitect))
	a.AddCommand(architectStatusCmd("reactivate", "Reactivate an architect", engine.Engine.ReactivateArchitect))
	return a
}

func architectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List architects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, _ auth.Principal) error {
				items, err := e.ListArchitects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Username", "Name", "Specialization", "Status"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.Username, a.DisplayName, a.Specialization, a.Status})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func architectAddCmd() *cobra.Command {
	var in domain.NewArchitect
	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Register an architect",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Username = args[0]
			if in.DisplayName == "" {
				in.DisplayName = args[0]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, pr auth.Principal) error {
				a, err := e.AddArchitect(ctx, pr, in)
				if err != nil {
					return err
				}
				return printJSONOrLine(a, fmt.Sprintf("%s (%s) %s", a.Username, a.DisplayName, a.Status))
			})
		},
	}
	cmd.Flags().StringVar(&in.DisplayName, "name", "", "display name")
	cmd.Flags().StringVar(&in.Email, "email", "", "email")
	cmd.Flags().StringVar(&in.Specialization, "specialization", "", "specialization")
	return cmd
}

func architectStatusCmd(use, short string, fn func(engine.Engine, context.Context, auth.Principal, string) (domain.Architect, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <username>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, pr auth.Principal) error {
				a, err := fn(e, ctx, pr, args[0])
				if err != nil {
					return err
				}
				return printJSONOrLine(a, fmt.Sprintf("%s %s", a.Username, a.Status))
			})
		},
	}
}

func view(v repo.Versioned[domain.Post]) server.PostResponse {
	return server.PostResponse{Post: v.Doc, Version: v.Token}
}

func views(items []repo.Versioned[domain.Post]) []server.PostResponse {
	out := make([]server.PostResponse, 0, len(items))
	for _, v := range items {
		out = append(out, view(v))
	}
	return out
}

func printPost(v repo.Versioned[domain.Post], err error) error {
	if err != nil {
		return err
	}
	p := v.Doc
	return printJSONOrLine(view(v), fmt.Sprintf("%s [%s] %s (version %s)", p.ID, p.Status, p.Title, v.Token))
}

func printJSONOrLine(v any, line string) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	fmt.Println(line)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
