package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"kanline/internal/app"
	"kanline/internal/config"
	"kanline/internal/domain"
	"kanline/internal/engine"
	"kanline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "kl",
	Short: "Kanline CLI",
	Long: `Kanline tracks agent tasks through a staged approval and execution
pipeline backed by a single locked JSON ledger. Tasks are drafted, pass a
review gate, get dispatched for execution, and close with a final review.
Pause and resume park work without losing its place; the board and the
live-status file show where everything stands.`,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("KANLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "", "actor identifier recorded as initiator")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(boardCmd())
	rootCmd.AddCommand(archiveAllCmd())
	rootCmd.AddCommand(refreshCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default kanline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskGetCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskAdvanceCmd())
	task.AddCommand(taskPauseCmd())
	task.AddCommand(taskResumeCmd())
	task.AddCommand(taskCancelCmd())
	task.AddCommand(taskReviewCmd())
	task.AddCommand(taskTodoCmd())
	task.AddCommand(taskArchiveCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.CreateOptions
	var params []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				opts.Initiator = viper.GetString("actor")
				opts.Params = parseParams(params)
				t, err := a.Engine.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				refreshAfter(ctx, a)
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "task title")
	cmd.Flags().StringVar(&opts.Org, "org", "", "owning stage label")
	cmd.Flags().StringVar(&opts.Official, "official", "", "owner label")
	cmd.Flags().StringVar(&opts.Assignee, "assignee", "", "assignee")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority")
	cmd.Flags().StringVar(&opts.Remark, "remark", "", "creation remark")
	cmd.Flags().StringVar(&opts.ETA, "eta", "", "expected completion")
	cmd.Flags().StringVar(&opts.Output, "output", "", "deliverable path")
	cmd.Flags().StringVar(&opts.AC, "ac", "", "acceptance criteria")
	cmd.Flags().StringVar(&opts.TemplateID, "template", "", "todo template id")
	cmd.Flags().StringArrayVar(&params, "param", []string{}, "template param as name=value (repeatable)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.GetTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
}

func taskListCmd() *cobra.Command {
	var includeArchived bool
	var state string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tasks, err := a.Engine.Snapshot(ctx, includeArchived)
				if err != nil {
					return err
				}
				if state != "" {
					filtered := tasks[:0]
					for _, t := range tasks {
						if string(t.State) == state {
							filtered = append(filtered, t)
						}
					}
					tasks = filtered
				}
				return printJSONOrTable(tasks)
			})
		},
	}
	cmd.Flags().BoolVar(&includeArchived, "include-archived", false, "include archived tasks")
	cmd.Flags().StringVar(&state, "state", "", "state filter")
	return cmd
}

func taskAdvanceCmd() *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "advance <id>",
		Short: "Move a task to its next stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				from, to, err := a.Engine.Advance(ctx, args[0], comment)
				if err != nil {
					return err
				}
				refreshAfter(ctx, a)
				fmt.Printf("%s: %s -> %s\n", args[0], from, to)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "flow log remark")
	return cmd
}

func taskPauseCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "pause <id>",
		Short: "Block a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.Pause(ctx, args[0], reason); err != nil {
					return err
				}
				refreshAfter(ctx, a)
				fmt.Println(args[0], "paused")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "blocking reason")
	return cmd
}

func taskResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <id>",
		Short: "Resume a blocked or cancelled task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.Resume(ctx, args[0]); err != nil {
					return err
				}
				refreshAfter(ctx, a)
				fmt.Println(args[0], "resumed")
				return nil
			})
		},
	}
}

func taskCancelCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.Cancel(ctx, args[0], reason); err != nil {
					return err
				}
				refreshAfter(ctx, a)
				fmt.Println(args[0], "cancelled")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "cancellation reason")
	return cmd
}

func taskReviewCmd() *cobra.Command {
	var approve, reject bool
	var comment string
	cmd := &cobra.Command{
		Use:   "review <id>",
		Short: "Approve or reject a task at a review gate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action := engine.ReviewApprove
			if reject {
				if approve {
					return fmt.Errorf("--approve and --reject are mutually exclusive")
				}
				action = engine.ReviewReject
			} else if !approve {
				return fmt.Errorf("one of --approve or --reject is required")
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.Review(ctx, args[0], action, comment); err != nil {
					return err
				}
				refreshAfter(ctx, a)
				fmt.Printf("%s: %s\n", args[0], action)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "approve")
	cmd.Flags().BoolVar(&reject, "reject", false, "reject")
	cmd.Flags().StringVar(&comment, "comment", "", "review comment")
	return cmd
}

func taskTodoCmd() *cobra.Command {
	var items []string
	cmd := &cobra.Command{
		Use:   "todo <id>",
		Short: "Replace a task's todo list",
		Long: `Replaces the whole todo list. Each --item takes "title" or
"status:title" where status is not-started, in-progress, or completed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			todos, err := parseTodos(items)
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.UpdateTodos(ctx, args[0], todos); err != nil {
					return err
				}
				refreshAfter(ctx, a)
				fmt.Printf("%s: %d todos\n", args[0], len(todos))
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&items, "item", []string{}, "todo item (repeatable)")
	return cmd
}

func taskArchiveCmd() *cobra.Command {
	var restore bool
	cmd := &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive or restore a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.SetArchived(ctx, args[0], !restore); err != nil {
					return err
				}
				refreshAfter(ctx, a)
				if restore {
					fmt.Println(args[0], "restored")
				} else {
					fmt.Println(args[0], "archived")
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&restore, "restore", false, "restore instead of archive")
	return cmd
}

func archiveAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archive-all",
		Short: "Archive every done and cancelled task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				n, err := a.Engine.ArchiveTerminal(ctx)
				if err != nil {
					return err
				}
				refreshAfter(ctx, a)
				fmt.Printf("archived %d tasks\n", n)
				return nil
			})
		},
	}
}

func boardCmd() *cobra.Command {
	var includeArchived bool
	cmd := &cobra.Command{
		Use:   "board",
		Short: "Show the board as a table",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tasks, err := a.Engine.Snapshot(ctx, includeArchived)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "State", "Org", "Assignee", "Todos", "Heartbeat"})
				for _, t := range tasks {
					done, total := t.TodoProgress()
					progress := ""
					if total > 0 {
						progress = fmt.Sprintf("%d/%d", done, total)
					}
					hb := ""
					if t.Heartbeat != nil {
						hb = t.Heartbeat.Label
					}
					tw.AppendRow(table.Row{t.ID, t.Title, t.State, t.Org, t.Assignee, progress, hb})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&includeArchived, "include-archived", false, "include archived tasks")
	return cmd
}

func refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Rebuild the live-status view file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Refresher.Rebuild(ctx); err != nil {
					return err
				}
				fmt.Println("wrote", a.Config.Refresh.LivePath)
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(app.Options{
				Workspace:   viper.GetString("workspace"),
				LiveRefresh: true,
			})
			if err != nil {
				return err
			}
			defer a.Close()
			handler, err := server.New(server.Config{
				Engine:    a.Engine,
				Refresher: a.Refresher,
				BasePath:  basePath,
				Auth:      server.AuthConfig{JWTSecret: os.Getenv("KANLINE_JWT_SECRET")},
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Kanline API on http://%s%s\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/api", "API base path")
	return cmd
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.New(app.Options{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// refreshAfter rebuilds the live view after a mutation. One-shot commands
// have no background refresher, so the rebuild happens inline; failures
// only warn since the ledger write already succeeded.
func refreshAfter(ctx context.Context, a *app.App) {
	if err := a.Refresher.Rebuild(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "warning: live view refresh failed:", err)
	}
}

func parseParams(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	params := make(map[string]string, len(pairs))
	for _, p := range pairs {
		name, value, _ := strings.Cut(p, "=")
		params[name] = value
	}
	return params
}

func parseTodos(items []string) ([]domain.Todo, error) {
	todos := make([]domain.Todo, 0, len(items))
	for _, item := range items {
		status := "not-started"
		title := item
		if prefix, rest, ok := strings.Cut(item, ":"); ok {
			switch prefix {
			case "not-started", "in-progress", "completed":
				status, title = prefix, rest
			}
		}
		if strings.TrimSpace(title) == "" {
			return nil, fmt.Errorf("empty todo title in %q", item)
		}
		todos = append(todos, domain.Todo{Title: strings.TrimSpace(title), Status: status})
	}
	return todos, nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
