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

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"queryline/internal/app"
	"queryline/internal/db"
	"queryline/internal/domain"
	"queryline/internal/engine"
	"queryline/internal/repo"
	"queryline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ql",
	Short: "Queryline CLI",
	Long: `Queryline routes chemical-safety questionnaire reviews between teams.
An originating team opens a review; reviewing teams raise blocking queries
against it. The review always sits with whoever must act next: the team behind
the oldest still-open query, or the originator once every query is resolved.
Completing a review is only possible from the originator-owned state.

The workspace is a .queryline directory holding the database; teams and
notification settings live in queryline.yml next to it ('ql init' writes a
starter one).`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
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
	viper.SetEnvPrefix("QUERYLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(queryCmd())
	rootCmd.AddCommand(teamCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(authCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := app.InitWorkspace(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			fmt.Printf("workspace ready, config at %s\n", path)
			return nil
		},
	}
}

func reviewCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "review", Short: "Manage reviews"}
	cmd.AddCommand(reviewOpenCmd())
	cmd.AddCommand(reviewListCmd())
	cmd.AddCommand(reviewShowCmd())
	cmd.AddCommand(reviewOwnerCmd())
	cmd.AddCommand(reviewCompleteCmd())
	return cmd
}

func reviewOpenCmd() *cobra.Command {
	var title, originator string
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open a review",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rev, err := e.OpenReview(ctx, engine.OpenReviewOptions{
					Title:      title,
					Originator: originator,
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(rev)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "review title")
	cmd.Flags().StringVar(&originator, "originator", "", "originating actor (defaults to --actor-id)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func reviewListCmd() *cobra.Command {
	var state string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reviews",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListReviews(ctx, repo.ReviewFilters{State: state, Limit: limit})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "State", "Owner", "Created"})
				for _, rev := range items {
					owner := ""
					if st, err := domain.ParseState(rev.State); err == nil {
						owner = st.Owner()
					}
					tw.AppendRow(table.Row{rev.ID, rev.Title, rev.State, owner, rev.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "state filter (e.g. with_originator, pending:toxicology, completed)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func reviewShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <review-id>",
		Short: "Show a review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rev, err := e.Repo.GetReview(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rev)
			})
		},
	}
	return cmd
}

func reviewOwnerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "owner <review-id>",
		Short: "Who must act next",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				st, err := e.CurrentOwner(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{
					"review_id": args[0],
					"owner":     st.Owner(),
					"state":     st.String(),
				})
			})
		},
	}
	return cmd
}

func reviewCompleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <review-id>",
		Short: "Complete an originator-owned review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rev, err := e.CompleteReview(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rev)
			})
		},
	}
	return cmd
}

func queryCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "query", Short: "Manage blocking queries"}
	cmd.AddCommand(queryRaiseCmd())
	cmd.AddCommand(queryResolveCmd())
	cmd.AddCommand(queryListCmd())
	return cmd
}

func queryRaiseCmd() *cobra.Command {
	var review, raisedBy, assignedTo, text string
	cmd := &cobra.Command{
		Use:   "raise",
		Short: "Raise a blocking query on a review",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				q, err := e.RaiseQuery(ctx, engine.RaiseQueryOptions{
					ReviewID:   review,
					RaisedBy:   domain.TeamID(raisedBy),
					AssignedTo: domain.TeamID(assignedTo),
					Text:       text,
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(q)
			})
		},
	}
	cmd.Flags().StringVar(&review, "review", "", "review id")
	cmd.Flags().StringVar(&raisedBy, "raised-by", "", "raising team")
	cmd.Flags().StringVar(&assignedTo, "assigned-to", "", "responding team")
	cmd.Flags().StringVar(&text, "text", "", "question text")
	_ = cmd.MarkFlagRequired("review")
	_ = cmd.MarkFlagRequired("assigned-to")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func queryResolveCmd() *cobra.Command {
	var resolvedBy, resolution string
	cmd := &cobra.Command{
		Use:   "resolve <query-id>",
		Short: "Resolve an open query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rev, err := e.ResolveQuery(ctx, engine.ResolveQueryOptions{
					QueryID:    args[0],
					ResolvedBy: resolvedBy,
					Resolution: resolution,
					ActorID:    viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(rev)
			})
		},
	}
	cmd.Flags().StringVar(&resolvedBy, "resolved-by", "", "resolving team")
	cmd.Flags().StringVar(&resolution, "resolution", "", "resolution text")
	return cmd
}

func queryListCmd() *cobra.Command {
	var review, status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queries on a review",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListQueries(ctx, review, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Assigned To", "Status", "Raised", "Text"})
				for _, q := range items {
					tw.AppendRow(table.Row{q.ID, string(q.AssignedTo), q.Status, q.CreatedAt, q.Text})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&review, "review", "", "review id")
	cmd.Flags().StringVar(&status, "status", "", "status filter (open, resolved)")
	_ = cmd.MarkFlagRequired("review")
	return cmd
}

func teamCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "team", Short: "Team catalog and membership"}
	cmd.AddCommand(teamListCmd())
	cmd.AddCommand(teamAddMemberCmd())
	cmd.AddCommand(teamRemoveMemberCmd())
	cmd.AddCommand(teamMembersCmd())
	return cmd
}

func teamListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List responding teams from config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if viper.GetBool("json") {
					return printJSON(e.Config.Teams.Catalog)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Team", "Description"})
				for id, entry := range e.Config.Teams.Catalog {
					tw.AppendRow(table.Row{id, entry.Description})
				}
				tw.SortBy([]table.SortBy{{Name: "Team", Mode: table.Asc}})
				tw.Render()
				return nil
			})
		},
	}
}

func teamAddMemberCmd() *cobra.Command {
	var team, actor string
	cmd := &cobra.Command{
		Use:   "add-member",
		Short: "Add an actor to a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if !e.Config.KnownTeam(team) {
					return fmt.Errorf("unknown team %q", team)
				}
				now := time.Now().UTC().Format(time.RFC3339)
				tx, err := e.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := e.Repo.AssignTeam(ctx, tx, actor, domain.TeamID(team), now); err != nil {
					return err
				}
				return tx.Commit()
			})
		},
	}
	cmd.Flags().StringVar(&team, "team", "", "team id")
	cmd.Flags().StringVar(&actor, "actor", "", "actor id")
	_ = cmd.MarkFlagRequired("team")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func teamRemoveMemberCmd() *cobra.Command {
	var team, actor string
	cmd := &cobra.Command{
		Use:   "remove-member",
		Short: "Remove an actor from a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tx, err := e.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := e.Repo.RemoveTeam(ctx, tx, actor, domain.TeamID(team)); err != nil {
					return err
				}
				return tx.Commit()
			})
		},
	}
	cmd.Flags().StringVar(&team, "team", "", "team id")
	cmd.Flags().StringVar(&actor, "actor", "", "actor id")
	_ = cmd.MarkFlagRequired("team")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func teamMembersCmd() *cobra.Command {
	var team string
	cmd := &cobra.Command{
		Use:   "members",
		Short: "List members of a team",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actors, err := e.Repo.TeamRoster(ctx, domain.TeamID(team))
				if err != nil {
					return err
				}
				return printJSONOrTable(actors)
			})
		},
	}
	cmd.Flags().StringVar(&team, "team", "", "team id")
	_ = cmd.MarkFlagRequired("team")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: reviews opened, queries raised and resolved, ownership moves.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, reviewID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, reviewID, evtType)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&reviewID, "review", "", "review id filter")
	return cmd
}

func authCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "auth", Short: "API credentials"}
	cmd.AddCommand(authCreateKeyCmd())
	cmd.AddCommand(authListKeysCmd())
	cmd.AddCommand(authRevokeKeyCmd())
	return cmd
}

func authCreateKeyCmd() *cobra.Command {
	var actor, name string
	cmd := &cobra.Command{
		Use:   "create-key",
		Short: "Create an API key (prints the key once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := uuid.NewString() + uuid.NewString()
				key := domain.APIKey{
					ID:      uuid.NewString(),
					ActorID: actor,
					Name:    name,
					KeyHash: repo.HashAPIKey(raw),
				}
				tx, err := r.DB.BeginTx(ctx, nil)
				if err != nil {
					return err
				}
				defer tx.Rollback()
				if err := r.EnsureActor(ctx, tx, actor, time.Now().UTC().Format(time.RFC3339)); err != nil {
					return err
				}
				if err := r.InsertAPIKey(ctx, tx, key); err != nil {
					return err
				}
				if err := tx.Commit(); err != nil {
					return err
				}
				fmt.Printf("key id: %s\napi key: %s\n", key.ID, raw)
				fmt.Println("store it now; only the hash is kept")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor id (defaults to --actor-id)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func authListKeysCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list-keys",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				for i := range keys {
					keys[i].KeyHash = ""
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "filter by actor id")
	return cmd
}

func authRevokeKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke-key <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			appCtx, err := app.Bootstrap(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer appCtx.Close()
			if err := appCtx.Config.Validate(); err != nil {
				return err
			}
			e := appCtx.Engine()
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("QUERYLINE_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacy,
			}
			if authCfg.JWTSecret == "" && !allowLegacy {
				return fmt.Errorf("QUERYLINE_JWT_SECRET is required for bearer auth (or pass --allow-legacy-actor-header)")
			}
			handler, err := server.New(server.Config{
				Engine:      e,
				BasePath:    basePath,
				Auth:        authCfg,
				BaseContext: cmd.Context(),
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
			fmt.Printf("Serving Queryline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-actor-header", false, "accept X-Actor-Id header without auth (dev only)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	appCtx, err := app.Bootstrap(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer appCtx.Close()
	return fn(ctx, appCtx.Engine())
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	appCtx, err := app.Bootstrap(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer appCtx.Close()
	return fn(ctx, repo.Repo{DB: appCtx.DB})
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
