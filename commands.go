package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"narraweave/internal/config"
	"narraweave/internal/models"
	"narraweave/internal/services"
)

var (
	app        = NewApp()
	projectDir string
	configPath string
	verbose    bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "narraweave",
	Short: "Iterate on a novel project with natural-language feedback",
	Long: `narraweave applies free-text feedback to a writing project made of a premise,
a treatment, a chapter outline collection and per-chapter prose.

Each request is classified, sized as a patch or a regeneration, applied
atomically and recorded in the project's git history.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "init" {
			return nil
		}
		return app.startup(cmd.Context(), startupOptions{
			ProjectDir: projectDir,
			ConfigPath: configPath,
			Verbose:    verbose,
		})
	},
}

// Execute runs the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	err := rootCmd.ExecuteContext(ctx)
	app.shutdown()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectDir, "project", "p", "", "project directory (default: search upward from the working directory)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: <project>/.narraweave/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print machine-readable output")

	iterateCmd.Flags().StringP("file", "f", "", "read feedback from a file (- for stdin)")
	iterateCmd.Flags().Bool("diff", false, "print the applied diff")
	historyCmd.Flags().IntP("limit", "n", 20, "number of iterations to show")
	viewCmd.Flags().Bool("summary", false, "print the trimmed view used for classification")
	cascadeCmd.Flags().Bool("yes", false, "delete the listed artifacts")
	initCmd.Flags().String("provider", "", "completion provider (openai, anthropic, gemini, openrouter)")
	initCmd.Flags().String("model", "", "model name")

	keysCmd.AddCommand(keysSetCmd, keysDeleteCmd, keysListCmd)
	modelsCmd.AddCommand(modelsListCmd, modelsEnableCmd, modelsDisableCmd)
	rootCmd.AddCommand(initCmd, iterateCmd, viewCmd, cascadeCmd, historyCmd, keysCmd, modelsCmd)
}

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Create a project config",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}
		root, err := filepath.Abs(dir)
		if err != nil {
			return err
		}
		path := config.ProjectPath(root)
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		cfg := config.DefaultConfig()
		if p, _ := cmd.Flags().GetString("provider"); p != "" {
			cfg.LLM.Provider = p
		}
		if m, _ := cmd.Flags().GetString("model"); m != "" {
			cfg.LLM.Model = m
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := cfg.Save(path); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created %s\n", path)
		return nil
	},
}

var iterateCmd = &cobra.Command{
	Use:   "iterate [feedback]",
	Short: "Apply a piece of feedback to the project",
	Long: `Apply free-text feedback to the project.

Examples:
  narraweave iterate "change chapter 3's title to 'Awakening'"
  narraweave iterate -f notes.txt
  echo "make the premise darker" | narraweave iterate -f -`,
	RunE: func(cmd *cobra.Command, args []string) error {
		feedback, err := readFeedback(cmd, args)
		if err != nil {
			return err
		}
		repo, err := app.project()
		if err != nil {
			return err
		}
		svc, err := app.iterationService(cmd.Context())
		if err != nil {
			return err
		}

		result, runErr := svc.ProcessFeedback(cmd.Context(), feedback, repo)
		if result == nil {
			return runErr
		}
		if jsonOutput {
			if err := printJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			return runErr
		}
		showDiff, _ := cmd.Flags().GetBool("diff")
		printResult(cmd.OutOrStdout(), result, showDiff)
		return runErr
	},
}

func readFeedback(cmd *cobra.Command, args []string) (string, error) {
	file, _ := cmd.Flags().GetString("file")
	var text string
	switch {
	case file == "-":
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read feedback: %w", err)
		}
		text = string(data)
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read feedback: %w", err)
		}
		text = string(data)
	default:
		text = strings.Join(args, " ")
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("feedback is required")
	}
	return text, nil
}

func printResult(w io.Writer, r *models.IterationResult, showDiff bool) {
	switch r.Outcome {
	case models.OutcomeClarificationNeeded:
		fmt.Fprintln(w, r.Clarification)
	case models.OutcomeFailed:
		fmt.Fprintf(w, "Iteration failed during %s.\n", previousState(r))
	default:
		fmt.Fprintf(w, "%s\n", r.Summary)
		if r.FallbackReason != "" {
			fmt.Fprintf(w, "  fell back to regeneration: %s\n", r.FallbackReason)
		}
		for _, wr := range r.Writes {
			if wr.Changed() {
				fmt.Fprintf(w, "  %-8s %s\n", wr.Action, wr.Path)
			}
		}
		if r.CommitHash != "" {
			fmt.Fprintf(w, "  commit %s\n", shortHash(r.CommitHash))
		}
		if showDiff && r.Diff != "" {
			fmt.Fprintln(w)
			fmt.Fprint(w, r.Diff)
		}
	}
}

func previousState(r *models.IterationResult) models.IterationState {
	if len(r.States) < 2 {
		return models.StateClassifying
	}
	return r.States[len(r.States)-2]
}

func shortHash(h string) string {
	if len(h) > 10 {
		return h[:10]
	}
	return h
}

var viewCmd = &cobra.Command{
	Use:   "view",
	Short: "Print the assembled project",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := app.project()
		if err != nil {
			return err
		}
		view, err := services.NewAssemblerService(app.logger).Assemble(cmd.Context(), repo)
		if err != nil {
			return err
		}
		if summary, _ := cmd.Flags().GetBool("summary"); summary {
			fmt.Fprintln(cmd.OutOrStdout(), view.Summary(app.cfg.Iteration.SummaryCharLimit))
			return nil
		}
		data, err := view.YAML()
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

var cascadeCmd = &cobra.Command{
	Use:   "cascade <level>",
	Short: "Delete every artifact downstream of a level",
	Long: `Delete every artifact downstream of premise, treatment, chapter-outlines or prose.

Without --yes the artifacts are only listed. Iterations never delete
downstream artifacts on their own.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		level, err := models.ParseLevel(args[0])
		if err != nil {
			return err
		}
		repo, err := app.project()
		if err != nil {
			return err
		}
		plan, err := app.cascade.Plan(repo, level)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if plan.Empty() {
			fmt.Fprintf(out, "Nothing downstream of %s.\n", level)
			return nil
		}
		fmt.Fprintf(out, "Downstream of %s:\n", level)
		for _, name := range plan.Artifacts {
			fmt.Fprintf(out, "  %s\n", name)
		}
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			fmt.Fprintln(out, "Re-run with --yes to delete them.")
			return nil
		}

		results, err := app.cascade.Apply(cmd.Context(), repo, plan)
		if err != nil {
			return err
		}
		hash, err := app.changeLog().Record(cmd.Context(), services.ChangeEntry{
			ProjectRoot: repo.Root(),
			Summary:     fmt.Sprintf("cascade: delete artifacts downstream of %s", level),
			Writes:      results,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Deleted %d artifact(s).\n", len(results))
		if hash != "" {
			fmt.Fprintf(out, "  commit %s\n", shortHash(hash))
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent iterations of the project",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := app.project()
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")
		records, err := app.db.History.List(repo.Root(), limit)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), records)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "WHEN\tOUTCOME\tSTRATEGY\tCHANGED\tFEEDBACK")
		for _, r := range records {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				r.CreatedAt.Format("2006-01-02 15:04"),
				r.Outcome,
				r.Strategy,
				r.ChangedArtifacts,
				oneLine(r.Feedback, 60))
		}
		return tw.Flush()
	},
}

func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > limit {
		return string(r[:limit-3]) + "..."
	}
	return s
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage provider API keys in the OS keyring",
}

var keysSetCmd = &cobra.Command{
	Use:   "set <provider> [key]",
	Short: "Store an API key (read from stdin when omitted)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := ""
		if len(args) == 2 {
			key = args[1]
		} else {
			fmt.Fprintf(cmd.ErrOrStderr(), "API key for %s: ", args[0])
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return err
			}
			key = line
		}
		key = strings.TrimSpace(key)
		if err := app.keyring.StoreApiKey(args[0], []byte(key)); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stored API key for %s.\n", args[0])
		return nil
	},
}

var keysDeleteCmd = &cobra.Command{
	Use:   "delete <provider>",
	Short: "Remove a stored API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.keyring.DeleteApiKey(args[0])
	},
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List providers with a stored API key",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, err := app.keyring.ListApiKeys()
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), keys)
		}
		for _, k := range keys {
			fmt.Fprintln(cmd.OutOrStdout(), k.Provider)
		}
		return nil
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List and toggle catalog models",
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List catalog models by provider",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		groups, err := app.db.Models.ListModelGroups()
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), groups)
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "KEY\tNAME\tENABLED\tDEFAULT\tITERATIONS\tLAST USED")
		for _, g := range groups {
			for _, m := range g.Models {
				lastUsed := "-"
				if m.LastUsedAt != nil {
					lastUsed = m.LastUsedAt.Local().Format("2006-01-02 15:04")
				}
				fmt.Fprintf(tw, "%s\t%s\t%t\t%t\t%d\t%s\n", m.Key, m.DisplayName, m.Enabled, m.Default, m.Iterations, lastUsed)
			}
		}
		return tw.Flush()
	},
}

var modelsEnableCmd = &cobra.Command{
	Use:   "enable <provider|model-key>",
	Short: "Enable a model, or every model of a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggleModels(cmd, args[0], true)
	},
}

var modelsDisableCmd = &cobra.Command{
	Use:   "disable <provider|model-key>",
	Short: "Disable a model, or every model of a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return toggleModels(cmd, args[0], false)
	},
}

func toggleModels(cmd *cobra.Command, target string, enabled bool) error {
	if strings.Contains(target, "|") {
		m, err := app.db.Models.SetModelEnabled(target, enabled)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s enabled=%t\n", m.Key, m.Enabled)
		return nil
	}
	updated, err := app.db.Models.SetProviderEnabled(target, enabled)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d %s model(s) enabled=%t\n", len(updated), target, enabled)
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
