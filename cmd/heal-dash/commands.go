package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/hochfrequenz/heal-dash/internal/archive"
	"github.com/hochfrequenz/heal-dash/internal/config"
	"github.com/hochfrequenz/heal-dash/internal/domain"
	"github.com/hochfrequenz/heal-dash/internal/prompts"
	"github.com/hochfrequenz/heal-dash/internal/report"
	"github.com/hochfrequenz/heal-dash/internal/runstate"
	"github.com/hochfrequenz/heal-dash/internal/schedule"
	"github.com/hochfrequenz/heal-dash/internal/score"
	"github.com/hochfrequenz/heal-dash/tui"
	"github.com/hochfrequenz/heal-dash/web/api"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	runRepo      string
	runTeam      string
	runLeader    string
	runMode      string
	runTUI       bool
	scoreTime    float64
	scoreCommits int
	scoreWhatIf  bool
	historyLimit int
	showArchive  bool
	servePort    int
	configForce  bool
)

func init() {
	// run command
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Launch a healing run and follow it to completion",
		RunE:  runRunCmd,
	}
	runCmd.Flags().StringVar(&runRepo, "repo", "", "GitHub repository URL")
	runCmd.Flags().StringVar(&runTeam, "team", "", "team name")
	runCmd.Flags().StringVar(&runLeader, "leader", "", "team leader name")
	runCmd.Flags().StringVar(&runMode, "mode", "api", "inference mode: api or browser-inference")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "follow the run in the terminal dashboard")
	runCmd.MarkFlagRequired("repo")
	rootCmd.AddCommand(runCmd)

	// score command
	scoreCmd := &cobra.Command{
		Use:   "score",
		Short: "Compute the score for a run duration and commit count",
		RunE:  runScore,
	}
	scoreCmd.Flags().Float64Var(&scoreTime, "time", 0, "time taken in seconds")
	scoreCmd.Flags().IntVar(&scoreCommits, "commits", 0, "number of commits")
	scoreCmd.Flags().BoolVar(&scoreWhatIf, "simulate", false, "use the what-if scoring curve")
	rootCmd.AddCommand(scoreCmd)

	// history commands
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List finished runs",
		RunE:  runHistoryList,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of runs")
	historyShowCmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show a finished run by run id or attempt id",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistoryShow,
	}
	historyShowCmd.Flags().BoolVar(&showArchive, "archive", false, "read the report from the object store archive")
	historyCmd.AddCommand(historyShowCmd)
	rootCmd.AddCommand(historyCmd)

	// serve command
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run state API",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (default from config)")
	rootCmd.AddCommand(serveCmd)

	// schedule commands
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run healing jobs on their cron schedules",
		RunE:  runSchedule,
	}
	scheduleCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs and their next run",
		RunE:  runScheduleList,
	})
	rootCmd.AddCommand(scheduleCmd)

	// prompts command
	promptsCmd := &cobra.Command{
		Use:   "prompts",
		Short: "List the system prompts used for local inference",
		RunE:  runPrompts,
	}
	rootCmd.AddCommand(promptsCmd)

	// config command
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}
	configInitCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE:  runConfigInit,
	}
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func runRunCmd(cmd *cobra.Command, args []string) error {
	mode, ok := domain.ParseMode(runMode)
	if !ok {
		return fmt.Errorf("unknown mode %q", runMode)
	}
	in := domain.RunInputs{
		RepoURL:    runRepo,
		TeamName:   runTeam,
		LeaderName: runLeader,
		Mode:       mode,
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closer, err := newLogger(cfg, runTUI)
	if err != nil {
		return err
	}
	defer closer.Close()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext(cmd.Context())
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loopsDone := make(chan error, 1)
	go func() { loopsDone <- a.session.Run(ctx) }()
	shutdown := func() {
		cancel()
		if err := <-loopsDone; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("session stopped")
		}
	}

	if !runTUI {
		snap, err := a.session.LaunchAndAwait(ctx, in)
		shutdown()
		if err != nil {
			return err
		}
		printSnapshot(os.Stdout, snap)
		if snap.Summary.FinalStatus != domain.FinalPassed {
			return fmt.Errorf("run finished with status %s", snap.Summary.FinalStatus)
		}
		return nil
	}

	if _, err := a.session.Launch(ctx, in); err != nil {
		shutdown()
		return err
	}

	updates, unsubscribe := a.store.Subscribe()
	defer unsubscribe()
	model := tui.NewModel(tui.ModelConfig{
		Store:        a.store,
		EngineStatus: a.coord.Status,
		Updates:      updates,
	})
	_, err = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	shutdown()
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}

	if snap := a.store.Snapshot(); snap.Run.ConnectionStatus == domain.ConnCompleted {
		printSnapshot(os.Stdout, snap)
	}
	return nil
}

func printSnapshot(w io.Writer, snap runstate.Snapshot) {
	r, ok := report.FromSnapshot(snap)
	if !ok {
		fmt.Fprintf(w, "Run %s did not complete (%s)\n", snap.AttemptID, snap.Run.ConnectionStatus)
		return
	}
	printReport(w, r, false)
}

func printReport(w io.Writer, r report.Report, details bool) {
	fmt.Fprintf(w, "Run:        %s\n", r.Key())
	fmt.Fprintf(w, "Repository: %s\n", r.Inputs.RepoURL)
	fmt.Fprintf(w, "Branch:     %s\n", r.BranchName)
	fmt.Fprintf(w, "Status:     %s\n", r.Summary.FinalStatus)
	fmt.Fprintf(w, "Fixes:      %d (failures %d, commits %d)\n",
		r.Summary.TotalFixes, r.Summary.TotalFailures, r.Summary.CommitsCount)
	fmt.Fprintf(w, "Iterations: %d\n", r.Summary.IterationsUsed)
	fmt.Fprintf(w, "Time:       %s\n", time.Duration(r.Summary.TimeTakenSeconds*float64(time.Second)).Round(time.Second))
	fmt.Fprintf(w, "Score:      %s (base %s, speed +%s, commits -%s)\n",
		humanize.FtoaWithDigits(r.Score.Total, 1), humanize.FtoaWithDigits(r.Score.Base, 1),
		humanize.FtoaWithDigits(r.Score.SpeedBonus, 1), humanize.FtoaWithDigits(r.Score.CommitPenalty, 1))
	if !r.CompletedAt.IsZero() {
		fmt.Fprintf(w, "Completed:  %s (%s)\n", r.CompletedAt.Local().Format(time.DateTime), humanize.Time(r.CompletedAt))
	}

	if !details {
		return
	}

	if len(r.Fixes) > 0 {
		fmt.Fprintln(w, "\nFixes:")
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  FILE\tLINE\tTYPE\tSTATUS\tCOMMIT")
		for _, f := range r.Fixes {
			fmt.Fprintf(tw, "  %s\t%d\t%s\t%s\t%s\n", f.File, f.Line, f.BugType, f.Status, f.CommitMessage)
		}
		tw.Flush()
	}

	if len(r.Timeline) > 0 {
		fmt.Fprintln(w, "\nTimeline:")
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  ITER\tSTATUS\tTIME\tMESSAGE")
		for _, e := range r.Timeline {
			fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\n", e.Iteration, e.Status, e.Timestamp.Local().Format(time.TimeOnly), e.Message)
		}
		tw.Flush()
	}
}

func runScore(cmd *cobra.Command, args []string) error {
	if scoreTime < 0 || scoreCommits < 0 {
		return fmt.Errorf("time and commits must not be negative")
	}

	s := score.Calculate(scoreTime, scoreCommits)
	if scoreWhatIf {
		s = score.Simulate(scoreTime, scoreCommits)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Base\t%s\n", humanize.FtoaWithDigits(s.Base, 1))
	fmt.Fprintf(tw, "Speed bonus\t+%s\n", humanize.FtoaWithDigits(s.SpeedBonus, 1))
	fmt.Fprintf(tw, "Commit penalty\t-%s\n", humanize.FtoaWithDigits(s.CommitPenalty, 1))
	fmt.Fprintf(tw, "Total\t%s\n", humanize.FtoaWithDigits(s.Total, 1))
	return tw.Flush()
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	h, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer h.Close()

	runs, err := h.List(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tBRANCH\tSTATUS\tFIXES\tITER\tSCORE\tCOMPLETED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.Key(), r.BranchName, r.Summary.FinalStatus, r.Summary.TotalFixes,
			r.Summary.IterationsUsed, humanize.FtoaWithDigits(r.Score.Total, 1), humanize.Time(r.CompletedAt))
	}
	return tw.Flush()
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var r *report.Report
	if showArchive {
		if !cfg.Archive.Enabled() {
			return fmt.Errorf("archive is not configured")
		}
		store, err := archive.New(archive.Config{
			Endpoint:  cfg.Archive.Endpoint,
			Region:    cfg.Archive.Region,
			AccessKey: os.Getenv(cfg.Archive.AccessKeyEnv),
			SecretKey: os.Getenv(cfg.Archive.SecretKeyEnv),
			Bucket:    cfg.Archive.Bucket,
			Prefix:    cfg.Archive.Prefix,
			UseSSL:    cfg.Archive.UseSSL,
		})
		if err != nil {
			return err
		}
		r, err = store.Fetch(cmd.Context(), args[0])
		if err != nil {
			return err
		}
	} else {
		h, err := openHistory(cfg)
		if err != nil {
			return err
		}
		defer h.Close()
		r, err = h.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
	}

	printReport(os.Stdout, *r, true)
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != 0 {
		cfg.Web.Port = servePort
	}
	logger, closer, err := newLogger(cfg, false)
	if err != nil {
		return err
	}
	defer closer.Close()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := []api.Option{
		api.WithLauncher(a.session),
		api.WithEngineStatus(a.coord.Status),
		api.WithLogger(logger),
	}
	if a.history != nil {
		opts = append(opts, api.WithHistory(a.history))
	}
	server := api.NewServer(a.store, cfg.Web.Addr(), opts...)

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.session.Run(ctx) })
	g.Go(func() error { return server.Run(ctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if len(cfg.Schedule.Jobs) == 0 {
		return fmt.Errorf("no jobs configured under [[schedule.job]]")
	}
	logger, closer, err := newLogger(cfg, false)
	if err != nil {
		return err
	}
	defer closer.Close()

	sched, err := schedule.NewScheduler(cfg.Schedule.Jobs, logger)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.session.Run(ctx) })
	g.Go(func() error {
		sched.Start(ctx, time.Minute, func(ctx context.Context, job schedule.Job) error {
			snap, err := a.session.LaunchAndAwait(ctx, job.Inputs())
			if err != nil {
				return err
			}
			logger.Info().Str("job", job.Name).Str("status", string(snap.Summary.FinalStatus)).
				Float64("score", snap.Score.Total).Msg("scheduled run finished")
			return nil
		})
		return nil
	})

	for _, name := range sched.ListJobs() {
		logger.Info().Str("job", name).Time("next", sched.NextRun(name)).Msg("job scheduled")
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sched, err := schedule.NewScheduler(cfg.Schedule.Jobs, zerolog.Nop())
	if err != nil {
		return err
	}

	names := sched.ListJobs()
	if len(names) == 0 {
		fmt.Println("No jobs configured")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCRON\tREPO\tMODE\tNEXT RUN")
	for _, name := range names {
		job, _ := sched.GetJob(name)
		next := sched.NextRun(name)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s (%s)\n", job.Name, job.Cron, job.RepoURL,
			job.Inputs().Mode, next.Local().Format(time.DateTime), humanize.Time(next))
	}
	return tw.Flush()
}

func runPrompts(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	metas, err := prompts.DefaultLoader(cfg.Inference.PromptDirs...).List()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTASK TYPE\tTEMPERATURE\tMAX TOKENS")
	for _, m := range metas {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\t%d\n", m.ID, m.TaskType, m.Temperature, m.MaxTokens)
	}
	return tw.Flush()
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	path = config.ExpandPath(path)

	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := config.Default().Save(path); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}
