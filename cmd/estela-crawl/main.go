package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bitmakerla/estela-entrypoint/internal/deploy"
	"github.com/bitmakerla/estela-entrypoint/internal/log"
	"github.com/bitmakerla/estela-entrypoint/internal/metrics"
	"github.com/bitmakerla/estela-entrypoint/internal/model"
	"github.com/bitmakerla/estela-entrypoint/internal/project"
	"github.com/bitmakerla/estela-entrypoint/internal/service"
	"github.com/bitmakerla/estela-entrypoint/internal/sink"
)

var (
	config   model.Config
	exitCode int // set by commands reporting their own status

	flagConfigFilePath string // value of --config flag
	flagVerbose        bool   // value of --verbose flag
)

func main() {
	// root flags
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load, environment variables take precedence")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true

	// read the config, setup logging
	rootCmd.PersistentPreRunE = initEntrypoint

	rootCmd.AddCommand(describeProjectCmd)
	rootCmd.AddCommand(reportDeployCmd)
	rootCmd.AddCommand(versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		slog.Error("estela-crawl failed", "err", err)
		os.Exit(1)
	}
	os.Exit(exitCode)
}

var rootCmd = &cobra.Command{
	Use:          "estela-crawl",
	Short:        "Run an estela requests spider and forward its output to the job logs",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         doCrawl,
}

var describeProjectCmd = &cobra.Command{
	Use:   "describe-project",
	Short: "print the project type and spiders as JSON",
	Args:  cobra.NoArgs,
	RunE:  doDescribeProject,
}

var reportDeployCmd = &cobra.Command{
	Use:   "report-deploy",
	Short: "promote the candidate image and report the deploy status",
	Args:  cobra.NoArgs,
	RunE:  doReportDeploy,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provide version of estela-crawl",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("estela-crawl: version info not available")
			return
		}

		fmt.Printf("estela-crawl: %s\n", info.Main.Version)
		fmt.Printf("go:           %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:       %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:         %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:        %s\n", s.Value)
			}
		}
		fmt.Println()
	},
}

func doCrawl(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	ctx = log.ContextAttrs(ctx, slog.Group("estela",
		slog.String("cmd", "crawl"),
		slog.Int("pid", os.Getpid()),
	))

	dir, err := os.Getwd()
	if err != nil {
		return err
	}

	// undelivered records and broker client errors, never redirected
	fallback := log.NewFallback()
	collector := metrics.New()
	producer, err := sink.NewProducer(config.Queue, fallback)
	if err != nil {
		return err
	}
	adapter := sink.NewAdapter(producer,
		sink.WithFallback(fallback),
		sink.WithMetrics(collector),
	)

	pipeline := service.NewPipeline(adapter,
		service.WithDir(dir),
		service.WithResolver(project.NewFinder(dir)),
		service.WithInterpreter(config.Interpreter),
		service.WithVerbose(config.Verbose),
		service.WithFlushTimeout(config.Queue.FlushTimeout),
		service.WithMetrics(collector),
		service.WithDefaultLogger(),
	)
	outcome := pipeline.Run(ctx, os.Getenv(model.EnvJobInfo))
	slog.DebugContext(ctx, "pipeline finished", "outcome", outcome.String())

	if err := collector.WriteTextfile(config.Metrics.Textfile); err != nil {
		slog.WarnContext(ctx, "writing metrics", "path", config.Metrics.Textfile, "error", err)
	}
	exitCode = outcome.ExitCode()
	return nil
}

type projectDescription struct {
	ProjectType string   `json:"project_type"`
	Spiders     []string `json:"spiders"`
}

func doDescribeProject(cmd *cobra.Command, _ []string) error {
	dir, err := os.Getwd()
	if err != nil {
		return err
	}
	names, err := project.NewFinder(dir).SpiderNames()
	if err != nil {
		return err
	}
	if names == nil {
		names = []string{}
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	return enc.Encode(projectDescription{
		ProjectType: project.ProjectType,
		Spiders:     names,
	})
}

func doReportDeploy(cmd *cobra.Command, _ []string) error {
	ctx := log.ContextAttrs(cmd.Context(), slog.Group("estela",
		slog.String("cmd", "report-deploy"),
		slog.Int("pid", os.Getpid()),
	))

	dir, err := os.Getwd()
	if err != nil {
		return err
	}
	handler := deploy.Handler{
		Spiders:    project.NewFinder(dir),
		Images:     deploy.NewImagesFunc(deploy.NewECRClient, config.Deploy.RepositoryName),
		Cleanup:    config.Deploy.CleanupCandidateImages,
		HTTPClient: &http.Client{Timeout: config.Deploy.Timeout},
	}
	exitCode = handler.Run(ctx, deploy.Environment{
		Key:     os.Getenv(deploy.EnvKey),
		JobInfo: os.Getenv(model.EnvJobInfo),
		Token:   os.Getenv(deploy.EnvToken),
	})
	return nil
}

func initEntrypoint(cmd *cobra.Command, _ []string) error {
	v := viper.New()
	model.SetDefaults(v)
	if flagConfigFilePath != "" {
		v.SetConfigFile(flagConfigFilePath)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file: %w", err)
		}
	}

	var err error
	config, err = model.LoadConfig(v)
	if err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	// --verbose has a precedence over config file
	if flagVerbose {
		config.Verbose = true
	}

	slog.SetDefault(log.New(config.Verbose))
	slog.Debug("estela-crawl", "configPath", v.ConfigFileUsed())
	return nil
}
