package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"mlcserve/internal/common/fsutil"
	"mlcserve/internal/common/logging"
	"mlcserve/internal/config"
	"mlcserve/internal/device"
	"mlcserve/internal/hfhub"
	"mlcserve/internal/importer"
	"mlcserve/internal/store"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "mlcimport:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	d := config.Defaults()
	root := &cobra.Command{
		Use:   "mlcimport [model-id]",
		Short: "Download, compile and register an MLC model",
		Long: "mlcimport downloads an MLC-converted model from Hugging Face, compiles its model library for the\n" +
			"local device and registers weights plus library in the model store that mlcserve reads.",
		Example: "  mlcimport\n" +
			"  mlcimport HF://mlc-ai/Llama-3-8B-Instruct-q4f16_1-MLC --device cuda:0\n" +
			"  mlcimport list\n" +
			"  mlcimport delete llama-3-8b-instruct-q4f16_1-mlc",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.MaximumNArgs(1),
	}
	pf := root.PersistentFlags()
	pf.String("config", "", "Config file (.yaml, .json or .toml)")
	pf.String("store-dir", d.StoreDir, "Model store directory")
	pf.String("log-level", d.LogLevel, "Log level: debug|info|warn|error")
	pf.String("log-format", "auto", "Log format: auto|console|json")
	pf.String("log-file", "", "Also write JSON logs to this rotating file")

	f := root.Flags()
	f.String("tag", "", "Store tag (default: derived from the model id)")
	f.String("cache-dir", d.CacheDir, "Download and compile cache directory")
	f.String("device", d.Device, "Target device: auto, cpu, cuda:0, rocm, metal, vulkan, opencl")
	f.String("compiler-bin", d.CompilerBin, "mlc_llm executable used to compile the model library")
	f.String("overrides", "", "Compile overrides, e.g. context_window_size=4096;prefill_chunk_size=1024")
	f.Int("concurrency", d.DownloadConcurrency, "Parallel file downloads")
	f.Bool("overwrite", false, "Add a new version when the tag already exists")
	f.Bool("no-progress", false, "Disable download progress bars")

	root.RunE = func(cmd *cobra.Command, args []string) error {
		env, err := setup(cmd)
		if err != nil {
			return err
		}
		defer env.close()
		if len(args) == 1 {
			env.cfg.ModelID = args[0]
			if !cmd.Flags().Changed("tag") && env.tagFromConfig == "" {
				env.cfg.ModelTag = store.TagFor(args[0])
			}
		}
		return runImport(cmd.Context(), cmd, env)
	}
	root.AddCommand(newListCmd(), newDeleteCmd())
	return root
}

// env bundles what every subcommand needs.
type env struct {
	cfg           config.Config
	log           zerolog.Logger
	store         *store.Store
	closer        func()
	tagFromConfig string
}

func (e *env) close() { e.closer() }

func setup(cmd *cobra.Command) (*env, error) {
	var cfg config.Config
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		c, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = c
	}
	tagFromConfig := cfg.ModelTag
	applyFlags(cmd, &cfg)
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	format, _ := cmd.Flags().GetString("log-format")
	log, closer, err := logging.New(logging.Options{Level: cfg.LogLevel, Format: format, File: cfg.LogFile}, os.Stderr)
	if err != nil {
		return nil, err
	}
	dir, err := fsutil.ResolveDir(cfg.StoreDir)
	if err != nil {
		closer.Close()
		return nil, err
	}
	st, err := store.Open(dir)
	if err != nil {
		closer.Close()
		return nil, err
	}
	return &env{cfg: cfg, log: log, store: st, closer: func() { closer.Close() }, tagFromConfig: tagFromConfig}, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	str := func(name string, dst *string) {
		if f.Lookup(name) != nil && f.Changed(name) {
			*dst, _ = f.GetString(name)
		}
	}
	str("store-dir", &cfg.StoreDir)
	str("log-level", &cfg.LogLevel)
	str("log-file", &cfg.LogFile)
	str("tag", &cfg.ModelTag)
	str("cache-dir", &cfg.CacheDir)
	str("device", &cfg.Device)
	str("compiler-bin", &cfg.CompilerBin)
	if f.Lookup("concurrency") != nil && f.Changed("concurrency") {
		cfg.DownloadConcurrency, _ = f.GetInt("concurrency")
	}
}

func runImport(ctx context.Context, cmd *cobra.Command, e *env) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	cfg := e.cfg
	cacheDir, err := fsutil.ResolveDir(cfg.CacheDir)
	if err != nil {
		return err
	}
	overwrite, _ := cmd.Flags().GetBool("overwrite")
	noProgress, _ := cmd.Flags().GetBool("no-progress")
	overrides, _ := cmd.Flags().GetString("overrides")

	dl := hfhub.NewDownloader(filepath.Join(cacheDir, "hub"))
	dl.Concurrency = cfg.DownloadConcurrency
	dl.Logger = e.log.With().Str("stage", "download").Logger()
	var bars *hfhub.Bars
	if !noProgress {
		bars = hfhub.NewBars(cmd.ErrOrStderr())
		dl.Progress = bars
	}

	comp := importer.NewMLCCompiler(cfg.CompilerBin, cacheDir)
	comp.Overrides = overrides
	comp.Logger = e.log.With().Str("stage", "compile").Logger()

	p := &importer.Pipeline{
		Downloader: dl,
		Detector:   device.NewDetector(),
		Compiler:   comp,
		Inspector:  importer.MemoryInspector{},
		Store:      e.store,
		DeviceSpec: cfg.Device,
		Overwrite:  overwrite,
		Logger:     e.log,
	}
	entry, err := p.Run(ctx, cfg.ModelID, cfg.ModelTag)
	if bars != nil {
		bars.Wait()
	}
	if err != nil {
		if stage, ok := importer.FailedStage(err); ok {
			e.log.Error().Str("stage", string(stage)).Err(err).Msg("import_failed")
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported %s as %s (%s)\n", cfg.ModelID, entry.Ref(), entry.Path)
	return nil
}
