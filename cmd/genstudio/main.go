// Command genstudio drives multi-provider generative-media jobs from the
// terminal: prompt expansion, batch generation, workspace management, and
// cloud gallery sync.
//
// Usage:
//
//	genstudio generate --provider aihorde --prompt "a {red|blue} fox"
//	genstudio expand "a {red|blue} fox"
//	genstudio providers
//	genstudio apikey aihorde <key>
//	genstudio export --out gallery.json
//	genstudio sync --user <id>
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrean/genstudio/cloudsync"
	"github.com/fyrean/genstudio/config"
	"github.com/fyrean/genstudio/gen"
	"github.com/fyrean/genstudio/gen/providers/aihorde"
	"github.com/fyrean/genstudio/gen/providers/deepinfra"
	"github.com/fyrean/genstudio/gen/providers/huggingface"
	"github.com/fyrean/genstudio/gen/providers/trellis"
	"github.com/fyrean/genstudio/internal/metrics"
	"github.com/fyrean/genstudio/prompt"
	"github.com/fyrean/genstudio/types"
	"github.com/fyrean/genstudio/workspace"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "generate":
		runGenerate(os.Args[2:])
	case "expand":
		runExpand(os.Args[2:])
	case "providers":
		runProviders(os.Args[2:])
	case "projects":
		runProjects(os.Args[2:])
	case "apikey":
		runAPIKey(os.Args[2:])
	case "export":
		runExport(os.Args[2:])
	case "import":
		runImport(os.Args[2:])
	case "sync":
		runSync(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// app bundles the wired components behind every stateful subcommand.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *workspace.Store
	registry *gen.Registry
	runner   *gen.Runner
	engine   *gen.Engine
	metrics  *metrics.Collector
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	logger := initLogger(cfg.Log)

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.NewCollector(cfg.Metrics.Namespace, nil, logger)
	}

	kv, err := openKV(cfg.Storage)
	if err != nil {
		return nil, err
	}

	storeOpts := []workspace.StoreOption{workspace.WithSaveDebounce(cfg.Autosave.Debounce)}
	if collector != nil {
		storeOpts = append(storeOpts, workspace.WithStoreMetrics(collector))
	}
	store, err := workspace.NewStore(ctx, kv, logger, storeOpts...)
	if err != nil {
		kv.Close()
		return nil, err
	}

	registry := buildRegistry(cfg.Providers)
	runner := gen.NewRunner(gen.PollConfig{
		InitialDelay: cfg.Poll.InitialDelay,
		Interval:     cfg.Poll.Interval,
		MaxWait:      cfg.Poll.MaxWait,
	}, store, collector, logger)

	engineOpts := []gen.EngineOption{}
	if collector != nil {
		engineOpts = append(engineOpts, gen.WithMetrics(collector))
	}
	engine := gen.NewEngine(registry, store, store, runner, logger, engineOpts...)

	return &app{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		registry: registry,
		runner:   runner,
		engine:   engine,
		metrics:  collector,
	}, nil
}

func (a *app) close(ctx context.Context) {
	if err := a.store.Close(ctx); err != nil {
		a.logger.Warn("workspace close failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// openKV selects the workspace persistence backend.
func openKV(cfg config.StorageConfig) (workspace.KV, error) {
	switch cfg.Backend {
	case "redis":
		return workspace.NewRedisKV(workspace.RedisKVConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
	case "sqlite":
		return workspace.NewSQLiteKV(cfg.SQLite.Path)
	default:
		return workspace.NewFileKV(cfg.Dir)
	}
}

func buildRegistry(cfg config.ProvidersConfig) *gen.Registry {
	registry := gen.NewRegistry()
	registry.Register(aihorde.New(aihorde.Config{
		BaseURL:  cfg.AIHorde.BaseURL,
		RelayURL: cfg.AIHorde.RelayURL,
		Timeout:  cfg.AIHorde.Timeout,
	}))
	registry.Register(deepinfra.New(deepinfra.Config{
		BaseURL: cfg.DeepInfra.BaseURL,
		Timeout: cfg.DeepInfra.Timeout,
	}))
	registry.Register(huggingface.New(huggingface.Config{
		BaseURL: cfg.HuggingFace.BaseURL,
		Timeout: cfg.HuggingFace.Timeout,
	}))
	registry.Register(trellis.New(trellis.Config{
		BaseURL: cfg.Trellis.BaseURL,
		Timeout: cfg.Trellis.Timeout,
	}))
	return registry
}

// paramList collects repeated --param key=value flags.
type paramList map[string]string

func (p paramList) String() string { return fmt.Sprintf("%v", map[string]string(p)) }

func (p paramList) Set(raw string) error {
	key, value, ok := strings.Cut(raw, "=")
	if !ok || key == "" {
		return fmt.Errorf("expected key=value, got %q", raw)
	}
	p[key] = value
	return nil
}

func runGenerate(args []string) {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	providerName := fs.String("provider", "", "Provider to generate with")
	modelID := fs.String("model", "", "Model identifier (provider-specific)")
	promptTemplate := fs.String("prompt", "", "Prompt template, {a|b} groups expand combinatorially")
	negative := fs.String("negative", "", "Negative prompt")
	count := fs.Int("count", 1, "Repetitions of each expanded prompt")
	projectID := fs.String("project", "", "Target project id (default: selected project)")
	inputPath := fs.String("input", "", "Input image file for image-driven providers")
	params := paramList{}
	fs.Var(params, "param", "Extra generation parameter, key=value (repeatable)")
	fs.Parse(args)

	ctx := context.Background()
	a, err := newApp(ctx, *configPath)
	if err != nil {
		fatal(err)
	}
	defer a.close(ctx)

	ws := a.store.Snapshot()
	target := *projectID
	if target == "" {
		target = ws.SelectedProjectID
	}

	inputs := types.ParameterSet{}
	for k, v := range params {
		inputs[k] = v
	}
	if *promptTemplate != "" {
		inputs["promptTemplate"] = *promptTemplate
	}
	if *negative != "" {
		inputs["negativePrompt"] = *negative
		inputs["useNegativePrompt"] = true
	}

	intent := gen.Intent{
		ProjectID:  target,
		Provider:   *providerName,
		ModelID:    *modelID,
		Inputs:     inputs,
		BatchCount: *count,
	}
	if *inputPath != "" {
		asset, err := os.ReadFile(*inputPath)
		if err != nil {
			fatal(fmt.Errorf("read input file: %w", err))
		}
		intent.InputAsset = asset
	}

	ids, err := a.engine.Generate(ctx, intent)
	if err != nil {
		fatal(err)
	}
	fmt.Printf("Dispatched %d job(s)\n", len(ids))

	// Block until every polling loop reaches a terminal state.
	a.runner.Wait()

	ws = a.store.Snapshot()
	for _, id := range ids {
		_, job := ws.FindJob(id)
		if job == nil {
			fmt.Printf("  %s  removed\n", id)
			continue
		}
		line := fmt.Sprintf("  %s  %s", job.ID, job.Status)
		if job.Status == types.StatusCompleted {
			switch {
			case len(job.ModelData) > 0:
				line += fmt.Sprintf("  model %d bytes", len(job.ModelData))
			case job.ResultURI != "":
				line += fmt.Sprintf("  result %d chars", len(job.ResultURI))
			}
		} else if job.StatusDetail != "" {
			line += "  " + job.StatusDetail
		}
		fmt.Println(line)
	}
}

func runExpand(args []string) {
	fs := flag.NewFlagSet("expand", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		fatal(fmt.Errorf("usage: genstudio expand <template>"))
	}
	template := fs.Arg(0)
	expanded := prompt.Expand(template)
	fmt.Printf("%d prompt(s)\n", len(expanded))
	for _, p := range expanded {
		fmt.Println(p)
	}
}

func runProviders(args []string) {
	fs := flag.NewFlagSet("providers", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fatal(err)
	}

	registry := buildRegistry(cfg.Providers)
	for _, name := range registry.List() {
		adapter, err := registry.Get(name)
		if err != nil {
			continue
		}
		caps := adapter.Capabilities()
		traits := []string{string(caps.Kind)}
		if caps.RequiresAPIKey {
			traits = append(traits, "api-key")
		}
		if caps.FileDriven {
			traits = append(traits, "image-input")
		}
		if caps.SharedQueue {
			traits = append(traits, "shared-queue")
		}
		fmt.Printf("%-14s %s\n", name, strings.Join(traits, ", "))
	}
}

func runProjects(args []string) {
	fs := flag.NewFlagSet("projects", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	add := fs.String("add", "", "Create a project with the given name")
	remove := fs.String("remove", "", "Delete the project with the given id")
	selectID := fs.String("select", "", "Select the project with the given id")
	fs.Parse(args)

	ctx := context.Background()
	a, err := newApp(ctx, *configPath)
	if err != nil {
		fatal(err)
	}
	defer a.close(ctx)

	switch {
	case *add != "":
		p := a.store.AddProject(*add)
		fmt.Printf("Created %s (%s)\n", p.Name, p.ID)
	case *remove != "":
		if err := a.store.RemoveProject(*remove); err != nil {
			fatal(err)
		}
		fmt.Println("Removed")
	case *selectID != "":
		if err := a.store.SelectProject(*selectID); err != nil {
			fatal(err)
		}
		fmt.Println("Selected")
	}

	ws := a.store.Snapshot()
	for _, p := range ws.Projects {
		marker := " "
		if p.ID == ws.SelectedProjectID {
			marker = "*"
		}
		fmt.Printf("%s %-12s %s (%d jobs)\n", marker, p.ID, p.Name, len(p.Jobs))
	}
}

func runAPIKey(args []string) {
	fs := flag.NewFlagSet("apikey", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)
	if fs.NArg() < 1 {
		fatal(fmt.Errorf("usage: genstudio apikey <provider> [key]"))
	}

	ctx := context.Background()
	a, err := newApp(ctx, *configPath)
	if err != nil {
		fatal(err)
	}
	defer a.close(ctx)

	provider := fs.Arg(0)
	if fs.NArg() >= 2 {
		if err := a.store.SetAPIKey(ctx, provider, fs.Arg(1)); err != nil {
			fatal(err)
		}
		fmt.Printf("Stored key for %s\n", provider)
		return
	}
	if a.store.APIKey(provider) != "" {
		fmt.Printf("%s: key configured\n", provider)
	} else {
		fmt.Printf("%s: no key\n", provider)
	}
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	out := fs.String("out", "gallery.json", "Output file")
	fs.Parse(args)

	ctx := context.Background()
	a, err := newApp(ctx, *configPath)
	if err != nil {
		fatal(err)
	}
	defer a.close(ctx)

	data, err := a.store.Export()
	if err != nil {
		fatal(err)
	}
	if err := os.WriteFile(*out, data, 0o600); err != nil {
		fatal(err)
	}
	fmt.Printf("Exported workspace to %s (%d bytes)\n", *out, len(data))
}

func runImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	in := fs.String("in", "gallery.json", "Input file")
	fs.Parse(args)

	ctx := context.Background()
	a, err := newApp(ctx, *configPath)
	if err != nil {
		fatal(err)
	}
	defer a.close(ctx)

	data, err := os.ReadFile(*in)
	if err != nil {
		fatal(err)
	}
	if err := a.store.Import(ctx, data); err != nil {
		fatal(err)
	}
	ws := a.store.Snapshot()
	fmt.Printf("Imported %d project(s)\n", len(ws.Projects))
}

func runSync(args []string) {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	user := fs.String("user", "", "Cloud account record id")
	token := fs.String("token", "", "Cloud auth token")
	resolve := fs.String("resolve", "", "Conflict resolution: merge, cloud, or local")
	fs.Parse(args)

	ctx := context.Background()
	a, err := newApp(ctx, *configPath)
	if err != nil {
		fatal(err)
	}
	defer a.close(ctx)

	if a.cfg.Sync.BaseURL == "" {
		fatal(fmt.Errorf("sync.base_url is not configured"))
	}
	remote := cloudsync.NewPocketBaseStore(cloudsync.PocketBaseConfig{
		BaseURL:    a.cfg.Sync.BaseURL,
		Collection: a.cfg.Sync.Collection,
		AuthToken:  *token,
		Timeout:    a.cfg.Sync.Timeout,
	})

	syncerOpts := []cloudsync.SyncerOption{}
	if a.metrics != nil {
		syncerOpts = append(syncerOpts, cloudsync.WithSyncMetrics(a.metrics))
	}
	syncer := cloudsync.NewSyncer(remote, a.logger, syncerOpts...)

	ws := a.store.Snapshot()
	outcome, err := syncer.Sync(ctx, *user, ws.Projects)
	if err != nil {
		fatal(err)
	}
	fmt.Println(outcome.Message)

	if outcome.Type != cloudsync.OutcomeConflict {
		return
	}
	if *resolve == "" {
		fmt.Println("Re-run with --resolve merge|cloud|local to resolve.")
		os.Exit(2)
	}

	resolved, err := outcome.Conflict.Resolve(ctx, cloudsync.Choice(*resolve))
	if err != nil {
		fatal(err)
	}
	a.store.Update(func(ws *types.Workspace) {
		ws.Projects = resolved
	})
	fmt.Printf("Resolved with %q: %d project(s)\n", *resolve, len(resolved))
}

func printVersion() {
	fmt.Printf("genstudio %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`genstudio - multi-provider generative media orchestrator

Usage:
  genstudio <command> [options]

Commands:
  generate   Expand a prompt template and dispatch generation jobs
  expand     Preview the expansion of a prompt template
  providers  List registered providers and their capabilities
  projects   List and manage workspace projects
  apikey     Store or inspect a provider API key
  export     Export the workspace document to a file
  import     Import a workspace document from a file
  sync       Sync the gallery with the cloud backend
  version    Show version information
  help       Show this help message

Examples:
  genstudio generate --provider aihorde --prompt "a {red|blue} fox" --count 2
  genstudio generate --provider trellis --input photo.png
  genstudio expand "a {red|blue} {fox|cat}"
  genstudio apikey deepinfra sk-...
  genstudio sync --user abc123 --resolve merge`)
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      encoding == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
