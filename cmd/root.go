package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Zzyang0/Takachar-kobo-sharepoint-pipeline/cmd/kobo"
	"github.com/Zzyang0/Takachar-kobo-sharepoint-pipeline/cmd/sharepoint"
)

var (
	// Version information - set via ldflags during build
	// Example: go build -ldflags "-X github.com/Zzyang0/Takachar-kobo-sharepoint-pipeline/cmd.Version=1.2.3"
	Version = "dev" // Default to "dev" if not set during build

	// signalContext is set by main() before Cobra initialization
	// This ensures signal handling is set up before any library can interfere
	signalContext context.Context

	cfgFile       string
	debug         bool
	logFormat     string
	dryRun        bool
	allForms      bool
	formsSpec     string
	dateColumn    string
	typeColumn    string
	folderPrefix  string
	folderMaxAge  int
	transferDelay int
	httpTimeout   int
	chunkSize     int
	koboURL       string
	koboToken     string
	tenantID      string
	clientID      string
	clientSecret  string
	siteID        string

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7D56F4")).
			Bold(true).
			Underline(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#00D9FF"))

	logger *slog.Logger
)

// SetSignalContext stores the signal-aware context created in main()
// This must be called before Execute() to ensure proper signal handling
func SetSignalContext(ctx context.Context) {
	signalContext = ctx
}

// textOnlyHandler is a custom slog handler that outputs human-readable text
// without key=value pairs, suitable for interactive terminal usage
type textOnlyHandler struct {
	opts   slog.HandlerOptions
	writer io.Writer
}

func newTextOnlyHandler(w io.Writer, opts *slog.HandlerOptions) *textOnlyHandler {
	if opts == nil {
		opts = &slog.HandlerOptions{}
	}
	return &textOnlyHandler{
		opts:   *opts,
		writer: w,
	}
}

func (h *textOnlyHandler) Enabled(_ context.Context, level slog.Level) bool {
	minLevel := slog.LevelInfo
	if h.opts.Level != nil {
		minLevel = h.opts.Level.Level()
	}
	return level >= minLevel
}

func (h *textOnlyHandler) Handle(_ context.Context, r slog.Record) error {
	// Format: YYYY-MM-DD HH:MM:SS LEVEL message
	timestamp := r.Time.Format("2006-01-02 15:04:05")
	level := r.Level.String()

	_, err := fmt.Fprintf(h.writer, "%s %s %s\n", timestamp, level, r.Message)
	return err
}

func (h *textOnlyHandler) WithAttrs(_ []slog.Attr) slog.Handler {
	// For simplicity, we ignore attributes in text-only mode
	return h
}

func (h *textOnlyHandler) WithGroup(_ string) slog.Handler {
	// For simplicity, we ignore groups in text-only mode
	return h
}

// initLogger initializes the slog logger based on debug flag and log format
func initLogger(isDebug bool, format string) {
	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if isDebug {
		opts.Level = slog.LevelDebug
	}

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	case "logfmt":
		// logfmt uses slog.TextHandler which outputs key=value pairs
		handler = slog.NewTextHandler(os.Stdout, opts)
	default: // "text" or anything else
		handler = newTextOnlyHandler(os.Stdout, opts)
	}

	logger = slog.New(handler)
}

var rootCmd = &cobra.Command{
	Use:     "kobo-sharepoint-pipeline",
	Version: Version,
	Short:   "📦 Transfer KoboToolbox survey media to SharePoint",
	Long: titleStyle.Render("Kobo → SharePoint Media Pipeline") + `

A CLI tool to incrementally migrate media attachments from KoboToolbox
survey submissions into a SharePoint document library. Files stream
directly from source to destination, organized per form and question,
and files transferred by an earlier run are skipped.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// Show help when no subcommand is specified
		cmd.Help()
	},
}

var transferCmd = &cobra.Command{
	Use:   "transfer",
	Short: "Transfer form media to SharePoint",
	Long:  `Transfer media attachments to SharePoint. Fetches submissions per form, resolves deterministic destination names, skips files already present, and streams the rest.`,
	Run: func(_ *cobra.Command, _ []string) {
		runTransfer()
	},
}

var formsCmd = &cobra.Command{
	Use:   "forms",
	Short: "List available Kobo forms",
	Long:  `List the forms visible to the configured Kobo account, with their UIDs and submission counts.`,
	Run: func(_ *cobra.Command, _ []string) {
		runForms()
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(transferCmd)
	rootCmd.AddCommand(formsCmd)

	// Persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.kobo-sharepoint-pipeline.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "enable debug output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, logfmt, json)")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "perform a dry run without uploading")
	rootCmd.PersistentFlags().StringVar(&koboURL, "kobo-url", "https://kf.kobotoolbox.org", "Kobo API base URL")
	rootCmd.PersistentFlags().StringVar(&koboToken, "kobo-token", "", "Kobo API token")
	rootCmd.PersistentFlags().IntVar(&httpTimeout, "http-timeout", 120, "HTTP timeout in seconds per API call")

	// Transfer-specific flags
	transferCmd.Flags().BoolVar(&allForms, "all", false, "process every available form (scheduled mode)")
	transferCmd.Flags().StringVar(&formsSpec, "forms", "", "comma-separated form indices, UIDs, or names")
	transferCmd.Flags().StringVar(&dateColumn, "date-column", "Date", "submission column holding the record date")
	transferCmd.Flags().StringVar(&typeColumn, "type-column", "Receipt_Type", "submission column holding the record type")
	transferCmd.Flags().StringVar(&folderPrefix, "folder-prefix", "KoboMedia", "destination run folder prefix")
	transferCmd.Flags().IntVar(&folderMaxAge, "folder-max-age", 30, "days an existing run folder stays reusable (0 = always create new)")
	transferCmd.Flags().IntVar(&transferDelay, "transfer-delay", 500, "delay in milliseconds between uploads")
	transferCmd.Flags().IntVar(&chunkSize, "chunk-size", 10*320*1024, "upload session chunk size in bytes (multiple of 320 KiB)")
	transferCmd.Flags().StringVar(&tenantID, "sp-tenant-id", "", "SharePoint tenant ID")
	transferCmd.Flags().StringVar(&clientID, "sp-client-id", "", "SharePoint app client ID")
	transferCmd.Flags().StringVar(&clientSecret, "sp-client-secret", "", "SharePoint app client secret")
	transferCmd.Flags().StringVar(&siteID, "sp-site-id", "", "SharePoint site ID")

	// Note: We don't use MarkFlagRequired because it checks before viper loads the config file.
	// Instead, validation happens in config.Validate() which runs after all config sources are loaded.

	// Bind persistent flags
	_ = viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	_ = viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("dry_run", rootCmd.PersistentFlags().Lookup("dry-run"))
	_ = viper.BindPFlag("kobo.url", rootCmd.PersistentFlags().Lookup("kobo-url"))
	_ = viper.BindPFlag("kobo.token", rootCmd.PersistentFlags().Lookup("kobo-token"))
	_ = viper.BindPFlag("http_timeout", rootCmd.PersistentFlags().Lookup("http-timeout"))

	// Bind transfer flags
	_ = viper.BindPFlag("all", transferCmd.Flags().Lookup("all"))
	_ = viper.BindPFlag("forms", transferCmd.Flags().Lookup("forms"))
	_ = viper.BindPFlag("date_column", transferCmd.Flags().Lookup("date-column"))
	_ = viper.BindPFlag("type_column", transferCmd.Flags().Lookup("type-column"))
	_ = viper.BindPFlag("folder_prefix", transferCmd.Flags().Lookup("folder-prefix"))
	_ = viper.BindPFlag("folder_max_age", transferCmd.Flags().Lookup("folder-max-age"))
	_ = viper.BindPFlag("transfer_delay", transferCmd.Flags().Lookup("transfer-delay"))
	_ = viper.BindPFlag("chunk_size", transferCmd.Flags().Lookup("chunk-size"))
	_ = viper.BindPFlag("sharepoint.tenant_id", transferCmd.Flags().Lookup("sp-tenant-id"))
	_ = viper.BindPFlag("sharepoint.client_id", transferCmd.Flags().Lookup("sp-client-id"))
	_ = viper.BindPFlag("sharepoint.client_secret", transferCmd.Flags().Lookup("sp-client-secret"))
	_ = viper.BindPFlag("sharepoint.site_id", transferCmd.Flags().Lookup("sp-site-id"))
}

func initConfig() {
	// Load a .env file when present; the original deployment keeps its
	// credentials there.
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".kobo-sharepoint-pipeline")
	}

	viper.SetEnvPrefix("KOBOSP")
	viper.AutomaticEnv()

	// Aliases for the bare variable names the original .env files use.
	_ = viper.BindEnv("kobo.token", "KOBOSP_KOBO_TOKEN", "API_TOKEN")
	_ = viper.BindEnv("sharepoint.tenant_id", "KOBOSP_SHAREPOINT_TENANT_ID", "TENANT_ID")
	_ = viper.BindEnv("sharepoint.client_id", "KOBOSP_SHAREPOINT_CLIENT_ID", "CLIENT_ID")
	_ = viper.BindEnv("sharepoint.client_secret", "KOBOSP_SHAREPOINT_CLIENT_SECRET", "CLIENT_SECRET")
	_ = viper.BindEnv("sharepoint.site_id", "KOBOSP_SHAREPOINT_SITE_ID", "SITE_ID")

	if err := viper.ReadInConfig(); err == nil && debug {
		if logger == nil {
			initLogger(debug, logFormat)
		}
		logger.Debug(fmt.Sprintf("📄 Using config file: %s", viper.ConfigFileUsed()))
	}
}

func buildConfig() *Config {
	return &Config{
		Debug:         viper.GetBool("debug"),
		LogFormat:     viper.GetString("log_format"),
		DryRun:        viper.GetBool("dry_run"),
		All:           viper.GetBool("all"),
		Forms:         viper.GetString("forms"),
		DateColumn:    viper.GetString("date_column"),
		TypeColumn:    viper.GetString("type_column"),
		FolderPrefix:  viper.GetString("folder_prefix"),
		FolderMaxAge:  viper.GetInt("folder_max_age"),
		TransferDelay: viper.GetInt("transfer_delay"),
		HTTPTimeout:   viper.GetInt("http_timeout"),
		ChunkSize:     viper.GetInt("chunk_size"),
		Kobo: KoboConfig{
			URL:   viper.GetString("kobo.url"),
			Token: viper.GetString("kobo.token"),
		},
		SharePoint: SharePointConfig{
			TenantID:     viper.GetString("sharepoint.tenant_id"),
			ClientID:     viper.GetString("sharepoint.client_id"),
			ClientSecret: viper.GetString("sharepoint.client_secret"),
			SiteID:       viper.GetString("sharepoint.site_id"),
		},
	}
}

func signalCtx() context.Context {
	ctx := signalContext
	if ctx == nil {
		// Fallback if SetSignalContext wasn't called (shouldn't happen)
		logger.Warn("Signal context not set, creating fallback...")
		ctx, _ = signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	}
	return ctx
}

func runTransfer() {
	// Add panic recovery to catch any unexpected crashes
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "\n❌ PANIC: %v\n", r)
			os.Exit(1)
		}
	}()

	config := buildConfig()
	initLogger(config.Debug, config.LogFormat)

	logger.Info("")
	logger.Info(fmt.Sprintf("🚀 Kobo → SharePoint Media Pipeline v%s", Version))
	logger.Info("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	logger.Debug("Validating configuration...")
	if err := config.Validate(); err != nil {
		logger.Error(fmt.Sprintf("❌ Configuration error: %s", err.Error()))
		os.Exit(1)
	}
	logger.Debug("Configuration validated successfully")

	// Refuse to run alongside another instance
	if pid, err := ReadPIDFile(); err == nil && IsProcessRunning(pid) {
		logger.Error(fmt.Sprintf("❌ Another transfer is already running (PID %d)", pid))
		os.Exit(1)
	}
	if err := WritePIDFile(); err != nil {
		logger.Error(fmt.Sprintf("❌ Could not write PID file: %s", err.Error()))
		os.Exit(1)
	}
	defer func() {
		_ = RemovePIDFile()
		_ = RemoveTaskFile()
	}()

	ctx := signalCtx()
	timeout := time.Duration(config.HTTPTimeout) * time.Second

	source := kobo.NewClient(config.Kobo.URL, config.Kobo.Token, timeout)
	tokens := sharepoint.NewTokenSource(config.SharePoint.TenantID, config.SharePoint.ClientID, config.SharePoint.ClientSecret, timeout)
	drive := sharepoint.NewClient(config.SharePoint.SiteID, tokens, timeout, config.ChunkSize)

	logger.Info("🔐 Authenticating with SharePoint...")
	driveName, err := drive.Connect(ctx)
	if err != nil {
		logger.Error(fmt.Sprintf("❌ SharePoint connection failed: %s", err.Error()))
		os.Exit(1)
	}
	logger.Info(fmt.Sprintf("✅ Connected to document library: %s", driveName))

	logger.Info("📋 Fetching available forms...")
	available, err := source.ListForms(ctx)
	if err != nil {
		logger.Error(fmt.Sprintf("❌ Could not list Kobo forms: %s", err.Error()))
		os.Exit(1)
	}

	forms, err := selectForms(config, available)
	if err != nil {
		logger.Error(fmt.Sprintf("❌ Form selection failed: %s", err.Error()))
		os.Exit(1)
	}
	logger.Info(fmt.Sprintf("✅ Selected %d of %d forms", len(forms), len(available)))

	p := newPipeline(config, source, drive, logger)

	// The TUI only makes sense on an interactive text terminal; scheduled
	// runs (--all) and structured log formats get plain log output instead.
	interactive := !config.All && !config.Debug && config.LogFormat == "text"

	var report *RunReport
	if interactive {
		report, err = runWithProgress(ctx, p, forms)
	} else {
		report, err = p.Run(ctx, forms)
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("")
			logger.Info("⚠️  Transfer cancelled by user")
			os.Exit(130)
		}
		logger.Error(fmt.Sprintf("❌ Transfer failed: %s", err.Error()))
		os.Exit(1)
	}

	if report != nil {
		if interactive {
			fmt.Println(renderReport(report))
		} else {
			logReport(logger, report)
		}
	}

	logger.Info("✅ Transfer run finished")
}

func runForms() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "\n❌ PANIC: %v\n", r)
			os.Exit(1)
		}
	}()

	config := buildConfig()
	initLogger(config.Debug, config.LogFormat)

	if config.Kobo.Token == "" {
		logger.Error(fmt.Sprintf("❌ Configuration error: %s", ErrKoboTokenRequired.Error()))
		os.Exit(1)
	}

	ctx := signalCtx()
	source := kobo.NewClient(config.Kobo.URL, config.Kobo.Token, time.Duration(config.HTTPTimeout)*time.Second)

	forms, err := source.ListForms(ctx)
	if err != nil {
		logger.Error(fmt.Sprintf("❌ Could not list Kobo forms: %s", err.Error()))
		os.Exit(1)
	}

	fmt.Println(titleStyle.Render("Available forms"))
	for i, f := range forms {
		fmt.Printf("  [%d] %s %s\n", i+1, f.Name,
			infoStyle.Render(fmt.Sprintf("(%s, %d submissions)", f.UID, f.Submissions)))
	}
	if len(forms) == 0 {
		fmt.Println("  (none)")
	}
}
