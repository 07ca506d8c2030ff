// Package cli implements the zentel command line client.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"zentel/client/internal/analysis"
	"zentel/client/internal/api"
	"zentel/client/internal/app"
	"zentel/client/internal/config"
	"zentel/client/internal/drafts"
	"zentel/client/internal/events"
	"zentel/client/internal/export"
	"zentel/client/internal/search"
	"zentel/client/internal/store"
)

var (
	apiURL     string
	formatFlag string

	stdout io.Writer = os.Stdout
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "zentel",
	Short: "Capture memos and follow their analysis",
	Long:  "Command line client for zentel: memos, AI analysis, persona comments and permanent-note drafts.",
}

func init() {
	RootCmd.PersistentFlags().StringVar(&apiURL, "api", "", "API origin (default: $ZENTEL_API_URL or http://localhost:6000)")
	RootCmd.PersistentFlags().StringVarP(&formatFlag, "format", "f", "json", "Output format: json or text")
}

func loadConfig() config.Config {
	cfg := config.Load()
	if strings.TrimSpace(apiURL) != "" {
		cfg.APIURL = strings.TrimRight(apiURL, "/")
	}
	return cfg
}

// runtime bundles a session with the local resources it was built from.
type runtime struct {
	cfg     config.Config
	session *app.Session
	stream  *events.Client
	index   *search.Service
	cache   store.Cache
}

type hooks struct {
	onJobChange func(job analysis.Job)
	onReplies   func(memoID string, list []store.Comment)
}

func openRuntime(h hooks) (*runtime, error) {
	cfg := loadConfig()

	var cache store.Cache
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisCache, err := store.NewRedisCache(cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		cache = redisCache
	} else {
		cache = store.NewMemoryCache(cfg.CacheTTL)
	}

	local, err := search.OpenSQLiteFTS(cfg.SearchDBPath)
	if err != nil {
		_ = cache.Close()
		return nil, fmt.Errorf("open search index: %w", err)
	}
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	index := search.NewService(meiliClient, local)

	var uploader *export.Uploader
	if strings.TrimSpace(cfg.ExportS3Endpoint) != "" {
		uploader, err = export.NewUploader(export.UploaderConfig{
			Endpoint:  cfg.ExportS3Endpoint,
			AccessKey: cfg.ExportS3AccessKey,
			SecretKey: cfg.ExportS3SecretKey,
			Bucket:    cfg.ExportS3Bucket,
			UseSSL:    cfg.ExportS3UseSSL,
		})
		if err != nil {
			_ = index.Close()
			_ = cache.Close()
			return nil, err
		}
	}

	stream := events.NewClient(cfg.BaseURL()+cfg.EventsPath, events.Options{
		Token:          cfg.AccessToken,
		ReconnectDelay: cfg.ReconnectDelay,
	})

	deps := app.Deps{
		Backend:            api.New(cfg.BaseURL(), cfg.AccessToken, cfg.HTTPTimeout),
		Stream:             stream,
		Cache:              cache,
		Index:              index,
		Drafts:             drafts.New(cfg.DraftsDir),
		Uploader:           uploader,
		Author:             cfg.Author,
		AnalysisTimeout:    cfg.AnalysisTimeout,
		StatusCheckTimeout: cfg.StatusCheckTimeout,
		OnJobChange:        h.onJobChange,
		OnReplies:          h.onReplies,
	}

	return &runtime{
		cfg:     cfg,
		session: app.NewSession(deps),
		stream:  stream,
		index:   index,
		cache:   cache,
	}, nil
}

func (r *runtime) Close() {
	r.session.Close()
	if err := r.index.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: close search index: %v\n", err)
	}
	if err := r.cache.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: close cache: %v\n", err)
	}
}

func mustOpen(h hooks) *runtime {
	rt, err := openRuntime(h)
	if err != nil {
		exitErr("open session", err)
	}
	return rt
}

// readContent joins positional args, falling back to piped stdin.
func readContent(args []string, stdin *os.File) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	stat, err := stdin.Stat()
	if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
		return "", nil
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	return string(b), nil
}

func textOutput() bool {
	return strings.EqualFold(formatFlag, "text")
}

// emit writes v as indented JSON, or through text when --format=text.
func emit(v any, text func(w io.Writer)) {
	if textOutput() && text != nil {
		text(stdout)
		return
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(stdout, string(b))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %s\n", msg, api.UserMessage(err))
	os.Exit(1)
}
