// ABOUTME: Entry point for the relay-server real-time messaging gateway
// ABOUTME: Subcommands: serve, init, token, health

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/stayline/relay/internal/auth"
	"github.com/stayline/relay/internal/chat"
	"github.com/stayline/relay/internal/config"
	"github.com/stayline/relay/internal/gateway"
	"github.com/stayline/relay/internal/notify"
	"github.com/stayline/relay/internal/presence"
	"github.com/stayline/relay/internal/protocol"
	"github.com/stayline/relay/internal/room"
	"github.com/stayline/relay/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
            _
  _ __ ___| | __ _ _   _
 | '__/ _ \ |/ _' | | | |
 | | |  __/ | (_| | |_| |
 |_|  \___|_|\__,_|\__, |
                   |___/
`

// getConfigPath returns the path to the relay config file.
// Priority: RELAY_CONFIG env var > XDG_CONFIG_HOME/relay/server.yaml > ~/.config/relay/server.yaml
func getConfigPath() string {
	if envPath := os.Getenv("RELAY_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "server.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "relay", "server.yaml")
}

// getDataPath returns the path to the relay data directory.
// Priority: XDG_DATA_HOME/relay > ~/.local/share/relay
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "relay")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: relay-server <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve              Start the messaging server")
		fmt.Println("  init               Create a new config file interactively")
		fmt.Println("  token --user ID    Generate an access token for a user")
		fmt.Println("  health             Check server health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "token":
		err = runToken(ctx, os.Args[2:])
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// liveProxy defers the live-delivery target until the transport server
// exists. The dispatcher needs a LiveDelivery at construction and the server
// needs the dispatcher, so the proxy breaks the cycle.
type liveProxy struct {
	server *gateway.Server
}

func (p *liveProxy) DeliverTo(userID string, event *protocol.Event) {
	if p.server != nil {
		p.server.DeliverTo(userID, event)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Listen:    %s\n", cfg.Server.Addr)
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Path)
	fmt.Println()

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), st)
	reg := presence.NewRegistry(logger)
	rooms := room.NewRouter(st, logger)

	senders, err := buildSenders(cfg.Notifications, logger)
	if err != nil {
		return fmt.Errorf("configuring notification channels: %w", err)
	}
	for name := range senders {
		logger.Info("notification channel enabled", "channel", name)
	}

	proxy := &liveProxy{}
	dispatcher := notify.NewDispatcher(st, senders, proxy, logger)

	pipeline := chat.NewService(st, rooms, reg, dispatcher, cfg.Chat.TypingInterval, logger)
	defer pipeline.Close()

	server := gateway.NewServer(gateway.Options{
		Addr:           cfg.Server.Addr,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, verifier, pipeline, rooms, reg, st, logger)
	proxy.server = server

	runErr := server.Run(ctx)

	// Let in-flight channel deliveries finish before the store closes
	dispatcher.Wait()
	return runErr
}

func buildSenders(cfg config.NotificationsConfig, logger *slog.Logger) (map[string]notify.Sender, error) {
	senders := make(map[string]notify.Sender)

	if cfg.Email.Enabled {
		emailSender, err := notify.NewEmailSender(notify.EmailConfig{
			Host:     cfg.Email.Host,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
			From:     cfg.Email.From,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("email: %w", err)
		}
		senders[store.ChannelEmail] = emailSender
	}

	if cfg.SMS.Enabled {
		senders[store.ChannelSMS] = notify.NewWebhookSender("sms", notify.WebhookConfig{
			URL:    cfg.SMS.URL,
			APIKey: cfg.SMS.Token,
		}, logger)
	}

	if cfg.Push.Enabled {
		senders[store.ChannelPush] = notify.NewWebhookSender("push", notify.WebhookConfig{
			URL:    cfg.Push.URL,
			APIKey: cfg.Push.Token,
		}, logger)
	}

	return senders, nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
			out:   os.Stdout,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
// Group names become dot-separated attribute key prefixes.
type colorHandler struct {
	mu     sync.Mutex
	out    io.Writer
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05.000") + " "))
	buf.WriteString(levelTag(r.Level))
	buf.WriteString(r.Message)

	// Handler-level attrs carry their group prefix from WithAttrs; record
	// attrs pick up the prefix of the groups open at log time.
	for _, a := range h.attrs {
		appendAttr(&buf, "", a)
	}
	prefix := groupPrefix(h.groups)
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&buf, prefix, a)
		return true
	})

	buf.WriteString("\n")
	_, err := fmt.Fprint(h.out, buf.String())
	return err
}

func levelTag(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return color.New(color.FgRed, color.Bold).Sprint("ERR ")
	case level >= slog.LevelWarn:
		return color.YellowString("WRN ")
	case level >= slog.LevelInfo:
		return color.CyanString("INF ")
	default:
		return color.MagentaString("DBG ")
	}
}

func appendAttr(buf *strings.Builder, prefix string, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	buf.WriteString(color.HiBlackString(" " + prefix + a.Key + "="))
	buf.WriteString(a.Value.String())
}

func groupPrefix(groups []string) string {
	if len(groups) == 0 {
		return ""
	}
	return strings.Join(groups, ".") + "."
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	qualified := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(qualified, h.attrs)
	prefix := groupPrefix(h.groups)
	for _, a := range attrs {
		qualified = append(qualified, slog.Attr{Key: prefix + a.Key, Value: a.Value})
	}
	return &colorHandler{
		out:    h.out,
		level:  h.level,
		attrs:  qualified,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	groups := make([]string, len(h.groups), len(h.groups)+1)
	copy(groups, h.groups)
	groups = append(groups, name)
	return &colorHandler{
		out:    h.out,
		level:  h.level,
		attrs:  h.attrs,
		groups: groups,
	}
}

func runToken(ctx context.Context, args []string) error {
	var userID string
	ttl := 24 * time.Hour

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--user":
			i++
			if i >= len(args) {
				return fmt.Errorf("--user requires a value")
			}
			userID = args[i]
		case "--ttl":
			i++
			if i >= len(args) {
				return fmt.Errorf("--ttl requires a value")
			}
			d, err := time.ParseDuration(args[i])
			if err != nil {
				return fmt.Errorf("parsing --ttl: %w", err)
			}
			ttl = d
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}
	if userID == "" {
		return fmt.Errorf("--user is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	// Fail early for unknown users instead of minting a useless token
	if _, err := st.GetUser(ctx, userID); err != nil {
		return fmt.Errorf("looking up user %s: %w", userID, err)
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), st)
	token, err := verifier.Generate(userID, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Println(token)
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr := cfg.Server.Addr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	url := fmt.Sprintf("http://%s/healthz", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("relay-server configuration setup")
	fmt.Println("================================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDbPath := filepath.Join(getDataPath(), "relay.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	addr := prompt(reader, "Listen address", "localhost:8080")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- Authentication ---")
	jwtSecret := prompt(reader, "JWT secret (empty to generate)", "")
	if jwtSecret == "" {
		jwtSecret = generateSecret()
		fmt.Printf("Generated JWT secret: %s\n", jwtSecret)
	}

	fmt.Println("\n--- Email Notifications ---")
	enableEmail := strings.ToLower(prompt(reader, "Enable email?", "no"))
	emailEnabled := enableEmail == "yes" || enableEmail == "y"

	var smtpHost, smtpFrom string
	if emailEnabled {
		smtpHost = prompt(reader, "SMTP host", "")
		smtpFrom = prompt(reader, "From address", "")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "server:\n  addr: %q\n\n", addr)
	fmt.Fprintf(&b, "database:\n  path: %q\n\n", dbPath)
	fmt.Fprintf(&b, "auth:\n  jwt_secret: %q\n\n", jwtSecret)
	fmt.Fprintf(&b, "chat:\n  typing_interval: \"3s\"\n\n")
	fmt.Fprintf(&b, "notifications:\n")
	fmt.Fprintf(&b, "  email:\n    enabled: %t\n", emailEnabled)
	if emailEnabled {
		fmt.Fprintf(&b, "    host: %q\n    port: 587\n    from: %q\n", smtpHost, smtpFrom)
		fmt.Fprintf(&b, "    password: \"${RELAY_SMTP_PASSWORD}\"\n")
	}
	fmt.Fprintf(&b, "  sms:\n    enabled: false\n")
	fmt.Fprintf(&b, "  push:\n    enabled: false\n\n")
	fmt.Fprintf(&b, "logging:\n  level: \"info\"\n  format: \"text\"\n")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Printf("\nWrote %s\n", outputFile)
	return nil
}

func generateSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}

	input = strings.TrimSpace(input)
	if input == "" {
		return defaultVal
	}
	return input
}
