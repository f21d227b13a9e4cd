package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/linescout/internal/config"
)

func onboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Interactive setup wizard: bot token, uploads, queue mode, health port",
		Run: func(cmd *cobra.Command, args []string) {
			runOnboard(cmd.Context())
		},
	}
}

func runOnboard(ctx context.Context) {
	fmt.Println("linescout setup")
	fmt.Println()

	cfgPath := resolveConfigPath()

	cfg := config.Default()
	if _, err := os.Stat(cfgPath); err == nil {
		fmt.Printf("Found existing config at %s\n", cfgPath)
		useExisting, err := promptConfirm("Use existing config as base?", true)
		if err != nil {
			fmt.Println("Cancelled.")
			return
		}
		if useExisting {
			loaded, err := config.Load(cfgPath)
			if err != nil {
				fmt.Printf("Warning: could not load existing config: %v\n", err)
			} else {
				cfg = loaded
			}
		}
	}

	// ── Bot token ──
	token := cfg.Telegram.Token
	if token != "" {
		keep, err := promptConfirm(fmt.Sprintf("Keep bot token %s?", config.MaskSecret(token)), true)
		if err != nil {
			fmt.Println("Cancelled.")
			return
		}
		if !keep {
			token = ""
		}
	}
	for token == "" {
		v, err := promptSecret("Telegram bot token", "From @BotFather, looks like 123456:ABC-DEF...")
		if err != nil {
			fmt.Println("Cancelled.")
			return
		}
		if username, err := verifyBotToken(ctx, v); err != nil {
			fmt.Printf("  %s\n", formatStartupError(err))
			retry, perr := promptConfirm("Enter a different token?", true)
			if perr != nil {
				fmt.Println("Cancelled.")
				return
			}
			if retry {
				continue
			}
		} else {
			fmt.Printf("  Connected as @%s\n", username)
		}
		token = v
	}
	cfg.Telegram.Token = token

	// ── Access ──
	allow, err := promptString("Allowed users",
		"Comma-separated Telegram user IDs or @usernames. Leave empty to allow everyone.",
		strings.Join(cfg.Telegram.AllowFrom, ","))
	if err != nil {
		fmt.Println("Cancelled.")
		return
	}
	cfg.Telegram.AllowFrom = config.NormalizeAllowFrom(strings.Split(allow, ","))

	// ── Uploads ──
	dir, err := promptString("Upload directory", "Where files sent to the bot are stored", cfg.Telegram.UploadDir)
	if err != nil {
		fmt.Println("Cancelled.")
		return
	}
	cfg.Telegram.UploadDir = dir

	// ── Queue mode ──
	modes := []SelectOption[string]{
		{"interrupt: a new request cancels the running search", "interrupt"},
		{"queue: requests wait their turn", "queue"},
		{"followup: only the latest waiting request runs next", "followup"},
	}
	defaultIdx := 0
	for i, m := range modes {
		if m.Value == cfg.Gateway.QueueMode {
			defaultIdx = i
		}
	}
	mode, err := promptSelect("Queue mode", modes, defaultIdx)
	if err != nil {
		fmt.Println("Cancelled.")
		return
	}
	cfg.Gateway.QueueMode = mode

	// ── Health port ──
	port, err := promptPort("Health check port", "0 disables the HTTP liveness endpoint", cfg.HTTP.Port)
	if err != nil {
		fmt.Println("Cancelled.")
		return
	}
	cfg.HTTP.Port = port

	if err := cfg.Validate(); err != nil {
		fmt.Printf("Config is not valid: %v\n", err)
		os.Exit(1)
	}

	// The token goes to .env.local, never into the config file.
	if err := config.Save(cfgPath, cfg); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config saved to %s (no secrets)\n", cfgPath)

	envPath := filepath.Join(filepath.Dir(cfgPath), ".env.local")
	if err := writeEnvFile(envPath, map[string]string{config.EnvBotToken: cfg.Telegram.Token}); err != nil {
		fmt.Printf("Error saving secrets: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Secrets saved to %s\n", envPath)

	fmt.Println()
	fmt.Println("Setup complete.")
	fmt.Printf("  Token:     %s\n", config.MaskSecret(cfg.Telegram.Token))
	fmt.Printf("  Uploads:   %s\n", cfg.Telegram.UploadDir)
	fmt.Printf("  Queue:     %s\n", cfg.Gateway.QueueMode)
	if addr := cfg.ListenAddr(); addr != "" {
		fmt.Printf("  Health:    http://%s/healthz\n", addr)
	} else {
		fmt.Println("  Health:    disabled")
	}
	if len(cfg.Telegram.AllowFrom) > 0 {
		fmt.Printf("  Allowed:   %s\n", strings.Join(cfg.Telegram.AllowFrom, ", "))
	} else {
		fmt.Println("  Allowed:   everyone")
	}
	fmt.Println()
	fmt.Println("To start the bot:")
	fmt.Println()
	fmt.Printf("  source %s && ./linescout\n", envPath)
	fmt.Println()
}

func verifyBotToken(ctx context.Context, token string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	bot, err := telego.NewBot(token, telego.WithDiscardLogger())
	if err != nil {
		return "", err
	}
	me, err := bot.GetMe(ctx)
	if err != nil {
		return "", err
	}
	return me.Username, nil
}

// writeEnvFile merges vars into an export-style env file, keeping any
// unrelated lines already present.
func writeEnvFile(path string, vars map[string]string) error {
	var lines []string
	if data, err := os.ReadFile(path); err == nil {
		for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
			key := strings.TrimPrefix(strings.TrimSpace(line), "export ")
			if i := strings.Index(key, "="); i > 0 {
				if _, ok := vars[key[:i]]; ok {
					continue
				}
			}
			if line != "" {
				lines = append(lines, line)
			}
		}
	}
	for k, v := range vars {
		if v == "" {
			continue
		}
		lines = append(lines, fmt.Sprintf("export %s=%s", k, strconv.Quote(v)))
	}
	return os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600)
}
