package cmd

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/mymmrac/telego"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/linescout/internal/config"
)

func doctorCmd() *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor(cmd.Context(), offline)
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "skip the Telegram API check")
	return cmd
}

func runDoctor(ctx context.Context, offline bool) {
	fmt.Println("linescout doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	// Config
	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, using defaults)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		fmt.Printf("  Config problems:\n    %s\n", err)
	}

	// Telegram
	fmt.Println()
	fmt.Println("  Telegram:")
	if cfg.Telegram.Token == "" {
		fmt.Printf("    %-12s (not configured, set %s)\n", "Token:", config.EnvBotToken)
	} else {
		fmt.Printf("    %-12s %s\n", "Token:", config.MaskSecret(cfg.Telegram.Token))
		if !offline {
			checkBot(ctx, cfg.Telegram.Token)
		}
	}
	fmt.Printf("    %-12s %d\n", "Allowlist:", len(cfg.Telegram.AllowFrom))

	// Storage
	fmt.Println()
	fmt.Printf("  Uploads:  %s", cfg.Telegram.UploadDir)
	checkWritableDir(cfg.Telegram.UploadDir)

	// Liveness
	if addr := cfg.ListenAddr(); addr != "" {
		fmt.Printf("  Health:   http://%s/healthz\n", addr)
	} else {
		fmt.Println("  Health:   disabled")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func checkBot(ctx context.Context, token string) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	bot, err := telego.NewBot(token, telego.WithDiscardLogger())
	if err != nil {
		fmt.Printf("    %-12s invalid token format (%s)\n", "Bot:", err)
		return
	}
	me, err := bot.GetMe(ctx)
	if err != nil {
		fmt.Printf("    %-12s %s\n", "Bot:", formatStartupError(err))
		return
	}
	fmt.Printf("    %-12s @%s (id %d)\n", "Bot:", me.Username, me.ID)
}

func checkWritableDir(dir string) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fmt.Printf(" (NOT WRITABLE: %s)\n", err)
		return
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		fmt.Printf(" (NOT WRITABLE: %s)\n", err)
		return
	}
	f.Close()
	os.Remove(f.Name())
	fmt.Println(" (OK)")
}
