package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/YuriyZhabov/stellar-voice-agent/internal/config"
)

var version = "dev"

func main() {
	var cfg *config.Config

	rootCmd := &cobra.Command{
		Use:   "voice-agent",
		Short: "Voice agent call orchestration core",
		Long: `voice-agent runs the call orchestration core of the voice assistant:
admission control, per-call conversation engines, the STT/LLM/TTS turn
pipeline, and the media-server connection pool.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg = config.FromEnv()
			return nil
		},
	}

	rootCmd.AddCommand(
		serveCmd(func() *config.Config { return cfg }),
		configCmd(func() *config.Config { return cfg }),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func configCmd(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := cfg()
			fmt.Println("Media server:")
			fmt.Printf("  URL:        %s\n", c.MediaServer.URL)
			fmt.Printf("  API key:    %s\n", maskSecret(c.MediaServer.APIKey))
			fmt.Println()
			fmt.Println("Pool:")
			fmt.Printf("  Size:       %d (ceiling %d)\n", c.Pool.PoolSize, c.Pool.EffectiveMaxPoolSize())
			fmt.Printf("  Probe:      every %s\n", c.Pool.HealthCheckInterval)
			fmt.Println()
			fmt.Println("LLM:")
			fmt.Printf("  URL:        %s\n", c.LLM.URL)
			fmt.Printf("  Model:      %s\n", c.LLM.Model)
			fmt.Printf("  Context:    %d tokens\n", c.LLM.MaxContextTokens)
			fmt.Println()
			fmt.Println("STT:")
			fmt.Printf("  URL:        %s\n", c.STT.URL)
			fmt.Printf("  Model:      %s\n", c.STT.Model)
			fmt.Printf("  Confidence: %.2f\n", c.STT.ConfidenceThreshold)
			fmt.Println()
			fmt.Println("TTS:")
			fmt.Printf("  URL:        %s\n", c.TTS.URL)
			fmt.Printf("  Voice:      %s\n", c.TTS.DefaultVoiceID)
			fmt.Println()
			fmt.Println("Orchestrator:")
			fmt.Printf("  Max calls:  %d\n", c.Orchestrator.MaxConcurrentCalls)
			fmt.Printf("  Turn budget: %s\n", c.Orchestrator.ResponseTimeout)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("voice-agent", version)
		},
	}
}

func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + "****" + s[len(s)-2:]
}
