// ABOUTME: Entry point for funnel-gateway, the sales funnel tool gateway
// ABOUTME: Serves the conversation API, runs capability endpoints and queries a running gateway

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/2389/funnel-gateway/internal/config"
	"github.com/2389/funnel-gateway/internal/conversation"
	"github.com/2389/funnel-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  __                         _
 / _|_   _ _ __  _ __   ___| |      __ _  __ _| |_ _____      ____ _ _   _
| |_| | | | '_ \| '_ \ / _ \ |____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
|  _| |_| | | | | | | |  __/ |____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
|_|  \__,_|_| |_|_| |_|\___|_|     \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                                    |___/                             |___/
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: funnel-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve         Start the gateway server")
		fmt.Println("  capabilities  Serve every capability on its own port")
		fmt.Println("  health        Check gateway health")
		fmt.Println("  metrics       Show funnel metrics of a running gateway")
		fmt.Println("  init          Write a default config file")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "capabilities":
		err = runCapabilities(ctx)
	case "health":
		err = runHealth(ctx)
	case "metrics":
		err = runMetrics(ctx)
	case "init":
		err = runInit()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, string, error) {
	configPath := config.Path()
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, configPath, fmt.Errorf("loading config: %w", err)
	}
	return cfg, configPath, nil
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s", configPath)
	if _, err := os.Stat(configPath); errors.Is(err, fs.ErrNotExist) {
		gray.Print(" (not found, using defaults)")
	}
	fmt.Println()
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Ledger:    %s\n", cfg.Database.Path)
	if len(cfg.Capabilities.Targets) > 0 {
		green.Print("    ▶ ")
		fmt.Printf("Targets:   %d remote capabilities", len(cfg.Capabilities.Targets))
		if cfg.Capabilities.Remote {
			yellow.Print(" [remote only]")
		}
		fmt.Println()
	}
	if cfg.Capabilities.LatencyMode {
		green.Print("    ▶ ")
		fmt.Print("Latency:   ")
		yellow.Println("simulated")
	}
	if cfg.MCP.Enabled {
		green.Print("    ▶ ")
		fmt.Print("MCP:       ")
		cyan.Println(cfg.GatewayURL() + "/mcp/sse")
	}

	fmt.Println()

	logger.Info("starting funnel-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	gw, err := gateway.New(cfg, logger, gateway.WithVersion(version))
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runCapabilities(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger := setupLogger(cfg.Logging)

	group := gateway.CapabilityEndpoints(cfg, logger)
	addrs := cfg.EndpointAddrs()

	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	for _, name := range group.Names() {
		green.Print("    ▶ ")
		fmt.Printf("%-15s ", name)
		cyan.Printf("http://%s\n", addrs[name])
	}
	fmt.Println()

	return group.Run(ctx)
}

// getJSON fetches path from the configured gateway and decodes the body.
func getJSON(ctx context.Context, cfg *config.Config, path string, v any) error {
	url := cfg.GatewayURL() + path
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	var health gateway.HealthResponse
	if err := getJSON(ctx, cfg, "/health", &health); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	fmt.Printf("%s (version %s, %d active conversations, up %s)\n",
		health.Status, health.Version, health.ActiveConversations, health.Uptime)
	return nil
}

func runMetrics(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	var m conversation.MetricsView
	if err := getJSON(ctx, cfg, "/metrics", &m); err != nil {
		return err
	}

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)

	cyan.Println("  Funnel")
	cyan.Println("  ------")
	fmt.Printf("  Conversations:   %d (%d active, %d completed, %d evicted)\n",
		m.TotalConversations, m.ActiveConversations, m.CompletedConversations, m.EvictedConversations)
	fmt.Printf("  Closed sales:    %d (%.1f%%)\n", m.ClosedSales, m.SalesConversionRate)
	fmt.Printf("  Abandonment:     %.1f%%\n", m.AbandonmentRate)
	fmt.Println()

	cyan.Println("  Stages")
	cyan.Println("  ------")
	for _, stage := range conversation.Stages {
		fmt.Printf("  %-14s %6d", stage, m.ConversationsByStage[stage])
		if avg, ok := m.AverageTimeByStage[stage]; ok {
			gray.Printf("  avg %s", time.Duration(avg*float64(time.Second)).Round(time.Second))
		}
		if n := m.AbandonmentPoints[stage]; n > 0 {
			gray.Printf("  abandoned %d", n)
		}
		fmt.Println()
	}

	if len(m.StageTransitions) > 0 {
		fmt.Println()
		cyan.Println("  Transitions")
		cyan.Println("  -----------")
		keys := make([]string, 0, len(m.StageTransitions))
		for k := range m.StageTransitions {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %-30s %d\n", k, m.StageTransitions[k])
		}
	}
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	outputFile := prompt(reader, "Config file path", config.Path())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := strings.ToLower(prompt(reader, "File exists. Overwrite?", "no"))
		if overwrite != "yes" && overwrite != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(config.DefaultYAML), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Config written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Println("  funnel-gateway serve")
	return nil
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
