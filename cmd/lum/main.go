package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/stellarlinkco/lum/internal/bus"
	"github.com/stellarlinkco/lum/internal/config"
	"github.com/stellarlinkco/lum/internal/gateway"
	"github.com/stellarlinkco/lum/internal/store"
)

const errNoAPIKey = "API key not set. Run 'lum onboard' or set LUM_API_KEY / OPENAI_API_KEY"

// DepsFactory builds the engine dependencies (allows mocking in tests)
type DepsFactory func(ctx context.Context, cfg *config.Config) (gateway.Deps, io.Closer, error)

// ChatOptions for running the local chat with custom dependencies
type ChatOptions struct {
	DepsFactory DepsFactory
	Stdin       io.Reader
	Stdout      io.Writer
	Stderr      io.Writer
}

var rootCmd = &cobra.Command{
	Use:   "lum",
	Short: "lum - a laid-back chat agent for discord and telegram",
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the agent locally in single message or REPL mode",
	RunE:  runChat,
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the gateway (channels + maintenance schedule)",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and data directory",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show lum status",
	RunE:  runStatus,
}

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List channels the agent may speak in",
	RunE:  runChannels,
}

var channelsAddCmd = &cobra.Command{
	Use:   "add <platform:chat-id> <name>",
	Short: "Register a channel without sending the set-channel command",
	Args:  cobra.ExactArgs(2),
	RunE:  runChannelsAdd,
}

var messageFlag string

func init() {
	chatCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to send")
	channelsCmd.AddCommand(channelsAddCmd)
	rootCmd.AddCommand(chatCmd, gatewayCmd, onboardCmd, statusCmd, channelsCmd)
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runChat is the command handler that uses default options
func runChat(cmd *cobra.Command, args []string) error {
	return runChatWithOptions(ChatOptions{})
}

// localMessage wraps text typed at the terminal as a direct message.
func localMessage(content string, seq int) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:    "cli",
		SenderID:   "local",
		SenderName: "local",
		ChatID:     "local",
		ChatName:   "DM",
		MessageID:  fmt.Sprintf("cli-%d", seq),
		Content:    content,
		Direct:     true,
		Timestamp:  time.Now(),
	}
}

// runChatWithOptions runs the chat with injectable dependencies for testing
func runChatWithOptions(opts ChatOptions) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	factory := opts.DepsFactory
	if factory == nil {
		if cfg.Provider.APIKey == "" {
			return errors.New(errNoAPIKey)
		}
		factory = gateway.OpenDeps
	}

	ctx := context.Background()
	deps, closer, err := factory(ctx, cfg)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}
	engine := gateway.NewEngine(cfg, deps)

	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	// Single message mode
	if messageFlag != "" {
		if reply, ok := engine.Handle(ctx, localMessage(messageFlag, 0)); ok {
			fmt.Fprintln(stdout, reply)
		}
		return nil
	}

	// REPL mode
	fmt.Fprintf(stdout, "%s chat (type 'exit' to quit)\n", cfg.Agent.Name)
	scanner := bufio.NewScanner(stdin)
	for seq := 1; ; seq++ {
		fmt.Fprint(stdout, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		reply, ok := engine.Handle(ctx, localMessage(input, seq))
		if !ok {
			fmt.Fprintln(stderr, "(no reply)")
			continue
		}
		fmt.Fprintln(stdout, reply)
	}
	return scanner.Err()
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Provider.APIKey == "" {
		return errors.New(errNoAPIKey)
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	cfgPath := config.ConfigPath()

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return err
		}
		fmt.Printf("Created config: %s\n", cfgPath)
	} else {
		fmt.Printf("Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	st, err := store.Open(context.Background(), cfg.DBPath())
	if err != nil {
		return err
	}
	_ = st.Close()
	fmt.Printf("Database ready: %s\n", cfg.DBPath())

	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Edit %s to set your API key and discord token\n", cfgPath)
	fmt.Println("  2. Or set LUM_API_KEY and DISCORD_TOKEN (a .env file works too)")
	fmt.Println("  3. Run 'lum chat -m \"hey lum\"' to test")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Config: error (%v)\n", err)
		return nil
	}

	fmt.Printf("Config: %s\n", config.ConfigPath())
	fmt.Printf("Agent: %s\n", cfg.Agent.Name)
	fmt.Printf("Model: %s\n", cfg.Agent.Model)
	fmt.Printf("Provider: %s\n", providerDisplay(cfg.Provider.Type))
	fmt.Printf("API Key: %s\n", maskKey(cfg.Provider.APIKey))
	fmt.Printf("Image Key: %s\n", maskKey(cfg.ImageAPIKey()))
	fmt.Printf("Giphy Key: %s\n", maskKey(cfg.Giphy.APIKey))
	fmt.Printf("Discord: enabled=%v\n", cfg.Channels.Discord.Enabled)
	fmt.Printf("Telegram: enabled=%v\n", cfg.Channels.Telegram.Enabled)
	fmt.Printf("WebUI: enabled=%v addr=%s\n", cfg.Channels.WebUI.Enabled, cfg.Channels.WebUI.Addr)

	if _, err := os.Stat(cfg.DBPath()); err != nil {
		fmt.Println("Store: not found (run 'lum onboard')")
		return nil
	}
	st, err := store.Open(context.Background(), cfg.DBPath())
	if err != nil {
		fmt.Printf("Store: error (%v)\n", err)
		return nil
	}
	defer st.Close()
	stats, err := st.Stats(context.Background())
	if err != nil {
		fmt.Printf("Store: error (%v)\n", err)
		return nil
	}
	fmt.Printf("Store: preferences=%d facts=%d turns=%d channels=%d\n",
		stats.Preferences, stats.Facts, stats.Turns, stats.Channels)
	return nil
}

func runChannels(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	channels, err := st.ListChannels(context.Background())
	if err != nil {
		return err
	}
	if len(channels) == 0 {
		fmt.Println("No channels registered.")
		return nil
	}
	for _, ch := range channels {
		fmt.Printf("%s\t%s\t%s\n", ch.ID, ch.Name, ch.CreatedAt)
	}
	return nil
}

func runChannelsAdd(cmd *cobra.Command, args []string) error {
	id, name := strings.TrimSpace(args[0]), strings.TrimSpace(args[1])
	if !strings.Contains(id, ":") {
		return fmt.Errorf("channel id %q must look like <platform>:<chat-id>, e.g. discord:1234", id)
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.AddChannel(context.Background(), id, name); err != nil {
		return err
	}
	fmt.Printf("Registered %s (%s)\n", id, name)
	return nil
}

func openStore() (*store.Store, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return store.Open(context.Background(), cfg.DBPath())
}

func providerDisplay(t string) string {
	if t == "" {
		return config.ProviderOpenAI + " (default)"
	}
	return t
}

func maskKey(key string) string {
	switch {
	case key == "":
		return "not set"
	case len(key) > 8:
		return key[:4] + "..." + key[len(key)-4:]
	default:
		return "set"
	}
}
