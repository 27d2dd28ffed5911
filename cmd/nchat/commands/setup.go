package commands

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nchat-go/nchat/internal/config"
	"github.com/nchat-go/nchat/internal/log"
	"github.com/nchat-go/nchat/internal/secrets"
	"github.com/nchat-go/nchat/pkg/nchat/adapter"
	"github.com/nchat-go/nchat/pkg/nchat/adapter/discord"
	"github.com/nchat-go/nchat/pkg/nchat/adapter/dummy"
	"github.com/nchat-go/nchat/pkg/nchat/adapter/telegram"
	"github.com/nchat-go/nchat/pkg/nchat/adapter/whatsapp"
	"github.com/nchat-go/nchat/pkg/nchat/message"
	"github.com/nchat-go/nchat/pkg/nchat/profile"
)

func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Register a new protocol profile (QR scan / phone verification)",
		Long: `Walks through one-time registration for a protocol: scanning a QR code
for WhatsApp, or verifying a phone number for Telegram. The dummy protocol
needs no registration and is mainly useful for trying nchat out.`,
		RunE: runSetup,
	}
}

func runSetup(cmd *cobra.Command, _ []string) error {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logger := log.New(log.Options{Format: cfg.Logging.Format, Debug: verbose || cfg.Logging.Level == "debug"})

	profileDir, err := config.ResolveProfileDir(cfg)
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}
	store, err := profile.Open(profileDir, true)
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}

	var protocolName, handle, phone string
	if err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Protocol").
				Options(
					huh.NewOption("WhatsApp", "whatsapp"),
					huh.NewOption("Telegram", "telegram"),
					huh.NewOption("Discord", "discord"),
					huh.NewOption("Dummy (offline, for trying nchat out)", "dummy"),
				).
				Value(&protocolName),
			huh.NewInput().
				Title("Account handle").
				Description("A short name for this account, e.g. your first name").
				Value(&handle),
		),
	).WithTheme(huh.ThemeDracula()).Run(); err != nil {
		return err
	}
	if handle == "" {
		handle = "default"
	}

	if protocolName == "telegram" {
		if err := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Phone number").
					Description("International format, e.g. +15551234567").
					Value(&phone),
			),
		).WithTheme(huh.ThemeDracula()).Run(); err != nil {
			return err
		}
	}

	id := message.ProfileId(protocolName + "_" + handle)
	if _, err := store.ProfileDir(id); err != nil {
		return fmt.Errorf("setup: %w", err)
	}

	a, err := buildAdapter(cfg, protocolName, id, phone, logger)
	if err != nil {
		return err
	}

	assignedId, ok := a.SetupProfile(store.ProfilesDir())
	if !ok {
		return fmt.Errorf("setup: registration failed for %s", id)
	}

	done := make(chan message.Notification, 1)
	a.SetMessageHandler(func(n message.Notification) {
		if c, ok := n.(message.Connect); ok {
			select {
			case done <- c:
			default:
			}
		}
	})

	if !a.Login() {
		return fmt.Errorf("setup: login rejected for %s", assignedId)
	}

	result := <-done
	a.CloseProfile()

	if !result.Succeeded() {
		return fmt.Errorf("setup: login failed for %s", assignedId)
	}

	fmt.Printf("Profile %q is ready. Run `nchat serve` to start chatting.\n", assignedId)
	return nil
}

// buildAdapter constructs the concrete adapter for protocolName, resolving
// Telegram's app_id/app_hash through the keyring -> env -> config chain,
// prompting interactively and persisting to the keyring if none is found.
func buildAdapter(cfg *config.Config, protocolName string, id message.ProfileId, phone string, logger *slog.Logger) (adapter.Adapter, error) {
	switch protocolName {
	case "dummy":
		return dummy.New(id, logger), nil
	case "whatsapp":
		return whatsapp.New(id, cfg.Protocols.WhatsApp.AutoRead, cfg.Protocols.WhatsApp.SendTyping, logger), nil
	case "telegram":
		appID, appHash, ok := secrets.ResolveTelegramCredentials(cfg.Protocols.Telegram.AppID, cfg.Protocols.Telegram.AppHash)
		if !ok {
			var err error
			appID, appHash, err = promptTelegramCredentials()
			if err != nil {
				return nil, err
			}
		}
		creds := telegram.Credentials{AppID: appID, AppHash: appHash}
		return telegram.New(id, phone, creds, logger), nil
	case "discord":
		token, ok := secrets.ResolveDiscordToken(cfg.Protocols.Discord.Token)
		if !ok {
			var err error
			token, err = promptDiscordToken()
			if err != nil {
				return nil, err
			}
		}
		return discord.New(id, discord.Credentials{Token: token}, logger), nil
	default:
		return nil, fmt.Errorf("setup: unknown protocol %q", protocolName)
	}
}

func promptTelegramCredentials() (int, string, error) {
	var appIDStr, appHash string
	if err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Telegram app_id").
				Description("From https://my.telegram.org/apps").
				Value(&appIDStr),
			huh.NewInput().
				Title("Telegram app_hash").
				Value(&appHash),
		),
	).WithTheme(huh.ThemeDracula()).Run(); err != nil {
		return 0, "", err
	}
	appID, err := strconv.Atoi(appIDStr)
	if err != nil {
		return 0, "", fmt.Errorf("setup: app_id must be numeric: %w", err)
	}
	if err := secrets.StoreTelegramCredentials(appID, appHash); err != nil {
		return 0, "", err
	}
	return appID, appHash, nil
}

func promptDiscordToken() (string, error) {
	var token string
	if err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Discord bot token").
				Description("From the Bot tab of your application at https://discord.com/developers/applications").
				Value(&token),
		),
	).WithTheme(huh.ThemeDracula()).Run(); err != nil {
		return "", err
	}
	if err := secrets.StoreDiscordToken(token); err != nil {
		return "", err
	}
	return token, nil
}
