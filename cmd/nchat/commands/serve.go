package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/nchat-go/nchat/internal/config"
	"github.com/nchat-go/nchat/internal/log"
	"github.com/nchat-go/nchat/pkg/nchat/message"
	"github.com/nchat-go/nchat/pkg/nchat/profile"
	"github.com/nchat-go/nchat/pkg/nchat/status"
	"github.com/nchat-go/nchat/pkg/nchat/ui"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the interactive terminal chat client",
		Long: `Loads every registered profile, connects each to its protocol backend,
and drops into an interactive REPL for reading and sending messages.

Examples:
  nchat serve
  nchat serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, _, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logger := log.New(log.Options{Format: cfg.Logging.Format, Debug: verbose || cfg.Logging.Level == "debug"})

	profileDir, err := config.ResolveProfileDir(cfg)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	store, err := profile.Open(profileDir, false)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	ids, err := store.ListProfiles()
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	if len(ids) == 0 {
		return fmt.Errorf("no profiles registered yet. Run `nchat setup` first")
	}

	facade := ui.New(logger)

	var locks []*profile.ScopedLock
	defer func() {
		for _, l := range locks {
			l.Release()
		}
	}()

	for _, id := range ids {
		dir, err := store.ProfileDir(id)
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}

		lock, err := profile.AcquireDirLock(dir)
		if err != nil {
			return fmt.Errorf("serve: profile %s: %w", id, err)
		}
		locks = append(locks, lock)

		protocolName := strings.SplitN(string(id), "_", 2)[0]
		a, err := buildAdapter(cfg, protocolName, id, "", logger)
		if err != nil {
			logger.Warn("skipping profile with unknown protocol", "profile", string(id), "error", err)
			continue
		}

		if !a.LoadProfile(store.ProfilesDir(), id) {
			logger.Warn("failed to load profile", "profile", string(id))
			continue
		}
		if err := facade.AddProtocol(a, dir); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		if !a.Login() {
			logger.Warn("login rejected", "profile", string(id))
		}
	}

	if len(facade.Profiles()) == 0 {
		return fmt.Errorf("no profile could be loaded")
	}

	return runREPL(facade, logger)
}

func runREPL(facade *ui.Facade, logger *slog.Logger) error {
	facade.SetNotificationHandler(func(n message.Notification) {
		printNotification(facade, n)
	})

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "\033[36mnchat>\033[0m ",
		HistoryFile:     historyFilePath(),
		HistoryLimit:    1000,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("serve: readline: %w", err)
	}
	defer rl.Close()

	fmt.Println()
	fmt.Println("  nchat — terminal chat client")
	fmt.Println("  ─────────────────────────────")
	fmt.Println("  /profiles             list loaded profiles")
	fmt.Println("  /profile <id>         switch active profile")
	fmt.Println("  /chat <chatId>        switch active chat")
	fmt.Println("  /history [n]          fetch the last n messages of the active chat")
	fmt.Println("  /quit                 exit")
	fmt.Println("  anything else is sent as a message to the active chat")
	fmt.Println()

	defer facade.Shutdown()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				continue
			}
			if err == io.EOF {
				return nil
			}
			return err
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		fields := strings.Fields(input)
		switch fields[0] {
		case "/quit", "/exit":
			return nil

		case "/profiles":
			for _, id := range facade.Profiles() {
				reg := facade.Status(id)
				flags := status.Offline
				if reg != nil {
					flags = reg.Get()
				}
				marker := " "
				if id == facade.CurrentProfile() {
					marker = "*"
				}
				fmt.Printf("  %s %-30s %s\n", marker, id, flags)
			}

		case "/profile":
			if len(fields) < 2 {
				fmt.Println("  usage: /profile <id>")
				continue
			}
			facade.SetCurrentProfile(message.ProfileId(fields[1]))

		case "/chat":
			if len(fields) < 2 {
				fmt.Println("  usage: /chat <chatId>")
				continue
			}
			facade.SetCurrentChat(fields[1])

		case "/history":
			limit := 50
			fmt.Sscanf(strings.Join(fields[1:], ""), "%d", &limit)
			facade.SendRequest(message.GetMessages{
				ProfileId: facade.CurrentProfile(),
				ChatId:    facade.CurrentChat(),
				Limit:     limit,
			})

		default:
			if facade.CurrentChat() == "" {
				fmt.Println("  no active chat: /chat <chatId> first")
				continue
			}
			facade.SendRequest(message.SendMessage{
				ProfileId:   facade.CurrentProfile(),
				ChatId:      facade.CurrentChat(),
				ChatMessage: message.ChatMessage{Text: input, IsOutgoing: true},
			})
		}
	}
}

func printNotification(facade *ui.Facade, n message.Notification) {
	switch v := n.(type) {
	case message.NewMessages:
		for _, m := range v.Messages {
			who := m.SenderId
			if m.IsOutgoing {
				who = "me"
			}
			fmt.Printf("\n[%s/%s] %s: %s\n", v.ProfileId, v.ChatId, who, m.Text)
		}
	case message.Connect:
		if v.Success {
			fmt.Printf("\n[%s] connected\n", v.ProfileId)
		} else {
			fmt.Printf("\n[%s] connection failed\n", v.ProfileId)
		}
	case message.SendMessageResult:
		if !v.Success {
			fmt.Printf("\n[%s/%s] send failed\n", v.ProfileId, v.ChatId)
		}
	}
}

func historyFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	dir := filepath.Join(home, ".config", "nchat")
	_ = os.MkdirAll(dir, 0o700)
	return filepath.Join(dir, "history")
}
