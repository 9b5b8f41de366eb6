package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/cobra"

	"github.com/abhisek/doctorai/internal/bot"
	"github.com/abhisek/doctorai/internal/consult"
)

var botCmd = &cobra.Command{
	Use:   "bot",
	Short: "Run the Telegram bot",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Bot.Token == "" {
			return errors.New("TELEGRAM_BOT_TOKEN is not set")
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		svc, st, err := newService(ctx, cmd)
		if err != nil {
			return err
		}
		defer closeStore(st)

		b, err := newBot(svc)
		if err != nil {
			return err
		}
		return b.Run(ctx)
	},
}

func newBot(svc *consult.Service) (*bot.Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Bot.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	return bot.New(api, svc, bot.Config{
		WebAppURL:    cfg.Bot.WebAppURL,
		HistoryTurns: cfg.Bot.HistoryTurns,
		PollTimeout:  cfg.Bot.PollTimeout,
	}, logger), nil
}
