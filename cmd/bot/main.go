package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"unicode/utf8"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/rs/zerolog"

	"github.com/ad/docs-qa/internal/app"
	"github.com/ad/docs-qa/internal/pipeline"
	"github.com/ad/docs-qa/internal/ratelimit"
)

const (
	maxQuestionRunes = 1000
	maxReplyRunes    = 4000
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	rt, err := app.Bootstrap(ctx, *configPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}
	log := rt.Log

	if rt.Config.Bot.Token == "" {
		log.Fatal().Msg("TELEGRAM_BOT_TOKEN is not set")
	}

	h := &handler{
		answerer: rt.Pipeline,
		limiter:  ratelimit.New(rt.Config.Bot.RateLimitInterval),
		log:      log,
	}

	b, err := bot.New(rt.Config.Bot.Token, bot.WithSkipGetMe(), bot.WithDefaultHandler(h.handle))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create bot")
	}

	me, err := b.GetMe(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to get bot info")
	}
	log.Info().Str("username", me.Username).Int64("id", me.ID).Int("chunks", rt.Index.Count()).Msg("waiting for messages")

	b.Start(ctx)
}

type answerer interface {
	Run(ctx context.Context, question string) (pipeline.State, error)
}

type sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendChatAction(ctx context.Context, params *bot.SendChatActionParams) (bool, error)
}

type handler struct {
	answerer answerer
	limiter  *ratelimit.Limiter
	log      zerolog.Logger
}

func (h *handler) handle(ctx context.Context, b *bot.Bot, update *models.Update) {
	h.reply(ctx, b, update)
}

func (h *handler) reply(ctx context.Context, s sender, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	chatID := update.Message.Chat.ID
	log := h.log.With().Int64("chat_id", chatID).Logger()

	send := func(text string) {
		if _, err := s.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
			log.Error().Err(err).Msg("failed to send message")
		}
	}

	if !h.limiter.Allow(strconv.FormatInt(update.Message.From.ID, 10)) {
		send("Too many requests. Please wait for the previous answer.")
		return
	}

	question := update.Message.Text
	if msg, ok := validateQuestion(question); !ok {
		send(msg)
		return
	}

	_, _ = s.SendChatAction(ctx, &bot.SendChatActionParams{ChatID: chatID, Action: models.ChatActionTyping})

	state, err := h.answerer.Run(ctx, question)
	if err != nil {
		log.Error().Err(err).Msg("pipeline failed")
		send(failureMessage(err))
		return
	}

	send(truncate(state.Answer, maxReplyRunes))
	log.Info().Int("answer_len", len(state.Answer)).Msg("answer sent")
}

func validateQuestion(q string) (string, bool) {
	if strings.TrimSpace(q) == "" {
		return "Please send a question about the documentation.", false
	}
	if utf8.RuneCountInString(q) > maxQuestionRunes {
		return fmt.Sprintf("Please keep questions under %d characters.", maxQuestionRunes), false
	}
	return "", true
}

func failureMessage(err error) string {
	var re *pipeline.RetrievalError
	if errors.As(err, &re) {
		return "Documentation search failed. Please try again later."
	}
	return "Failed to generate an answer. Please try again later."
}

func truncate(text string, maxRunes int) string {
	r := []rune(text)
	if len(r) <= maxRunes {
		return text
	}
	return string(r[:maxRunes])
}
