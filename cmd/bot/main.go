package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/discord-voice-chat/internal/bot"
	"github.com/discord-voice-chat/internal/config"
	"github.com/discord-voice-chat/internal/logging"
	"github.com/discord-voice-chat/internal/mcp"
	"github.com/discord-voice-chat/internal/voice"
	"github.com/discord-voice-chat/llm"
)

var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	logging.Init()
	defer func() { _ = logging.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logging.FatalExitf("config invalid", "err", err)
	}

	dg, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		logging.FatalExitf("discordgo.New failed", "err", err)
	}
	// message content is privileged; it must be enabled in the developer portal
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
	logging.Infow("using gateway intents", "intents", dg.Identify.Intents)

	pipeline := voice.NewPipeline(cfg.Voice, collaborators(cfg))
	resolver := voice.NewDiscordResolver(dg)
	b := bot.New(bot.NewGateway(dg), pipeline, resolver, cfg.CommandPrefix)
	b.Register(dg)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		pipeline.Run(ctx)
	}()
	voice.StartTempJanitor(ctx, &wg, cfg.Voice.TempDir, cfg.Voice.TempRetention, cfg.Voice.SweepInterval)

	var mcpSrv *mcp.Server
	if cfg.MCPListenAddr != "" {
		mcpSrv = mcp.NewServer(cfg.MCPListenAddr, version, pipeline)
		go func() {
			if err := mcpSrv.ListenAndServe(); err != nil {
				logging.Errorw("mcp server stopped", "err", err)
			}
		}()
	}

	if err := dg.Open(); err != nil {
		logging.FatalExitf("discord session open failed", "err", err)
	}
	logging.Infow("discord session opened", "version", version, "prefix", cfg.CommandPrefix)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logging.Infow("shutdown signal received, closing resources")

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Close()
		pipeline.Close()
		cancel()
		wg.Wait()
		if mcpSrv != nil {
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			if err := mcpSrv.Shutdown(sctx); err != nil {
				logging.Warnw("mcp shutdown error", "err", err)
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(shutdownTimeout):
		logging.Warnw("shutdown timed out", "timeout", shutdownTimeout)
	}

	if err := dg.Close(); err != nil {
		logging.Warnw("discord session close error", "err", err)
	}
	logging.Infow("shutdown complete")
}

// collaborators builds the external clients. Unconfigured services are
// left nil so the pipeline degrades instead of failing to start.
func collaborators(cfg config.Config) voice.Collaborators {
	var c voice.Collaborators
	if w, err := voice.NewWhisperClient(cfg.Whisper); err == nil {
		c.Transcriber = w
	} else if errors.Is(err, voice.ErrNotConfigured) {
		logging.Warnw("speech-to-text not configured; audio will not be transcribed")
	} else {
		logging.FatalExitf("speech-to-text client", "err", err)
	}
	if t, err := voice.NewTTSClient(cfg.TTS); err == nil {
		c.Synthesizer = t
	} else if errors.Is(err, voice.ErrNotConfigured) {
		logging.Warnw("text-to-speech not configured; replies will not be spoken")
	} else {
		logging.FatalExitf("text-to-speech client", "err", err)
	}
	if cfg.LLM.Model == "" {
		logging.Warnw("OPENAI_MODEL not set; the backend default model is used")
	}
	c.Completer = llm.NewClient(cfg.LLM)
	return c
}
