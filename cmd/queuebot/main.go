package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"queuequiz.ai/internal/bot"
	"queuequiz.ai/internal/config"
	"queuequiz.ai/internal/debuglog"
	"queuequiz.ai/internal/notice"
	"queuequiz.ai/internal/persistence/archive"
	"queuequiz.ai/internal/persistence/indexdb"
	"queuequiz.ai/internal/quiz/knowledge"
	"queuequiz.ai/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", config.DefaultPath, "config yaml")
		url        = flag.String("url", "", "world ws url (overrides config)")
		name       = flag.String("name", "", "agent name (overrides config)")
		dataDir    = flag.String("data", "", "data dir (overrides config)")
		lang       = flag.String("lang", "", "notification language: zh|en (overrides config)")
		kbDir      = flag.String("knowledge", "", "knowledge dir (overrides config)")
		history    = flag.Int("history", 0, "print the last N sessions from the index and exit")
		dump       = flag.Bool("dump", false, "print the session archive as JSON lines and exit")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[queuebot] ", log.LstdFlags|log.Lmicroseconds)

	explicit := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "config" {
			explicit = true
		}
	})
	cfg, err := config.Load(*configPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) || explicit {
			logger.Fatalf("load config: %v", err)
		}
		cfg = config.Defaults()
	}
	if err := cfg.ApplyEnv(nil); err != nil {
		logger.Fatalf("%v", err)
	}
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&cfg.Server.URL, *url)
	override(&cfg.Server.AgentName, *name)
	override(&cfg.Data.Dir, *dataDir)
	override(&cfg.Lang, *lang)
	override(&cfg.Quiz.KnowledgeDir, *kbDir)
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("config: %v", err)
	}

	switch {
	case *history > 0:
		if err := printHistory(cfg, *history); err != nil {
			logger.Fatalf("history: %v", err)
		}
		return
	case *dump:
		if err := dumpArchive(cfg); err != nil {
			logger.Fatalf("dump: %v", err)
		}
		return
	}

	zl, closeLog := debuglog.OpenOrStderr(cfg.LogPath(), debuglog.ParseLevel(cfg.Data.LogLevel))
	defer func() { _ = closeLog() }()

	kb, err := loadKnowledge(cfg, zl.Named("kb"))
	if err != nil {
		logger.Fatalf("knowledge: %v", err)
	}
	logger.Printf("knowledge entries=%d digest=%s", kb.Len(), kb.Digest())

	opts := bot.Options{
		Session:    cfg.SessionConfig(),
		Resolver:   kb,
		Channel:    cfg.Server.Channel,
		Lang:       cfg.Language(),
		PlayerName: cfg.Server.AgentName,
		Terminal:   notice.NewTerminal(os.Stdout),
		Log:        zl,
		Console:    logger,
	}

	if cfg.Data.Archive {
		sl := archive.NewSessionLogger(cfg.Data.Dir)
		defer func() { _ = sl.Close() }()
		opts.Archive = sl
	}
	if cfg.Data.Index {
		idx, err := indexdb.OpenSQLite(cfg.IndexPath())
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer func() {
			st := idx.Stats()
			if st.DropSessionTotal+st.DropAnswerTotal+st.WriteErrorTotal > 0 {
				logger.Printf("index: dropped sessions=%d answers=%d write errors=%d", st.DropSessionTotal, st.DropAnswerTotal, st.WriteErrorTotal)
			}
			_ = idx.Close()
		}()
		if err := idx.UpsertKnowledge(context.Background(), kb.Digest(), kb.Entries()); err != nil {
			logger.Printf("index knowledge: %v", err)
		}
		opts.Index = idx
	}

	var client *ws.Client
	opts.Out = bot.SayerFunc(func(channel, text string) error { return client.Say(channel, text) })
	b := bot.New(opts)
	client = ws.NewClient(ws.Config{
		URL:         cfg.Server.URL,
		AgentName:   cfg.Server.AgentName,
		ReadTimeout: cfg.Server.ReadTimeout(),
		MinBackoff:  cfg.Server.ReconnectMin(),
		MaxBackoff:  cfg.Server.ReconnectMax(),
	}, b, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Printf("connecting to %s as %s (arm_on=%s trigger=%v)", cfg.Server.URL, cfg.Server.AgentName, cfg.Quiz.ArmOn, cfg.Quiz.Trigger)
	_ = client.Run(ctx)
	logger.Printf("shutting down")
}

func loadKnowledge(cfg config.Config, zl *zap.Logger) (*knowledge.Base, error) {
	mode, err := knowledge.ParseMode(cfg.Quiz.DefaultMode)
	if err != nil {
		return nil, err
	}
	opts := []knowledge.Option{knowledge.WithDefaultMode(mode), knowledge.WithLogger(zl)}
	if cfg.Quiz.KnowledgeDir == "" {
		return knowledge.Default(opts...)
	}
	return knowledge.Load(cfg.Quiz.KnowledgeDir, opts...)
}

func printHistory(cfg config.Config, n int) error {
	idx, err := indexdb.OpenSQLite(cfg.IndexPath())
	if err != nil {
		return err
	}
	defer idx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rows, err := idx.Sessions(ctx, n)
	if err != nil {
		return err
	}
	l := cfg.Language()
	for _, r := range rows {
		fmt.Printf("%s  %s  %-13s answered=%-3d final=%-4s %s\n",
			r.EndedAt.Local().Format("2006-01-02 15:04:05"),
			r.ID,
			r.Reason,
			r.Answered,
			r.FinalPosition,
			notice.FormatDuration(l, time.Duration(r.DurationMS)*time.Millisecond))
	}
	return nil
}

func dumpArchive(cfg config.Config) error {
	recs, err := archive.ReadAll(cfg.Data.Dir)
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	for _, r := range recs {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return err
}
