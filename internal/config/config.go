// Package config loads configs/queuebot.yaml and applies QUEUEBOT_*
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"queuequiz.ai/internal/notice"
	"queuequiz.ai/internal/quiz/knowledge"
	"queuequiz.ai/internal/session"
)

// DefaultPath is read when -config is not given.
const DefaultPath = "configs/queuebot.yaml"

type Config struct {
	Server Server `yaml:"server"`
	Quiz   Quiz   `yaml:"quiz"`
	Data   Data   `yaml:"data"`
	Lang   string `yaml:"lang"`
}

type Server struct {
	URL       string `yaml:"url"`
	AgentName string `yaml:"agent_name"`
	Channel   string `yaml:"channel"`
	// Welcome notice only when the server address contains this.
	WelcomeFilter  string `yaml:"welcome_filter"`
	ReconnectMinMs int    `yaml:"reconnect_min_ms"`
	ReconnectMaxMs int    `yaml:"reconnect_max_ms"`
	ReadTimeoutMs  int    `yaml:"read_timeout_ms"`
}

type Quiz struct {
	Trigger        []int  `yaml:"trigger"`
	Marker         string `yaml:"marker"`
	ArmOn          string `yaml:"arm_on"`
	Threshold      int    `yaml:"threshold"`
	PollIntervalMs int    `yaml:"poll_interval_ms"`
	KnowledgeDir   string `yaml:"knowledge_dir"`
	DefaultMode    string `yaml:"default_mode"`
}

type Data struct {
	Dir      string `yaml:"dir"`
	LogFile  string `yaml:"log_file"`
	LogLevel string `yaml:"log_level"`
	Archive  bool   `yaml:"archive"`
	Index    bool   `yaml:"index"`
}

// Overrides are the environment variables that win over the YAML file.
type Overrides struct {
	URL      string `env:"QUEUEBOT_URL"`
	Name     string `env:"QUEUEBOT_NAME"`
	DataDir  string `env:"QUEUEBOT_DATA_DIR"`
	Lang     string `env:"QUEUEBOT_LANG"`
	LogLevel string `env:"QUEUEBOT_LOG_LEVEL"`
}

func Defaults() Config {
	t := session.DefaultTrigger
	return Config{
		Server: Server{
			URL:            "ws://localhost:8080/v1/ws",
			AgentName:      "queuebot",
			Channel:        "LOCAL",
			ReconnectMinMs: 1000,
			ReconnectMaxMs: 30000,
			ReadTimeoutMs:  60000,
		},
		Quiz: Quiz{
			Trigger:        []int{t[0], t[1], t[2]},
			Marker:         session.DefaultMarker,
			ArmOn:          string(session.ArmOnPositionMessage),
			Threshold:      session.DefaultThreshold,
			PollIntervalMs: int(session.DefaultPollInterval / time.Millisecond),
			DefaultMode:    string(knowledge.ModeKeyword),
		},
		Data: Data{
			Dir:      "data",
			LogFile:  "queuebot.log",
			LogLevel: "info",
			Archive:  true,
			Index:    true,
		},
		Lang: string(notice.LangZH),
	}
}

// Load overlays the YAML file at path on Defaults.
func Load(path string) (Config, error) {
	c := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return c, nil
}

// ApplyEnv overlays non-empty QUEUEBOT_* variables. A nil environ reads the
// process environment.
func (c *Config) ApplyEnv(environ map[string]string) error {
	var (
		o   Overrides
		err error
	)
	if environ == nil {
		o, err = env.ParseAs[Overrides]()
	} else {
		o, err = env.ParseAsWithOptions[Overrides](env.Options{Environment: environ})
	}
	if err != nil {
		return fmt.Errorf("parsing environment: %w", err)
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Server.URL, o.URL)
	set(&c.Server.AgentName, o.Name)
	set(&c.Data.Dir, o.DataDir)
	set(&c.Lang, o.Lang)
	set(&c.Data.LogLevel, o.LogLevel)
	return nil
}

func (c Config) Validate() error {
	if !strings.HasPrefix(c.Server.URL, "ws://") && !strings.HasPrefix(c.Server.URL, "wss://") {
		return fmt.Errorf("server.url must be ws:// or wss://, got %q", c.Server.URL)
	}
	if strings.TrimSpace(c.Server.AgentName) == "" {
		return fmt.Errorf("server.agent_name is empty")
	}
	switch c.Server.Channel {
	case "LOCAL", "CITY", "MARKET":
	default:
		return fmt.Errorf("server.channel %q (want LOCAL, CITY or MARKET)", c.Server.Channel)
	}
	if len(c.Quiz.Trigger) != 3 {
		return fmt.Errorf("quiz.trigger needs 3 coordinates, got %d", len(c.Quiz.Trigger))
	}
	if c.Quiz.Marker == "" {
		return fmt.Errorf("quiz.marker is empty")
	}
	switch session.ArmTrigger(c.Quiz.ArmOn) {
	case session.ArmOnPositionMessage, session.ArmOnLocation:
	default:
		return fmt.Errorf("quiz.arm_on %q (want %s or %s)", c.Quiz.ArmOn, session.ArmOnPositionMessage, session.ArmOnLocation)
	}
	if c.Quiz.Threshold < 0 {
		return fmt.Errorf("quiz.threshold must be >= 0")
	}
	if c.Quiz.PollIntervalMs <= 0 {
		return fmt.Errorf("quiz.poll_interval_ms must be > 0")
	}
	if _, err := knowledge.ParseMode(c.Quiz.DefaultMode); err != nil {
		return fmt.Errorf("quiz.default_mode: %w", err)
	}
	if _, err := notice.ParseLang(c.Lang); err != nil {
		return fmt.Errorf("lang: %w", err)
	}
	if c.Data.Dir == "" {
		return fmt.Errorf("data.dir is empty")
	}
	return nil
}

// SessionConfig maps the quiz section onto the state machine. Call Validate first.
func (c Config) SessionConfig() session.Config {
	sc := session.DefaultConfig()
	if len(c.Quiz.Trigger) == 3 {
		sc.Trigger = session.Coord{c.Quiz.Trigger[0], c.Quiz.Trigger[1], c.Quiz.Trigger[2]}
	}
	sc.Marker = c.Quiz.Marker
	sc.ArmOn = session.ArmTrigger(c.Quiz.ArmOn)
	sc.Threshold = c.Quiz.Threshold
	sc.PollInterval = time.Duration(c.Quiz.PollIntervalMs) * time.Millisecond
	sc.WelcomeFilter = c.Server.WelcomeFilter
	return sc
}

func (c Config) Language() notice.Lang {
	l, _ := notice.ParseLang(c.Lang)
	return l
}

// LogPath resolves data.log_file relative to data.dir.
func (c Config) LogPath() string {
	if c.Data.LogFile == "" || filepath.IsAbs(c.Data.LogFile) {
		return c.Data.LogFile
	}
	return filepath.Join(c.Data.Dir, c.Data.LogFile)
}

func (c Config) IndexPath() string { return filepath.Join(c.Data.Dir, "index.sqlite") }

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (s Server) ReconnectMin() time.Duration { return ms(s.ReconnectMinMs) }
func (s Server) ReconnectMax() time.Duration { return ms(s.ReconnectMaxMs) }
func (s Server) ReadTimeout() time.Duration  { return ms(s.ReadTimeoutMs) }
