package config

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/jessevdk/go-flags"

	"github.com/tensorwatch/subreg/blockfeed"
	"github.com/tensorwatch/subreg/chain"
	"github.com/tensorwatch/subreg/fee"
	"github.com/tensorwatch/subreg/notify"
	"github.com/tensorwatch/subreg/registrar"
)

const (
	defaultConfigFilename = "subreg.conf"
	defaultLogDirname     = "logs"
	defaultJournalDirname = "journal"
	defaultLogFilename    = "subreg.log"
)

// Config defines the configuration options for subreg.
//
// See main's loadConfig for details of the loading and parsing process.
//
//nolint:lll
type Config struct {
	SubregDir  string `long:"subregdir"  description:"The base directory for subreg's journal, logs and configuration file"`
	ConfigFile string `long:"configfile" description:"Path to configuration file"                                           short:"c"`
	LogDir     string `long:"logdir"     description:"Directory to log output"`
	DebugLog   bool   `long:"debuglog"   description:"Enable debug logs"`
	JSONLog    bool   `long:"jsonlog"    description:"Whether to log in JSON format"`

	MetricsPort *uint16 `long:"metrics-port" description:"The port to expose metrics"`

	WalletDir     string   `long:"walletdir"       description:"Directory to discover wallets in"`
	Wallets       []string `long:"wallet"          description:"coldkey/hotkey to register; may be repeated (default: all discovered)"`
	NoPriorityFee bool     `long:"no-priority-fee" description:"Disable adaptive priority fees"`
	NoJournal     bool     `long:"no-journal"      description:"Do not persist confirmed registrations between runs"`

	Chain     chain.Config     `group:"Chain"     namespace:"chain"`
	Feed      blockfeed.Config `group:"BlockFeed" namespace:"feed"`
	Fee       fee.Config       `group:"Fee"       namespace:"fee"`
	Registrar registrar.Config `group:"Registrar"`
	Telegram  notify.Config    `group:"Telegram"  namespace:"telegram"`
}

// DefaultConfig returns a config with default hardcoded values.
func DefaultConfig() *Config {
	subregDir := "./subreg"
	if cacheDir, err := os.UserCacheDir(); err == nil {
		subregDir = filepath.Join(cacheDir, "subreg")
	}

	return &Config{
		SubregDir:  subregDir,
		ConfigFile: filepath.Join(subregDir, defaultConfigFilename),
		LogDir:     filepath.Join(subregDir, defaultLogDirname),
		WalletDir:  "",
		Chain:      chain.DefaultConfig(),
		Feed:       blockfeed.DefaultConfig(),
		Fee:        fee.DefaultConfig(),
		Registrar:  registrar.DefaultConfig(),
		Telegram:   notify.DefaultConfig(),
	}
}

// ParseFlags reads values from command line arguments.
func ParseFlags(preCfg *Config) (*Config, error) {
	if _, err := flags.Parse(preCfg); err != nil {
		return nil, err
	}
	return preCfg, nil
}

// ReadConfigFile reads values from a conf file.
func ReadConfigFile(preCfg *Config) (*Config, error) {
	preCfg.SubregDir = cleanAndExpandPath(preCfg.SubregDir)
	preCfg.ConfigFile = cleanAndExpandPath(preCfg.ConfigFile)
	if preCfg.SubregDir != DefaultConfig().SubregDir {
		if preCfg.ConfigFile == DefaultConfig().ConfigFile {
			preCfg.ConfigFile = filepath.Join(preCfg.SubregDir, defaultConfigFilename)
		}
	}

	cfg := preCfg
	if err := flags.IniParse(preCfg.ConfigFile, cfg); err != nil {
		// A parse error is fatal; a missing config file is fine.
		var iniError *flags.IniError
		if errors.As(err, &iniError) {
			return nil, err
		}
	}
	return cfg, nil
}

// SetupConfig initializes the filesystem layout and resolves derived paths.
func SetupConfig(cfg *Config) (*Config, error) {
	if cfg.SubregDir != DefaultConfig().SubregDir {
		cfg.LogDir = filepath.Join(cfg.SubregDir, defaultLogDirname)
	}

	if err := os.MkdirAll(cfg.SubregDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create subreg directory: %w", err)
	}

	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	if err := os.MkdirAll(cfg.LogDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	cfg.WalletDir = cleanAndExpandPath(cfg.WalletDir)

	if cfg.Registrar.MaxDelay < cfg.Registrar.MinDelay {
		return nil, fmt.Errorf("max-delay (%s) is below min-delay (%s)",
			cfg.Registrar.MaxDelay, cfg.Registrar.MinDelay)
	}
	if cfg.Feed.Window.Last >= cfg.Feed.Tempo {
		return nil, fmt.Errorf("window %s exceeds tempo %d", cfg.Feed.Window, cfg.Feed.Tempo)
	}
	cfg.Registrar.UsePriorityFee = !cfg.NoPriorityFee
	return cfg, nil
}

// LogFile returns the path of the rotated log file.
func (cfg *Config) LogFile() string {
	return filepath.Join(cfg.LogDir, defaultLogFilename)
}

// JournalDir returns the path of the confirmation journal, or "" when the
// journal is disabled.
func (cfg *Config) JournalDir() string {
	if cfg.NoJournal {
		return ""
	}
	return filepath.Join(cfg.SubregDir, defaultJournalDirname)
}

// cleanAndExpandPath expands environment variables and leading ~ in the
// passed path, cleans the result, and returns it.
// This function is taken from https://github.com/btcsuite/btcd
func cleanAndExpandPath(path string) string {
	if path == "" {
		return ""
	}

	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string
		user, err := user.Current()
		if err == nil {
			homeDir = user.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but the variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}
