package main

import (
	"fmt"
	"os"
	"path/filepath"

	flags "github.com/jessevdk/go-flags"
)

const (
	defaultDataDirname    = "data"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "zkchanneld.log"
	defaultListenAddr     = "localhost:10100"
	defaultControlAddr    = "localhost:10101"
	defaultMetricsAddr    = ""
	defaultMaxLogFileSize = 10
	defaultMaxLogFiles    = 3
	defaultDBBackend      = "bolt"
	defaultLogLevel       = "info"
)

func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".zkchanneld")
}

// config is zkchanneld's daemon configuration, loaded from the command
// line only, the way lnd.go's loadConfig parses flags for lnd; there is no
// config-file reader, since this daemon has only a handful of flags and no
// installer-generated default file to fall back to.
type config struct {
	DataDir string `long:"datadir" description:"Directory to store channel and merchant state in"`
	LogDir  string `long:"logdir" description:"Directory to log output to"`

	ListenAddr    string `long:"listenaddr" description:"Address to listen on for customer connections"`
	MPCListenAddr string `long:"mpclistenaddr" description:"Address to listen on for the inner F_pay MPC transport"`
	ControlAddr   string `long:"controladdr" description:"Address to listen on for local open-channel control requests"`
	MetricsAddr   string `long:"metricsaddr" description:"Address to serve Prometheus /metrics on; empty disables it"`

	DBBackend string `long:"dbbackend" choice:"bolt" choice:"postgres" choice:"etcd" description:"Persistent state backend"`
	PGConnStr string `long:"pgconnstr" description:"Postgres connection string, required when dbbackend=postgres"`
	EtcdHosts []string `long:"etcdhost" description:"etcd cluster endpoint, may be repeated, required when dbbackend=etcd"`

	MaxLogFileSize int    `long:"maxlogfilesize" description:"Maximum log file size in MB before it is rotated"`
	MaxLogFiles    int    `long:"maxlogfiles" description:"Maximum number of rotated log files to keep"`
	DebugLevel     string `long:"debuglevel" description:"Logging level for all subsystems"`
}

func defaultConfig() config {
	dir := defaultConfigDir()
	return config{
		DataDir:        filepath.Join(dir, defaultDataDirname),
		LogDir:         filepath.Join(dir, defaultLogDirname),
		ListenAddr:     defaultListenAddr,
		MPCListenAddr:  "",
		ControlAddr:    defaultControlAddr,
		MetricsAddr:    defaultMetricsAddr,
		DBBackend:      defaultDBBackend,
		MaxLogFileSize: defaultMaxLogFileSize,
		MaxLogFiles:    defaultMaxLogFiles,
		DebugLevel:     defaultLogLevel,
	}
}

// loadConfig parses the command line over a set of defaults, creates the
// data/log directories, initializes the log rotator, and validates the
// chosen backend has what it needs.
func loadConfig() (*config, error) {
	cfg := defaultConfig()

	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("create datadir: %w", err)
	}

	logFile := filepath.Join(cfg.LogDir, defaultLogFilename)
	if err := initLogRotator(logFile, cfg.MaxLogFileSize, cfg.MaxLogFiles); err != nil {
		return nil, fmt.Errorf("init log rotator: %w", err)
	}
	setLogLevels(cfg.DebugLevel)

	switch cfg.DBBackend {
	case "bolt":
	case "postgres":
		if cfg.PGConnStr == "" {
			return nil, fmt.Errorf("dbbackend=postgres requires --pgconnstr")
		}
	case "etcd":
		if len(cfg.EtcdHosts) == 0 {
			return nil, fmt.Errorf("dbbackend=etcd requires at least one --etcdhost")
		}
	default:
		return nil, fmt.Errorf("unknown dbbackend %q", cfg.DBBackend)
	}

	return &cfg, nil
}
