package conf

import (
	"net"
	"os"
	"path/filepath"
	"time"

	perrors "github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

var ConfigPath string

type CommandLineArgs struct {
	ConfigPath string
}

/**
[sgv]
page_size       = 4096
max_order       = 10
hi_watermark    = 65536
lo_watermark    = 32768
purge_interval  = 60s

[stats]
bind-address    = 127.0.0.1
port            = 4455
profile_port    = 10086
*/
type Cfg struct {
	Raw *ini.File

	AppName string

	// sgv
	PageSize      int
	MaxOrder      int
	HiWatermark   int
	LoWatermark   int
	PurgeInterval string `default:"60s"`

	PurgeIntervalDuration time.Duration

	// stats listener
	BindAddress string
	Port        int
	ProfilePort int

	// logging
	LogLevel string
	LogInfos string
	LogError string
}

func NewCfg() *Cfg {
	return &Cfg{
		Raw:         ini.Empty(),
		AppName:     "sgv-pool",
		PageSize:    4096,
		MaxOrder:    10,
		HiWatermark: 65536,
		LoWatermark: 32768,
		BindAddress: "127.0.0.1",
		Port:        4455,

		PurgeIntervalDuration: 60 * time.Second,
		LogLevel:              "info",
	}
}

func (cfg *Cfg) Load(args *CommandLineArgs) (*Cfg, error) {
	setHomePath(args)
	iniFile, err := cfg.loadConfiguration(args)
	if err != nil {
		return nil, perrors.WithMessage(err, "load configuration")
	}
	cfg.Raw = iniFile

	if err = cfg.parseSgvCfg(cfg.Raw.Section("sgv")); err != nil {
		return nil, err
	}
	if err = cfg.parseStatsCfg(cfg.Raw.Section("stats")); err != nil {
		return nil, err
	}
	cfg.parseLogCfg(cfg.Raw.Section("log"))
	return cfg, nil
}

func setHomePath(args *CommandLineArgs) {
	if args.ConfigPath != "" {
		ConfigPath = args.ConfigPath
		return
	}

	ConfigPath, _ = filepath.Abs(".")
}

func (cfg *Cfg) parseSgvCfg(section *ini.Section) error {
	cfg.PageSize = section.Key("page_size").MustInt(cfg.PageSize)
	if cfg.PageSize <= 0 || cfg.PageSize&(cfg.PageSize-1) != 0 {
		return perrors.Errorf("page_size %d is not a power of two", cfg.PageSize)
	}

	cfg.MaxOrder = section.Key("max_order").MustInt(cfg.MaxOrder)
	cfg.HiWatermark = section.Key("hi_watermark").MustInt(cfg.HiWatermark)
	cfg.LoWatermark = section.Key("lo_watermark").MustInt(cfg.LoWatermark)
	if cfg.LoWatermark >= cfg.HiWatermark {
		return perrors.Errorf("lo_watermark %d must be below hi_watermark %d",
			cfg.LoWatermark, cfg.HiWatermark)
	}

	purgeInterval, err := valueAsString(section, "purge_interval", "60s")
	if err != nil {
		return err
	}
	cfg.PurgeInterval = purgeInterval
	cfg.PurgeIntervalDuration, err = time.ParseDuration(purgeInterval)
	if err != nil {
		return perrors.WithMessagef(err, "time.ParseDuration(purge_interval{%#v})", purgeInterval)
	}
	return nil
}

func (cfg *Cfg) parseStatsCfg(section *ini.Section) error {
	bindAddress, err := valueAsString(section, "bind-address", "127.0.0.1")
	if err != nil {
		return err
	}
	if ip := net.ParseIP(bindAddress); ip == nil {
		return perrors.Errorf("bind-address %q is not a valid IP", bindAddress)
	}
	cfg.BindAddress = bindAddress
	cfg.Port = section.Key("port").MustInt(cfg.Port)
	cfg.ProfilePort = section.Key("profile_port").MustInt(0)
	return nil
}

func (cfg *Cfg) parseLogCfg(section *ini.Section) {
	cfg.LogLevel = section.Key("level").MustString("info")
	cfg.LogInfos = section.Key("info_log").MustString("")
	cfg.LogError = section.Key("error_log").MustString("")
}

func (cfg *Cfg) loadConfiguration(args *CommandLineArgs) (*ini.File, error) {
	defaultConfigFile := args.ConfigPath

	if _, err := os.Stat(defaultConfigFile); os.IsNotExist(err) {
		return nil, perrors.Errorf("config file %s does not exist", defaultConfigFile)
	}

	parsedFile, err := ini.Load(defaultConfigFile)
	if err != nil {
		return nil, perrors.WithMessagef(err, "parse %s", defaultConfigFile)
	}
	return parsedFile, nil
}

func valueAsString(section *ini.Section, keyName string, defaultValue string) (value string, err error) {
	defer func() {
		if err_ := recover(); err_ != nil {
			err = perrors.Errorf("invalid value for key '%s' in configuration file", keyName)
		}
	}()

	return section.Key(keyName).MustString(defaultValue), nil
}
