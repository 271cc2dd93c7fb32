package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/AlexStocks/log4go"

	"github.com/zhukovaskychina/sgv-pool/conf"
	"github.com/zhukovaskychina/sgv-pool/logger"
	"github.com/zhukovaskychina/sgv-pool/server/stats"
	"github.com/zhukovaskychina/sgv-pool/sgv"
)

const help = `
******************************************************************************************
* sgv-pool statistics daemon
* 1. -- help
* 2. -- configPath   指定sgv.ini配置文件
******************************************************************************************`

func main() {
	var configPath string
	flag.StringVar(&configPath, "configPath", "", "配置文件路径")
	flag.Parse()

	if configPath == "" {
		fmt.Println(help)
		os.Exit(1)
	}

	args := &conf.CommandLineArgs{
		ConfigPath: configPath,
	}

	config, err := conf.NewCfg().Load(args)
	if err != nil {
		fmt.Printf("load config failed: %v\n", err)
		os.Exit(1)
	}

	logConfig := logger.LogConfig{
		ErrorLogPath: config.LogError,
		InfoLogPath:  config.LogInfos,
		LogLevel:     config.LogLevel,
	}
	if err = logger.InitLogger(logConfig); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	alloc, err := sgv.NewAllocator(sgv.Config{
		PageSize:      uint32(config.PageSize),
		MaxOrder:      config.MaxOrder,
		HiWatermark:   config.HiWatermark,
		LoWatermark:   config.LoWatermark,
		PurgeInterval: config.PurgeIntervalDuration,
	})
	if err != nil {
		logger.Fatalf("allocator init failed: %v", err)
	}

	srv := stats.NewStatsServer(config, alloc)
	srv.Start()

	initSignal(srv, alloc)
}

func initSignal(srv *stats.StatsServer, alloc *sgv.Allocator) {
	// signal.Notify的ch信道是阻塞的(signal.Notify不会阻塞发送信号), 需要设置缓冲
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGHUP, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	for {
		sig := <-signals
		log.Info("get signal %s", sig.String())
		switch sig {
		case syscall.SIGHUP:
		// reload()
		default:
			go time.AfterFunc(5*time.Second, func() {
				log.Exit("app exit now by force...")
				log.Close()
			})

			srv.Close()
			alloc.Shutdown()
			log.Exit("app exit now...")
			log.Close()
			return
		}
	}
}
