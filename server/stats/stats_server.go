package stats

import (
	"fmt"
	"net"
	"net/http"
	"time"

	getty "github.com/AlexStocks/getty/transport"
	gxlog "github.com/AlexStocks/goext/log"
	gxnet "github.com/AlexStocks/goext/net"
	log "github.com/AlexStocks/log4go"
	gxsync "github.com/dubbogo/gost/sync"

	"github.com/zhukovaskychina/sgv-pool/conf"
	"github.com/zhukovaskychina/sgv-pool/sgv"
)

const (
	pprofPath = "/debug/pprof/"

	sessionName     = "sgv-stats-session"
	maxMsgLen       = 4096
	cronPeriod      = 20e9
	readTimeout     = time.Second
	writeTimeout    = 5 * time.Second
	waitTimeout     = 7 * time.Second
	sessionWQLen    = 64
	keepAlivePeriod = 180 * time.Second
)

const logBanner = `
******************************************************************************************

  ____   ____ __     __         ____    ___    ___    _
 / ___| / ___|\ \   / /        |  _ \  / _ \  / _ \  | |
 \___ \| |  _  \ \ / /  _____  | |_) || | | || | | | | |
  ___) | |_| |  \ V /  |_____| |  __/ | |_| || |_| | | |___
 |____/ \____|   \_/           |_|     \___/  \___/  |_____|

******************************************************************************************
`

// StatsServer exposes the allocator's counters over a line-based TCP
// protocol, the way the original exposes them through its control fs.
type StatsServer struct {
	conf       *conf.Cfg
	alloc      *sgv.Allocator
	serverList []getty.Server
	taskPool   gxsync.GenericTaskPool
}

func NewStatsServer(conf *conf.Cfg, alloc *sgv.Allocator) *StatsServer {
	return &StatsServer{
		conf:     conf,
		alloc:    alloc,
		taskPool: gxsync.NewTaskPoolSimple(0),
	}
}

// Start listens and serves until Close.
func (srv *StatsServer) Start() {
	initProfiling(srv.conf)
	srv.initServer(srv.conf)

	gxlog.CInfo(logBanner)
	gxlog.CInfo("%s stats surface listens on %s:%d\n",
		srv.conf.AppName, srv.conf.BindAddress, srv.conf.Port)
	log.Info("%s stats surface listens on %s:%d", srv.conf.AppName, srv.conf.BindAddress, srv.conf.Port)
}

func initProfiling(conf *conf.Cfg) {
	if conf.ProfilePort == 0 {
		return
	}
	addr := gxnet.HostAddress(conf.BindAddress, conf.ProfilePort)
	log.Info("profiling startup on address{%v}", addr+pprofPath)
	go func() {
		log.Info(http.ListenAndServe(addr, nil))
	}()
}

func (srv *StatsServer) initServer(conf *conf.Cfg) {
	pkgHandler := NewStatsPkgHandler()
	msgHandler := NewStatsMessageHandler(srv.alloc)

	addr := gxnet.HostAddress(conf.BindAddress, conf.Port)
	server := getty.NewTCPServer(getty.WithLocalAddress(addr))

	server.RunEventLoop(func(session getty.Session) error {
		var (
			ok      bool
			tcpConn *net.TCPConn
		)
		if tcpConn, ok = session.Conn().(*net.TCPConn); !ok {
			panic(fmt.Sprintf("%s, session.conn{%#v} is not tcp connection\n", session.Stat(), session.Conn()))
		}
		tcpConn.SetNoDelay(true)
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(keepAlivePeriod)

		session.SetName(sessionName)
		session.SetMaxMsgLen(maxMsgLen)
		session.SetPkgHandler(pkgHandler)
		session.SetEventListener(msgHandler)
		session.SetWQLen(sessionWQLen)
		session.SetReadTimeout(readTimeout)
		session.SetWriteTimeout(writeTimeout)
		session.SetCronPeriod((int)(cronPeriod / 1e6))
		session.SetWaitTime(waitTimeout)
		log.Debug("stats surface accepts new session:%s\n", session.Stat())
		return nil
	})
	log.Debug("stats surface bind addr{%s} ok!", addr)
	srv.serverList = append(srv.serverList, server)
}

// Close tears down the listeners and the task pool.
func (srv *StatsServer) Close() {
	for _, server := range srv.serverList {
		server.Close()
	}
	if srv.taskPool != nil {
		srv.taskPool.Close()
	}
}
