package stats

import (
	"bytes"
	"strings"

	getty "github.com/AlexStocks/getty/transport"
	log "github.com/AlexStocks/log4go"
)

// StatsPkgHandler 行协议编解码：请求是一行命令，响应是文本块。
type StatsPkgHandler struct {
}

func NewStatsPkgHandler() *StatsPkgHandler {
	return &StatsPkgHandler{}
}

func (h *StatsPkgHandler) Read(ss getty.Session, data []byte) (interface{}, int, error) {
	idx := bytes.IndexByte(data, '\n')
	if idx < 0 {
		// 等待更多数据
		return nil, 0, nil
	}

	line := strings.TrimRight(string(data[:idx]), "\r")
	log.Debug("stats session %s: command %q", ss.Stat(), line)
	return line, idx + 1, nil
}

func (h *StatsPkgHandler) Write(ss getty.Session, pkg interface{}) ([]byte, error) {
	switch v := pkg.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		log.Warn("stats session %s: unexpected package %T", ss.Stat(), pkg)
		return nil, errUnknownPkg
	}
}
