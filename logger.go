package main

import (
	"fmt"
	"strings"

	"github.com/golang/glog"
)

// Transfer info shares the terminal with the progress bar, so it is only
// printed on request.
const (
	infoLevel  glog.Level = 1
	debugLevel glog.Level = 2
)

// glogLogger adapts glog to flasher.Logger. Info output needs -v=1 and debug
// output -v=2.
type glogLogger struct{}

func (glogLogger) Debug(msg string, kv ...interface{}) {
	if glog.V(debugLevel) {
		glog.InfoDepth(1, formatKV(msg, kv))
	}
}

func (glogLogger) Info(msg string, kv ...interface{}) {
	if glog.V(infoLevel) {
		glog.InfoDepth(1, formatKV(msg, kv))
	}
}

func (glogLogger) Error(msg string, kv ...interface{}) {
	glog.ErrorDepth(1, formatKV(msg, kv))
}

// formatKV renders msg followed by key=value pairs.
func formatKV(msg string, kv []interface{}) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		if i+1 < len(kv) {
			fmt.Fprintf(&b, " %v=%v", kv[i], kv[i+1])
		} else {
			fmt.Fprintf(&b, " %v=?", kv[i])
		}
	}
	return b.String()
}
