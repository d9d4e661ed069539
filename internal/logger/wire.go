package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

var (
	wireMu  sync.Mutex
	wireLog *log.Logger
)

// SetWireWriter directs raw gateway traffic to w. Nil disables the
// dump; frames are dropped without formatting cost.
func SetWireWriter(w io.Writer) {
	wireMu.Lock()
	defer wireMu.Unlock()
	if w == nil {
		wireLog = nil
		return
	}
	wireLog = log.New(w, "", log.LstdFlags|log.Lmicroseconds)
}

// LogWireFrame records one frame of gateway traffic. gw names the
// adapter, dir is "send" or "recv".
func LogWireFrame(gw, dir string, frame []byte) {
	wireMu.Lock()
	out := wireLog
	wireMu.Unlock()
	if out == nil {
		return
	}
	text := strings.TrimSpace(string(frame))
	if text == "" {
		return
	}
	out.Printf("[%s][%s] %s", gw, dir, text)
}
