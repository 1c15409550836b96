package log

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
)

type LogLevel int

const (
	LogLevel_None LogLevel = iota
	LogLevel_Warn
	LogLevel_Info
	LogLevel_Debug
)

var Level LogLevel = LogLevel_Info

var (
	mu     sync.Mutex
	output io.Writer = os.Stderr
)

var cyan = color.New(color.FgCyan)
var yellow = color.New(color.FgYellow)

// SetOutput redirects all messages, mainly for tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
}

func Warnf(f string, args ...interface{}) {
	if LogLevel_Warn <= Level {
		mu.Lock()
		defer mu.Unlock()
		yellow.Fprintf(output, "[WARNING] "+f+"\n", args...)
	}
}

func Infof(f string, args ...interface{}) {
	if LogLevel_Info <= Level {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(output, f+"\n", args...)
	}
}

func Debugf(f string, args ...interface{}) {
	if LogLevel_Debug <= Level {
		mu.Lock()
		defer mu.Unlock()
		cyan.Fprintf(output, "[DEBUG] "+f+"\n", args...)
	}
}
