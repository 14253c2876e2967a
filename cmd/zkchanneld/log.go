package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"

	"github.com/zkchannels/zkchanneld/zkchan"
	"github.com/zkchannels/zkchanneld/zkchan/chainwatch"
	"github.com/zkchannels/zkchanneld/zkchan/customer"
	"github.com/zkchannels/zkchanneld/zkchan/merchant"
	"github.com/zkchannels/zkchanneld/zkchan/mpcbridge"
	"github.com/zkchannels/zkchanneld/zkchan/protocol"
	"github.com/zkchannels/zkchanneld/zkchan/txbuilder"
	"github.com/zkchannels/zkchanneld/zkchan/zkcrypto"
)

// pipeWriter is an io.Writer whose destination can be swapped after
// construction, the same trick breez's build.LogWriter uses so a backend
// logger created before the rotator exists still ends up writing to it.
type pipeWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *pipeWriter) Write(b []byte) (int, error) {
	p.mu.Lock()
	w := p.w
	p.mu.Unlock()
	if w == nil {
		return len(b), nil
	}
	return w.Write(b)
}

func (p *pipeWriter) setTarget(w io.Writer) {
	p.mu.Lock()
	p.w = w
	p.mu.Unlock()
}

var (
	logWriter = &pipeWriter{}
	backendLog = btclog.NewBackend(logWriter)
	logRotator *rotator.Rotator

	zkcdLog = backendLog.Logger("ZKCD")
	prtcLog = backendLog.Logger("PRTC")
	custLog = backendLog.Logger("CUST")
	merchLog = backendLog.Logger("MRCH")
	mpcbLog = backendLog.Logger("MPCB")
	chwtLog = backendLog.Logger("CHWT")
	txbdLog = backendLog.Logger("TXBD")
	zkcrLog = backendLog.Logger("ZKCR")
)

var subsystemLoggers = map[string]btclog.Logger{
	"ZKCD": zkcdLog,
	"PRTC": prtcLog,
	"CUST": custLog,
	"MRCH": merchLog,
	"MPCB": mpcbLog,
	"CHWT": chwtLog,
	"TXBD": txbdLog,
	"ZKCR": zkcrLog,
}

func init() {
	zkchan.UseLogger(zkcdLog)
	protocol.UseLogger(prtcLog)
	customer.UseLogger(custLog)
	merchant.UseLogger(merchLog)
	mpcbridge.UseLogger(mpcbLog)
	chainwatch.UseLogger(chwtLog)
	txbuilder.UseLogger(txbdLog)
	zkcrypto.UseLogger(zkcrLog)
}

// initLogRotator initializes the log rotator to write logs to logFile and
// create roll files in the same directory. It must be called before any
// subsystem logger produces output a caller expects to be persisted.
func initLogRotator(logFile string, maxLogFileSize, maxLogFiles int) error {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	r, err := rotator.New(logFile, int64(maxLogFileSize*1024), false, maxLogFiles)
	if err != nil {
		return fmt.Errorf("create file rotator: %w", err)
	}

	pr, pw := io.Pipe()
	go r.Run(pr)

	logWriter.setTarget(pw)
	logRotator = r
	return nil
}

// setLogLevel sets the logging level for one subsystem. Unknown subsystems
// are ignored.
func setLogLevel(subsystemID, logLevel string) {
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}
	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// setLogLevels sets every subsystem logger to logLevel.
func setLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		setLogLevel(subsystemID, logLevel)
	}
}
