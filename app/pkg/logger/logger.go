// Package logger provides leveled logging to stdout plus a dated file.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"
)

var (
	infoLog  *log.Logger
	errorLog *log.Logger
)

// Init opens the daily log file under logDir and wires both levels to
// write to it and to stdout. Before Init the package falls back to the
// default log package so early failures are still visible.
func Init(logDir string) error {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return err
	}

	name := fmt.Sprintf("tasker_%s.log", time.Now().Format("2006-01-02"))
	f, err := os.OpenFile(filepath.Join(logDir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	out := io.MultiWriter(os.Stdout, f)
	infoLog = log.New(out, "[INFO] ", log.Ldate|log.Ltime)
	errorLog = log.New(out, "[ERROR] ", log.Ldate|log.Ltime|log.Lshortfile)
	return nil
}

func Info(format string, v ...interface{}) {
	if infoLog == nil {
		log.Printf("[INFO] "+format, v...)
		return
	}
	infoLog.Output(2, fmt.Sprintf(format, v...))
}

func Error(format string, v ...interface{}) {
	if errorLog == nil {
		log.Printf("[ERROR] "+format, v...)
		return
	}
	errorLog.Output(2, fmt.Sprintf(format, v...))
}
