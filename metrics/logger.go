package metrics

import (
	"fmt"
	"log"
	"os"
	"path"
	"time"
)

type Logger interface {
	Log(info *ReadInfo)
}

type StdoutLogger struct{}

func NewStdoutLogger() *StdoutLogger {
	return &StdoutLogger{}
}

func (l *StdoutLogger) Log(info *ReadInfo) {
	infoStr, err := info.ToJSON()
	if err == nil {
		log.Print(infoStr)
	} else {
		log.Printf("StdoutLogger: error: %v", err)
	}
}

const defaultQueueSize = 2000
const defaultMaxLogFileSize = 1024 * 1024 * 1024
const defaultMaxLogFiles = 10

type FileLogger struct {
	ReadQueue      chan *ReadInfo
	LogDir         string
	MaxLogFileSize int64
	MaxLogFiles    int
	Verbose        bool
}

func NewFileLogger(logDir string, maxLogFileSize int64, maxLogFiles int, verbose bool) *FileLogger {
	if maxLogFileSize <= 0 {
		maxLogFileSize = defaultMaxLogFileSize
	}
	if maxLogFiles <= 0 {
		maxLogFiles = defaultMaxLogFiles
	}
	logger := &FileLogger{
		ReadQueue:      make(chan *ReadInfo, defaultQueueSize),
		LogDir:         logDir,
		MaxLogFileSize: maxLogFileSize,
		MaxLogFiles:    maxLogFiles,
		Verbose:        verbose,
	}
	go logger.startLogWriter()
	return logger
}

func (l *FileLogger) Log(info *ReadInfo) {
	select {
	case l.ReadQueue <- info:
	default:
		// dropping beats blocking a read on a slow disk
	}
}

func (l *FileLogger) startLogWriter() {
	f, err := l.openLogFile()
	if err != nil {
		log.Printf("FileLogger: log open error: %v", err)
	}

	for info := range l.ReadQueue {
		infoStr, err := info.ToJSON()
		if err != nil {
			log.Printf("FileLogger: info.ToJSON() error: %v", err)
			continue
		}
		f, err = l.tryRotateLogFile(f)
		if err != nil {
			continue
		}
		_, err = f.WriteString(infoStr)
		if err != nil {
			log.Printf("FileLogger: write error: %v", err)
			continue
		}
		f.Sync()
	}
}

func (l *FileLogger) openLogFile() (*os.File, error) {
	return os.OpenFile(path.Join(l.LogDir, "reads.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
}

func (l *FileLogger) tryRotateLogFile(currFile *os.File) (*os.File, error) {
	info, err := currFile.Stat()
	if err != nil {
		log.Printf("FileLogger: log rotation error: %v", err)
		return currFile, nil
	}
	if info.Size() < l.MaxLogFileSize {
		return currFile, nil
	}

	currPath := path.Join(l.LogDir, "reads.log")
	rotatedPath := path.Join(l.LogDir, fmt.Sprintf("reads.log.%d", time.Now().Unix()))
	currFile.Close()
	if err := os.Rename(currPath, rotatedPath); err != nil {
		log.Printf("FileLogger: log rotation error: %v", err)
	} else if l.Verbose {
		log.Printf("FileLogger: log file rotated: %v", rotatedPath)
	}
	l.pruneOldLogs()

	f, err := l.openLogFile()
	if err != nil {
		log.Printf("FileLogger: log rotation error: %v", err)
	}
	return f, err
}

func (l *FileLogger) pruneOldLogs() {
	entries, err := os.ReadDir(l.LogDir)
	if err != nil {
		return
	}
	var rotated []string
	for _, e := range entries {
		if e.Type().IsRegular() && len(e.Name()) > len("reads.log.") && e.Name()[:len("reads.log.")] == "reads.log." {
			rotated = append(rotated, e.Name())
		}
	}
	// names sort by rotation time
	for len(rotated) > l.MaxLogFiles {
		oldest := rotated[0]
		for _, name := range rotated {
			if name < oldest {
				oldest = name
			}
		}
		os.Remove(path.Join(l.LogDir, oldest))
		kept := rotated[:0]
		for _, name := range rotated {
			if name != oldest {
				kept = append(kept, name)
			}
		}
		rotated = kept
	}
}
