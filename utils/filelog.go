/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const dateDirLayout = "2006-01-02"

// fileLog is the process-wide daily rolling destination shared by every
// registered logger. Files are laid out as <dir>/<YYYY-MM-DD>/<level>.log.
var fileLog = &fileSink{
	enabled:    EnvDefaultBool("FILE_LOG_ENABLED", false),
	dir:        EnvDefaultString("FILE_LOG_DIR", "logs"),
	maxAgeDays: EnvDefaultInt("FILE_LOG_MAX_AGE_DAYS", 0),
	format:     EnvDefaultString("FILE_LOG_FORMAT", "text"),
	writers:    map[string]*dailyLevelWriter{},
}

type fileSink struct {
	mu         sync.Mutex
	enabled    bool
	dir        string
	maxAgeDays int
	format     string
	writers    map[string]*dailyLevelWriter
}

// ConfigureFileLog turns on daily rolling file output under dir for every
// logger. Date directories older than maxAgeDays are removed on rollover;
// maxAgeDays <= 0 keeps everything.
func ConfigureFileLog(dir string, maxAgeDays int) error {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return fmt.Errorf("file log directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log directory %s: %w", dir, err)
	}
	fileLog.mu.Lock()
	defer fileLog.mu.Unlock()
	fileLog.closeWriters()
	fileLog.enabled = true
	fileLog.dir = dir
	fileLog.maxAgeDays = maxAgeDays
	return nil
}

// ConfigureFileLogFormat selects "json" or "text" for file output.
func ConfigureFileLogFormat(format string) {
	fileLog.mu.Lock()
	defer fileLog.mu.Unlock()
	if strings.ToLower(strings.TrimSpace(format)) == "json" {
		fileLog.format = "json"
	} else {
		fileLog.format = "text"
	}
}

// DisableFileLog stops file output and closes the open log files.
func DisableFileLog() {
	fileLog.mu.Lock()
	defer fileLog.mu.Unlock()
	fileLog.enabled = false
	fileLog.closeWriters()
}

func (s *fileSink) closeWriters() {
	for k, w := range s.writers {
		_ = w.Close()
		delete(s.writers, k)
	}
}

// writer returns the writer for level, or nil while file output is off.
func (s *fileSink) writer(level string) (*dailyLevelWriter, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return nil, ""
	}
	w, ok := s.writers[level]
	if !ok {
		w = &dailyLevelWriter{baseDir: s.dir, level: level, maxAgeDays: s.maxAgeDays}
		s.writers[level] = w
	}
	return w, s.format
}

func levelFileName(l logrus.Level) string {
	switch l {
	case logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel:
		return "error"
	case logrus.WarnLevel:
		return "warn"
	case logrus.InfoLevel:
		return "info"
	case logrus.DebugLevel:
		return "debug"
	default:
		return "trace"
	}
}

type fileWriterHook struct {
	name string
}

func (h *fileWriterHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h *fileWriterHook) Fire(e *logrus.Entry) error {
	if e.Level > fileLevel {
		return nil
	}
	w, format := fileLog.writer(levelFileName(e.Level))
	if w == nil {
		return nil
	}
	var f logrus.Formatter = &Log4jColorFormatter{LoggerName: h.name, NameWidth: 10, DisableColors: true}
	if format == "json" {
		f = &JSONLogFormatter{LoggerName: h.name}
	}
	b, err := f.Format(e)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// dailyLevelWriter appends to <baseDir>/<date>/<level>.log and reopens on
// the first write of a new day.
type dailyLevelWriter struct {
	baseDir    string
	level      string
	maxAgeDays int

	mu      sync.Mutex
	curDate string
	file    *os.File
}

func (w *dailyLevelWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	today := time.Now().Format(dateDirLayout)
	if w.file == nil || today != w.curDate {
		if err := w.open(today); err != nil {
			return 0, err
		}
		w.cleanup(time.Now())
	}
	return w.file.Write(p)
}

func (w *dailyLevelWriter) open(date string) error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	dir := filepath.Join(w.baseDir, date)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, w.level+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	w.curDate = date
	return nil
}

// cleanup removes date directories older than maxAgeDays. Entries whose
// name is not a date are left alone.
func (w *dailyLevelWriter) cleanup(now time.Time) {
	if w.maxAgeDays <= 0 {
		return
	}
	entries, err := os.ReadDir(w.baseDir)
	if err != nil {
		return
	}
	cutoff := now.AddDate(0, 0, -w.maxAgeDays).Format(dateDirLayout)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := time.Parse(dateDirLayout, e.Name()); err != nil {
			continue
		}
		if e.Name() < cutoff {
			_ = os.RemoveAll(filepath.Join(w.baseDir, e.Name()))
		}
	}
}

func (w *dailyLevelWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
