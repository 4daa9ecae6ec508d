// Package logging configures the process-wide logrus logger.
package logging

import (
    "io"
    "os"
    "strings"
    "time"

    "github.com/natefinch/lumberjack"
    "github.com/sirupsen/logrus"
)

type Options struct {
    Level  string
    Format string // text or json
    File   string // rotated with lumberjack when set
}

// Setup applies opts to the standard logger and returns the writer it now uses.
func Setup(opts Options) (io.Writer, error) {
    var out io.Writer = os.Stderr
    if opts.File != "" {
        out = &lumberjack.Logger{
            Filename:   opts.File,
            MaxSize:    10, // megabytes
            MaxBackups: 7,
            MaxAge:     7, // days
            Compress:   true,
        }
    }
    logrus.SetOutput(out)

    if strings.EqualFold(opts.Format, "json") {
        logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
    } else {
        logrus.SetFormatter(&logrus.TextFormatter{
            FullTimestamp:   true,
            TimestampFormat: time.RFC3339,
        })
    }

    level := logrus.InfoLevel
    if opts.Level != "" {
        l, err := logrus.ParseLevel(opts.Level)
        if err != nil {
            return out, err
        }
        level = l
    }
    logrus.SetLevel(level)
    return out, nil
}
