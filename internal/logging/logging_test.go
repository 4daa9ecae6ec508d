package logging

import (
    "os"
    "path/filepath"
    "testing"

    "github.com/natefinch/lumberjack"
    "github.com/sirupsen/logrus"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestSetupRotatedJSONFile(t *testing.T) {
    path := filepath.Join(t.TempDir(), "logs", "collectroute.log")
    out, err := Setup(Options{Level: "debug", Format: "json", File: path})
    require.NoError(t, err)
    t.Cleanup(func() {
        _ = out.(*lumberjack.Logger).Close()
        logrus.SetOutput(os.Stderr)
        logrus.SetFormatter(&logrus.TextFormatter{})
        logrus.SetLevel(logrus.InfoLevel)
    })

    assert.Equal(t, logrus.DebugLevel, logrus.GetLevel())
    logrus.WithField("route_id", "r1").Info("hello")

    data, err := os.ReadFile(path)
    require.NoError(t, err)
    assert.Contains(t, string(data), `"route_id":"r1"`)
}

func TestSetupRejectsUnknownLevel(t *testing.T) {
    _, err := Setup(Options{Level: "chatty"})
    assert.Error(t, err)
    logrus.SetLevel(logrus.InfoLevel)
}
