package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestNewWithConfig_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	log := NewWithConfig(Options{Level: "warn", File: path, MaxSizeMB: 1})

	log.Info("below level")
	log.Warn("deadline index lagging", "auction_id", 42)
	_ = log.(*ZapLogger).Sync()

	data, err := os.ReadFile(path)
	assert.NoError(t, err)
	out := string(data)
	check.True(t, strings.Contains(out, `"msg":"deadline index lagging"`))
	check.True(t, strings.Contains(out, `"auction_id":42`))
	check.False(t, strings.Contains(out, "below level"))
}
