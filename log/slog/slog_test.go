package slog

import (
	"bytes"
	stdslog "log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/unkn0wn-root/itemstore"
)

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	l := Logger{L: stdslog.New(stdslog.NewTextHandler(&buf, &stdslog.HandlerOptions{
		Level: stdslog.LevelInfo,
		ReplaceAttr: func(_ []string, a stdslog.Attr) stdslog.Attr {
			if a.Key == stdslog.TimeKey {
				return stdslog.Attr{}
			}
			return a
		},
	}))}

	l.Debug("hidden", itemstore.Fields{"x": 1})
	l.Info("item removed", itemstore.Fields{"id": "a", "count": 2})
	l.Error("adapter error", nil)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{
		`level=INFO msg="item removed" count=2 id=a`,
		`level=ERROR msg="adapter error"`,
	}, lines)
}
