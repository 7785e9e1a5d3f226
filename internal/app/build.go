package app

import (
	"io"
	"strings"

	"github.com/google/uuid"

	"CoverityPublisher/internal/ports"
	"CoverityPublisher/pkg/logger"
)

// BuildInfo identifies the CI build defects are published to.
type BuildInfo struct {
	ID      string
	RootURL string
	URL     string
}

type buildContext struct {
	info    BuildInfo
	console *logger.Console
}

var _ ports.BuildContext = (*buildContext)(nil)

// newBuildContext fills in a random build id when none is given and makes
// both URLs end with a slash so detail links concatenate cleanly.
func newBuildContext(info BuildInfo, console io.Writer) *buildContext {
	if info.ID == "" {
		info.ID = uuid.NewString()
	}
	info.RootURL = withSlash(info.RootURL)
	info.URL = withSlash(info.URL)
	return &buildContext{info: info, console: logger.New(console, "Coverity")}
}

func (b *buildContext) ID() string             { return b.info.ID }
func (b *buildContext) RootURL() string        { return b.info.RootURL }
func (b *buildContext) URL() string            { return b.info.URL }
func (b *buildContext) Console() ports.Console { return b.console }

func withSlash(s string) string {
	if s == "" || strings.HasSuffix(s, "/") {
		return s
	}
	return s + "/"
}
