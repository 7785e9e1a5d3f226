package memory

import (
	"bytes"
	"strings"

	"CoverityPublisher/internal/ports"
	"CoverityPublisher/pkg/logger"
)

// Build is a build context whose console is captured in a buffer.
type Build struct {
	BuildID string
	Root    string
	Path    string
	out     bytes.Buffer
	console *logger.Console
}

var _ ports.BuildContext = (*Build)(nil)

// NewBuild creates a build rooted at root with path buildURL.
func NewBuild(id, root, buildURL string) *Build {
	b := &Build{BuildID: id, Root: root, Path: buildURL}
	b.console = logger.New(&b.out, "Coverity")
	return b
}

func (b *Build) ID() string             { return b.BuildID }
func (b *Build) RootURL() string        { return b.Root }
func (b *Build) URL() string            { return b.Path }
func (b *Build) Console() ports.Console { return b.console }

// Lines returns the console output split into lines.
func (b *Build) Lines() []string {
	text := strings.TrimSuffix(b.out.String(), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
