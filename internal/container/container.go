// Package container reads the on-disk state container: a zip archive holding
// a small flat meta record and the large state blob. Only container-level
// problems (unreadable archive, missing member) are errors; everything past
// that point is the extractor's concern.
package container

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	metaMember  = "meta"
	stateMember = "gamestate"
)

// ErrCorrupt marks a container that could not be opened or is missing a
// required member. The scheduler treats it as "file still being written"
// during the stability wait and as a hard failure afterwards.
var ErrCorrupt = errors.New("state container corrupt or incomplete")

// Meta is the parsed flat metadata record.
type Meta struct {
	Name    string
	Date    string
	Version string
}

// Container is an opened state archive.
type Container struct {
	path string
	zr   *zip.ReadCloser
}

// Open opens the archive at path and verifies both required members exist.
func Open(path string) (*Container, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	c := &Container{path: path, zr: zr}
	for _, member := range []string{metaMember, stateMember} {
		if _, err := c.find(member); err != nil {
			zr.Close()
			return nil, err
		}
	}
	return c, nil
}

// Close releases the underlying archive handle.
func (c *Container) Close() error { return c.zr.Close() }

// Path returns the archive path this container was opened from.
func (c *Container) Path() string { return c.path }

func (c *Container) find(name string) (*zip.File, error) {
	for _, f := range c.zr.File {
		if f.Name == name {
			return f, nil
		}
	}
	return nil, fmt.Errorf("%w: %s: missing member %q", ErrCorrupt, c.path, name)
}

func (c *Container) readMember(name string) (string, error) {
	f, err := c.find(name)
	if err != nil {
		return "", err
	}
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("%w: %s: open %q: %v", ErrCorrupt, c.path, name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("%w: %s: read %q: %v", ErrCorrupt, c.path, name, err)
	}
	return string(data), nil
}

// ReadMeta parses the meta member. Malformed lines are skipped; an empty meta
// member yields a zero Meta, not an error.
func (c *Container) ReadMeta() (Meta, error) {
	text, err := c.readMember(metaMember)
	if err != nil {
		return Meta{}, err
	}
	return ParseMeta(text), nil
}

// ReadState returns the full state blob as a string.
func (c *Container) ReadState() (string, error) {
	return c.readMember(stateMember)
}

// ParseMeta parses flat key="value" lines. Unknown keys and lines without the
// quoted-value shape are ignored.
func ParseMeta(text string) Meta {
	var m Meta
	for _, line := range strings.Split(text, "\n") {
		key, val, ok := splitMetaLine(line)
		if !ok {
			continue
		}
		switch key {
		case "name":
			m.Name = val
		case "date":
			m.Date = val
		case "version":
			m.Version = val
		}
	}
	return m
}

func splitMetaLine(line string) (key, val string, ok bool) {
	line = strings.TrimRight(line, "\r")
	eq := strings.IndexByte(line, '=')
	if eq <= 0 {
		return "", "", false
	}
	raw := line[eq+1:]
	if len(raw) < 2 || raw[0] != '"' || raw[len(raw)-1] != '"' {
		return "", "", false
	}
	return line[:eq], raw[1 : len(raw)-1], true
}
