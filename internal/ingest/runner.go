package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"git.home.luguber.info/inful/statewatch/internal/container"
	"git.home.luguber.info/inful/statewatch/internal/extract"
	"git.home.luguber.info/inful/statewatch/internal/snapshot"
)

// Runner executes one extraction tier against a state container. The
// production implementation is a subprocess so a cancelled extraction
// reclaims its memory deterministically; LocalRunner runs in-process and
// backs both the subprocess's own invocation and the tests.
type Runner interface {
	Tier1(ctx context.Context, path string) (extract.Status, error)
	Tier2(ctx context.Context, path string) (*snapshot.Snapshot, error)
}

// LocalRunner extracts in the calling process.
type LocalRunner struct {
	Logger *slog.Logger
	Opts   extract.Tier2Options
}

func (r *LocalRunner) Tier1(ctx context.Context, path string) (extract.Status, error) {
	blob, _, err := loadState(path)
	if err != nil {
		return extract.Status{}, err
	}
	if err := ctx.Err(); err != nil {
		return extract.Status{}, err
	}
	return extract.New(blob, r.Logger).Tier1(), nil
}

func (r *LocalRunner) Tier2(ctx context.Context, path string) (*snapshot.Snapshot, error) {
	blob, meta, err := loadState(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := extract.New(blob, r.Logger).Tier2(r.Opts)
	snap.Version = meta.Version
	if snap.OwnerName == "" {
		snap.OwnerName = meta.Name
	}
	if fi, err := os.Stat(path); err == nil {
		snap.SourceSig = snapshot.SourceSig{Path: path, Size: fi.Size(), ModTime: fi.ModTime()}
	} else {
		snap.SourceSig = snapshot.SourceSig{Path: path}
	}
	return snap, nil
}

func loadState(path string) (string, container.Meta, error) {
	c, err := container.Open(path)
	if err != nil {
		return "", container.Meta{}, err
	}
	defer c.Close()

	meta, err := c.ReadMeta()
	if err != nil {
		return "", container.Meta{}, err
	}
	blob, err := c.ReadState()
	if err != nil {
		return "", container.Meta{}, fmt.Errorf("read state blob: %w", err)
	}
	return blob, meta, nil
}
