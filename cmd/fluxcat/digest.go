package main

import (
	"bufio"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/kbukum/flux/flux"
	"github.com/kbukum/flux/logger"
	"github.com/kbukum/flux/sqlflux"
)

// Digest is the result for one file.
type Digest struct {
	Path   string
	SHA256 string
	Lines  int
	Bytes  int64
}

// lines yields the non-empty trimmed lines of r.
func lines(r io.Reader) *flux.Sequence[string] {
	return flux.FromFunc(func(ctx context.Context, yield func(string) bool) error {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			if !yield(line) {
				return nil
			}
		}
		return sc.Err()
	})
}

// digestFile hashes path and counts its lines.
func digestFile(ctx context.Context, path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return Digest{}, err
	}
	defer f.Close()

	h := sha256.New()
	lc := &lineCounter{}
	n, err := io.Copy(io.MultiWriter(h, lc), &ctxReader{ctx: ctx, r: f})
	if err != nil {
		return Digest{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return Digest{Path: path, SHA256: hex.EncodeToString(h.Sum(nil)), Lines: lc.lines(), Bytes: n}, nil
}

type lineCounter struct {
	n       int
	partial bool
}

func (c *lineCounter) Write(p []byte) (int, error) {
	for _, b := range p {
		if b == '\n' {
			c.n++
			c.partial = false
		} else {
			c.partial = true
		}
	}
	return len(p), nil
}

func (c *lineCounter) lines() int {
	if c.partial {
		return c.n + 1
	}
	return c.n
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

// run digests every path and writes one line per file to w, in input order.
func run(ctx context.Context, cfg DigestConfig, paths *flux.Sequence[string], w io.Writer) error {
	opts := []flux.FlatMapOption{flux.WithName("digest")}
	if cfg.Concurrency > 0 {
		opts = append(opts, flux.WithConcurrency(cfg.Concurrency))
	}
	digests := flux.FlatMapAsync(paths, digestFile, opts...)

	if cfg.Store != "" {
		db, err := openStore(ctx, cfg.Store)
		if err != nil {
			_ = digests.Return()
			return err
		}
		defer db.Close()
		record := sqlflux.Exec(db, "INSERT INTO digests (path, sha256, lines, bytes) VALUES (?, ?, ?, ?)",
			func(d Digest) []any { return []any{d.Path, d.SHA256, d.Lines, d.Bytes} })
		digests = digests.Tap(func(ctx context.Context, d Digest) error {
			_, err := record(ctx, d)
			return err
		})
	}

	var count int
	err := digests.DoAfterLast(func(_ context.Context, all []Digest) error {
		count = len(all)
		return nil
	}).ForEach(ctx, func(_ context.Context, d Digest) error {
		_, err := fmt.Fprintf(w, "%s  %6d  %s\n", d.SHA256, d.Lines, d.Path)
		return err
	})
	if err != nil {
		return err
	}
	logger.WithComponent(serviceName).Info("digest complete", logger.Fields("files", count))
	return nil
}

func openStore(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS digests (
		path TEXT NOT NULL,
		sha256 TEXT NOT NULL,
		lines INTEGER NOT NULL,
		bytes INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
