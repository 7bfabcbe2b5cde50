package aggregator

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/klauspost/compress/zip"

	"papers-crawler/pkg/domain"
	"papers-crawler/pkg/progress"
)

const timestampLayout = "20060102_150405"

// Summary describes the end-of-run artifacts. Err joins any artifact
// failures; the persisted records are unaffected by it.
type Summary struct {
	Count        int
	ManifestPath string
	ArchivePath  string
	ArchiveSize  int64
	Err          error
}

// Finalize writes the manifest and archive when at least one record was
// persisted. It never modifies the persisted list.
func (a *Aggregator) Finalize(ctx context.Context) Summary {
	entries := a.state.Persisted()
	summary := Summary{Count: len(entries)}
	if len(entries) == 0 {
		a.logger.Info("nothing persisted, skipping manifest and archive")
		return summary
	}

	a.progress.Total(progress.Event{
		Current: len(entries),
		Total:   a.limit,
		Status:  "writing manifest and archive",
		Stage:   progress.StageFinalizing,
	})

	ts := a.now().Format(timestampLayout)
	var errs []error

	manifest := filepath.Join(a.outRoot, "extraction_summary_"+ts+".csv")
	if err := writeManifest(manifest, entries); err != nil {
		a.logger.Error("failed to write manifest", "path", manifest, "err", err)
		errs = append(errs, fmt.Errorf("%w: %w", ErrManifest, err))
	} else {
		summary.ManifestPath = manifest
		a.logger.Info("manifest written", "path", manifest)
	}

	if err := ctx.Err(); err != nil {
		errs = append(errs, fmt.Errorf("%w: %w", ErrArchive, err))
		summary.Err = errors.Join(errs...)
		return summary
	}

	archive := filepath.Join(a.outRoot, "all_"+ts+".zip")
	size, err := writeArchive(archive, a.outRoot, entries)
	if err != nil {
		a.logger.Error("failed to write archive", "path", archive, "err", err)
		errs = append(errs, fmt.Errorf("%w: %w", ErrArchive, err))
	} else {
		summary.ArchivePath = archive
		summary.ArchiveSize = size
		a.logger.Info("archive written", "path", archive, "size_mb", fmt.Sprintf("%.1f", float64(size)/(1024*1024)))
	}

	summary.Err = errors.Join(errs...)
	a.progress.Total(progress.Event{
		Current: len(entries),
		Total:   a.limit,
		Status:  "finished",
		Size:    summary.ArchiveSize,
		Stage:   progress.StageDone,
	})
	return summary
}

func writeManifest(path string, entries []domain.Persisted) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	_ = w.Write([]string{"Number", "Journal", "Article Name", "Publish Date", "File Path", "File Size (KB)"})
	for i, e := range entries {
		var sizeKB float64
		if info, err := os.Stat(e.Path); err == nil {
			sizeKB = float64(info.Size()) / 1024
		}
		_ = w.Write([]string{
			strconv.Itoa(i + 1),
			e.Target,
			e.Title,
			e.PublishedOn,
			e.Path,
			fmt.Sprintf("%.2f", sizeKB),
		})
	}
	w.Flush()

	if err := w.Error(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func writeArchive(path, root string, entries []domain.Persisted) (int64, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}

	zw := zip.NewWriter(f)
	added := make(map[string]bool, len(entries))
	for _, e := range entries {
		name, err := filepath.Rel(root, e.Path)
		if err != nil {
			name = filepath.Base(e.Path)
		}
		name = filepath.ToSlash(name)
		// Colliding titles share a file; archive it once.
		if added[name] {
			continue
		}
		added[name] = true

		if err := addFile(zw, e.Path, name); err != nil {
			zw.Close()
			f.Close()
			return 0, fmt.Errorf("add %s: %w", name, err)
		}
	}

	if err := zw.Close(); err != nil {
		f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func addFile(zw *zip.Writer, src, name string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}
