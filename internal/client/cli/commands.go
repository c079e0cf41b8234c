package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/mediasync/internal/client/models"
	"github.com/dmitrijs2005/mediasync/internal/client/thumbnail"
)

var errUsage = errors.New("usage")

// argOrPrompt returns args[0] or asks for the value.
func (a *App) argOrPrompt(args []string, prompt string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	v, err := GetSimpleText(a.reader, prompt, a.out)
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", fmt.Errorf("%w: %s", errUsage, prompt)
	}
	return v, nil
}

func (a *App) Add(ctx context.Context, args []string) error {
	path, err := a.argOrPrompt(args, "Enter file path")
	if err != nil {
		return err
	}
	m, err := a.factory.CreateFromFile(ctx, path, a.config.BlogID, "", func(m *models.Media) {
		a.log.Info(ctx, "thumbnail ready", "local_id", m.LocalID, "path", m.ThumbnailPath)
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "added %s (%s, %d bytes)\n", m.LocalID, m.MIMEType, m.Size)
	return nil
}

func (a *App) Upload(ctx context.Context, args []string) error {
	id, err := a.argOrPrompt(args, "Enter media id to upload")
	if err != nil {
		return err
	}
	task, err := a.uploader.Upload(ctx, id)
	if err != nil {
		return err
	}
	m, err := followUpload(ctx, a.out, task)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "uploaded %s as %s\n", m.LocalID, m.RemoteURL)
	return nil
}

func (a *App) Pending(ctx context.Context) error {
	tasks, err := a.uploader.UploadPending(ctx, a.config.BlogID)
	if err != nil {
		return err
	}
	var errs []error
	for _, task := range tasks {
		if _, err := task.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", task.LocalID(), err))
		}
	}
	fmt.Fprintf(a.out, "%d uploads, %d failed\n", len(tasks), len(errs))
	return errors.Join(errs...)
}

func (a *App) Edit(ctx context.Context, args []string) error {
	id, err := a.argOrPrompt(args, "Enter media id to edit")
	if err != nil {
		return err
	}
	m, err := a.media.Get(ctx, id)
	if err != nil {
		return err
	}
	lines, err := GetMetadata(a.reader, a.out)
	if err != nil {
		return err
	}
	md, err := ParseMetadata(m.Metadata, lines)
	if err != nil {
		return err
	}
	m, err = a.media.EditMetadata(ctx, id, md)
	if err != nil {
		return err
	}
	if m.Dirty {
		fmt.Fprintln(a.out, "saved locally; run push to update the server")
	}
	return nil
}

// Push sends edited metadata. Without ids every dirty record of the blog
// is pushed.
func (a *App) Push(ctx context.Context, args []string) error {
	ids := args
	if len(ids) == 0 {
		records, err := a.media.List(ctx, a.config.BlogID)
		if err != nil {
			return err
		}
		for _, m := range records {
			if m.Dirty && m.RemoteID != "" {
				ids = append(ids, m.LocalID)
			}
		}
	}
	if len(ids) == 0 {
		fmt.Fprintln(a.out, "nothing to push")
		return nil
	}
	if err := a.uploader.UpdateMultiple(ctx, ids); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "pushed %d records\n", len(ids))
	return nil
}

func (a *App) Sync(ctx context.Context) error {
	report, err := a.syncer.SyncLibrary(ctx, a.config.BlogID)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "sync: %d pages, %d created, %d updated, %d deleted\n",
		report.Pages, report.Created, report.Updated, report.Deleted)
	return nil
}

// Status prints the mode and the last sync time of every known blog.
func (a *App) Status(ctx context.Context) error {
	if a.watcher != nil {
		fmt.Fprintf(a.out, "mode: %s\n", a.watcher.Mode())
	}
	status, err := a.syncer.SyncStatus(ctx)
	if err != nil {
		return err
	}
	if len(status) == 0 {
		fmt.Fprintln(a.out, "never synced")
		return nil
	}
	blogs := make([]string, 0, len(status))
	for blog := range status {
		blogs = append(blogs, blog)
	}
	sort.Strings(blogs)
	for _, blog := range blogs {
		fmt.Fprintf(a.out, "%s: last sync %s\n", blog, status[blog].Local().Format(time.DateTime))
	}
	return nil
}

func (a *App) List(ctx context.Context) error {
	records, err := a.media.List(ctx, a.config.BlogID)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSTATE\tCACHED\tNAME\tCAPTION")
	for _, m := range records {
		state := string(m.UploadState)
		if m.Dirty {
			state += "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%s\t%s\n",
			m.LocalID, m.MediaType, state, m.LocalPath != "", m.Filename, m.Metadata.Caption)
	}
	return tw.Flush()
}

func (a *App) Fetch(ctx context.Context, args []string) error {
	id, err := a.argOrPrompt(args, "Enter remote media id")
	if err != nil {
		return err
	}
	m, err := a.media.GetRemote(ctx, a.config.BlogID, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "fetched %s as %s\n", m.RemoteID, m.LocalID)
	return nil
}

func (a *App) Count(ctx context.Context, args []string) error {
	types := make([]models.MediaType, 0, len(args))
	for _, arg := range args {
		types = append(types, models.MediaType(strings.ToLower(arg)))
	}
	n, err := a.media.Count(ctx, a.config.BlogID, types...)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, n)
	return nil
}

func (a *App) Video(ctx context.Context, args []string) error {
	id, err := a.argOrPrompt(args, "Enter remote video id")
	if err != nil {
		return err
	}
	ref, err := a.media.ResolveVideo(ctx, a.config.BlogID, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "video:  %s\nposter: %s\n", ref.VideoURL, ref.PosterURL)
	return nil
}

// Thumb prints the thumbnail path with its pixel size. The image itself is
// read through the in-memory thumbnail cache.
func (a *App) Thumb(ctx context.Context, args []string) error {
	id, err := a.argOrPrompt(args, "Enter media id")
	if err != nil {
		return err
	}
	var size models.Size
	if len(args) > 1 {
		if size, err = ParseSize(args[1]); err != nil {
			return err
		}
	}
	p, err := a.media.Thumbnail(ctx, id, size)
	if err != nil {
		return err
	}
	data, err := a.media.ThumbnailBytes(ctx, id, size)
	if err != nil {
		return err
	}
	dims, err := thumbnail.DecodeConfig(bytes.NewReader(data), thumbnail.OutputMIME)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s %s %d bytes\n", p, dims, len(data))
	return nil
}

func (a *App) Clean(ctx context.Context) error {
	n, err := a.janitor.CleanOrphans(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "removed %d orphaned files\n", n)
	return nil
}

func (a *App) Reclaim(ctx context.Context) error {
	n, err := a.janitor.ReclaimUploaded(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "reclaimed %d originals\n", n)
	return nil
}

func (a *App) Delete(ctx context.Context, args []string) error {
	id, err := a.argOrPrompt(args, "Enter media id to delete")
	if err != nil {
		return err
	}
	if err := a.media.Delete(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "deleted %s\n", id)
	return nil
}
