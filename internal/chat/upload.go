package chat

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"erpchat/internal/protocol"
)

// maxParallelUploads caps concurrent uploads for one send.
const maxParallelUploads = 4

// Uploader stores a local file and returns its durable reference.
type Uploader interface {
	UploadFile(ctx context.Context, path string) (protocol.File, error)
}

// FileFailure is one attachment that could not be uploaded.
type FileFailure struct {
	Path string
	Err  error
}

// UploadError lists the attachments left out of a send.
type UploadError struct {
	Failures []FileFailure
}

func (e *UploadError) Error() string {
	names := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		names = append(names, fmt.Sprintf("%s (%v)", filepath.Base(f.Path), f.Err))
	}
	return "upload failed: " + strings.Join(names, ", ")
}

func (e *UploadError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// uploadAll uploads paths in parallel. Successful attachments keep the order
// of paths; failures are collected per file instead of aborting the rest.
func uploadAll(ctx context.Context, up Uploader, paths []string) ([]Attachment, *UploadError) {
	if len(paths) == 0 {
		return nil, nil
	}
	if up == nil {
		failures := make([]FileFailure, 0, len(paths))
		for _, p := range paths {
			failures = append(failures, FileFailure{Path: p, Err: errors.New("uploads are not configured")})
		}
		return nil, &UploadError{Failures: failures}
	}

	refs := make([]protocol.File, len(paths))
	errs := make([]error, len(paths))
	var g errgroup.Group
	g.SetLimit(maxParallelUploads)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			refs[i], errs[i] = up.UploadFile(ctx, path)
			return nil
		})
	}
	_ = g.Wait()

	var attachments []Attachment
	var failures []FileFailure
	for i, path := range paths {
		if errs[i] != nil {
			failures = append(failures, FileFailure{Path: path, Err: errs[i]})
			continue
		}
		attachments = append(attachments, attachmentFromWire(refs[i]))
	}
	if len(failures) > 0 {
		return attachments, &UploadError{Failures: failures}
	}
	return attachments, nil
}
