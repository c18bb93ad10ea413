package internal

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/lychee-technology/dataverse"
)

const octetStream = "application/octet-stream"

// concurrencyHeader picks the upload precondition. The default demands an
// empty target column so an upload never silently clobbers a stored file;
// Overwrite switches to an unconditional write.
func concurrencyHeader(opts *dataverse.UploadOptions) (string, string) {
	if opts != nil && opts.Overwrite {
		return "If-Match", "*"
	}
	return "If-None-Match", "null"
}

// UploadFile stores size bytes from content in a file column. Auto mode
// sends payloads up to the chunk size in one request and streams anything
// larger through the chunked session protocol.
func (c *client) UploadFile(ctx context.Context, table, id, column, fileName string, content io.Reader, size int64, opts *dataverse.UploadOptions) error {
	ctx = WithCorrelation(ctx)
	if content == nil {
		return dataverse.NewValidationError("file content cannot be nil")
	}
	if size < 0 {
		return dataverse.NewValidationError("file size cannot be negative")
	}
	if strings.TrimSpace(fileName) == "" {
		return dataverse.NewValidationError("file name cannot be empty")
	}
	clogical := normalizeLogical(column)
	if clogical == "" {
		return dataverse.NewValidationError("column name cannot be empty")
	}

	meta, err := c.res.ResolveEntity(ctx, table)
	if err != nil {
		return err
	}
	guid, err := NormalizeGUID(id)
	if err != nil {
		return err
	}

	chunkSize := c.cfg.Upload.ChunkSize
	if opts != nil && opts.ChunkSize > 0 {
		chunkSize = opts.ChunkSize
	}

	mode := dataverse.UploadModeAuto
	if opts != nil && opts.Mode != "" {
		mode = opts.Mode
	}
	switch mode {
	case dataverse.UploadModeAuto:
		if size <= int64(chunkSize) {
			mode = dataverse.UploadModeSmall
		} else {
			mode = dataverse.UploadModeChunk
		}
	case dataverse.UploadModeSmall:
		if size > int64(chunkSize) {
			return dataverse.NewValidationError(fmt.Sprintf(
				"file of %d bytes exceeds the %d byte single-request limit, use chunk or auto mode",
				size, chunkSize))
		}
	case dataverse.UploadModeChunk:
	default:
		return dataverse.NewValidationError(fmt.Sprintf("unknown upload mode %q", mode))
	}

	path := fmt.Sprintf("%s(%s)/%s", meta.EntitySetName, guid, clogical)
	if mode == dataverse.UploadModeSmall {
		err = c.uploadSmall(ctx, path, fileName, content, size, opts)
	} else {
		err = c.uploadChunked(ctx, path, fileName, content, size, chunkSize, opts)
	}
	if err != nil {
		return err
	}
	zap.S().Infow("file uploaded",
		"table", meta.LogicalName,
		"column", clogical,
		"fileName", fileName,
		"size", size,
		"mode", mode)
	return nil
}

func (c *client) uploadSmall(ctx context.Context, path, fileName string, content io.Reader, size int64, opts *dataverse.UploadOptions) error {
	data := make([]byte, size)
	if _, err := io.ReadFull(content, data); err != nil {
		return dataverse.NewInternalError(
			fmt.Sprintf("file content ended before the declared %d bytes", size), err)
	}

	cond, condValue := concurrencyHeader(opts)
	_, err := c.t.do(ctx, &call{
		method: http.MethodPatch,
		path:   path,
		headers: map[string]string{
			"Content-Type":   octetStream,
			"x-ms-file-name": fileName,
			cond:             condValue,
		},
		raw:     data,
		timeout: c.cfg.HTTP.WriteTimeout,
	})
	return err
}

// uploadChunked drives the chunked session protocol: one initialization
// request opens the session and dictates the chunk size, then byte-range
// requests walk the payload until the final chunk is acknowledged. A failed
// chunk surfaces as an error; the session is not resumed.
func (c *client) uploadChunked(ctx context.Context, path, fileName string, content io.Reader, size int64, chunkSize int, opts *dataverse.UploadOptions) error {
	cond, condValue := concurrencyHeader(opts)
	resp, err := c.t.do(ctx, &call{
		method: http.MethodPatch,
		path:   path,
		headers: map[string]string{
			"x-ms-transfer-mode": "chunked",
			"x-ms-file-name":     fileName,
			cond:                 condValue,
		},
	})
	if err != nil {
		return err
	}

	session, err := c.sessionURL(resp.header.Get("Location"))
	if err != nil {
		return err
	}
	// The service may dictate its own chunk size for the session.
	if v := resp.header.Get("x-ms-chunk-size"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			chunkSize = n
		}
	}

	buf := make([]byte, chunkSize)
	for offset := int64(0); offset < size; {
		n := int64(chunkSize)
		if remaining := size - offset; remaining < n {
			n = remaining
		}
		if _, err := io.ReadFull(content, buf[:n]); err != nil {
			return dataverse.NewInternalError(
				fmt.Sprintf("file content ended at byte %d of the declared %d", offset, size), err)
		}

		if _, err := c.t.do(ctx, &call{
			method: http.MethodPatch,
			path:   session,
			headers: map[string]string{
				"Content-Type":   octetStream,
				"x-ms-file-name": fileName,
				"Content-Range":  fmt.Sprintf("bytes %d-%d/%d", offset, offset+n-1, size),
			},
			raw:     buf[:n],
			timeout: c.cfg.HTTP.WriteTimeout,
		}); err != nil {
			return err
		}
		offset += n
		zap.S().Debugw("chunk uploaded", "fileName", fileName, "offset", offset, "total", size)
	}
	return nil
}

// sessionURL normalizes the Location header of a chunked upload
// initialization, which comes back absolute or site-relative depending on
// the environment.
func (c *client) sessionURL(loc string) (string, error) {
	if loc == "" {
		return "", dataverse.NewInternalError("chunked upload initialization returned no Location header", nil)
	}
	if strings.HasPrefix(loc, "http://") || strings.HasPrefix(loc, "https://") {
		return loc, nil
	}
	if strings.HasPrefix(loc, "/") {
		return strings.TrimRight(c.cfg.BaseURL, "/") + loc, nil
	}
	return c.cfg.APIBaseURL() + loc, nil
}

// DownloadFile reads a file column's content and stored file name.
func (c *client) DownloadFile(ctx context.Context, table, id, column string) ([]byte, string, error) {
	ctx = WithCorrelation(ctx)
	clogical := normalizeLogical(column)
	if clogical == "" {
		return nil, "", dataverse.NewValidationError("column name cannot be empty")
	}
	meta, err := c.res.ResolveEntity(ctx, table)
	if err != nil {
		return nil, "", err
	}
	guid, err := NormalizeGUID(id)
	if err != nil {
		return nil, "", err
	}

	resp, err := c.t.do(ctx, &call{
		method:  http.MethodGet,
		path:    fmt.Sprintf("%s(%s)/%s/$value", meta.EntitySetName, guid, clogical),
		headers: map[string]string{"Accept": octetStream},
		timeout: c.cfg.HTTP.WriteTimeout,
	})
	if err != nil {
		return nil, "", err
	}

	name := resp.header.Get("x-ms-file-name")
	if name == "" {
		if _, params, err := mime.ParseMediaType(resp.header.Get("Content-Disposition")); err == nil {
			name = params["filename"]
		}
	}
	return resp.body, name, nil
}
