package downstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"

	_ "golang.org/x/image/webp"

	"github.com/baechuer/kimg-panel/internal/domain"
)

// FormField is the multipart field kimg reads uploads from.
const FormField = "file"

// OriginQuery addresses the unmodified upload.
const OriginQuery = "origin=1"

// KimgClient talks to the kimg image service.
type KimgClient struct {
	baseURL string
	http    *Client
}

func NewKimgClient(baseURL string, c *Client) *KimgClient {
	return &KimgClient{baseURL: baseURL, http: c}
}

// ImageURL is the public kimg URL of a rendition.
func (k *KimgClient) ImageURL(hash, query string) string {
	return k.url("/image/", hash, query)
}

func (k *KimgClient) url(prefix, hash, query string) string {
	u := k.baseURL + prefix + url.PathEscape(hash)
	if query != "" {
		u += "?" + query
	}
	return u
}

// Upload posts data as a multipart form and returns the stored hash with
// its inline metadata.
func (k *KimgClient) Upload(ctx context.Context, filename string, data []byte) (domain.UploadResult, error) {
	if len(data) == 0 {
		return domain.UploadResult{}, fmt.Errorf("%w: %w", domain.ErrUploadFailed, errEmptyPayload)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(FormField, filepath.Base(filename))
	if err != nil {
		return domain.UploadResult{}, err
	}
	if _, err := fw.Write(data); err != nil {
		return domain.UploadResult{}, err
	}
	if err := mw.Close(); err != nil {
		return domain.UploadResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.baseURL+"/image", &buf)
	if err != nil {
		return domain.UploadResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := k.http.Do(ctx, req)
	if err != nil {
		return domain.UploadResult{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return domain.UploadResult{}, decodeError(resp)
	}

	var out domain.UploadResult
	if err := json.Unmarshal(resp.Body, &out); err != nil {
		return domain.UploadResult{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if !domain.ValidHash(out.Hash) {
		return domain.UploadResult{}, fmt.Errorf("%w: md5 %q", ErrBadResponse, out.Hash)
	}
	return out, nil
}

// Render fetches a rendition and decodes its header. A body that is not a
// jpeg, png, gif or webp image counts as a failed render.
func (k *KimgClient) Render(ctx context.Context, hash, query string) (domain.Rendition, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url("/image/", hash, query), nil)
	if err != nil {
		return domain.Rendition{}, err
	}
	req.Header.Set("Accept", "image/*")

	resp, err := k.http.Do(ctx, req)
	if err != nil {
		return domain.Rendition{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Rendition{}, decodeError(resp)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(resp.Body))
	if err != nil {
		return domain.Rendition{}, fmt.Errorf("%w: %v", ErrUndecodable, err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(resp.Body)
	}
	return domain.Rendition{
		ContentType: contentType,
		Format:      format,
		Width:       cfg.Width,
		Height:      cfg.Height,
		Body:        resp.Body,
	}, nil
}

// Info returns kimg's metadata for the rendition addressed by query.
func (k *KimgClient) Info(ctx context.Context, hash, query string) (domain.Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.url("/info/", hash, query), nil)
	if err != nil {
		return domain.Metadata{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := k.http.Do(ctx, req)
	if err != nil {
		return domain.Metadata{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Metadata{}, decodeError(resp)
	}

	var md domain.Metadata
	if err := json.Unmarshal(resp.Body, &md); err != nil {
		return domain.Metadata{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	return md, nil
}

func (k *KimgClient) Delete(ctx context.Context, hash string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, k.url("/image/", hash, ""), nil)
	if err != nil {
		return err
	}

	resp, err := k.http.Do(ctx, req)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}
	return nil
}

// Ping checks that kimg answers HTTP at all. kimg has no health route, so any
// status below 500 counts as reachable.
func (k *KimgClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.baseURL+"/image", nil)
	if err != nil {
		return err
	}
	resp, err := k.http.Do(ctx, req)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 500 {
		return decodeError(resp)
	}
	return nil
}
