package pipeline

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vantagesec/vantage/pkg/models"
)

// maxAttachmentBytes caps a single resolved attachment.
const maxAttachmentBytes = 25 << 20

// HTTPLoader resolves attachment references. Data URLs are decoded in place;
// anything else is fetched over HTTP from the upload store.
type HTTPLoader struct {
	Client *http.Client
}

// NewHTTPLoader builds a loader with a bounded fetch budget.
func NewHTTPLoader() *HTTPLoader {
	return &HTTPLoader{Client: &http.Client{Timeout: 30 * time.Second}}
}

func (l *HTTPLoader) Load(ctx context.Context, att models.Attachment) ([]byte, error) {
	ref := att.URL
	if ref == "" {
		ref = att.Path
	}
	if ref == "" {
		return nil, fmt.Errorf("attachment %s has no url or path", att.ID)
	}

	if strings.HasPrefix(ref, "data:") {
		return decodeDataURL(ref)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("attachment fetch: %w", err)
	}
	resp, err := l.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("attachment fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("attachment fetch: %s returned %s", ref, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes+1))
	if err != nil {
		return nil, fmt.Errorf("attachment fetch: %w", err)
	}
	if len(data) > maxAttachmentBytes {
		return nil, fmt.Errorf("attachment %s exceeds %d bytes", att.ID, maxAttachmentBytes)
	}
	return data, nil
}

func decodeDataURL(ref string) ([]byte, error) {
	_, payload, found := strings.Cut(ref, ",")
	if !found {
		return nil, fmt.Errorf("malformed data url")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("malformed data url: %w", err)
	}
	return data, nil
}
