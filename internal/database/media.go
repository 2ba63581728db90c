package database

import "strings"

// MediaURLs turns stored file paths into public URLs.
type MediaURLs struct {
	BaseURL string
}

// URL returns nil when the file has no stored path.
func (m MediaURLs) URL(path *string) *string {
	if path == nil || *path == "" {
		return nil
	}
	p := *path
	if strings.HasPrefix(p, "http://") || strings.HasPrefix(p, "https://") {
		return &p
	}
	if m.BaseURL == "" {
		return &p
	}
	u := strings.TrimRight(m.BaseURL, "/") + "/" + strings.TrimLeft(p, "/")
	return &u
}
