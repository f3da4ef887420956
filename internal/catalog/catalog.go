package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Video is one catalog entry. URL is the path the stream handler serves the file under.
type Video struct {
	ID        int    `json:"id"`
	Title     string `json:"title"`
	Thumbnail string `json:"thumbnail"`
	URL       string `json:"url"`
}

// Catalog is an ordered, read-only list of videos.
// Nothing mutates it after New returns, so readers need no locking.
type Catalog struct {
	videos []Video
	json   []byte // pre-encoded List() payload
	etag   string
}

var seed = []Video{
	{ID: 1, Title: "Nature Documentary", Thumbnail: "/static/nature.jpg", URL: "/videos/video1.mp4"},
	{ID: 2, Title: "Space Exploration", Thumbnail: "/static/space.jpg", URL: "/videos/video2.mp4"},
}

var defaultCatalog = sync.OnceValue(func() *Catalog {
	c, err := New(seed)
	if err != nil {
		panic("catalog: invalid seed list: " + err.Error())
	}
	return c
})

// Default returns the process-wide built-in catalog.
func Default() *Catalog {
	return defaultCatalog()
}

// New validates videos and returns a catalog holding a private copy of them.
// IDs must be positive and unique; titles must be non-empty.
func New(videos []Video) (*Catalog, error) {
	seen := make(map[int]struct{}, len(videos))
	for i, v := range videos {
		if v.ID <= 0 {
			return nil, fmt.Errorf("catalog: entry %d: id must be positive, got %d", i, v.ID)
		}
		if _, dup := seen[v.ID]; dup {
			return nil, fmt.Errorf("catalog: entry %d: duplicate id %d", i, v.ID)
		}
		seen[v.ID] = struct{}{}
		if strings.TrimSpace(v.Title) == "" {
			return nil, fmt.Errorf("catalog: entry %d (id %d): empty title", i, v.ID)
		}
	}
	own := make([]Video, len(videos))
	copy(own, videos)
	data, err := json.Marshal(own)
	if err != nil {
		return nil, fmt.Errorf("catalog: encode: %w", err)
	}
	sum := sha256.Sum256(data)
	return &Catalog{
		videos: own,
		json:   data,
		etag:   `W/"` + hex.EncodeToString(sum[:16]) + `"`,
	}, nil
}

// Load reads a JSON array of videos from path and builds a catalog from it.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var videos []Video
	if err := json.Unmarshal(data, &videos); err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	return New(videos)
}

// List returns every video in insertion order. The slice is a copy.
func (c *Catalog) List() []Video {
	out := make([]Video, len(c.videos))
	copy(out, c.videos)
	return out
}

// Len returns the number of videos.
func (c *Catalog) Len() int { return len(c.videos) }

// JSON returns the List() payload as a JSON array. Callers must not modify it.
func (c *Catalog) JSON() []byte { return c.json }

// ETag returns a weak entity tag for JSON(). It is weak because the same
// tag is sent with the identity, br and gzip encodings of the payload.
func (c *Catalog) ETag() string { return c.etag }
