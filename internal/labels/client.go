// Package labels reads drug labels and their sections from the label service.
// Label content is versioned upstream and never written here.
package labels

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"labelscope/api/internal/content"
)

var (
	ErrDrugNotFound = errors.New("drug not found")
	ErrUpstream     = errors.New("label service unavailable")
)

type Section struct {
	ID            int    `json:"id"`
	LOINCCode     string `json:"loinc_code"`
	Title         string `json:"title"`
	Order         int    `json:"order"`
	Content       string `json:"content"`
	ContentHTML   string `json:"content_html"`
	SectionNumber string `json:"section_number"`
	Level         int    `json:"level"`
}

type Drug struct {
	ID           int       `json:"id"`
	Name         string    `json:"name"`
	GenericName  string    `json:"generic_name"`
	Manufacturer string    `json:"manufacturer"`
	SetID        string    `json:"set_id"`
	Version      int       `json:"version"`
	Sections     []Section `json:"sections"`
}

// Source is what a workspace needs from the label service.
type Source interface {
	GetDrugByID(ctx context.Context, id string) (Drug, error)
}

type Client struct {
	baseURL string
	http    *http.Client
	cache   *cache.Cache
}

// NewClient creates a client for baseURL, e.g. http://host/api/drugs.
// Drugs are cached for ttl; a zero ttl disables the cache.
func NewClient(baseURL string, timeout, ttl time.Duration) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
	if ttl > 0 {
		c.cache = cache.New(ttl, 2*ttl)
	}
	return c
}

func (c *Client) GetDrugByID(ctx context.Context, id string) (Drug, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Drug{}, fmt.Errorf("%w: empty id", ErrDrugNotFound)
	}
	if c.cache != nil {
		if v, ok := c.cache.Get(id); ok {
			return v.(Drug), nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+url.PathEscape(id), nil)
	if err != nil {
		return Drug{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Drug{}, fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Drug{}, fmt.Errorf("%w: %s", ErrDrugNotFound, id)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Drug{}, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var drug Drug
	if err := json.NewDecoder(resp.Body).Decode(&drug); err != nil {
		return Drug{}, fmt.Errorf("%w: decode drug: %w", ErrUpstream, err)
	}
	if c.cache != nil {
		c.cache.SetDefault(id, drug)
	}
	return drug, nil
}

// ContentSections maps label sections to workspace sections. The LOINC code
// names a section; repeated or missing codes fall back to the section id.
func ContentSections(d Drug) []content.Section {
	return contentSections(d, map[string]bool{})
}

// contentSections shares used across drugs so ids stay unique in a
// comparison document. Upstream section ids are unique across labels.
func contentSections(d Drug, used map[string]bool) []content.Section {
	out := make([]content.Section, 0, len(d.Sections))
	for _, s := range d.Sections {
		id := strings.TrimSpace(s.LOINCCode)
		if id == "" || used[id] {
			id = strconv.Itoa(s.ID)
		}
		used[id] = true
		out = append(out, content.Section{ID: id, Title: s.Title, Content: s.Content, ContentHTML: s.ContentHTML})
	}
	return out
}

// SectionRef says which drug a workspace section belongs to.
type SectionRef struct {
	DrugID   string
	DrugName string
	Title    string
}

// SectionIndex maps workspace section ids of a document built from drugs,
// in the same order, to their owning drug.
func SectionIndex(drugs ...Drug) map[string]SectionRef {
	index := map[string]SectionRef{}
	used := map[string]bool{}
	for _, d := range drugs {
		for _, s := range contentSections(d, used) {
			index[s.ID] = SectionRef{DrugID: strconv.Itoa(d.ID), DrugName: d.Name, Title: s.Title}
		}
	}
	return index
}

// SectionTitles maps workspace section ids to display titles.
func SectionTitles(drugs ...Drug) map[string]string {
	titles := map[string]string{}
	for id, ref := range SectionIndex(drugs...) {
		titles[id] = ref.Title
	}
	return titles
}

// LoadDrugs fetches the given drugs concurrently and returns them in order.
func LoadDrugs(ctx context.Context, src Source, ids []string) ([]Drug, error) {
	drugs := make([]Drug, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		g.Go(func() error {
			d, err := src.GetDrugByID(ctx, id)
			if err != nil {
				return err
			}
			drugs[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return drugs, nil
}

// LoadDocument builds one content document from the sections of every drug,
// source drug first.
func LoadDocument(ctx context.Context, src Source, ids []string) (*content.Node, []Drug, error) {
	drugs, err := LoadDrugs(ctx, src, ids)
	if err != nil {
		return nil, nil, err
	}
	var sections []content.Section
	used := map[string]bool{}
	for _, d := range drugs {
		sections = append(sections, contentSections(d, used)...)
	}
	doc, err := content.FromSections(sections)
	if err != nil {
		return nil, nil, err
	}
	return doc, drugs, nil
}
