// Package ortholog maps gene products between organisms so an annotation
// corpus of one species can be studied in the identifier space of another.
package ortholog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rmax-ai/revonto/pkg/annotation"
	"github.com/rmax-ai/revonto/pkg/client"
	errs "github.com/rmax-ai/revonto/pkg/errors"
)

// DefaultEndpoint is the archived g:Profiler g:Orth service.
const DefaultEndpoint = "https://biit.cs.ut.ee/gprofiler_archive3/e108_eg55_p17/api/orth/orth/"

// notAvailable marks a query with no ortholog in the target organism.
const notAvailable = "N/A"

// Resolver finds orthologs of ids. Every queried id that the service knows
// appears in the result, with an empty list when it has no ortholog.
type Resolver interface {
	Orthologs(ctx context.Context, ids []string, sourceTaxon, targetTaxon string) (map[string][]string, error)
}

var organisms = map[string]string{
	"9606":   "hsapiens",
	"7955":   "drerio",
	"10090":  "mmusculus",
	"10116":  "rnorvegicus",
	"7227":   "dmelanogaster",
	"6239":   "celegans",
	"559292": "scerevisiae",
}

// OrganismForTaxon maps an NCBI taxon id ("9606" or "taxon:9606") to its
// g:Profiler organism name. Organism names pass through unchanged.
func OrganismForTaxon(taxon string) (string, error) {
	t := strings.TrimSpace(strings.ToLower(taxon))
	t = strings.TrimPrefix(t, "ncbitaxon:")
	t = strings.TrimPrefix(t, "taxon:")
	if name, ok := organisms[t]; ok {
		return name, nil
	}
	for _, name := range organisms {
		if name == t {
			return name, nil
		}
	}
	return "", errs.WrapConfiguration(
		fmt.Errorf("%w: no organism for taxon %q", errs.ErrInvalidConfig, taxon),
		"ortholog", "OrganismForTaxon", "taxon lookup",
	)
}

// GOrthClient queries the g:Profiler g:Orth API.
type GOrthClient struct {
	endpoint string
	http     *http.Client
	backoff  client.BackoffStrategy
	attempts int
}

// GOrthOption configures a GOrthClient.
type GOrthOption func(*GOrthClient)

// WithEndpoint overrides the g:Orth URL.
func WithEndpoint(url string) GOrthOption {
	return func(c *GOrthClient) { c.endpoint = url }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) GOrthOption {
	return func(c *GOrthClient) { c.http = hc }
}

// WithRetry sets the retry strategy. attempts counts the first try.
func WithRetry(b client.BackoffStrategy, attempts int) GOrthOption {
	return func(c *GOrthClient) {
		c.backoff = b
		c.attempts = attempts
	}
}

// NewGOrthClient creates a g:Orth client with DefaultEndpoint.
func NewGOrthClient(opts ...GOrthOption) *GOrthClient {
	c := &GOrthClient{
		endpoint: DefaultEndpoint,
		http:     &http.Client{Timeout: 60 * time.Second},
		backoff:  client.DefaultBackoff(),
		attempts: 3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type orthRequest struct {
	Organism string   `json:"organism"`
	Target   string   `json:"target"`
	Query    []string `json:"query"`
}

type orthResponse struct {
	Result []struct {
		Incoming     string `json:"incoming"`
		OrthologENSG string `json:"ortholog_ensg"`
	} `json:"result"`
}

// Orthologs resolves ids from sourceTaxon to targetTaxon. Taxa may be NCBI
// ids or g:Profiler organism names.
func (c *GOrthClient) Orthologs(ctx context.Context, ids []string, sourceTaxon, targetTaxon string) (map[string][]string, error) {
	out := make(map[string][]string)
	if len(ids) == 0 {
		return out, nil
	}
	source, err := OrganismForTaxon(sourceTaxon)
	if err != nil {
		return nil, err
	}
	target, err := OrganismForTaxon(targetTaxon)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(orthRequest{Organism: source, Target: target, Query: ids})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal g:Orth request: %w", err)
	}

	var parsed orthResponse
	err = client.Retry(ctx, c.backoff, c.attempts, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return client.Retryable(fmt.Errorf("g:Orth unreachable: %w", err))
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return client.Retryable(fmt.Errorf("g:Orth returned status %d", resp.StatusCode))
		}
		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("g:Orth returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		}
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return fmt.Errorf("failed to decode g:Orth response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ortholog: g:Orth %s -> %s: %w", source, target, err)
	}

	for _, entry := range parsed.Result {
		if _, ok := out[entry.Incoming]; !ok {
			out[entry.Incoming] = []string{}
		}
		if entry.OrthologENSG == notAvailable || entry.OrthologENSG == "" {
			continue
		}
		out[entry.Incoming] = appendUnique(out[entry.Incoming], entry.OrthologENSG)
	}
	return out, nil
}

// Translate rewrites the products of s into their orthologs in targetTaxon.
// Each annotation is copied once per ortholog; products without an ortholog
// are dropped. The query sent to the resolver is the accession part of each
// product id ("UniProtKB:P12345-9606" queries "P12345", see Accession).
//
// Translation never fails a study: with no resolver, an unknown taxon, a
// resolver error or no product mapped at all it logs a warning and returns
// s with false.
func Translate(ctx context.Context, r Resolver, s *annotation.Store, sourceTaxon, targetTaxon string, logger *slog.Logger) (*annotation.Store, bool) {
	if logger == nil {
		logger = slog.Default()
	}
	if r == nil {
		logger.Warn("ortholog_translation_skipped", "reason", "no resolver")
		return s, false
	}

	products := s.Products()
	byAccession := make(map[string][]string, len(products))
	query := make([]string, 0, len(products))
	for _, p := range products {
		var taxon string
		if anns := s.ByProduct(p); len(anns) > 0 {
			taxon = anns[0].Taxon
		}
		acc := Accession(p, taxon)
		if _, seen := byAccession[acc]; !seen {
			query = append(query, acc)
		}
		byAccession[acc] = append(byAccession[acc], p)
	}

	orthologs, err := r.Orthologs(ctx, query, sourceTaxon, targetTaxon)
	if err != nil {
		logger.Warn("ortholog_translation_failed",
			"source", sourceTaxon,
			"target", targetTaxon,
			"error", err,
		)
		return s, false
	}

	targetTag := taxonTag(targetTaxon)
	out := annotation.NewStore()
	out.Version = s.Version
	out.Date = s.Date
	mapped, dropped := 0, 0
	for _, acc := range query {
		targets := orthologs[acc]
		if len(targets) == 0 {
			dropped += len(byAccession[acc])
			continue
		}
		mapped += len(byAccession[acc])
		for _, product := range byAccession[acc] {
			for _, a := range s.ByProduct(product) {
				for _, t := range targets {
					c := a.Clone()
					c.ProductID = t
					if targetTag != "" {
						c.Taxon = targetTag
					}
					if c.Extra == nil {
						c.Extra = map[string]string{}
					}
					c.Extra["source_product"] = product
					// ByProduct yields complete annotations; Add cannot fail.
					_, _ = out.Add(c)
				}
			}
		}
	}

	if mapped == 0 {
		logger.Warn("ortholog_translation_failed",
			"source", sourceTaxon,
			"target", targetTaxon,
			"error", "no product has an ortholog",
			"products", dropped,
		)
		return s, false
	}

	logger.Info("ortholog_translation_completed",
		"source", sourceTaxon,
		"target", targetTaxon,
		"mapped_products", mapped,
		"dropped_products", dropped,
		"annotations", out.Len(),
	)
	return out, true
}

// Accession strips the database prefix from a product id, and the
// "-<taxon id>" suffix left by annotation.Store.AppendTaxonToProductID when
// taxon is the product's taxon.
func Accession(productID, taxon string) string {
	if i := strings.Index(productID, ":"); i >= 0 {
		productID = productID[i+1:]
	}
	if id := annotation.TaxonID(taxon); id != "" {
		productID = strings.TrimSuffix(productID, "-"+id)
	}
	return productID
}

func taxonTag(taxon string) string {
	t := strings.TrimSpace(strings.ToLower(taxon))
	t = strings.TrimPrefix(t, "ncbitaxon:")
	t = strings.TrimPrefix(t, "taxon:")
	if _, ok := organisms[t]; ok {
		return "taxon:" + t
	}
	return ""
}

func appendUnique(list []string, v string) []string {
	i := sort.SearchStrings(list, v)
	if i < len(list) && list[i] == v {
		return list
	}
	list = append(list, "")
	copy(list[i+1:], list[i:])
	list[i] = v
	return list
}
