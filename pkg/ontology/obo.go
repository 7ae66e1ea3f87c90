package ontology

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	errs "github.com/rmax-ai/revonto/pkg/errors"
)

const maxOBOLine = 1 << 20

type oboOptions struct {
	keepObsolete  bool
	relationships map[string]bool
}

// OBOOption tunes how an OBO file is turned into a Graph.
type OBOOption func(*oboOptions)

// WithObsolete keeps terms flagged is_obsolete.
func WithObsolete() OBOOption {
	return func(o *oboOptions) {
		o.keepObsolete = true
	}
}

// WithRelationships treats the named relationship types (e.g. part_of) as
// parent edges in addition to is_a.
func WithRelationships(names ...string) OBOOption {
	return func(o *oboOptions) {
		for _, n := range names {
			if n = strings.TrimSpace(n); n != "" {
				o.relationships[n] = true
			}
		}
	}
}

// LoadOBO reads an OBO file from disk.
func LoadOBO(path string, opts ...OBOOption) (*Graph, Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Header{}, fmt.Errorf("failed to open ontology %s: %w", path, err)
	}
	defer f.Close()

	return ReadOBO(f, opts...)
}

// ReadOBO parses [Term] stanzas from r. Only id, name, namespace, is_a,
// relationship and is_obsolete tags are interpreted; everything else,
// including [Typedef] stanzas, is skipped.
func ReadOBO(r io.Reader, opts ...OBOOption) (*Graph, Header, error) {
	o := oboOptions{relationships: make(map[string]bool)}
	for _, opt := range opts {
		opt(&o)
	}

	var (
		hdr     Header
		terms   []Term
		current *Term
		inTerm  bool
		inHdr   = true
		lineNo  int
	)

	flush := func() {
		if current != nil && current.ID != "" && (o.keepObsolete || !current.Obsolete) {
			terms = append(terms, *current)
		}
		current = nil
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxOBOLine)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "!") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			inHdr = false
			flush()
			inTerm = line == "[Term]"
			if inTerm {
				current = &Term{}
			}
			continue
		}

		tag, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, Header{}, errs.WrapDataShape(fmt.Errorf("%w: line %d: %q", errs.ErrMalformedRecord, lineNo, line), "ontology", "ReadOBO", "tag parsing")
		}
		value = strings.TrimSpace(value)

		if inHdr {
			switch tag {
			case "format-version":
				hdr.FormatVersion = value
			case "data-version":
				hdr.DataVersion = value
			case "date":
				hdr.Date = value
			}
			continue
		}
		if !inTerm {
			continue
		}

		switch tag {
		case "id":
			current.ID = value
		case "name":
			current.Name = value
		case "namespace":
			current.Namespace = value
		case "is_a":
			if target := firstField(value); target != "" {
				current.Parents = append(current.Parents, target)
			}
		case "relationship":
			fields := strings.Fields(stripComment(value))
			if len(fields) >= 2 && o.relationships[fields[0]] {
				current.Parents = append(current.Parents, fields[1])
			}
		case "is_obsolete":
			current.Obsolete = value == "true"
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, Header{}, fmt.Errorf("failed to read ontology: %w", err)
	}
	flush()

	g, err := NewGraph(terms)
	if err != nil {
		return nil, Header{}, err
	}
	return g, hdr, nil
}

func stripComment(value string) string {
	if i := strings.Index(value, "!"); i >= 0 {
		value = value[:i]
	}
	return strings.TrimSpace(value)
}

func firstField(value string) string {
	fields := strings.Fields(stripComment(value))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
