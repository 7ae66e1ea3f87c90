package annotation

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	errs "github.com/rmax-ai/revonto/pkg/errors"
)

const (
	gafMinColumns = 15
	maxGAFLine    = 1 << 20
)

// LoadGAF reads a GAF 2.x file from disk.
func LoadGAF(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open annotations %s: %w", path, err)
	}
	defer f.Close()

	return ReadGAF(f)
}

// ReadGAF parses tab separated GAF records from r into a new Store.
// Header lines starting with "!" are ignored except for gaf-version and
// date-generated. Any malformed record fails the whole read.
func ReadGAF(r io.Reader) (*Store, error) {
	s := NewStore()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxGAFLine)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.HasPrefix(line, "!") {
			parseGAFHeader(s, line)
			continue
		}

		a, err := parseGAFLine(line, lineNo)
		if err != nil {
			return nil, err
		}
		if _, err := s.Add(a); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read annotations: %w", err)
	}
	return s, nil
}

func parseGAFHeader(s *Store, line string) {
	body := strings.TrimSpace(strings.TrimPrefix(line, "!"))
	tag, value, ok := strings.Cut(body, ":")
	if !ok {
		return
	}
	switch strings.TrimSpace(tag) {
	case "gaf-version":
		s.Version = strings.TrimSpace(value)
	case "date-generated":
		s.Date = strings.TrimSpace(value)
	}
}

func parseGAFLine(line string, lineNo int) (Annotation, error) {
	cols := strings.Split(line, "\t")
	if len(cols) < gafMinColumns {
		return Annotation{}, errs.WrapDataShape(
			fmt.Errorf("%w: line %d has %d columns, want at least %d", errs.ErrMalformedRecord, lineNo, len(cols), gafMinColumns),
			"annotation", "ReadGAF", "record parsing")
	}

	a := Annotation{
		ProductID:    cols[0] + ":" + cols[1],
		TermID:       cols[4],
		Qualifier:    cols[3],
		Reference:    cols[5],
		EvidenceCode: cols[6],
		Taxon:        cols[12],
		Date:         cols[13],
	}
	if cols[0] == "" || cols[1] == "" {
		a.ProductID = ""
	}
	for _, q := range strings.Split(a.Qualifier, "|") {
		if q == "NOT" {
			a.Negated = true
		}
	}
	if cols[2] != "" {
		a.Extra = map[string]string{"symbol": cols[2]}
	}
	return a, nil
}
