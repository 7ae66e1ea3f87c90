package main

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmax-ai/revonto/pkg/client"
	"github.com/rmax-ai/revonto/pkg/engine"
)

type fakeClient struct {
	result *client.StudyResult
	err    error
	got    client.StudyRequest
}

func (f *fakeClient) RunStudy(ctx context.Context, req client.StudyRequest) (*client.StudyResult, error) {
	f.got = req
	return f.result, f.err
}

func (f *fakeClient) Population(ctx context.Context) (engine.Population, error) {
	return engine.Population{Products: 3, Terms: 4, Annotations: 5}, f.err
}

func testResult() *client.StudyResult {
	strong := &engine.Record{ProductID: "P1", StudyCount: 2, StudyN: 2, PopCount: 2, PopN: 40, PUncorrected: 0.001, Enrichment: engine.Enriched}
	strong.SetCorrected("bonferroni", 0.002)
	weak := &engine.Record{ProductID: "P2", StudyCount: 1, StudyN: 2, PopCount: 30, PopN: 40, PUncorrected: 0.9, Enrichment: engine.Purified}
	weak.SetCorrected("bonferroni", 1)
	return &client.StudyResult{
		StudyID: "s-1",
		Methods: []string{"bonferroni"},
		Alpha:   0.05,
		Records: []*engine.Record{weak, strong},
	}
}

func TestRenderRecords(t *testing.T) {
	out := renderRecords(testResult())
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "p_bonferroni")
	assert.Contains(t, lines[1], "P1")
	assert.Contains(t, lines[1], "0.002")
	assert.Contains(t, lines[2], "P2")

	assert.Contains(t, renderRecords(&client.StudyResult{}), "No product")
	assert.Contains(t, renderRecords(nil), "No product")
}

func TestSplitTerms(t *testing.T) {
	assert.Equal(t, []string{"GO:1", "GO:2", "GO:3"}, splitTerms(" GO:1, GO:2;GO:3 "))
	assert.Empty(t, splitTerms("  "))
}

func TestUpdate_RunsStudy(t *testing.T) {
	api := &fakeClient{result: testResult()}
	m := initialModel(api, []string{"bonferroni"}, 0.05)
	m.input.SetValue("GO:1 GO:2")

	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(model)
	require.NotNil(t, cmd)
	assert.True(t, m.running)

	msg := cmd()
	assert.Equal(t, []string{"GO:1", "GO:2"}, api.got.Terms)
	assert.Equal(t, []string{"bonferroni"}, api.got.Methods)

	next, _ = m.Update(msg)
	m = next.(model)
	assert.False(t, m.running)
	require.NotNil(t, m.result)
	assert.Equal(t, "s-1", m.result.StudyID)
	assert.Contains(t, m.View(), "Study s-1")
}

func TestUpdate_EmptyInputIgnored(t *testing.T) {
	m := initialModel(&fakeClient{}, nil, 0)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.False(t, next.(model).running)
}

func TestUpdate_Errors(t *testing.T) {
	api := &fakeClient{err: errors.New("connection refused")}
	m := initialModel(api, nil, 0)

	next, _ := m.Update(fetchPopulation(api)())
	m = next.(model)
	assert.False(t, m.online)
	assert.Contains(t, m.View(), "Offline")

	next, _ = m.Update(studyMsg{err: api.err})
	m = next.(model)
	assert.Contains(t, m.View(), "connection refused")
}

func TestUpdate_Population(t *testing.T) {
	api := &fakeClient{}
	m := initialModel(api, nil, 0)
	next, _ := m.Update(fetchPopulation(api)())
	m = next.(model)
	assert.True(t, m.online)
	assert.Contains(t, m.View(), "3 products")
}
