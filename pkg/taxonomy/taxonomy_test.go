package taxonomy

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/modelwatch/pkg/catalog"
)

const nestedTaxonomy = `
categories:
  - key: vision
    en: Computer Vision
    subcategories:
      - key: generation
        tasks:
          - key: text_to_image
            en: Text to Image
            zh: 文生图（扩散）
          - key: object_detection
            en: Object Detection
  - key: speech
    subcategories:
      - key: recognition
        tasks:
          - key: asr
            en: Speech Recognition (ASR)
            zh: 语音识别
`

const flatTaxonomy = `{"categories": [
  {"key": "deployment_serving", "en": "Deployment & Serving", "aliases": ["inference server", "serving"]},
  {"key": "agents_workflows", "en": "Agents & Workflows"}
]}`

func TestParseNestedTaxonomy(t *testing.T) {
	tax, err := Parse([]byte(nestedTaxonomy))
	require.NoError(t, err)
	assert.Equal(t, []string{"text_to_image", "object_detection", "asr"}, tax.Keys())

	task, ok := tax.Task("text_to_image")
	require.True(t, ok)
	assert.Equal(t, "vision", task.Category)
	assert.Equal(t, "Text to Image", task.Labels["en"])
	assert.Equal(t, []string{"Text to Image", "文生图（扩散）"}, task.LabelsOf())
}

func TestParseFlatTaxonomyJSON(t *testing.T) {
	tax, err := Parse([]byte(flatTaxonomy))
	require.NoError(t, err)
	assert.Equal(t, []string{"deployment_serving", "agents_workflows"}, tax.Keys())
	task, _ := tax.Task("deployment_serving")
	assert.Equal(t, []string{"inference server", "serving"}, task.Aliases)
}

func TestParseRejectsEmpty(t *testing.T) {
	_, err := Parse([]byte("categories: []"))
	assert.Error(t, err)
}

func TestLoadTaxonomyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(nestedTaxonomy), 0o644))
	tax, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, tax.Len())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestHeuristicAliases(t *testing.T) {
	got := HeuristicAliases("text-to-image")
	assert.Contains(t, got, "txt2img")
	assert.Contains(t, got, "text_to_image")
	assert.Contains(t, got, "texttoimage")
	assert.Contains(t, got, "text to image")
	assert.Contains(t, got, "tti")
	assert.Contains(t, got, "t2i")
	assert.NotContains(t, got, "text-to-image")

	assert.Contains(t, HeuristicAliases("asr"), "speech recognition")
	assert.Contains(t, HeuristicAliases("speech_recognition"), "asr")
	assert.Empty(t, HeuristicAliases(""))
}

func TestLabelAliasesStripParentheticals(t *testing.T) {
	task := Task{Key: "asr", Labels: map[string]string{"en": "Speech Recognition (ASR)", "zh": "语音识别（自动）"}}
	got := LabelAliases(task)
	assert.Contains(t, got, "speech recognition")
	assert.Contains(t, got, "语音识别")
	assert.Contains(t, got, "speech recognition (asr)")
}

func TestAliasMapRoundTrip(t *testing.T) {
	var m AliasMap
	require.NoError(t, json.Unmarshal([]byte(`{
		"Text_To_Image": ["sd"],
		"_meta": {"note": "ignored"},
		"_autogen": {"text_to_image": ["flux"]}
	}`), &m))

	assert.Equal(t, []string{"sd"}, m.For("text_to_image"))
	assert.Equal(t, []string{"flux"}, m.Autogen["text_to_image"])

	merged := m.MergeAutogen(map[string][]string{"text_to_image": {"flux", "kandinsky"}, "asr": {"whisper"}})
	assert.Equal(t, []string{"flux", "kandinsky"}, merged.Autogen["text_to_image"])
	assert.Equal(t, []string{"whisper"}, merged.Autogen["asr"])
	assert.Equal(t, []string{"sd"}, merged.Curated["text_to_image"])
	assert.Empty(t, merged.For("asr"))
	assert.Equal(t, []string{"flux"}, m.Autogen["text_to_image"])

	data, err := json.Marshal(merged)
	require.NoError(t, err)
	var back AliasMap
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, merged, back)
}

func TestLoadAliases(t *testing.T) {
	dir := t.TempDir()

	m, err := LoadAliases(filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	assert.Empty(t, m.Curated)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	m, err = LoadAliases(bad)
	assert.Error(t, err)
	assert.Empty(t, m.Curated)
}

func TestSuggest(t *testing.T) {
	tax, err := Parse([]byte(nestedTaxonomy))
	require.NoError(t, err)

	items := []catalog.Item{
		{ID: "a/flux-dev", Name: "flux-dev", Tags: []string{"flux", "diffusers"}},
		{ID: "b/flux-schnell", Name: "flux-schnell", Tags: []string{"flux", "2024"}},
	}
	assignments := map[string][]string{
		"a/flux-dev":     {"text_to_image"},
		"b/flux-schnell": {"text_to_image"},
	}
	now := time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)

	s := Suggest(tax, NewAliasMap(), items, assignments, now)
	assert.Equal(t, now, s.GeneratedAt)
	require.NotEmpty(t, s.Corpus["text_to_image"])
	assert.Equal(t, "flux", s.Corpus["text_to_image"][0])
	assert.NotContains(t, s.Corpus["text_to_image"], "2024")
	assert.NotContains(t, s.Corpus["text_to_image"], "diffusion")
	assert.Contains(t, s.Heuristic["text_to_image"], "txt2img")
	assert.Empty(t, s.Corpus["asr"])

	all := s.All()
	assert.Contains(t, all["text_to_image"], "flux")
	assert.Contains(t, all["text_to_image"], "txt2img")
}
