package taxonomy

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode"
)

const autogenKey = "_autogen"

// AllowedShorts lists abbreviations that are matched even though they are
// shorter than four alphanumerics.
var AllowedShorts = map[string]bool{
	"ASR": true, "TTS": true, "SLU": true, "RAG": true, "GNN": true,
	"XAI": true, "NERF": true, "AVSR": true, "LTR": true, "LORA": true,
}

// Synonyms is the curated, conservative built-in alias table.
var Synonyms = map[string][]string{
	"image_classification":   {"image classification", "图像分类", "imagenet", "classifier"},
	"object_detection":       {"object detection", "目标检测", "yolo", "rcnn", "retinanet"},
	"semantic_segmentation":  {"semantic segmentation", "语义分割", "deeplab"},
	"instance_segmentation":  {"instance segmentation", "实例分割", "mask r-cnn", "mask-rcnn", "maskrcnn"},
	"text_to_image":          {"text-to-image", "文本生成图像", "文生图", "stable diffusion", "sdxl", "diffusion"},
	"text_to_video":          {"text-to-video", "文本生成视频", "文生视频", "video diffusion"},
	"super_resolution":       {"super-resolution", "超分辨", "超分", "esrgan", "real-esrgan"},
	"vqa":                    {"vqa", "视觉问答", "visual question answering"},
	"visual_grounding":       {"visual grounding", "视觉定位", "grounding"},
	"rlhf":                   {"rlhf", "human feedback"},
	"rag":                    {"rag", "retrieval-augmented generation", "检索增强生成"},
	"code_generation":        {"code generation", "代码生成", "coder", "codegen"},
	"structured_reasoning":   {"structured reasoning", "tree of thoughts", "chain of thought", "cot"},
	"tool_use":               {"tool use", "function calling", "tool calling", "agents"},
	"lora_adapter":           {"lora", "qlora", "adalora", "peft", "low-rank"},
	"asr":                    {"asr", "automatic speech recognition", "语音识别"},
	"tts":                    {"tts", "text-to-speech", "语音合成"},
	"general_recommendation": {"recommendation system", "推荐系统", "recommender"},
	"vector_retrieval":       {"vector retrieval", "向量检索", "similarity search", "faiss", "hnsw", "ann"},
	"model_quantization":     {"quantization", "量化", "int8", "int4", "gptq", "awq"},
	"inference_acceleration": {"inference acceleration", "推理加速", "vllm", "tensorrt-llm", "onnxruntime", "openvino"},
}

// AliasMap holds the live curated aliases and the staged suggestions.
// Only Curated takes part in matching.
type AliasMap struct {
	Curated map[string][]string
	Autogen map[string][]string
}

// NewAliasMap returns an empty alias map.
func NewAliasMap() AliasMap {
	return AliasMap{
		Curated: make(map[string][]string),
		Autogen: make(map[string][]string),
	}
}

// For returns the curated aliases for a task key.
func (m AliasMap) For(key string) []string {
	return m.Curated[strings.ToLower(key)]
}

// LoadAliases reads an alias file. A missing file yields an empty map; a
// malformed file yields an empty map and an error for the caller to report.
func LoadAliases(path string) (AliasMap, error) {
	m := NewAliasMap()
	if path == "" {
		return m, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return m, fmt.Errorf("read aliases %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &m); err != nil {
		return NewAliasMap(), fmt.Errorf("parse aliases %s: %w", path, err)
	}
	return m, nil
}

// UnmarshalJSON decodes {taskKey: [alias], "_autogen": {taskKey: [alias]}}.
// Entries that are not string lists (such as "_meta") are ignored.
func (m *AliasMap) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Curated = make(map[string][]string)
	m.Autogen = make(map[string][]string)
	for k, v := range raw {
		if k == autogenKey {
			var staged map[string][]string
			if err := json.Unmarshal(v, &staged); err != nil {
				return fmt.Errorf("decode %s: %w", autogenKey, err)
			}
			for sk, list := range staged {
				m.Autogen[strings.ToLower(sk)] = list
			}
			continue
		}
		var list []string
		if err := json.Unmarshal(v, &list); err != nil {
			continue
		}
		m.Curated[strings.ToLower(k)] = list
	}
	return nil
}

// MarshalJSON encodes curated entries at top level and staged suggestions
// under "_autogen".
func (m AliasMap) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Curated)+1)
	for k, v := range m.Curated {
		out[k] = v
	}
	if len(m.Autogen) > 0 {
		out[autogenKey] = m.Autogen
	}
	return json.Marshal(out)
}

// MergeAutogen returns a copy of m with suggestions unioned into the staged
// section. Curated entries are never touched.
func (m AliasMap) MergeAutogen(suggestions map[string][]string) AliasMap {
	out := NewAliasMap()
	for k, v := range m.Curated {
		out.Curated[k] = append([]string(nil), v...)
	}
	for k, v := range m.Autogen {
		out.Autogen[k] = append([]string(nil), v...)
	}
	for k, list := range suggestions {
		k = strings.ToLower(k)
		out.Autogen[k] = unionOrdered(out.Autogen[k], list)
	}
	return out
}

// abbreviations maps a key token to its common short form.
var abbreviations = map[string]string{
	"text":       "txt",
	"image":      "img",
	"video":      "vid",
	"to":         "2",
	"audio":      "aud",
	"language":   "lang",
	"generation": "gen",
}

// expansions maps domain initialisms to their spelled-out form.
var expansions = map[string]string{
	"asr":  "speech recognition",
	"tts":  "text to speech",
	"llm":  "large language model",
	"rag":  "retrieval augmented generation",
	"ocr":  "optical character recognition",
	"vqa":  "visual question answering",
	"nerf": "neural radiance field",
	"gnn":  "graph neural network",
	"rlhf": "reinforcement learning from human feedback",
	"xai":  "explainable ai",
}

// HeuristicAliases derives spelling variants of a task key: separator
// variants, an initialism, abbreviated forms and domain expansions.
func HeuristicAliases(key string) []string {
	parts := splitKey(key)
	if len(parts) == 0 {
		return nil
	}

	var out []string
	add := func(s string) {
		if s != "" && s != strings.ToLower(key) {
			out = append(out, s)
		}
	}

	if len(parts) > 1 {
		add(strings.Join(parts, "-"))
		add(strings.Join(parts, "_"))
		add(strings.Join(parts, ""))
		add(strings.Join(parts, " "))

		var initials strings.Builder
		for _, p := range parts {
			initials.WriteString(p[:1])
		}
		add(initials.String())

		abbr := make([]string, len(parts))
		changed := false
		for i, p := range parts {
			if a, ok := abbreviations[p]; ok {
				abbr[i] = a
				changed = true
			} else {
				abbr[i] = p
			}
		}
		if changed {
			add(strings.Join(abbr, ""))
			add(strings.Join(abbr, "-"))
		}

		// x_to_y also reads as x2y using initials: t2i, i2v.
		if hasPart(parts, "to") {
			var b strings.Builder
			for _, p := range parts {
				if p == "to" {
					b.WriteString("2")
					continue
				}
				b.WriteString(p[:1])
			}
			add(b.String())
		}
	}

	joined := strings.Join(parts, " ")
	for _, short := range sortedKeys(expansions) {
		long := expansions[short]
		if hasPart(parts, short) {
			expanded := make([]string, len(parts))
			for i, p := range parts {
				if p == short {
					p = long
				}
				expanded[i] = p
			}
			add(strings.Join(expanded, " "))
		}
		if joined == long {
			add(short)
		}
	}

	return unionOrdered(nil, out)
}

// LabelAliases derives match strings from a task's localized labels.
// Parenthetical qualifiers (ASCII or full-width) are stripped.
func LabelAliases(t Task) []string {
	var out []string
	for _, label := range t.LabelsOf() {
		l := strings.ToLower(strings.TrimSpace(label))
		if l == "" {
			continue
		}
		out = append(out, l)
		if stripped := stripParenthetical(l); stripped != "" && stripped != l {
			out = append(out, stripped)
		}
	}
	return unionOrdered(nil, out)
}

func stripParenthetical(s string) string {
	var b strings.Builder
	depth := 0
	for _, r := range s {
		switch r {
		case '(', '（':
			depth++
			continue
		case ')', '）':
			if depth > 0 {
				depth--
			}
			continue
		}
		if depth == 0 {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// splitKey lowercases a key and splits it on separators.
func splitKey(key string) []string {
	return strings.FieldsFunc(strings.ToLower(key), func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || r == '/' || unicode.IsSpace(r)
	})
}

func hasPart(parts []string, want string) bool {
	for _, p := range parts {
		if p == want {
			return true
		}
	}
	return false
}

// unionOrdered appends lowercased, trimmed, unique values of add to base.
func unionOrdered(base, add []string) []string {
	seen := make(map[string]bool, len(base)+len(add))
	out := make([]string, 0, len(base)+len(add))
	for _, list := range [][]string{base, add} {
		for _, s := range list {
			s = strings.ToLower(strings.TrimSpace(s))
			if s == "" || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
