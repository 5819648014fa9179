// Package taxonomy loads the task taxonomy, manages alias tables and
// classifies catalog items into task keys.
package taxonomy

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Label languages carried by taxonomy files.
var Languages = []string{"en", "zh", "es"}

// Task is a taxonomy leaf.
type Task struct {
	Key      string            `json:"key"`
	Category string            `json:"category,omitempty"`
	Labels   map[string]string `json:"labels,omitempty"`
	Aliases  []string          `json:"aliases,omitempty"`
}

// Taxonomy is the static, ordered set of tasks.
type Taxonomy struct {
	tasks []Task
	index map[string]int
}

// New builds a taxonomy from tasks. Duplicate keys keep the first entry.
func New(tasks []Task) *Taxonomy {
	t := &Taxonomy{index: make(map[string]int, len(tasks))}
	for _, task := range tasks {
		if task.Key == "" {
			continue
		}
		if _, dup := t.index[task.Key]; dup {
			continue
		}
		t.index[task.Key] = len(t.tasks)
		t.tasks = append(t.tasks, task)
	}
	return t
}

// Tasks returns tasks in file order.
func (t *Taxonomy) Tasks() []Task {
	return t.tasks
}

// Keys returns all task keys in file order.
func (t *Taxonomy) Keys() []string {
	keys := make([]string, len(t.tasks))
	for i, task := range t.tasks {
		keys[i] = task.Key
	}
	return keys
}

// Task looks up a task by key.
func (t *Taxonomy) Task(key string) (Task, bool) {
	i, ok := t.index[key]
	if !ok {
		return Task{}, false
	}
	return t.tasks[i], true
}

// Len returns the number of tasks.
func (t *Taxonomy) Len() int { return len(t.tasks) }

// node mirrors one level of the taxonomy file. Categories may nest
// subcategories which hold tasks; a category without children is itself a task.
type node struct {
	Key           string            `yaml:"key"`
	EN            string            `yaml:"en"`
	ZH            string            `yaml:"zh"`
	ES            string            `yaml:"es"`
	Labels        map[string]string `yaml:"labels"`
	Aliases       []string          `yaml:"aliases"`
	Subcategories []node            `yaml:"subcategories"`
	Tasks         []node            `yaml:"tasks"`
}

type file struct {
	Categories []node `yaml:"categories"`
}

// Load reads a taxonomy file (YAML or JSON).
func Load(path string) (*Taxonomy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy %s: %w", path, err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse taxonomy %s: %w", path, err)
	}
	return t, nil
}

// Parse decodes taxonomy content.
func Parse(data []byte) (*Taxonomy, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}

	var tasks []Task
	for _, cat := range f.Categories {
		if len(cat.Subcategories) == 0 && len(cat.Tasks) == 0 {
			tasks = append(tasks, cat.task(cat.Key))
			continue
		}
		for _, t := range cat.Tasks {
			tasks = append(tasks, t.task(cat.Key))
		}
		for _, sub := range cat.Subcategories {
			for _, t := range sub.Tasks {
				tasks = append(tasks, t.task(cat.Key))
			}
		}
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("no tasks defined")
	}
	return New(tasks), nil
}

func (n node) task(category string) Task {
	labels := make(map[string]string, len(n.Labels)+3)
	for k, v := range n.Labels {
		if v = strings.TrimSpace(v); v != "" {
			labels[k] = v
		}
	}
	for lang, v := range map[string]string{"en": n.EN, "zh": n.ZH, "es": n.ES} {
		if v = strings.TrimSpace(v); v != "" {
			labels[lang] = v
		}
	}
	return Task{
		Key:      strings.TrimSpace(n.Key),
		Category: category,
		Labels:   labels,
		Aliases:  n.Aliases,
	}
}

// LabelsOf returns the task's labels ordered by Languages, then any others.
func (t Task) LabelsOf() []string {
	var out []string
	seen := make(map[string]bool)
	for _, lang := range Languages {
		if v, ok := t.Labels[lang]; ok {
			out = append(out, v)
			seen[lang] = true
		}
	}
	var rest []string
	for lang := range t.Labels {
		if !seen[lang] {
			rest = append(rest, lang)
		}
	}
	sort.Strings(rest)
	for _, lang := range rest {
		out = append(out, t.Labels[lang])
	}
	return out
}
