package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ineyio/summarizer"
)

// Task is one entry of the input file.
type Task struct {
	Name   string                  `yaml:"name"`
	Fields []summarizer.FieldEntry `yaml:"fields"`
}

type taskFile struct {
	Tasks []Task `yaml:"tasks"`
}

// loadTasks reads either a bare YAML list of tasks or a {tasks: [...]} document.
func loadTasks(path string) ([]Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tasks: %w", err)
	}
	return parseTasks(data)
}

func parseTasks(data []byte) ([]Task, error) {
	var list []Task
	if err := yaml.Unmarshal(data, &list); err == nil {
		return list, nil
	}

	var doc taskFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse tasks: %w", err)
	}
	return doc.Tasks, nil
}
