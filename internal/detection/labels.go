package detection

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Class labels the print monitoring model is trained with
const (
	ClassFinished = "finished"
	ClassFailure1 = "failure_1"
	ClassFailure2 = "failure_2"
)

// LabelSet maps model class ids to labels and labels to kinds
type LabelSet struct {
	Classes map[int]string `yaml:"classes"`
	Success []string       `yaml:"success"`
	Failure []string       `yaml:"failure"`
}

// DefaultLabels returns the label set of the stock print monitoring model
func DefaultLabels() *LabelSet {
	return &LabelSet{
		Classes: map[int]string{
			0: ClassFinished,
			1: ClassFailure1,
			2: ClassFailure2,
		},
		Success: []string{ClassFinished},
		Failure: []string{ClassFailure1, ClassFailure2},
	}
}

// LoadLabels reads a YAML label file:
//
//	classes:
//	  0: finished
//	  1: spaghetti
//	success: [finished]
//	failure: [spaghetti]
func LoadLabels(path string) (*LabelSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read label file: %w", err)
	}

	var labels LabelSet
	if err := yaml.Unmarshal(data, &labels); err != nil {
		return nil, fmt.Errorf("failed to parse label file %s: %w", path, err)
	}
	if err := labels.Validate(); err != nil {
		return nil, fmt.Errorf("invalid label file %s: %w", path, err)
	}
	return &labels, nil
}

// Validate checks that every success/failure label is a known class
func (l *LabelSet) Validate() error {
	if len(l.Classes) == 0 {
		return fmt.Errorf("no classes defined")
	}
	if len(l.Success) == 0 {
		return fmt.Errorf("no success class defined")
	}

	known := make(map[string]bool, len(l.Classes))
	for _, name := range l.Classes {
		known[name] = true
	}
	for _, name := range append(append([]string{}, l.Success...), l.Failure...) {
		if !known[name] {
			return fmt.Errorf("label %q is not a model class", name)
		}
	}
	return nil
}

// Label returns the label of a class id
func (l *LabelSet) Label(classID int) (string, bool) {
	name, ok := l.Classes[classID]
	return name, ok
}

// KindOf classifies a label
func (l *LabelSet) KindOf(label string) Kind {
	for _, s := range l.Success {
		if s == label {
			return KindSuccess
		}
	}
	for _, f := range l.Failure {
		if f == label {
			return KindFailure
		}
	}
	return KindOther
}
