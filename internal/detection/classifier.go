package detection

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"

	"socwatch/internal/domain"
)

// Model maps a feature vector to an attack label. Implementations must be safe
// for concurrent use; the classifier never mutates them.
type Model interface {
	Predict(features domain.FeatureVector) (string, error)
}

type Classifier struct {
	model Model
}

// NewClassifier wraps model; a nil model yields a heuristic-only classifier.
func NewClassifier(model Model) *Classifier {
	return &Classifier{model: model}
}

// LoadClassifier loads a forest from path. A missing or broken model file is
// logged and the classifier falls back to heuristic labels.
func LoadClassifier(path string) *Classifier {
	if strings.TrimSpace(path) == "" {
		log.Warn("No classification model configured, using heuristic labels")
		return NewClassifier(nil)
	}

	forest, err := LoadForest(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn("Classification model not found, using heuristic labels", "path", path)
		} else {
			log.Error("Error loading classification model, using heuristic labels", "path", path, "error", err)
		}
		return NewClassifier(nil)
	}

	log.Info("Classification model loaded", "path", path, "trees", len(forest.Trees), "classes", len(forest.Classes))
	return NewClassifier(forest)
}

func (c *Classifier) HasModel() bool {
	return c != nil && c.model != nil
}

// Classify resolves the label for event. Heuristic-normal events are resolved
// as normal without consulting the model.
func (c *Classifier) Classify(event domain.LogEvent) string {
	if event.IsNormal() || !c.HasModel() {
		return event.HeuristicLabel
	}

	label, err := c.predict(event.Features)
	if err != nil {
		log.Debug("Model prediction failed, using heuristic label", "ip", event.IP, "error", err)
		return event.HeuristicLabel
	}
	if label == "" {
		return event.HeuristicLabel
	}
	return label
}

func (c *Classifier) predict(features domain.FeatureVector) (label string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("detection: model panicked: %v", r)
		}
	}()
	return c.model.Predict(features)
}
