package detection

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socwatch/internal/domain"
)

type stubModel struct {
	label string
	err   error
	panic bool
	calls int
}

func (m *stubModel) Predict(domain.FeatureVector) (string, error) {
	m.calls++
	if m.panic {
		panic("boom")
	}
	return m.label, m.err
}

func bruteForceEvent() domain.LogEvent {
	return domain.LogEvent{
		IP:             "45.33.21.9",
		HeuristicLabel: domain.LabelBruteForce,
		Features:       domain.FeatureVector{5, 0, 0, 0, 0},
	}
}

func TestClassifyWithoutModelUsesHeuristic(t *testing.T) {
	c := NewClassifier(nil)
	assert.False(t, c.HasModel())
	assert.Equal(t, domain.LabelBruteForce, c.Classify(bruteForceEvent()))
}

func TestClassifyUsesModel(t *testing.T) {
	model := &stubModel{label: domain.LabelMalware}
	c := NewClassifier(model)

	assert.Equal(t, domain.LabelMalware, c.Classify(bruteForceEvent()))
	assert.Equal(t, 1, model.calls)
}

func TestClassifyFallsBackOnModelFailure(t *testing.T) {
	cases := map[string]*stubModel{
		"error":       {err: errors.New("inference failed")},
		"panic":       {panic: true},
		"empty label": {label: ""},
	}
	for name, model := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, domain.LabelBruteForce, NewClassifier(model).Classify(bruteForceEvent()))
		})
	}
}

func TestClassifySkipsModelForNormalEvents(t *testing.T) {
	model := &stubModel{label: domain.LabelDDoS}
	c := NewClassifier(model)

	label := c.Classify(domain.LogEvent{IP: "8.8.8.8", HeuristicLabel: domain.LabelNormal})
	assert.Equal(t, domain.LabelNormal, label)
	assert.Zero(t, model.calls)
}

func TestClassifyPassesOpaqueModelLabels(t *testing.T) {
	c := NewClassifier(&stubModel{label: "credential_stuffing"})
	assert.Equal(t, "credential_stuffing", c.Classify(bruteForceEvent()))
}

const sampleForest = `{
  "classes": ["brute_force", "ddos", "normal"],
  "trees": [
    {"nodes": [
      {"feature": 0, "threshold": 2.5, "left": 1, "right": 2},
      {"feature": 1, "threshold": 500, "left": 3, "right": 4},
      {"feature": -1, "class": 0},
      {"feature": -1, "class": 2},
      {"feature": -1, "class": 1}
    ]},
    {"nodes": [
      {"feature": 1, "threshold": 500, "left": 1, "right": 2},
      {"feature": -1, "class": 2},
      {"feature": -1, "class": 1}
    ]},
    {"nodes": [{"feature": -1, "class": 0}]}
  ]
}`

func TestForestPredict(t *testing.T) {
	forest, err := ParseForest([]byte(sampleForest))
	require.NoError(t, err)

	label, err := forest.Predict(domain.FeatureVector{5, 0, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, domain.LabelBruteForce, label)

	label, err = forest.Predict(domain.FeatureVector{0, 1000, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, domain.LabelDDoS, label)

	// one vote each for normal, normal, brute_force
	label, err = forest.Predict(domain.FeatureVector{})
	require.NoError(t, err)
	assert.Equal(t, domain.LabelNormal, label)
}

func TestForestTieGoesToFirstClass(t *testing.T) {
	forest, err := ParseForest([]byte(`{
	  "classes": ["ddos", "malware"],
	  "trees": [
	    {"nodes": [{"feature": -1, "class": 1}]},
	    {"nodes": [{"feature": -1, "class": 0}]}
	  ]
	}`))
	require.NoError(t, err)

	label, err := forest.Predict(domain.FeatureVector{})
	require.NoError(t, err)
	assert.Equal(t, domain.LabelDDoS, label)
}

func TestParseForestRejectsInvalidModels(t *testing.T) {
	cases := map[string]string{
		"not json":        `{`,
		"no trees":        `{"classes": ["a"], "trees": []}`,
		"empty tree":      `{"classes": ["a"], "trees": [{"nodes": []}]}`,
		"class range":     `{"classes": ["a"], "trees": [{"nodes": [{"feature": -1, "class": 3}]}]}`,
		"feature range":   `{"classes": ["a"], "trees": [{"nodes": [{"feature": 7, "left": 1, "right": 2}, {"feature": -1}, {"feature": -1}]}]}`,
		"backwards child": `{"classes": ["a"], "trees": [{"nodes": [{"feature": 0, "left": 0, "right": 1}, {"feature": -1}]}]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseForest([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestLoadClassifier(t *testing.T) {
	t.Run("missing file falls back", func(t *testing.T) {
		c := LoadClassifier(filepath.Join(t.TempDir(), "missing.json"))
		assert.False(t, c.HasModel())
	})

	t.Run("blank path falls back", func(t *testing.T) {
		assert.False(t, LoadClassifier("").HasModel())
	})

	t.Run("valid file loads", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "model.json")
		require.NoError(t, os.WriteFile(path, []byte(sampleForest), 0o644))

		c := LoadClassifier(path)
		assert.True(t, c.HasModel())
		assert.Equal(t, domain.LabelDDoS, c.Classify(domain.LogEvent{
			HeuristicLabel: domain.LabelDDoS,
			Features:       domain.FeatureVector{0, 1000, 0, 0, 0},
		}))
	})

	t.Run("corrupt file falls back", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "model.json")
		require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))
		assert.False(t, LoadClassifier(path).HasModel())
	})
}
