package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"yashubustudio/nutriscan/predictor"
)

type stubModel struct{ scores []float32 }

func (m *stubModel) Infer(context.Context, predictor.Tensor) ([]float32, error) { return m.scores, nil }
func (m *stubModel) OutputSize() int                                           { return len(m.scores) }
func (m *stubModel) Close() error                                              { return nil }

type stubLoader struct{ model *stubModel }

func (l stubLoader) Load(context.Context, string) (predictor.Model, error) { return l.model, nil }

func testConfig(t *testing.T, driver string) predictor.Config {
	t.Helper()
	dir := t.TempDir()
	c := predictor.DefaultConfig()
	c.Model.ArtifactPath = filepath.Join(dir, "model.onnx")
	c.Model.VocabularyPath = filepath.Join(dir, "class_indices.json")
	c.Model.MappingPath = filepath.Join(dir, "mapping.csv")
	c.Database.Driver = driver
	c.Database.DSN = ""
	if driver == "sqlite" {
		c.Database.DSN = filepath.Join(dir, "db.sqlite3")
	}
	require.NoError(t, os.WriteFile(c.Model.ArtifactPath, []byte("onnx"), 0o644))
	require.NoError(t, os.WriteFile(c.Model.VocabularyPath, []byte(`["Acne","Scurvy"]`), 0o644))
	require.NoError(t, os.WriteFile(c.Model.MappingPath, []byte("Diseases,Deficiency\nAcne,Vitamin A\nScurvy,Vitamin C\n"), 0o644))
	return c
}

func testImage(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func TestNewAppPredictsAndRecords(t *testing.T) {
	for _, driver := range []string{"memory", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			c := testConfig(t, driver)
			c.Model.LoadOnDemand = true
			ctx := context.Background()
			a, err := newApp(ctx, c, zap.NewNop(), stubLoader{model: &stubModel{scores: []float32{0.87, 0.13}}})
			require.NoError(t, err)
			defer func() { require.NoError(t, a.Close()) }()

			assert.False(t, a.service.Ready())
			result, id, err := a.service.PredictFor(ctx, "asha@example.com", testImage(t))
			require.NoError(t, err)
			assert.Equal(t, "Acne", result.PredictedDisease)
			assert.Equal(t, "Vitamin A", result.MappedDeficiency)
			assert.InDelta(t, 0.87, result.Confidence, 1e-6)
			assert.Positive(t, id)
			assert.True(t, a.service.Ready())

			records, err := a.ledger.ListFor(ctx, "asha@example.com")
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, "Vitamin A", records[0].MappedDeficiency)
		})
	}
}

func TestNewAppRejectsBadMappingFile(t *testing.T) {
	c := testConfig(t, "memory")
	require.NoError(t, os.WriteFile(c.Model.MappingPath, []byte("Disease,Vitamin\n"), 0o644))
	_, err := newApp(context.Background(), c, zap.NewNop(), stubLoader{model: &stubModel{}})
	require.ErrorIs(t, err, predictor.ErrSchema)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestConfigInitWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	out, err := execute(t, "--config", path, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var written predictor.Config
	require.NoError(t, json.Unmarshal(data, &written))
	assert.Equal(t, ":5000", written.Server.Addr)
	assert.Equal(t, predictor.InterpolationLinear, written.Preprocess.Interpolation)

	_, err = execute(t, "--config", path, "config", "init")
	require.Error(t, err)
}

func TestRecordsCommands(t *testing.T) {
	c := testConfig(t, "sqlite")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, predictor.SaveConfig(path, c))

	st, err := openStores(context.Background(), c)
	require.NoError(t, err)
	rec, err := st.ledger.Record(context.Background(), "asha@example.com",
		predictor.PredictionResult{PredictedDisease: "Acne", MappedDeficiency: "Vitamin A", Confidence: 0.9})
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, err := execute(t, "--config", path, "records", "list", "--user", "asha@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "Vitamin A")

	_, err = execute(t, "--config", path, "records", "delete", "--user", "someone@example.com", "1")
	require.Error(t, err)

	out, err = execute(t, "--config", path, "records", "delete", "--user", "asha@example.com", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted record")
	assert.Equal(t, int64(1), rec.ID)
}
