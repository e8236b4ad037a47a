package trace

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/microsoft/ZooTracer/config"
	"github.com/microsoft/ZooTracer/zt_errors"
)

func roundTripSettings() config.Settings {
	return config.Settings{
		VideoFilePath:              "/data/zoo.y4m",
		LambdaD:                    1.0,
		LambdaU:                    2.0,
		LambdaO:                    0.5,
		PatchSize:                  16,
		NumPCAData:                 5000,
		PCADim:                     8,
		MaxOcclusionDuration:       30,
		MatchesPerKeyframe:         5,
		IndexApproxRatio:           0.9,
		MaxMatchesPerFrame:         3,
		MatchesAppearanceThreshold: 0.2,
		IndexAccuracy:              10,
	}
}

func TestTraceFile_RoundTrip(t *testing.T) {
	s := roundTripSettings()
	doc := NewDocument(New(0), s)
	doc.Rows = []Row{
		{Kind: Occluded},
		{Kind: Fixed, X: 10.5, Y: 20.5, HasPoint: true},
		{Kind: Auto},
		{Kind: Fixed, X: 11, Y: 21, HasPoint: true},
	}
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, doc))

	lines := strings.Split(buf.String(), "\n")
	assert.Equal(t, []string{"x,y,code", ",,2", "10.5,20.5,1", ",,0", "11,21,1", ""}, lines[:6])
	assert.Contains(t, buf.String(), "0,videofilepath,System.String,/data/zoo.y4m\n")
	assert.Contains(t, buf.String(), "0,patch_size,System.Double,16\n")
	assert.Contains(t, buf.String(), "3,C,code,System.Int16,1,,frame\n")

	got, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, doc.Rows, got.Rows)
	assert.Equal(t, config.Keys(), got.Keys)

	loaded := config.Defaults()
	require.NoError(t, got.Apply(&loaded))
	assert.Equal(t, s, loaded)
	assert.Empty(t, config.Diff(s, loaded))
}

func TestTraceFile_FromTrace(t *testing.T) {
	s := roundTripSettings()
	tr := New(5)
	tr.Occlude(0)
	tr.Fix(anchorAt(1, 2, 12))
	tr.Fix(anchorAt(3, 3, 13))
	tr.SetResult(&Result{Points: []Located{{}, {}, {Point{4, 4}, true}, {}, {}}})

	path := filepath.Join(t.TempDir(), "zoo.trace.csv")
	require.NoError(t, SaveFile(path, NewDocument(tr, s)))
	doc, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, s.VideoFilePath, doc.VideoPath())
	require.Len(t, doc.Rows, 5)
	for f, row := range doc.Rows {
		assert.Equal(t, tr.Kind(f), row.Kind, "frame %d", f)
	}
	assert.Equal(t, Row{Kind: Fixed, X: 10, Y: 20, HasPoint: true}, doc.Rows[1])
	assert.Equal(t, Point{2, 12}, doc.Rows[1].TopLeft(s.PatchSize))
	assert.Equal(t, Row{Kind: Auto, X: 12, Y: 12, HasPoint: true}, doc.Rows[2])
	assert.False(t, doc.Rows[4].HasPoint)
}

func TestTraceFile_Malformed(t *testing.T) {
	valid := "x,y,code\n,,0\n\n" + columnsHeader + "\n" + strings.Join(columns, "\n") +
		"\n\n" + variablesHeader + "\n0,videofilepath,System.String,a.y4m\n"
	_, err := Read(strings.NewReader(valid))
	require.NoError(t, err)

	cases := map[string]string{
		"header":     "a,b,c\n",
		"code":       "x,y,code\n1,2,7\n\n",
		"fixed":      "x,y,code\n,,1\n\n",
		"fields":     "x,y,code\n1,2\n\n",
		"truncated":  "x,y,code\n,,0\n",
		"no video":   strings.Replace(valid, "0,videofilepath,System.String,a.y4m\n", "", 1),
		"bad value":  valid + "0,patch_size,System.Double,sixteen\n",
		"no columns": "x,y,code\n,,0\n\n" + variablesHeader + "\n",
	}
	for name, text := range cases {
		_, err := Read(strings.NewReader(text))
		assert.ErrorIs(t, err, zt_errors.ErrFormat, name)
	}
}

func TestTraceFile_Lenient(t *testing.T) {
	text := "x,y,code\r\n,,2\r\n\r\n" + columnsHeader + "\r\n\r\n" + variablesHeader + "\r\n" +
		"0,videofilepath,System.String,a,b.y4m,,\r\n" +
		"0,pca_dim,System.Double,4.0\r\n" +
		"0,colour,System.String,red\r\n"
	doc, err := Read(strings.NewReader(text))
	require.NoError(t, err)
	assert.Equal(t, "a,b.y4m", doc.VideoPath())
	assert.Equal(t, []string{config.KeyVideoFilePath, config.KeyPCADim}, doc.Keys)
	s := config.Defaults()
	require.NoError(t, doc.Apply(&s))
	assert.Equal(t, 4, s.PCADim)
}

func TestTraceFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.csv"))
	assert.ErrorIs(t, err, zt_errors.ErrNotFound)
}
