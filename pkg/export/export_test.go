package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDataset(t *testing.T) *Dataset {
	t.Helper()
	data := NewDataset("Class 1A", "role", "name")
	require.NoError(t, data.Append("student", "Ada"))
	require.NoError(t, data.Append("teacher", "Grace, Hopper"))
	return data
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" PDF ")
	require.NoError(t, err)
	assert.Equal(t, FormatPDF, f)
	assert.Equal(t, ".pdf", f.Extension())

	_, err = ParseFormat("xlsx")
	assert.Error(t, err)
}

func TestDatasetAppendRejectsWrongWidth(t *testing.T) {
	data := NewDataset("", "a", "b")
	assert.Error(t, data.Append("only-one"))
	assert.Equal(t, 0, data.Len())
}

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter().Render(sampleDataset(t))
	require.NoError(t, err)
	assert.Equal(t, "role,name\nstudent,Ada\nteacher,\"Grace, Hopper\"\n", string(out))
}

func TestCSVExporterRequiresHeaders(t *testing.T) {
	_, err := NewCSVExporter().Render(&Dataset{})
	assert.Error(t, err)
}

func TestPDFExporterRender(t *testing.T) {
	out, err := NewPDFExporter().Render(sampleDataset(t))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF-")))
}

func TestPDFExporterLandscapeForWideTables(t *testing.T) {
	data := NewDataset("wide", "a", "b", "c", "d", "e", "f", "g")
	require.NoError(t, data.Append("1", "2", "3", "4", "5", "6", "7"))
	out, err := NewPDFExporter().Render(data)
	require.NoError(t, err)
	assert.NotEmpty(t, out)
}
