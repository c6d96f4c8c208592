package ingest

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
)

func createTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				row.AddCell().SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "test.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestResolveColumns_Aliases(t *testing.T) {
	cols := resolveColumns([]string{"Contact Name", "LinkedIn", "E-Mail", "Organization"})
	assert.Equal(t, 0, cols.fullName)
	assert.Equal(t, 1, cols.linkedInURL)
	assert.Equal(t, 2, cols.email)
	assert.Equal(t, 3, cols.company)
}

func TestReadCSV_Basic(t *testing.T) {
	input := strings.NewReader(
		"name,linkedin_url,email,company\n" +
			"Jane Doe,https://linkedin.com/in/janedoe,jane@acme.com,Acme Inc\n" +
			"John Roe,,john@globex.com,Globex\n" +
			"No Identity,,,Initech\n")

	res, err := ReadCSV(context.Background(), input, "import", CSVOptions{})
	require.NoError(t, err)
	require.Len(t, res.Candidates, 2)
	assert.Equal(t, 1, res.Skipped)

	assert.Equal(t, "Jane Doe", res.Candidates[0].FullName)
	assert.Equal(t, "https://linkedin.com/in/janedoe", res.Candidates[0].LinkedInURL)
	assert.Equal(t, "jane@acme.com", res.Candidates[0].Email)
	assert.Equal(t, "Acme Inc", res.Candidates[0].Company)
	assert.Equal(t, "import", res.Candidates[0].Origin)
	assert.Equal(t, "Globex", res.Candidates[1].Company)
}

func TestReadCSV_SemicolonDelimiter(t *testing.T) {
	input := strings.NewReader("email;company\na@b.com;Acme\n")

	res, err := ReadCSV(context.Background(), input, "import", CSVOptions{Delimiter: ';'})
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, "a@b.com", res.Candidates[0].Email)
}

func TestReadCSV_NoIdentityColumn(t *testing.T) {
	input := strings.NewReader("name,company\nJane,Acme\n")

	_, err := ReadCSV(context.Background(), input, "import", CSVOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "identity column")
}

func TestReadCSV_EmptyFile(t *testing.T) {
	_, err := ReadCSV(context.Background(), strings.NewReader(""), "import", CSVOptions{})
	require.Error(t, err)
}

func TestReadCSV_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	input := strings.NewReader("email\na@b.com\n")
	_, err := ReadCSV(ctx, input, "import", CSVOptions{})
	require.Error(t, err)
}

func TestReadXLSX_Basic(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Leads": {
			{"Name", "Email", "Company"},
			{"Alice Smith", "alice@acme.com", "Acme"},
			{"", "", ""},
		},
	})

	res, err := ReadXLSX(path, "import", XLSXOptions{SheetName: "Leads"})
	require.NoError(t, err)
	require.Len(t, res.Candidates, 1)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, "Alice Smith", res.Candidates[0].FullName)
	assert.Equal(t, "alice@acme.com", res.Candidates[0].Email)
}

func TestReadXLSX_SheetNotFound(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Sheet1": {{"email"}, {"a@b.com"}},
	})

	_, err := ReadXLSX(path, "import", XLSXOptions{SheetName: "Missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}
