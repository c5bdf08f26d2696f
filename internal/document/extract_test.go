package document

import (
	"archive/zip"
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildDocx(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("word/document.xml")
	require.NoError(t, err)
	_, err = w.Write([]byte(documentXML))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestExtract_DOCX(t *testing.T) {
	data := buildDocx(t, `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>Hello</w:t></w:r><w:r><w:t xml:space="preserve">world</w:t></w:r></w:p>
    <w:p><w:r><w:t>Fish &amp; chips</w:t></w:r></w:p>
  </w:body>
</w:document>`)

	out, err := Extract("report.docx", "", data)
	require.NoError(t, err)
	assert.Equal(t, KindText, out.Kind)
	assert.Equal(t, "Hello world Fish & chips", out.Text)
}

func TestExtract_DOCX_MissingDocumentXML(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, err := zw.Create("word/styles.xml")
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	_, err = Extract("report.docx", "", buf.Bytes())
	assert.Error(t, err)
}

func TestExtract_PlainTextByExtension(t *testing.T) {
	for _, name := range []string{"notes.txt", "README.md", "NOTES.TXT"} {
		out, err := Extract(name, "", []byte("hello"))
		require.NoError(t, err)
		assert.Equal(t, KindText, out.Kind)
		assert.Equal(t, "hello", out.Text)
	}
}

func TestExtract_CSVByExtensionAndContentType(t *testing.T) {
	out, err := Extract("data.csv", "", []byte("a,b\n1,2"))
	require.NoError(t, err)
	assert.Equal(t, KindCSV, out.Kind)

	out, err = Extract("upload", "text/csv", []byte("a,b\n1,2"))
	require.NoError(t, err)
	assert.Equal(t, KindCSV, out.Kind)
}

func TestExtract_TextContentType(t *testing.T) {
	out, err := Extract("scraped", "text/plain; charset=utf-8", []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, KindText, out.Kind)
}

func TestExtract_UnsupportedType(t *testing.T) {
	_, err := Extract("image.png", "image/png", []byte{0x89, 0x50})
	assert.True(t, errors.Is(err, ErrUnsupportedFileType))
}

func TestFromInline(t *testing.T) {
	out := FromInline("scraped website text about products", false)
	assert.Equal(t, KindText, out.Kind)

	// Flagged as CSV but not actually tabular: stays text.
	out = FromInline("just some words", true)
	assert.Equal(t, KindText, out.Kind)

	out = FromInline("sku,price,stock\nA-1,9.99,4\nB-2,19.50,0", true)
	assert.Equal(t, KindCSV, out.Kind)
}
