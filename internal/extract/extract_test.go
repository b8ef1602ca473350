package extract_test

import (
	"bytes"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"clausewise.app/analyzer/internal/extract"
)

var _ = Describe("Text", func() {
	It("reads text files verbatim without surrounding whitespace", func() {
		text, err := extract.Text("nda.txt", strings.NewReader("\n  This Agreement...  \n"))
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(Equal("This Agreement..."))
	})

	It("accepts markdown regardless of extension case", func() {
		text, err := extract.Text("LICENSE.MD", strings.NewReader("# License"))
		Expect(err).NotTo(HaveOccurred())
		Expect(text).To(Equal("# License"))
	})

	It("rejects binary content in text files", func() {
		_, err := extract.Text("nda.txt", bytes.NewReader([]byte{0xff, 0xfe, 0x00}))
		Expect(err).To(MatchError(extract.ErrBinaryContent))
	})

	It("rejects unknown extensions", func() {
		_, err := extract.Text("nda.docx", strings.NewReader("x"))
		Expect(err).To(MatchError(extract.ErrUnsupportedType))
	})

	It("reports malformed PDFs", func() {
		_, err := extract.Text("nda.pdf", strings.NewReader("not a pdf"))
		Expect(err).To(MatchError(ContainSubstring("open pdf")))
	})

	It("refuses oversized uploads", func() {
		big := bytes.Repeat([]byte("a"), extract.MaxUploadSize+1)
		_, err := extract.Text("nda.txt", bytes.NewReader(big))
		Expect(err).To(MatchError(extract.ErrTooLarge))
	})
})
