package blob_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/frahmantamala/ssoflow/internal/blob"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestBlob(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Blob Suite")
}

var _ = Describe("LocalStore", func() {
	var (
		ctx   context.Context
		root  string
		store *blob.LocalStore
	)

	BeforeEach(func() {
		var err error
		ctx = context.Background()
		root = GinkgoT().TempDir()
		store, err = blob.NewLocalStore(root, "https://files.example.com/blobs/", nil)
		Expect(err).NotTo(HaveOccurred())
	})

	It("stores and reads back a blob", func() {
		// Given
		key, err := blob.TicketKey(12, "receipt.pdf")
		Expect(err).NotTo(HaveOccurred())
		Expect(key).To(HavePrefix("tickets/12/"))
		Expect(key).To(HaveSuffix("-receipt.pdf"))

		// When
		obj, err := store.Put(ctx, key, strings.NewReader("%PDF-1.4"), 8, "")

		// Then
		Expect(err).NotTo(HaveOccurred())
		Expect(obj.Size).To(Equal(int64(8)))
		Expect(obj.ContentType).To(Equal("application/pdf"))

		rc, got, err := store.Get(ctx, key)
		Expect(err).NotTo(HaveOccurred())
		defer rc.Close()
		body, err := io.ReadAll(rc)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(body)).To(Equal("%PDF-1.4"))
		Expect(got.Size).To(Equal(int64(8)))
	})

	It("rejects a blob larger than the declared size and leaves nothing behind", func() {
		_, err := store.Put(ctx, "tickets/1/big.bin", strings.NewReader("0123456789"), 4, "")
		Expect(err).To(MatchError(blob.ErrTooLarge))

		_, _, err = store.Get(ctx, "tickets/1/big.bin")
		Expect(err).To(MatchError(blob.ErrNotFound))
		entries, err := os.ReadDir(filepath.Join(root, "tickets", "1"))
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(BeEmpty())
	})

	DescribeTable("rejects keys outside the root",
		func(key string) {
			_, err := store.Put(ctx, key, strings.NewReader("x"), 1, "")
			Expect(err).To(MatchError(blob.ErrInvalidKey))
		},
		Entry("parent traversal", "../escape.txt"),
		Entry("nested traversal", "tickets/../../escape.txt"),
		Entry("absolute", "/etc/passwd"),
		Entry("backslash", `tickets\1\x.txt`),
		Entry("empty", ""),
	)

	It("strips directories from uploaded file names", func() {
		key, err := blob.TicketKey(3, "../../etc/passwd")
		Expect(err).NotTo(HaveOccurred())
		Expect(key).To(HaveSuffix("-passwd"))
		Expect(key).NotTo(ContainSubstring(".."))

		_, err = blob.TicketKey(3, "  ")
		Expect(err).To(MatchError(blob.ErrInvalidKey))
	})

	It("deletes idempotently", func() {
		_, err := store.Put(ctx, "tickets/2/a.txt", strings.NewReader("a"), -1, "text/plain")
		Expect(err).NotTo(HaveOccurred())

		Expect(store.Delete(ctx, "tickets/2/a.txt")).To(Succeed())
		Expect(store.Delete(ctx, "tickets/2/a.txt")).To(Succeed())
		_, _, err = store.Get(ctx, "tickets/2/a.txt")
		Expect(err).To(MatchError(blob.ErrNotFound))
	})

	It("builds escaped public URLs", func() {
		Expect(store.URL("tickets/1/a b.txt")).To(Equal("https://files.example.com/blobs/tickets/1/a%20b.txt"))
	})
})
