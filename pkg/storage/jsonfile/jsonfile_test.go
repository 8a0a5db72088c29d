package jsonfile_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/koziky/pkg/conversation"
	"github.com/papercomputeco/koziky/pkg/model"
	"github.com/papercomputeco/koziky/pkg/storage/jsonfile"
	"github.com/papercomputeco/koziky/pkg/storage/storagetest"
)

var _ = Describe("Driver", func() {
	storagetest.StorerBehaviors(func() conversation.Storer {
		d, err := jsonfile.NewDriver(filepath.Join(GinkgoT().TempDir(), "conversations.json"), nil)
		Expect(err).NotTo(HaveOccurred())
		return d
	})

	var (
		ctx  context.Context
		path string
	)

	BeforeEach(func() {
		ctx = context.Background()
		path = filepath.Join(GinkgoT().TempDir(), "nested", "conversations.json")
	})

	It("writes the list as a JSON array with the documented keys", func() {
		d, err := jsonfile.NewDriver(path, nil)
		Expect(err).NotTo(HaveOccurred())
		c := storagetest.NewConversation("hello", 1)
		Expect(d.SaveAll(ctx, []model.Conversation{c})).To(Succeed())

		data, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())

		var raw []map[string]any
		Expect(json.Unmarshal(data, &raw)).To(Succeed())
		Expect(raw).To(HaveLen(1))
		Expect(raw[0]).To(HaveKey("id"))
		Expect(raw[0]).To(HaveKey("title"))
		Expect(raw[0]).To(HaveKey("messages"))
		Expect(raw[0]).To(HaveKey("updated_at"))
	})

	It("reads a document written by another process", func() {
		doc := `[{"id":"c1","title":"Hi","messages":[{"id":"m1","role":"user","content":"Hi","image_url":"https://x/y.png"}],"updated_at":"2024-05-01T10:00:00Z"}]`
		Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
		Expect(os.WriteFile(path, []byte(doc), 0o600)).To(Succeed())

		d, err := jsonfile.NewDriver(path, nil)
		Expect(err).NotTo(HaveOccurred())
		convs, err := d.LoadAll(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(convs).To(HaveLen(1))
		Expect(convs[0].Messages[0].ImageRef).To(Equal("https://x/y.png"))
	})

	It("fails on a corrupt document", func() {
		Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
		Expect(os.WriteFile(path, []byte("{not json"), 0o600)).To(Succeed())

		d, err := jsonfile.NewDriver(path, nil)
		Expect(err).NotTo(HaveOccurred())
		_, err = d.LoadAll(ctx)
		Expect(err).To(HaveOccurred())
	})

	It("leaves no temp files behind", func() {
		d, err := jsonfile.NewDriver(path, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.SaveAll(ctx, []model.Conversation{storagetest.NewConversation("a", 1)})).To(Succeed())
		Expect(d.SaveAll(ctx, []model.Conversation{storagetest.NewConversation("b", 1)})).To(Succeed())

		entries, err := os.ReadDir(filepath.Dir(path))
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(1))
		Expect(entries[0].Name()).To(Equal("conversations.json"))
	})

	It("reports changes made by another writer", func() {
		d, err := jsonfile.NewDriver(path, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(d.SaveAll(ctx, nil)).To(Succeed())

		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		changed := make(chan struct{}, 8)
		Expect(d.Watch(watchCtx, func() { changed <- struct{}{} })).To(Succeed())

		other, err := jsonfile.NewDriver(path, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(other.SaveAll(ctx, []model.Conversation{storagetest.NewConversation("x", 1)})).To(Succeed())

		Eventually(changed, 2*time.Second).Should(Receive())
	})
})
