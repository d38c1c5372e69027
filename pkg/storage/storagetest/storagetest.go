// Package storagetest holds the behaviour every storage.Driver must share, as
// ginkgo specs that driver packages run against their own constructor.
package storagetest

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/relay/pkg/llm"
	"github.com/papercomputeco/relay/pkg/storage"
)

// NewTranscript returns a completed transcript started at the given offset
// from a fixed base time.
func NewTranscript(id string, offset time.Duration) *storage.Transcript {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Add(offset)
	return &storage.Transcript{
		ID:    id,
		Model: "openai/gpt-4o-mini",
		Messages: []llm.Message{
			llm.NewTextMessage(llm.RoleSystem, "Be brief."),
			llm.NewTextMessage(llm.RoleUser, "Say hello"),
		},
		Response:        "Hello there",
		Outcome:         storage.OutcomeCompleted,
		Streaming:       true,
		ChunkCount:      4,
		EmittedCount:    3,
		SuppressedCount: 1,
		StartedAt:       started,
		CompletedAt:     started.Add(1500 * time.Millisecond),
	}
}

// DescribeDriver registers the shared driver specs. newDriver is called
// before each spec; the driver it returns is closed after it.
func DescribeDriver(name string, newDriver func() storage.Driver) bool {
	return Describe(name+" driver contract", func() {
		var (
			driver storage.Driver
			ctx    context.Context
		)

		BeforeEach(func() {
			ctx = context.Background()
			driver = newDriver()
		})

		AfterEach(func() {
			if driver != nil {
				Expect(driver.Close()).To(Succeed())
			}
		})

		Describe("Put and Get", func() {
			It("round-trips a transcript", func() {
				t := NewTranscript("t-1", 0)
				t.Outcome = storage.OutcomeFailed
				t.Detail = "upstream rejected request (status 401): invalid api key"
				t.TrimmedCount = 2

				isNew, err := driver.Put(ctx, t)
				Expect(err).NotTo(HaveOccurred())
				Expect(isNew).To(BeTrue())

				got, err := driver.Get(ctx, "t-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Model).To(Equal(t.Model))
				Expect(got.Messages).To(Equal(t.Messages))
				Expect(got.Response).To(Equal(t.Response))
				Expect(got.Outcome).To(Equal(storage.OutcomeFailed))
				Expect(got.Detail).To(Equal(t.Detail))
				Expect(got.Streaming).To(BeTrue())
				Expect(got.ChunkCount).To(Equal(4))
				Expect(got.EmittedCount).To(Equal(3))
				Expect(got.SuppressedCount).To(Equal(1))
				Expect(got.TrimmedCount).To(Equal(2))
				Expect(got.StartedAt).To(BeTemporally("==", t.StartedAt))
				Expect(got.Duration()).To(Equal(1500 * time.Millisecond))
			})

			It("ignores a second put of the same ID", func() {
				_, err := driver.Put(ctx, NewTranscript("dup", 0))
				Expect(err).NotTo(HaveOccurred())

				again := NewTranscript("dup", 0)
				again.Response = "changed"
				isNew, err := driver.Put(ctx, again)
				Expect(err).NotTo(HaveOccurred())
				Expect(isNew).To(BeFalse())

				got, err := driver.Get(ctx, "dup")
				Expect(err).NotTo(HaveOccurred())
				Expect(got.Response).To(Equal("Hello there"))
			})

			It("rejects invalid transcripts", func() {
				_, err := driver.Put(ctx, nil)
				Expect(err).To(HaveOccurred())

				bad := NewTranscript("", 0)
				_, err = driver.Put(ctx, bad)
				Expect(err).To(MatchError(ContainSubstring("id is required")))

				bad = NewTranscript("x", 0)
				bad.Outcome = "exploded"
				_, err = driver.Put(ctx, bad)
				Expect(err).To(MatchError(ContainSubstring("outcome is invalid")))
			})

			It("returns NotFoundError on a miss", func() {
				_, err := driver.Get(ctx, "missing")
				Expect(err).To(MatchError(storage.NotFoundError{ID: "missing"}))
			})
		})

		Describe("List", func() {
			BeforeEach(func() {
				for i := range 5 {
					t := NewTranscript(fmt.Sprintf("t-%d", i), time.Duration(i)*time.Minute)
					if i%2 == 1 {
						t.Outcome = storage.OutcomeCancelled
					}
					_, err := driver.Put(ctx, t)
					Expect(err).NotTo(HaveOccurred())
				}
			})

			It("returns newest first", func() {
				got, err := driver.List(ctx, storage.ListOptions{})
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(got)).To(Equal([]string{"t-4", "t-3", "t-2", "t-1", "t-0"}))
			})

			It("applies the limit", func() {
				got, err := driver.List(ctx, storage.ListOptions{Limit: 2})
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(got)).To(Equal([]string{"t-4", "t-3"}))
			})

			It("filters by outcome", func() {
				got, err := driver.List(ctx, storage.ListOptions{Outcome: storage.OutcomeCancelled})
				Expect(err).NotTo(HaveOccurred())
				Expect(ids(got)).To(Equal([]string{"t-3", "t-1"}))
			})
		})
	})
}

func ids(ts []*storage.Transcript) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		out = append(out, t.ID)
	}
	return out
}
