package dedup_test

import (
	"fmt"
	"strings"
	"unicode/utf8"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/relay/pkg/chunk"
	"github.com/papercomputeco/relay/pkg/dedup"
)

func delta(text string) chunk.Fragment {
	return chunk.Fragment{Shape: chunk.ShapeDelta, Text: text}
}

var _ = Describe("Tracker", func() {
	var tracker *dedup.Tracker

	BeforeEach(func() {
		tracker = dedup.NewTracker()
	})

	feed := func(texts ...string) []string {
		out := make([]string, 0, len(texts))
		for _, t := range texts {
			f, _ := tracker.Process(delta(t))
			out = append(out, f.Text)
		}
		return out
	}

	Describe("exact duplicates", func() {
		It("suppresses a fragment repeated back to back", func() {
			first, res := tracker.Process(delta("quick "))
			Expect(first.Text).To(Equal("quick "))
			Expect(res).To(Equal(dedup.Passed))

			second, res := tracker.Process(delta("quick "))
			Expect(second.Text).To(BeEmpty())
			Expect(res).To(Equal(dedup.Suppressed))
		})

		It("suppresses text already contained in the accumulated output", func() {
			Expect(feed("The quick brown", " fox", "quick")).To(Equal([]string{"The quick brown", " fox", ""}))
		})

		It("does not update state for suppressed fragments", func() {
			feed("alpha ", "beta ")
			before := tracker.State()
			feed("beta ")
			Expect(tracker.State()).To(Equal(before))
		})

		It("lets two-character repeats through", func() {
			Expect(feed("ab", "ab")).To(Equal([]string{"ab", "ab"}))
		})

		It("accepts the known false positive on repeated words", func() {
			Expect(feed("go ", "go ")).To(Equal([]string{"go ", ""}))
		})

		It("keeps the suppressed fragment's other fields", func() {
			tracker.Process(delta("final words"))
			f, _ := tracker.Process(chunk.Fragment{Shape: chunk.ShapeDelta, Text: "final words", Terminal: true, FinishReason: "stop"})
			Expect(f.Text).To(BeEmpty())
			Expect(f.Terminal).To(BeTrue())
			Expect(f.FinishReason).To(Equal("stop"))
		})
	})

	Describe("trivial fragments", func() {
		It("passes whitespace and single characters through without touching state", func() {
			feed("hello there")
			before := tracker.State()

			Expect(feed(" ", "!", " a ", "\n")).To(Equal([]string{" ", "!", " a ", "\n"}))
			Expect(tracker.State()).To(Equal(before))
		})
	})

	Describe("boundary overlaps", func() {
		It("trims the overlapping head of the next fragment", func() {
			Expect(feed("hello wor", "world")).To(Equal([]string{"hello wor", "ld"}))
		})

		DescribeTable("trims overlaps of exact length",
			func(overlap string) {
				out := feed("lead: "+overlap, overlap+" tail")
				Expect(out[1]).To(Equal(" tail"))
			},
			Entry("3 characters", "xyz"),
			Entry("10 characters", "0123456789"),
			Entry("20 characters", "abcdefghijklmnopqrst"),
		)

		It("does not look further back than 20 characters", func() {
			overlap := "ABCDEFGHIJKLMNOPQRSTUVWXY"
			out := feed("lead: "+overlap, overlap+" tail")
			Expect(out[1]).To(Equal(overlap + " tail"))
		})

		It("prefers the largest overlap", func() {
			Expect(feed("xx abab", "abab cd")).To(Equal([]string{"xx abab", " cd"}))
		})

		It("stops at the first recent fragment that yields a trim", func() {
			Expect(feed("one abc", "two abcd", "abcdef")).To(Equal([]string{"one abc", "two abcd", "def"}))
		})

		It("ignores fragments of three characters or fewer", func() {
			Expect(feed("abc", "bcd")).To(Equal([]string{"abc", "bcd"}))
		})

		It("measures overlaps in characters, not bytes", func() {
			Expect(feed("héllo wör", "wörld")).To(Equal([]string{"héllo wör", "ld"}))
		})

		It("remembers the raw fragment and accumulates the trimmed text", func() {
			feed("hello wor", "world")
			state := tracker.State()
			Expect(state.AccumulatedText).To(Equal("hello world"))
			Expect(state.RecentFragments).To(Equal([]string{"hello wor", "world"}))
		})
	})

	Describe("bounds", func() {
		It("keeps only the last five raw fragments", func() {
			var texts []string
			for i := range 10 {
				texts = append(texts, fmt.Sprintf("fragment-%02d", i))
			}
			feed(texts...)

			Expect(tracker.State().RecentFragments).To(Equal(texts[5:]))
		})

		It("caps accumulated text after more than 10,000 characters", func() {
			filler := strings.Repeat("x", 50)
			capped := false
			prev := 0
			for i := range 220 {
				text := fmt.Sprintf("[%04d]%s", i, filler)
				f, _ := tracker.Process(delta(text))
				Expect(f.Text).To(Equal(text))

				acc := tracker.State().AccumulatedText
				n := utf8.RuneCountInString(acc)
				Expect(n).To(BeNumerically("<=", dedup.MaxAccumulated))
				if n < prev {
					capped = true
					Expect(n).To(BeNumerically("<=", dedup.KeepAccumulated+utf8.RuneCountInString(text)))
					Expect(acc).To(HaveSuffix(text))
				}
				prev = n
			}
			Expect(capped).To(BeTrue())
		})
	})

	Describe("ordering", func() {
		It("returns one output per input in input order", func() {
			in := []string{"The ", "quick ", "quick ", "brown fox", "fox jumps", "!"}
			Expect(feed(in...)).To(Equal([]string{"The ", "quick ", "", "brown fox", " jumps", "!"}))
		})
	})

	It("keeps sessions independent", func() {
		other := dedup.NewTracker()
		feed("shared text")
		f, _ := other.Process(delta("shared text"))
		Expect(f.Text).To(Equal("shared text"))
	})
})
