package chunk_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/relay/pkg/chunk"
)

func extract(payload string) chunk.Fragment {
	c, err := chunk.Decode([]byte(payload))
	Expect(err).NotTo(HaveOccurred())
	return chunk.Extract(c)
}

var _ = Describe("Decode", func() {
	It("rejects malformed payloads", func() {
		_, err := chunk.Decode([]byte(`{"choices":[`))
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Extract", func() {
	It("reads the delta shape", func() {
		f := extract(`{"choices":[{"index":0,"delta":{"role":"assistant","content":"Hello"}}]}`)
		Expect(f.Shape).To(Equal(chunk.ShapeDelta))
		Expect(f.Text).To(Equal("Hello"))
		Expect(f.Terminal).To(BeFalse())
	})

	It("reads the message shape", func() {
		f := extract(`{"choices":[{"message":{"role":"assistant","content":"Full answer"}}]}`)
		Expect(f.Shape).To(Equal(chunk.ShapeMessage))
		Expect(f.Text).To(Equal("Full answer"))
	})

	It("prefers delta over message", func() {
		f := extract(`{"choices":[{"delta":{"content":"d"},"message":{"content":"m"}}]}`)
		Expect(f.Shape).To(Equal(chunk.ShapeDelta))
		Expect(f.Text).To(Equal("d"))
	})

	It("falls back to message when delta has no content", func() {
		f := extract(`{"choices":[{"delta":{"role":"assistant"},"message":{"content":"m"}}]}`)
		Expect(f.Shape).To(Equal(chunk.ShapeMessage))
	})

	It("yields an empty fragment without choices", func() {
		Expect(extract(`{"id":"gen-1"}`).Empty()).To(BeTrue())
		Expect(extract(`{"choices":[]}`).Empty()).To(BeTrue())
		Expect(extract(`{"choices":[{"delta":{}}]}`).Shape).To(Equal(chunk.ShapeNone))
	})

	It("marks finish_reason as terminal", func() {
		f := extract(`{"choices":[{"delta":{"content":"."},"finish_reason":"stop"}]}`)
		Expect(f.Terminal).To(BeTrue())
		Expect(f.FinishReason).To(Equal("stop"))
		Expect(f.Text).To(Equal("."))
	})

	It("ignores a null finish_reason", func() {
		Expect(extract(`{"choices":[{"delta":{"content":"a"},"finish_reason":null}]}`).Terminal).To(BeFalse())
	})

	It("turns provider errors into failed terminal fragments", func() {
		f := extract(`{"error":{"message":"Rate limit exceeded","code":429}}`)
		Expect(f.Failed()).To(BeTrue())
		Expect(f.Terminal).To(BeTrue())
		Expect(f.ErrorMessage).To(Equal("Rate limit exceeded"))
	})

	It("accepts a provider error given as a bare string", func() {
		f := extract(`{"error":"rate limited"}`)
		Expect(f.Failed()).To(BeTrue())
		Expect(f.Terminal).To(BeTrue())
		Expect(f.ErrorMessage).To(Equal("rate limited"))
	})

	It("falls back to a generic message for an empty provider error", func() {
		f := extract(`{"error":{}}`)
		Expect(f.Failed()).To(BeTrue())
		Expect(f.ErrorMessage).To(Equal("provider reported an error"))
	})

	It("treats a null error as no error", func() {
		f := extract(`{"error":null,"choices":[{"delta":{"content":"ok"}}]}`)
		Expect(f.Failed()).To(BeFalse())
		Expect(f.Text).To(Equal("ok"))
	})

	It("adds missing spaces after sentence punctuation once", func() {
		f := extract(`{"choices":[{"delta":{"content":"Done.Next!Why?Because"}}]}`)
		Expect(f.Text).To(Equal("Done. Next! Why? Because"))

		again := extract(`{"choices":[{"delta":{"content":"Done. Next"}}]}`)
		Expect(again.Text).To(Equal("Done. Next"))
	})

	It("leaves lowercase continuations and decimals alone", func() {
		Expect(extract(`{"choices":[{"delta":{"content":"v1.2 e.g.x"}}]}`).Text).To(Equal("v1.2 e.g.x"))
	})
})

var _ = Describe("Fragment", func() {
	It("copies with new text without touching the original", func() {
		orig := chunk.Fragment{Shape: chunk.ShapeDelta, Text: "abc", Terminal: true}
		cp := orig.WithText("c")
		Expect(orig.Text).To(Equal("abc"))
		Expect(cp.Text).To(Equal("c"))
		Expect(cp.Terminal).To(BeTrue())
	})
})
