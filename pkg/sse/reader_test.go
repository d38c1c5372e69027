package sse

import (
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("EventReader", func() {
	next := func(r *EventReader) *Event {
		ev, err := r.Next()
		Expect(err).NotTo(HaveOccurred())
		return ev
	}

	It("parses relay events with names", func() {
		r := NewEventReader(strings.NewReader(
			"event: message\ndata: {\"content\":\"Hi\"}\n\n" +
				"event: done\ndata: {\"status\":\"complete\"}\n\n"))

		ev := next(r)
		Expect(ev.Name()).To(Equal("message"))
		Expect(ev.Data).To(Equal(`{"content":"Hi"}`))

		ev = next(r)
		Expect(ev.Name()).To(Equal("done"))

		Expect(next(r)).To(BeNil())
	})

	It("defaults the event name to message", func() {
		ev := next(NewEventReader(strings.NewReader("data: hello\n\n")))
		Expect(ev.Type).To(BeEmpty())
		Expect(ev.Name()).To(Equal("message"))
	})

	It("joins multiple data lines with a newline", func() {
		ev := next(NewEventReader(strings.NewReader("data: one\ndata: two\n\n")))
		Expect(ev.Data).To(Equal("one\ntwo"))
	})

	It("parses ids and ignores comments and unknown fields", func() {
		ev := next(NewEventReader(strings.NewReader(": keep-alive\nretry: 10\nid: 7\ndata: x\n\n")))
		Expect(ev.ID).To(Equal("7"))
		Expect(ev.Data).To(Equal("x"))
	})

	It("accepts CRLF line endings", func() {
		ev := next(NewEventReader(strings.NewReader("event: error\r\ndata: {}\r\n\r\n")))
		Expect(ev.Type).To(Equal("error"))
		Expect(ev.Data).To(Equal("{}"))
	})

	It("yields a trailing event without a blank line", func() {
		r := NewEventReader(strings.NewReader("data: unterminated"))
		Expect(next(r).Data).To(Equal("unterminated"))
		Expect(next(r)).To(BeNil())
	})

	It("returns nil for empty or blank input", func() {
		Expect(next(NewEventReader(strings.NewReader("")))).To(BeNil())
		Expect(next(NewEventReader(strings.NewReader("\n\n\n")))).To(BeNil())
	})
})
